package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oshokin/plgpack/internal/config"
	"github.com/oshokin/plgpack/internal/integrity"
	"github.com/oshokin/plgpack/internal/logger"
	"github.com/oshokin/plgpack/internal/service/packager"
	"github.com/oshokin/plgpack/internal/version"
)

var (
	// rootDir is the project checkout the build runs against.
	rootDir string
	// settingsPath to the settings YAML file.
	settingsPath string
	// logLevel is the minimum level that gets printed.
	logLevel string
	// compression overrides the compressor from settings.
	compression string
	// xzBinary overrides the xz executable.
	xzBinary string
	// force lets init overwrite an existing settings file.
	force bool

	errUnknownLogLevel = errors.New("unknown log level")
	errSettingsExist   = errors.New("settings file already exists, use --force to overwrite")

	// rootCmd builds the package when invoked without a subcommand.
	rootCmd = &cobra.Command{
		Use:   "plgpack",
		Short: "Build a plugin package and render its manifest.",
		Long: `Fetches the pinned upstream binary and checks its SHA-256, stages the plugin
tree, packs it into a compressed archive, records the archive hash in the build
config and renders the plugin manifest into the build and repository folders.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: applyLogLevel,
		RunE:              runBuild,
	}

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build the package and manifest (default).",
		Args:  cobra.NoArgs,
		RunE:  runBuild,
	}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default settings file into the project root.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify <file> <sha256>",
		Short: "Check a file against an expected SHA-256 digest.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := integrity.Verify(args[0], args[1]); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])

			return err
		},
	}
)

// Execute runs the plgpack CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, _ []string) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("compression") {
		settings.Package.Compression = compression
	}

	if flags.Changed("xz") {
		settings.Package.XZBinary = xzBinary
	}

	result, err := packager.Run(ctx, &packager.Options{
		Root:     rootDir,
		Settings: settings,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "package: %s\nsha256:  %s\n", result.Archive, result.PackageSHA256)

	return err
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := settingsPath
	if path == "" {
		path = filepath.Join(rootDir, config.DefaultSettingsFilename)
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s: %w", path, errSettingsExist)
	}

	if err := config.Save(path, config.Default()); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

	return err
}

// loadSettings reads the explicit settings file, or the one in the project
// root when present, or falls back to the defaults.
func loadSettings() (*config.Settings, error) {
	if settingsPath != "" {
		return config.Load(settingsPath)
	}

	path := filepath.Join(rootDir, config.DefaultSettingsFilename)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}

	return config.Load(path)
}

func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, logLevel)
	}

	logger.SetLevel(level)

	return nil
}

// addBuildFlags registers the flags shared by the default command and build.
func addBuildFlags(flags *pflag.FlagSet) {
	flags.StringVar(&compression, "compression", "", "compressor to use: xz or zstd (overrides settings)")
	flags.StringVar(&xzBinary, "xz", "", "path to the xz executable (overrides settings)")
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	persistent := rootCmd.PersistentFlags()
	persistent.StringVarP(&rootDir, "root", "r", ".", "project root directory")
	persistent.StringVarP(&settingsPath, "settings", "s", "", "path to settings file (default <root>/"+config.DefaultSettingsFilename+")")
	persistent.StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn or error")

	addBuildFlags(rootCmd.Flags())
	addBuildFlags(buildCmd.Flags())

	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing settings file")

	rootCmd.AddCommand(buildCmd, initCmd, verifyCmd)
}
