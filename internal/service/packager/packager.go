package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/plgpack/internal/archive"
	"github.com/oshokin/plgpack/internal/atomicfile"
	"github.com/oshokin/plgpack/internal/config"
	"github.com/oshokin/plgpack/internal/domain/release"
	"github.com/oshokin/plgpack/internal/fetch"
	"github.com/oshokin/plgpack/internal/integrity"
	"github.com/oshokin/plgpack/internal/logger"
	"github.com/oshokin/plgpack/internal/render"
	"github.com/oshokin/plgpack/internal/repository/buildconfig"
	"github.com/oshokin/plgpack/internal/tree"
)

const (
	// packageDirName holds the staging root inside the build directory.
	packageDirName = "package"
	// stagingDirName is the archive root inside the package directory.
	stagingDirName = "root"
	// pluginDirName receives the rendered manifest inside the build directory.
	pluginDirName = "plugin"

	outputDirMode = 0o755
	manifestMode  = 0o644
	loggerName    = "plgpack"
)

var (
	// errSettingsRequired is returned when Options carry no settings.
	errSettingsRequired = errors.New("settings are required")
	// errHashNotPersisted is returned when the reloaded build config lost the package hash.
	errHashNotPersisted = errors.New("package hash did not round-trip through the build config")
	// errManifestsDiffer is returned when the two published manifests are not identical.
	errManifestsDiffer = errors.New("published manifests differ")
)

// Options contains inputs for the packaging pipeline.
type Options struct {
	// Root is the project root all relative settings paths resolve against.
	Root string
	// Settings describe the plugin layout.
	Settings *config.Settings
	// Fetcher overrides the HTTP client used for the upstream binary.
	Fetcher Fetcher
	// Compressor overrides the compressor selected by Settings.
	Compressor archive.Compressor
	// Store overrides the file-backed build config repository.
	Store buildconfig.Repository
}

// Result describes a successful build.
type Result struct {
	// Archive is the path of the produced package.
	Archive string
	// PackageSHA256 is the hex digest of Archive.
	PackageSHA256 string
	// Manifests lists the rendered manifest paths, build copy first.
	Manifests []string
	// Duration is the wall time of the build.
	Duration time.Duration
}

// layout holds absolute paths derived from the settings.
type layout struct {
	buildDir           string
	packageDir         string
	stagingRoot        string
	pluginStage        string
	pluginOutDir       string
	binary             string
	sourceDir          string
	configFile         string
	templateFile       string
	buildManifest      string
	repositoryDir      string
	repositoryManifest string
}

func newLayout(root string, settings *config.Settings) layout {
	buildDir := filepath.Join(root, settings.BuildDir)
	packageDir := filepath.Join(buildDir, packageDirName)
	stagingRoot := filepath.Join(packageDir, stagingDirName)
	pluginOutDir := filepath.Join(buildDir, pluginDirName)
	repositoryDir := filepath.Join(root, settings.RepositoryManifestDir)

	return layout{
		buildDir:           buildDir,
		packageDir:         packageDir,
		stagingRoot:        stagingRoot,
		pluginStage:        filepath.Join(stagingRoot, settings.InstallPath),
		pluginOutDir:       pluginOutDir,
		binary:             filepath.Join(buildDir, settings.Upstream.Binary),
		sourceDir:          filepath.Join(root, settings.SourceDir),
		configFile:         filepath.Join(root, settings.ConfigFile),
		templateFile:       filepath.Join(root, settings.TemplateFile),
		buildManifest:      filepath.Join(pluginOutDir, settings.ManifestName),
		repositoryDir:      repositoryDir,
		repositoryManifest: filepath.Join(repositoryDir, settings.ManifestName),
	}
}

// pipeline carries one build from Init to Done.
type pipeline struct {
	settings *config.Settings
	paths    layout
	fetcher  Fetcher
	builder  *archive.Builder
	store    buildconfig.Repository
	lock     *buildLock

	state  State
	cfg    *release.BuildConfig
	result *Result
}

// Run executes the packaging pipeline.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, loggerName)

	p, err := newPipeline(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize packager: %w", err)
	}

	return p.run(ctx)
}

func newPipeline(opts *Options) (*pipeline, error) {
	if opts == nil || opts.Settings == nil {
		return nil, errSettingsRequired
	}

	if err := config.Validate(opts.Settings); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	settings := opts.Settings
	paths := newLayout(root, settings)

	compressor := opts.Compressor
	if compressor == nil {
		compressor, err = archive.NewCompressor(settings.Package.Compression, settings.Package.XZBinary)
		if err != nil {
			return nil, err
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.WithTimeout(settings.Upstream.Timeout))
	}

	store := opts.Store
	if store == nil {
		store = buildconfig.NewFileRepository(paths.configFile)
	}

	return &pipeline{
		settings: settings,
		paths:    paths,
		fetcher:  fetcher,
		builder:  archive.NewBuilder(compressor),
		store:    store,
		state:    StateInit,
		result:   new(Result),
	}, nil
}

func (p *pipeline) run(ctx context.Context) (*Result, error) {
	started := time.Now()

	logger.InfoKV(ctx, "Starting build", "plugin", p.settings.Name, "build_dir", p.paths.buildDir)

	defer func() {
		p.lock.release(ctx)
	}()

	steps := []struct {
		stage Stage
		next  State
		run   func(context.Context) error
	}{
		{StageSetup, StateDirsReady, p.setup},
		{StageFetch, StateFetchedVerified, p.fetchAndVerify},
		{StageArchive, StateArchived, p.archiveAndHash},
		{StagePublish, StatePublished, p.renderAndPublish},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(ctx, step.stage, err)
		}

		stageCtx := logger.WithKV(ctx, "stage", step.stage.String())

		if err := step.run(stageCtx); err != nil {
			return nil, p.fail(ctx, step.stage, err)
		}

		p.state = step.next
		logger.DebugKV(stageCtx, "Stage completed", "state", p.state.String())
	}

	p.state = StateDone
	p.result.Duration = time.Since(started)

	logger.InfoKV(ctx, "Build completed",
		"archive", p.result.Archive,
		"package_sha256", p.result.PackageSHA256,
		"duration", p.result.Duration.Round(time.Millisecond))

	return p.result, nil
}

func (p *pipeline) fail(ctx context.Context, stage Stage, err error) error {
	p.state = StateFailed

	logger.ErrorKV(ctx, "Build failed", "stage", stage.String(), "error", err)

	return &StageError{Stage: stage, Err: err}
}

// setup loads the build config, then creates the output directories and takes the build lock.
func (p *pipeline) setup(ctx context.Context) error {
	cfg, err := p.store.Load(ctx)
	if err != nil {
		return err
	}

	p.cfg = cfg

	logger.InfoKV(ctx, "Build config loaded",
		"version", cfg.Version,
		"upstream_version", cfg.UpstreamVersion,
		"package_version", cfg.PackageVersion)

	for _, dir := range []string{p.paths.buildDir, p.paths.packageDir, p.paths.pluginOutDir} {
		if err = os.MkdirAll(dir, outputDirMode); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	lock, err := acquireLock(ctx, p.paths.buildDir)
	if err != nil {
		return err
	}

	p.lock = lock

	return nil
}

// fetchAndVerify downloads the upstream binary and gates it on the pinned digest.
func (p *pipeline) fetchAndVerify(ctx context.Context) error {
	url, err := render.Render(p.settings.Upstream.URL, p.cfg.Substitutions())
	if err != nil {
		return fmt.Errorf("render upstream url: %w", err)
	}

	logger.InfoKV(ctx, "Fetching upstream binary", "url", url, "destination", p.paths.binary)

	if err = p.fetcher.Fetch(ctx, url, p.paths.binary); err != nil {
		return err
	}

	if err = integrity.Verify(p.paths.binary, p.cfg.UpstreamSHA256); err != nil {
		if errors.Is(err, integrity.ErrMismatch) {
			if removeErr := os.Remove(p.paths.binary); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				logger.WarnKV(ctx, "Failed to remove rejected binary", "path", p.paths.binary, "error", removeErr)
			}
		}

		return err
	}

	logger.InfoKV(ctx, "Upstream binary verified", "sha256", p.cfg.UpstreamSHA256)

	return nil
}

// archiveAndHash stages the plugin tree, archives it and records the archive digest.
func (p *pipeline) archiveAndHash(ctx context.Context) error {
	if err := os.RemoveAll(p.paths.stagingRoot); err != nil {
		return fmt.Errorf("remove stale staging tree: %w", err)
	}

	if err := tree.Assemble(p.paths.sourceDir, p.paths.pluginStage, p.settings.Package.Directories); err != nil {
		return err
	}

	for _, link := range p.settings.Package.Symlinks {
		if err := tree.CreateSymlink(p.paths.pluginStage, link.Link, link.Target); err != nil {
			return err
		}
	}

	if err := tree.ApplyPermissions(p.paths.pluginStage, p.settings.Package.ScriptSuffix); err != nil {
		return err
	}

	if err := tree.VerifyRequiredFiles(p.paths.pluginStage, p.settings.Package.RequiredFiles); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Package contents verified", "required_files", len(p.settings.Package.RequiredFiles))

	name, err := render.Render(p.settings.Package.ArchiveName, p.cfg.Substitutions())
	if err != nil {
		return fmt.Errorf("render archive name: %w", err)
	}

	archivePath := filepath.Join(p.paths.buildDir, name+p.builder.Extension())

	logger.InfoKV(ctx, "Creating archive", "path", archivePath)

	if err = p.builder.Build(ctx, p.paths.stagingRoot, archivePath); err != nil {
		return err
	}

	digest, err := integrity.DigestFile(archivePath)
	if err != nil {
		return p.discardArchive(ctx, archivePath, err)
	}

	updated := p.cfg.Clone()
	updated.PackageSHA256 = digest

	if err = p.store.Save(ctx, updated); err != nil {
		return p.discardArchive(ctx, archivePath, err)
	}

	reloaded, err := p.store.Load(ctx)
	if err != nil {
		return p.discardArchive(ctx, archivePath, err)
	}

	if reloaded.PackageSHA256 != digest {
		return p.discardArchive(ctx, archivePath,
			fmt.Errorf("%w: want %s, got %q", errHashNotPersisted, digest, reloaded.PackageSHA256))
	}

	p.cfg = reloaded
	p.result.Archive = archivePath
	p.result.PackageSHA256 = digest

	logger.InfoKV(ctx, "Archive hashed", "package_sha256", digest)

	return nil
}

// discardArchive removes an archive whose digest could not be recorded.
func (p *pipeline) discardArchive(ctx context.Context, path string, cause error) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove unrecorded archive", "path", path, "error", err)
	}

	return cause
}

// renderAndPublish renders the manifest and writes it to both locations.
func (p *pipeline) renderAndPublish(ctx context.Context) error {
	template, err := os.ReadFile(p.paths.templateFile)
	if err != nil {
		return fmt.Errorf("read manifest template: %w", err)
	}

	manifest, err := render.Render(string(template), p.cfg.Substitutions())
	if err != nil {
		return fmt.Errorf("render manifest: %w", err)
	}

	if err = atomicfile.Write(p.paths.buildManifest, []byte(manifest), manifestMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err = os.MkdirAll(p.paths.repositoryDir, outputDirMode); err != nil {
		return fmt.Errorf("create %s: %w", p.paths.repositoryDir, err)
	}

	if err = atomicfile.Copy(p.paths.buildManifest, p.paths.repositoryManifest, manifestMode); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}

	if err = sameContents(p.paths.buildManifest, p.paths.repositoryManifest); err != nil {
		return err
	}

	p.result.Manifests = []string{p.paths.buildManifest, p.paths.repositoryManifest}

	logger.InfoKV(ctx, "Manifest published", "path", p.paths.repositoryManifest)

	return nil
}

func sameContents(a, b string) error {
	first, err := os.ReadFile(a)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	second, err := os.ReadFile(b)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	if !bytes.Equal(first, second) {
		return fmt.Errorf("%w: %s and %s", errManifestsDiffer, a, b)
	}

	return nil
}
