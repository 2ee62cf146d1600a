package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/plgpack/internal/logger"
)

// LockFilename is the build lock created inside the build directory.
const LockFilename = ".plgpack.lock"

const lockFileMode = 0o644

// ErrBuildInProgress is returned when another live process holds the build lock.
var ErrBuildInProgress = errors.New("another build is running in this build directory")

// buildLock marks a build directory as owned by the current process.
type buildLock struct {
	path string
}

// acquireLock creates the lock marker in dir. A marker left by a process
// that no longer exists is replaced.
func acquireLock(ctx context.Context, dir string) (*buildLock, error) {
	path := filepath.Join(dir, LockFilename)

	for range 2 {
		err := createLock(path)
		if err == nil {
			logger.DebugKV(ctx, "Build lock acquired", "path", path)

			return &buildLock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create build lock: %w", err)
		}

		pid, alive := lockOwner(path)
		if alive {
			return nil, fmt.Errorf("%w: pid %d holds %s", ErrBuildInProgress, pid, path)
		}

		logger.InfoKV(ctx, "Removing stale build lock", "path", path, "pid", pid)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale build lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: %s keeps reappearing", ErrBuildInProgress, path)
}

// release removes the marker. Safe to call on a nil lock.
func (l *buildLock) release(ctx context.Context) {
	if l == nil {
		return
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove build lock", "path", l.path, "error", err)
	}
}

func createLock(path string) error {
	file, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFileMode)
	if err != nil {
		return err
	}

	_, err = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
	}

	return err
}

// lockOwner reads the PID recorded in the marker and reports whether that process is alive.
// Unreadable markers count as stale.
func lockOwner(path string) (int, bool) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	if pid == os.Getpid() {
		return pid, true
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Can't tell, assume it is still running.
		return pid, true
	}

	return pid, process != nil
}
