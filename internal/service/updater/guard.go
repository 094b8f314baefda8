package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/robot-updater/internal/config"
	"github.com/oshokin/robot-updater/internal/logger"
)

const (
	// markerFilename marks an update run in progress so two runs never flash
	// the same device at once.
	markerFilename = "robot-updater-marker.bin"

	// markerLifetime is the age after which a leftover marker is treated as
	// stale. It must exceed the worst-case run (download plus a full flash),
	// otherwise a second run would tear down a healthy one mid-flash.
	markerLifetime = 5 * time.Minute

	// baseExecutable is the binary name update runs execute under.
	baseExecutable = "robot-updater"
)

var errAlreadyRunning = errors.New("another update run is already in progress")

// acquireMarker claims the run marker in the cache directory, recovering
// from stale markers left behind by crashed runs.
func acquireMarker(ctx context.Context, cfg *config.Config) (string, error) {
	cacheDir, err := cfg.ResolveCacheDir()
	if err != nil {
		return "", err
	}

	path := filepath.Join(cacheDir, markerFilename)

	logger.Debug(ctx, "Checking for the presence of a run marker")

	if isRunActive(ctx, path) {
		return "", errAlreadyRunning
	}

	marker, err := os.Create(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	if err = marker.Close(); err != nil {
		return "", err
	}

	return path, nil
}

// isRunActive checks the marker file, clearing it when it looks stale.
func isRunActive(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Infof(ctx, "Unable to read run marker: %v", err)
		}

		return false
	}

	if time.Since(info.ModTime()) <= markerLifetime {
		return true
	}

	logger.Info(ctx, "Found a stale run marker, attempting cleanup")

	if err = terminateStaleRuns(); err != nil {
		return true
	}

	if err = os.Remove(path); err != nil {
		return true
	}

	return false
}

// terminateStaleRuns kills leftover updater processes from a crashed run.
func terminateStaleRuns() error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()
	name := executableName()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != name {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}

// executableName returns the platform-specific updater binary name.
func executableName() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return baseExecutable + ".exe"
	}

	return baseExecutable
}
