package updater

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/robot-updater/internal/config"
	"github.com/oshokin/robot-updater/internal/device"
	"github.com/oshokin/robot-updater/internal/flasher"
	"github.com/oshokin/robot-updater/internal/integrity"
	"github.com/oshokin/robot-updater/internal/logger"
	"github.com/oshokin/robot-updater/internal/release"
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Port overrides device resolution with an explicit serial port.
	Port string
	// Debug raises log verbosity for this run. It changes nothing else.
	Debug bool
	// DryRun walks the whole pipeline but skips the flash and reset steps.
	DryRun bool
	// ListPorts only reports the matching ports and stops.
	ListPorts bool
	// Out receives the port listing. Defaults to os.Stdout.
	Out io.Writer
}

// releaseSource retrieves release metadata and stages firmware binaries.
type releaseSource interface {
	Fetch(ctx context.Context) (*release.Metadata, error)
	Download(ctx context.Context, meta *release.Metadata, dir string) (*release.Image, error)
}

// toolProvider locates or provisions the flashing tool.
type toolProvider interface {
	Ensure(ctx context.Context) (*flasher.Tool, error)
}

// run holds the ephemeral state of a single update run.
// Callers go through Run(ctx, *Options) instead.
type run struct {
	cfg        *config.Config
	opts       *Options
	locator    device.Locator
	feed       releaseSource
	tools      toolProvider
	flasherFor func(tool *flasher.Tool) flasher.Flasher
	marker     string
	stagingDir string
}

// Run executes one update run and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "robot-updater")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Update run failed", "error", err)

		return err
	}

	return nil
}

// newRunner loads configuration, applies verbosity, claims the run marker,
// and wires the real pipeline components.
func newRunner(ctx context.Context, opts *Options) (*run, error) {
	if opts == nil {
		opts = &Options{}
	}

	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	applyLogLevel(cfg, opts)

	r := &run{
		cfg:     cfg,
		opts:    opts,
		locator: device.NewSerialLocator(),
		feed:    release.NewFetcher(cfg),
		tools:   flasher.NewProvisioner(cfg),
	}

	r.flasherFor = func(tool *flasher.Tool) flasher.Flasher {
		return flasher.NewEsptool(cfg, tool)
	}

	// Listing ports neither flashes nor touches the cache, so it may run
	// alongside an update.
	if !opts.ListPorts {
		if r.marker, err = acquireMarker(ctx, cfg); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// run executes the update sequence. Each step is logged and a failure in any
// step aborts the run tagged with that step; there are no automatic retries.
func (r *run) run(ctx context.Context) error {
	// Resolve the device first: with no device there is nothing to download for.
	candidates, err := r.locator.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover devices: %w", err)
	}

	if r.opts.ListPorts {
		return r.listPorts(candidates)
	}

	target, err := device.Resolve(candidates, r.opts.Port)
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}

	// Every step from here on logs against the chosen port.
	ctx = logger.WithKV(ctx, "port", target.Port)

	logger.InfoKV(ctx, "Selected device", "description", target.Description)

	// Ensure the flashing tool before spending bandwidth on firmware.
	tool, err := r.tools.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("ensure flashing tool: %w", err)
	}

	// Fetch the newest release and stage the binary.
	meta, err := r.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch release: %w", err)
	}

	logger.InfoKV(ctx, "Latest release",
		"version", meta.Version,
		"commit", meta.Commit,
		"size", humanize.IBytes(uint64(meta.Size)))

	r.stagingDir, err = os.MkdirTemp("", "robot-updater-")
	if err != nil {
		return fmt.Errorf("stage firmware: %w", err)
	}

	image, err := r.feed.Download(ctx, meta, r.stagingDir)
	if err != nil {
		return fmt.Errorf("download firmware: %w", err)
	}

	// Verify the digest. Nothing may touch the device before this passes.
	computed, err := integrity.Verify(image.Data, meta.SHA256)
	if err != nil {
		return fmt.Errorf("verify firmware: %w", err)
	}

	logger.InfoKV(ctx, "Firmware digest verified", "sha256", computed)

	if r.opts.DryRun {
		logger.InfoKV(ctx, "Dry run, skipping flash and reset", "version", meta.Version)

		return nil
	}

	// Flash the OTA partition.
	flash := r.flasherFor(tool)

	logger.InfoKV(ctx, "Flashing firmware",
		"offset", r.cfg.FlashOffset,
		"version", meta.Version)

	if err = flash.Flash(ctx, target.Port, image.Path); err != nil {
		return fmt.Errorf("flash firmware: %w", err)
	}

	// Reset so the device boots the new firmware.
	if err = flash.Reset(ctx, target.Port); err != nil {
		logger.Warn(ctx, "Firmware was written but the device did not restart, power-cycle it manually")

		return fmt.Errorf("reset device: %w", err)
	}

	logger.InfoKV(ctx, "Update completed", "version", meta.Version)

	return nil
}

// listPorts prints the matching ports without downloading or flashing.
func (r *run) listPorts(candidates []device.Candidate) error {
	if len(candidates) == 0 {
		return device.ErrNotFound
	}

	for _, candidate := range candidates {
		fmt.Fprintln(r.opts.Out, candidate.String())
	}

	return nil
}

// cleanup removes the run marker and the staged firmware.
func (r *run) cleanup(ctx context.Context) {
	if r.marker != "" {
		if _, err := os.Stat(r.marker); err == nil {
			_ = os.Remove(r.marker)
		}
	}

	if r.stagingDir != "" {
		if _, err := os.Stat(r.stagingDir); err == nil {
			_ = os.RemoveAll(r.stagingDir)
		}
	}

	logger.Debug(ctx, "Run resources released")
}

// applyLogLevel raises verbosity for the run; the debug flag wins over the
// configured level.
func applyLogLevel(cfg *config.Config, opts *Options) {
	if opts.Debug {
		logger.SetLevel(zapcore.DebugLevel)

		return
	}

	if cfg.LogLevel == "" {
		return
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}
}
