package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/robot-updater/internal/config"
	"github.com/oshokin/robot-updater/internal/service/updater"
	"github.com/oshokin/robot-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// port overrides device discovery with an explicit serial port.
	port string
	// debug raises log verbosity for this run.
	debug bool
	// dryRun stops the run right before the flash step.
	dryRun bool
	// listPorts prints the matching serial ports instead of updating.
	listPorts bool

	// rootCmd represents the base command for flashing robot firmware.
	rootCmd = &cobra.Command{
		Use:   "robot-updater",
		Short: "Download the newest robot firmware and flash it over USB.",
		Long: `Updates the robot controller with the newest published firmware.

Finds the controller on a USB serial port and downloads the newest release
from the firmware feed. The image is flashed to the OTA partition with esptool
only after its SHA-256 digest matches the feed metadata, and the device is
restarted afterwards so it boots the new firmware.

The flashing tool is looked up on this machine (configured path, PATH,
PlatformIO packages) and downloaded into the cache directory when absent.
Without a settings file the updater runs with built-in defaults.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &updater.Options{
				ConfigPath: configPath,
				Port:       port,
				Debug:      debug,
				DryRun:     dryRun,
				ListPorts:  listPorts,
			}

			return updater.Run(ctx, options)
		},
	}
)

// Execute runs the robot-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	// The config default stays empty so a missing default settings file is
	// not an error, only an explicitly passed path must exist.
	rootCmd.Flags().
		StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.Flags().StringVarP(&port, "port", "p", "", "serial port of the robot controller, skips discovery")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "download and verify the firmware but do not flash it")
	rootCmd.Flags().BoolVarP(&listPorts, "list-ports", "l", false, "list matching serial ports and exit")
}
