package flasher

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/robot-updater/internal/config"
	"github.com/oshokin/robot-updater/internal/logger"
)

const (
	// flashTimeout bounds a single write_flash subprocess.
	flashTimeout = 2 * time.Minute

	// resetTimeout bounds the reset subprocess.
	resetTimeout = 10 * time.Second
)

// Flasher writes firmware images to a device and restarts it. Callers only
// see the port and the staged image path; the transport to the bootloader is
// the implementation's business.
type Flasher interface {
	// Flash writes the image at imagePath to the OTA partition of the
	// device on port.
	Flash(ctx context.Context, port, imagePath string) error
	// Reset restarts the device on port so it boots into the new firmware.
	Reset(ctx context.Context, port string) error
}

// FlashError reports a failed flash invocation. Output carries the combined
// tool output so the failure can be diagnosed without re-running.
type FlashError struct {
	// Port is the serial port that was being flashed.
	Port string
	// Output is the combined stdout/stderr of the tool.
	Output string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *FlashError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("flash %s: %v", e.Port, e.Err)
	}

	return fmt.Sprintf("flash %s: %v: %s", e.Port, e.Err, strings.TrimSpace(e.Output))
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *FlashError) Unwrap() error {
	return e.Err
}

// ResetError reports a device that received the firmware but could not be
// restarted. The image on the device is already valid when this is returned.
type ResetError struct {
	// Port is the serial port of the flashed device.
	Port string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ResetError) Error() string {
	return fmt.Sprintf("reset %s: %v", e.Port, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ResetError) Unwrap() error {
	return e.Err
}

// Esptool runs the esptool flashing tool as a subprocess with the
// chip/baud/offset settings from the configuration.
type Esptool struct {
	cfg  *config.Config
	tool *Tool
}

// NewEsptool returns a Flasher driving the provisioned tool.
func NewEsptool(cfg *config.Config, tool *Tool) *Esptool {
	return &Esptool{cfg: cfg, tool: tool}
}

// Flash implements Flasher.
func (e *Esptool) Flash(ctx context.Context, port, imagePath string) error {
	args := e.deviceArgs(port)
	args = append(args, "write_flash", e.cfg.FlashOffset, imagePath)

	output, err := e.run(ctx, flashTimeout, args)
	if err != nil {
		return &FlashError{Port: port, Output: output, Err: err}
	}

	return nil
}

// Reset implements Flasher.
func (e *Esptool) Reset(ctx context.Context, port string) error {
	args := e.deviceArgs(port)
	args = append(args, "run")

	if _, err := e.run(ctx, resetTimeout, args); err != nil {
		return &ResetError{Port: port, Err: err}
	}

	return nil
}

// deviceArgs builds the tool arguments shared by every subcommand.
func (e *Esptool) deviceArgs(port string) []string {
	return append(append([]string{}, e.tool.Argv[1:]...),
		"--chip", e.cfg.Chip,
		"--port", port,
		"--baud", strconv.Itoa(e.cfg.BaudRate),
	)
}

// run executes one tool invocation with a hard deadline and returns its
// combined output. A context cancellation kills the subprocess.
func (e *Esptool) run(ctx context.Context, timeout time.Duration, args []string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.DebugKV(ctx, "Running flashing tool",
		"command", e.tool.Argv[0],
		"args", strings.Join(args, " "))

	cmd := exec.CommandContext(cmdCtx, e.tool.Argv[0], args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.DebugKV(ctx, "Flashing tool failed",
			"error", err,
			"output", strings.TrimSpace(string(output)))

		return string(output), err
	}

	logger.DebugKV(ctx, "Flashing tool finished",
		"output", strings.TrimSpace(string(output)))

	return string(output), nil
}
