package flasher

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/dustin/go-humanize"

	"github.com/oshokin/robot-updater/internal/config"
	"github.com/oshokin/robot-updater/internal/logger"
)

const (
	// esptoolScript is the canonical script name of the flashing tool.
	esptoolScript = "esptool.py"

	// esptoolBinary is the native binary name of a pip-installed tool.
	esptoolBinary = "esptool"

	// esptoolDownloadURL is the official distribution of the script form.
	esptoolDownloadURL = "https://raw.githubusercontent.com/espressif/esptool/master/esptool.py"

	// toolFileMode makes the installed script executable.
	toolFileMode os.FileMode = 0o755

	// toolChecksumFunction hashes the downloaded tool before install.
	toolChecksumFunction crypto.Hash = crypto.SHA256
)

var (
	errBadToolStatus  = errors.New("unexpected http status")
	errNotRegularFile = errors.New("not a regular file")
)

// ProvisionError reports that the flashing tool could not be located or
// fetched. Nothing has been written to any device when it is returned.
type ProvisionError struct {
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision flashing tool: %v", e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Tool is a provisioned flashing capability. Argv is the command prefix that
// invokes it: interpreter plus script for the script form, or just the
// executable for a native install.
type Tool struct {
	// Path is the tool location on disk.
	Path string
	// Argv is the invocation prefix.
	Argv []string
}

// Provisioner locates the flashing tool, fetching it on demand. The search
// order is: explicit configured path, PATH, the PlatformIO package location,
// a previously cached copy, and finally a download into the cache directory.
type Provisioner struct {
	cfg         *config.Config
	client      *http.Client
	downloadURL string
}

// ProvisionOption customizes a Provisioner, mostly for tests.
type ProvisionOption func(*Provisioner)

// WithDownloadURL overrides the tool distribution URL.
func WithDownloadURL(url string) ProvisionOption {
	return func(p *Provisioner) {
		p.downloadURL = url
	}
}

// WithHTTPClient overrides the HTTP client used for the tool download.
func WithHTTPClient(client *http.Client) ProvisionOption {
	return func(p *Provisioner) {
		p.client = client
	}
}

// NewProvisioner returns a provisioner bound to the given configuration.
func NewProvisioner(cfg *config.Config, opts ...ProvisionOption) *Provisioner {
	p := &Provisioner{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		downloadURL: esptoolDownloadURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Ensure locates the flashing tool or provisions one into the cache
// directory. Any failure surfaces as a *ProvisionError.
func (p *Provisioner) Ensure(ctx context.Context) (*Tool, error) {
	logger.Info(ctx, "Looking for the flashing tool")

	if p.cfg.EsptoolPath != "" {
		tool, err := p.explicitTool()
		if err != nil {
			return nil, &ProvisionError{Err: err}
		}

		logger.InfoKV(ctx, "Using configured flashing tool", "path", tool.Path)

		return tool, nil
	}

	if tool := p.fromPath(ctx); tool != nil {
		return tool, nil
	}

	if tool := p.fromPlatformIO(ctx); tool != nil {
		return tool, nil
	}

	cacheDir, err := p.cfg.ResolveCacheDir()
	if err != nil {
		return nil, &ProvisionError{Err: err}
	}

	cached := filepath.Join(cacheDir, esptoolScript)
	if usableTool(cached) {
		logger.InfoKV(ctx, "Using cached flashing tool", "path", cached)

		return p.scriptTool(cached), nil
	}

	tool, err := p.fetchAndInstall(ctx, cached)
	if err != nil {
		return nil, &ProvisionError{Err: err}
	}

	return tool, nil
}

// explicitTool resolves the tool path pinned in the configuration. A pinned
// path that is missing or not a regular file is an error, not a reason to
// search elsewhere.
func (p *Provisioner) explicitTool() (*Tool, error) {
	path := p.cfg.EsptoolPath

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("configured esptool_path: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("configured esptool_path %s: %w", path, errNotRegularFile)
	}

	if filepath.Ext(path) == ".py" {
		return p.scriptTool(path), nil
	}

	return &Tool{Path: path, Argv: []string{path}}, nil
}

// fromPath looks for the tool on PATH, preferring the script form.
func (p *Provisioner) fromPath(ctx context.Context) *Tool {
	if path, err := exec.LookPath(esptoolScript); err == nil {
		logger.InfoKV(ctx, "Found flashing tool on PATH", "path", path)

		return p.scriptTool(path)
	}

	if path, err := exec.LookPath(esptoolBinary); err == nil {
		logger.InfoKV(ctx, "Found flashing tool on PATH", "path", path)

		return &Tool{Path: path, Argv: []string{path}}
	}

	return nil
}

// fromPlatformIO looks for the tool inside an existing PlatformIO install.
func (p *Provisioner) fromPlatformIO(ctx context.Context) *Tool {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	path := filepath.Join(home, ".platformio", "packages", "tool-esptoolpy", esptoolScript)
	if !usableTool(path) {
		return nil
	}

	logger.InfoKV(ctx, "Found flashing tool in PlatformIO packages", "path", path)

	return p.scriptTool(path)
}

// fetchAndInstall downloads the script form of the tool and installs it at
// target.
func (p *Provisioner) fetchAndInstall(ctx context.Context, target string) (*Tool, error) {
	logger.InfoKV(ctx, "Downloading the flashing tool", "url", p.downloadURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.downloadURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", p.downloadURL, response.Status, errBadToolStatus)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	if err = install(body, target); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Installed the flashing tool",
		"path", target,
		"size", humanize.IBytes(uint64(len(body))))

	return p.scriptTool(target), nil
}

// scriptTool wraps a script path into the interpreter-prefixed invocation.
func (p *Provisioner) scriptTool(path string) *Tool {
	return &Tool{Path: path, Argv: []string{p.cfg.Python, path}}
}

// usableTool reports whether path holds a plausible tool: a regular file with
// content. A zero-byte leftover from an interrupted install fails the check
// and the tool is fetched again.
func usableTool(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// install writes the tool through go-update: the digest of the written bytes
// is verified and the file is swapped in place, so a torn write can never
// leave a half-provisioned tool behind.
func install(body []byte, target string) error {
	var created bool

	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(filepath.Clean(target))
		if createErr != nil {
			return createErr
		}

		if closeErr := placeholder.Close(); closeErr != nil {
			return closeErr
		}

		created = true
	}

	checksum := sha256.Sum256(body)

	err := goupdate.Apply(bytes.NewReader(body), goupdate.Options{
		TargetPath: target,
		TargetMode: toolFileMode,
		Checksum:   checksum[:],
		Hash:       toolChecksumFunction,
	})
	if err != nil {
		// The empty placeholder must not survive a failed install, a later
		// run would take it for a cached tool.
		if created {
			_ = os.Remove(target)
		}

		return err
	}

	// go-update keeps the previous file around as .old; there is nothing
	// worth keeping from before the install.
	oldFile := target + ".old"
	if _, err = os.Stat(oldFile); err == nil {
		_ = os.Remove(oldFile)
	}

	return nil
}
