package release

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/robot-updater/internal/config"
	"github.com/oshokin/robot-updater/internal/logger"
)

const (
	// defaultBaseURL is the raw content host the release feed is published on.
	defaultBaseURL = "https://raw.githubusercontent.com"

	// latestPointerPath locates the "latest" pointer document under the feed root.
	latestPointerPath = "/releases/latest.json"

	// sha256HexLength is the length of a SHA-256 digest in hex characters.
	sha256HexLength = 64

	// imageFileMode is the permission mode for staged firmware images.
	imageFileMode os.FileMode = 0o600
)

var (
	errBadHTTPStatus   = errors.New("unexpected http status")
	errMissingField    = errors.New("metadata field missing")
	errMalformedDigest = errors.New("declared digest is not a sha-256 hex string")
	errSizeMismatch    = errors.New("binary size does not match metadata")
)

// DownloadError reports a failed retrieval from the release feed: network
// failures, non-200 responses, malformed metadata and truncated binaries all
// surface through it.
type DownloadError struct {
	// URL is the document or binary that failed to download.
	URL string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Metadata describes one published firmware build. It is immutable once
// fetched and lives only for the duration of a single update run.
type Metadata struct {
	// Version is the human-readable version identifier of the build.
	Version string
	// Commit is the short git revision the build was produced from.
	Commit string
	// Filename is the name of the firmware binary.
	Filename string
	// SHA256 is the declared digest of the binary, hex-encoded.
	SHA256 string
	// Size is the declared size of the binary in bytes.
	Size int64
	// DownloadURL is where the binary itself is retrieved from.
	DownloadURL string
}

// Image is a firmware binary staged on disk for one update run.
type Image struct {
	// Path is the staged location of the binary.
	Path string
	// Data is the raw payload, retained for integrity verification.
	Data []byte
}

// Size returns the resolved size of the payload in bytes.
func (i *Image) Size() int64 {
	return int64(len(i.Data))
}

// latestPointer is the wire form of the "latest" pointer document.
type latestPointer struct {
	LatestVersion  string `json:"latest_version"`
	LatestFirmware string `json:"latest_firmware"`
	DownloadURL    string `json:"download_url"`
	InfoURL        string `json:"info_url"`
}

// releaseInfo is the wire form of the detailed metadata document.
type releaseInfo struct {
	Version  string `json:"version"`
	GitHash  string `json:"git_hash"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256"`
}

// Fetcher retrieves release metadata and firmware binaries for a fixed
// repository and branch. The coordinates are set at construction and never
// change afterwards.
type Fetcher struct {
	repository string
	branch     string
	baseURL    string
	client     *http.Client
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithBaseURL overrides the content host, primarily for tests.
func WithBaseURL(baseURL string) Option {
	return func(f *Fetcher) {
		f.baseURL = baseURL
	}
}

// WithHTTPClient replaces the HTTP client used for all feed requests.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher creates a Fetcher bound to the repository and branch from the
// provided configuration, with network operations bounded by its timeout.
func NewFetcher(cfg *config.Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		repository: cfg.Repository,
		branch:     cfg.Branch,
		baseURL:    defaultBaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// feedRoot returns the base URL all feed documents are published under.
func (f *Fetcher) feedRoot() string {
	return fmt.Sprintf("%s/%s/refs/heads/%s", f.baseURL, f.repository, f.branch)
}

// Fetch retrieves the latest pointer and the release metadata document it
// references, combining them into a single Metadata value.
func (f *Fetcher) Fetch(ctx context.Context) (*Metadata, error) {
	pointerURL := f.feedRoot() + latestPointerPath

	logger.DebugKV(ctx, "Fetching latest release pointer", "url", pointerURL)

	body, err := f.get(ctx, pointerURL)
	if err != nil {
		return nil, err
	}

	var pointer latestPointer
	if err = json.Unmarshal(body, &pointer); err != nil {
		return nil, &DownloadError{URL: pointerURL, Err: err}
	}

	if err = pointer.validate(); err != nil {
		return nil, &DownloadError{URL: pointerURL, Err: err}
	}

	logger.DebugKV(ctx, "Fetching release metadata", "url", pointer.InfoURL)

	body, err = f.get(ctx, pointer.InfoURL)
	if err != nil {
		return nil, err
	}

	var info releaseInfo
	if err = json.Unmarshal(body, &info); err != nil {
		return nil, &DownloadError{URL: pointer.InfoURL, Err: err}
	}

	if err = info.validate(); err != nil {
		return nil, &DownloadError{URL: pointer.InfoURL, Err: err}
	}

	return &Metadata{
		Version:     pointer.LatestVersion,
		Commit:      info.GitHash,
		Filename:    pointer.LatestFirmware,
		SHA256:      info.SHA256,
		Size:        info.FileSize,
		DownloadURL: pointer.DownloadURL,
	}, nil
}

// Download retrieves the firmware binary described by the metadata and
// stages it as a file in the provided directory. The returned Image retains
// the raw payload so integrity verification covers the exact bytes received.
func (f *Fetcher) Download(ctx context.Context, meta *Metadata, dir string) (*Image, error) {
	logger.InfoKV(ctx, "Downloading firmware",
		"file", meta.Filename,
		"declared_size", humanize.IBytes(uint64(meta.Size)))

	data, err := f.get(ctx, meta.DownloadURL)
	if err != nil {
		return nil, err
	}

	if int64(len(data)) != meta.Size {
		return nil, &DownloadError{
			URL: meta.DownloadURL,
			Err: fmt.Errorf("declared %d bytes, received %d: %w", meta.Size, len(data), errSizeMismatch),
		}
	}

	path := filepath.Join(dir, filepath.Base(meta.Filename))
	if err = os.WriteFile(path, data, imageFileMode); err != nil {
		return nil, &DownloadError{URL: meta.DownloadURL, Err: err}
	}

	logger.DebugKV(ctx, "Staged firmware image", "path", path, "size", humanize.IBytes(uint64(len(data))))

	return &Image{
		Path: path,
		Data: data,
	}, nil
}

// get performs a single GET against the feed and returns the full body.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}

	response, err := f.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, &DownloadError{
			URL: url,
			Err: fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus),
		}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}

	return body, nil
}

// validate ensures the pointer document names the fields a run depends on.
func (p *latestPointer) validate() error {
	for field, value := range map[string]string{
		"latest_version":  p.LatestVersion,
		"latest_firmware": p.LatestFirmware,
		"download_url":    p.DownloadURL,
		"info_url":        p.InfoURL,
	} {
		if value == "" {
			return fmt.Errorf("%s: %w", field, errMissingField)
		}
	}

	return nil
}

// validate ensures the metadata document carries a usable size and digest.
func (i *releaseInfo) validate() error {
	if i.FileSize <= 0 {
		return fmt.Errorf("file_size: %w", errMissingField)
	}

	if i.SHA256 == "" {
		return fmt.Errorf("sha256: %w", errMissingField)
	}

	if len(i.SHA256) != sha256HexLength {
		return fmt.Errorf("%q: %w", i.SHA256, errMalformedDigest)
	}

	if _, err := hex.DecodeString(i.SHA256); err != nil {
		return fmt.Errorf("%q: %w", i.SHA256, errMalformedDigest)
	}

	return nil
}
