package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/robot-updater/internal/config"
)

// feedFixture wires an httptest server that serves a complete release feed
// for the provided firmware payload.
func feedFixture(t *testing.T, payload []byte) (*httptest.Server, *Fetcher) {
	t.Helper()

	digest := sha256.Sum256(payload)

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	mux.HandleFunc("/acme/rover/refs/heads/main/releases/latest.json",
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(latestPointer{
				LatestVersion:  "1.4.0",
				LatestFirmware: "firmware.bin",
				DownloadURL:    ts.URL + "/firmware.bin",
				InfoURL:        ts.URL + "/releases/1.4.0.json",
			})
		})

	mux.HandleFunc("/releases/1.4.0.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(releaseInfo{
			Version:  "1.4.0",
			GitHash:  "ab12cd3",
			FileSize: int64(len(payload)),
			SHA256:   hex.EncodeToString(digest[:]),
		})
	})

	mux.HandleFunc("/firmware.bin", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	})

	cfg := &config.Config{Repository: "acme/rover"}
	require.NoError(t, config.Validate(cfg))

	return ts, NewFetcher(cfg, WithBaseURL(ts.URL))
}

// TestFetch_CombinesPointerAndInfo ensures both feed documents merge into one Metadata.
func TestFetch_CombinesPointerAndInfo(t *testing.T) {
	t.Parallel()

	payload := []byte("robot firmware payload")
	ts, fetcher := feedFixture(t, payload)

	meta, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.4.0", meta.Version)
	require.Equal(t, "ab12cd3", meta.Commit)
	require.Equal(t, "firmware.bin", meta.Filename)
	require.Equal(t, int64(len(payload)), meta.Size)
	require.Equal(t, ts.URL+"/firmware.bin", meta.DownloadURL)

	digest := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(digest[:]), meta.SHA256)
}

// TestFetch_HTTPErrors ensures non-200 responses surface as DownloadError.
func TestFetch_HTTPErrors(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	fetcher := NewFetcher(cfg, WithBaseURL(ts.URL))

	_, err := fetcher.Fetch(context.Background())

	var downloadErr *DownloadError

	require.ErrorAs(t, err, &downloadErr)
	require.ErrorIs(t, err, errBadHTTPStatus)
}

// TestFetch_MalformedMetadata covers broken JSON and missing required fields.
func TestFetch_MalformedMetadata(t *testing.T) {
	t.Parallel()

	var downloadErr *DownloadError

	// Broken JSON in the pointer document.
	broken := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"latest_version": `))
		}))
	t.Cleanup(broken.Close)

	_, err := NewFetcher(config.Default(), WithBaseURL(broken.URL)).Fetch(context.Background())
	require.ErrorAs(t, err, &downloadErr)

	// Pointer document missing required fields.
	partial := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"latest_version": "1.0.0"}`))
		}))
	t.Cleanup(partial.Close)

	_, err = NewFetcher(config.Default(), WithBaseURL(partial.URL)).Fetch(context.Background())
	require.ErrorAs(t, err, &downloadErr)
	require.ErrorIs(t, err, errMissingField)
}

// TestFetch_RejectsMalformedDigest ensures a non-hex or short digest never
// reaches the verification step.
func TestFetch_RejectsMalformedDigest(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	mux.HandleFunc("/acme/rover/refs/heads/main/releases/latest.json",
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(latestPointer{
				LatestVersion:  "1.0.0",
				LatestFirmware: "firmware.bin",
				DownloadURL:    ts.URL + "/firmware.bin",
				InfoURL:        ts.URL + "/info.json",
			})
		})

	mux.HandleFunc("/info.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(releaseInfo{
			FileSize: 8,
			SHA256:   "not-a-digest",
		})
	})

	cfg := &config.Config{Repository: "acme/rover"}
	require.NoError(t, config.Validate(cfg))

	fetcher := NewFetcher(cfg, WithBaseURL(ts.URL))

	_, err := fetcher.Fetch(context.Background())
	require.ErrorIs(t, err, errMalformedDigest)
}

// TestDownload_StagesImage verifies the binary lands on disk with its bytes retained.
func TestDownload_StagesImage(t *testing.T) {
	t.Parallel()

	payload := []byte("robot firmware payload")
	_, fetcher := feedFixture(t, payload)

	meta, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()

	image, err := fetcher.Download(context.Background(), meta, dir)
	require.NoError(t, err)
	require.Equal(t, payload, image.Data)
	require.Equal(t, int64(len(payload)), image.Size())
	require.Equal(t, filepath.Join(dir, "firmware.bin"), image.Path)
	require.FileExists(t, image.Path)
}

// TestDownload_SizeMismatch ensures truncated or padded bodies are rejected
// before verification.
func TestDownload_SizeMismatch(t *testing.T) {
	t.Parallel()

	payload := []byte("robot firmware payload")
	ts, fetcher := feedFixture(t, payload)

	meta, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)

	// Declare a size the body will not satisfy.
	meta.Size++

	_, err = fetcher.Download(context.Background(), meta, t.TempDir())
	require.ErrorIs(t, err, errSizeMismatch)

	var downloadErr *DownloadError

	require.ErrorAs(t, err, &downloadErr)
	require.Equal(t, ts.URL+"/firmware.bin", downloadErr.URL)
}

// TestDownload_HTTPError ensures a missing binary aborts with DownloadError.
func TestDownload_HTTPError(t *testing.T) {
	t.Parallel()

	_, fetcher := feedFixture(t, []byte("payload"))

	meta := &Metadata{
		Filename:    "firmware.bin",
		Size:        7,
		DownloadURL: fetcher.baseURL + "/missing.bin",
	}

	_, err := fetcher.Download(context.Background(), meta, t.TempDir())
	require.ErrorIs(t, err, errBadHTTPStatus)
}

// TestDownloadError_Unwrap ensures wrapped causes remain reachable.
func TestDownloadError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &DownloadError{URL: "https://example.com/x", Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "https://example.com/x")
}
