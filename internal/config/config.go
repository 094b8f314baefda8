package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the release feed coordinates and hardware parameters for an
// update run. It is immutable once constructed: the fetcher and flasher
// receive it at construction and never mutate it.
type Config struct {
	// Repository is the release feed repository in "owner/name" form.
	Repository string `yaml:"repository"`
	// Branch is the branch reference the release feed is published under.
	Branch string `yaml:"branch"`
	// Chip is the chip identifier passed to the flashing tool.
	Chip string `yaml:"chip"`
	// BaudRate is the serial baud rate used while flashing.
	BaudRate int `yaml:"baud_rate"`
	// FlashOffset is the OTA partition offset, as a hex string (e.g. 0x150000).
	FlashOffset string `yaml:"flash_offset"`
	// Timeout bounds each network operation of the release fetcher.
	Timeout time.Duration `yaml:"timeout"`
	// CacheDir overrides the directory where the flashing tool is cached.
	// Empty means the per-user cache directory.
	CacheDir string `yaml:"cache_dir"`
	// EsptoolPath points at an existing flashing tool to use instead of
	// searching for or provisioning one.
	EsptoolPath string `yaml:"esptool_path"`
	// Python is the interpreter used to run the flashing tool script.
	Python string `yaml:"python"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default filename for updater settings.
	DefaultConfigFilename = "robot-updater-settings.yaml"

	// DefaultRepository is the release feed repository for the robot firmware.
	DefaultRepository = "TheDaveCollective/BYKTW-Robot"

	// DefaultBranch is the branch the release feed is published under.
	DefaultBranch = "main"

	// DefaultChip is the chip identifier of the robot controller.
	DefaultChip = "esp32c3"

	// DefaultBaudRate is the serial baud rate used while flashing.
	DefaultBaudRate = 460800

	// DefaultFlashOffset is the OTA_0 partition offset of the robot firmware layout.
	DefaultFlashOffset = "0x150000"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 30 * time.Second

	// DefaultPython is the interpreter used to run the flashing tool script.
	DefaultPython = "python3"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// cacheDirName is the subdirectory used under the per-user cache directory.
	cacheDirName = "robot-updater"

	// repositoryParts is the number of path segments in an "owner/name" repository.
	repositoryParts = 2
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRepositoryRequired is returned when the repository is missing or malformed.
	errRepositoryRequired = errors.New("repository must be in owner/name form")
	// errBaudRateInvalid is returned when the baud rate is not positive.
	errBaudRateInvalid = errors.New("baud rate must be positive")
)

// Default returns a configuration with every field set to its default value.
func Default() *Config {
	return &Config{
		Repository:  DefaultRepository,
		Branch:      DefaultBranch,
		Chip:        DefaultChip,
		BaudRate:    DefaultBaudRate,
		FlashOffset: DefaultFlashOffset,
		Timeout:     DefaultTimeout,
		Python:      DefaultPython,
	}
}

// Load reads configuration from the provided path and validates essential fields.
// An empty path means the default filename; if that default file does not
// exist, the default configuration is returned so the tool runs without any
// settings file at all. An explicitly provided path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided configuration for required fields and
// formatting, filling defaults for fields that may be omitted.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	parts := strings.Split(cfg.Repository, "/")
	if len(parts) != repositoryParts || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%q: %w", cfg.Repository, errRepositoryRequired)
	}

	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}

	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	if cfg.BaudRate < 0 {
		return fmt.Errorf("%d: %w", cfg.BaudRate, errBaudRateInvalid)
	}

	if cfg.FlashOffset == "" {
		cfg.FlashOffset = DefaultFlashOffset
	}

	if _, err := ParseFlashOffset(cfg.FlashOffset); err != nil {
		return err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}

	return nil
}

// ParseFlashOffset parses a flash offset in hex (with or without 0x prefix)
// into its numeric value.
func ParseFlashOffset(offset string) (uint32, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(offset)), "0x")

	value, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid flash offset %q: %w", offset, err)
	}

	return uint32(value), nil
}

// ResolveCacheDir returns the directory where the provisioned flashing tool
// and other reusable artifacts are cached, creating it when necessary.
func (c *Config) ResolveCacheDir() (string, error) {
	dir := c.CacheDir
	if dir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve user cache dir: %w", err)
		}

		dir = filepath.Join(userCache, cacheDirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	return dir, nil
}
