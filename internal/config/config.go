package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"blocklaunch/internal/gamemeta"
	"blocklaunch/internal/jre"
	"blocklaunch/internal/platform"
)

// Config captures the launcher settings stored in launcher.yaml.
type Config struct {
	Version   int             `yaml:"version"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Manifest  ManifestConfig  `yaml:"manifest"`
	Instance  InstanceConfig  `yaml:"instance"`
	Game      GameConfig      `yaml:"game"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Memory    MemoryConfig    `yaml:"memory"`
	Launch    LaunchConfig    `yaml:"launch"`
	Downloads DownloadsConfig `yaml:"downloads"`
}

// LauncherConfig points at the launcher's own release.
type LauncherConfig struct {
	DownloadURL string `yaml:"download_url"`
}

// ManifestConfig lists the update manifest mirrors, tried in order.
type ManifestConfig struct {
	URLs    []string      `yaml:"urls"`
	Timeout time.Duration `yaml:"timeout"`
}

// InstanceConfig is the bundled instance archive used on first launch.
type InstanceConfig struct {
	URL string `yaml:"url"`
}

// GameConfig selects the game version.
type GameConfig struct {
	Version     string `yaml:"version"`
	ManifestURL string `yaml:"manifest_url"`
}

// RuntimeConfig controls java runtime resolution.
type RuntimeConfig struct {
	MinMajor    int    `yaml:"min_major"`
	Override    string `yaml:"override"`
	DownloadURL string `yaml:"download_url"`
}

// MemoryConfig sets the heap bounds in megabytes.
type MemoryConfig struct {
	MinMB int `yaml:"min_mb"`
	MaxMB int `yaml:"max_mb"`
}

// LaunchConfig holds per-launch defaults a launch request may override.
type LaunchConfig struct {
	ExtraArgs  string `yaml:"extra_args"`
	Borderless bool   `yaml:"borderless"`
}

// DownloadsConfig tunes the fetcher.
type DownloadsConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	Inactivity      time.Duration `yaml:"inactivity_timeout"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// totalMemoryMB is swapped in tests.
var totalMemoryMB = func() int {
	return platform.TotalMemoryMB(context.Background())
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version: 1,
		Manifest: ManifestConfig{
			Timeout: 10 * time.Second,
		},
		Game: GameConfig{
			Version:     "1.20.1",
			ManifestURL: gamemeta.DefaultManifestURL,
		},
		Runtime: RuntimeConfig{
			MinMajor:    17,
			DownloadURL: jre.DefaultDownloadURL,
		},
		Memory: MemoryConfig{
			MinMB: 512,
			MaxMB: DefaultMaxMemoryMB(totalMemoryMB()),
		},
		Downloads: DownloadsConfig{
			MaxRetries:      5,
			Inactivity:      20 * time.Second,
			MetadataTimeout: 10 * time.Second,
			RetryDelay:      2 * time.Second,
		},
	}
}

// DefaultMaxMemoryMB picks half of the installed memory, kept between 1 GiB
// and 4 GiB. Unknown memory yields 2 GiB.
func DefaultMaxMemoryMB(totalMB int) int {
	if totalMB <= 0 {
		return 2048
	}
	half := totalMB / 2
	switch {
	case half < 1024:
		return 1024
	case half > 4096:
		return 4096
	}
	return half
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults ensures nested fields fall back to sensible defaults when the
// YAML omits them.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if c.Manifest.Timeout <= 0 {
		c.Manifest.Timeout = defaults.Manifest.Timeout
	}
	if c.Game.Version == "" {
		c.Game.Version = defaults.Game.Version
	}
	if c.Game.ManifestURL == "" {
		c.Game.ManifestURL = defaults.Game.ManifestURL
	}
	if c.Runtime.MinMajor == 0 {
		c.Runtime.MinMajor = defaults.Runtime.MinMajor
	}
	if c.Runtime.DownloadURL == "" {
		c.Runtime.DownloadURL = defaults.Runtime.DownloadURL
	}
	if c.Memory.MinMB == 0 {
		c.Memory.MinMB = defaults.Memory.MinMB
	}
	if c.Memory.MaxMB == 0 {
		c.Memory.MaxMB = defaults.Memory.MaxMB
	}
	if c.Downloads.MaxRetries == 0 {
		c.Downloads.MaxRetries = defaults.Downloads.MaxRetries
	}
	if c.Downloads.Inactivity <= 0 {
		c.Downloads.Inactivity = defaults.Downloads.Inactivity
	}
	if c.Downloads.MetadataTimeout <= 0 {
		c.Downloads.MetadataTimeout = defaults.Downloads.MetadataTimeout
	}
	if c.Downloads.RetryDelay <= 0 {
		c.Downloads.RetryDelay = defaults.Downloads.RetryDelay
	}
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf, nil
}

// Save writes the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	buf, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
