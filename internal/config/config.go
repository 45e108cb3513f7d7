package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/thomas-vilte/releasepipe/internal/cache"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/thomas-vilte/releasepipe/internal/regex"
	ghclient "github.com/thomas-vilte/releasepipe/internal/vcs/github"
)

// FileName is the config file looked up in the project root.
const FileName = ".releasepipe.toml"

type (
	Config struct {
		ProjectDir string `toml:"project_dir"`
		Repository string `toml:"repository,omitempty"` // "owner/name"
		Language   string `toml:"language"`

		Provision ProvisionConfig `toml:"provision"`
		Toolchain ToolchainConfig `toml:"toolchain"`
		Build     BuildConfig     `toml:"build"`
		Cache     CacheConfig     `toml:"cache"`
		Publish   PublishConfig   `toml:"publish"`

		PathFile string `toml:"-"`
	}

	ProvisionConfig struct {
		Skip     bool     `toml:"skip"`
		Packages []string `toml:"packages"`
		UseSudo  bool     `toml:"use_sudo"`
	}

	ToolchainConfig struct {
		Name    string `toml:"name"`
		Target  string `toml:"target"`
		Profile string `toml:"profile"`
	}

	BuildConfig struct {
		BinaryName    string   `toml:"binary_name"`
		Locked        bool     `toml:"locked"`
		Features      []string `toml:"features,omitempty"`
		RequireStatic bool     `toml:"require_static"`
	}

	CacheConfig struct {
		Enabled     bool     `toml:"enabled"`
		Dir         string   `toml:"dir"`
		Compression string   `toml:"compression"` // zstd, lz4 or none
		TTL         Duration `toml:"ttl"`
		Paths       []string `toml:"paths,omitempty"`
		Manifests   []string `toml:"manifests"`
	}

	PublishConfig struct {
		AssetName  string   `toml:"asset_name"`
		OnExisting string   `toml:"on_existing"` // reject or replace
		Timeout    Duration `toml:"timeout"`
		BaseURL    string   `toml:"base_url,omitempty"` // GitHub Enterprise API root
		UploadURL  string   `toml:"upload_url,omitempty"`
	}
)

// Duration is a time.Duration written as a Go duration string ("10m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	defaultLang           = LangEN
	defaultProfile        = "minimal"
	defaultCacheDir       = ".releasepipe/cache"
	defaultCacheTTL       = 7 * 24 * time.Hour
	defaultPublishTimeout = 5 * time.Minute
)

var (
	defaultPackages  = []string{"musl-tools"}
	defaultManifests = []string{"Cargo.lock", "Cargo.toml", "rust-toolchain", "rust-toolchain.toml"}
)

// Default returns the configuration used when no file is present.
func Default(projectDir string) *Config {
	return &Config{
		ProjectDir: projectDir,
		Language:   defaultLang,
		Provision: ProvisionConfig{
			Packages: append([]string(nil), defaultPackages...),
		},
		Toolchain: ToolchainConfig{
			Name:    models.DefaultToolchain,
			Target:  models.DefaultTargetTriple,
			Profile: defaultProfile,
		},
		Build: BuildConfig{
			BinaryName:    models.DefaultBinaryName,
			RequireStatic: true,
		},
		Cache: CacheConfig{
			Enabled:     true,
			Dir:         defaultCacheDir,
			Compression: cache.CompressionZstd,
			TTL:         Duration{defaultCacheTTL},
			Manifests:   append([]string(nil), defaultManifests...),
		},
		Publish: PublishConfig{
			AssetName:  models.DefaultBinaryName,
			OnExisting: ghclient.OnExistingReject,
			Timeout:    Duration{defaultPublishTimeout},
		},
	}
}

// LoadConfig reads path, or <projectDir>/.releasepipe.toml when path is
// empty. A missing default file yields the defaults; a missing explicit
// file is an error.
func LoadConfig(path, projectDir string) (*Config, error) {
	if projectDir == "" {
		projectDir = "."
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(projectDir, FileName)
	}

	config := Default(projectDir)
	config.PathFile = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("error decoding config file %s: %w", path, err)
	}

	if config.ProjectDir == "" {
		config.ProjectDir = projectDir
	} else if !filepath.IsAbs(config.ProjectDir) {
		config.ProjectDir = filepath.Join(filepath.Dir(path), config.ProjectDir)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func SaveConfig(config *Config) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("refusing to save invalid configuration: %w", err)
	}

	if config.PathFile == "" {
		return errors.New("config file path is not set")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("error encoding configuration: %w", err)
	}

	if err := os.WriteFile(config.PathFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing configuration: %w", err)
	}

	return nil
}

// ToolchainSpec returns the toolchain spec derived from the config.
func (c *Config) ToolchainSpec() models.ToolchainSpec {
	return models.ToolchainSpec{
		Name:         c.Toolchain.Name,
		TargetTriple: c.Toolchain.Target,
	}
}

// CacheDir resolves the cache directory against the project root.
func (c *Config) CacheDir() string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(c.ProjectDir, c.Cache.Dir)
}

func validateConfig(config *Config) error {
	if config.Language == "" {
		return errors.New("language cannot be empty")
	}
	if config.Repository != "" && !regex.Repository.MatchString(config.Repository) {
		return fmt.Errorf("repository %q must be in owner/name form", config.Repository)
	}
	if config.Toolchain.Name == "" {
		return errors.New("toolchain.name cannot be empty")
	}
	if config.Toolchain.Target == "" {
		return errors.New("toolchain.target cannot be empty")
	}
	if config.Build.BinaryName == "" {
		return errors.New("build.binary_name cannot be empty")
	}
	if config.Publish.AssetName == "" {
		return errors.New("publish.asset_name cannot be empty")
	}
	if config.Publish.Timeout.Duration <= 0 {
		return errors.New("publish.timeout must be positive")
	}

	if !ghclient.ValidOnExisting(config.Publish.OnExisting) {
		return fmt.Errorf("publish.on_existing must be %q or %q, got %q", ghclient.OnExistingReject, ghclient.OnExistingReplace, config.Publish.OnExisting)
	}

	if config.Cache.Enabled {
		if !cache.SupportedCompression(config.Cache.Compression) {
			return fmt.Errorf("unsupported cache compression: %s", config.Cache.Compression)
		}
		if config.Cache.Dir == "" {
			return errors.New("cache.dir cannot be empty when the cache is enabled")
		}
	}
	return nil
}
