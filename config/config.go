// Package config loads the gallery runtime configuration from a TOML or YAML
// file and GALLERY_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/codec"
)

const (
	DefaultBackendType = "sqlite"
	DefaultBackendPath = "gallery.db"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
	DefaultMaxFiles    = 10

	envPrefix = "GALLERY_"
)

// BackendConfig selects the storage backend
type BackendConfig struct {
	Type     string `toml:"type" yaml:"type"`
	Path     string `toml:"path" yaml:"path"`
	MaxBytes int64  `toml:"max_bytes" yaml:"max_bytes"`
}

// LogConfig controls the CLI logger
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// ProfileConfig is one transcoding profile
type ProfileConfig struct {
	MaxWidth         int     `toml:"max_width" yaml:"max_width"`
	Quality          float64 `toml:"quality" yaml:"quality"`
	PassThroughBytes int     `toml:"pass_through_bytes" yaml:"pass_through_bytes"`
	MaxPixels        int     `toml:"max_pixels" yaml:"max_pixels"`
}

// CodecConfig holds the original and thumbnail profiles
type CodecConfig struct {
	Original  ProfileConfig `toml:"original" yaml:"original"`
	Thumbnail ProfileConfig `toml:"thumbnail" yaml:"thumbnail"`
}

// IngestConfig limits upload batches
type IngestConfig struct {
	MaxFiles int `toml:"max_files" yaml:"max_files"`
}

// Config defines runtime configuration for the gallery CLI.
type Config struct {
	Backend BackendConfig `toml:"backend" yaml:"backend"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Codec   CodecConfig   `toml:"codec" yaml:"codec"`
	Ingest  IngestConfig  `toml:"ingest" yaml:"ingest"`
	// Source is the file the values were read from, empty for defaults only
	Source string `toml:"-" yaml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			Type: DefaultBackendType,
			Path: DefaultBackendPath,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Codec: CodecConfig{
			Original:  profileFrom(codec.DefaultOriginal),
			Thumbnail: profileFrom(codec.DefaultThumbnail),
		},
		Ingest: IngestConfig{MaxFiles: DefaultMaxFiles},
	}
}

func profileFrom(o codec.Options) ProfileConfig {
	return ProfileConfig{MaxWidth: o.MaxWidth, Quality: o.Quality, PassThroughBytes: o.PassThroughBytes, MaxPixels: o.MaxPixels}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
		cfg.Source = path
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", gallerydb.ErrInvalidConfig, filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"BACKEND", &cfg.Backend.Type},
		{"DB", &cfg.Backend.Path},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
	}
	for _, s := range strs {
		if v := strings.TrimSpace(os.Getenv(envPrefix + s.key)); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ORIGINAL_MAX_WIDTH", &cfg.Codec.Original.MaxWidth},
		{"ORIGINAL_PASS_THROUGH_BYTES", &cfg.Codec.Original.PassThroughBytes},
		{"THUMBNAIL_MAX_WIDTH", &cfg.Codec.Thumbnail.MaxWidth},
		{"MAX_FILES", &cfg.Ingest.MaxFiles},
		{"ORIGINAL_MAX_PIXELS", &cfg.Codec.Original.MaxPixels},
		{"THUMBNAIL_MAX_PIXELS", &cfg.Codec.Thumbnail.MaxPixels},
	}
	for _, i := range ints {
		v := strings.TrimSpace(os.Getenv(envPrefix + i.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", gallerydb.ErrInvalidConfig, envPrefix, i.key, v)
		}
		*i.dst = n
	}

	if v := strings.TrimSpace(os.Getenv(envPrefix + "MAX_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_BYTES=%q is not an integer", gallerydb.ErrInvalidConfig, envPrefix, v)
		}
		cfg.Backend.MaxBytes = n
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.BackendConfig().Validate(); err != nil {
		return err
	}
	if c.Backend.MaxBytes < 0 {
		return fmt.Errorf("%w: backend.max_bytes %d", gallerydb.ErrInvalidConfig, c.Backend.MaxBytes)
	}
	if _, err := gallerydb.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log.format %q (want json or console)", gallerydb.ErrInvalidConfig, c.Log.Format)
	}
	if err := c.originalOptions().Validate(); err != nil {
		return fmt.Errorf("%w: codec.original: %v", gallerydb.ErrInvalidConfig, err)
	}
	if err := c.thumbnailOptions().Validate(); err != nil {
		return fmt.Errorf("%w: codec.thumbnail: %v", gallerydb.ErrInvalidConfig, err)
	}
	if c.Ingest.MaxFiles <= 0 {
		return fmt.Errorf("%w: ingest.max_files %d", gallerydb.ErrInvalidConfig, c.Ingest.MaxFiles)
	}
	return nil
}

// BackendConfig converts the backend section for gallerydb.NewBackend
func (c *Config) BackendConfig() gallerydb.BackendConfig {
	bc := gallerydb.BackendConfig{Type: c.Backend.Type, Path: c.Backend.Path}
	if c.Backend.Type != "filesystem" && c.Backend.MaxBytes > 0 {
		bc.Options = map[string]string{"max_bytes": strconv.FormatInt(c.Backend.MaxBytes, 10)}
	}
	return bc
}

// Logger builds the configured zap logger
func (c *Config) Logger() (*gallerydb.ZapLogger, error) {
	if c.Log.Format == "json" {
		return gallerydb.NewProductionZapLogger(c.Log.Level)
	}
	return gallerydb.NewDevelopmentZapLogger(c.Log.Level)
}

// Transcoder builds the configured codec profiles
func (c *Config) Transcoder() (*codec.Transcoder, error) {
	return codec.NewTranscoder(c.originalOptions(), c.thumbnailOptions())
}

func (c *Config) originalOptions() codec.Options {
	return c.Codec.Original.options()
}

func (c *Config) thumbnailOptions() codec.Options {
	return c.Codec.Thumbnail.options()
}

func (p ProfileConfig) options() codec.Options {
	return codec.Options{
		MaxWidth:         p.MaxWidth,
		Quality:          p.Quality,
		PassThroughBytes: p.PassThroughBytes,
		MaxPixels:        p.MaxPixels,
	}
}
