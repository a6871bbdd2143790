// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrS3ConfigRequired is returned when mirroring is enabled without S3 settings.
	ErrS3ConfigRequired = errors.New("config: MIRROR_ENABLED requires S3_BUCKET and S3_REGION")
	// ErrInvalidTolerance is returned when a tolerance band is outside (0, 1).
	ErrInvalidTolerance = errors.New("config: tolerance bands must be between 0 and 1")
)

// Config holds all configuration for the application.
type Config struct {
	// Storage layout
	StorageRoot string `env:"STORAGE_ROOT, default=/var/lib/clipdock/videos" json:"storage_root"`
	StateDir    string `env:"STATE_DIR, default=/var/lib/clipdock/upload-state" json:"state_dir"`
	RecoveryDir string `env:"RECOVERY_DIR, default=/var/lib/clipdock/recovery" json:"recovery_dir"`

	// Remote mirroring settings
	MirrorEnabled      bool   `env:"MIRROR_ENABLED, default=false" json:"mirror_enabled"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Download link settings
	PresignTTL    time.Duration `env:"PRESIGN_TTL, default=1h" json:"presign_ttl"`
	LinkCacheSize int           `env:"LINK_CACHE_SIZE, default=256" json:"link_cache_size"`

	// Recovery and maintenance settings
	RecoveryInterval     time.Duration `env:"RECOVERY_INTERVAL, default=5m" json:"recovery_interval"`
	UploadRetentionHours int           `env:"UPLOAD_RETENTION_HOURS, default=24" json:"upload_retention_hours"`
	IdempotencyTolerance float64       `env:"IDEMPOTENCY_TOLERANCE, default=0.05" json:"idempotency_tolerance"`
	RecoveryTolerance    float64       `env:"RECOVERY_TOLERANCE, default=0.10" json:"recovery_tolerance"`
	MinOrphanBytes       int64         `env:"MIN_ORPHAN_BYTES, default=1024" json:"min_orphan_bytes"`

	// Compression settings
	FFmpegPath     string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	CompressionCRF int    `env:"COMPRESSION_CRF, default=28" json:"compression_crf"`

	// HTTP surface
	ListenAddr string `env:"LISTEN_ADDR, default=:8080" json:"listen_addr"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if the resulting configuration is inconsistent.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MirrorEnabled && !c.S3Enabled() {
		return ErrS3ConfigRequired
	}
	if c.IdempotencyTolerance <= 0 || c.IdempotencyTolerance >= 1 {
		return ErrInvalidTolerance
	}
	if c.RecoveryTolerance <= 0 || c.RecoveryTolerance >= 1 {
		return ErrInvalidTolerance
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{StorageRoot: %s, StateDir: %s, RecoveryDir: %s, MirrorEnabled: %t, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, RecoveryInterval: %s, UploadRetentionHours: %d, LogFormat: %s, LogLevel: %s}",
		c.StorageRoot,
		c.StateDir,
		c.RecoveryDir,
		c.MirrorEnabled,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.RecoveryInterval,
		c.UploadRetentionHours,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
