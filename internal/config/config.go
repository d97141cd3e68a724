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
	// ErrJWTSecretRequired is returned when JWT_SECRET is not set.
	ErrJWTSecretRequired = errors.New("config: JWT_SECRET is required")
	// ErrInvalidProgressSteps is returned when the progress step bounds are unusable.
	ErrInvalidProgressSteps = errors.New("config: PROGRESS_MIN_STEP must be >= 1 and <= PROGRESS_MAX_STEP")
	// ErrInvalidProgressInterval is returned when PROGRESS_INTERVAL is not positive.
	ErrInvalidProgressInterval = errors.New("config: PROGRESS_INTERVAL must be positive")
	// ErrInvalidFrameCount is returned when FRAME_COUNT is below 1.
	ErrInvalidFrameCount = errors.New("config: FRAME_COUNT must be >= 1")
	// ErrInvalidThreshold is returned when a classifier threshold is outside 0-255.
	ErrInvalidThreshold = errors.New("config: thresholds must be within 0-255")
	// ErrInvalidLimit is returned for non-positive sizes and concurrency limits.
	ErrInvalidLimit = errors.New("config: limits must be positive")
)

// Record store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxUploadBytes int64    `env:"MAX_UPLOAD_BYTES, default=2147483648" json:"max_upload_bytes"`

	// Auth settings
	JWTSecret string `env:"JWT_SECRET, required" json:"-"` // Masked in JSON

	// Storage settings
	StorageDir string `env:"STORAGE_DIR, default=/tmp/mediaflow/media" json:"storage_dir"`
	ScratchDir string `env:"SCRATCH_DIR, default=/tmp/mediaflow" json:"scratch_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Record store settings; DATABASE_URL wins over SQLITE_PATH
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // May carry credentials
	SQLitePath  string `env:"SQLITE_PATH" json:"sqlite_path,omitempty"`

	// Processing settings
	ProgressInterval         time.Duration `env:"PROGRESS_INTERVAL, default=500ms" json:"progress_interval"`
	ProgressMinStep          int           `env:"PROGRESS_MIN_STEP, default=5" json:"progress_min_step"`
	ProgressMaxStep          int           `env:"PROGRESS_MAX_STEP, default=16" json:"progress_max_step"`
	FrameCount               int           `env:"FRAME_COUNT, default=3" json:"frame_count"`
	FrameWidth               int           `env:"FRAME_WIDTH, default=320" json:"frame_width"`
	FrameHeight              int           `env:"FRAME_HEIGHT, default=240" json:"frame_height"`
	FFmpegPath               string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath              string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	MaxConcurrentExtractions int           `env:"MAX_CONCURRENT_EXTRACTIONS, default=2" json:"max_concurrent_extractions"`
	ExtractTimeout           time.Duration `env:"EXTRACT_TIMEOUT, default=0s" json:"extract_timeout"`
	ResumeInterrupted        bool          `env:"RESUME_INTERRUPTED, default=true" json:"resume_interrupted"`

	// Classifier settings
	LuminanceThreshold float64 `env:"LUMINANCE_THRESHOLD, default=40" json:"luminance_threshold"`
	RedThreshold       float64 `env:"RED_THRESHOLD, default=180" json:"red_threshold"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RecordBackend names the record store selected by the configuration.
func (c *Config) RecordBackend() string {
	switch {
	case c.DatabaseURL != "":
		return BackendPostgres
	case c.SQLitePath != "":
		return BackendSQLite
	default:
		return BackendMemory
	}
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "JWT_SECRET") {
			return nil, ErrJWTSecretRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrJWTSecretRequired
	}
	if c.ProgressInterval <= 0 {
		return ErrInvalidProgressInterval
	}
	if c.ProgressMinStep < 1 || c.ProgressMinStep > c.ProgressMaxStep {
		return ErrInvalidProgressSteps
	}
	if c.FrameCount < 1 {
		return ErrInvalidFrameCount
	}
	if !inByteRange(c.LuminanceThreshold) || !inByteRange(c.RedThreshold) {
		return ErrInvalidThreshold
	}
	if c.MaxUploadBytes <= 0 || c.MaxConcurrentExtractions < 1 ||
		c.FrameWidth < 1 || c.FrameHeight < 1 || c.ExtractTimeout < 0 {
		return ErrInvalidLimit
	}
	return nil
}

func inByteRange(v float64) bool {
	return v >= 0 && v <= 255
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
		"Config{Port: %d, StorageDir: %s, ScratchDir: %s, S3Bucket: %s, S3Region: %s, RecordBackend: %s, ProgressInterval: %s, FrameCount: %d, MaxConcurrentExtractions: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.StorageDir,
		c.ScratchDir,
		c.S3Bucket,
		c.S3Region,
		c.RecordBackend(),
		c.ProgressInterval,
		c.FrameCount,
		c.MaxConcurrentExtractions,
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
