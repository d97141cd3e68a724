package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing JWT_SECRET returns error", func(t *testing.T) {
		_, err := loadMap(t, map[string]string{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrJWTSecretRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		cfg, err := loadMap(t, map[string]string{"JWT_SECRET": "s3cret"})
		require.NoError(t, err)
		assert.Equal(t, "s3cret", cfg.JWTSecret)
	})
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"JWT_SECRET": "s3cret"})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2<<30), cfg.MaxUploadBytes)
	assert.Equal(t, "/tmp/mediaflow/media", cfg.StorageDir)
	assert.Equal(t, "/tmp/mediaflow", cfg.ScratchDir)
	assert.Equal(t, 500*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, 5, cfg.ProgressMinStep)
	assert.Equal(t, 16, cfg.ProgressMaxStep)
	assert.Equal(t, 3, cfg.FrameCount)
	assert.Equal(t, 320, cfg.FrameWidth)
	assert.Equal(t, 240, cfg.FrameHeight)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, 2, cfg.MaxConcurrentExtractions)
	assert.Equal(t, time.Duration(0), cfg.ExtractTimeout)
	assert.True(t, cfg.ResumeInterrupted)
	assert.InDelta(t, 40.0, cfg.LuminanceThreshold, 0.001)
	assert.InDelta(t, 180.0, cfg.RedThreshold, 0.001)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.RecordBackend())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"JWT_SECRET":                 "s3cret",
		"PORT":                       "3000",
		"ALLOWED_ORIGINS":            "https://a.example,https://b.example",
		"STORAGE_DIR":                "/data/media",
		"S3_BUCKET":                  "my-bucket",
		"S3_REGION":                  "us-east-1",
		"S3_ENDPOINT":                "http://minio:9000",
		"S3_PREFIX":                  "uploads",
		"AWS_ACCESS_KEY_ID":          "access-key",
		"AWS_SECRET_ACCESS_KEY":      "secret-key",
		"SQLITE_PATH":                "/data/mediaflow.db",
		"PROGRESS_INTERVAL":          "250ms",
		"PROGRESS_MIN_STEP":          "1",
		"PROGRESS_MAX_STEP":          "3",
		"FRAME_COUNT":                "5",
		"MAX_CONCURRENT_EXTRACTIONS": "4",
		"EXTRACT_TIMEOUT":            "2m",
		"RESUME_INTERRUPTED":         "false",
		"LUMINANCE_THRESHOLD":        "35.5",
		"RED_THRESHOLD":              "200",
		"LOG_FORMAT":                 "json",
		"LOG_LEVEL":                  "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "/data/media", cfg.StorageDir)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "http://minio:9000", cfg.S3Endpoint)
	assert.Equal(t, "uploads", cfg.S3Prefix)
	assert.Equal(t, BackendSQLite, cfg.RecordBackend())
	assert.Equal(t, 250*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, 1, cfg.ProgressMinStep)
	assert.Equal(t, 3, cfg.ProgressMaxStep)
	assert.Equal(t, 5, cfg.FrameCount)
	assert.Equal(t, 4, cfg.MaxConcurrentExtractions)
	assert.Equal(t, 2*time.Minute, cfg.ExtractTimeout)
	assert.False(t, cfg.ResumeInterrupted)
	assert.InDelta(t, 35.5, cfg.LuminanceThreshold, 0.001)
	assert.InDelta(t, 200.0, cfg.RedThreshold, 0.001)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := loadMap(t, map[string]string{
		"JWT_SECRET": "s3cret",
		"PORT":       "not-a-number",
	})
	require.Error(t, err)

	_, err = loadMap(t, map[string]string{
		"JWT_SECRET":        "s3cret",
		"PROGRESS_INTERVAL": "soon",
	})
	require.Error(t, err)
}

func TestConfig_RecordBackend(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		sqlite   string
		expected string
	}{
		{"postgres wins", "postgres://db/mediaflow", "/data/m.db", BackendPostgres},
		{"sqlite", "", "/data/m.db", BackendSQLite},
		{"memory", "", "", BackendMemory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DatabaseURL: tt.dsn, SQLitePath: tt.sqlite}
			assert.Equal(t, tt.expected, cfg.RecordBackend())
		})
	}
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := loadMap(t, map[string]string{"JWT_SECRET": "s3cret"})
	require.NoError(t, err)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, ErrJWTSecretRequired},
		{"zero interval", func(c *Config) { c.ProgressInterval = 0 }, ErrInvalidProgressInterval},
		{"min above max", func(c *Config) { c.ProgressMinStep = 20 }, ErrInvalidProgressSteps},
		{"zero min step", func(c *Config) { c.ProgressMinStep = 0 }, ErrInvalidProgressSteps},
		{"no frames", func(c *Config) { c.FrameCount = 0 }, ErrInvalidFrameCount},
		{"luminance too high", func(c *Config) { c.LuminanceThreshold = 256 }, ErrInvalidThreshold},
		{"negative red", func(c *Config) { c.RedThreshold = -1 }, ErrInvalidThreshold},
		{"no extraction slots", func(c *Config) { c.MaxConcurrentExtractions = 0 }, ErrInvalidLimit},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }, ErrInvalidLimit},
		{"negative timeout", func(c *Config) { c.ExtractTimeout = -time.Second }, ErrInvalidLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		JWTSecret:          "jwt-secret-value",
		StorageDir:         "/tmp/test",
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSSecretAccessKey: "aws-secret-value",
		DatabaseURL:        "postgres://user:pw@db/mediaflow",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, BackendPostgres)

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "jwt-secret-value")
	assert.NotContains(t, str, "aws-secret-value")
	assert.NotContains(t, str, "user:pw")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{LogFormat: format, LogLevel: "warn"}
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
		assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
