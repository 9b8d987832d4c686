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

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrVideosBucketRequired is returned when S3_VIDEOS_BUCKET is not set.
	ErrVideosBucketRequired = errors.New("config: S3_VIDEOS_BUCKET is required")
	// ErrUnknownStorageDriver is returned when STORAGE_DRIVER is not s3 or minio.
	ErrUnknownStorageDriver = errors.New("config: STORAGE_DRIVER must be s3 or minio")
	// ErrEndpointRequired is returned when the minio driver has no S3_ENDPOINT.
	ErrEndpointRequired = errors.New("config: S3_ENDPOINT is required for the minio driver")
	// ErrPartSizeTooSmall is returned when UPLOAD_PART_SIZE_MB is below the 5 MB backend minimum.
	ErrPartSizeTooSmall = errors.New("config: UPLOAD_PART_SIZE_MB must be at least 5")
	// ErrInvalidConcurrency is returned when UPLOAD_MAX_CONCURRENT_PARTS is not positive.
	ErrInvalidConcurrency = errors.New("config: UPLOAD_MAX_CONCURRENT_PARTS must be positive")
	// ErrCloudFrontIncomplete is returned when only some CloudFront settings are present.
	ErrCloudFrontIncomplete = errors.New("config: CLOUDFRONT_DOMAIN, CLOUDFRONT_KEY_PAIR_ID and CLOUDFRONT_PRIVATE_KEY must be set together")
)

// Storage drivers.
const (
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"

	// Local workspace for spooled uploads and thumbnail derivation
	TempDir string `env:"TEMP_DIR, default=/tmp/tennispro" json:"temp_dir"`

	// Object store settings
	StorageDriver      string `env:"STORAGE_DRIVER, default=s3" json:"storage_driver"`
	AWSRegion          string `env:"AWS_REGION, default=us-east-1" json:"aws_region"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	S3VideosBucket     string `env:"S3_VIDEOS_BUCKET, required" json:"s3_videos_bucket"`
	S3AssetsBucket     string `env:"S3_ASSETS_BUCKET" json:"s3_assets_bucket,omitempty"`
	S3ExportsBucket    string `env:"S3_EXPORTS_BUCKET" json:"s3_exports_bucket,omitempty"`

	// Optional CloudFront settings
	CloudFrontDomain     string `env:"CLOUDFRONT_DOMAIN" json:"cloudfront_domain,omitempty"`
	CloudFrontKeyPairID  string `env:"CLOUDFRONT_KEY_PAIR_ID" json:"cloudfront_key_pair_id,omitempty"`
	CloudFrontPrivateKey string `env:"CLOUDFRONT_PRIVATE_KEY" json:"-"` // Masked in JSON

	// Upload settings
	UploadPartSizeMB         int `env:"UPLOAD_PART_SIZE_MB, default=10" json:"upload_part_size_mb"`
	UploadMaxConcurrentParts int `env:"UPLOAD_MAX_CONCURRENT_PARTS, default=4" json:"upload_max_concurrent_parts"`

	// Optional MongoDB settings for thumbnail jobs
	MongoURI      string `env:"MONGO_URI" json:"-"` // May carry credentials
	MongoDatabase string `env:"MONGO_DATABASE, default=tennispro" json:"mongo_database"`

	// Thumbnail settings
	FFmpegPath       string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath      string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	ThumbnailWorkers int    `env:"THUMBNAIL_WORKERS, default=2" json:"thumbnail_workers"`

	// Optional external derivation service; replaces the in-process worker
	ThumbnailDispatchURL   string `env:"THUMBNAIL_DISPATCH_URL" json:"thumbnail_dispatch_url,omitempty"`
	ThumbnailDispatchToken string `env:"THUMBNAIL_DISPATCH_TOKEN" json:"-"` // Masked in JSON
	// PublicBaseURL is where the external service reaches this API's callbacks
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`
}

// LoadDotEnv loads variables from each file into the environment. Variables
// already set are not overridden and missing files are skipped. With no
// arguments it reads ".env" in the working directory.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "S3_VIDEOS_BUCKET") {
			return nil, ErrVideosBucketRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.S3VideosBucket == "" {
		return ErrVideosBucketRequired
	}

	switch c.StorageDriver {
	case DriverS3:
	case DriverMinio:
		if c.S3Endpoint == "" {
			return ErrEndpointRequired
		}
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownStorageDriver, c.StorageDriver)
	}

	if c.UploadPartSizeMB < 5 {
		return fmt.Errorf("%w: got %d", ErrPartSizeTooSmall, c.UploadPartSizeMB)
	}
	if c.UploadMaxConcurrentParts <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.UploadMaxConcurrentParts)
	}

	set := 0
	for _, v := range []string{c.CloudFrontDomain, c.CloudFrontKeyPairID, c.CloudFrontPrivateKey} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return ErrCloudFrontIncomplete
	}

	return nil
}

// CDNEnabled returns true if CloudFront signing is configured. Without it
// playback falls back to presigned downloads.
func (c *Config) CDNEnabled() bool {
	return c.CloudFrontDomain != "" && c.CloudFrontKeyPairID != "" && c.CloudFrontPrivateKey != ""
}

// MongoEnabled returns true if thumbnail jobs should be stored in MongoDB.
func (c *Config) MongoEnabled() bool {
	return c.MongoURI != ""
}

// RemoteThumbnails returns true if thumbnail jobs go to an external service
// instead of the in-process worker.
func (c *Config) RemoteThumbnails() bool {
	return c.ThumbnailDispatchURL != ""
}

// CloudFrontPrivateKeyPEM returns the private key with escaped "\n"
// sequences expanded, so a PEM can be passed as a single-line variable.
func (c *Config) CloudFrontPrivateKeyPEM() []byte {
	return []byte(strings.ReplaceAll(c.CloudFrontPrivateKey, `\n`, "\n"))
}

// PartSizeBytes returns the multipart part size in bytes.
func (c *Config) PartSizeBytes() int64 {
	return int64(c.UploadPartSizeMB) * 1024 * 1024
}

// MinioEndpoint splits S3_ENDPOINT into the host form minio-go expects and
// whether TLS is used. An endpoint without a scheme is assumed to use TLS.
func (c *Config) MinioEndpoint() (host string, useSSL bool) {
	switch {
	case strings.HasPrefix(c.S3Endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(c.S3Endpoint, "http://"), "/"), false
	case strings.HasPrefix(c.S3Endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(c.S3Endpoint, "https://"), "/"), true
	default:
		return strings.TrimSuffix(c.S3Endpoint, "/"), true
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs colorized human-readable logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, StorageDriver: %s, AWSRegion: %s, S3Endpoint: %s, S3VideosBucket: %s, S3AssetsBucket: %s, S3ExportsBucket: %s, CDNEnabled: %t, CloudFrontDomain: %s, UploadPartSizeMB: %d, UploadMaxConcurrentParts: %d, MongoEnabled: %t, MongoDatabase: %s, TempDir: %s, ThumbnailWorkers: %d, RemoteThumbnails: %t, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.StorageDriver,
		c.AWSRegion,
		c.S3Endpoint,
		c.S3VideosBucket,
		c.S3AssetsBucket,
		c.S3ExportsBucket,
		c.CDNEnabled(),
		c.CloudFrontDomain,
		c.UploadPartSizeMB,
		c.UploadMaxConcurrentParts,
		c.MongoEnabled(),
		c.MongoDatabase,
		c.TempDir,
		c.ThumbnailWorkers,
		c.RemoteThumbnails(),
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
