// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all filestorage server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Object store
	AccessKey            string
	SecretKey            string
	Region               string
	Host                 string // endpoint hostname, e.g. digitaloceanspaces.com
	BucketPrefix         string
	UsePathStyleEndpoint bool
	Disabled             bool

	// Delivery
	// PresignedLinkLifetimeMinutes bounds download-link tokens handed to
	// external services. DownloadLinkLifetimeMinutes bounds the presigned
	// store URLs the read path redirects to.
	PresignedLinkLifetimeMinutes int
	DownloadLinkLifetimeMinutes  int
	RedirectToOriginalFileURLs   bool
	TokenSecret                  string

	// Tenant directory (PostgreSQL)
	DatabaseURL string

	// Quotas
	DefaultQuotaBytes int64

	// Thumbnails
	ThumbnailCacheMaxBytes int64

	// LegacyFolderCopy restores the historical behavior where folder
	// copy/move migrates only the placeholder key, not descendants.
	LegacyFolderCopy bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		AccessKey:            envOr("S3_ACCESS_KEY", ""),
		SecretKey:            envOr("S3_SECRET_KEY", ""),
		Region:               envOr("S3_REGION", "us-east-1"),
		Host:                 envOr("S3_HOST", ""),
		BucketPrefix:         envOr("S3_BUCKET_PREFIX", ""),
		UsePathStyleEndpoint: envBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		Disabled:             envBool("DISABLED", false),

		PresignedLinkLifetimeMinutes: envInt("PRESIGNED_LINK_LIFETIME_MINUTES", 60),
		DownloadLinkLifetimeMinutes:  envInt("DOWNLOAD_LINK_LIFETIME_MINUTES", 5),
		RedirectToOriginalFileURLs:   envBool("REDIRECT_TO_ORIGINAL_FILE_URLS", true),
		TokenSecret:                  envOr("TOKEN_SECRET", ""),

		DatabaseURL: envOr("DATABASE_URL", ""),

		DefaultQuotaBytes: envInt64("DEFAULT_QUOTA_BYTES", 0), // 0 = unlimited

		ThumbnailCacheMaxBytes: envInt64("THUMBNAIL_CACHE_MAX_BYTES", 64*1024*1024),

		LegacyFolderCopy: envBool("LEGACY_FOLDER_COPY", false),
	}

	if cfg.Disabled {
		return cfg, nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	return cfg, nil
}

// Endpoint returns the object-store endpoint URL derived from region and
// host, e.g. https://nyc3.digitaloceanspaces.com. An empty host means the
// SDK's default AWS endpoint.
func (c *Config) Endpoint() string {
	if c.Host == "" {
		return ""
	}
	return "https://" + c.Region + "." + c.Host
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
