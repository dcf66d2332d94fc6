// Package config builds the application configuration from environment
// variables, optionally seeded from a .env file for local runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvCI                = "CI"
	EnvEndpoint          = "ENDPOINT"
	EnvEndpoints         = "ENDPOINTS"
	EnvMinioEndpoint     = "MINIO_ENDPOINT"
	EnvMinioAccessKey    = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey    = "MINIO_SECRET_KEY"
	EnvMinioSSL          = "MINIO_SSL"
	EnvBucketName        = "BUCKET_NAME"
	EnvDestinationPrefix = "DESTINATION_PREFIX"
	EnvBaseURL           = "GTR_BASE_URL"
	EnvPageSize          = "PAGE_SIZE"
	EnvHTTPTimeout       = "HTTP_TIMEOUT"
	EnvMaxRetries        = "MAX_RETRIES"
	EnvUserAgent         = "USER_AGENT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogPretty         = "LOG_PRETTY"
	EnvMetricsAddr       = "METRICS_ADDR"
)

var (
	ErrNoEndpoints   = errors.New("config: set ENDPOINT or ENDPOINTS")
	ErrBothEndpoints = errors.New("config: ENDPOINT and ENDPOINTS are mutually exclusive")
)

type Config struct {
	// Endpoints to fetch, in order. Populated from ENDPOINT (single,
	// CI-style) or ENDPOINTS (JSON array, local-style).
	Endpoints []string

	BaseURL     string
	PageSize    int
	HTTPTimeout time.Duration
	MaxRetries  int
	UserAgent   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSSL       bool
	Bucket         string
	Prefix         string

	LogLevel    string
	LogPretty   bool
	MetricsAddr string
}

// Load reads a .env file when not running in CI, then builds the
// configuration from the environment. A missing .env file is fine;
// variables may come from the process environment instead.
func Load() (Config, error) {
	if os.Getenv(EnvCI) != "true" {
		_ = godotenv.Load()
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables alone.
func FromEnv() (Config, error) {
	var cfg Config

	endpoints, err := endpointsFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Endpoints = endpoints

	cfg.BaseURL = getEnv(EnvBaseURL, "")
	cfg.UserAgent = getEnv(EnvUserAgent, "")
	cfg.MinioEndpoint = getEnv(EnvMinioEndpoint, "localhost:9000")
	cfg.MinioAccessKey = os.Getenv(EnvMinioAccessKey)
	cfg.MinioSecretKey = os.Getenv(EnvMinioSecretKey)
	cfg.Bucket = os.Getenv(EnvBucketName)
	cfg.Prefix = getEnv(EnvDestinationPrefix, "gtr")
	cfg.LogLevel = getEnv(EnvLogLevel, "info")
	cfg.MetricsAddr = os.Getenv(EnvMetricsAddr)

	if cfg.Bucket == "" {
		return cfg, fmt.Errorf("config: %s is required", EnvBucketName)
	}

	if cfg.PageSize, err = getEnvInt(EnvPageSize, 100); err != nil {
		return cfg, fmt.Errorf("config: invalid %v: %w", EnvPageSize, err)
	}
	if cfg.PageSize < 1 {
		return cfg, fmt.Errorf("config: %s must be positive", EnvPageSize)
	}
	if cfg.MaxRetries, err = getEnvInt(EnvMaxRetries, 2); err != nil {
		return cfg, fmt.Errorf("config: invalid %v: %w", EnvMaxRetries, err)
	}
	if cfg.MaxRetries < 0 {
		return cfg, fmt.Errorf("config: %s must not be negative", EnvMaxRetries)
	}
	if cfg.MinioSSL, err = getEnvBool(EnvMinioSSL, false); err != nil {
		return cfg, fmt.Errorf("config: invalid %v: %w", EnvMinioSSL, err)
	}
	if cfg.LogPretty, err = getEnvBool(EnvLogPretty, false); err != nil {
		return cfg, fmt.Errorf("config: invalid %v: %w", EnvLogPretty, err)
	}

	timeoutStr := getEnv(EnvHTTPTimeout, "60s")
	if cfg.HTTPTimeout, err = time.ParseDuration(timeoutStr); err != nil {
		return cfg, fmt.Errorf("config: invalid %v: %w", EnvHTTPTimeout, err)
	}

	return cfg, nil
}

// endpointsFromEnv resolves the endpoint list. Exactly one of ENDPOINT
// and ENDPOINTS must be set: ENDPOINT names a single endpoint, ENDPOINTS
// holds a JSON array such as ["funds","projects"].
func endpointsFromEnv() ([]string, error) {
	single := os.Getenv(EnvEndpoint)
	list := os.Getenv(EnvEndpoints)

	switch {
	case single != "" && list != "":
		return nil, ErrBothEndpoints
	case single != "":
		return []string{single}, nil
	case list != "":
		var endpoints []string
		if err := json.Unmarshal([]byte(list), &endpoints); err != nil {
			return nil, fmt.Errorf("config: invalid %s: %w", EnvEndpoints, err)
		}
		if len(endpoints) == 0 {
			return nil, ErrNoEndpoints
		}
		return endpoints, nil
	default:
		return nil, ErrNoEndpoints
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return i, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, err
	}
	return b, nil
}
