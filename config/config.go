// Package config manages application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ythttp "ytcollect/http"
	"ytcollect/internal/retry"
	"ytcollect/quota"
	"ytcollect/storage"
)

// FileName is the configuration file looked up in the working directory
// and in ~/.config/ytcollect.
const FileName = "ytcollect.json"

// envPrefix prefixes every environment override.
const envPrefix = "YTCOLLECT_"

// Duration is a time.Duration that reads "30s" style strings or integer
// nanoseconds from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// Config holds all application configuration.
type Config struct {
	// Data API credentials. An OAuth refresh token (with client ID and
	// secret) or access token wins over the API key.
	APIKey            string `json:"api_key"`
	OAuthClientID     string `json:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret"`
	OAuthRefreshToken string `json:"oauth_refresh_token"`
	OAuthAccessToken  string `json:"oauth_access_token"`
	// APIEndpoint overrides the Data API base URL (tests, proxies).
	APIEndpoint string `json:"api_endpoint"`

	// Quota
	QuotaLimit   int `json:"quota_limit"`
	QuotaReserve int `json:"quota_reserve"`

	// Collection defaults
	MaxVideos            int  `json:"max_videos"`
	MaxCommentsPerVideo  int  `json:"max_comments_per_video"`
	MaxRepliesPerComment int  `json:"max_replies_per_comment"`
	FetchComments        bool `json:"fetch_comments"`
	EmbedRaw             bool `json:"embed_raw"`

	// Storage
	Store         string `json:"store"`
	StorePath     string `json:"store_path"`
	PostgresURL   string `json:"postgres_url"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
	RedisURL      string `json:"redis_url"`

	// Messaging and HTTP surface
	NatsURL     string   `json:"nats_url"`
	ListenAddr  string   `json:"listen_addr"`
	CORSOrigins []string `json:"cors_origins"`

	// Outbound HTTP
	RequestTimeout Duration `json:"request_timeout"`
	DataAPIRPS     float64  `json:"data_api_rps"`

	// Retry settings
	MaxRetries        int      `json:"max_retries"`
	InitialBackoff    Duration `json:"initial_backoff"`
	MaxBackoff        Duration `json:"max_backoff"`
	BackoffMultiplier float64  `json:"backoff_multiplier"`

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		QuotaLimit:          quota.DefaultLimit,
		MaxVideos:           50,
		MaxCommentsPerVideo: 20,
		Store:               string(storage.KindJSON),
		MongoDatabase:       "ytcollect",
		ListenAddr:          ":8080",
		CORSOrigins:         []string{"*"},
		RequestTimeout:      Duration(30 * time.Second),
		DataAPIRPS:          5,
		MaxRetries:          3,
		InitialBackoff:      Duration(1 * time.Second),
		MaxBackoff:          Duration(30 * time.Second),
		BackoffMultiplier:   2.0,
		LogLevel:            "info",
	}
}

// Load applies, in order: defaults, the config file, YTCOLLECT_*
// environment variables. An explicit path must exist; otherwise the file
// is optional.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		if path != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	paths := []string{path}
	if path == "" {
		paths = []string{FileName}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", "ytcollect", FileName))
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		return nil
	}
	return os.ErrNotExist
}

// loadFromEnv overrides fields from the environment. Malformed numbers and
// durations are errors rather than silently ignored.
func (c *Config) loadFromEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	strs := map[string]*string{
		"API_KEY":             &c.APIKey,
		"OAUTH_CLIENT_ID":     &c.OAuthClientID,
		"OAUTH_CLIENT_SECRET": &c.OAuthClientSecret,
		"OAUTH_REFRESH_TOKEN": &c.OAuthRefreshToken,
		"OAUTH_ACCESS_TOKEN":  &c.OAuthAccessToken,
		"API_ENDPOINT":        &c.APIEndpoint,
		"STORE":               &c.Store,
		"STORE_PATH":          &c.StorePath,
		"POSTGRES_URL":        &c.PostgresURL,
		"MONGO_URI":           &c.MongoURI,
		"MONGO_DATABASE":      &c.MongoDatabase,
		"REDIS_URL":           &c.RedisURL,
		"NATS_URL":            &c.NatsURL,
		"LISTEN_ADDR":         &c.ListenAddr,
		"LOG_LEVEL":           &c.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"QUOTA_LIMIT":             &c.QuotaLimit,
		"QUOTA_RESERVE":           &c.QuotaReserve,
		"MAX_VIDEOS":              &c.MaxVideos,
		"MAX_COMMENTS_PER_VIDEO":  &c.MaxCommentsPerVideo,
		"MAX_REPLIES_PER_COMMENT": &c.MaxRepliesPerComment,
		"MAX_RETRIES":             &c.MaxRetries,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"DATA_API_RPS":       &c.DataAPIRPS,
		"BACKOFF_MULTIPLIER": &c.BackoffMultiplier,
	}
	for name, dst := range floats {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = f
		}
	}

	durations := map[string]*Duration{
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"INITIAL_BACKOFF": &c.InitialBackoff,
		"MAX_BACKOFF":     &c.MaxBackoff,
	}
	for name, dst := range durations {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = Duration(d)
		}
	}

	bools := map[string]*bool{
		"FETCH_COMMENTS": &c.FetchComments,
		"EMBED_RAW":      &c.EmbedRaw,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}

	if v, ok := get("CORS_ORIGINS"); ok {
		c.CORSOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.QuotaLimit <= 0 {
		return fmt.Errorf("quota_limit must be positive")
	}
	if c.QuotaReserve < 0 || c.QuotaReserve >= c.QuotaLimit {
		return fmt.Errorf("quota_reserve must be in [0, quota_limit)")
	}
	if c.MaxVideos < 0 || c.MaxCommentsPerVideo < 0 || c.MaxRepliesPerComment < 0 {
		return fmt.Errorf("max_videos, max_comments_per_video and max_replies_per_comment must be non-negative")
	}
	if _, err := storage.ParseKind(c.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.DataAPIRPS < 0 {
		return fmt.Errorf("data_api_rps must be non-negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	return nil
}

// HasCredentials reports whether any Data API credential is configured.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" || c.OAuthAccessToken != "" || c.OAuthRefreshToken != ""
}

// RetryConfig returns the retry policy for Data API calls.
func (c *Config) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.MaxRetries
	cfg.InitialBackoff = time.Duration(c.InitialBackoff)
	cfg.MaxBackoff = time.Duration(c.MaxBackoff)
	cfg.Multiplier = c.BackoffMultiplier
	return cfg
}

// HTTPConfig returns the outbound client settings.
func (c *Config) HTTPConfig() *ythttp.Config {
	cfg := ythttp.DefaultConfig()
	cfg.Timeout = time.Duration(c.RequestTimeout)
	cfg.RateLimiter.DataAPIRPS = c.DataAPIRPS
	return cfg
}

// StoreOptions returns the options for storage.Open.
func (c *Config) StoreOptions() storage.Options {
	kind, _ := storage.ParseKind(c.Store)
	return storage.Options{
		Kind:          kind,
		Path:          c.StorePath,
		PostgresURL:   c.PostgresURL,
		MongoURI:      c.MongoURI,
		MongoDatabase: c.MongoDatabase,
		RedisURL:      c.RedisURL,
	}
}
