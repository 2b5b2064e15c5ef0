package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ytcollect/storage"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.QuotaLimit != 10000 {
		t.Errorf("QuotaLimit = %d, want 10000", cfg.QuotaLimit)
	}
	if cfg.HasCredentials() {
		t.Error("default config should carry no credentials")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	body := `{"api_key":"k","quota_limit":500,"store":"sqlite","max_backoff":"45s","initial_backoff":2000000000}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.loadFromFile(path); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if cfg.APIKey != "k" || cfg.QuotaLimit != 500 || cfg.Store != "sqlite" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if time.Duration(cfg.MaxBackoff) != 45*time.Second {
		t.Errorf("MaxBackoff = %v", time.Duration(cfg.MaxBackoff))
	}
	if time.Duration(cfg.InitialBackoff) != 2*time.Second {
		t.Errorf("InitialBackoff = %v", time.Duration(cfg.InitialBackoff))
	}
	// Untouched keys keep their defaults.
	if cfg.MaxVideos != 50 {
		t.Errorf("MaxVideos = %d, want 50", cfg.MaxVideos)
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DefaultConfig().loadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	env := map[string]string{
		"YTCOLLECT_API_KEY":        "env-key",
		"YTCOLLECT_QUOTA_LIMIT":    "2000",
		"YTCOLLECT_QUOTA_RESERVE":  "100",
		"YTCOLLECT_DATA_API_RPS":   "2.5",
		"YTCOLLECT_MAX_BACKOFF":    "1m",
		"YTCOLLECT_FETCH_COMMENTS": "true",
		"YTCOLLECT_CORS_ORIGINS":   "http://a,http://b",
		"YTCOLLECT_STORE":          "  postgres  ",
		"YTCOLLECT_MONGO_DATABASE": "",
		"UNRELATED_QUOTA_LIMIT":    "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.loadFromEnv(lookup); err != nil {
		t.Fatalf("loadFromEnv: %v", err)
	}

	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.QuotaLimit != 2000 || cfg.QuotaReserve != 100 {
		t.Errorf("quota = %d/%d", cfg.QuotaLimit, cfg.QuotaReserve)
	}
	if cfg.DataAPIRPS != 2.5 {
		t.Errorf("DataAPIRPS = %v", cfg.DataAPIRPS)
	}
	if time.Duration(cfg.MaxBackoff) != time.Minute {
		t.Errorf("MaxBackoff = %v", time.Duration(cfg.MaxBackoff))
	}
	if !cfg.FetchComments {
		t.Error("FetchComments not set")
	}
	if strings.Join(cfg.CORSOrigins, "|") != "http://a|http://b" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.Store != "postgres" {
		t.Errorf("Store = %q", cfg.Store)
	}
	if cfg.MongoDatabase != "ytcollect" {
		t.Errorf("empty env value overrode MongoDatabase: %q", cfg.MongoDatabase)
	}
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"int", "YTCOLLECT_MAX_VIDEOS", "ten"},
		{"float", "YTCOLLECT_BACKOFF_MULTIPLIER", "x"},
		{"duration", "YTCOLLECT_REQUEST_TIMEOUT", "5"},
		{"bool", "YTCOLLECT_EMBED_RAW", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == tt.key {
					return tt.value, true
				}
				return "", false
			}
			err := DefaultConfig().loadFromEnv(lookup)
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("err = %v, want mention of %s", err, tt.key)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"max_videos":10,"api_key":"file"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("YTCOLLECT_MAX_VIDEOS", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxVideos != 25 {
		t.Errorf("MaxVideos = %d, want env value 25", cfg.MaxVideos)
	}
	if cfg.APIKey != "file" {
		t.Errorf("APIKey = %q, want file value", cfg.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero quota", func(c *Config) { c.QuotaLimit = 0 }},
		{"reserve >= limit", func(c *Config) { c.QuotaReserve = c.QuotaLimit }},
		{"negative reserve", func(c *Config) { c.QuotaReserve = -1 }},
		{"negative max videos", func(c *Config) { c.MaxVideos = -1 }},
		{"unknown store", func(c *Config) { c.Store = "cassandra" }},
		{"negative rps", func(c *Config) { c.DataAPIRPS = -1 }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero initial backoff", func(c *Config) { c.InitialBackoff = 0 }},
		{"max below initial", func(c *Config) { c.MaxBackoff = Duration(time.Millisecond) }},
		{"multiplier 1", func(c *Config) { c.BackoffMultiplier = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = "mongo"
	cfg.MongoURI = "mongodb://localhost"
	cfg.RedisURL = "redis://localhost:6379/0"
	cfg.MaxRetries = 5
	cfg.DataAPIRPS = 1
	cfg.RequestTimeout = Duration(10 * time.Second)

	opts := cfg.StoreOptions()
	if opts.Kind != storage.KindMongo || opts.MongoURI != "mongodb://localhost" || opts.RedisURL == "" {
		t.Errorf("StoreOptions = %+v", opts)
	}

	rc := cfg.RetryConfig()
	if rc.MaxRetries != 5 || rc.InitialBackoff != time.Second || rc.Multiplier != 2 {
		t.Errorf("RetryConfig = %+v", rc)
	}
	if rc.JitterFraction == 0 {
		t.Error("RetryConfig should keep default jitter")
	}

	hc := cfg.HTTPConfig()
	if hc.Timeout != 10*time.Second || hc.RateLimiter.DataAPIRPS != 1 {
		t.Errorf("HTTPConfig = %+v", hc)
	}
}

func TestDuration_JSON(t *testing.T) {
	b, err := json.Marshal(Duration(90 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1m30s"` {
		t.Errorf("marshal = %s", b)
	}
	var d Duration
	if err := json.Unmarshal([]byte(`"bogus"`), &d); err == nil {
		t.Error("expected error for bogus duration")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for bool duration")
	}
}
