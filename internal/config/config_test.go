package config

import (
	"testing"
	"time"
)

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"unset uses default", "", 7},
		{"valid", "42", 42},
		{"zero uses default", "0", 7},
		{"negative uses default", "-3", 7},
		{"garbage uses default", "abc", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", 7); got != tt.expected {
				t.Errorf("envInt = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected float64
	}{
		{"unset uses default", "", 0.9},
		{"valid", "0.85", 0.85},
		{"zero allowed", "0", 0},
		{"negative uses default", "-0.1", 0.9},
		{"garbage uses default", "high", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_FLOAT", tt.value)
			if got := envFloat("TEST_ENV_FLOAT", 0.9); got != tt.expected {
				t.Errorf("envFloat = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"", false},
		{"true", true},
		{"1", true},
		{"false", false},
		{"yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_ENV_BOOL", tt.value)
			if got := envBool("TEST_ENV_BOOL", false); got != tt.expected {
				t.Errorf("envBool(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_ENV_DURATION", "250ms")
	if got := envDuration("TEST_ENV_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("envDuration = %v, want 250ms", got)
	}

	t.Setenv("TEST_ENV_DURATION", "soon")
	if got := envDuration("TEST_ENV_DURATION", time.Second); got != time.Second {
		t.Errorf("envDuration with garbage = %v, want default", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"FACE_CONFIDENCE_THRESHOLD", "FACE_AUTHORIZED_ONLY", "EMBEDDING_BACKEND",
		"STORE_BACKEND", "CAMERA_METADATA_TIMEOUT", "WEB_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Matching.ConfidenceThreshold != 0.9 {
		t.Errorf("threshold = %v, want 0.9", cfg.Matching.ConfidenceThreshold)
	}
	if cfg.Matching.AuthorizedOnly {
		t.Error("AuthorizedOnly should default to false")
	}
	if cfg.Embedding.Backend != EmbeddingBackendHTTP {
		t.Errorf("embedding backend = %q, want %q", cfg.Embedding.Backend, EmbeddingBackendHTTP)
	}
	if cfg.Embedding.Dim != 128 {
		t.Errorf("embedding dim = %d, want 128", cfg.Embedding.Dim)
	}
	if cfg.Store.Backend != StoreBackendFile {
		t.Errorf("store backend = %q, want %q", cfg.Store.Backend, StoreBackendFile)
	}
	if cfg.Camera.MetadataTimeout != 3*time.Second {
		t.Errorf("metadata timeout = %v, want 3s", cfg.Camera.MetadataTimeout)
	}
	if len(cfg.Web.AllowedOrigins) != 0 {
		t.Errorf("allowed origins = %v, want none", cfg.Web.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("FACE_CONFIDENCE_THRESHOLD", "0.93")
	t.Setenv("FACE_AUTHORIZED_ONLY", "true")
	t.Setenv("EMBEDDING_BACKEND", "DLIB")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg := Load()

	if cfg.Matching.ConfidenceThreshold != 0.93 {
		t.Errorf("threshold = %v, want 0.93", cfg.Matching.ConfidenceThreshold)
	}
	if !cfg.Matching.AuthorizedOnly {
		t.Error("expected AuthorizedOnly")
	}
	if cfg.Embedding.Backend != EmbeddingBackendDlib {
		t.Errorf("embedding backend = %q, want lowercased dlib", cfg.Embedding.Backend)
	}
	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Errorf("allowed origins = %v, want 2 entries", cfg.Web.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("STORE_BACKEND", "")
		t.Setenv("EMBEDDING_BACKEND", "")
		return Load()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"threshold above one", func(c *Config) { c.Matching.ConfidenceThreshold = 1.2 }, true},
		{"threshold at one", func(c *Config) { c.Matching.ConfidenceThreshold = 1 }, false},
		{"unknown embedding backend", func(c *Config) { c.Embedding.Backend = "magic" }, true},
		{"postgres without url", func(c *Config) {
			c.Store.Backend = StoreBackendPostgres
			c.Database.URL = ""
		}, true},
		{"postgres with url", func(c *Config) {
			c.Store.Backend = StoreBackendPostgres
			c.Database.URL = "postgres://localhost/faces"
		}, false},
		{"redis without url", func(c *Config) {
			c.Store.Backend = StoreBackendRedis
			c.Store.RedisURL = ""
		}, true},
		{"unknown store", func(c *Config) { c.Store.Backend = "s3" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
