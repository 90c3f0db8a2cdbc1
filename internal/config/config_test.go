package config

import (
	"testing"
	"time"
)

func TestLoadUsesDefaults(t *testing.T) {
	configViper := NewViper()

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.StorageBackend != BackendSQLite {
		t.Fatalf("expected sqlite default backend, got %s", cfg.StorageBackend)
	}
	if cfg.MaxNotes != 1000 {
		t.Fatalf("expected default max notes 1000, got %d", cfg.MaxNotes)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("expected 30s cache ttl, got %s", cfg.CacheTTL)
	}
	if cfg.OpTimeout != 15*time.Second {
		t.Fatalf("expected 15s op timeout, got %s", cfg.OpTimeout)
	}
}

func TestLoadRejectsS3WithoutBucket(t *testing.T) {
	configViper := NewViper()
	configViper.Set("storage.backend", "s3")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for s3 backend without bucket")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	configViper := NewViper()
	configViper.Set("storage.backend", "postgres")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadNormalizesBackendCase(t *testing.T) {
	configViper := NewViper()
	configViper.Set("storage.backend", " Memory ")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageBackend != BackendMemory {
		t.Fatalf("expected memory backend, got %s", cfg.StorageBackend)
	}
}
