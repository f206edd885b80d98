package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != "8081" {
		t.Fatalf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.ProximityThresholdM != 100 {
		t.Fatalf("ProximityThresholdM = %v", cfg.ProximityThresholdM)
	}
	if cfg.MaxFixAge != 15*time.Second {
		t.Fatalf("MaxFixAge = %v", cfg.MaxFixAge)
	}
	if cfg.SessionCodeLength != 6 {
		t.Fatalf("SessionCodeLength = %d", cfg.SessionCodeLength)
	}
	if cfg.StoreBackend != "postgres" || cfg.QueueBackend != "redis" {
		t.Fatalf("backends = %q/%q", cfg.StoreBackend, cfg.QueueBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROXIMITY_THRESHOLD_M", "75.5")
	t.Setenv("MAX_FIX_AGE", "30s")
	t.Setenv("SESSION_CODE_LENGTH", "8")
	t.Setenv("LOCATION_GATEWAY_SKIP", "true")
	t.Setenv("STORE_BACKEND", "memory")

	cfg := Load()
	if cfg.ProximityThresholdM != 75.5 {
		t.Fatalf("ProximityThresholdM = %v", cfg.ProximityThresholdM)
	}
	if cfg.MaxFixAge != 30*time.Second {
		t.Fatalf("MaxFixAge = %v", cfg.MaxFixAge)
	}
	if cfg.SessionCodeLength != 8 {
		t.Fatalf("SessionCodeLength = %d", cfg.SessionCodeLength)
	}
	if !cfg.GatewaySkip {
		t.Fatal("GatewaySkip not applied")
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("StoreBackend = %q", cfg.StoreBackend)
	}
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("PROXIMITY_THRESHOLD_M", "not-a-number")
	t.Setenv("MAX_FIX_AGE", "soon")
	t.Setenv("LOCATION_GATEWAY_SKIP", "maybe")

	cfg := Load()
	if cfg.ProximityThresholdM != 100 {
		t.Fatalf("ProximityThresholdM = %v, want fallback", cfg.ProximityThresholdM)
	}
	if cfg.MaxFixAge != 15*time.Second {
		t.Fatalf("MaxFixAge = %v, want fallback", cfg.MaxFixAge)
	}
	if cfg.GatewaySkip {
		t.Fatal("garbage bool must fall back to false")
	}
}
