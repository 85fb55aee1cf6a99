package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHOPTRACE_DB_PATH", "/tmp/shoptrace-test.db")

	cfg := Load()

	if cfg.Tracker.BatchInterval != 5*time.Second {
		t.Errorf("Expected batch interval 5s, got %s", cfg.Tracker.BatchInterval)
	}
	if cfg.Tracker.InactivityWindow != 30*time.Minute {
		t.Errorf("Expected inactivity window 30m, got %s", cfg.Tracker.InactivityWindow)
	}
	if !reflect.DeepEqual(cfg.Tracker.ScrollThresholds, []int{25, 50, 75, 100}) {
		t.Errorf("Expected default thresholds, got %v", cfg.Tracker.ScrollThresholds)
	}
	if cfg.StorageBackend != BackendSQLite {
		t.Errorf("Expected sqlite backend, got %s", cfg.StorageBackend)
	}
	if cfg.Address != "127.0.0.1:8123" {
		t.Errorf("Expected address 127.0.0.1:8123, got %s", cfg.Address)
	}
	if cfg.DatabasePath != "/tmp/shoptrace-test.db" {
		t.Errorf("Expected database path from env, got %s", cfg.DatabasePath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHOPTRACE_BATCH_INTERVAL", "250ms")
	t.Setenv("SHOPTRACE_SESSION_TIMEOUT", "not-a-duration")
	t.Setenv("SHOPTRACE_SCROLL_THRESHOLDS", "10, 90")
	t.Setenv("SHOPTRACE_STORAGE_BACKEND", "MONGO")
	t.Setenv("SHOPTRACE_DEBUG", "1")
	t.Setenv("SHOPTRACE_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()

	if cfg.Tracker.BatchInterval != 250*time.Millisecond {
		t.Errorf("Expected batch interval 250ms, got %s", cfg.Tracker.BatchInterval)
	}
	if cfg.Tracker.InactivityWindow != 30*time.Minute {
		t.Errorf("Expected invalid duration to fall back to 30m, got %s", cfg.Tracker.InactivityWindow)
	}
	if !reflect.DeepEqual(cfg.Tracker.ScrollThresholds, []int{10, 90}) {
		t.Errorf("Expected thresholds [10 90], got %v", cfg.Tracker.ScrollThresholds)
	}
	if cfg.StorageBackend != BackendMongo {
		t.Errorf("Expected mongo backend, got %s", cfg.StorageBackend)
	}
	if !cfg.Tracker.Debug {
		t.Error("Expected debug to be enabled")
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("Expected two origins, got %v", cfg.AllowedOrigins)
	}
}

func TestInvalidThresholdsFallBack(t *testing.T) {
	t.Setenv("SHOPTRACE_SCROLL_THRESHOLDS", "25,150")

	cfg := Load()

	if !reflect.DeepEqual(cfg.Tracker.ScrollThresholds, []int{25, 50, 75, 100}) {
		t.Errorf("Expected fallback to defaults, got %v", cfg.Tracker.ScrollThresholds)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"1", false, true},
		{"True", false, true},
		{"t", false, true},
		{"FALSE", true, false},
		{"0", true, false},
		{"yes", true, true}, // unparsable keeps the default
		{"yes", false, false},
	}

	for _, tt := range tests {
		t.Setenv("SHOPTRACE_TEST_BOOL", tt.value)
		if got := getBoolEnv("SHOPTRACE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("getBoolEnv(%q, %v): expected %v, got %v", tt.value, tt.def, tt.want, got)
		}
	}
}
