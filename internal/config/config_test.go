package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gate-service/internal/domain/access"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("expected baud 9600, got %d", cfg.Serial.BaudRate)
	}
	if cfg.Session.DetectionTimeout != 10*time.Second || cfg.Session.DisplayDelay != 5*time.Second {
		t.Errorf("unexpected session timings %+v", cfg.Session)
	}
	if cfg.Session.HighThreshold != 0.75 || cfg.Session.LowThreshold != 0.50 {
		t.Errorf("unexpected thresholds %+v", cfg.Session)
	}
	if cfg.Session.Flow != access.FlowVehicle {
		t.Errorf("expected vehicle flow, got %s", cfg.Session.Flow)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GATE_SESSION_FLOW", "ANONYMOUS")
	t.Setenv("GATE_SESSION_DISPLAY_DELAY", "2s")
	t.Setenv("GATE_HTTP_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("GATE_DB_PASSWORD", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.Flow != access.FlowAnonymous {
		t.Errorf("expected anonymous flow, got %s", cfg.Session.Flow)
	}
	if cfg.Session.DisplayDelay != 2*time.Second {
		t.Errorf("expected 2s display delay, got %v", cfg.Session.DisplayDelay)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "http://b.test" {
		t.Errorf("unexpected origins %v", cfg.HTTP.CORSOrigins)
	}
	if got := cfg.DB.DSNForLog(); got != "host=localhost port=5432 user=postgres password=*** dbname=gate sslmode=disable" {
		t.Errorf("unexpected masked dsn %q", got)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	data := []byte("session:\n  high_threshold: 0.8\ncamera:\n  source: gst\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.HighThreshold != 0.8 || cfg.Camera.Source != "gst" {
		t.Errorf("file values not applied: %+v %+v", cfg.Session, cfg.Camera)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown flow", "GATE_SESSION_FLOW", "pedestrian"},
		{"unknown camera", "GATE_CAMERA_SOURCE", "usb"},
		{"inverted thresholds", "GATE_SESSION_LOW_THRESHOLD", "0.9"},
		{"bad qos", "GATE_MQTT_QOS", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(""); err == nil {
				t.Errorf("expected validation error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
