package config

import (
	"testing"
	"time"
)

func TestApplySettingsMap_HeadersAndPolicy(t *testing.T) {
	cfg := NewConfig()
	settings := map[string]interface{}{
		"UpdateURL":              "https://updates.example.com/manifest",
		"RequestHeaders":         map[string]interface{}{"X-Test": "v"},
		"HeaderAuthorization":    "Bearer abc",
		"FollowRedirects":        false,
		"CommitPartialUpdates":   "false",
		"DownloadMaxConcurrency": uint64(8),
		"RequestTimeout":         "45s",
	}
	if err := cfg.applySettingsMap(settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RequestHeaders["X-Test"] != "v" {
		t.Fatalf("missing header")
	}
	if cfg.EffectiveHeaders()["Authorization"] != "Bearer abc" {
		t.Fatalf("missing auth header")
	}
	if cfg.FollowRedirects || cfg.CommitPartialUpdates {
		t.Fatalf("boolean settings not applied")
	}
	if cfg.DownloadMaxConcurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.DownloadMaxConcurrency)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %v", cfg.RequestTimeout)
	}
}

func TestApplySettingsMap_EmptyURLRejected(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.applySettingsMap(map[string]interface{}{"UpdateURL": ""}); err == nil {
		t.Fatalf("expected error for empty UpdateURL")
	}
}

func TestApplySettingsMap_HeaderArrayFormat(t *testing.T) {
	cfg := NewConfig()
	settings := map[string]interface{}{
		"RequestHeaders": []interface{}{
			map[string]interface{}{"name": "X-Api-Key", "value": "k"},
			map[string]interface{}{"name": "missing-value"},
		},
	}
	if err := cfg.applySettingsMap(settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.RequestHeaders) != 1 || cfg.RequestHeaders["X-Api-Key"] != "k" {
		t.Fatalf("unexpected headers: %#v", cfg.RequestHeaders)
	}
}

func TestApplyProfile_ModeSectionOverridesShared(t *testing.T) {
	cfg := NewConfig()
	cfg.Mode = "embedded"
	prefs := map[string]interface{}{
		"shared":   map[string]interface{}{"Debug": true, "EmbeddedBundlePath": "/shared"},
		"embedded": map[string]interface{}{"EmbeddedBundlePath": "/bundle"},
		"remote":   map[string]interface{}{"UpdateURL": "https://ignored.example.com"},
	}
	if err := cfg.applyProfile(prefs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Debug {
		t.Fatalf("shared Debug not applied")
	}
	if cfg.EmbeddedBundlePath != "/bundle" {
		t.Fatalf("mode section should win, got %q", cfg.EmbeddedBundlePath)
	}
	if cfg.UpdateURL != "" {
		t.Fatalf("other mode sections must be ignored, got %q", cfg.UpdateURL)
	}
}

func TestApplySettingsMap_InvalidInt(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.applySettingsMap(map[string]interface{}{"MaxRetries": "many"}); err == nil {
		t.Fatalf("expected error for non-numeric MaxRetries")
	}
}
