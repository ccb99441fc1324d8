package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"howett.net/plist"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return p
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `update_url: https://u.example.com/manifest
download_max_concurrency: 6
request_timeout: 30s
request_headers:
  X-Channel: beta
`,
		},
		{
			name: "toml",
			file: "config.toml",
			content: `update_url = "https://u.example.com/manifest"
download_max_concurrency = 6
request_timeout = "30s"

[request_headers]
X-Channel = "beta"
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"UpdateURL":"https://u.example.com/manifest","DownloadMaxConcurrency":6,"RequestTimeout":30,"RequestHeaders":{"X-Channel":"beta"}}`,
		},
		{
			name: "sniffed yaml",
			file: "updatesrc",
			content: `UpdateURL: https://u.example.com/manifest
DownloadMaxConcurrency: 6
RequestTimeout: 30
RequestHeaders: {X-Channel: beta}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			path := writeTemp(t, dir, tt.file, tt.content)
			if err := cfg.LoadFile(path); err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if cfg.UpdateURL != "https://u.example.com/manifest" {
				t.Errorf("UpdateURL = %q", cfg.UpdateURL)
			}
			if cfg.DownloadMaxConcurrency != 6 {
				t.Errorf("DownloadMaxConcurrency = %d", cfg.DownloadMaxConcurrency)
			}
			if cfg.RequestTimeout != 30*time.Second {
				t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
			}
			if cfg.RequestHeaders["X-Channel"] != "beta" {
				t.Errorf("RequestHeaders = %#v", cfg.RequestHeaders)
			}
		})
	}
}

func TestLoadFile_Plist(t *testing.T) {
	settings := map[string]interface{}{
		"shared": map[string]interface{}{
			"UpdateURL":      "https://u.example.com/manifest",
			"RuntimeVersion": "1.0.0",
		},
		"remote": map[string]interface{}{
			"MaxRetries": 7,
		},
	}
	data, err := plist.Marshal(settings, plist.XMLFormat)
	if err != nil {
		t.Fatal(err)
	}
	path := writeTemp(t, t.TempDir(), "com.github.go-updates.plist", string(data))

	cfg := NewConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.UpdateURL != "https://u.example.com/manifest" || cfg.RuntimeVersion != "1.0.0" {
		t.Fatalf("shared settings not applied: %+v", cfg)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("mode settings not applied, MaxRetries = %d", cfg.MaxRetries)
	}
}

func TestLoadFile_UnknownFormat(t *testing.T) {
	path := writeTemp(t, t.TempDir(), "config", "just words")
	if err := NewConfig().LoadFile(path); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestSniffFormat(t *testing.T) {
	cases := map[string]Format{
		`{"a":1}`:                 FormatJSON,
		"a = 1":                   FormatTOML,
		"[section]\na = 1":        FormatTOML,
		"a: 1":                    FormatYAML,
		"<?xml version=\"1.0\"?>": FormatPlist,
		"bplist00...":             FormatPlist,
		"":                        FormatUnknown,
	}
	for content, want := range cases {
		if got := sniffFormat([]byte(content)); got != want {
			t.Errorf("sniffFormat(%q) = %v, want %v", content, got, want)
		}
	}
}
