package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config represents the main configuration for go-updates
type Config struct {
	UpdateURL      string `json:"update_url"`
	ScopeKey       string `json:"scope_key"` // Defaults to the origin of UpdateURL
	RuntimeVersion string `json:"runtime_version"`
	Platform       string `json:"platform"`

	// Local storage
	UpdatesDirectory string `json:"updates_directory"`
	DatabasePath     string `json:"database_path"` // Defaults to <UpdatesDirectory>/updates.db

	// Embedded bundle (embedded mode)
	EmbeddedBundlePath   string `json:"embedded_bundle_path"`
	EmbeddedManifestName string `json:"embedded_manifest_name"`

	// Logging
	Debug       bool   `json:"debug"`
	Verbose     bool   `json:"verbose"`
	LogFilePath string `json:"log_file_path,omitempty"` // optional: also log to this rotating file

	// Retry settings
	MaxRetries int `json:"max_retries"`
	RetryDelay int `json:"retry_delay"` // seconds

	// Network
	RequestTimeout  time.Duration     `json:"request_timeout"` // per request, enforced by the downloader
	FollowRedirects bool              `json:"follow_redirects"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`

	// HTTP Authentication settings
	HTTPAuthUser        string `json:"http_auth_user,omitempty"`
	HTTPAuthPassword    string `json:"http_auth_password,omitempty"`
	HeaderAuthorization string `json:"header_authorization,omitempty"` // for --authorization convenience

	// Loader policy
	DownloadMaxConcurrency int  `json:"download_max_concurrency"`
	CommitPartialUpdates   bool `json:"commit_partial_updates"` // commit READY when only non-launch assets fail
	LazyAssetFetch         bool `json:"lazy_asset_fetch"`       // launch mode re-fetches missing assets on demand

	// Mode settings
	Mode         string `json:"mode"`          // "remote", "embedded", "launch" or "status"
	OutputFormat string `json:"output_format"` // "text", "json" or "yaml"
	MetricsFile  string `json:"metrics_file,omitempty"`
}

// NewConfig creates a new Config with defaults
func NewConfig() *Config {
	return &Config{
		UpdateURL:              "",
		ScopeKey:               "",
		RuntimeVersion:         "",
		Platform:               "",
		UpdatesDirectory:       defaultUpdatesDirectory(),
		DatabasePath:           "",
		EmbeddedBundlePath:     "",
		EmbeddedManifestName:   "app.manifest",
		Debug:                  false,
		Verbose:                false,
		MaxRetries:             3,
		RetryDelay:             2,
		RequestTimeout:         time.Minute,
		FollowRedirects:        true,
		RequestHeaders:         map[string]string{},
		DownloadMaxConcurrency: 4,
		CommitPartialUpdates:   true,
		LazyAssetFetch:         true,
		Mode:                   "remote",
		OutputFormat:           "text",
	}
}

func defaultUpdatesDirectory() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "go-updates")
	}
	return filepath.Join(os.TempDir(), "go-updates")
}

// DatabaseFile returns the effective path of the updates database
func (c *Config) DatabaseFile() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.UpdatesDirectory, "updates.db")
}

// AssetsDirectory returns where the asset cache keeps its files
func (c *Config) AssetsDirectory() string {
	return filepath.Join(c.UpdatesDirectory, "assets")
}

// EffectiveScopeKey returns the configured scope key, or the origin of the update URL
func (c *Config) EffectiveScopeKey() string {
	if c.ScopeKey != "" {
		return c.ScopeKey
	}
	if c.UpdateURL == "" {
		if c.EmbeddedBundlePath != "" {
			return "embedded"
		}
		return ""
	}
	u, err := url.Parse(c.UpdateURL)
	if err != nil || u.Host == "" {
		return c.UpdateURL
	}
	return u.Scheme + "://" + u.Host
}

// EffectiveHeaders returns the request headers including the Authorization convenience value
func (c *Config) EffectiveHeaders() map[string]string {
	headers := make(map[string]string, len(c.RequestHeaders)+1)
	for k, v := range c.RequestHeaders {
		headers[k] = v
	}
	if c.HeaderAuthorization != "" {
		headers["Authorization"] = c.HeaderAuthorization
	}
	return headers
}

// Validate checks if the configuration is valid for the selected mode
func (c *Config) Validate() error {
	switch c.Mode {
	case "remote", "launch":
		if c.UpdateURL == "" {
			return fmt.Errorf("UpdateURL is required in %s mode", c.Mode)
		}
		u, err := url.Parse(c.UpdateURL)
		if err != nil {
			return fmt.Errorf("invalid UpdateURL %q: %w", c.UpdateURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("UpdateURL must be http or https, got %q", u.Scheme)
		}
	case "embedded":
		if c.EmbeddedBundlePath == "" {
			return fmt.Errorf("EmbeddedBundlePath is required in embedded mode")
		}
	case "status":
	default:
		return fmt.Errorf("unknown mode: %s (valid: remote, embedded, launch, status)", c.Mode)
	}

	if c.UpdatesDirectory == "" {
		return fmt.Errorf("UpdatesDirectory is required")
	}
	if c.DownloadMaxConcurrency <= 0 {
		return fmt.Errorf("DownloadMaxConcurrency must be positive, got %d", c.DownloadMaxConcurrency)
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("MaxRetries and RetryDelay cannot be negative")
	}
	switch c.OutputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format: %s", c.OutputFormat)
	}
	return nil
}

// RedactedForLogging returns a redacted, human-friendly snapshot of the
// effective configuration suitable for debug logs. Sensitive values are masked
// and durations are rendered as strings.
func (c *Config) RedactedForLogging() map[string]interface{} {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***redacted***"
	}
	maskMap := func(in map[string]string) map[string]string {
		if in == nil {
			return nil
		}
		out := make(map[string]string, len(in))
		for k := range in {
			out[k] = "***redacted***"
		}
		return out
	}

	return map[string]interface{}{
		// Core
		"Mode":           c.Mode,
		"UpdateURL":      c.UpdateURL,
		"ScopeKey":       c.EffectiveScopeKey(),
		"RuntimeVersion": c.RuntimeVersion,
		"Platform":       c.Platform,
		// Storage
		"UpdatesDirectory":     c.UpdatesDirectory,
		"DatabasePath":         c.DatabaseFile(),
		"EmbeddedBundlePath":   c.EmbeddedBundlePath,
		"EmbeddedManifestName": c.EmbeddedManifestName,
		// Logging
		"Debug":       c.Debug,
		"Verbose":     c.Verbose,
		"LogFilePath": c.LogFilePath,
		// Retries & network
		"MaxRetries":      c.MaxRetries,
		"RetryDelay":      c.RetryDelay,
		"RequestTimeout":  c.RequestTimeout.String(),
		"FollowRedirects": c.FollowRedirects,
		// Loader policy
		"DownloadMaxConcurrency": c.DownloadMaxConcurrency,
		"CommitPartialUpdates":   c.CommitPartialUpdates,
		"LazyAssetFetch":         c.LazyAssetFetch,
		// HTTP auth & headers (redacted)
		"HTTPAuthUser":        c.HTTPAuthUser,
		"HTTPAuthPassword":    mask(c.HTTPAuthPassword),
		"RequestHeaders":      maskMap(c.RequestHeaders),
		"HeaderAuthorization": mask(c.HeaderAuthorization),
		// Output
		"OutputFormat": c.OutputFormat,
		"MetricsFile":  c.MetricsFile,
	}
}
