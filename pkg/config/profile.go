package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"howett.net/plist"
)

const DefaultProfileDomain = "com.github.go-updates"

// ProfileResult contains what we read from the managed profile
type ProfileResult struct {
	ConfigFound bool
	Source      string // path of the plist that was applied, or "none"
}

// ReadFromProfile reads configuration from a managed or user preferences plist.
// Shared settings apply first, then the section named after the current mode.
func (c *Config) ReadFromProfile(domain string) (*ProfileResult, error) {
	if domain == "" {
		domain = DefaultProfileDomain
	}

	// Try multiple locations where preferences might be stored
	source := managedPrefsPath(domain)
	prefs := readPlistFile(source)
	if prefs == nil {
		source = userPrefsPath(domain)
		prefs = readPlistFile(source)
	}

	if prefs == nil {
		return &ProfileResult{ConfigFound: false, Source: "none"}, nil
	}

	if err := c.applyProfile(prefs); err != nil {
		return nil, err
	}
	return &ProfileResult{ConfigFound: true, Source: source}, nil
}

func (c *Config) applyProfile(prefs map[string]interface{}) error {
	// Step 1: Apply shared settings first
	if err := c.applySection(prefs, "shared"); err != nil {
		return fmt.Errorf("failed to apply shared settings: %w", err)
	}

	// Step 2: Top-level keys outside any section
	if err := c.applySettingsMap(prefs); err != nil {
		return err
	}

	// Step 3: Apply mode-specific overrides
	if err := c.applySection(prefs, c.Mode); err != nil {
		return fmt.Errorf("failed to apply %s settings: %w", c.Mode, err)
	}
	return nil
}

// managedPrefsPath is where MDM-delivered preferences land
func managedPrefsPath(domain string) string {
	return fmt.Sprintf("/Library/Managed Preferences/%s.plist", domain)
}

// userPrefsPath is where `defaults write` stores user preferences
func userPrefsPath(domain string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, "Library", "Preferences", domain+".plist")
}

// readPlistFile reads a plist file and returns its contents, or nil if unusable
func readPlistFile(path string) map[string]interface{} {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil // File doesn't exist or can't be read
	}
	defer file.Close()

	var prefs map[string]interface{}
	decoder := plist.NewDecoder(file)
	if err := decoder.Decode(&prefs); err != nil {
		return nil // Can't parse plist
	}
	return prefs
}

// applySection applies a nested dictionary of settings, if present
func (c *Config) applySection(prefs map[string]interface{}, name string) error {
	section, ok := prefs[name]
	if !ok || name == "" {
		return nil
	}
	sectionMap, ok := section.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s settings is not a dictionary", name)
	}
	return c.applySettingsMap(sectionMap)
}

// normalizeKey folds "UpdateURL", "update_url" and "update-url" onto one key
func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	return strings.ReplaceAll(key, "-", "")
}

// applySettingsMap applies a settings map to the config. Values may come from
// plist, JSON, YAML, TOML or the environment, so numbers and booleans are
// accepted in any of their decoded forms, including strings.
func (c *Config) applySettingsMap(raw map[string]interface{}) error {
	settings := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		settings[normalizeKey(k)] = v
	}

	if val, exists := settings["updateurl"]; exists {
		if str, ok := val.(string); ok {
			if str == "" {
				return fmt.Errorf("UpdateURL cannot be empty string - omit the key instead")
			}
			c.UpdateURL = str
		}
	}

	stringSettings := map[string]*string{
		"scopekey":             &c.ScopeKey,
		"runtimeversion":       &c.RuntimeVersion,
		"platform":             &c.Platform,
		"updatesdirectory":     &c.UpdatesDirectory,
		"databasepath":         &c.DatabasePath,
		"embeddedbundlepath":   &c.EmbeddedBundlePath,
		"embeddedmanifestname": &c.EmbeddedManifestName,
		"logfilepath":          &c.LogFilePath,
		"httpauthuser":         &c.HTTPAuthUser,
		"httpauthpassword":     &c.HTTPAuthPassword,
		"outputformat":         &c.OutputFormat,
		"metricsfile":          &c.MetricsFile,
	}
	for key, target := range stringSettings {
		if val, exists := settings[key]; exists {
			if str, ok := val.(string); ok && str != "" {
				*target = str
			}
		}
	}

	boolSettings := map[string]*bool{
		"debug":                &c.Debug,
		"verbose":              &c.Verbose,
		"followredirects":      &c.FollowRedirects,
		"commitpartialupdates": &c.CommitPartialUpdates,
		"lazyassetfetch":       &c.LazyAssetFetch,
	}
	for key, target := range boolSettings {
		if val, exists := settings[key]; exists {
			b, err := settingBool(val)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*target = b
		}
	}

	intSettings := map[string]*int{
		"maxretries":             &c.MaxRetries,
		"retrydelay":             &c.RetryDelay,
		"downloadmaxconcurrency": &c.DownloadMaxConcurrency,
	}
	for key, target := range intSettings {
		if val, exists := settings[key]; exists {
			i, err := settingInt(val)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*target = i
		}
	}

	if val, exists := settings["requesttimeout"]; exists {
		d, err := settingDuration(val)
		if err != nil {
			return fmt.Errorf("invalid value for RequestTimeout: %w", err)
		}
		c.RequestTimeout = d
	}

	// Request headers (dictionary, array of name/value dictionaries, or "A=B,C=D")
	if val, exists := settings["requestheaders"]; exists {
		if c.RequestHeaders == nil {
			c.RequestHeaders = make(map[string]string)
		}
		switch headers := val.(type) {
		case map[string]interface{}:
			for key, value := range headers {
				if strValue, ok := value.(string); ok {
					c.RequestHeaders[key] = strValue
				}
			}
		case map[string]string:
			for key, value := range headers {
				c.RequestHeaders[key] = value
			}
		case []interface{}:
			for _, item := range headers {
				if headerDict, ok := item.(map[string]interface{}); ok {
					name, nameOk := headerDict["name"].(string)
					value, valueOk := headerDict["value"].(string)
					if nameOk && valueOk {
						c.RequestHeaders[name] = value
					}
				}
			}
		case string:
			for _, pair := range strings.Split(headers, ",") {
				name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
				if found && name != "" {
					c.RequestHeaders[name] = value
				}
			}
		default:
			return fmt.Errorf("RequestHeaders must be a dictionary, got %T", val)
		}
	}

	// Convenience: single Authorization header value
	if val, exists := settings["headerauthorization"]; exists {
		if str, ok := val.(string); ok && str != "" {
			c.HeaderAuthorization = str
		}
	}

	// Don't override Mode from a profile - that should come from command line or defaults
	return nil
}

func settingBool(val interface{}) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	case int, int64, uint64, float64:
		i, err := settingInt(v)
		return i != 0, err
	default:
		return false, fmt.Errorf("expected boolean, got %T", val)
	}
}

func settingInt(val interface{}) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("expected integer, got %T", val)
	}
}

// settingDuration accepts seconds as a number, or a duration string like "45s"
func settingDuration(val interface{}) (time.Duration, error) {
	if str, ok := val.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d, nil
		}
	}
	seconds, err := settingInt(val)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}
