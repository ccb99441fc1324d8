package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Format represents the file format of a configuration file.
type Format int

const (
	FormatUnknown Format = iota
	FormatYAML
	FormatTOML
	FormatJSON
	FormatPlist
)

// detectFormat determines the file format based on extension or content.
func detectFormat(path string, content []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	case ".plist":
		return FormatPlist
	}
	return sniffFormat(content)
}

// sniffFormat attempts to detect format from content.
func sniffFormat(content []byte) Format {
	if bytes.HasPrefix(content, []byte("bplist")) {
		return FormatPlist
	}
	trimmed := strings.TrimSpace(string(content))

	if strings.HasPrefix(trimmed, "<?xml") || strings.HasPrefix(trimmed, "<plist") {
		return FormatPlist
	}
	if strings.HasPrefix(trimmed, "{") {
		return FormatJSON
	}

	// TOML uses key = value and [sections]; YAML uses key: value
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") || strings.Contains(line, " = ") {
			return FormatTOML
		}
		if strings.Contains(line, ":") {
			return FormatYAML
		}
	}
	return FormatUnknown
}

// LoadFile applies settings from a JSON, YAML, TOML or plist configuration file.
// The file uses the same keys as the preferences profile, including the
// "shared" and per-mode sections.
func (c *Config) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	settings := map[string]interface{}{}
	switch detectFormat(path, content) {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &settings); err != nil {
			return fmt.Errorf("YAML parse error in %s: %w", path, err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, &settings); err != nil {
			return fmt.Errorf("TOML parse error in %s: %w", path, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(content, &settings); err != nil {
			return fmt.Errorf("JSON parse error in %s: %w", path, err)
		}
	case FormatPlist:
		if _, err := plist.Unmarshal(content, &settings); err != nil {
			return fmt.Errorf("plist parse error in %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unknown config file format: %s", path)
	}

	return c.applyProfile(settings)
}
