package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by LoadEnv
const EnvPrefix = "GO_UPDATES_"

// envKeys lists the settings that may be supplied through the environment
var envKeys = []string{
	"UPDATE_URL",
	"SCOPE_KEY",
	"RUNTIME_VERSION",
	"PLATFORM",
	"UPDATES_DIRECTORY",
	"DATABASE_PATH",
	"EMBEDDED_BUNDLE_PATH",
	"EMBEDDED_MANIFEST_NAME",
	"DEBUG",
	"VERBOSE",
	"LOG_FILE_PATH",
	"MAX_RETRIES",
	"RETRY_DELAY",
	"REQUEST_TIMEOUT",
	"FOLLOW_REDIRECTS",
	"REQUEST_HEADERS",
	"HTTP_AUTH_USER",
	"HTTP_AUTH_PASSWORD",
	"HEADER_AUTHORIZATION",
	"DOWNLOAD_MAX_CONCURRENCY",
	"COMMIT_PARTIAL_UPDATES",
	"LAZY_ASSET_FETCH",
	"OUTPUT_FORMAT",
	"METRICS_FILE",
}

// LoadEnv loads the given .env files (missing files are ignored) and then
// applies GO_UPDATES_* variables. Variables already set in the process
// environment win over values from .env files.
func (c *Config) LoadEnv(envFiles ...string) error {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	settings := map[string]interface{}{}
	for _, key := range envKeys {
		if val, ok := os.LookupEnv(EnvPrefix + key); ok && strings.TrimSpace(val) != "" {
			settings[key] = strings.TrimSpace(val)
		}
	}
	if len(settings) == 0 {
		return nil
	}
	return c.applySettingsMap(settings)
}
