package utils

import (
	"runtime"
	"strings"
)

// GetPlatform returns the platform name sent to the update server
func GetPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	default:
		return runtime.GOOS
	}
}

// GetArchitecture returns the current system architecture
func GetArchitecture() string {
	return runtime.GOARCH
}

// NormalizePlatform lower-cases a configured platform and maps common aliases
func NormalizePlatform(platform string) string {
	p := strings.ToLower(strings.TrimSpace(platform))
	switch p {
	case "":
		return GetPlatform()
	case "darwin", "osx":
		return "macos"
	case "iphoneos":
		return "ios"
	default:
		return p
	}
}

// GetPlatformInfo returns human-readable platform information
func GetPlatformInfo() string {
	return GetPlatform() + " (" + GetArchitecture() + ")"
}
