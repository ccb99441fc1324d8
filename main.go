package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/go-updates/pkg/config"
	"github.com/go-updates/pkg/launcher"
	"github.com/go-updates/pkg/loader"
	"github.com/go-updates/pkg/mode"
	"github.com/go-updates/pkg/utils"
)

func main() {
	// Normalize boolean flags so forms like "--debug false" are treated as "--debug=false"
	os.Args = utils.NormalizeBooleanFlags(os.Args, map[string]struct{}{
		"debug":                  {},
		"verbose":                {},
		"follow-redirects":       {},
		"commit-partial-updates": {},
		"lazy-asset-fetch":       {},
	})

	// Create a new config with defaults
	cfg := config.NewConfig()

	modeFlag := flag.String("mode", "", "Operating mode: remote, embedded, launch, status (default: remote)")
	updateURL := flag.String("update-url", "", "URL of the update manifest")
	scopeKey := flag.String("scope-key", "", "Scope that updates are stored under (default: origin of --update-url)")
	runtimeVersion := flag.String("runtime-version", "", "Runtime version sent to the update server")
	platform := flag.String("platform", "", "Platform sent to the update server (default: current OS)")
	updatesDir := flag.String("updates-dir", "", "Directory holding the database and asset cache")
	databasePath := flag.String("database", "", "Path of the updates database (default: <updates-dir>/updates.db)")
	bundlePath := flag.String("bundle", "", "Embedded bundle directory (embedded mode)")
	manifestName := flag.String("manifest-name", "", "Manifest file name inside the embedded bundle")

	debug := flag.Bool("debug", false, "Enable debug logging")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	logFilePath := flag.String("log-file", "", "Also write logs to this rotating file")

	maxRetries := flag.Int("max-retries", 3, "Maximum number of retries per request")
	retryDelay := flag.Int("retry-delay", 2, "Delay between retries in seconds")
	requestTimeout := flag.Duration("request-timeout", 0, "Timeout per HTTP request (e.g. 30s)")
	followRedirects := flag.Bool("follow-redirects", true, "Follow HTTP redirects")
	var headers utils.MultiValueHeader
	flag.Var(&headers, "header", "Request header in Name=Value form (repeatable)")
	authorization := flag.String("authorization", "", "Authorization header value (e.g. 'Bearer xxx')")
	httpAuthUser := flag.String("http-auth-user", "", "HTTP Basic Auth username")
	httpAuthPassword := flag.String("http-auth-password", "", "HTTP Basic Auth password")

	downloadMaxConcurrency := flag.Int("download-max-concurrency", 4, "Maximum concurrent asset downloads")
	commitPartial := flag.Bool("commit-partial-updates", true, "Commit an update when only non-launch assets fail")
	lazyFetch := flag.Bool("lazy-asset-fetch", true, "Fetch missing assets when launching")

	outputFormat := flag.StringP("output", "o", "", "Output format for launch and status: text, json, yaml")
	metricsFile := flag.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")

	configFile := flag.String("config", "", "Config file (json, yaml, toml or plist)")
	envFile := flag.String("env-file", ".env", "dotenv file with GO_UPDATES_* settings")
	profileDomain := flag.String("profile-domain", config.DefaultProfileDomain, "Preference domain to read the managed profile from")

	flag.Parse()

	// Apply mode early so the profile's mode section is picked
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}

	profileResult, err := cfg.ReadFromProfile(*profileDomain)
	if err != nil {
		profileResult = &config.ProfileResult{ConfigFound: false, Source: "none"}
		fmt.Printf("Warning: profile reading failed (continuing with defaults): %v\n", err)
	}
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(2)
		}
	}
	if err := cfg.LoadEnv(*envFile); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(2)
	}

	// Create a map to track which flags were explicitly set
	flagsSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
	})

	// Only override lower layers with flags that were explicitly set
	if flagsSet["mode"] {
		cfg.Mode = *modeFlag
	}
	if flagsSet["update-url"] {
		cfg.UpdateURL = *updateURL
	}
	if flagsSet["scope-key"] {
		cfg.ScopeKey = *scopeKey
	}
	if flagsSet["runtime-version"] {
		cfg.RuntimeVersion = *runtimeVersion
	}
	if flagsSet["platform"] {
		cfg.Platform = *platform
	}
	if flagsSet["updates-dir"] {
		cfg.UpdatesDirectory = *updatesDir
	}
	if flagsSet["database"] {
		cfg.DatabasePath = *databasePath
	}
	if flagsSet["bundle"] {
		cfg.EmbeddedBundlePath = *bundlePath
	}
	if flagsSet["manifest-name"] {
		cfg.EmbeddedManifestName = *manifestName
	}
	if flagsSet["debug"] {
		cfg.Debug = *debug
	}
	if flagsSet["verbose"] {
		cfg.Verbose = *verbose
	}
	if flagsSet["log-file"] {
		cfg.LogFilePath = *logFilePath
	}
	if flagsSet["max-retries"] {
		cfg.MaxRetries = *maxRetries
	}
	if flagsSet["retry-delay"] {
		cfg.RetryDelay = *retryDelay
	}
	if flagsSet["request-timeout"] {
		cfg.RequestTimeout = *requestTimeout
	}
	if flagsSet["follow-redirects"] {
		cfg.FollowRedirects = *followRedirects
	}
	if flagsSet["header"] {
		if cfg.RequestHeaders == nil {
			cfg.RequestHeaders = map[string]string{}
		}
		for k, v := range headers.Headers {
			cfg.RequestHeaders[k] = v
		}
	}
	if flagsSet["authorization"] {
		cfg.HeaderAuthorization = *authorization
	}
	if flagsSet["http-auth-user"] {
		cfg.HTTPAuthUser = *httpAuthUser
	}
	if flagsSet["http-auth-password"] {
		cfg.HTTPAuthPassword = *httpAuthPassword
	}
	if flagsSet["download-max-concurrency"] {
		cfg.DownloadMaxConcurrency = *downloadMaxConcurrency
	}
	if flagsSet["commit-partial-updates"] {
		cfg.CommitPartialUpdates = *commitPartial
	}
	if flagsSet["lazy-asset-fetch"] {
		cfg.LazyAssetFetch = *lazyFetch
	}
	if flagsSet["output"] {
		cfg.OutputFormat = *outputFormat
	}
	if flagsSet["metrics-file"] {
		cfg.MetricsFile = *metricsFile
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(2)
	}

	var logger *utils.Logger
	if cfg.LogFilePath != "" {
		logger, err = utils.NewLoggerWithFile(cfg.Debug, cfg.Verbose, cfg.LogFilePath)
		if err != nil {
			fmt.Printf("Warning: Failed to create file logger: %v\nUsing console-only logging\n", err)
			logger = utils.NewLogger(cfg.Debug, cfg.Verbose)
		}
	} else {
		logger = utils.NewLogger(cfg.Debug, cfg.Verbose)
	}

	if profileResult.ConfigFound {
		logger.Info("Starting go-updates in %s mode (profile %s)", cfg.Mode, profileResult.Source)
		logger.Debug("Config hierarchy: defaults → shared → %s → config file → environment → command line", cfg.Mode)
	} else {
		logger.Info("Starting go-updates in %s mode", cfg.Mode)
		logger.Debug("No profile found at domain: %s", *profileDomain)
	}
	logger.Debug("System: %s", utils.GetPlatformInfo())

	// Log full final configuration (with sensitive fields redacted)
	if cfg.Debug {
		if b, err := json.MarshalIndent(cfg.RedactedForLogging(), "", "  "); err == nil {
			logger.Debug("Final configuration:\n%s", string(b))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	logger.Close()
	os.Exit(code)
}

// run dispatches to the selected mode and returns the process exit code
func run(ctx context.Context, cfg *config.Config, logger *utils.Logger) int {
	switch cfg.Mode {
	case "remote", "embedded":
		var outcome loader.Outcome
		var err error
		if cfg.Mode == "remote" {
			outcome, err = mode.RunRemote(ctx, cfg, logger)
		} else {
			outcome, err = mode.RunEmbedded(ctx, cfg, logger)
		}
		if err != nil {
			logger.Error("❌ %v", err)
			return 1
		}
		fmt.Println(outcome.String())
		if outcome.Kind == loader.Failed {
			return 1
		}
	case "launch":
		if _, err := mode.RunLaunch(ctx, cfg, logger, os.Stdout); err != nil {
			logger.Error("❌ %v", err)
			if errors.Is(err, launcher.ErrNoLaunchableUpdate) {
				return 3
			}
			return 1
		}
	case "status":
		if _, err := mode.RunStatus(ctx, cfg, logger, os.Stdout); err != nil {
			logger.Error("❌ %v", err)
			return 1
		}
	default:
		logger.Error("Unknown mode: %s", cfg.Mode)
		fmt.Printf("Valid modes: remote, embedded, launch, status\n")
		return 2
	}
	return 0
}
