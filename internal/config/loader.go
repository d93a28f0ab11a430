package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for covenant-gate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("covenant-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: COVENANT_GATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("COVENANT_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a covenant-gate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "covenant-gate" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".covenant-gate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\covenant-gate (typically C:\ProgramData\covenant-gate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "covenant-gate"))
		}
	} else {
		paths = append(paths, "/etc/covenant-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for covenant-gate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "covenant-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// This enables overriding nested config values via environment variables.
// Example: COVENANT_GATE_SERVER_HTTP_ADDR overrides server.http_addr
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.tls_cert")
	_ = viper.BindEnv("server.tls_key")
	_ = viper.BindEnv("server.log_level")

	// Artifact config
	_ = viper.BindEnv("artifact.path")
	_ = viper.BindEnv("artifact.repo_root")
	_ = viper.BindEnv("artifact.posture")

	// Firewall config
	_ = viper.BindEnv("ingress.max_request_size")
	_ = viper.BindEnv("egress.max_response_size")
	_ = viper.BindEnv("egress.strict")

	// Rate limit config
	_ = viper.BindEnv("rate_limit.window_ms")
	_ = viper.BindEnv("rate_limit.max_requests")

	// Gate config
	_ = viper.BindEnv("concurrency.max_total")
	_ = viper.BindEnv("concurrency.max_per_actor")
	_ = viper.BindEnv("job_timeout_ms")

	// Heartbeat config
	_ = viper.BindEnv("heartbeat.interval_ms")

	// Store config
	_ = viper.BindEnv("store.kind")
	_ = viper.BindEnv("store.path")

	// Knowledge config
	_ = viper.BindEnv("knowledge.corpus_path")
	_ = viper.BindEnv("knowledge.mode")

	// Note: anchor_actors, auth.identities and auth.api_keys are arrays,
	// complex to override via env. Users should use the config file for these.

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
