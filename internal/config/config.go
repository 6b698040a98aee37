// Package config loads and live-reloads the server's runtime knobs (spec
// §6 "Configuration"). Grounded on the teacher's cmd/bd/config.go
// (per-file `viper.New()` + `SetConfigFile`/`ReadInConfig`, rather than
// the global package-level viper singleton `internal/config` itself
// uses) and its config.yaml file-watch loop in cmd/bd/list.go
// (fsnotify.NewWatcher + debounced reload on Write events).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// AutoResetErrorTypes is the closed enumeration spec §9's Open Question
// on auto-reset resolves to (see DESIGN.md decision 2): any
// auto_reset.<key> not in this set is rejected at load time.
var AutoResetErrorTypes = map[string]bool{
	"compute_error": true,
	"timeout":       true,
	"random_error":  true,
	"unknown_error": true,
}

// APILimits bounds the page size of the three paginated submitter calls
// spec §6 names.
type APILimits struct {
	GetRecords        int
	AddRecords        int
	GetDatasetEntries int
}

// AutoReset controls C7's automatic error-reset sweep: when enabled, a
// record whose latest compute_history error_type has been retried fewer
// than MaxAttempts[error_type] times is reset back to waiting rather
// than left in error.
type AutoReset struct {
	Enabled     bool
	MaxAttempts map[string]int // error_type -> max retry attempts
}

// Config is the full set of recognized keys from spec §6.
type Config struct {
	HeartbeatTimeout         time.Duration
	ServiceIterationInterval time.Duration
	AutoReset                AutoReset
	APILimits                APILimits
	TemporaryDir             string
}

func defaults() *Config {
	return &Config{
		HeartbeatTimeout:         5 * time.Minute,
		ServiceIterationInterval: 10 * time.Second,
		AutoReset:                AutoReset{Enabled: false, MaxAttempts: map[string]int{}},
		APILimits:                APILimits{GetRecords: 1000, AddRecords: 1000, GetDatasetEntries: 1000},
		TemporaryDir:             "",
	}
}

// Defaults returns the zero-config Config every Load falls back to when
// no file is present, for callers (internal/orchestrator) that need a
// Config before any file has been loaded.
func Defaults() *Config {
	return defaults()
}

// Load reads path (toml or yaml, by extension, viper's usual
// auto-detection) into a Config, applying defaults for any key the file
// omits, then lets QCFRACTAL_<SECTION>_<KEY> environment variables
// override individual keys (e.g. QCFRACTAL_HEARTBEAT_TIMEOUT,
// QCFRACTAL_AUTO_RESET_ENABLED) — viper's AutomaticEnv, the same
// env-override-beats-file precedence the teacher's config loader uses.
// A missing file is not an error — it's the teacher's one-shot
// validateSyncConfig convention (cmd/bd/config.go): absence means
// defaults, not failure.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("qcfractal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			return defaults(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := defaults()

	if v.IsSet("heartbeat_timeout") {
		cfg.HeartbeatTimeout = v.GetDuration("heartbeat_timeout")
	}
	if v.IsSet("service_iteration_interval") {
		cfg.ServiceIterationInterval = v.GetDuration("service_iteration_interval")
	}
	if v.IsSet("temporary_dir") {
		cfg.TemporaryDir = v.GetString("temporary_dir")
	}
	if v.IsSet("api_limits.get_records") {
		cfg.APILimits.GetRecords = v.GetInt("api_limits.get_records")
	}
	if v.IsSet("api_limits.add_records") {
		cfg.APILimits.AddRecords = v.GetInt("api_limits.add_records")
	}
	if v.IsSet("api_limits.get_dataset_entries") {
		cfg.APILimits.GetDatasetEntries = v.GetInt("api_limits.get_dataset_entries")
	}

	if v.IsSet("auto_reset.enabled") {
		cfg.AutoReset.Enabled = v.GetBool("auto_reset.enabled")
	}
	autoResetSection, ok := v.Get("auto_reset").(map[string]interface{})
	if ok {
		for key := range autoResetSection {
			if key == "enabled" {
				continue
			}
			if !AutoResetErrorTypes[key] {
				return nil, fmt.Errorf("config: auto_reset.%s is not a recognized error type (valid: compute_error, timeout, random_error, unknown_error)", key)
			}
			cfg.AutoReset.MaxAttempts[key] = v.GetInt("auto_reset." + key)
		}
	}

	return cfg, nil
}
