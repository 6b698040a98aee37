package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Profile is a named bundle of config overrides — a deployment profile
// (e.g. "ci", "production-heavy") that a server invocation selects by
// name rather than editing the primary config file. Grounded on the
// teacher's recipes.toml convention (internal/recipes/recipes.go): a
// flat `toml.Unmarshal` into a map-of-named-structs, loaded from an
// optional file that's simply absent in the common case.
type Profile struct {
	HeartbeatTimeout         string `toml:"heartbeat_timeout,omitempty"`
	ServiceIterationInterval string `toml:"service_iteration_interval,omitempty"`
	AutoResetEnabled         *bool  `toml:"auto_reset_enabled,omitempty"`
	GetRecordsLimit          int    `toml:"get_records_limit,omitempty"`
	AddRecordsLimit          int    `toml:"add_records_limit,omitempty"`
}

type profileFile struct {
	Profiles map[string]Profile `toml:"profiles"`
}

// LoadProfiles reads a profiles.toml file. A missing file returns an
// empty set, not an error.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if os.IsNotExist(err) {
		return map[string]Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read profiles %s: %w", path, err)
	}
	var pf profileFile
	if _, err := toml.Decode(string(data), &pf); err != nil {
		return nil, fmt.Errorf("config: parse profiles %s: %w", path, err)
	}
	return pf.Profiles, nil
}

// Apply layers a named profile's overrides onto cfg in place, leaving
// any field the profile left zero-valued untouched.
func (p Profile) Apply(cfg *Config) error {
	if p.HeartbeatTimeout != "" {
		d, err := parseDuration(p.HeartbeatTimeout)
		if err != nil {
			return fmt.Errorf("config: profile heartbeat_timeout: %w", err)
		}
		cfg.HeartbeatTimeout = d
	}
	if p.ServiceIterationInterval != "" {
		d, err := parseDuration(p.ServiceIterationInterval)
		if err != nil {
			return fmt.Errorf("config: profile service_iteration_interval: %w", err)
		}
		cfg.ServiceIterationInterval = d
	}
	if p.AutoResetEnabled != nil {
		cfg.AutoReset.Enabled = *p.AutoResetEnabled
	}
	if p.GetRecordsLimit > 0 {
		cfg.APILimits.GetRecords = p.GetRecordsLimit
	}
	if p.AddRecordsLimit > 0 {
		cfg.APILimits.AddRecords = p.AddRecordsLimit
	}
	return nil
}
