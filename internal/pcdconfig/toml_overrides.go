package pcdconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// tomlOverrides mirrors the subset of Config an operator may reasonably
// want to hand-edit in a static startup file. Fields an operator omits are
// left untouched on the base Config (JSON remains canonical for anything
// the daemon itself rewrites at runtime, e.g. none of Config's fields
// today, but the split is kept for when one appears).
type tomlOverrides struct {
	TickPeriodMs    *int    `toml:"tick_period_ms"`
	SocketDir       *string `toml:"socket_dir"`
	EndpointName    *string `toml:"endpoint_name"`
	OwnerID         *int    `toml:"owner_id"`
	RulesFile       *string `toml:"rules_file"`
	CrashFifo       *string `toml:"crash_fifo"`
	LogDir          *string `toml:"log_dir"`
	RegistryEntries *int    `toml:"registry_entries"`
	Debug           *bool   `toml:"debug"`
}

// ApplyTOMLOverrides reads a TOML file at path and overlays any fields it
// sets onto cfg, then re-validates. A missing file is not an error: it
// simply means the operator has no overrides.
func ApplyTOMLOverrides(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pcdconfig: stat %s: %w", path, err)
	}

	var o tomlOverrides
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return fmt.Errorf("pcdconfig: decoding %s: %w", path, err)
	}

	if o.TickPeriodMs != nil {
		cfg.TickPeriodMs = *o.TickPeriodMs
	}
	if o.SocketDir != nil {
		cfg.SocketDir = *o.SocketDir
	}
	if o.EndpointName != nil {
		cfg.EndpointName = *o.EndpointName
	}
	if o.OwnerID != nil {
		cfg.OwnerID = *o.OwnerID
	}
	if o.RulesFile != nil {
		cfg.RulesFile = *o.RulesFile
	}
	if o.CrashFifo != nil {
		cfg.CrashFifo = *o.CrashFifo
	}
	if o.LogDir != nil {
		cfg.LogDir = *o.LogDir
	}
	if o.RegistryEntries != nil {
		cfg.RegistryEntries = *o.RegistryEntries
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}

	return validate(cfg)
}
