// Package pcdconfig loads, validates, and persists the supervisor's
// runtime configuration: tick cadence, control-plane naming, rules-file
// location, and crash/diagnostic log paths.
package pcdconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Sentinel errors, matched with errors.Is against the wrapped cause.
var (
	ErrNotFound     = errors.New("config file not found")
	ErrInvalidValue = errors.New("invalid config value")
	ErrMissingField = errors.New("missing required field")
)

// CurrentVersion is the schema version this build writes and the highest
// it accepts on load.
const CurrentVersion = 1

// Defaults mirror the supervisor's built-in fallbacks (spec §4, §6).
const (
	DefaultTickPeriodMs    = 200
	MinTickPeriodMs        = 10
	MaxTickPeriodMs        = 500
	DefaultOwnerID         = 3085
	DefaultEndpointName    = "pcd-server"
	DefaultRegistryEntries = 32
)

// Config is the supervisor's on-disk configuration (spec §6, §7).
type Config struct {
	Version int `json:"version"`

	TickPeriodMs int    `json:"tick_period_ms"`
	SocketDir    string `json:"socket_dir"`
	EndpointName string `json:"endpoint_name"`
	OwnerID      int    `json:"owner_id"`

	RulesFile    string `json:"rules_file"`
	CrashFifo    string `json:"crash_fifo"`
	LogDir       string `json:"log_dir"`

	RegistryEntries int  `json:"registry_entries"`
	Debug           bool `json:"debug"`
}

// TickPeriod returns TickPeriodMs as a time.Duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMs) * time.Millisecond
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		Version:         CurrentVersion,
		TickPeriodMs:    DefaultTickPeriodMs,
		SocketDir:       "/var/run/pcd",
		EndpointName:    DefaultEndpointName,
		OwnerID:         DefaultOwnerID,
		RulesFile:       "/etc/pcd/rules.conf",
		CrashFifo:       "/var/run/pcd/crash.fifo",
		LogDir:          "/var/log/pcd",
		RegistryEntries: DefaultRegistryEntries,
	}
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path if present, else returns New()'s defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return New(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save validates and persists cfg to path.
func Save(path string, cfg *Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func validate(c *Config) error {
	if c.Version > CurrentVersion {
		return fmt.Errorf("%w: config version %d newer than supported %d", ErrInvalidValue, c.Version, CurrentVersion)
	}
	if c.TickPeriodMs == 0 {
		c.TickPeriodMs = DefaultTickPeriodMs
	}
	if c.TickPeriodMs < MinTickPeriodMs || c.TickPeriodMs > MaxTickPeriodMs {
		return fmt.Errorf("%w: tick_period_ms %d outside [%d, %d]", ErrInvalidValue, c.TickPeriodMs, MinTickPeriodMs, MaxTickPeriodMs)
	}
	if c.RulesFile == "" {
		return fmt.Errorf("%w: rules_file", ErrMissingField)
	}
	if c.EndpointName == "" {
		c.EndpointName = DefaultEndpointName
	}
	if c.OwnerID == 0 {
		c.OwnerID = DefaultOwnerID
	}
	if c.RegistryEntries == 0 {
		c.RegistryEntries = DefaultRegistryEntries
	}
	return nil
}
