// Package config loads the engine's JSON configuration file and applies
// baseline defaults for anything the installer left unset.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Duration wraps time.Duration with JSON encoding as a duration string
// ("30s", "15m").
type Duration time.Duration

// UnmarshalJSON parses either a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(val) * time.Second)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds everything one update run needs to know about its target.
type Config struct {
	// Owner and Repo identify the release feed repository.
	Owner string `json:"owner"`
	Repo  string `json:"repo"`

	// ServiceName is the registered name of the service being updated.
	ServiceName string `json:"service_name"`

	// TaskName is the scheduled task that invokes this engine.
	TaskName string `json:"task_name"`

	// WorkDir is the scratch area for downloads and staging.
	WorkDir string `json:"work_dir"`

	// LogFile is the append-only run log path.
	LogFile string `json:"log_file"`

	// HistoryDB is the run-history database path.
	HistoryDB string `json:"history_db"`

	// ProxyURL is an explicit proxy; empty means use the environment.
	ProxyURL string `json:"proxy_url"`

	// UserAgent is sent on every feed and download request.
	UserAgent string `json:"user_agent"`

	// LockName names the system-wide update lock.
	LockName string `json:"lock_name"`

	LockTimeout     Duration `json:"lock_timeout"`
	FetchTimeout    Duration `json:"fetch_timeout"`
	FetchAttempts   uint64   `json:"fetch_attempts"`
	FetchRetryDelay Duration `json:"fetch_retry_delay"`
	DrainTimeout    Duration `json:"drain_timeout"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		UserAgent:       "updraft-updater",
		LockName:        "UpdraftUpdateLock",
		LockTimeout:     Duration(30 * time.Minute),
		FetchTimeout:    Duration(30 * time.Second),
		FetchAttempts:   3,
		FetchRetryDelay: Duration(10 * time.Second),
		DrainTimeout:    Duration(30 * time.Second),
	}
}

// Load reads the config file at path over the defaults. A missing file is
// an error: running the updater against the wrong service because a config
// went missing is worse than not running.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields with no sensible default.
func (c *Config) Validate() error {
	switch {
	case c.Owner == "" || c.Repo == "":
		return errors.New("owner and repo are required")
	case c.ServiceName == "":
		return errors.New("service_name is required")
	case c.TaskName == "":
		return errors.New("task_name is required")
	case c.WorkDir == "":
		return errors.New("work_dir is required")
	}
	return nil
}
