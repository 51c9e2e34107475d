// Package config holds engine configuration.
//
// Configuration is resolved with priority env > file > defaults and can be
// written as YAML:
//
//	dedupe_hazards: true
//	report_indeterminate: false
//	log_level: info
//	retain_latest_signal: true
//	max_propagation_steps: 100000
//	host_wait_timeout: 5s
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds configuration files read by Load.
const MaxFileSize = 1 << 20

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Config configures an engine.
//
// Thread Safety: safe to read concurrently; not safe to modify once passed
// to an engine.
type Config struct {
	// DedupeHazards reports each distinct hazard once.
	DedupeHazards bool `yaml:"dedupe_hazards"`

	// ReportIndeterminate forwards hazards masked by external semaphores to
	// the sink. They are always counted.
	ReportIndeterminate bool `yaml:"report_indeterminate"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// RetainLatestSignal keeps the batch of each semaphore's latest signal
	// alive across host synchronization.
	RetainLatestSignal bool `yaml:"retain_latest_signal"`

	// MaxPropagationSteps bounds one resolution pass. Exceeding it leaves
	// the remaining batches unresolved and logs a warning.
	MaxPropagationSteps int `yaml:"max_propagation_steps"`

	// HostWaitTimeout bounds a host wait whose context has no deadline.
	HostWaitTimeout time.Duration `yaml:"host_wait_timeout"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DedupeHazards:       true,
		ReportIndeterminate: false,
		LogLevel:            "info",
		RetainLatestSignal:  true,
		MaxPropagationSteps: 100000,
		HostWaitTimeout:     5 * time.Second,
	}
}

// Load reads configuration from path over the defaults, applies SYNCVAL_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return err
	}
	if len(data) > MaxFileSize {
		return fmt.Errorf("%s exceeds %d bytes", path, MaxFileSize)
	}
	return Parse(data, cfg)
}

// Parse decodes YAML data into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("SYNCVAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYNCVAL_DEDUPE_HAZARDS"); v != "" {
		cfg.DedupeHazards = v == "true" || v == "1"
	}
	if v := os.Getenv("SYNCVAL_REPORT_INDETERMINATE"); v != "" {
		cfg.ReportIndeterminate = v == "true" || v == "1"
	}
	if v := os.Getenv("SYNCVAL_MAX_PROPAGATION_STEPS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.MaxPropagationSteps = i
		}
	}
	if v := os.Getenv("SYNCVAL_HOST_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HostWaitTimeout = d
		}
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.MaxPropagationSteps < 1 {
		return fmt.Errorf("%w: max_propagation_steps must be >= 1", ErrInvalid)
	}
	if c.HostWaitTimeout <= 0 {
		return fmt.Errorf("%w: host_wait_timeout must be > 0", ErrInvalid)
	}
	return nil
}

// Level returns the slog level for LogLevel, or Info if it is invalid.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel parses debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
