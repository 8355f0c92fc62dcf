package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/me2ds/wilson/internal/hostmanager"
	"github.com/me2ds/wilson/pkg/log"
	"github.com/me2ds/wilson/pkg/supervisor"
)

// Config holds CLI configuration for wilson.
type Config struct {
	Children []string

	TickInterval time.Duration
	StopTimeout  time.Duration
	DrainTimeout time.Duration
	MatchMode    string

	MaxRestarts       int
	RestartBackoff    time.Duration
	RestartBackoffMax time.Duration

	ReportEvery int
	MailboxSize int

	LogLevel    string
	LogFormat   string
	WatchConfig bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Children:          []string{hostmanager.Name},
		TickInterval:      time.Second,
		StopTimeout:       supervisor.DefaultStopTimeout,
		DrainTimeout:      0, // wait for every child
		MatchMode:         supervisor.MatchIdentity.String(),
		MaxRestarts:       3,
		RestartBackoff:    500 * time.Millisecond,
		RestartBackoffMax: 10 * time.Second,
		ReportEvery:       hostmanager.DefaultReportEvery,
		MailboxSize:       64,
		LogLevel:          "info",
		LogFormat:         log.FormatConsole,
		WatchConfig:       true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Children) == 0 {
		return fmt.Errorf("at least one child is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative")
	}
	if _, err := supervisor.ParseMatchMode(c.MatchMode); err != nil {
		return err
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("max restarts must not be negative")
	}
	if c.RestartBackoff <= 0 || c.RestartBackoffMax < c.RestartBackoff {
		return fmt.Errorf("restart backoff must be positive and not exceed its maximum")
	}
	if c.MailboxSize <= 0 {
		return fmt.Errorf("mailbox size must be positive")
	}
	switch c.LogFormat {
	case log.FormatConsole, log.FormatJSON:
	default:
		return fmt.Errorf("log format must be %q or %q", log.FormatConsole, log.FormatJSON)
	}
	return nil
}

// SupervisorConfig converts c into the supervisor's configuration.
func (c *Config) SupervisorConfig() (supervisor.Config, error) {
	mode, err := supervisor.ParseMatchMode(c.MatchMode)
	if err != nil {
		return supervisor.Config{}, err
	}
	return supervisor.Config{
		Children:     append([]string(nil), c.Children...),
		StopTimeout:  c.StopTimeout,
		DrainTimeout: c.DrainTimeout,
		MatchMode:    mode,
	}, nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value from a pointer, allowing zero.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Zero is accepted; negative values are an error.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return fmt.Errorf("parse %s: must not be negative", flag)
	}
	*dst = i
	return nil
}

// setListFromString splits a comma separated list.
func (s *configSetter) setListFromString(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	s.setStrings(flag, out, dst)
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
