package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Children          []string `toml:"children"`
	TickInterval      string   `toml:"tick_interval"`
	StopTimeout       string   `toml:"stop_timeout"`
	DrainTimeout      string   `toml:"drain_timeout"`
	MatchMode         string   `toml:"match_mode"`
	MaxRestarts       *int     `toml:"max_restarts"`
	RestartBackoff    string   `toml:"restart_backoff"`
	RestartBackoffMax string   `toml:"restart_backoff_max"`
	ReportEvery       int      `toml:"report_every"`
	MailboxSize       int      `toml:"mailbox_size"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	WatchConfig       *bool    `toml:"watch_config"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.wilson/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".wilson", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setStrings("children", fc.Children, &cfg.Children)
	s.setString("match-mode", fc.MatchMode, &cfg.MatchMode)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	if err := s.setDuration("tick-interval", fc.TickInterval, &cfg.TickInterval); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", fc.StopTimeout, &cfg.StopTimeout); err != nil {
		return err
	}
	if err := s.setDuration("drain-timeout", fc.DrainTimeout, &cfg.DrainTimeout); err != nil {
		return err
	}
	if err := s.setDuration("restart-backoff", fc.RestartBackoff, &cfg.RestartBackoff); err != nil {
		return err
	}
	if err := s.setDuration("restart-backoff-max", fc.RestartBackoffMax, &cfg.RestartBackoffMax); err != nil {
		return err
	}

	s.setIntPtr("max-restarts", fc.MaxRestarts, &cfg.MaxRestarts)
	s.setInt("report-every", fc.ReportEvery, &cfg.ReportEvery)
	s.setInt("mailbox-size", fc.MailboxSize, &cfg.MailboxSize)

	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
