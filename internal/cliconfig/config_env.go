package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (WILSON_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setListFromString("children", os.Getenv("WILSON_CHILDREN"), &cfg.Children)
	s.setString("match-mode", os.Getenv("WILSON_MATCH_MODE"), &cfg.MatchMode)
	s.setString("log-level", os.Getenv("WILSON_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("WILSON_LOG_FORMAT"), &cfg.LogFormat)

	if err := s.setDuration("tick-interval", os.Getenv("WILSON_TICK_INTERVAL"), &cfg.TickInterval); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", os.Getenv("WILSON_STOP_TIMEOUT"), &cfg.StopTimeout); err != nil {
		return err
	}
	if err := s.setDuration("drain-timeout", os.Getenv("WILSON_DRAIN_TIMEOUT"), &cfg.DrainTimeout); err != nil {
		return err
	}
	if err := s.setDuration("restart-backoff", os.Getenv("WILSON_RESTART_BACKOFF"), &cfg.RestartBackoff); err != nil {
		return err
	}
	if err := s.setDuration("restart-backoff-max", os.Getenv("WILSON_RESTART_BACKOFF_MAX"), &cfg.RestartBackoffMax); err != nil {
		return err
	}

	if err := s.setIntFromString("max-restarts", os.Getenv("WILSON_MAX_RESTARTS"), &cfg.MaxRestarts); err != nil {
		return err
	}
	if err := s.setIntFromString("report-every", os.Getenv("WILSON_REPORT_EVERY"), &cfg.ReportEvery); err != nil {
		return err
	}
	if err := s.setIntFromString("mailbox-size", os.Getenv("WILSON_MAILBOX_SIZE"), &cfg.MailboxSize); err != nil {
		return err
	}

	s.setBoolFromString("watch-config", os.Getenv("WILSON_WATCH_CONFIG"), &cfg.WatchConfig)

	return nil
}
