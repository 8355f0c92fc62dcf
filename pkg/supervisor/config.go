package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// MatchMode selects how the drain matches termination notifications
// against the children it is waiting for.
type MatchMode int

const (
	// MatchIdentity counts only the first notification of each child that
	// was running when draining began.
	MatchIdentity MatchMode = iota

	// MatchCount counts every notification and stops once the count reaches
	// the number of children present when draining began.
	MatchCount
)

// String returns the configuration name of the mode.
func (m MatchMode) String() string {
	switch m {
	case MatchIdentity:
		return "identity"
	case MatchCount:
		return "count"
	default:
		return "unknown"
	}
}

// ParseMatchMode parses "identity" or "count".
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity", "":
		return MatchIdentity, nil
	case "count":
		return MatchCount, nil
	default:
		return MatchIdentity, fmt.Errorf("%w: unknown match mode %q", ErrInvalidConfig, s)
	}
}

// DefaultStopTimeout is used when a ShutdownRequest carries no timeout.
const DefaultStopTimeout = 5 * time.Second

// DefaultInboxSize is the buffer size of the supervisor's inbox.
const DefaultInboxSize = 64

// Config configures a Supervisor.
type Config struct {
	// Children are created by name at startup.
	Children []string

	// StopTimeout is the per-child grace period used when a ShutdownRequest
	// has no timeout and when Run's context is canceled.
	StopTimeout time.Duration

	// DrainTimeout bounds the whole drain. Zero waits forever.
	DrainTimeout time.Duration

	MatchMode MatchMode

	// InboxSize is the capacity of the inbox channel.
	InboxSize int
}

// DefaultConfig returns a Config with no children and default timeouts.
func DefaultConfig() Config {
	return Config{
		StopTimeout: DefaultStopTimeout,
		InboxSize:   DefaultInboxSize,
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.InboxSize == 0 {
		c.InboxSize = DefaultInboxSize
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Children))
	for _, name := range c.Children {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty child name", ErrInvalidConfig)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate child name %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("%w: stop timeout must not be negative", ErrInvalidConfig)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("%w: drain timeout must not be negative", ErrInvalidConfig)
	}
	if c.InboxSize < 0 {
		return fmt.Errorf("%w: inbox size must not be negative", ErrInvalidConfig)
	}
	if c.MatchMode != MatchIdentity && c.MatchMode != MatchCount {
		return fmt.Errorf("%w: unknown match mode %d", ErrInvalidConfig, c.MatchMode)
	}
	return nil
}
