// Package wilson runs named children under a supervisor that forwards
// periodic ticks and shuts down only after every child has stopped.
//
// Example usage:
//
//	cfg := wilson.DefaultConfig()
//	cfg.StopTimeout = 10 * time.Second
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := wilson.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
package wilson

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/me2ds/wilson/internal/app"
	"github.com/me2ds/wilson/internal/cliconfig"
	"github.com/me2ds/wilson/internal/hostmanager"
	"github.com/me2ds/wilson/pkg/child"
	"github.com/me2ds/wilson/pkg/log"
	"github.com/me2ds/wilson/pkg/registry"
)

// Config holds the configuration for a wilson process.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = cliconfig.Config

// Runtime hosts the supervisor. See New.
type Runtime = app.Runtime

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// New validates cfg and builds a Runtime whose children come from the
// built-in registry.
func New(cfg Config, logger log.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = log.OrNoop(logger)

	reg := registry.New(logger, child.WithMailboxSize(cfg.MailboxSize))
	if err := hostmanager.Register(reg, cfg.ReportEvery); err != nil {
		return nil, err
	}
	if err := checkChildren(cfg.Children, reg.Names()); err != nil {
		return nil, err
	}

	supCfg, err := cfg.SupervisorConfig()
	if err != nil {
		return nil, err
	}
	return app.New(reg, app.Config{
		Supervisor:        supCfg,
		TickInterval:      cfg.TickInterval,
		MaxRestarts:       cfg.MaxRestarts,
		RestartBackoff:    cfg.RestartBackoff,
		RestartBackoffMax: cfg.RestartBackoffMax,
	}, app.WithLogger(logger))
}

// Run builds a Runtime logging to stderr and blocks until it stops.
// Canceling ctx starts a graceful shutdown.
func Run(ctx context.Context, cfg Config) error {
	zl, err := log.NewZerolog(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	rt, err := New(cfg, log.NewZerologAdapterWithLogger(zl))
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func checkChildren(want, known []string) error {
	set := make(map[string]struct{}, len(known))
	for _, n := range known {
		set[n] = struct{}{}
	}
	for _, n := range want {
		if _, ok := set[n]; !ok {
			return fmt.Errorf("unknown child %q (known: %s)", n, strings.Join(known, ", "))
		}
	}
	return nil
}
