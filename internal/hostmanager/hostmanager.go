// Package hostmanager is the default supervisor child. It consumes ticks
// and reports its progress through the logger.
package hostmanager

import (
	"context"
	"sync/atomic"

	"github.com/me2ds/wilson/pkg/child"
	"github.com/me2ds/wilson/pkg/log"
	"github.com/me2ds/wilson/pkg/registry"
	"github.com/me2ds/wilson/pkg/supervisor"
)

// Name is the name the host manager is registered under.
const Name = "host-manager"

// DefaultReportEvery is the number of ticks between progress log lines.
const DefaultReportEvery = 60

// HostManager counts ticks until it is asked to stop.
type HostManager struct {
	logger      log.Logger
	reportEvery uint64
	ticks       atomic.Uint64
}

// New creates a host manager that logs every reportEvery ticks.
func New(logger log.Logger, reportEvery int) *HostManager {
	if reportEvery <= 0 {
		reportEvery = DefaultReportEvery
	}
	return &HostManager{
		logger:      log.OrNoop(logger),
		reportEvery: uint64(reportEvery),
	}
}

// Register adds the host manager to r.
func Register(r *registry.Registry, reportEvery int) error {
	return r.Register(Name, func(logger log.Logger) (child.Runner, error) {
		return New(logger, reportEvery), nil
	})
}

// Ticks returns the number of ticks received.
func (h *HostManager) Ticks() uint64 {
	return h.ticks.Load()
}

// Run implements child.Runner.
func (h *HostManager) Run(ctx context.Context, inbox <-chan supervisor.Event) error {
	h.logger.Info("host manager started")
	for {
		select {
		case <-ctx.Done():
			reason, _ := child.StopReason(ctx)
			h.logger.Info("host manager stopping",
				log.String("reason", reason),
				log.Uint64("ticks", h.Ticks()),
			)
			return nil
		case ev := <-inbox:
			switch ev.(type) {
			case supervisor.Tick:
				if n := h.ticks.Add(1); n%h.reportEvery == 0 {
					h.logger.Info("host manager alive", log.Uint64("ticks", n))
				}
			default:
				h.logger.Warn("unhandled event")
			}
		}
	}
}
