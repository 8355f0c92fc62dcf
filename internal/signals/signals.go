// Package signals turns OS termination signals into shutdown callbacks.
// The first signal asks for a graceful shutdown; a second one forces exit.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/me2ds/wilson/pkg/log"
)

var termSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// New returns a channel subscribed to sigs, or to SIGINT, SIGTERM and
// SIGQUIT when none are given. Release it with Stop.
func New(sigs ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, 1)
	if len(sigs) == 0 {
		sigs = termSignals
	}
	signal.Notify(ch, sigs...)
	return ch
}

// Stop unsubscribes ch from signal delivery.
func Stop(ch chan os.Signal) {
	signal.Stop(ch)
}

// Watch reads ch until ctx is done or ch is closed. onFirst runs for the
// first signal received and onSecond for the next one, after which Watch
// returns.
func Watch(ctx context.Context, ch <-chan os.Signal, logger log.Logger, onFirst, onSecond func(os.Signal)) {
	logger = log.OrNoop(logger)
	seen := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if !seen {
				seen = true
				logger.Info("received signal, shutting down gracefully", log.String("signal", sig.String()))
				if onFirst != nil {
					onFirst(sig)
				}
				continue
			}
			logger.Warn("received second signal, forcing exit", log.String("signal", sig.String()))
			if onSecond != nil {
				onSecond(sig)
			}
			return
		}
	}
}
