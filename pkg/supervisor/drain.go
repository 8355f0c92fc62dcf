package supervisor

import (
	"sort"
	"time"

	"github.com/me2ds/wilson/pkg/log"
)

// drain tracks the children a draining supervisor is waiting for.
// It exists only while the supervisor is Draining.
type drain struct {
	mode     MatchMode
	request  ShutdownRequest
	expected int
	observed int
	pending  map[string]string // child ID -> name
	started  time.Time
}

// startDrain snapshots children and asks each of them to stop. All stop
// requests are issued before the caller can process another event.
func startDrain(children map[string]ChildHandle, req ShutdownRequest, mode MatchMode, logger log.Logger) *drain {
	d := &drain{
		mode:     mode,
		request:  req,
		expected: len(children),
		pending:  make(map[string]string, len(children)),
		started:  time.Now(),
	}
	for id, c := range children {
		d.pending[id] = c.Name()
	}

	logger.Info("sending stop requests",
		log.Int("children", d.expected),
		log.Duration("timeout", req.Timeout),
		log.String("reason", req.Reason),
	)
	for _, c := range children {
		c.RequestStop(req.Timeout, req.Reason)
	}
	return d
}

// observe records a termination. It reports whether the notification was
// counted and whether the drain is complete.
func (d *drain) observe(t Terminated) (counted, complete bool) {
	_, known := d.pending[t.ChildID]
	if d.mode == MatchIdentity && !known {
		return false, d.done()
	}
	delete(d.pending, t.ChildID)
	d.observed++
	return true, d.done()
}

// done uses >= so that extra notifications in count mode still stop the supervisor.
func (d *drain) done() bool {
	return d.observed >= d.expected
}

func (d *drain) pendingNames() []string {
	names := make([]string, 0, len(d.pending))
	for _, name := range d.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
