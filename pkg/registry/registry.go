// Package registry creates supervisor children by name.
//
// A Registry maps child names to constructors and implements
// supervisor.Factory by spawning each constructed Runner with package child.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/me2ds/wilson/pkg/child"
	"github.com/me2ds/wilson/pkg/log"
	"github.com/me2ds/wilson/pkg/supervisor"
)

var (
	// ErrUnknownChild is returned by Create for a name that was never registered.
	ErrUnknownChild = errors.New("registry: unknown child")

	// ErrDuplicate is returned by Register when a name is already taken.
	ErrDuplicate = errors.New("registry: child already registered")
)

// Constructor builds a fresh Runner. It is called once per incarnation.
type Constructor func(logger log.Logger) (child.Runner, error)

// Registry is a supervisor.Factory. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	logger       log.Logger
	childOpts    []child.Option
}

var _ supervisor.Factory = (*Registry)(nil)

// New creates an empty registry. childOpts are applied to every spawned child.
func New(logger log.Logger, childOpts ...child.Option) *Registry {
	logger = log.OrNoop(logger)
	return &Registry{
		constructors: make(map[string]Constructor),
		logger:       logger,
		childOpts:    append([]child.Option{child.WithLogger(logger)}, childOpts...),
	}
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("registry: invalid registration for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.constructors[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.constructors[name] = ctor
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, ctor Constructor) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create constructs and spawns the child registered under name.
func (r *Registry) Create(ctx context.Context, name string, notify supervisor.NotifyFunc) (supervisor.ChildHandle, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChild, name)
	}

	runner, err := ctor(log.With(r.logger, log.String("child", name)))
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", name, err)
	}
	return child.Spawn(ctx, name, runner, notify, r.childOpts...), nil
}
