// Package registry owns the mapping from capability to detector adapter and
// tracks the load state of each capability.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/metrics"
)

// LoadState is the availability of a capability.
type LoadState string

const (
	StateLoading  LoadState = "loading"
	StateReady    LoadState = "ready"
	StateDegraded LoadState = "degraded"
	StateFailed   LoadState = "failed"
)

var allStates = []string{string(StateLoading), string(StateReady), string(StateDegraded), string(StateFailed)}

// ErrNotRegistered is returned for operations on a capability with no entry.
var ErrNotRegistered = errors.New("capability not registered")

// LoadError reports an adapter that could not be constructed.
type LoadError struct {
	Capability detector.Capability
	Location   string
	Err        error
}

func (e *LoadError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("load %s from %s: %v", e.Capability, e.Location, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Capability, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// State is a snapshot of one registry entry.
type State struct {
	Capability detector.Capability `json:"capability"`
	LoadState  LoadState           `json:"load_state"`

	// Reason explains a Degraded or Failed state.
	Reason string `json:"reason,omitempty"`

	// LastError is the most recent load or health-check error, which may be
	// set while the entry is still Ready after a failed reload.
	LastError string `json:"last_error,omitempty"`

	Location        string    `json:"location,omitempty"`
	LoadedAt        time.Time `json:"loaded_at,omitempty"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
}

// LoaderFunc constructs an adapter.
type LoaderFunc func(ctx context.Context) (detector.Adapter, error)

type entry struct {
	adapter detector.Adapter
	state   State
}

// Registry maps capabilities to adapters. Lookups are safe during reloads:
// an adapter is constructed outside the lock and swapped in atomically.
type Registry struct {
	mu      sync.RWMutex
	entries map[detector.Capability]*entry
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[detector.Capability]*entry),
		logger:  logger,
	}
}

// Register constructs an adapter with load and makes it available for the
// capability. If the capability already has a ready adapter it keeps serving
// until the new one is ready; a failed reload leaves it in place.
func (r *Registry) Register(ctx context.Context, c detector.Capability, load LoaderFunc) error {
	return r.register(ctx, c, "", load)
}

func (r *Registry) register(ctx context.Context, c detector.Capability, location string, load LoaderFunc) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", detector.ErrUnknownCapability, c)
	}

	r.mu.Lock()
	e, exists := r.entries[c]
	if !exists {
		e = &entry{state: State{Capability: c}}
		r.entries[c] = e
	}
	if e.adapter == nil {
		r.setStateLocked(e, StateLoading, "")
	}
	r.mu.Unlock()

	adapter, err := safeLoad(ctx, load)
	if err == nil && adapter.Capability() != c {
		err = fmt.Errorf("adapter serves %q", adapter.Capability())
	}
	if err != nil {
		loadErr := &LoadError{Capability: c, Location: location, Err: err}
		r.mu.Lock()
		e.state.LastError = err.Error()
		if e.adapter == nil {
			r.setStateLocked(e, StateFailed, err.Error())
		}
		kept := e.adapter != nil
		r.mu.Unlock()

		if kept {
			r.logger.Warn("detector reload failed, keeping previous adapter",
				"capability", c, "error", err)
		} else {
			r.logger.Warn("detector failed to load", "capability", c, "error", err)
		}
		return loadErr
	}

	r.mu.Lock()
	if r.entries[c] != e {
		// Unregistered while loading.
		r.mu.Unlock()
		closeAdapter(adapter, r.logger)
		return fmt.Errorf("%w: %s", ErrNotRegistered, c)
	}
	old := e.adapter
	e.adapter = adapter
	e.state.Location = location
	e.state.LastError = ""
	e.state.LoadedAt = time.Now()
	r.setStateLocked(e, StateReady, "")
	r.mu.Unlock()

	closeAdapter(old, r.logger)
	r.logger.Info("detector ready", "capability", c, "location", location)
	return nil
}

// Lookup returns the adapter for a capability if it is Ready.
func (r *Registry) Lookup(c detector.Capability) (detector.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[c]
	if !ok || e.state.LoadState != StateReady || e.adapter == nil {
		return nil, false
	}
	return e.adapter, true
}

// Unregister removes a capability and closes its adapter.
func (r *Registry) Unregister(c detector.Capability) error {
	r.mu.Lock()
	e, ok := r.entries[c]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, c)
	}
	delete(r.entries, c)
	adapter := e.adapter
	r.mu.Unlock()

	closeAdapter(adapter, r.logger)
	r.logger.Info("detector unregistered", "capability", c)
	return nil
}

// State returns the snapshot for one capability.
func (r *Registry) State(c detector.Capability) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[c]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// States returns a snapshot of every entry in priority order.
func (r *Registry) States() []State {
	r.mu.RLock()
	states := make([]State, 0, len(r.entries))
	for _, e := range r.entries {
		states = append(states, e.state)
	}
	r.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].Capability.Rank() < states[j].Capability.Rank()
	})
	return states
}

// ReadyCount returns the number of capabilities with a ready adapter.
func (r *Registry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.state.LoadState == StateReady {
			n++
		}
	}
	return n
}

// Close unregisters every capability.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[detector.Capability]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		closeAdapter(e.adapter, r.logger)
	}
}

// markHealth records a health-check outcome. A failing Ready entry becomes
// Degraded and a passing Degraded entry becomes Ready again. It reports
// whether the state changed.
func (r *Registry) markHealth(c detector.Capability, adapter detector.Adapter, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[c]
	if !ok || e.adapter != adapter {
		// reloaded or removed while the check was running
		return false
	}

	e.state.LastHealthCheck = time.Now()
	switch {
	case err != nil && e.state.LoadState == StateReady:
		e.state.LastError = err.Error()
		r.setStateLocked(e, StateDegraded, err.Error())
		return true
	case err == nil && e.state.LoadState == StateDegraded:
		e.state.LastError = ""
		r.setStateLocked(e, StateReady, "")
		return true
	}
	return false
}

// adapters returns the adapters that are Ready or Degraded.
func (r *Registry) adapters() map[detector.Capability]detector.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[detector.Capability]detector.Adapter, len(r.entries))
	for c, e := range r.entries {
		if e.adapter != nil && (e.state.LoadState == StateReady || e.state.LoadState == StateDegraded) {
			out[c] = e.adapter
		}
	}
	return out
}

func (r *Registry) setStateLocked(e *entry, s LoadState, reason string) {
	e.state.LoadState = s
	e.state.Reason = reason
	metrics.SetLoadState(string(e.state.Capability), string(s), allStates)
}

func safeLoad(ctx context.Context, load LoaderFunc) (adapter detector.Adapter, err error) {
	defer func() {
		if p := recover(); p != nil {
			adapter = nil
			err = fmt.Errorf("loader panicked: %v", p)
		}
	}()
	adapter, err = load(ctx)
	if err == nil && adapter == nil {
		err = errors.New("loader returned no adapter")
	}
	return adapter, err
}

func closeAdapter(a detector.Adapter, logger *slog.Logger) {
	if c, ok := a.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close detector adapter", "capability", a.Capability(), "error", err)
		}
	}
}
