package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/brad07/threatscope/pkg/detector"
)

// ErrReloadInProgress is returned when Sync is called while another sync runs.
var ErrReloadInProgress = errors.New("reload already in progress")

// Source describes where a capability's adapter comes from.
type Source struct {
	Capability detector.Capability

	// Location is the artifact location, e.g. "builtin:phishing" or
	// "https://models.internal/phishing".
	Location string

	// ConfidenceFloor is passed to the adapter's normalization step.
	ConfidenceFloor float64

	// Options carries provider-specific settings.
	Options Options
}

// Scheme returns the location scheme ("builtin", "https", ...).
func (s Source) Scheme() string {
	scheme, _, found := strings.Cut(s.Location, ":")
	if !found {
		return ""
	}
	return strings.ToLower(scheme)
}

// Provider builds adapters from artifact locations.
type Provider interface {
	Provide(ctx context.Context, src Source) (detector.Adapter, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, src Source) (detector.Adapter, error)

func (f ProviderFunc) Provide(ctx context.Context, src Source) (detector.Adapter, error) {
	return f(ctx, src)
}

// SchemeProvider routes a source to a provider based on its location scheme.
type SchemeProvider struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewSchemeProvider creates an empty SchemeProvider.
func NewSchemeProvider() *SchemeProvider {
	return &SchemeProvider{providers: make(map[string]Provider)}
}

// Handle registers p for the given scheme.
func (s *SchemeProvider) Handle(scheme string, p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[strings.ToLower(scheme)] = p
}

// Provide implements Provider.
func (s *SchemeProvider) Provide(ctx context.Context, src Source) (detector.Adapter, error) {
	s.mu.RLock()
	p, ok := s.providers[src.Scheme()]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no provider for location %q", src.Location)
	}
	return p.Provide(ctx, src)
}

// Load registers a capability from a source using p.
func (r *Registry) Load(ctx context.Context, p Provider, src Source) error {
	return r.register(ctx, src.Capability, src.Location, func(ctx context.Context) (detector.Adapter, error) {
		return p.Provide(ctx, src)
	})
}

// Loader applies a full set of sources to a registry, loading new
// capabilities, reloading changed ones and removing those no longer listed.
type Loader struct {
	registry *Registry
	provider Provider

	mu        sync.Mutex
	reloading bool
	applied   map[detector.Capability]Source
}

// NewLoader creates a Loader for the registry.
func NewLoader(registry *Registry, provider Provider) *Loader {
	return &Loader{
		registry: registry,
		provider: provider,
		applied:  make(map[detector.Capability]Source),
	}
}

// Sync brings the registry in line with sources. Load failures are recorded
// in the registry and returned joined; they never stop other capabilities
// from loading.
func (l *Loader) Sync(ctx context.Context, sources []Source) error {
	l.mu.Lock()
	if l.reloading {
		l.mu.Unlock()
		return ErrReloadInProgress
	}
	l.reloading = true
	previous := make(map[detector.Capability]Source, len(l.applied))
	for c, src := range l.applied {
		previous[c] = src
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.reloading = false
		l.mu.Unlock()
	}()

	var errs []error
	next := make(map[detector.Capability]Source, len(sources))
	for _, src := range sources {
		next[src.Capability] = src

		old, known := previous[src.Capability]
		delete(previous, src.Capability)
		if known && sameSource(old, src) {
			if _, ready := l.registry.Lookup(src.Capability); ready {
				continue
			}
		}

		if err := l.registry.Load(ctx, l.provider, src); err != nil {
			errs = append(errs, err)
		}
	}

	for c := range previous {
		if err := l.registry.Unregister(c); err != nil && !errors.Is(err, ErrNotRegistered) {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	l.applied = next
	l.mu.Unlock()

	return errors.Join(errs...)
}

// Reload re-applies the last known source for one capability.
func (l *Loader) Reload(ctx context.Context, c detector.Capability) error {
	l.mu.Lock()
	src, ok := l.applied[c]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, c)
	}
	return l.registry.Load(ctx, l.provider, src)
}

func sameSource(a, b Source) bool {
	if a.Location != b.Location || a.ConfidenceFloor != b.ConfidenceFloor || len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if fmt.Sprint(b.Options[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}
