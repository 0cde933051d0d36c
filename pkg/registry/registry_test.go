package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/detector/detectortest"
)

func loaderOf(a detector.Adapter) LoaderFunc {
	return func(ctx context.Context) (detector.Adapter, error) {
		return a, nil
	}
}

func failingLoader(msg string) LoaderFunc {
	return func(ctx context.Context) (detector.Adapter, error) {
		return nil, errors.New(msg)
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)
	stub := detectortest.Clean(detector.CapabilityPhishing)

	require.NoError(t, r.Register(context.Background(), detector.CapabilityPhishing, loaderOf(stub)))

	got, ok := r.Lookup(detector.CapabilityPhishing)
	require.True(t, ok)
	assert.Same(t, stub, got)

	state, ok := r.State(detector.CapabilityPhishing)
	require.True(t, ok)
	assert.Equal(t, StateReady, state.LoadState)
	assert.False(t, state.LoadedAt.IsZero())
	assert.Equal(t, 1, r.ReadyCount())

	_, ok = r.Lookup(detector.CapabilityFileThreat)
	assert.False(t, ok)
}

func TestRegisterFailure(t *testing.T) {
	r := New(nil)

	err := r.Register(context.Background(), detector.CapabilityPhishing, failingLoader("weights missing"))
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, detector.CapabilityPhishing, loadErr.Capability)

	_, ok := r.Lookup(detector.CapabilityPhishing)
	assert.False(t, ok)

	state, _ := r.State(detector.CapabilityPhishing)
	assert.Equal(t, StateFailed, state.LoadState)
	assert.Equal(t, "weights missing", state.Reason)
}

func TestRegisterRejectsMismatchedAdapter(t *testing.T) {
	r := New(nil)
	err := r.Register(context.Background(), detector.CapabilityPhishing,
		loaderOf(detectortest.Clean(detector.CapabilityCodeInjection)))
	assert.Error(t, err)

	state, _ := r.State(detector.CapabilityPhishing)
	assert.Equal(t, StateFailed, state.LoadState)
}

func TestRegisterRecoversLoaderPanic(t *testing.T) {
	r := New(nil)
	err := r.Register(context.Background(), detector.CapabilityPhishing, func(ctx context.Context) (detector.Adapter, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loader panicked")
}

func TestRegisterUnknownCapability(t *testing.T) {
	r := New(nil)
	err := r.Register(context.Background(), "astrology", loaderOf(detectortest.Clean("astrology")))
	assert.ErrorIs(t, err, detector.ErrUnknownCapability)
}

func TestReloadFailedToReady(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	require.Error(t, r.Register(ctx, detector.CapabilityPhishing, failingLoader("not yet")))
	_, ok := r.Lookup(detector.CapabilityPhishing)
	require.False(t, ok)

	require.NoError(t, r.Register(ctx, detector.CapabilityPhishing, loaderOf(detectortest.Clean(detector.CapabilityPhishing))))
	_, ok = r.Lookup(detector.CapabilityPhishing)
	assert.True(t, ok)
}

func TestFailedReloadKeepsPreviousAdapter(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	first := detectortest.Clean(detector.CapabilityPhishing)

	require.NoError(t, r.Register(ctx, detector.CapabilityPhishing, loaderOf(first)))
	require.Error(t, r.Register(ctx, detector.CapabilityPhishing, failingLoader("bad artifact")))

	got, ok := r.Lookup(detector.CapabilityPhishing)
	require.True(t, ok)
	assert.Same(t, first, got)

	state, _ := r.State(detector.CapabilityPhishing)
	assert.Equal(t, StateReady, state.LoadState)
	assert.Equal(t, "bad artifact", state.LastError)
}

func TestReloadSwapIsAtomic(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	first := detectortest.Clean(detector.CapabilityPhishing)
	second := detectortest.Clean(detector.CapabilityPhishing)
	require.NoError(t, r.Register(ctx, detector.CapabilityPhishing, loaderOf(first)))

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.Register(ctx, detector.CapabilityPhishing, func(ctx context.Context) (detector.Adapter, error) {
			<-release
			return second, nil
		})
	}()

	var wg sync.WaitGroup
	var misses atomic.Int64
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				a, ok := r.Lookup(detector.CapabilityPhishing)
				if !ok || (a != detector.Adapter(first) && a != detector.Adapter(second)) {
					misses.Add(1)
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Zero(t, misses.Load())
	got, _ := r.Lookup(detector.CapabilityPhishing)
	assert.Same(t, second, got)
	assert.True(t, first.Closed())
}

func TestUnregister(t *testing.T) {
	r := New(nil)
	stub := detectortest.Clean(detector.CapabilityPhishing)
	require.NoError(t, r.Register(context.Background(), detector.CapabilityPhishing, loaderOf(stub)))

	require.NoError(t, r.Unregister(detector.CapabilityPhishing))
	assert.True(t, stub.Closed())
	_, ok := r.Lookup(detector.CapabilityPhishing)
	assert.False(t, ok)

	assert.ErrorIs(t, r.Unregister(detector.CapabilityPhishing), ErrNotRegistered)
}

func TestUnregisterWhileLoading(t *testing.T) {
	r := New(nil)
	stub := detectortest.Clean(detector.CapabilityPhishing)

	loading := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.Register(context.Background(), detector.CapabilityPhishing, func(ctx context.Context) (detector.Adapter, error) {
			close(loading)
			<-release
			return stub, nil
		})
	}()

	<-loading
	require.NoError(t, r.Unregister(detector.CapabilityPhishing))
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.True(t, stub.Closed(), "orphaned adapter is closed")
	_, ok := r.Lookup(detector.CapabilityPhishing)
	assert.False(t, ok)
	_, ok = r.State(detector.CapabilityPhishing)
	assert.False(t, ok)
}

func TestStatesOrdering(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	for _, c := range []detector.Capability{detector.CapabilityDataQuality, detector.CapabilityPhishing, detector.CapabilitySensitiveData} {
		require.NoError(t, r.Register(ctx, c, loaderOf(detectortest.Clean(c))))
	}

	states := r.States()
	require.Len(t, states, 3)
	assert.Equal(t, detector.CapabilityPhishing, states[0].Capability)
	assert.Equal(t, detector.CapabilitySensitiveData, states[1].Capability)
	assert.Equal(t, detector.CapabilityDataQuality, states[2].Capability)
}

func TestSchemeProvider(t *testing.T) {
	sp := NewSchemeProvider()
	sp.Handle("builtin", ProviderFunc(func(ctx context.Context, src Source) (detector.Adapter, error) {
		return detectortest.Clean(src.Capability), nil
	}))

	a, err := sp.Provide(context.Background(), Source{Capability: detector.CapabilityPhishing, Location: "builtin:phishing"})
	require.NoError(t, err)
	assert.Equal(t, detector.CapabilityPhishing, a.Capability())

	_, err = sp.Provide(context.Background(), Source{Capability: detector.CapabilityPhishing, Location: "s3://bucket/model"})
	assert.Error(t, err)

	assert.Equal(t, "https", Source{Location: "HTTPS://x"}.Scheme())
	assert.Equal(t, "", Source{Location: "noscheme"}.Scheme())
}

func TestLoaderSync(t *testing.T) {
	var provided atomic.Int64
	provider := ProviderFunc(func(ctx context.Context, src Source) (detector.Adapter, error) {
		provided.Add(1)
		if src.Location == "builtin:broken" {
			return nil, errors.New("no such detector")
		}
		return detectortest.Clean(src.Capability), nil
	})

	r := New(nil)
	l := NewLoader(r, provider)
	ctx := context.Background()

	err := l.Sync(ctx, []Source{
		{Capability: detector.CapabilityPhishing, Location: "builtin:phishing"},
		{Capability: detector.CapabilityCodeInjection, Location: "builtin:broken"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such detector")
	assert.EqualValues(t, 2, provided.Load())

	_, ok := r.Lookup(detector.CapabilityPhishing)
	assert.True(t, ok)
	state, _ := r.State(detector.CapabilityCodeInjection)
	assert.Equal(t, StateFailed, state.LoadState)

	// unchanged ready sources are not reloaded; removed ones are unregistered
	require.NoError(t, l.Sync(ctx, []Source{
		{Capability: detector.CapabilityPhishing, Location: "builtin:phishing"},
	}))
	assert.EqualValues(t, 2, provided.Load())
	_, ok = r.State(detector.CapabilityCodeInjection)
	assert.False(t, ok)

	require.NoError(t, l.Reload(ctx, detector.CapabilityPhishing))
	assert.EqualValues(t, 3, provided.Load())
	assert.ErrorIs(t, l.Reload(ctx, detector.CapabilityFileThreat), ErrNotRegistered)
}

func TestHealthMonitorTransitions(t *testing.T) {
	r := New(nil)
	stub := detectortest.Clean(detector.CapabilityPhishing)
	stub.Health = errors.New("inference server down")
	require.NoError(t, r.Register(context.Background(), detector.CapabilityPhishing, loaderOf(stub)))

	var unhealthy, recovered []detector.Capability
	h := NewHealthMonitor(r, HealthMonitorConfig{
		OnUnhealthy: func(c detector.Capability, err error) { unhealthy = append(unhealthy, c) },
		OnRecovered: func(c detector.Capability) { recovered = append(recovered, c) },
	})

	h.CheckAll(context.Background())
	state, _ := r.State(detector.CapabilityPhishing)
	assert.Equal(t, StateDegraded, state.LoadState)
	assert.Equal(t, "inference server down", state.Reason)
	_, ok := r.Lookup(detector.CapabilityPhishing)
	assert.False(t, ok)
	assert.Equal(t, []detector.Capability{detector.CapabilityPhishing}, unhealthy)

	stub.Health = nil
	h.CheckAll(context.Background())
	state, _ = r.State(detector.CapabilityPhishing)
	assert.Equal(t, StateReady, state.LoadState)
	_, ok = r.Lookup(detector.CapabilityPhishing)
	assert.True(t, ok)
	assert.Equal(t, []detector.Capability{detector.CapabilityPhishing}, recovered)
}

func TestWatcherTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	reloaded := make(chan struct{}, 4)
	w, err := NewWatcher(WatcherConfig{
		ConfigPath:       path,
		DebounceInterval: 50 * time.Millisecond,
		OnReload: func(ctx context.Context) error {
			reloaded <- struct{}{}
			return nil
		},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("expected reload after config write")
	}
}
