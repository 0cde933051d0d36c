// Package detectortest provides configurable adapters for tests.
package detectortest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brad07/threatscope/pkg/detector"
)

// Stub is an adapter that returns a fixed result, optionally after a delay.
type Stub struct {
	Cap    detector.Capability
	Result detector.Result

	// Kinds restricts accepted input kinds; empty accepts everything.
	Kinds []detector.InputKind

	// Delay is slept before returning, honouring context cancellation.
	Delay time.Duration

	// Panic makes Analyze panic with this value when non-nil.
	Panic any

	// Health is returned from HealthCheck.
	Health error

	calls  atomic.Int64
	mu     sync.Mutex
	inputs []*detector.Input
	closed atomic.Bool
}

// Flagged returns a stub reporting a flagged result.
func Flagged(c detector.Capability, confidence float64, tier string, findings ...string) *Stub {
	return &Stub{
		Cap: c,
		Result: detector.Result{
			Capability: c,
			Status:     detector.StatusFlagged,
			Confidence: detector.Confidence(confidence),
			Tier:       tier,
			Findings:   findings,
		},
	}
}

// Clean returns a stub reporting a clean result.
func Clean(c detector.Capability) *Stub {
	return &Stub{Cap: c, Result: detector.CleanResult(c)}
}

// Slow returns a clean stub that takes d to answer.
func Slow(c detector.Capability, d time.Duration) *Stub {
	s := Clean(c)
	s.Delay = d
	return s
}

func (s *Stub) Capability() detector.Capability {
	return s.Cap
}

func (s *Stub) Accepts(kind detector.InputKind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Stub) Analyze(ctx context.Context, in *detector.Input) detector.Result {
	s.calls.Add(1)
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()

	if s.Panic != nil {
		panic(s.Panic)
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return detector.ErrorResult(s.Cap, "cancelled: %v", ctx.Err())
		}
	}
	return s.Result
}

func (s *Stub) HealthCheck(ctx context.Context) error {
	return s.Health
}

func (s *Stub) Close() error {
	s.closed.Store(true)
	return nil
}

// Calls returns the number of Analyze invocations.
func (s *Stub) Calls() int {
	return int(s.calls.Load())
}

// Inputs returns the inputs Analyze was called with.
func (s *Stub) Inputs() []*detector.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*detector.Input(nil), s.inputs...)
}

// Closed reports whether Close was called.
func (s *Stub) Closed() bool {
	return s.closed.Load()
}
