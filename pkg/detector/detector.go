// Package detector defines the contract shared by every threat detector:
// the capabilities, the analysis input, the normalized result and the adapter
// interface the orchestrator calls.
package detector

import (
	"context"
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrInvalidInput is wrapped by every ValidationError.
	ErrInvalidInput = errors.New("invalid analysis input")

	// ErrUnknownCapability is returned when a capability name is not recognized.
	ErrUnknownCapability = errors.New("unknown capability")
)

// Capability identifies what a detector analyzes.
type Capability string

const (
	CapabilitySensitiveData   Capability = "sensitive_data"
	CapabilityPhishing        Capability = "phishing"
	CapabilityCodeInjection   Capability = "code_injection"
	CapabilityDataQuality     Capability = "data_quality"
	CapabilityFileThreat      Capability = "file_threat"
	CapabilityNetworkTraffic  Capability = "network_traffic"
	CapabilityDynamicBehavior Capability = "dynamic_behavior"
)

// PriorityOrder is the fixed order in which capabilities are reported and
// summed. The most actionable capability comes first.
var PriorityOrder = []Capability{
	CapabilityPhishing,
	CapabilityCodeInjection,
	CapabilitySensitiveData,
	CapabilityFileThreat,
	CapabilityNetworkTraffic,
	CapabilityDynamicBehavior,
	CapabilityDataQuality,
}

// TextCapabilities are the capabilities that analyze text content.
var TextCapabilities = []Capability{
	CapabilityPhishing,
	CapabilityCodeInjection,
	CapabilitySensitiveData,
	CapabilityNetworkTraffic,
	CapabilityDynamicBehavior,
	CapabilityDataQuality,
}

// ParseCapability converts a name into a Capability.
func ParseCapability(name string) (Capability, error) {
	c := Capability(name)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return c, nil
}

// Valid reports whether c is one of the known capabilities.
func (c Capability) Valid() bool {
	for _, known := range PriorityOrder {
		if c == known {
			return true
		}
	}
	return false
}

// Rank returns the position of c in PriorityOrder, or len(PriorityOrder) if unknown.
func (c Capability) Rank() int {
	for i, known := range PriorityOrder {
		if c == known {
			return i
		}
	}
	return len(PriorityOrder)
}

// Label returns a human-readable name for the capability.
func (c Capability) Label() string {
	switch c {
	case CapabilitySensitiveData:
		return "Sensitive data"
	case CapabilityPhishing:
		return "Phishing"
	case CapabilityCodeInjection:
		return "Code injection"
	case CapabilityDataQuality:
		return "Data quality"
	case CapabilityFileThreat:
		return "File threat"
	case CapabilityNetworkTraffic:
		return "Network traffic"
	case CapabilityDynamicBehavior:
		return "Dynamic behavior"
	default:
		return string(c)
	}
}

// Adapter wraps one underlying model or heuristic.
//
// Analyze must never panic or return an error to the caller: any internal
// failure is reported as a Result with StatusError. Implementations must be
// safe for concurrent use.
type Adapter interface {
	// Capability returns the capability this adapter serves.
	Capability() Capability

	// Accepts reports whether the adapter handles the given input kind.
	Accepts(kind InputKind) bool

	// Analyze runs the detector against the input.
	Analyze(ctx context.Context, in *Input) Result
}

// HealthChecker is implemented by adapters that can verify their backing model.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
