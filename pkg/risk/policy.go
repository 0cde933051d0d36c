package risk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brad07/threatscope/pkg/detector"
)

// CapabilityPolicy is the scoring rule for one capability.
type CapabilityPolicy struct {
	// Weight scales the confidence of a Flagged result.
	Weight float64 `yaml:"weight" json:"weight"`

	// ConfidenceFloor is the score below which a positive native verdict is
	// downgraded to Clean by the adapter.
	ConfidenceFloor float64 `yaml:"confidence_floor" json:"confidence_floor"`

	// Tiers maps a classification tier to a fixed contribution that applies
	// regardless of confidence. Keys are matched case-insensitively.
	Tiers map[string]float64 `yaml:"tiers,omitempty" json:"tiers,omitempty"`

	// AlertMinSeverity is the lowest per-result severity that produces an alert.
	AlertMinSeverity Level `yaml:"alert_min_severity" json:"alert_min_severity"`

	// Timeout bounds a single invocation. Zero means the orchestrator default.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Policy is the declarative per-capability scoring table.
type Policy map[detector.Capability]CapabilityPolicy

// DefaultPolicy returns the built-in scoring table.
func DefaultPolicy() Policy {
	return Policy{
		detector.CapabilityPhishing: {
			Weight:           0.6,
			ConfidenceFloor:  0.5,
			AlertMinSeverity: LevelMedium,
		},
		detector.CapabilityCodeInjection: {
			Weight:           0.7,
			ConfidenceFloor:  0.5,
			Tiers:            map[string]float64{"critical": 0.9, "high": 0.7},
			AlertMinSeverity: LevelMedium,
		},
		detector.CapabilitySensitiveData: {
			Weight:           0.4,
			ConfidenceFloor:  0,
			Tiers:            map[string]float64{"high": 0.6, "medium": 0.4, "low": 0.2},
			AlertMinSeverity: LevelMedium,
		},
		detector.CapabilityFileThreat: {
			Weight:           0.8,
			ConfidenceFloor:  0.5,
			Tiers:            map[string]float64{"critical": 1.0, "high": 0.7, "medium": 0.4},
			AlertMinSeverity: LevelMedium,
		},
		detector.CapabilityNetworkTraffic: {
			Weight:           0.5,
			ConfidenceFloor:  0.5,
			AlertMinSeverity: LevelMedium,
		},
		detector.CapabilityDynamicBehavior: {
			Weight:           0.5,
			ConfidenceFloor:  0.5,
			AlertMinSeverity: LevelMedium,
		},
		detector.CapabilityDataQuality: {
			Weight:           0.1,
			ConfidenceFloor:  0,
			AlertMinSeverity: LevelMedium,
		},
	}
}

// Validate checks that every value in the table is in range.
func (p Policy) Validate() error {
	var errs []string
	for c, cp := range p {
		if !c.Valid() {
			errs = append(errs, fmt.Sprintf("unknown capability %q", c))
			continue
		}
		if cp.Weight < 0 || cp.Weight > 1 {
			errs = append(errs, fmt.Sprintf("%s: weight must be in [0,1]", c))
		}
		if cp.ConfidenceFloor < 0 || cp.ConfidenceFloor > 1 {
			errs = append(errs, fmt.Sprintf("%s: confidence_floor must be in [0,1]", c))
		}
		for tier, v := range cp.Tiers {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Sprintf("%s: tier %q must be in [0,1]", c, tier))
			}
		}
		if cp.AlertMinSeverity != "" && cp.AlertMinSeverity.Rank() < 0 {
			errs = append(errs, fmt.Sprintf("%s: unknown alert_min_severity %q", c, cp.AlertMinSeverity))
		}
		if cp.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("%s: timeout must not be negative", c))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Clone returns a deep copy of the table.
func (p Policy) Clone() Policy {
	out := make(Policy, len(p))
	for c, cp := range p {
		if cp.Tiers != nil {
			tiers := make(map[string]float64, len(cp.Tiers))
			for k, v := range cp.Tiers {
				tiers[k] = v
			}
			cp.Tiers = tiers
		}
		out[c] = cp
	}
	return out
}

// Contribution returns what a result adds to the overall score. Only Flagged
// results contribute.
func (p Policy) Contribution(r detector.Result) float64 {
	if r.Status != detector.StatusFlagged {
		return 0
	}
	cp := p[r.Capability]
	if r.Tier != "" {
		for tier, v := range cp.Tiers {
			if strings.EqualFold(tier, r.Tier) {
				return v
			}
		}
	}
	return cp.Weight * r.ConfidenceValue()
}

// AlertThreshold returns the minimum alert severity for a capability.
func (p Policy) AlertThreshold(c detector.Capability) Level {
	if l := p[c].AlertMinSeverity; l != "" {
		return l
	}
	return LevelMedium
}
