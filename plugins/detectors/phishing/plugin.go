// Package phishing provides the built-in phishing detector.
package phishing

import (
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

// Name is the builtin name, used as "builtin:phishing".
const Name = "phishing"

// Config holds configuration for the phishing detector.
type Config struct {
	// Threshold is the indicator score above which text is flagged.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Threshold: 0.25}
}

// New creates the adapter from a registry source.
func New(src registry.Source) (detector.Adapter, error) {
	cfg := DefaultConfig()
	opts := src.Options
	if err := opts.Check("threshold"); err != nil {
		return nil, err
	}
	if err := opts.Unit("threshold", &cfg.Threshold); err != nil {
		return nil, err
	}

	s := scanners.NewPhishingScanner()
	s.Threshold = cfg.Threshold
	return detectors.NewTextAdapter(detector.CapabilityPhishing, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
