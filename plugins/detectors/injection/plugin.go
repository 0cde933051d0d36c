// Package injection provides the built-in code-injection detector.
package injection

import (
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

const Name = "code_injection"

// Config holds configuration for the code-injection detector.
type Config struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Threshold: 0.1}
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

	s := scanners.NewInjectionScanner()
	s.Threshold = cfg.Threshold
	return detectors.NewTextAdapter(detector.CapabilityCodeInjection, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
