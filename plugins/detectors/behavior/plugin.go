// Package behavior provides the built-in system-call sequence detector.
package behavior

import (
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

const Name = "dynamic_behavior"

type Config struct {
	// MinCalls is the shortest trace that is judged at all.
	MinCalls int `yaml:"min_calls" json:"min_calls"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MinCalls: 3}
}

// New creates the adapter from a registry source.
func New(src registry.Source) (detector.Adapter, error) {
	cfg := DefaultConfig()
	opts := src.Options
	if err := opts.Check("min_calls"); err != nil {
		return nil, err
	}
	if err := opts.Int("min_calls", &cfg.MinCalls); err != nil {
		return nil, err
	}

	s := scanners.NewBehaviorScanner()
	s.MinCalls = cfg.MinCalls
	return detectors.NewTextAdapter(detector.CapabilityDynamicBehavior, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
