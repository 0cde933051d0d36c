// Package quality provides the built-in data-quality detector.
package quality

import (
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

const Name = "data_quality"

// Config holds configuration for the data-quality detector.
type Config struct {
	// Threshold is the overall quality below which input is flagged.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Threshold: 0.8}
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

	s := scanners.NewQualityScanner()
	s.Threshold = cfg.Threshold
	return detectors.NewTextAdapter(detector.CapabilityDataQuality, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
