// Package filethreat provides the built-in static file analyzer.
package filethreat

import (
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

const Name = "file_threat"

// Config holds configuration for the file-threat detector.
type Config struct {
	// EntropyThreshold is the Shannon entropy (bits per byte) above which
	// opaque content is reported.
	EntropyThreshold float64 `yaml:"entropy_threshold" json:"entropy_threshold"`

	// MinEntropySize is the smallest file the entropy check applies to.
	MinEntropySize int `yaml:"min_entropy_size" json:"min_entropy_size"`

	// MaxInspect caps how many bytes are inspected.
	MaxInspect int `yaml:"max_inspect" json:"max_inspect"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{EntropyThreshold: 7.5, MinEntropySize: 1024, MaxInspect: 1 << 20}
}

// New creates the adapter from a registry source. Results carry the
// severity of the worst finding as tier.
func New(src registry.Source) (detector.Adapter, error) {
	cfg := DefaultConfig()
	opts := src.Options
	if err := opts.Check("entropy_threshold", "min_entropy_size", "max_inspect"); err != nil {
		return nil, err
	}
	if err := opts.Float("entropy_threshold", &cfg.EntropyThreshold); err != nil {
		return nil, err
	}
	if err := opts.Int("min_entropy_size", &cfg.MinEntropySize); err != nil {
		return nil, err
	}
	if err := opts.Int("max_inspect", &cfg.MaxInspect); err != nil {
		return nil, err
	}

	s := scanners.NewFileThreatScanner()
	s.EntropyThreshold = cfg.EntropyThreshold
	s.MinEntropySize = cfg.MinEntropySize
	s.MaxInspect = cfg.MaxInspect
	return detectors.NewFileAdapter(detector.CapabilityFileThreat, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
