// Package sensitive provides the built-in sensitive-data classifier.
package sensitive

import (
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

const Name = "sensitive_data"

// Config holds configuration for the sensitive-data classifier.
type Config struct {
	// ContextWindow is how many characters around a contextual match are
	// searched for supporting keywords.
	ContextWindow int `yaml:"context_window" json:"context_window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{ContextWindow: 30}
}

// New creates the adapter from a registry source. Results carry the
// classification tier (High, Medium, Low).
func New(src registry.Source) (detector.Adapter, error) {
	cfg := DefaultConfig()
	opts := src.Options
	if err := opts.Check("context_window"); err != nil {
		return nil, err
	}
	if err := opts.Int("context_window", &cfg.ContextWindow); err != nil {
		return nil, err
	}

	s := scanners.NewSensitiveScanner()
	s.ContextWindow = cfg.ContextWindow
	return detectors.NewTextAdapter(detector.CapabilitySensitiveData, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
