// Package network provides the built-in network-traffic anomaly detector.
package network

import (
	"fmt"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
	"github.com/brad07/threatscope/plugins/detectors"
)

const Name = "network_traffic"

// Config holds configuration for the network-traffic detector.
type Config struct {
	PortScanThreshold int `yaml:"port_scan_threshold" json:"port_scan_threshold"`
	FloodThreshold    int `yaml:"flood_threshold" json:"flood_threshold"`

	// ExtraBadPorts are flagged in addition to the built-in list.
	ExtraBadPorts []int `yaml:"extra_bad_ports" json:"extra_bad_ports"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{PortScanThreshold: 10, FloodThreshold: 100}
}

// New creates the adapter from a registry source.
func New(src registry.Source) (detector.Adapter, error) {
	cfg := DefaultConfig()
	opts := src.Options
	if err := opts.Check("port_scan_threshold", "flood_threshold", "extra_bad_ports"); err != nil {
		return nil, err
	}
	if err := opts.Int("port_scan_threshold", &cfg.PortScanThreshold); err != nil {
		return nil, err
	}
	if err := opts.Int("flood_threshold", &cfg.FloodThreshold); err != nil {
		return nil, err
	}
	ports, err := opts.Ints("extra_bad_ports")
	if err != nil {
		return nil, err
	}
	cfg.ExtraBadPorts = ports

	s := scanners.NewNetworkScanner()
	s.PortScanThreshold = cfg.PortScanThreshold
	s.FloodThreshold = cfg.FloodThreshold
	for _, p := range cfg.ExtraBadPorts {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("option extra_bad_ports: %d is not a port", p)
		}
		if _, known := s.BadPorts[p]; !known {
			s.BadPorts[p] = "configured"
		}
	}
	return detectors.NewTextAdapter(detector.CapabilityNetworkTraffic, s, src.ConfidenceFloor), nil
}

func init() {
	detectors.Register(Name, New)
}
