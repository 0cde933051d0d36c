// Package plugins provides a single import point for all built-in detectors.
// Importing this package registers every builtin with the detector catalog.
package plugins

import (
	"net/http"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/remote"
	"github.com/brad07/threatscope/plugins/detectors"

	// Import all detector plugins to trigger their init() registration
	_ "github.com/brad07/threatscope/plugins/detectors/behavior"
	_ "github.com/brad07/threatscope/plugins/detectors/filethreat"
	_ "github.com/brad07/threatscope/plugins/detectors/injection"
	_ "github.com/brad07/threatscope/plugins/detectors/network"
	_ "github.com/brad07/threatscope/plugins/detectors/phishing"
	_ "github.com/brad07/threatscope/plugins/detectors/quality"
	_ "github.com/brad07/threatscope/plugins/detectors/sensitive"
)

// Provider returns the provider used at process start: "builtin:" locations
// resolve to the compiled-in detectors, http and https locations to remote
// inference services sharing client (nil for a default client).
func Provider(client *http.Client) *registry.SchemeProvider {
	p := registry.NewSchemeProvider()
	p.Handle(detectors.Scheme, detectors.Provider{})

	rp := remote.Provider{Client: client}
	p.Handle("http", rp)
	p.Handle("https", rp)
	return p
}

// DefaultLocation returns the builtin location serving c.
func DefaultLocation(c detector.Capability) string {
	return detectors.Location(string(c))
}

// Builtins returns the names of the compiled-in detectors.
func Builtins() []string {
	return detectors.Names()
}
