// Package detectors adapts the built-in scanners to the detector contract.
// Each capability lives in its own subpackage and registers a factory with
// the catalog from init(); the Provider resolves "builtin:<name>" locations
// against that catalog.
package detectors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/scanners"
)

// Scheme is the location scheme served by the catalog.
const Scheme = "builtin"

// Factory builds an adapter for a source. Factories parse src.Options and
// must reject options they cannot honour.
type Factory func(src registry.Source) (detector.Adapter, error)

var (
	catalogMu sync.RWMutex
	catalog   = make(map[string]Factory)
)

// Register adds a factory under name. Registering the same name twice is a
// programming error.
func Register(name string, f Factory) {
	catalogMu.Lock()
	defer catalogMu.Unlock()

	if _, exists := catalog[name]; exists {
		panic(fmt.Sprintf("detectors: %s registered twice", name))
	}
	catalog[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	f, ok := catalog[name]
	return f, ok
}

// Names returns the registered names, sorted.
func Names() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Location returns the builtin location for name.
func Location(name string) string {
	return Scheme + ":" + name
}

// Provider builds adapters for "builtin:<name>" locations.
type Provider struct{}

// Provide implements registry.Provider.
func (Provider) Provide(ctx context.Context, src registry.Source) (detector.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Scheme() != Scheme {
		return nil, fmt.Errorf("not a builtin location: %q", src.Location)
	}

	name := strings.TrimPrefix(strings.TrimPrefix(src.Location, Scheme+":"), "//")
	f, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no builtin detector %q (have %s)", name, strings.Join(Names(), ", "))
	}

	a, err := f(src)
	if err != nil {
		return nil, fmt.Errorf("builtin %s: %w", name, err)
	}
	if a.Capability() != src.Capability {
		return nil, fmt.Errorf("builtin %s serves %s, not %s", name, a.Capability(), src.Capability)
	}
	return a, nil
}

// TextAdapter wraps a text scanner.
type TextAdapter struct {
	capability detector.Capability
	scanner    scanners.Scanner
	floor      float64
}

// NewTextAdapter creates an adapter that analyzes text inputs with s.
func NewTextAdapter(c detector.Capability, s scanners.Scanner, floor float64) *TextAdapter {
	return &TextAdapter{capability: c, scanner: s, floor: floor}
}

func (a *TextAdapter) Capability() detector.Capability {
	return a.capability
}

func (a *TextAdapter) Accepts(kind detector.InputKind) bool {
	return kind == detector.InputText
}

// Analyze runs the scanner. It never panics.
func (a *TextAdapter) Analyze(ctx context.Context, in *detector.Input) (res detector.Result) {
	defer recoverInto(a.capability, &res)

	if err := ctx.Err(); err != nil {
		return detector.ErrorResult(a.capability, "%v", err)
	}
	if in == nil || in.Kind != detector.InputText {
		return detector.ErrorResult(a.capability, "unsupported input")
	}
	return Normalize(a.capability, a.scanner.Assess(in.Text), a.floor)
}

// HealthCheck exercises the scanner on a fixed probe.
func (a *TextAdapter) HealthCheck(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s scanner panicked: %v", a.scanner.Name(), r)
		}
	}()
	_ = a.scanner.Assess("health check")
	return ctx.Err()
}

// FileAdapter wraps a scanner that inspects raw file bytes.
type FileAdapter struct {
	capability detector.Capability
	scanner    scanners.FileScanner
	floor      float64
}

// NewFileAdapter creates an adapter that analyzes file inputs with s.
func NewFileAdapter(c detector.Capability, s scanners.FileScanner, floor float64) *FileAdapter {
	return &FileAdapter{capability: c, scanner: s, floor: floor}
}

func (a *FileAdapter) Capability() detector.Capability {
	return a.capability
}

func (a *FileAdapter) Accepts(kind detector.InputKind) bool {
	return kind == detector.InputFile
}

// Analyze runs the scanner over the file bytes. It never panics.
func (a *FileAdapter) Analyze(ctx context.Context, in *detector.Input) (res detector.Result) {
	defer recoverInto(a.capability, &res)

	if err := ctx.Err(); err != nil {
		return detector.ErrorResult(a.capability, "%v", err)
	}
	if in == nil || in.Kind != detector.InputFile {
		return detector.ErrorResult(a.capability, "unsupported input")
	}

	res = Normalize(a.capability, a.scanner.AssessFile(in.Data, in.Filename, in.ContentType), a.floor)
	if res.RawDetail != nil {
		res.RawDetail["sha256"] = in.Hash
		if in.Filename != "" {
			res.RawDetail["filename"] = in.Filename
		}
	}
	return res
}

// HealthCheck exercises the scanner on a small probe file.
func (a *FileAdapter) HealthCheck(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s scanner panicked: %v", a.scanner.Name(), r)
		}
	}()
	_ = a.scanner.AssessFile([]byte("health check"), "probe.txt", "text/plain")
	return ctx.Err()
}

// Normalize converts a scanner assessment into a detector result. The
// structured findings are kept in the raw detail.
func Normalize(c detector.Capability, a scanners.Assessment, floor float64) detector.Result {
	detail := make(map[string]any, len(a.Detail)+1)
	for k, v := range a.Detail {
		detail[k] = v
	}
	if len(a.Findings) > 0 {
		detail["findings"] = a.Findings
	}

	return detector.Normalize(c, detector.Verdict{
		Positive: a.Positive,
		Score:    a.Score,
		Label:    a.Label,
		Tier:     a.Tier,
		Findings: a.Messages(),
		Detail:   detail,
	}, floor)
}

func recoverInto(c detector.Capability, res *detector.Result) {
	if r := recover(); r != nil {
		*res = detector.ErrorResult(c, "detector panicked: %v", r)
	}
}
