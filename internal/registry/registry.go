// Package registry is the Driver Registry & Factory: a process-wide
// mapping from driver kind to DriverKind, populated by each
// driver package's init() registering itself — the same
// register-by-side-effect shape the pack's storage-driver plugins use
// (distribution/registry/storage/driver/factory, grounded in
// other_examples/inmemory-driver.go and its siblings).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unidrive/core/pkg/types"
)

// Registry is a process-wide mapping from driver kind to DriverKind.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]types.DriverKind
}

// global is the process-wide registry driver packages register into via
// their init() functions (the factory.Register pattern).
var global = New()

// New creates an independent Registry. Most callers want Default(); New is
// exposed for tests that need isolation from driver init() side effects.
func New() *Registry {
	return &Registry{kinds: make(map[string]types.DriverKind)}
}

// Default returns the process-wide Registry every driver package's init()
// populates.
func Default() *Registry {
	return global
}

// Register adds a DriverKind. It panics on a duplicate kind or a kind with
// no constructor, mirroring database/sql.Register's fail-fast contract for
// registrations that happen in init() — a programming error, not a runtime
// condition callers should recover from.
func (r *Registry) Register(dk types.DriverKind) {
	if dk.Kind == "" {
		panic("registry: DriverKind.Kind must not be empty")
	}
	if dk.New == nil {
		panic(fmt.Sprintf("registry: DriverKind %q has no constructor", dk.Kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[dk.Kind]; exists {
		panic(fmt.Sprintf("registry: driver kind %q registered twice", dk.Kind))
	}
	r.kinds[dk.Kind] = dk
}

// Get looks up a DriverKind by its identifier.
func (r *Registry) Get(kind string) (types.DriverKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dk, ok := r.kinds[kind]
	return dk, ok
}

// List returns every registered DriverKind, sorted by kind for stable
// enumeration (the admin UI collaborator renders this list verbatim).
func (r *Registry) List() []types.DriverKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.DriverKind, 0, len(r.kinds))
	for _, dk := range r.kinds {
		out = append(out, dk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Build validates config against the named kind's schema and constructs a
// live Driver instance. It refuses to construct an instance for an unknown
// kind or a config that fails schema validation.
func (r *Registry) Build(kind string, config map[string]any) (types.Driver, error) {
	dk, ok := r.Get(kind)
	if !ok {
		return nil, &types.ConfigError{Field: "driver_kind", Reason: fmt.Sprintf("unknown driver kind %q", kind)}
	}

	if err := ValidateConfig(dk.Schema, config); err != nil {
		return nil, err
	}

	return dk.New(config)
}
