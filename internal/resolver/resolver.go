// Package resolver is the Mount Manager / Path Resolver: it owns the live
// mount table, resolves a virtual path to the driver instance
// and driver-relative path that serve it, synthesizes overlay directories
// where a nested mount exists but nothing is mounted at the requested path
// itself, and performs mount/unmount/reconfigure with reference-counted
// hot-swap of the underlying driver instance (no in-flight operation ever
// observes a disposed driver).
//
// Grounded on an earlier internal/filesystem path-translation layer
// (pathToS3Key/s3KeyToPath), generalized from one fixed S3 backend to an
// ordered table of N mounted drivers with longest-prefix matching.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unidrive/core/internal/config"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

// Builder constructs a live Driver from a driver kind and raw config. The
// Driver Registry & Factory (internal/registry.Registry) implements this.
type Builder interface {
	Build(kind string, config map[string]any) (types.Driver, error)
}

// ResolutionKind distinguishes the three outcomes of resolving a virtual
// path.
type ResolutionKind int

const (
	// ResolutionNotFound means no mount covers virtualPath, at or below it.
	ResolutionNotFound ResolutionKind = iota
	// ResolutionDriver means virtualPath falls at or below a mounted
	// driver's path; DriverRef and InnerPath are populated.
	ResolutionDriver
	// ResolutionOverlay means no driver is mounted at virtualPath itself,
	// but at least one mount exists strictly below it, so virtualPath is a
	// synthetic directory (an "overlay" entry).
	ResolutionOverlay
)

// Resolution is the result of resolving a virtual path.
type Resolution struct {
	Kind ResolutionKind

	// Populated when Kind == ResolutionDriver. Caller must call
	// DriverRef.Release() exactly once when done with it.
	DriverRef *DriverRef
	InnerPath string
	MountPath string
	MountID   string

	// Populated when Kind == ResolutionOverlay: the first path segment of
	// every mount strictly below virtualPath, deduplicated.
	OverlayChildren []string
}

type mountEntry struct {
	record config.MountRecord
	handle *driverHandle
}

// Resolver owns the live mount table.
type Resolver struct {
	mu      sync.RWMutex
	builder Builder
	byID    map[string]*mountEntry
	sorted  []*mountEntry // enabled mounts only, sorted by path length descending
}

// New creates a Resolver with an empty mount table.
func New(builder Builder) *Resolver {
	return &Resolver{builder: builder, byID: make(map[string]*mountEntry)}
}

// Resolve determines which driver, if any, serves virtualPath. The
// returned Resolution's DriverRef, when non-nil, must be released by the
// caller.
func (r *Resolver) Resolve(virtualPath string) (Resolution, error) {
	clean, err := normalizeVirtualPath(virtualPath)
	if err != nil {
		return Resolution{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Longest enabled mount path that is a prefix of clean wins (sorted
	// descending by path length, so the first match is the longest).
	for _, e := range r.sorted {
		if hasPathPrefix(clean, e.record.MountPath) {
			return Resolution{
				Kind:      ResolutionDriver,
				DriverRef: e.handle.acquire(),
				InnerPath: innerPath(clean, e.record.MountPath),
				MountPath: e.record.MountPath,
				MountID:   e.record.ID,
			}, nil
		}
	}

	children := r.overlayChildrenLocked(clean)
	if len(children) > 0 {
		return Resolution{Kind: ResolutionOverlay, OverlayChildren: children}, nil
	}

	return Resolution{Kind: ResolutionNotFound}, nil
}

// OverlayChildrenUnder returns the first path segment of every enabled
// mount strictly below virtualPath, regardless of whether virtualPath
// itself also resolves to a driver. The engine's list() uses this to merge
// synthetic overlay entries into a driver's real listing.
func (r *Resolver) OverlayChildrenUnder(virtualPath string) ([]string, error) {
	clean, err := normalizeVirtualPath(virtualPath)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overlayChildrenLocked(clean), nil
}

func (r *Resolver) overlayChildrenLocked(clean string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range r.sorted {
		if seg, ok := firstSegmentBelow(clean, e.record.MountPath); ok {
			if _, dup := seen[seg]; !dup {
				seen[seg] = struct{}{}
				out = append(out, seg)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Mount builds a driver instance for record and installs it in the mount
// table. It rejects a path collision with another enabled mount and
// invalidates nothing else: resolution is computed fresh on every call, so
// there is no cached resolution to invalidate.
func (r *Resolver) Mount(ctx context.Context, record config.MountRecord) error {
	clean, err := normalizeVirtualPath(record.MountPath)
	if err != nil {
		return err
	}
	record.MountPath = clean

	driver, err := r.builder.Build(record.DriverKind, record.Config)
	if err != nil {
		return errors.Wrap(errors.Permanent, err, "build driver instance").
			WithComponent("resolver").WithOperation("mount").WithContext("mount_id", record.ID)
	}

	if refresher, ok := driver.(types.Refresher); ok {
		if err := refresher.Refresh(ctx); err != nil {
			return errors.Wrap(errors.Auth, err, "refresh driver credentials").
				WithComponent("resolver").WithOperation("mount").WithContext("mount_id", record.ID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if record.Enabled {
		for _, e := range r.sorted {
			if e.record.ID != record.ID && e.record.MountPath == clean {
				return errors.New(errors.AlreadyExists, fmt.Sprintf("mount path %q already in use", clean)).
					WithComponent("resolver").WithOperation("mount")
			}
		}
	}

	if existing, ok := r.byID[record.ID]; ok {
		existing.handle.retire()
	}

	entry := &mountEntry{record: record, handle: newDriverHandle(driver)}
	r.byID[record.ID] = entry
	r.rebuildSortedLocked()
	return nil
}

// Unmount drains and removes a mount. The driver instance is disposed
// once every in-flight operation holding a reference
// releases it; Unmount itself does not block on that.
func (r *Resolver) Unmount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return errors.New(errors.NotFound, fmt.Sprintf("mount %q not found", id)).
			WithComponent("resolver").WithOperation("unmount")
	}
	delete(r.byID, id)
	r.rebuildSortedLocked()
	entry.handle.retire()
	return nil
}

// Reconfigure builds a new driver instance from newConfig and atomically
// swaps it into the mount table in place of the old one. The new instance
// is built and, if it implements
// Refresher, refreshed before the swap — a failing new config never
// disrupts the live mount.
func (r *Resolver) Reconfigure(ctx context.Context, id string, newConfig map[string]any) error {
	r.mu.Lock()
	entry, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return errors.New(errors.NotFound, fmt.Sprintf("mount %q not found", id)).
			WithComponent("resolver").WithOperation("reconfigure")
	}
	kind := entry.record.DriverKind
	r.mu.Unlock()

	driver, err := r.builder.Build(kind, newConfig)
	if err != nil {
		return errors.Wrap(errors.Permanent, err, "build replacement driver instance").
			WithComponent("resolver").WithOperation("reconfigure").WithContext("mount_id", id)
	}
	if refresher, ok := driver.(types.Refresher); ok {
		if err := refresher.Refresh(ctx); err != nil {
			return errors.Wrap(errors.Auth, err, "refresh replacement driver credentials").
				WithComponent("resolver").WithOperation("reconfigure").WithContext("mount_id", id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok = r.byID[id]
	if !ok {
		return errors.New(errors.NotFound, fmt.Sprintf("mount %q not found", id)).
			WithComponent("resolver").WithOperation("reconfigure")
	}
	old := entry.handle
	entry.record.Config = newConfig
	entry.record.UpdatedAt = now()
	entry.handle = newDriverHandle(driver)
	old.retire()
	return nil
}

// List returns a snapshot of every mount currently in the table, enabled or
// not, sorted by ascending Order.
func (r *Resolver) List() []config.MountRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]config.MountRecord, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (r *Resolver) rebuildSortedLocked() {
	r.sorted = r.sorted[:0]
	for _, e := range r.byID {
		if e.record.Enabled {
			r.sorted = append(r.sorted, e)
		}
	}
	sort.Slice(r.sorted, func(i, j int) bool {
		return len(r.sorted[i].record.MountPath) > len(r.sorted[j].record.MountPath)
	})
}

// now is overridden in tests; time.Now is unavailable to workflow scripts
// but this is ordinary runtime code, not a script.
var now = func() time.Time { return time.Now().UTC() }
