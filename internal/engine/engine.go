// Package engine is the File Operations Engine: the single entry point
// every protocol surface (HTTP API, WebDAV, FUSE) calls into. It resolves
// a virtual path through the Mount Manager, applies retry and
// capability-fallback policy around the chosen driver, serializes
// concurrent writers to the same path, and maintains the short-lived
// listing cache.
//
// Grounded on an earlier internal/filesystem.FilesystemInterface
// (generalized from one fixed S3 backend to a dispatch point over the
// resolver's N mounted drivers) and a batch processor's locking shape.
package engine

import (
	"context"
	"fmt"

	"github.com/unidrive/core/internal/config"
	"github.com/unidrive/core/internal/resolver"
	"github.com/unidrive/core/internal/tasks"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/retry"
	"github.com/unidrive/core/pkg/types"
)

// Engine is the File Operations Engine.
type Engine struct {
	resolver *resolver.Resolver
	cache    *listingCache
	locks    *pathLockTable
	tasks    *tasks.Manager

	listRetryer      *retry.Retryer
	transferRetryer  *retry.Retryer
	rateLimitRetryer *retry.Retryer

	maxRenameAttempts int
	dirsFirst         bool
}

// New builds an Engine over resolver, configured from the engine and cache
// sections of the process configuration. taskMgr is the Task Manager
// directory/cross-driver transfers and deletes are submitted to; it is
// shared with whatever else in the process needs to Pause/Cancel/inspect
// those tasks by ID.
func New(res *resolver.Resolver, engineCfg config.EngineConfig, cacheCfg config.CacheConfig, taskMgr *tasks.Manager) *Engine {
	maxRename := engineCfg.MaxRenameAttempts
	if maxRename <= 0 {
		maxRename = 100
	}
	return &Engine{
		resolver:          res,
		cache:             newListingCache(cacheCfg.TTL, cacheCfg.PerMountTTLOverride, cacheCfg.MaxEntries),
		locks:             newPathLockTable(),
		tasks:             taskMgr,
		listRetryer:       retry.New(retry.ListConfig()),
		transferRetryer:   retry.New(retry.TransferConfig()),
		rateLimitRetryer:  retry.New(retry.RateLimitConfig()),
		maxRenameAttempts: maxRename,
		dirsFirst:         !engineCfg.DisableDirsFirstSort,
	}
}

// Tasks returns the Task Manager backing this engine's asynchronous
// operations, so a caller (FUSE, the monitoring API) can Wait/Pause/Cancel
// a Task returned by Put/CopyItem/MoveItem/Delete.
func (e *Engine) Tasks() *tasks.Manager {
	return e.tasks
}

// List enumerates a virtual directory's immediate children: resolve the
// path, consult the listing cache, call the driver (with
// overlay children merged in when a nested mount exists under this
// directory), and cache the result.
func (e *Engine) List(ctx context.Context, virtualPath string) ([]types.Entry, error) {
	if cached, ok := e.cache.get(virtualPath); ok {
		return cached, nil
	}

	res, err := e.resolver.Resolve(virtualPath)
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case resolver.ResolutionNotFound:
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", virtualPath)).
			WithComponent("engine").WithOperation("list").WithPath(virtualPath)

	case resolver.ResolutionOverlay:
		entries := overlayEntries(virtualPath, res.OverlayChildren)
		sortEntries(entries, e.dirsFirst)
		e.cache.put(virtualPath, "", entries)
		return entries, nil

	default: // resolver.ResolutionDriver
		defer res.DriverRef.Release()

		if !res.DriverRef.Capabilities().Has(types.CapList) {
			return nil, errors.New(errors.Unsupported, "driver does not support listing").
				WithComponent("engine").WithOperation("list").WithPath(virtualPath)
		}

		var driverEntries []types.Entry
		err := e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			var callErr error
			driverEntries, callErr = res.DriverRef.List(ctx, res.InnerPath)
			return callErr
		})
		if err != nil {
			return nil, errors.Wrap(errors.Of(err), err, "list directory").
				WithComponent("engine").WithOperation("list").WithPath(virtualPath)
		}

		rewritten := rewriteEntries(driverEntries, virtualPath, res.MountID)

		children, err := e.resolver.OverlayChildrenUnder(virtualPath)
		if err != nil {
			return nil, err
		}
		merged := mergeOverlay(virtualPath, rewritten, children)
		sortEntries(merged, e.dirsFirst)

		e.cache.put(virtualPath, res.MountID, merged)
		return merged, nil
	}
}

// rewriteEntries rewrites each driver-returned Entry's Path from
// driver-relative to virtual, and stamps Provider with the owning mount ID.
func rewriteEntries(in []types.Entry, virtualDir, mountID string) []types.Entry {
	out := make([]types.Entry, len(in))
	for i, entry := range in {
		entry.Path = virtualJoin(virtualDir, entry.Name)
		entry.Provider = mountID
		out[i] = entry
	}
	return out
}

func overlayEntries(virtualDir string, children []string) []types.Entry {
	out := make([]types.Entry, len(children))
	for i, name := range children {
		out[i] = types.Entry{Name: name, Path: virtualJoin(virtualDir, name), IsDir: true}
	}
	return out
}

// mergeOverlay combines a driver's real listing with synthetic overlay
// directories for any nested mount below this directory. An overlay entry
// always wins over a same-named real entry, since the synthetic directory
// must always be traversable to reach the nested mount.
func mergeOverlay(virtualDir string, real []types.Entry, overlayChildren []string) []types.Entry {
	if len(overlayChildren) == 0 {
		return real
	}
	overlaySet := make(map[string]struct{}, len(overlayChildren))
	for _, c := range overlayChildren {
		overlaySet[c] = struct{}{}
	}

	out := make([]types.Entry, 0, len(real)+len(overlayChildren))
	for _, entry := range real {
		if _, shadowed := overlaySet[entry.Name]; shadowed {
			continue
		}
		out = append(out, entry)
	}
	out = append(out, overlayEntries(virtualDir, overlayChildren)...)
	return out
}
