package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/unidrive/core/internal/resolver"
	"github.com/unidrive/core/internal/tasks"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/retry"
	"github.com/unidrive/core/pkg/types"
)

// copyChunkSize is the buffer size used for engine-driven streaming copies,
// and the checkpoint granularity at which a task's pause/cancel is honored
// and its progress is reported.
const copyChunkSize = 4 * 1024 * 1024

// pausingReader caps every Read at copyChunkSize and checks ctl.CheckPaused
// beforehand, so a destination that drains the source in one big read (an
// io.Copy, an io.ReadAll) still yields a pause or cancel at a chunk
// boundary instead of only once the whole file has moved.
type pausingReader struct {
	ctx context.Context
	ctl *tasks.Control
	r   io.Reader
}

func (p *pausingReader) Read(buf []byte) (int, error) {
	if err := p.ctl.CheckPaused(p.ctx); err != nil {
		return 0, err
	}
	if len(buf) > copyChunkSize {
		buf = buf[:copyChunkSize]
	}
	return p.r.Read(buf)
}

// refReadCloser ties a resolver.DriverRef's release to the lifetime of the
// stream it opened: the driver instance cannot be disposed by a concurrent
// unmount/reconfigure while a caller still holds the stream open (spec
// §4.4.2 step 4, §9 hot-swap).
type refReadCloser struct {
	types.ReadCloser
	release func()
}

func (r *refReadCloser) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}

// OpenReader opens a lazy byte stream over virtualPath, honoring rng if
// given.
func (e *Engine) OpenReader(ctx context.Context, virtualPath string, rng *types.Range) (types.ReadCloser, error) {
	res, err := e.resolver.Resolve(virtualPath)
	if err != nil {
		return nil, err
	}
	if res.Kind != resolver.ResolutionDriver {
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no file at %q", virtualPath)).
			WithComponent("engine").WithOperation("open_reader").WithPath(virtualPath)
	}

	if rng != nil && !res.DriverRef.Capabilities().Has(types.CapReadRange) {
		res.DriverRef.Release()
		return nil, errors.New(errors.Unsupported, "driver does not support range reads").
			WithComponent("engine").WithOperation("open_reader").WithPath(virtualPath)
	}

	var stream types.ReadCloser
	err = e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
		var callErr error
		stream, callErr = res.DriverRef.OpenReader(ctx, res.InnerPath, rng)
		return callErr
	})
	if err != nil {
		res.DriverRef.Release()
		return nil, errors.Wrap(errors.Of(err), err, "open reader").
			WithComponent("engine").WithOperation("open_reader").WithPath(virtualPath)
	}

	return &refReadCloser{ReadCloser: stream, release: res.DriverRef.Release}, nil
}

// Put uploads the complete contents of src to virtualPath under a Task
// (spec §4.4.3): it offers a content hash for instant-upload reuse before
// transferring any bytes, resolves a name conflict unless overwrite is set,
// and streams the rest through the Task Manager so the caller can Pause,
// Cancel, or poll progress on the returned Task while it runs.
func (e *Engine) Put(ctx context.Context, virtualPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc, overwrite bool) (*types.Task, error) {
	release := e.locks.Lock(virtualPath)

	res, err := e.resolver.Resolve(virtualPath)
	if err != nil {
		release()
		return nil, err
	}
	if res.Kind != resolver.ResolutionDriver {
		release()
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", virtualPath)).
			WithComponent("engine").WithOperation("put").WithPath(virtualPath)
	}

	targetVirtual, targetInner, err := e.resolveUploadTarget(ctx, res, virtualPath, overwrite)
	if err != nil {
		release()
		res.DriverRef.Release()
		return nil, err
	}

	run := func(ctx context.Context, ctl *tasks.Control) error {
		defer release()
		defer res.DriverRef.Release()

		var totalPtr *uint64
		if sizeHint >= 0 {
			total := uint64(sizeHint)
			totalPtr = &total
		}

		if reused, err := e.tryInstantUpload(ctx, res.DriverRef, targetInner, src, sizeHint); err != nil {
			return err
		} else if reused {
			if totalPtr != nil {
				ctl.Progress(*totalPtr, totalPtr)
			} else {
				ctl.Progress(0, nil)
			}
			e.cache.invalidatePrefix(virtualParent(targetVirtual))
			return nil
		}

		if err := ctl.CheckPaused(ctx); err != nil {
			return err
		}

		wrapped := func(done, total uint64) {
			t := total
			ctl.Progress(done, &t)
			if progress != nil {
				progress(done, total)
			}
		}

		if !res.DriverRef.Capabilities().Has(types.CapWriteWhole) {
			if err := e.putViaStream(ctx, ctl, res.DriverRef, targetInner, targetVirtual, src, sizeHint, wrapped); err != nil {
				return err
			}
			e.cache.invalidatePrefix(virtualParent(targetVirtual))
			return nil
		}

		seeker, seekable := src.(io.Seeker)
		retryer := e.pickRetryer(seekable)
		err = retryer.DoWithContext(ctx, func(ctx context.Context) error {
			if seekable {
				if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
					return serr
				}
			}
			paced := &pausingReader{ctx: ctx, ctl: ctl, r: src}
			return res.DriverRef.Put(ctx, targetInner, paced, sizeHint, wrapped)
		})
		if err != nil {
			return errors.Wrap(errors.Of(err), err, "put").
				WithComponent("engine").WithOperation("put").WithPath(targetVirtual)
		}
		e.cache.invalidatePrefix(virtualParent(targetVirtual))
		return nil
	}

	task := e.tasks.Submit(types.TaskUpload, res.MountID, virtualPath, targetVirtual, "", true, true, run)
	return task, nil
}

// resolveUploadTarget applies the upload name-conflict policy (spec
// §4.4.3): if overwrite is set, or the driver can't list its parent to
// check, the original path is used as-is and the driver's own write decides
// what happens to an existing file there; no delete is issued beforehand.
// Otherwise it probes for a same-named sibling and, if found, suffixes a
// counter up to the configured bound.
func (e *Engine) resolveUploadTarget(ctx context.Context, res resolver.Resolution, virtualPath string, overwrite bool) (string, string, error) {
	if overwrite || !res.DriverRef.Capabilities().Has(types.CapList) {
		return virtualPath, res.InnerPath, nil
	}

	dir := virtualParent(virtualPath)
	innerDir := virtualParent(res.InnerPath)
	origName := stripLeadingSlash(virtualPath[len(dir):])

	candidate := origName
	candidateInner := res.InnerPath
	for attempt := 1; attempt <= e.maxRenameAttempts; attempt++ {
		var siblings []types.Entry
		err := e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			var callErr error
			siblings, callErr = res.DriverRef.List(ctx, innerDir)
			return callErr
		})
		if err != nil {
			if errors.Of(err) == errors.NotFound {
				// Parent doesn't exist yet (or is empty in a way the driver
				// reports as not-found); nothing to collide with.
				return virtualJoin(dir, candidate), candidateInner, nil
			}
			return "", "", errors.Wrap(errors.Of(err), err, "list upload target directory").
				WithComponent("engine").WithOperation("put").WithPath(virtualPath)
		}

		collision := false
		for _, s := range siblings {
			if s.Name == candidate {
				collision = true
				break
			}
		}
		if !collision {
			return virtualJoin(dir, candidate), candidateInner, nil
		}
		candidate = conflictName(origName, attempt)
		candidateInner = virtualJoin(innerDir, candidate)
	}

	return "", "", errors.New(errors.AlreadyExists, fmt.Sprintf("could not find a free name for %q after %d attempts", origName, e.maxRenameAttempts)).
		WithComponent("engine").WithOperation("put").WithPath(virtualPath)
}

func stripLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// tryInstantUpload offers src's content hash to the driver's InstantUpload
// hook, if both sides support it, so a byte-identical object already on the
// backend is reused with zero bytes transferred (spec §4.4.3 step 2,
// Testable Property 11).
func (e *Engine) tryInstantUpload(ctx context.Context, driver types.Driver, innerPath string, src types.ByteSource, sizeHint int64) (bool, error) {
	hp, ok := src.(types.HashProvider)
	if !ok {
		return false, nil
	}
	algo, hash := hp.ContentHash()
	if algo == "" || hash == "" {
		return false, nil
	}
	if !driver.Capabilities().Has(types.CapHash(algo)) {
		return false, nil
	}
	iu, ok := driver.(types.InstantUploader)
	if !ok {
		return false, nil
	}
	reused, err := iu.InstantUpload(ctx, innerPath, algo, hash, sizeHint)
	if err != nil {
		return false, errors.Wrap(errors.Of(err), err, "instant upload").
			WithComponent("engine").WithOperation("put").WithPath(innerPath)
	}
	return reused, nil
}

// putViaStream is the capability-based fallback when a driver can only
// accept a streaming write. Copying goes through a pausingReader so a pause
// or cancel request lands at a chunk boundary rather than only between
// whole files.
func (e *Engine) putViaStream(ctx context.Context, ctl *tasks.Control, driver types.Driver, innerPath, virtualPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	if !driver.Capabilities().Has(types.CapWriteStream) {
		return errors.New(errors.Unsupported, "driver supports neither whole-file nor streaming writes").
			WithComponent("engine").WithOperation("put").WithPath(virtualPath)
	}

	writer, err := driver.OpenWriter(ctx, innerPath, sizeHint, progress)
	if err != nil {
		return errors.Wrap(errors.Of(err), err, "open writer").
			WithComponent("engine").WithOperation("put").WithPath(virtualPath)
	}

	paced := &pausingReader{ctx: ctx, ctl: ctl, r: src}
	if _, err := io.Copy(writer, paced); err != nil {
		_ = writer.Abort(ctx)
		return errors.Wrap(errors.Transient, err, "stream to writer").
			WithComponent("engine").WithOperation("put").WithPath(virtualPath)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(errors.Of(err), err, "close writer").
			WithComponent("engine").WithOperation("put").WithPath(virtualPath)
	}
	return nil
}

func (e *Engine) pickRetryer(seekable bool) *retry.Retryer {
	if seekable {
		return e.transferRetryer
	}
	return retry.New(retry.Config{MaxAttempts: 1})
}

// Delete removes virtualPath (spec §4.4.5). A file is deleted directly with
// no task. A directory whose driver declares CAP DELETE_RECURSIVE is also
// deleted with one direct call. Otherwise the directory's children are
// enumerated and deleted depth-first under a returned Task, since the
// driver can only remove one object (or one empty directory) per call.
func (e *Engine) Delete(ctx context.Context, virtualPath string) (*types.Task, error) {
	release := e.locks.Lock(virtualPath)

	res, err := e.resolver.Resolve(virtualPath)
	if err != nil {
		release()
		return nil, err
	}
	if res.Kind != resolver.ResolutionDriver {
		release()
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", virtualPath)).
			WithComponent("engine").WithOperation("delete").WithPath(virtualPath)
	}

	if !res.DriverRef.Capabilities().Has(types.CapDelete) {
		release()
		res.DriverRef.Release()
		return nil, errors.New(errors.Unsupported, "driver does not support delete").
			WithComponent("engine").WithOperation("delete").WithPath(virtualPath)
	}

	isDir, children, err := e.probeDir(ctx, res.DriverRef, res.InnerPath)
	if err != nil {
		release()
		res.DriverRef.Release()
		return nil, errors.Wrap(errors.Of(err), err, "inspect delete target").
			WithComponent("engine").WithOperation("delete").WithPath(virtualPath)
	}

	if !isDir || res.DriverRef.Capabilities().Has(types.CapDeleteRecursive) {
		defer release()
		defer res.DriverRef.Release()
		err = e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			return res.DriverRef.Delete(ctx, res.InnerPath)
		})
		if err != nil {
			return nil, errors.Wrap(errors.Of(err), err, "delete").
				WithComponent("engine").WithOperation("delete").WithPath(virtualPath)
		}
		e.cache.invalidatePrefix(virtualParent(virtualPath))
		return nil, nil
	}

	run := func(ctx context.Context, ctl *tasks.Control) error {
		defer release()
		defer res.DriverRef.Release()

		total := uint64(countEntries(ctx, res.DriverRef, res.InnerPath, children))
		var done []string
		err := e.deleteChildrenDepthFirst(ctx, ctl, res.DriverRef, res.InnerPath, children, &total, &done)
		ctl.RecordPartial(done)
		if err != nil {
			return err
		}
		if err := res.DriverRef.Delete(ctx, res.InnerPath); err != nil {
			return errors.Wrap(errors.Of(err), err, "delete now-empty directory").
				WithComponent("engine").WithOperation("delete").WithPath(virtualPath)
		}
		e.cache.invalidatePrefix(virtualParent(virtualPath))
		return nil
	}

	task := e.tasks.Submit(types.TaskBatchDelete, res.MountID, virtualPath, "", "", false, true, run)
	return task, nil
}

// probeDir tells apart a file from a directory by attempting to list it: a
// driver that can't list at all is treated as file-only (it has no
// directory concept to recurse into).
func (e *Engine) probeDir(ctx context.Context, driver types.Driver, innerPath string) (bool, []types.Entry, error) {
	if !driver.Capabilities().Has(types.CapList) {
		return false, nil, nil
	}
	var entries []types.Entry
	err := e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
		var callErr error
		entries, callErr = driver.List(ctx, innerPath)
		return callErr
	})
	if err != nil {
		if errors.Of(err) == errors.NotADirectory {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, entries, nil
}

// countEntries counts dirPath's full descendant set (files and
// directories), so delete progress can be reported as a fraction of the
// whole subtree rather than just the current directory's immediate size.
func countEntries(ctx context.Context, driver types.Driver, dirPath string, children []types.Entry) int {
	n := len(children)
	for _, child := range children {
		if !child.IsDir {
			continue
		}
		childPath := virtualJoin(dirPath, child.Name)
		grandchildren, err := driver.List(ctx, childPath)
		if err != nil {
			continue
		}
		n += countEntries(ctx, driver, childPath, grandchildren)
	}
	return n
}

// deleteChildrenDepthFirst deletes dirPath's children in the engine's sort
// order, recursing into sub-directories before deleting their contents, so
// every directory is empty by the time its own Delete call runs.
func (e *Engine) deleteChildrenDepthFirst(ctx context.Context, ctl *tasks.Control, driver types.Driver, dirPath string, children []types.Entry, total *uint64, done *[]string) error {
	sortEntries(children, e.dirsFirst)
	for _, child := range children {
		if err := ctl.CheckPaused(ctx); err != nil {
			return err
		}
		childPath := virtualJoin(dirPath, child.Name)
		if child.IsDir {
			grandchildren, err := driver.List(ctx, childPath)
			if err != nil {
				return errors.Wrap(errors.Of(err), err, "list subdirectory for delete").
					WithComponent("engine").WithOperation("delete").WithPath(childPath)
			}
			if err := e.deleteChildrenDepthFirst(ctx, ctl, driver, childPath, grandchildren, total, done); err != nil {
				return err
			}
		}
		if err := e.transferRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			return driver.Delete(ctx, childPath)
		}); err != nil {
			return errors.Wrap(errors.Of(err), err, "delete child").
				WithComponent("engine").WithOperation("delete").WithPath(childPath)
		}
		*done = append(*done, childPath)
		ctl.Progress(uint64(len(*done)), total)
	}
	return nil
}

// CreateDir creates a directory at virtualPath. Creating a directory that
// already exists is treated as success.
func (e *Engine) CreateDir(ctx context.Context, virtualPath string) error {
	res, err := e.resolver.Resolve(virtualPath)
	if err != nil {
		return err
	}
	if res.Kind != resolver.ResolutionDriver {
		return errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", virtualPath)).
			WithComponent("engine").WithOperation("create_dir").WithPath(virtualPath)
	}
	defer res.DriverRef.Release()

	if !res.DriverRef.Capabilities().Has(types.CapMkdir) {
		return errors.New(errors.Unsupported, "driver does not support directory creation").
			WithComponent("engine").WithOperation("create_dir").WithPath(virtualPath)
	}

	err = e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
		return res.DriverRef.CreateDir(ctx, res.InnerPath)
	})
	if err != nil && errors.Of(err) != errors.AlreadyExists {
		return errors.Wrap(errors.Of(err), err, "create directory").
			WithComponent("engine").WithOperation("create_dir").WithPath(virtualPath)
	}

	e.cache.invalidatePrefix(virtualParent(virtualPath))
	return nil
}
