package engine

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/unidrive/core/internal/resolver"
	"github.com/unidrive/core/internal/tasks"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

// Rename changes a file or directory's name within its parent directory. On
// a name collision it appends " (n)" and retries, up to the configured
// rename-attempt bound, past which it gives up rather than looping forever
// against a pathologically crowded directory.
func (e *Engine) Rename(ctx context.Context, virtualPath, newName string) error {
	release := e.locks.Lock(virtualPath)
	defer release()

	res, err := e.resolver.Resolve(virtualPath)
	if err != nil {
		return err
	}
	if res.Kind != resolver.ResolutionDriver {
		return errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", virtualPath)).
			WithComponent("engine").WithOperation("rename").WithPath(virtualPath)
	}
	defer res.DriverRef.Release()

	if !res.DriverRef.Capabilities().Has(types.CapRename) {
		return errors.New(errors.Unsupported, "driver does not support rename").
			WithComponent("engine").WithOperation("rename").WithPath(virtualPath)
	}

	candidate := newName
	for attempt := 1; attempt <= e.maxRenameAttempts; attempt++ {
		err := e.listRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			return res.DriverRef.Rename(ctx, res.InnerPath, candidate)
		})
		if err == nil {
			e.cache.invalidatePrefix(virtualParent(virtualPath))
			return nil
		}
		if errors.Of(err) != errors.AlreadyExists {
			return errors.Wrap(errors.Of(err), err, "rename").
				WithComponent("engine").WithOperation("rename").WithPath(virtualPath)
		}
		candidate = conflictName(newName, attempt)
	}

	return errors.New(errors.AlreadyExists, fmt.Sprintf("could not find a free name for %q after %d attempts", newName, e.maxRenameAttempts)).
		WithComponent("engine").WithOperation("rename").WithPath(virtualPath)
}

func conflictName(name string, attempt int) string {
	ext := path.Ext(name)
	base := name[:len(name)-len(ext)]
	return fmt.Sprintf("%s (%d)%s", base, attempt, ext)
}

// statSize looks up a single file's size by listing its parent directory,
// for drivers that have no dedicated stat call. Returns 0, false if the
// driver can't list or the entry isn't found, in which case that file
// counts as 0 bytes toward the transfer's progress total.
func statSize(ctx context.Context, driver types.Driver, innerPath string) (uint64, bool) {
	if !driver.Capabilities().Has(types.CapList) {
		return 0, false
	}
	parent := virtualParent(innerPath)
	name := innerPath[len(parent):]
	name = stripLeadingSlash(name)
	entries, err := driver.List(ctx, parent)
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Size, true
		}
	}
	return 0, false
}

// copyLeaf is one file discovered while flattening a directory tree ahead
// of a copy or move, paired with the destination path it's headed to.
type copyLeaf struct {
	srcInner, dstInner string
	srcVirtual, dstVirtual string
	size uint64
}

// flattenDir walks srcInner depth-first (in the engine's sort order),
// recording every directory it needs created on the destination side and
// every file it needs copied, so the whole transfer's size is known before
// any bytes move (spec §4.4.4 step 3's "aggregate progress reporting") and
// traversal order is stable (step 4's ordering guarantee).
func (e *Engine) flattenDir(ctx context.Context, driver types.Driver, srcInnerDir, dstInnerDir, srcVirtualDir, dstVirtualDir string, entries []types.Entry, dirs *[]string, leaves *[]copyLeaf) error {
	sortEntries(entries, e.dirsFirst)
	for _, entry := range entries {
		childSrcInner := virtualJoin(srcInnerDir, entry.Name)
		childDstInner := virtualJoin(dstInnerDir, entry.Name)
		childSrcVirtual := virtualJoin(srcVirtualDir, entry.Name)
		childDstVirtual := virtualJoin(dstVirtualDir, entry.Name)
		if entry.IsDir {
			*dirs = append(*dirs, childDstInner)
			children, err := driver.List(ctx, childSrcInner)
			if err != nil {
				return errors.Wrap(errors.Of(err), err, "list subdirectory for transfer").
					WithComponent("engine").WithOperation("copy").WithPath(childSrcVirtual)
			}
			if err := e.flattenDir(ctx, driver, childSrcInner, childDstInner, childSrcVirtual, childDstVirtual, children, dirs, leaves); err != nil {
				return err
			}
			continue
		}
		*leaves = append(*leaves, copyLeaf{
			srcInner: childSrcInner, dstInner: childDstInner,
			srcVirtual: childSrcVirtual, dstVirtual: childDstVirtual,
			size: entry.Size,
		})
	}
	return nil
}

// copyOneFile copies a single file, preferring the destination driver's
// native server-side CopyItem when src and dst share a mount and it's
// advertised, else streaming through the engine. The stream path runs
// through a pausingReader so a directory transfer's pause/cancel check
// lands mid-file, not just between files.
func (e *Engine) copyOneFile(ctx context.Context, ctl *tasks.Control, srcDriver, dstDriver types.Driver, sameMount bool, srcInner, dstInner, srcVirtual, dstVirtual string, size uint64, progress types.ProgressFunc) error {
	if sameMount && srcDriver.Capabilities().Has(types.CapCopy) {
		if err := e.transferRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			return srcDriver.CopyItem(ctx, srcInner, dstInner)
		}); err != nil {
			return errors.Wrap(errors.Of(err), err, "copy").
				WithComponent("engine").WithOperation("copy").WithPath(srcVirtual)
		}
		if progress != nil {
			progress(uint64(size), uint64(size))
		}
		return nil
	}

	if !srcDriver.Capabilities().Has(types.CapRead) {
		return errors.New(errors.Unsupported, "source driver does not support read").
			WithComponent("engine").WithOperation("copy").WithPath(srcVirtual)
	}
	reader, err := srcDriver.OpenReader(ctx, srcInner, nil)
	if err != nil {
		return errors.Wrap(errors.Of(err), err, "open source for stream copy").
			WithComponent("engine").WithOperation("copy").WithPath(srcVirtual)
	}
	defer reader.Close()
	paced := &pausingReader{ctx: ctx, ctl: ctl, r: reader}

	if dstDriver.Capabilities().Has(types.CapWriteWhole) {
		err = dstDriver.Put(ctx, dstInner, paced, reader.Size(), progress)
	} else if dstDriver.Capabilities().Has(types.CapWriteStream) {
		var writer types.WriteCloser
		writer, err = dstDriver.OpenWriter(ctx, dstInner, reader.Size(), progress)
		if err == nil {
			if _, cerr := io.Copy(writer, paced); cerr != nil {
				_ = writer.Abort(ctx)
				err = cerr
			} else {
				err = writer.Close()
			}
		}
	} else {
		return errors.New(errors.Unsupported, "destination driver supports neither whole-file nor streaming writes").
			WithComponent("engine").WithOperation("copy").WithPath(dstVirtual)
	}

	if err != nil {
		return errors.Wrap(errors.Of(err), err, "stream copy to destination").
			WithComponent("engine").WithOperation("copy").WithPath(dstVirtual)
	}
	return nil
}

// copyTree performs the flatten-then-copy pass shared by directory copy and
// directory move: create every destination directory, then copy every leaf
// file in stable order, reporting aggregate byte progress and recording
// each destination as it lands so a failure partway through still tells the
// caller what succeeded.
func (e *Engine) copyTree(ctx context.Context, ctl *tasks.Control, srcDriver, dstDriver types.Driver, sameMount, isDir bool, leaves []copyLeaf, dirs []string, dstRootInner string) ([]string, error) {
	var total uint64
	for _, l := range leaves {
		total += l.size
	}
	totalPtr := &total

	if isDir && dstDriver.Capabilities().Has(types.CapMkdir) {
		if err := dstDriver.CreateDir(ctx, dstRootInner); err != nil && errors.Of(err) != errors.AlreadyExists {
			return nil, errors.Wrap(errors.Of(err), err, "create destination directory").
				WithComponent("engine").WithOperation("copy").WithPath(dstRootInner)
		}
		for _, d := range dirs {
			if err := dstDriver.CreateDir(ctx, d); err != nil && errors.Of(err) != errors.AlreadyExists {
				return nil, errors.Wrap(errors.Of(err), err, "create destination directory").
					WithComponent("engine").WithOperation("copy").WithPath(d)
			}
		}
	}

	var done uint64
	var landed []string
	for _, leaf := range leaves {
		if err := ctl.CheckPaused(ctx); err != nil {
			ctl.RecordPartial(landed)
			return landed, err
		}
		baseDone := done
		err := e.copyOneFile(ctx, ctl, srcDriver, dstDriver, sameMount, leaf.srcInner, leaf.dstInner, leaf.srcVirtual, leaf.dstVirtual, leaf.size, func(d, _ uint64) {
			ctl.Progress(baseDone+d, totalPtr)
		})
		if err != nil {
			ctl.RecordPartial(landed)
			return landed, err
		}
		done += leaf.size
		landed = append(landed, leaf.dstVirtual)
		ctl.Progress(done, totalPtr)
	}
	ctl.RecordPartial(landed)
	return landed, nil
}

// MoveItem moves srcPath to dstPath. A same-mount file move is delegated
// to the driver's native MoveItem immediately (spec §4.4.4 step 1). A
// directory, or any move that crosses mounts, runs under a returned Task:
// spec §4.4.4 step 4 requires every child to be successfully copied before
// any source child is deleted, so a failed copy partway through leaves the
// source untouched rather than rolling back what already landed.
func (e *Engine) MoveItem(ctx context.Context, srcPath, dstPath string) (*types.Task, error) {
	first, second := srcPath, dstPath
	if second < first {
		first, second = second, first
	}
	releaseFirst := e.locks.Lock(first)
	var releaseSecond func()
	if second != first {
		releaseSecond = e.locks.Lock(second)
	}
	releaseAll := func() {
		releaseFirst()
		if releaseSecond != nil {
			releaseSecond()
		}
	}

	srcRes, err := e.resolver.Resolve(srcPath)
	if err != nil {
		releaseAll()
		return nil, err
	}
	if srcRes.Kind != resolver.ResolutionDriver {
		releaseAll()
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", srcPath)).
			WithComponent("engine").WithOperation("move").WithPath(srcPath)
	}
	dstRes, err := e.resolver.Resolve(dstPath)
	if err != nil {
		releaseAll()
		srcRes.DriverRef.Release()
		return nil, err
	}
	if dstRes.Kind != resolver.ResolutionDriver {
		releaseAll()
		srcRes.DriverRef.Release()
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", dstPath)).
			WithComponent("engine").WithOperation("move").WithPath(dstPath)
	}

	sameMount := srcRes.MountID == dstRes.MountID

	isDir, children, err := e.probeDir(ctx, srcRes.DriverRef, srcRes.InnerPath)
	if err != nil {
		releaseAll()
		srcRes.DriverRef.Release()
		dstRes.DriverRef.Release()
		return nil, errors.Wrap(errors.Of(err), err, "inspect move source").
			WithComponent("engine").WithOperation("move").WithPath(srcPath)
	}

	if !isDir && sameMount && srcRes.DriverRef.Capabilities().Has(types.CapMove) {
		defer releaseAll()
		defer srcRes.DriverRef.Release()
		defer dstRes.DriverRef.Release()
		err := e.transferRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			return srcRes.DriverRef.MoveItem(ctx, srcRes.InnerPath, dstRes.InnerPath)
		})
		if err != nil {
			return nil, errors.Wrap(errors.Of(err), err, "move").
				WithComponent("engine").WithOperation("move").WithPath(srcPath)
		}
		e.cache.invalidatePrefix(virtualParent(srcPath))
		e.cache.invalidatePrefix(virtualParent(dstPath))
		return nil, nil
	}

	run := func(ctx context.Context, ctl *tasks.Control) error {
		defer releaseAll()
		defer srcRes.DriverRef.Release()
		defer dstRes.DriverRef.Release()

		var leaves []copyLeaf
		var dirs []string
		if isDir {
			if err := e.flattenDir(ctx, srcRes.DriverRef, srcRes.InnerPath, dstRes.InnerPath, srcPath, dstPath, children, &dirs, &leaves); err != nil {
				return err
			}
		} else {
			size, _ := statSize(ctx, srcRes.DriverRef, srcRes.InnerPath)
			leaves = []copyLeaf{{srcInner: srcRes.InnerPath, dstInner: dstRes.InnerPath, srcVirtual: srcPath, dstVirtual: dstPath, size: size}}
		}

		if _, err := e.copyTree(ctx, ctl, srcRes.DriverRef, dstRes.DriverRef, sameMount, isDir, leaves, dirs, dstRes.InnerPath); err != nil {
			return err
		}

		// Step 4: only once every child has copied successfully do we
		// delete the source side, deepest entries first.
		for i := len(leaves) - 1; i >= 0; i-- {
			if err := srcRes.DriverRef.Delete(ctx, leaves[i].srcInner); err != nil {
				return errors.Wrap(errors.Of(err), err, "delete source after move").
					WithComponent("engine").WithOperation("move").WithPath(leaves[i].srcVirtual)
			}
		}
		for i := len(dirs) - 1; i >= 0; i-- {
			// Best-effort: a driver without CAP DELETE_RECURSIVE still
			// accepts deleting an empty directory.
			_ = srcRes.DriverRef.Delete(ctx, virtualJoin(srcRes.InnerPath, dirs[i][len(dstRes.InnerPath):]))
		}
		if isDir {
			if err := srcRes.DriverRef.Delete(ctx, srcRes.InnerPath); err != nil {
				return errors.Wrap(errors.Of(err), err, "delete source directory after move").
					WithComponent("engine").WithOperation("move").WithPath(srcPath)
			}
		}

		e.cache.invalidatePrefix(virtualParent(srcPath))
		e.cache.invalidatePrefix(virtualParent(dstPath))
		return nil
	}

	task := e.tasks.Submit(types.TaskMove, dstRes.MountID, srcPath, dstPath, "", true, true, run)
	return task, nil
}

// CopyItem copies srcPath to dstPath. A same-mount file copy is delegated
// to the driver's native server-side CopyItem immediately. A directory, or
// any copy that crosses mounts, runs under a returned Task with aggregate
// progress across every file in the tree (spec §4.4.4 step 3).
func (e *Engine) CopyItem(ctx context.Context, srcPath, dstPath string) (*types.Task, error) {
	releaseDst := e.locks.Lock(dstPath)

	srcRes, err := e.resolver.Resolve(srcPath)
	if err != nil {
		releaseDst()
		return nil, err
	}
	if srcRes.Kind != resolver.ResolutionDriver {
		releaseDst()
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", srcPath)).
			WithComponent("engine").WithOperation("copy").WithPath(srcPath)
	}
	dstRes, err := e.resolver.Resolve(dstPath)
	if err != nil {
		releaseDst()
		srcRes.DriverRef.Release()
		return nil, err
	}
	if dstRes.Kind != resolver.ResolutionDriver {
		releaseDst()
		srcRes.DriverRef.Release()
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no mount covers %q", dstPath)).
			WithComponent("engine").WithOperation("copy").WithPath(dstPath)
	}

	sameMount := srcRes.MountID == dstRes.MountID

	isDir, children, err := e.probeDir(ctx, srcRes.DriverRef, srcRes.InnerPath)
	if err != nil {
		releaseDst()
		srcRes.DriverRef.Release()
		dstRes.DriverRef.Release()
		return nil, errors.Wrap(errors.Of(err), err, "inspect copy source").
			WithComponent("engine").WithOperation("copy").WithPath(srcPath)
	}

	if !isDir && sameMount && srcRes.DriverRef.Capabilities().Has(types.CapCopy) {
		defer releaseDst()
		defer srcRes.DriverRef.Release()
		defer dstRes.DriverRef.Release()
		err := e.transferRetryer.DoWithContext(ctx, func(ctx context.Context) error {
			return srcRes.DriverRef.CopyItem(ctx, srcRes.InnerPath, dstRes.InnerPath)
		})
		if err != nil {
			return nil, errors.Wrap(errors.Of(err), err, "copy").
				WithComponent("engine").WithOperation("copy").WithPath(srcPath)
		}
		e.cache.invalidatePrefix(virtualParent(dstPath))
		return nil, nil
	}

	run := func(ctx context.Context, ctl *tasks.Control) error {
		defer releaseDst()
		defer srcRes.DriverRef.Release()
		defer dstRes.DriverRef.Release()

		var leaves []copyLeaf
		var dirs []string
		if isDir {
			if err := e.flattenDir(ctx, srcRes.DriverRef, srcRes.InnerPath, dstRes.InnerPath, srcPath, dstPath, children, &dirs, &leaves); err != nil {
				return err
			}
		} else {
			size, _ := statSize(ctx, srcRes.DriverRef, srcRes.InnerPath)
			leaves = []copyLeaf{{srcInner: srcRes.InnerPath, dstInner: dstRes.InnerPath, srcVirtual: srcPath, dstVirtual: dstPath, size: size}}
		}

		if _, err := e.copyTree(ctx, ctl, srcRes.DriverRef, dstRes.DriverRef, sameMount, isDir, leaves, dirs, dstRes.InnerPath); err != nil {
			return err
		}
		e.cache.invalidatePrefix(virtualParent(dstPath))
		return nil
	}

	task := e.tasks.Submit(types.TaskCopy, dstRes.MountID, srcPath, dstPath, "", true, true, run)
	return task, nil
}
