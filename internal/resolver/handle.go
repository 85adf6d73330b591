package resolver

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/unidrive/core/pkg/types"
)

// driverHandle is the reference-counted wrapper around a live Driver
// instance that makes hot-swap safe during a mount-table reconfiguration.
// The resolver's mount table holds
// one reference for as long as the mount is installed; every in-flight
// operation holds its own reference for the duration of its call. The
// underlying driver is disposed only once both the table's reference has
// been dropped (on unmount/reconfigure) and every outstanding operation has
// released its reference.
type driverHandle struct {
	driver types.Driver

	mu      sync.Mutex
	refs    int
	retired bool
	disposed bool
}

func newDriverHandle(d types.Driver) *driverHandle {
	return &driverHandle{driver: d, refs: 1} // the table itself holds one reference
}

// acquire hands out one more reference, for an operation that is about to
// call the driver. The caller must Release it when done.
func (h *driverHandle) acquire() *DriverRef {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
	return &DriverRef{Driver: h.driver, handle: h}
}

// retire drops the table's own reference, marking the handle for disposal
// once every acquired reference is released. Called on unmount/reconfigure.
func (h *driverHandle) retire() {
	h.mu.Lock()
	h.retired = true
	h.refs--
	shouldDispose := h.refs <= 0 && !h.disposed
	if shouldDispose {
		h.disposed = true
	}
	h.mu.Unlock()

	if shouldDispose {
		h.dispose()
	}
}

func (h *driverHandle) release() {
	h.mu.Lock()
	h.refs--
	shouldDispose := h.retired && h.refs <= 0 && !h.disposed
	if shouldDispose {
		h.disposed = true
	}
	h.mu.Unlock()

	if shouldDispose {
		h.dispose()
	}
}

func (h *driverHandle) dispose() {
	if closer, ok := h.driver.(io.Closer); ok {
		_ = closer.Close()
	}
}

// DriverRef is a caller's handle on a live Driver instance, acquired through
// the resolver so that a concurrent unmount/reconfigure cannot dispose the
// driver out from under an in-flight operation. Callers must call Release
// exactly once.
type DriverRef struct {
	types.Driver

	handle   *driverHandle
	released atomic.Bool
}

// Release returns this reference. Safe to call more than once; only the
// first call has any effect.
func (r *DriverRef) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.handle.release()
	}
}
