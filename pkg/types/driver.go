// Package types is the shared vocabulary of the storage federation layer:
// the Driver Contract every backend implements, the uniform
// Entry/Range/Capability types the engine and resolver pass around, and the
// DriverKind/ConfigError shapes the Registry uses to describe and
// construct backends. Modeled on an earlier pkg/types/interfaces.go
// Backend interface, generalized from one object-storage backend to the
// full file-operation vocabulary every driver kind implements.
package types

import (
	"context"
	"io"
	"time"
)

// Capability is a single declared ability of a driver, used by the engine
// to choose server-side shortcuts over streaming fallbacks.
type Capability string

const (
	CapList       Capability = "LIST"
	CapRead       Capability = "READ"
	CapReadRange  Capability = "READ_RANGE"
	CapWriteStream Capability = "WRITE_STREAM"
	CapWriteWhole Capability = "WRITE_WHOLE"
	CapDelete     Capability = "DELETE"
	CapMkdir      Capability = "MKDIR"
	CapRename     Capability = "RENAME"
	CapMove       Capability = "MOVE"
	CapCopy       Capability = "COPY"
	CapDirectLink Capability = "DIRECT_LINK"
	CapSpaceInfo  Capability = "SPACE_INFO"

	// CapDeleteRecursive declares that a single Delete call on a directory
	// path removes the whole subtree. Drivers that lack it only delete an
	// empty directory (or a single object/marker), so the engine must
	// enumerate and delete children itself.
	CapDeleteRecursive Capability = "DELETE_RECURSIVE"
)

// CapHash builds the capability token for a hash algorithm, e.g.
// CapHash("md5") yields "HASH(md5)".
func CapHash(algo string) Capability {
	return Capability("HASH(" + algo + ")")
}

// CapabilitySet is an immutable bit-set-like collection of Capability tokens.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a CapabilitySet from a list of capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set declares the given capability.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Range is a half-open byte interval [Start, End). End < 0 means "read to
// EOF".
type Range struct {
	Start int64
	End   int64
}

// HasEnd reports whether the range has a known, finite end.
func (r Range) HasEnd() bool {
	return r.End >= 0
}

// Length returns the range's length when End is known, or -1 otherwise.
func (r Range) Length() int64 {
	if !r.HasEnd() {
		return -1
	}
	return r.End - r.Start
}

// Entry is the uniform listing element every driver's list() returns after
// the engine rewrites its path from inner to virtual.
type Entry struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Size       uint64            `json:"size"`
	IsDir      bool              `json:"is_dir"`
	Modified   *time.Time        `json:"modified,omitempty"`
	Created    *time.Time        `json:"created,omitempty"`
	Hashes     map[string]string `json:"hashes,omitempty"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	RawURL     string            `json:"raw_url,omitempty"`
	Provider   string            `json:"provider"`
	ID         string            `json:"id,omitempty"`
	Extra      map[string]any    `json:"extra,omitempty"`
}

// SpaceInfo is the optional result of a driver's space_info() call.
type SpaceInfo struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// ProgressFunc is the lightweight, non-blocking progress callback drivers
// invoke on chunk boundaries during put/open_writer. It must never perform
// I/O or acquire locks held elsewhere in the engine.
type ProgressFunc func(doneBytes, totalBytes uint64)

// ByteSource is a random-access or sequential source of bytes for an upload.
// Local/buffered sources implement ReaderAt; pure streaming sources need only
// io.Reader.
type ByteSource interface {
	io.Reader
}

// ByteSourceAt is the random-access variant of ByteSource, allowing a driver
// to read from arbitrary offsets (e.g. to compute a hash before streaming).
type ByteSourceAt interface {
	ByteSource
	io.ReaderAt
}

// ReadCloser is a lazy byte stream of known or unknown length, returned by
// open_reader. Closing drops the underlying connection; cancellation while
// reading drops the stream.
type ReadCloser interface {
	io.ReadCloser
	// Size returns the total number of bytes the stream will yield, or -1
	// if unknown ahead of time.
	Size() int64
}

// WriteCloser is a streaming sink returned by open_writer. Closing without
// calling Abort commits the write; Abort is a best-effort partial-object
// cleanup hook.
type WriteCloser interface {
	io.WriteCloser
	Abort(ctx context.Context) error
}

// Driver is the polymorphic interface every backend implements — the
// universal vocabulary of file operations every backend must support.
// Every method is cancellable via its context and must not block the
// caller's scheduling goroutine beyond actual I/O wait.
type Driver interface {
	// Name returns this driver instance's static identifier string.
	Name() string

	// Capabilities returns the set of operations this driver supports.
	Capabilities() CapabilitySet

	// List enumerates a directory's immediate children. Implementations
	// handle any backend-side paging internally and return a fully
	// materialized, finite sequence.
	List(ctx context.Context, innerPath string) ([]Entry, error)

	// OpenReader opens a lazy byte stream over innerPath, honoring rng if
	// given. A range whose End extends past EOF returns all bytes from
	// Start to EOF rather than erroring.
	OpenReader(ctx context.Context, innerPath string, rng *Range) (ReadCloser, error)

	// Put uploads src as the complete contents of innerPath. sizeHint, if
	// >= 0, lets the driver pre-allocate or choose single-shot vs.
	// multipart upload strategy. progress may be nil.
	Put(ctx context.Context, innerPath string, src ByteSource, sizeHint int64, progress ProgressFunc) error

	// OpenWriter returns a streaming sink for innerPath, for drivers that
	// advertise WRITE_STREAM.
	OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress ProgressFunc) (WriteCloser, error)

	// Delete removes innerPath. Deleting a missing path may be treated as
	// success by the engine; delete idempotency is a driver's choice.
	Delete(ctx context.Context, innerPath string) error

	// CreateDir creates a directory at innerPath.
	CreateDir(ctx context.Context, innerPath string) error

	// Rename renames a path within the same parent directory.
	Rename(ctx context.Context, innerPath, newName string) error

	// MoveItem moves src to dst, both within this driver.
	MoveItem(ctx context.Context, src, dst string) error

	// CopyItem performs a server-side copy within this driver. A driver
	// that cannot do this without streaming through the caller must not
	// advertise CapCopy, and this method is never called in that case.
	CopyItem(ctx context.Context, src, dst string) error

	// DirectLink returns a backend-issued URL that lets a client fetch the
	// object's bytes without proxying through the engine, or "" if the
	// driver lacks CapDirectLink.
	DirectLink(ctx context.Context, innerPath string) (string, error)

	// SpaceInfo reports backend capacity, or an Unsupported error if the
	// driver lacks CapSpaceInfo.
	SpaceInfo(ctx context.Context) (SpaceInfo, error)

	// HealthCheck reports whether the driver can currently reach its
	// backend; used by internal/health.
	HealthCheck(ctx context.Context) error
}

// Refresher is an optional capability a Driver may implement: a hook the
// engine calls once after an Auth error before retrying the failed call.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// HashProvider is an optional capability a ByteSource may implement: it
// already knows a content hash for the bytes it will yield (computed by the
// caller, or cached from a prior read), letting the engine offer it to a
// driver's InstantUpload hook before streaming anything.
type HashProvider interface {
	ContentHash() (algo, hash string)
}

// InstantUploader is an optional capability a Driver may implement: given a
// hash the caller already computed, the driver checks whether a matching
// object already exists at innerPath and, if so, wires the upload to it
// without transferring any bytes. ok is false when no match was found and
// the caller must fall through to a normal Put.
type InstantUploader interface {
	InstantUpload(ctx context.Context, innerPath, algo, hash string, size int64) (ok bool, err error)
}

// Aborter is an optional capability: a driver-native hook to abort an
// in-flight upload rather than letting the engine fall back to
// delete-after cleanup.
type Aborter interface {
	AbortUpload(ctx context.Context, innerPath string) error
}

// ConfigError describes which configuration field failed validation and
// why, returned by a DriverKind's constructor.
type ConfigError struct {
	Field   string
	Reason  string
	Wrapped error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return "config field " + e.Field + ": " + e.Reason
	}
	return e.Reason
}

func (e *ConfigError) Unwrap() error {
	return e.Wrapped
}

// SchemaField describes one field of a DriverKind's JSON configuration
// schema.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "int", "bool", "enum"
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	EnumNames   []string `json:"enum_names,omitempty"`
	Format      string   `json:"format,omitempty"` // e.g. "password" to mark secrets
	Description string   `json:"description,omitempty"`
}

// Schema is a DriverKind's full configuration schema.
type Schema struct {
	Fields []SchemaField `json:"fields"`
}

// Constructor builds a live Driver instance from a validated, opaque
// configuration map. It returns a *ConfigError when config fails validation.
type Constructor func(config map[string]any) (Driver, error)

// DriverKind is a process-wide-immutable description of one backend kind:
// its identifier, display name, configuration schema, and constructor.
type DriverKind struct {
	Kind        string
	DisplayName string
	Schema      Schema
	New         Constructor
}
