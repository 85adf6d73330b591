// Package fuse mounts the engine's virtual namespace as a POSIX filesystem
// (go-fuse/v2): a Lookup becomes a List, a read becomes an OpenReader, and a
// file close flushes accumulated writes through a single Put. It is a second
// caller of the File Operations Engine, alongside whatever HTTP/WebDAV
// surface a deployment puts in front of it — no driver is ever spoken to
// directly.
//
// Writes are buffered per open file (internal/buffer) and flushed as one
// whole-file Put on Flush/Release, since the engine's write path has no
// notion of an in-place partial update: every driver either accepts a whole
// file or a single forward-only stream. Each write must continue where the
// buffered data ends; a write at any other offset fails with EIO.
//
// Adapted from an earlier go-fuse-based FileSystem built for a single
// fixed S3 backend, cut down to the operations the engine actually
// exposes. Its read-ahead and write-coalescing layers were tuned to that
// backend's latency profile and have no equivalent need against an
// arbitrary mounted driver, so they were dropped rather than adapted.
package fuse
