// Package engine implements the File Operations Engine: the single call
// surface every protocol adapter (HTTP API, WebDAV, FUSE) uses to list,
// read, write, copy, move, delete, and
// create directories across every mounted driver, with retry, capability
// fallback, per-path locking, and listing-cache invalidation applied
// uniformly regardless of which driver ultimately serves the call.
package engine
