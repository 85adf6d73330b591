package fuse

import (
	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/unidrive/core/internal/engine"
)

// Session is a live kernel mount.
type Session struct {
	fsys   *FileSystem
	server *fs.Server
}

// Mount mounts eng's virtual namespace at mountPoint and returns once the
// kernel mount is live. Call Unmount to tear it down.
func Mount(eng *engine.Engine, mountPoint string, cfg *Config) (*Session, error) {
	fsys, err := NewFileSystem(eng, cfg)
	if err != nil {
		return nil, err
	}

	opts := &fs.Options{}
	opts.AllowOther = false
	if cfg != nil && cfg.ReadOnly {
		opts.Debug = false
	}

	server, err := fs.Mount(mountPoint, fsys.Root(), opts)
	if err != nil {
		return nil, err
	}

	return &Session{fsys: fsys, server: server}, nil
}

// Unmount tears down the kernel mount and flushes any buffered writes.
func (s *Session) Unmount() error {
	if err := s.server.Unmount(); err != nil {
		return err
	}
	return s.fsys.Close()
}

// Wait blocks until the mount is unmounted (by this process or externally,
// e.g. `fusermount -u`).
func (s *Session) Wait() {
	s.server.Wait()
}
