package fuse

import (
	"bytes"
	"context"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/unidrive/core/internal/buffer"
	"github.com/unidrive/core/internal/engine"
	"github.com/unidrive/core/internal/tasks"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

// Config controls mount-wide behavior.
type Config struct {
	ReadOnly     bool
	DefaultUID   uint32
	DefaultGID   uint32
	DefaultMode  uint32
	WriteBuffer  int64 // bytes buffered per open file before an eager flush
	FlushDelay   time.Duration
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	cp := *c
	if cp.DefaultMode == 0 {
		cp.DefaultMode = 0644
	}
	if cp.WriteBuffer <= 0 {
		cp.WriteBuffer = 32 * 1024 * 1024
	}
	if cp.FlushDelay <= 0 {
		cp.FlushDelay = 2 * time.Second
	}
	return &cp
}

// FileSystem adapts the engine into a go-fuse root. One FileSystem serves
// the engine's whole virtual namespace; mounting a sub-path is just a
// matter of choosing the kernel mountpoint, since virtual paths below it
// are resolved by the engine exactly as an HTTP caller would resolve them.
type FileSystem struct {
	eng      *engine.Engine
	cfg      *Config
	writeBuf *buffer.WriteBuffer

	mu        sync.Mutex
	openFiles map[uint64]*openFile
	nextHandle uint64
}

type openFile struct {
	path string
	size int64
}

// NewFileSystem wraps eng for mounting. The write buffer's flush callback
// re-enters the engine with one whole-file Put per accumulated key, which
// is the only write shape every driver kind supports.
func NewFileSystem(eng *engine.Engine, cfg *Config) (*FileSystem, error) {
	cfg = cfg.withDefaults()
	f := &FileSystem{
		eng:       eng,
		cfg:       cfg,
		openFiles: make(map[uint64]*openFile),
		nextHandle: 1,
	}

	wb, err := buffer.NewWriteBuffer(&buffer.WriteBufferConfig{
		MaxBufferSize:  cfg.WriteBuffer,
		FlushThreshold: cfg.WriteBuffer,
		AsyncFlush:     false,
		MaxWriteDelay:  cfg.FlushDelay,
	}, f.flush)
	if err != nil {
		return nil, err
	}
	f.writeBuf = wb
	return f, nil
}

func (f *FileSystem) flush(key string, data []byte, offset int64) error {
	ctx := context.Background()
	t, err := f.eng.Put(ctx, key, bytes.NewReader(data), int64(len(data)), nil, true)
	return f.waitTask(ctx, t, err)
}

// waitTask folds a Put/CopyItem/MoveItem/Delete result into a single error:
// a nil task means the engine already completed the operation
// synchronously; otherwise it blocks on the task manager until the task
// reaches a terminal state and converts that into an error.
func (f *FileSystem) waitTask(ctx context.Context, t *types.Task, err error) error {
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	done, err := f.eng.Tasks().Wait(ctx, t.ID)
	if err != nil {
		return err
	}
	return tasks.Outcome(done)
}

// Root returns the root inode for go-fuse's fs.Mount.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &dirNode{fsys: f, path: "/"}
}

// Close flushes every buffered write. Call after unmounting.
func (f *FileSystem) Close() error {
	return f.writeBuf.Close()
}

type dirNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

func (n *dirNode) join(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.join(name)
	entries, err := n.fsys.eng.List(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		fillAttr(&out.Attr, e, n.fsys.cfg)
		if e.IsDir {
			return n.NewInode(ctx, &dirNode{fsys: n.fsys, path: childPath}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
		}
		return n.NewInode(ctx, &fileNode{fsys: n.fsys, path: childPath, entry: e}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	return nil, syscall.ENOENT
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fsys.eng.List(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

func (n *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.cfg.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := n.join(name)
	if err := n.fsys.eng.CreateDir(ctx, childPath); err != nil {
		return nil, toErrno(err)
	}
	return n.NewInode(ctx, &dirNode{fsys: n.fsys, path: childPath}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (n *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fsys.cfg.ReadOnly {
		return syscall.EROFS
	}
	t, err := n.fsys.eng.Delete(ctx, n.join(name))
	if errno := toErrno(n.fsys.waitTask(ctx, t, err)); errno != 0 {
		return errno
	}
	return 0
}

func (n *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.cfg.ReadOnly {
		return syscall.EROFS
	}
	t, err := n.fsys.eng.Delete(ctx, n.join(name))
	if errno := toErrno(n.fsys.waitTask(ctx, t, err)); errno != 0 {
		return errno
	}
	return 0
}

func (n *dirNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fsys.cfg.ReadOnly {
		return syscall.EROFS
	}
	dst, ok := newParent.(*dirNode)
	if !ok {
		return syscall.EINVAL
	}
	t, err := n.fsys.eng.MoveItem(ctx, n.join(name), dst.join(newName))
	if errno := toErrno(n.fsys.waitTask(ctx, t, err)); errno != 0 {
		return errno
	}
	return 0
}

func (n *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.cfg.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	childPath := n.join(name)
	t, err := n.fsys.eng.Put(ctx, childPath, bytes.NewReader(nil), 0, nil, true)
	if err := n.fsys.waitTask(ctx, t, err); err != nil {
		return nil, nil, 0, toErrno(err)
	}
	node := n.NewInode(ctx, &fileNode{fsys: n.fsys, path: childPath}, fs.StableAttr{Mode: fuse.S_IFREG})
	fh, fuseFlags, errno := node.Operations().(*fileNode).Open(ctx, flags)
	return node, fh, fuseFlags, errno
}

type fileNode struct {
	fs.Inode
	fsys  *FileSystem
	path  string
	entry types.Entry
}

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, f.entry, f.fsys.cfg)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if f.fsys.cfg.ReadOnly && flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}

	f.fsys.mu.Lock()
	handle := f.fsys.nextHandle
	f.fsys.nextHandle++
	f.fsys.openFiles[handle] = &openFile{path: f.path, size: int64(f.entry.Size)}
	f.fsys.mu.Unlock()

	return &fileHandle{fsys: f.fsys, handle: handle, path: f.path}, 0, 0
}

type fileHandle struct {
	fsys   *FileSystem
	handle uint64
	path   string
	dirty  bool
}

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	rng := &types.Range{Start: off, End: off + int64(len(dest))}
	reader, err := fh.fsys.eng.OpenReader(ctx, fh.path, rng)
	if err != nil {
		return nil, toErrno(err)
	}
	defer reader.Close()

	n := 0
	for n < len(dest) {
		m, rerr := reader.Read(dest[n:])
		n += m
		if rerr != nil {
			break
		}
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if fh.fsys.cfg.ReadOnly {
		return 0, syscall.EROFS
	}
	if err := fh.fsys.writeBuf.Write(fh.path, off, data); err != nil {
		log.Printf("fuse: buffer write failed for %s: %v", fh.path, err)
		return 0, syscall.EIO
	}
	fh.dirty = true
	return uint32(len(data)), 0
}

func (fh *fileHandle) Flush(ctx context.Context) syscall.Errno {
	if !fh.dirty {
		return 0
	}
	if err := fh.fsys.writeBuf.Flush(fh.path); err != nil {
		return syscall.EIO
	}
	fh.dirty = false
	return 0
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	errno := fh.Flush(ctx)
	fh.fsys.mu.Lock()
	delete(fh.fsys.openFiles, fh.handle)
	fh.fsys.mu.Unlock()
	return errno
}

func fillAttr(out *fuse.Attr, e types.Entry, cfg *Config) {
	out.Mode = cfg.DefaultMode
	if e.IsDir {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
	}
	out.Size = e.Size
	out.Uid = cfg.DefaultUID
	out.Gid = cfg.DefaultGID
	if e.Modified != nil {
		t := uint64(e.Modified.Unix())
		out.Mtime, out.Atime, out.Ctime = t, t, t
	}
}

func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch errors.Of(err) {
	case errors.NotFound:
		return syscall.ENOENT
	case errors.AlreadyExists:
		return syscall.EEXIST
	case errors.NotADirectory:
		return syscall.ENOTDIR
	case errors.NotAFile:
		return syscall.EISDIR
	case errors.Auth:
		return syscall.EACCES
	case errors.Unsupported:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}
