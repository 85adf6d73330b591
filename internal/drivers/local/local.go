// Package local implements a Driver Contract backend over a directory on
// the host filesystem — the reference driver every other kind's behavior
// is tested against, grounded on the registry's own plugin-construction
// shape rather than any prior backend code, since none of those spoke to
// a local disk; they only ever spoke to S3.
package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func init() {
	registry.Default().Register(types.DriverKind{
		Kind:        "local",
		DisplayName: "Local Filesystem",
		Schema: types.Schema{Fields: []types.SchemaField{
			{Name: "root", Type: "string", Required: true, Description: "absolute path on the host this mount is rooted at"},
			{Name: "read_only", Type: "bool", Required: false, Default: false},
		}},
		New: New,
	})
}

var caps = types.NewCapabilitySet(
	types.CapList, types.CapRead, types.CapReadRange,
	types.CapWriteStream, types.CapWriteWhole,
	types.CapDelete, types.CapDeleteRecursive, types.CapMkdir, types.CapRename, types.CapMove, types.CapCopy,
	types.CapSpaceInfo, types.CapHash("md5"),
)

var readOnlyCaps = types.NewCapabilitySet(
	types.CapList, types.CapRead, types.CapReadRange, types.CapSpaceInfo, types.CapHash("md5"),
)

// Driver implements types.Driver over a directory rooted at Root.
type Driver struct {
	root     string
	readOnly bool
}

// New constructs a local Driver from a validated config map.
func New(config map[string]any) (types.Driver, error) {
	rootVal, _ := config["root"].(string)
	if rootVal == "" {
		return nil, &types.ConfigError{Field: "root", Reason: "must be a non-empty path"}
	}
	root, err := filepath.Abs(rootVal)
	if err != nil {
		return nil, &types.ConfigError{Field: "root", Reason: "not a usable path", Wrapped: err}
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, &types.ConfigError{Field: "root", Reason: "must exist and be a directory", Wrapped: err}
	}

	readOnly, _ := config["read_only"].(bool)
	return &Driver{root: root, readOnly: readOnly}, nil
}

func (d *Driver) Name() string { return "local:" + d.root }

func (d *Driver) Capabilities() types.CapabilitySet {
	if d.readOnly {
		return readOnlyCaps
	}
	return caps
}

// resolve maps an inner path (always "/"-rooted, already cleaned by the
// resolver) onto a host path beneath d.root, refusing any attempt to escape
// it via ".." segments or symlink-adjacent tricks at the string level.
func (d *Driver) resolve(innerPath string) (string, error) {
	cleaned := filepath.Clean("/" + innerPath)
	host := filepath.Join(d.root, cleaned)
	if host != d.root && !strings.HasPrefix(host, d.root+string(filepath.Separator)) {
		return "", errors.New(errors.Permanent, "path escapes mount root").WithComponent("local").WithPath(innerPath)
	}
	return host, nil
}

func (d *Driver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
	host, err := d.resolve(innerPath)
	if err != nil {
		return nil, err
	}
	infos, err := os.ReadDir(host)
	if err != nil {
		return nil, translateErr(err, "local", "list", innerPath)
	}

	out := make([]types.Entry, 0, len(infos))
	for _, de := range infos {
		info, err := de.Info()
		if err != nil {
			continue
		}
		modified := info.ModTime()
		out = append(out, types.Entry{
			Name:     de.Name(),
			Path:     strings.TrimSuffix(innerPath, "/") + "/" + de.Name(),
			Size:     uint64(info.Size()),
			IsDir:    de.IsDir(),
			Modified: &modified,
			Provider: "local",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type fileReadCloser struct {
	f    *os.File
	r    io.Reader // bounded view of f for ranged reads; nil reads f directly
	size int64
}

func (r *fileReadCloser) Read(p []byte) (int, error) {
	if r.r != nil {
		return r.r.Read(p)
	}
	return r.f.Read(p)
}
func (r *fileReadCloser) Close() error { return r.f.Close() }
func (r *fileReadCloser) Size() int64  { return r.size }

func (d *Driver) OpenReader(ctx context.Context, innerPath string, rng *types.Range) (types.ReadCloser, error) {
	host, err := d.resolve(innerPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(host)
	if err != nil {
		return nil, translateErr(err, "local", "open_reader", innerPath)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, translateErr(err, "local", "open_reader", innerPath)
	}

	size := info.Size()
	if rng != nil {
		if rng.Start > size {
			f.Close()
			return nil, errors.New(errors.RangeNotSatisfiable, "range start beyond EOF").WithComponent("local").WithPath(innerPath)
		}
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, translateErr(err, "local", "open_reader", innerPath)
		}
		remaining := size - rng.Start
		if rng.HasEnd() {
			want := rng.Length()
			if want < remaining {
				remaining = want
			}
			return &fileReadCloser{f: f, r: io.LimitReader(f, remaining), size: remaining}, nil
		}
		return &fileReadCloser{f: f, size: remaining}, nil
	}

	return &fileReadCloser{f: f, size: size}, nil
}

func (d *Driver) Put(ctx context.Context, innerPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	host, err := d.resolve(innerPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return translateErr(err, "local", "put", innerPath)
	}

	tmp, err := os.CreateTemp(filepath.Dir(host), ".unidrive-upload-*")
	if err != nil {
		return translateErr(err, "local", "put", innerPath)
	}
	tmpName := tmp.Name()

	written, err := copyWithProgress(ctx, tmp, src, progress)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpName)
		if err != nil {
			return translateErr(err, "local", "put", innerPath)
		}
		return translateErr(closeErr, "local", "put", innerPath)
	}
	_ = written

	if err := os.Rename(tmpName, host); err != nil {
		os.Remove(tmpName)
		return translateErr(err, "local", "put", innerPath)
	}
	return nil
}

type fileWriteCloser struct {
	f        *os.File
	tmpName  string
	finalDst string
	aborted  bool
}

func (w *fileWriteCloser) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *fileWriteCloser) Close() error {
	if w.aborted {
		return nil
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpName)
		return translateErr(err, "local", "open_writer", w.finalDst)
	}
	if err := os.Rename(w.tmpName, w.finalDst); err != nil {
		os.Remove(w.tmpName)
		return translateErr(err, "local", "open_writer", w.finalDst)
	}
	return nil
}

func (w *fileWriteCloser) Abort(ctx context.Context) error {
	w.aborted = true
	w.f.Close()
	return os.Remove(w.tmpName)
}

func (d *Driver) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress types.ProgressFunc) (types.WriteCloser, error) {
	host, err := d.resolve(innerPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return nil, translateErr(err, "local", "open_writer", innerPath)
	}
	tmp, err := os.CreateTemp(filepath.Dir(host), ".unidrive-upload-*")
	if err != nil {
		return nil, translateErr(err, "local", "open_writer", innerPath)
	}
	return &fileWriteCloser{f: tmp, tmpName: tmp.Name(), finalDst: host}, nil
}

func (d *Driver) Delete(ctx context.Context, innerPath string) error {
	host, err := d.resolve(innerPath)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(host); err != nil {
		return translateErr(err, "local", "delete", innerPath)
	}
	return nil
}

func (d *Driver) CreateDir(ctx context.Context, innerPath string) error {
	host, err := d.resolve(innerPath)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(host); statErr == nil {
		if info.IsDir() {
			return errors.New(errors.AlreadyExists, "directory already exists").WithComponent("local").WithPath(innerPath)
		}
		return errors.New(errors.NotADirectory, "a file already exists at this path").WithComponent("local").WithPath(innerPath)
	}
	if err := os.MkdirAll(host, 0o755); err != nil {
		return translateErr(err, "local", "create_dir", innerPath)
	}
	return nil
}

func (d *Driver) Rename(ctx context.Context, innerPath, newName string) error {
	host, err := d.resolve(innerPath)
	if err != nil {
		return err
	}
	dst := filepath.Join(filepath.Dir(host), newName)
	if _, statErr := os.Stat(dst); statErr == nil {
		return errors.New(errors.AlreadyExists, "destination name already exists").WithComponent("local").WithPath(innerPath)
	}
	if err := os.Rename(host, dst); err != nil {
		return translateErr(err, "local", "rename", innerPath)
	}
	return nil
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	hostSrc, err := d.resolve(src)
	if err != nil {
		return err
	}
	hostDst, err := d.resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(hostDst), 0o755); err != nil {
		return translateErr(err, "local", "move_item", src)
	}
	if err := os.Rename(hostSrc, hostDst); err != nil {
		return translateErr(err, "local", "move_item", src)
	}
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	hostSrc, err := d.resolve(src)
	if err != nil {
		return err
	}
	hostDst, err := d.resolve(dst)
	if err != nil {
		return err
	}
	info, err := os.Stat(hostSrc)
	if err != nil {
		return translateErr(err, "local", "copy_item", src)
	}
	if info.IsDir() {
		return errors.New(errors.Unsupported, "directory copy is not supported").WithComponent("local").WithPath(src)
	}
	if err := os.MkdirAll(filepath.Dir(hostDst), 0o755); err != nil {
		return translateErr(err, "local", "copy_item", src)
	}

	in, err := os.Open(hostSrc)
	if err != nil {
		return translateErr(err, "local", "copy_item", src)
	}
	defer in.Close()

	out, err := os.Create(hostDst)
	if err != nil {
		return translateErr(err, "local", "copy_item", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return translateErr(err, "local", "copy_item", dst)
	}
	return out.Close()
}

// InstantUpload satisfies types.InstantUploader: if a file already sits at
// innerPath with a matching size and md5, the upload is considered already
// landed and no bytes are written.
func (d *Driver) InstantUpload(ctx context.Context, innerPath, algo, hash string, size int64) (bool, error) {
	if algo != "md5" {
		return false, nil
	}
	host, err := d.resolve(innerPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(host)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, translateErr(err, "local", "instant_upload", innerPath)
	}
	if size >= 0 && info.Size() != size {
		return false, nil
	}
	f, err := os.Open(host)
	if err != nil {
		return false, translateErr(err, "local", "instant_upload", innerPath)
	}
	defer f.Close()

	sum := md5.New()
	if _, err := io.Copy(sum, f); err != nil {
		return false, translateErr(err, "local", "instant_upload", innerPath)
	}
	return hex.EncodeToString(sum.Sum(nil)) == hash, nil
}

func (d *Driver) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", errors.New(errors.Unsupported, "local driver has no direct link capability").WithComponent("local").WithPath(innerPath)
}

func (d *Driver) SpaceInfo(ctx context.Context) (types.SpaceInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.root, &stat); err != nil {
		return types.SpaceInfo{}, translateErr(err, "local", "space_info", d.root)
	}
	blockSize := uint64(stat.Bsize)
	total := stat.Blocks * blockSize
	free := stat.Bavail * blockSize
	return types.SpaceInfo{Total: total, Free: free, Used: total - free}, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(d.root); err != nil {
		return translateErr(err, "local", "health_check", d.root)
	}
	return nil
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, progress types.ProgressFunc) (int64, error) {
	buf := make([]byte, 256*1024)
	var total uint64
	for {
		if err := ctx.Err(); err != nil {
			return int64(total), err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return int64(total), writeErr
			}
			total += uint64(n)
			if progress != nil {
				progress(total, 0)
			}
		}
		if readErr == io.EOF {
			return int64(total), nil
		}
		if readErr != nil {
			return int64(total), readErr
		}
	}
}

func translateErr(err error, component, operation, path string) error {
	if err == nil {
		return nil
	}
	kind := errors.Permanent
	switch {
	case os.IsNotExist(err):
		kind = errors.NotFound
	case os.IsExist(err):
		kind = errors.AlreadyExists
	case os.IsPermission(err):
		kind = errors.Auth
	case isTimeoutLike(err):
		kind = errors.Transient
	}
	return errors.Wrap(kind, err, err.Error()).WithComponent(component).WithOperation(operation).WithPath(path)
}

func isTimeoutLike(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
