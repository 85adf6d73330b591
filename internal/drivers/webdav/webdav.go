// Package webdav implements a Driver Contract backend over a WebDAV server,
// grounded on the registry's plugin shape and the ecosystem's
// github.com/studio-b12/gowebdav client, the same "thin client wrapping a
// third-party storage protocol" shape as the distribution storage-driver
// plugins in other_examples/.
package webdav

import (
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/studio-b12/gowebdav"

	"github.com/unidrive/core/internal/circuit"
	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func init() {
	registry.Default().Register(types.DriverKind{
		Kind:        "webdav",
		DisplayName: "WebDAV Server",
		Schema: types.Schema{Fields: []types.SchemaField{
			{Name: "url", Type: "string", Required: true, Description: "base URL of the WebDAV share"},
			{Name: "username", Type: "string", Required: false},
			{Name: "password", Type: "string", Required: false, Format: "password"},
			{Name: "read_only", Type: "bool", Required: false, Default: false},
		}},
		New: New,
	})
}

var caps = types.NewCapabilitySet(
	types.CapList, types.CapRead, types.CapReadRange,
	types.CapWriteWhole,
	types.CapDelete, types.CapDeleteRecursive, types.CapMkdir, types.CapRename, types.CapMove, types.CapCopy,
)

var readOnlyCaps = types.NewCapabilitySet(types.CapList, types.CapRead, types.CapReadRange)

// Driver implements types.Driver over a WebDAV share. gowebdav's *Client is
// a thin wrapper over net/http and is safe for concurrent use.
type Driver struct {
	client   *gowebdav.Client
	base     string
	readOnly bool
	breaker  *circuit.CircuitBreaker
}

// New constructs a Driver from a validated config map.
func New(config map[string]any) (types.Driver, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, &types.ConfigError{Field: "url", Reason: "must be a non-empty URL"}
	}
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	readOnly, _ := config["read_only"].(bool)

	client := gowebdav.NewClient(url, username, password)
	return &Driver{
		client:   client,
		base:     strings.TrimSuffix(url, "/"),
		readOnly: readOnly,
		breaker:  circuit.NewCircuitBreaker("webdav:"+url, circuit.Config{}),
	}, nil
}

// guard runs fn behind the driver's circuit breaker. Unlike ftp/sftp,
// gowebdav has no single connection to dial — every call is its own HTTP
// round trip — so the breaker wraps each operation individually rather than
// a shared dial step.
func (d *Driver) guard(ctx context.Context, operation, path string, fn func() error) error {
	var innerErr error
	breakerErr := d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		innerErr = fn()
		return innerErr
	})
	if innerErr != nil {
		return translateErr(innerErr, operation, path)
	}
	if breakerErr != nil {
		return errors.Wrap(errors.Transient, breakerErr, "WebDAV server circuit open").
			WithComponent("webdav").WithOperation(operation).WithPath(path)
	}
	return nil
}

func (d *Driver) Name() string { return "webdav:" + d.base }

func (d *Driver) Capabilities() types.CapabilitySet {
	if d.readOnly {
		return readOnlyCaps
	}
	return caps
}

func (d *Driver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
	var infos []os.FileInfo
	if err := d.guard(ctx, "list", innerPath, func() error {
		var e error
		infos, e = d.client.ReadDir(innerPath)
		return e
	}); err != nil {
		return nil, err
	}

	entries := make([]types.Entry, 0, len(infos))
	for _, info := range infos {
		modified := info.ModTime()
		entries = append(entries, types.Entry{
			Name:     info.Name(),
			Path:     strings.TrimSuffix(innerPath, "/") + "/" + info.Name(),
			Size:     uint64(info.Size()),
			IsDir:    info.IsDir(),
			Modified: &modified,
			Provider: "webdav",
		})
	}
	return entries, nil
}

type webdavReadCloser struct {
	rc   io.ReadCloser
	size int64
}

func (r *webdavReadCloser) Read(p []byte) (int, error) { return r.rc.Read(p) }
func (r *webdavReadCloser) Close() error                { return r.rc.Close() }
func (r *webdavReadCloser) Size() int64                 { return r.size }

func (d *Driver) OpenReader(ctx context.Context, innerPath string, rng *types.Range) (types.ReadCloser, error) {
	info, statErr := d.client.Stat(innerPath)
	size := int64(-1)
	if statErr == nil {
		size = info.Size()
	}

	if rng == nil {
		var rc io.ReadCloser
		if err := d.guard(ctx, "open_reader", innerPath, func() error {
			var e error
			rc, e = d.client.ReadStream(innerPath)
			return e
		}); err != nil {
			return nil, err
		}
		return &webdavReadCloser{rc: rc, size: size}, nil
	}

	end := int64(0)
	if rng.HasEnd() {
		end = rng.End - 1
	} else if size >= 0 {
		end = size - 1
	}
	var rc io.ReadCloser
	if err := d.guard(ctx, "open_reader", innerPath, func() error {
		var e error
		rc, e = d.client.ReadStreamRange(innerPath, rng.Start, end-rng.Start+1)
		return e
	}); err != nil {
		return nil, err
	}
	rangeSize := int64(-1)
	if rng.HasEnd() {
		rangeSize = rng.Length()
	} else if size >= 0 {
		rangeSize = size - rng.Start
	}
	return &webdavReadCloser{rc: rc, size: rangeSize}, nil
}

func (d *Driver) Put(ctx context.Context, innerPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	if err := d.guard(ctx, "put", innerPath, func() error {
		return d.client.MkdirAll(path.Dir(innerPath), 0o755)
	}); err != nil {
		return err
	}
	if err := d.guard(ctx, "put", innerPath, func() error {
		return d.client.WriteStream(innerPath, src, 0o644)
	}); err != nil {
		return err
	}
	if progress != nil && sizeHint > 0 {
		progress(uint64(sizeHint), uint64(sizeHint))
	}
	return nil
}

// OpenWriter has no native streaming sink in gowebdav's client (WriteStream
// takes a reader and blocks until done), so the driver only advertises
// WRITE_WHOLE and the engine's stream-to-whole-file fallback buffers
// through Put instead.
func (d *Driver) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress types.ProgressFunc) (types.WriteCloser, error) {
	return nil, errors.New(errors.Unsupported, "webdav driver has no streaming writer").WithComponent("webdav").WithPath(innerPath)
}

func (d *Driver) Delete(ctx context.Context, innerPath string) error {
	return d.guard(ctx, "delete", innerPath, func() error {
		return d.client.RemoveAll(innerPath)
	})
}

func (d *Driver) CreateDir(ctx context.Context, innerPath string) error {
	if _, err := d.client.Stat(innerPath); err == nil {
		return errors.New(errors.AlreadyExists, "directory already exists").WithComponent("webdav").WithPath(innerPath)
	}
	return d.guard(ctx, "create_dir", innerPath, func() error {
		return d.client.Mkdir(innerPath, 0o755)
	})
}

func (d *Driver) Rename(ctx context.Context, innerPath, newName string) error {
	dst := path.Join(path.Dir(innerPath), newName)
	return d.guard(ctx, "rename", innerPath, func() error {
		return d.client.Rename(innerPath, dst, false)
	})
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	return d.guard(ctx, "move_item", src, func() error {
		return d.client.Rename(src, dst, false)
	})
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	return d.guard(ctx, "copy_item", src, func() error {
		return d.client.Copy(src, dst, false)
	})
}

func (d *Driver) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", errors.New(errors.Unsupported, "webdav driver has no direct link capability").WithComponent("webdav").WithPath(innerPath)
}

func (d *Driver) SpaceInfo(ctx context.Context) (types.SpaceInfo, error) {
	return types.SpaceInfo{}, errors.New(errors.Unsupported, "webdav does not report server capacity").WithComponent("webdav")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	return d.guard(ctx, "health_check", "/", func() error {
		_, err := d.client.Stat("/")
		return err
	})
}

func translateErr(err error, operation, path string) error {
	if err == nil {
		return nil
	}
	kind := errors.Permanent
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404"):
		kind = errors.NotFound
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		kind = errors.Auth
	case strings.Contains(msg, "429"):
		kind = errors.RateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"):
		kind = errors.Transient
	}
	return errors.Wrap(kind, err, msg).WithComponent("webdav").WithOperation(operation).WithPath(path)
}
