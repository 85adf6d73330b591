// Package ftp implements a Driver Contract backend over a plain FTP server,
// grounded on the registry's plugin shape and the ecosystem's
// github.com/jlaffaye/ftp client — FTP has no server-side copy and no
// resumable range end, so this driver is capability-limited (no COPY, whole
// reads can start mid-stream but never stop early without streaming).
package ftp

import (
	"context"
	stderr "errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/unidrive/core/internal/circuit"
	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func init() {
	registry.Default().Register(types.DriverKind{
		Kind:        "ftp",
		DisplayName: "FTP Server",
		Schema: types.Schema{Fields: []types.SchemaField{
			{Name: "host", Type: "string", Required: true, Description: "host:port of the FTP server"},
			{Name: "username", Type: "string", Required: false, Default: "anonymous"},
			{Name: "password", Type: "string", Required: false, Format: "password"},
			{Name: "root", Type: "string", Required: false, Default: "/"},
			{Name: "read_only", Type: "bool", Required: false, Default: false},
			{Name: "dial_timeout_seconds", Type: "int", Required: false, Default: 10},
		}},
		New: New,
	})
}

var caps = types.NewCapabilitySet(
	types.CapList, types.CapRead,
	types.CapWriteStream, types.CapWriteWhole,
	types.CapDelete, types.CapDeleteRecursive, types.CapMkdir, types.CapRename, types.CapMove,
)

var readOnlyCaps = types.NewCapabilitySet(types.CapList, types.CapRead)

// Driver implements types.Driver over an FTP server. Every operation dials a
// fresh control connection and closes it when done: FTP control connections
// do not tolerate concurrent overlapping commands, and a connection pool
// would need the same keyed-serialization machinery the engine's path locks
// already provide one layer up, so a short-lived connection per call is the
// simplest correct option.
type Driver struct {
	host     string
	username string
	password string
	root     string
	readOnly bool
	timeout  time.Duration
	breaker  *circuit.CircuitBreaker
}

// New constructs a Driver from a validated config map.
func New(config map[string]any) (types.Driver, error) {
	host, _ := config["host"].(string)
	if host == "" {
		return nil, &types.ConfigError{Field: "host", Reason: "must be a non-empty host:port"}
	}
	username, _ := config["username"].(string)
	if username == "" {
		username = "anonymous"
	}
	password, _ := config["password"].(string)
	root, _ := config["root"].(string)
	if root == "" {
		root = "/"
	}
	readOnly, _ := config["read_only"].(bool)
	timeoutSecs := 10
	if v, ok := config["dial_timeout_seconds"].(int); ok && v > 0 {
		timeoutSecs = v
	} else if v, ok := config["dial_timeout_seconds"].(float64); ok && v > 0 {
		timeoutSecs = int(v)
	}

	return &Driver{
		host:     host,
		username: username,
		password: password,
		root:     strings.TrimSuffix(root, "/"),
		readOnly: readOnly,
		timeout:  time.Duration(timeoutSecs) * time.Second,
		breaker:  circuit.NewCircuitBreaker("ftp:"+host, circuit.Config{}),
	}, nil
}

func (d *Driver) Name() string { return "ftp:" + d.host + d.root }

func (d *Driver) Capabilities() types.CapabilitySet {
	if d.readOnly {
		return readOnlyCaps
	}
	return caps
}

func (d *Driver) remotePath(innerPath string) string {
	return d.root + path.Clean("/"+innerPath)
}

// dial opens a fresh control connection, guarded by a circuit breaker so a
// server that is down or rejecting logins fails fast instead of eating a
// full dial timeout on every call once it's clearly unreachable.
func (d *Driver) dial(ctx context.Context) (*ftp.ServerConn, error) {
	var conn *ftp.ServerConn
	var loginFailed bool
	err := d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		c, dialErr := ftp.Dial(d.host, ftp.DialWithTimeout(d.timeout), ftp.DialWithContext(ctx))
		if dialErr != nil {
			return dialErr
		}
		if loginErr := c.Login(d.username, d.password); loginErr != nil {
			c.Quit()
			loginFailed = true
			return loginErr
		}
		conn = c
		return nil
	})
	if err != nil {
		if stderr.Is(err, circuit.ErrOpenState) || stderr.Is(err, circuit.ErrTooManyRequests) {
			return nil, errors.Wrap(errors.Transient, err, "FTP server circuit open").WithComponent("ftp")
		}
		if loginFailed {
			return nil, errors.Wrap(errors.Auth, err, "FTP login failed").WithComponent("ftp")
		}
		return nil, errors.Wrap(errors.Transient, err, "failed to connect to FTP server").WithComponent("ftp")
	}
	return conn, nil
}

func (d *Driver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	remote := d.remotePath(innerPath)
	listing, err := conn.List(remote)
	if err != nil {
		return nil, translateErr(err, "list", innerPath)
	}

	entries := make([]types.Entry, 0, len(listing))
	for _, e := range listing {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		modified := e.Time
		entries = append(entries, types.Entry{
			Name:     e.Name,
			Path:     strings.TrimSuffix(innerPath, "/") + "/" + e.Name,
			Size:     e.Size,
			IsDir:    e.Type == ftp.EntryTypeFolder,
			Modified: &modified,
			Provider: "ftp",
		})
	}
	return entries, nil
}

type ftpReadCloser struct {
	conn *ftp.ServerConn
	resp io.ReadCloser
	lim  io.Reader
	size int64
}

func (r *ftpReadCloser) Read(p []byte) (int, error) { return r.lim.Read(p) }
func (r *ftpReadCloser) Close() error {
	err := r.resp.Close()
	r.conn.Quit()
	return err
}
func (r *ftpReadCloser) Size() int64 { return r.size }

func (d *Driver) OpenReader(ctx context.Context, innerPath string, rng *types.Range) (types.ReadCloser, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	remote := d.remotePath(innerPath)

	var offset uint64
	if rng != nil {
		offset = uint64(rng.Start)
	}

	var resp *ftp.Response
	if offset > 0 {
		resp, err = conn.RetrFrom(remote, offset)
	} else {
		resp, err = conn.Retr(remote)
	}
	if err != nil {
		conn.Quit()
		return nil, translateErr(err, "open_reader", innerPath)
	}

	var lim io.Reader = resp
	size := int64(-1)
	if rng != nil && rng.HasEnd() {
		length := rng.Length()
		lim = io.LimitReader(resp, length)
		size = length
	}

	return &ftpReadCloser{conn: conn, resp: resp, lim: lim, size: size}, nil
}

func (d *Driver) Put(ctx context.Context, innerPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Stor(d.remotePath(innerPath), src); err != nil {
		return translateErr(err, "put", innerPath)
	}
	if progress != nil && sizeHint > 0 {
		progress(uint64(sizeHint), uint64(sizeHint))
	}
	return nil
}

type ftpWriteCloser struct {
	conn   *ftp.ServerConn
	pw     *io.PipeWriter
	done   chan error
	remote string
}

func (w *ftpWriteCloser) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *ftpWriteCloser) Close() error {
	w.pw.Close()
	err := <-w.done
	w.conn.Quit()
	return err
}

func (w *ftpWriteCloser) Abort(ctx context.Context) error {
	w.pw.CloseWithError(context.Canceled)
	<-w.done
	_ = w.conn.Delete(w.remote)
	w.conn.Quit()
	return nil
}

func (d *Driver) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress types.ProgressFunc) (types.WriteCloser, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	remote := d.remotePath(innerPath)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- conn.Stor(remote, pr)
	}()

	return &ftpWriteCloser{conn: conn, pw: pw, done: done, remote: remote}, nil
}

func (d *Driver) Delete(ctx context.Context, innerPath string) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	remote := d.remotePath(innerPath)
	if err := conn.Delete(remote); err != nil {
		if rmErr := conn.RemoveDirRecur(remote); rmErr == nil {
			return nil
		}
		return translateErr(err, "delete", innerPath)
	}
	return nil
}

func (d *Driver) CreateDir(ctx context.Context, innerPath string) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.MakeDir(d.remotePath(innerPath)); err != nil {
		return translateErr(err, "create_dir", innerPath)
	}
	return nil
}

func (d *Driver) Rename(ctx context.Context, innerPath, newName string) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	dst := path.Join(path.Dir(d.remotePath(innerPath)), newName)
	if err := conn.Rename(d.remotePath(innerPath), dst); err != nil {
		return translateErr(err, "rename", innerPath)
	}
	return nil
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Rename(d.remotePath(src), d.remotePath(dst)); err != nil {
		return translateErr(err, "move_item", src)
	}
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	return errors.New(errors.Unsupported, "FTP has no server-side copy").WithComponent("ftp").WithPath(src)
}

func (d *Driver) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", errors.New(errors.Unsupported, "FTP driver has no direct link capability").WithComponent("ftp").WithPath(innerPath)
}

func (d *Driver) SpaceInfo(ctx context.Context) (types.SpaceInfo, error) {
	return types.SpaceInfo{}, errors.New(errors.Unsupported, "FTP does not report server capacity").WithComponent("ftp")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()
	if err := conn.NoOp(); err != nil {
		return translateErr(err, "health_check", "")
	}
	return nil
}

func translateErr(err error, operation, path string) error {
	if err == nil {
		return nil
	}
	kind := errors.Permanent
	msg := err.Error()
	switch {
	case strings.Contains(msg, "550"), strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"):
		kind = errors.NotFound
	case strings.Contains(msg, "530"), strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		kind = errors.Auth
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "EOF"):
		kind = errors.Transient
	}
	return errors.Wrap(kind, err, msg).WithComponent("ftp").WithOperation(operation).WithPath(path)
}
