package engine

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidrive/core/internal/config"
	"github.com/unidrive/core/internal/resolver"
	"github.com/unidrive/core/internal/tasks"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

// memDriver is an in-memory fake implementing types.Driver, used to
// exercise the engine without any real storage backend. Directories are
// tracked explicitly in dirs so List can tell a populated directory from a
// file (NotADirectory) from a path that simply doesn't exist yet (empty).
type memDriver struct {
	name  string
	caps  types.CapabilitySet
	files map[string][]byte
	dirs  map[string]bool
}

func newMemDriver(name string, caps types.CapabilitySet) *memDriver {
	return &memDriver{name: name, caps: caps, files: make(map[string][]byte), dirs: map[string]bool{"/": true}}
}

func (d *memDriver) Name() string                     { return d.name }
func (d *memDriver) Capabilities() types.CapabilitySet { return d.caps }

func (d *memDriver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
	if _, isFile := d.files[innerPath]; isFile {
		return nil, errors.New(errors.NotADirectory, "not a directory").WithPath(innerPath)
	}
	var out []types.Entry
	for p, data := range d.files {
		if virtualParent(p) == innerPath {
			out = append(out, types.Entry{Name: baseName(p), Path: p, Size: uint64(len(data))})
		}
	}
	for dirPath := range d.dirs {
		if dirPath == "/" {
			continue
		}
		if virtualParent(dirPath) == innerPath {
			out = append(out, types.Entry{Name: baseName(dirPath), Path: dirPath, IsDir: true})
		}
	}
	return out, nil
}

func (d *memDriver) OpenReader(ctx context.Context, innerPath string, rng *types.Range) (types.ReadCloser, error) {
	data, ok := d.files[innerPath]
	if !ok {
		return nil, errors.New(errors.NotFound, "no such file").WithPath(innerPath)
	}
	return &memReadCloser{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

func (d *memDriver) Put(ctx context.Context, innerPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	d.files[innerPath] = data
	return nil
}

func (d *memDriver) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress types.ProgressFunc) (types.WriteCloser, error) {
	return &memWriter{driver: d, path: innerPath, buf: &bytes.Buffer{}}, nil
}

func (d *memDriver) Delete(ctx context.Context, innerPath string) error {
	if _, ok := d.files[innerPath]; ok {
		delete(d.files, innerPath)
		return nil
	}
	if d.dirs[innerPath] {
		delete(d.dirs, innerPath)
		return nil
	}
	return errors.New(errors.NotFound, "no such file").WithPath(innerPath)
}

func (d *memDriver) CreateDir(ctx context.Context, innerPath string) error {
	if d.dirs[innerPath] {
		return errors.New(errors.AlreadyExists, "dir exists").WithPath(innerPath)
	}
	d.dirs[innerPath] = true
	return nil
}

func (d *memDriver) Rename(ctx context.Context, innerPath, newName string) error {
	dir := virtualParent(innerPath)
	newPath := virtualJoin(dir, newName)
	if _, exists := d.files[newPath]; exists {
		return errors.New(errors.AlreadyExists, "name taken").WithPath(newPath)
	}
	data := d.files[innerPath]
	delete(d.files, innerPath)
	d.files[newPath] = data
	return nil
}

func (d *memDriver) MoveItem(ctx context.Context, src, dst string) error {
	data, ok := d.files[src]
	if !ok {
		return errors.New(errors.NotFound, "no such file").WithPath(src)
	}
	delete(d.files, src)
	d.files[dst] = data
	return nil
}

func (d *memDriver) CopyItem(ctx context.Context, src, dst string) error {
	data, ok := d.files[src]
	if !ok {
		return errors.New(errors.NotFound, "no such file").WithPath(src)
	}
	d.files[dst] = append([]byte(nil), data...)
	return nil
}

func (d *memDriver) DirectLink(ctx context.Context, innerPath string) (string, error) { return "", nil }
func (d *memDriver) SpaceInfo(ctx context.Context) (types.SpaceInfo, error)           { return types.SpaceInfo{}, nil }
func (d *memDriver) HealthCheck(ctx context.Context) error                            { return nil }

type memReadCloser struct {
	*bytes.Reader
	size int64
}

func (m *memReadCloser) Close() error { return nil }
func (m *memReadCloser) Size() int64  { return m.size }

type memWriter struct {
	driver *memDriver
	path   string
	buf    *bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.driver.files[w.path] = w.buf.Bytes()
	return nil
}
func (w *memWriter) Abort(ctx context.Context) error { return nil }

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

var fullCaps = types.NewCapabilitySet(
	types.CapList, types.CapRead, types.CapReadRange, types.CapWriteWhole, types.CapWriteStream,
	types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove, types.CapCopy,
)

var recursiveDeleteCaps = types.NewCapabilitySet(
	types.CapList, types.CapRead, types.CapReadRange, types.CapWriteWhole, types.CapWriteStream,
	types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove, types.CapCopy,
	types.CapDeleteRecursive,
)

type fakeBuilder struct {
	drivers map[string]types.Driver
}

func (b *fakeBuilder) Build(kind string, cfg map[string]any) (types.Driver, error) {
	name, _ := cfg["name"].(string)
	return b.drivers[name], nil
}

func mustMount(t *testing.T, res *resolver.Resolver, id, mountPath, name string) {
	t.Helper()
	require.NoError(t, res.Mount(context.Background(), config.MountRecord{
		ID: id, DriverKind: "fake", MountPath: mountPath, Config: map[string]any{"name": name}, Enabled: true,
	}))
}

func newTestEngine(t *testing.T, drivers map[string]types.Driver) (*Engine, *resolver.Resolver) {
	t.Helper()
	res := resolver.New(&fakeBuilder{drivers: drivers})
	taskMgr := tasks.New(4, 2, time.Minute)
	eng := New(res, config.EngineConfig{MaxRenameAttempts: 5}, config.CacheConfig{TTL: time.Minute}, taskMgr)
	return eng, res
}

// mustDo resolves a Put/CopyItem/MoveItem/Delete result down to pass/fail:
// a nil task means the engine already finished synchronously, otherwise it
// blocks on the returned task's completion.
func mustDo(t *testing.T, eng *Engine, task *types.Task, err error) {
	t.Helper()
	require.NoError(t, err)
	if task == nil {
		return
	}
	done, werr := eng.Tasks().Wait(context.Background(), task.ID)
	require.NoError(t, werr)
	require.NoError(t, tasks.Outcome(done))
}

func TestPutThenListShowsEntry(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	mustDo(t, eng, eng.Put(context.Background(), "/docs/a.txt", bytes.NewReader([]byte("hello")), 5, nil, true))

	entries, err := eng.List(context.Background(), "/docs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
}

func TestListMergesOverlayWithRealEntries(t *testing.T) {
	t.Parallel()
	rootDriver := newMemDriver("root", fullCaps)
	backupDriver := newMemDriver("backup", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": rootDriver, "backup": backupDriver})
	mustMount(t, res, "m1", "/", "root")
	mustMount(t, res, "m2", "/cloud/backup", "backup")

	mustDo(t, eng, eng.Put(context.Background(), "/cloud/notes.txt", bytes.NewReader([]byte("x")), 1, nil, true))

	entries, err := eng.List(context.Background(), "/cloud")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["notes.txt"])
	assert.True(t, names["backup"])
}

func TestListCachesUntilInvalidatedByPut(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	first, err := eng.List(context.Background(), "/docs")
	require.NoError(t, err)
	assert.Empty(t, first)

	// Mutate the driver directly, bypassing the engine, to prove the next
	// List call is served from cache rather than re-querying the driver.
	d.files["/docs/new.txt"] = []byte("x")
	cached, err := eng.List(context.Background(), "/docs")
	require.NoError(t, err)
	assert.Empty(t, cached)

	// A Put through the engine invalidates the cached listing for its
	// parent directory, so the next List reflects the real state.
	mustDo(t, eng, eng.Put(context.Background(), "/docs/new.txt", bytes.NewReader([]byte("x")), 1, nil, true))
	fresh, err := eng.List(context.Background(), "/docs")
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestPutFallsBackToStreamWhenOnlyWriteStreamSupported(t *testing.T) {
	t.Parallel()
	caps := types.NewCapabilitySet(types.CapList, types.CapWriteStream, types.CapRead)
	d := newMemDriver("root", caps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	mustDo(t, eng, eng.Put(context.Background(), "/file.bin", bytes.NewReader([]byte("payload")), 7, nil, true))
	assert.Equal(t, []byte("payload"), d.files["/file.bin"])
}

func TestPutRenamesOnConflictWhenNotOverwriting(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	mustDo(t, eng, eng.Put(context.Background(), "/a.txt", bytes.NewReader([]byte("first")), 5, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/a.txt", bytes.NewReader([]byte("second")), 6, nil, false))

	assert.Equal(t, []byte("first"), d.files["/a.txt"])
	assert.Equal(t, []byte("second"), d.files["/a (1).txt"])
}

func TestRenameAvoidsCollisionWithConflictSuffix(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	mustDo(t, eng, eng.Put(context.Background(), "/a.txt", bytes.NewReader([]byte("1")), 1, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/b.txt", bytes.NewReader([]byte("2")), 1, nil, true))

	require.NoError(t, eng.Rename(context.Background(), "/b.txt", "a.txt"))
	_, exists := d.files["/a (1).txt"]
	assert.True(t, exists)
}

func TestMoveItemCrossMountStreamsAndDeletesSource(t *testing.T) {
	t.Parallel()
	srcDriver := newMemDriver("src", fullCaps)
	dstDriver := newMemDriver("dst", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"src": srcDriver, "dst": dstDriver})
	mustMount(t, res, "m1", "/src", "src")
	mustMount(t, res, "m2", "/dst", "dst")

	mustDo(t, eng, eng.Put(context.Background(), "/src/file.txt", bytes.NewReader([]byte("data")), 4, nil, true))
	mustDo(t, eng, eng.MoveItem(context.Background(), "/src/file.txt", "/dst/file.txt"))

	_, stillThere := srcDriver.files["/file.txt"]
	assert.False(t, stillThere)
	assert.Equal(t, []byte("data"), dstDriver.files["/file.txt"])
}

func TestMoveItemRecursesDirectoryDepthFirst(t *testing.T) {
	t.Parallel()
	srcDriver := newMemDriver("src", fullCaps)
	dstDriver := newMemDriver("dst", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"src": srcDriver, "dst": dstDriver})
	mustMount(t, res, "m1", "/src", "src")
	mustMount(t, res, "m2", "/dst", "dst")

	require.NoError(t, srcDriver.CreateDir(context.Background(), "/project"))
	require.NoError(t, srcDriver.CreateDir(context.Background(), "/project/sub"))
	mustDo(t, eng, eng.Put(context.Background(), "/src/project/a.txt", bytes.NewReader([]byte("a")), 1, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/src/project/sub/b.txt", bytes.NewReader([]byte("b")), 1, nil, true))

	mustDo(t, eng, eng.MoveItem(context.Background(), "/src/project", "/dst/project"))

	assert.Equal(t, []byte("a"), dstDriver.files["/project/a.txt"])
	assert.Equal(t, []byte("b"), dstDriver.files["/project/sub/b.txt"])
	_, leftA := srcDriver.files["/project/a.txt"]
	_, leftB := srcDriver.files["/project/sub/b.txt"]
	assert.False(t, leftA)
	assert.False(t, leftB)
	assert.False(t, srcDriver.dirs["/project"])
	assert.False(t, srcDriver.dirs["/project/sub"])
}

func TestCopyItemFallsBackToStreamWhenUnsupported(t *testing.T) {
	t.Parallel()
	caps := types.NewCapabilitySet(types.CapList, types.CapRead, types.CapWriteWhole)
	d := newMemDriver("root", caps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	mustDo(t, eng, eng.Put(context.Background(), "/a.txt", bytes.NewReader([]byte("copy-me")), 7, nil, true))
	mustDo(t, eng, eng.CopyItem(context.Background(), "/a.txt", "/b.txt"))

	assert.Equal(t, []byte("copy-me"), d.files["/b.txt"])
	assert.Equal(t, []byte("copy-me"), d.files["/a.txt"])
}

func TestCopyItemRecursesDirectory(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	require.NoError(t, d.CreateDir(context.Background(), "/dir"))
	mustDo(t, eng, eng.Put(context.Background(), "/dir/one.txt", bytes.NewReader([]byte("1")), 1, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/dir/two.txt", bytes.NewReader([]byte("2")), 1, nil, true))

	mustDo(t, eng, eng.CopyItem(context.Background(), "/dir", "/dir-copy"))

	assert.Equal(t, []byte("1"), d.files["/dir-copy/one.txt"])
	assert.Equal(t, []byte("2"), d.files["/dir-copy/two.txt"])
	assert.Equal(t, []byte("1"), d.files["/dir/one.txt"])
}

func TestDeleteDirectoryEnumeratesChildrenWithoutRecursiveCapability(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	require.NoError(t, d.CreateDir(context.Background(), "/dir"))
	mustDo(t, eng, eng.Put(context.Background(), "/dir/a.txt", bytes.NewReader([]byte("a")), 1, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/dir/b.txt", bytes.NewReader([]byte("b")), 1, nil, true))

	mustDo(t, eng, eng.Delete(context.Background(), "/dir"))

	assert.False(t, d.dirs["/dir"])
	_, aLeft := d.files["/dir/a.txt"]
	_, bLeft := d.files["/dir/b.txt"]
	assert.False(t, aLeft)
	assert.False(t, bLeft)
}

func TestDeleteDirectoryUsesSingleCallWhenRecursiveCapabilityDeclared(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", recursiveDeleteCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	require.NoError(t, d.CreateDir(context.Background(), "/dir"))
	mustDo(t, eng, eng.Put(context.Background(), "/dir/a.txt", bytes.NewReader([]byte("a")), 1, nil, true))

	task, err := eng.Delete(context.Background(), "/dir")
	require.NoError(t, err)
	assert.Nil(t, task, "a recursive-capable driver deletes a directory synchronously")
}

func TestDeleteFileIsSynchronous(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	mustDo(t, eng, eng.Put(context.Background(), "/a.txt", bytes.NewReader([]byte("a")), 1, nil, true))
	task, err := eng.Delete(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestListOnUnmountedPathReturnsNotFound(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t, map[string]types.Driver{})
	_, err := eng.List(context.Background(), "/nowhere")
	require.Error(t, err)
	assert.Equal(t, errors.NotFound, errors.Of(err))
}

func TestListOrdersDirectoriesFirstThenNaturalName(t *testing.T) {
	t.Parallel()
	d := newMemDriver("root", fullCaps)
	eng, res := newTestEngine(t, map[string]types.Driver{"root": d})
	mustMount(t, res, "m1", "/", "root")

	require.NoError(t, d.CreateDir(context.Background(), "/zeta"))
	mustDo(t, eng, eng.Put(context.Background(), "/img2.png", bytes.NewReader([]byte("x")), 1, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/img10.png", bytes.NewReader([]byte("x")), 1, nil, true))
	mustDo(t, eng, eng.Put(context.Background(), "/Apple.txt", bytes.NewReader([]byte("x")), 1, nil, true))

	entries, err := eng.List(context.Background(), "/")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	require.Equal(t, []string{"zeta", "Apple.txt", "img2.png", "img10.png"}, names)
}
