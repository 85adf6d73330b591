package fuse

import (
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func TestToErrnoMapsKnownKinds(t *testing.T) {
	t.Parallel()
	cases := map[errors.Kind]syscall.Errno{
		errors.NotFound:      syscall.ENOENT,
		errors.AlreadyExists: syscall.EEXIST,
		errors.NotADirectory: syscall.ENOTDIR,
		errors.NotAFile:      syscall.EISDIR,
		errors.Auth:          syscall.EACCES,
		errors.Unsupported:   syscall.ENOSYS,
		errors.Transient:     syscall.EIO,
	}
	for kind, want := range cases {
		err := errors.New(kind, "boom")
		assert.Equal(t, want, toErrno(err))
	}
}

func TestFillAttrSetsDirBitForDirectories(t *testing.T) {
	t.Parallel()
	cfg := (&Config{}).withDefaults()
	now := time.Now()
	var out fuse.Attr
	fillAttr(&out, types.Entry{IsDir: true, Size: 0, Modified: &now}, cfg)
	assert.NotZero(t, out.Mode&syscall.S_IFDIR)

	fillAttr(&out, types.Entry{IsDir: false, Size: 42}, cfg)
	assert.NotZero(t, out.Mode&syscall.S_IFREG)
	assert.Equal(t, uint64(42), out.Size)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := (&Config{}).withDefaults()
	assert.Equal(t, uint32(0644), cfg.DefaultMode)
	assert.Greater(t, cfg.WriteBuffer, int64(0))
	assert.Greater(t, cfg.FlushDelay, time.Duration(0))
}
