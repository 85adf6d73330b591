package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func TestNewRejectsMissingHost(t *testing.T) {
	t.Parallel()
	_, err := New(map[string]any{})
	require.Error(t, err)
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewDefaultsUsername(t *testing.T) {
	t.Parallel()
	drv, err := New(map[string]any{"host": "ftp.example.com:21"})
	require.NoError(t, err)
	d := drv.(*Driver)
	assert.Equal(t, "anonymous", d.username)
	assert.Equal(t, "", d.root)
}

func TestRemotePathJoinsRoot(t *testing.T) {
	t.Parallel()
	d := &Driver{root: "/srv/data"}
	assert.Equal(t, "/srv/data/a/b.txt", d.remotePath("/a/b.txt"))
}

func TestCapabilitiesExcludeCopy(t *testing.T) {
	t.Parallel()
	d := &Driver{}
	assert.False(t, d.Capabilities().Has(types.CapCopy))
	assert.True(t, d.Capabilities().Has(types.CapMove))
}

func TestReadOnlyCapabilitiesExcludeWrites(t *testing.T) {
	t.Parallel()
	d := &Driver{readOnly: true}
	assert.False(t, d.Capabilities().Has(types.CapWriteWhole))
}

func TestCopyItemIsUnsupported(t *testing.T) {
	t.Parallel()
	d := &Driver{}
	err := d.CopyItem(nil, "/a", "/b")
	require.Error(t, err)
}

func TestTranslateErrClassifiesNotFound(t *testing.T) {
	t.Parallel()
	err := translateErr(assertErr("550 No such file"), "open_reader", "/x")
	require.Error(t, err)
	assert.Equal(t, errors.NotFound, errors.Of(err))
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
