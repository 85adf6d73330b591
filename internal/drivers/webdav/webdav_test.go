package webdav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func TestNewRejectsMissingURL(t *testing.T) {
	t.Parallel()
	_, err := New(map[string]any{})
	require.Error(t, err)
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewTrimsTrailingSlashFromBase(t *testing.T) {
	t.Parallel()
	drv, err := New(map[string]any{"url": "https://dav.example.com/remote/"})
	require.NoError(t, err)
	d := drv.(*Driver)
	assert.Equal(t, "https://dav.example.com/remote", d.base)
}

func TestCapabilitiesExcludeWriteStream(t *testing.T) {
	t.Parallel()
	d := &Driver{}
	assert.False(t, d.Capabilities().Has(types.CapWriteStream))
	assert.True(t, d.Capabilities().Has(types.CapWriteWhole))
	assert.True(t, d.Capabilities().Has(types.CapCopy))
}

func TestReadOnlyCapabilitiesExcludeWrites(t *testing.T) {
	t.Parallel()
	d := &Driver{readOnly: true}
	assert.False(t, d.Capabilities().Has(types.CapWriteWhole))
}

func TestOpenWriterIsUnsupported(t *testing.T) {
	t.Parallel()
	d := &Driver{}
	_, err := d.OpenWriter(nil, "/x", -1, nil)
	require.Error(t, err)
	var de *errors.DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errors.Unsupported, de.Kind)
}
