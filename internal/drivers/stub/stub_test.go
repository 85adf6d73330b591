package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func TestAllSixKindsAreRegistered(t *testing.T) {
	for _, kind := range []string{"onedrive", "pan123", "quark", "lanzou", "pikpak", "ctyun139"} {
		_, ok := registry.Default().Get(kind)
		assert.True(t, ok, "expected %s to be registered", kind)
	}
}

func TestConstructorRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()
	dk, ok := registry.Default().Get("onedrive")
	require.True(t, ok)
	_, err := dk.New(map[string]any{})
	require.Error(t, err)
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestConstructedDriverReturnsUnsupportedForEveryOperation(t *testing.T) {
	t.Parallel()
	dk, ok := registry.Default().Get("pikpak")
	require.True(t, ok)
	drv, err := dk.New(map[string]any{"username": "u", "password": "p"})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = drv.List(ctx, "/")
	assertUnsupported(t, err)

	err = drv.Delete(ctx, "/x")
	assertUnsupported(t, err)

	err = drv.HealthCheck(ctx)
	assertUnsupported(t, err)
}

func assertUnsupported(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var de *errors.DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errors.Unsupported, de.Kind)
}

func TestCapabilitiesDeclaredPerKind(t *testing.T) {
	t.Parallel()
	dk, ok := registry.Default().Get("lanzou")
	require.True(t, ok)
	drv, err := dk.New(map[string]any{"cookie": "c"})
	require.NoError(t, err)
	assert.True(t, drv.Capabilities().Has(types.CapRead))
	assert.False(t, drv.Capabilities().Has(types.CapCopy))
}
