package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidrive/core/pkg/types"
)

func dummyKind() types.DriverKind {
	return types.DriverKind{
		Kind:        "dummy",
		DisplayName: "Dummy",
		Schema: types.Schema{Fields: []types.SchemaField{
			{Name: "root", Type: "string", Required: true},
			{Name: "read_only", Type: "bool", Required: false, Default: false},
			{Name: "mode", Type: "enum", Enum: []string{"a", "b"}, Default: "a"},
		}},
		New: func(config map[string]any) (types.Driver, error) {
			return nil, nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(dummyKind())

	dk, ok := r.Get("dummy")
	require.True(t, ok)
	assert.Equal(t, "Dummy", dk.DisplayName)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(dummyKind())

	assert.Panics(t, func() {
		r.Register(dummyKind())
	})
}

func TestRegisterWithoutConstructorPanics(t *testing.T) {
	t.Parallel()

	r := New()
	dk := dummyKind()
	dk.New = nil
	assert.Panics(t, func() {
		r.Register(dk)
	})
}

func TestListIsSortedByKind(t *testing.T) {
	t.Parallel()

	r := New()
	b := dummyKind()
	b.Kind = "bbb"
	a := dummyKind()
	a.Kind = "aaa"
	r.Register(b)
	r.Register(a)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "aaa", list[0].Kind)
	assert.Equal(t, "bbb", list[1].Kind)
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Build("nope", nil)
	require.Error(t, err)
	var cfgErr *types.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestBuildRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(dummyKind())

	_, err := r.Build("dummy", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root")
}

func TestBuildSucceedsWithRequiredField(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(dummyKind())

	_, err := r.Build("dummy", map[string]any{"root": "/srv/data"})
	assert.NoError(t, err)
}

func TestValidateConfigEnum(t *testing.T) {
	t.Parallel()

	schema := dummyKind().Schema
	err := ValidateConfig(schema, map[string]any{"root": "/x", "mode": "z"})
	assert.Error(t, err)

	err = ValidateConfig(schema, map[string]any{"root": "/x", "mode": "b"})
	assert.NoError(t, err)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	schema := dummyKind().Schema
	out := ApplyDefaults(schema, map[string]any{"root": "/x"})

	assert.Equal(t, "/x", out["root"])
	assert.Equal(t, false, out["read_only"])
	assert.Equal(t, "a", out["mode"])
}
