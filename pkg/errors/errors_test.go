package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(NotFound, "no such object")
	require.NotNil(t, err)
	assert.Equal(t, NotFound, err.Kind)
	assert.Equal(t, "no such object", err.Message)
	assert.False(t, err.Timestamp.IsZero())
	assert.NotNil(t, err.Context)
}

func TestKindRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Transient.Retryable())
	assert.True(t, RateLimited.Retryable())
	assert.False(t, NotFound.Retryable())
	assert.False(t, Permanent.Retryable())
	assert.False(t, Cancelled.Retryable())
}

func TestDriverErrorRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, New(Transient, "timeout").Retryable())
	assert.False(t, New(AlreadyExists, "exists").Retryable())
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("connection reset by peer")
	wrapped := Wrap(Transient, cause, "list failed")

	assert.Equal(t, Transient, wrapped.Kind)
	assert.Same(t, cause, wrapped.Unwrap())
	assert.ErrorIs(t, wrapped, cause)
}

func TestIsMatchesByKind(t *testing.T) {
	t.Parallel()

	a := New(NotFound, "a")
	b := New(NotFound, "b")
	c := New(Auth, "c")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestBuilderChain(t *testing.T) {
	t.Parallel()

	err := New(Unsupported, "copy_item not supported").
		WithComponent("s3").
		WithOperation("copy_item").
		WithPath("/cloud/a.txt").
		WithNativeCode("NoSuchCopySupport").
		WithContext("bucket", "proj-bucket")

	assert.Equal(t, "s3", err.Component)
	assert.Equal(t, "copy_item", err.Operation)
	assert.Equal(t, "/cloud/a.txt", err.Path)
	assert.Equal(t, "NoSuchCopySupport", err.NativeCode)
	assert.Equal(t, "proj-bucket", err.Context["bucket"])
	assert.Contains(t, err.Error(), "[s3:copy_item]")
}

func TestOfExtractsKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Kind(""), Of(nil))
	assert.Equal(t, NotFound, Of(New(NotFound, "missing")))
	assert.Equal(t, Permanent, Of(stderrors.New("unclassified backend error")))
}

func TestJSONRoundTripsKind(t *testing.T) {
	t.Parallel()

	err := New(QuotaExceeded, "destination full").WithComponent("onedrive")
	j := err.JSON()
	assert.Contains(t, j, `"kind":"QUOTA_EXCEEDED"`)
	assert.Contains(t, j, `"component":"onedrive"`)
}
