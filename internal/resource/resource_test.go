package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/ringaddr"
)

func addr(port int) ringaddr.Addr { return ringaddr.New("127.0.0.1", port) }

func TestAcquireLocalGrantsWhenFree(t *testing.T) {
	r := NewRegistry("printer")
	requester := addr(1)

	granted, holder, err := r.AcquireLocal("printer", requester)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, requester, holder)
}

func TestAcquireLocalQueuesWhenHeld(t *testing.T) {
	r := NewRegistry("printer")
	first, second := addr(1), addr(2)

	granted, _, err := r.AcquireLocal("printer", first)
	require.NoError(t, err)
	require.True(t, granted)

	granted, holder, err := r.AcquireLocal("printer", second)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, first, holder)
	assert.Equal(t, []ringaddr.Addr{second}, r.Queued("printer"))
}

func TestAcquireLocalDoubleAcquireIsRejected(t *testing.T) {
	r := NewRegistry("printer")
	requester := addr(1)

	_, _, err := r.AcquireLocal("printer", requester)
	require.NoError(t, err)

	_, _, err = r.AcquireLocal("printer", requester)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ReasonDoubleAcquire, ae.Reason)
}

func TestAcquireLocalQueueIsIdempotent(t *testing.T) {
	r := NewRegistry("printer")
	first, second := addr(1), addr(2)
	_, _, _ = r.AcquireLocal("printer", first)

	_, _, err := r.AcquireLocal("printer", second)
	require.NoError(t, err)
	_, _, err = r.AcquireLocal("printer", second)
	require.NoError(t, err)
	assert.Equal(t, []ringaddr.Addr{second}, r.Queued("printer"))
}

func TestAcquireLocalUnknownResource(t *testing.T) {
	r := NewRegistry("printer")
	_, _, err := r.AcquireLocal("scanner", addr(1))
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ReasonUnknownResource, ae.Reason)
}

func TestReleaseLocalGrantsNextInQueue(t *testing.T) {
	r := NewRegistry("printer")
	first, second, third := addr(1), addr(2), addr(3)
	_, _, _ = r.AcquireLocal("printer", first)
	_, _, _ = r.AcquireLocal("printer", second)
	_, _, _ = r.AcquireLocal("printer", third)

	next, err := r.ReleaseLocal("printer", first)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second, *next)

	holder, ok := r.Holder("printer")
	require.True(t, ok)
	assert.Equal(t, second, holder)
	assert.Equal(t, []ringaddr.Addr{third}, r.Queued("printer"))
}

func TestReleaseLocalByNonHolderIsRejected(t *testing.T) {
	r := NewRegistry("printer")
	holder, other := addr(1), addr(2)
	_, _, _ = r.AcquireLocal("printer", holder)

	_, err := r.ReleaseLocal("printer", other)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ReasonNotHolder, ae.Reason)
}

func TestReleaseLocalWithEmptyQueueClearsHolder(t *testing.T) {
	r := NewRegistry("printer")
	holder := addr(1)
	_, _, _ = r.AcquireLocal("printer", holder)

	next, err := r.ReleaseLocal("printer", holder)
	require.NoError(t, err)
	assert.Nil(t, next)
	_, ok := r.Holder("printer")
	assert.False(t, ok)
}

func TestDropWaiterRemovesFromQueueOnly(t *testing.T) {
	r := NewRegistry("printer")
	holder, waiter := addr(1), addr(2)
	_, _, _ = r.AcquireLocal("printer", holder)
	_, _, _ = r.AcquireLocal("printer", waiter)

	r.DropWaiter("printer", waiter)
	assert.Empty(t, r.Queued("printer"))
	h, ok := r.Holder("printer")
	require.True(t, ok)
	assert.Equal(t, holder, h)
}

func TestReleaseAllHeldByAndClear(t *testing.T) {
	r := NewRegistry("printer", "scanner")
	_, _, _ = r.AcquireLocal("printer", addr(1))
	_, _, _ = r.AcquireLocal("printer", addr(2))

	abandoned := r.ReleaseAllHeldByAndClear()
	assert.Equal(t, []ringaddr.Addr{addr(2)}, abandoned["printer"])
	_, ok := r.Holder("printer")
	assert.False(t, ok)
	_, ok = r.Holder("scanner")
	assert.False(t, ok)
}
