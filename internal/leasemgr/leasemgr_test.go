package leasemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/types"
)

func TestRegisterAdmitsPrimary(t *testing.T) {
	m := New(15 * time.Second)
	res, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Fence)
	assert.NotEmpty(t, res.LeaseToken)
}

func TestRegisterIsIdempotentForSameIdentity(t *testing.T) {
	m := New(15 * time.Second)
	first, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)

	second, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)

	assert.Equal(t, first.Fence, second.Fence)
	assert.Equal(t, first.LeaseToken, second.LeaseToken)
}

func TestRegisterRejectsSecondPrimaryWithoutTakeover(t *testing.T) {
	m := New(15 * time.Second)
	_, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)

	_, err = m.Register(RegisterRequest{ClientID: "c2", SessionID: "s2", PlaceID: 10})
	require.Error(t, err)
	apiErr, ok := err.(*types.APIError)
	require.True(t, ok)
	assert.Equal(t, types.KindPrimaryAlreadyRegistered, apiErr.Kind)
}

func TestTakeoverBumpsFenceAndInvalidatesPreviousFence(t *testing.T) {
	m := New(15 * time.Second)
	first, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)

	var dropped []types.Scope
	m.OnDrop = func(s types.Scope) { dropped = append(dropped, s) }

	second, err := m.Register(RegisterRequest{ClientID: "c2", SessionID: "s2", PlaceID: 10, Takeover: true})
	require.NoError(t, err)
	assert.Greater(t, second.Fence, first.Fence)
	require.Len(t, dropped, 1)
	assert.Equal(t, types.Scope{PlaceID: 10, SessionID: "s1"}, dropped[0])

	scope := types.Scope{PlaceID: 10, SessionID: "s1"}
	err = m.Check(first.LeaseToken, first.Fence, scope)
	require.Error(t, err)
	assert.Equal(t, types.KindFenceMismatch, err.(*types.APIError).Kind)
}

func TestReleaseRequiresMatchingFence(t *testing.T) {
	m := New(15 * time.Second)
	res, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)

	err = m.Release(res.LeaseToken, res.Fence+1)
	require.Error(t, err)

	err = m.Release(res.LeaseToken, res.Fence)
	require.NoError(t, err)

	_, alive := m.Current()
	assert.False(t, alive)
}

func TestExpiredLeaseIsDroppedOnNextRegister(t *testing.T) {
	m := New(10 * time.Millisecond)
	first, err := m.Register(RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	second, err := m.Register(RegisterRequest{ClientID: "c2", SessionID: "s2", PlaceID: 10})
	require.NoError(t, err)
	assert.Greater(t, second.Fence, first.Fence)
}
