package difficulty

import (
	"testing"

	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/bsv-pool/poolsrv/internal/useraccount"
	"github.com/stretchr/testify/require"
)

func newTestUser(minZ, curZ int) *useraccount.PerUser {
	return useraccount.NewPerUser([]byte("alice"), 0, minZ, curZ, make(chan poolproto.OutboundMessage, 5))
}

func TestOnShareAcceptedBurstRaisesDifficulty(t *testing.T) {
	u := newTestUser(40, 50)

	var last AdjustResult
	for i := 0; i < 31; i++ {
		last = OnShareAccepted(u)
	}

	require.True(t, last.Changed)
	require.Equal(t, 51, last.NewCurZ)
	require.Equal(t, 51, u.CurZ())
	require.Equal(t, 15, u.AcceptedShares())
}

func TestOnShareAcceptedBelowThresholdDoesNotAdjust(t *testing.T) {
	u := newTestUser(40, 50)

	for i := 0; i < 30; i++ {
		r := OnShareAccepted(u)
		require.False(t, r.Changed)
	}
	require.Equal(t, 50, u.CurZ())
	require.Equal(t, 30, u.AcceptedShares())
}

func TestTickRaisesOnHighCount(t *testing.T) {
	u := newTestUser(40, 50)
	u.IncrementShares()
	for i := 0; i < 35; i++ {
		u.IncrementShares()
	}

	r := Tick(u)
	require.True(t, r.Changed)
	require.Equal(t, 51, r.NewCurZ)
	require.Equal(t, 0, u.AcceptedShares())
}

func TestTickLowersOnLowCount(t *testing.T) {
	u := newTestUser(40, 50)

	r := Tick(u)
	require.True(t, r.Changed)
	require.Equal(t, 49, r.NewCurZ)
}

func TestTickNeverLowersBelowMinZ(t *testing.T) {
	u := newTestUser(50, 50)

	r := Tick(u)
	require.False(t, r.Changed)
	require.Equal(t, 50, u.CurZ())
}

func TestTickNeverRaisesAboveMaxShareZ(t *testing.T) {
	u := newTestUser(40, 63)
	for i := 0; i < 35; i++ {
		u.IncrementShares()
	}

	r := Tick(u)
	require.False(t, r.Changed)
	require.Equal(t, 63, u.CurZ())
}

func TestTickUnchangedWithinBand(t *testing.T) {
	u := newTestUser(40, 50)
	for i := 0; i < 10; i++ {
		u.IncrementShares()
	}

	r := Tick(u)
	require.False(t, r.Changed)
	require.Equal(t, 50, u.CurZ())
}
