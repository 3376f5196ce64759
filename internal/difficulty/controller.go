// Package difficulty implements the per-user target adaptation controller
// (spec.md §4.4): the per-share burst adjustment the connection engine
// runs inline, and the 30-second periodic tick the server supervisor runs
// over every live user.
package difficulty

import (
	"github.com/bsv-pool/poolsrv/internal/poolvalidate"
	"github.com/bsv-pool/poolsrv/internal/useraccount"
)

const (
	// MaxUserSharesPer30Sec is the burst/tick ceiling before difficulty
	// is raised.
	MaxUserSharesPer30Sec = 30
	// MinUserSharesPer30Sec is the tick floor below which difficulty is
	// lowered.
	MinUserSharesPer30Sec = 1
)

func clampShareZ(z, minZ int) int {
	lo := minZ
	if lo < poolvalidate.MinShareZ {
		lo = poolvalidate.MinShareZ
	}
	return poolvalidate.Clamp(z, lo, poolvalidate.MaxShareZ)
}

// AdjustResult reports whether an adjustment changed cur_z and, if so,
// what it changed to.
type AdjustResult struct {
	Changed bool
	NewCurZ int
}

// OnShareAccepted runs the per-share burst adjustment (spec.md §4.4): every
// accepted share increments the counter; once it exceeds
// MaxUserSharesPer30Sec the target is raised by one leading-zero bit and
// the counter is halved.
func OnShareAccepted(u *useraccount.PerUser) AdjustResult {
	count := u.IncrementShares()

	curZ := u.CurZ()
	if count > MaxUserSharesPer30Sec && curZ < poolvalidate.MaxShareZ {
		newZ := clampShareZ(curZ+1, int(u.MinZ))
		u.SetCurZ(newZ)
		u.SwapShares(count / 2)
		observeAdjustment(newZ)
		return AdjustResult{Changed: true, NewCurZ: newZ}
	}

	return AdjustResult{}
}

// Tick runs the 30-second periodic adjustment (spec.md §4.4) for one user:
// swap accepted_shares to 0, inspect the prior count against cur_z, and
// adjust by at most one leading-zero step.
func Tick(u *useraccount.PerUser) AdjustResult {
	n := u.SwapShares(0)
	curZ := u.CurZ()
	minZ := int(u.MinZ)

	switch {
	case n > MaxUserSharesPer30Sec && curZ < poolvalidate.MaxShareZ:
		newZ := clampShareZ(curZ+1, minZ)
		u.SetCurZ(newZ)
		observeAdjustment(newZ)
		return AdjustResult{Changed: true, NewCurZ: newZ}
	case n < MinUserSharesPer30Sec && curZ > poolvalidate.MinShareZ && curZ > minZ:
		newZ := clampShareZ(curZ-1, minZ)
		u.SetCurZ(newZ)
		observeAdjustment(newZ)
		return AdjustResult{Changed: true, NewCurZ: newZ}
	default:
		return AdjustResult{}
	}
}
