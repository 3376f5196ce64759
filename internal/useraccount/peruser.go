// Package useraccount implements the per-connection user registry and the
// server-wide collection of non-owning PerUser references the periodic
// difficulty tick scans (spec.md §3, §4.3, §9).
package useraccount

import (
	"sync"
	"sync/atomic"

	"github.com/bsv-pool/poolsrv/errors"
	"github.com/bsv-pool/poolsrv/internal/poolproto"
)

// PerUser is one authenticated user on one connection. CurZ and
// AcceptedShares are mutated by both the owning connection engine and the
// server's periodic tick, so they are plain atomics rather than
// mutex-guarded fields — spec.md §5 requires no critical section spans
// both.
type PerUser struct {
	UserID   []byte
	ClientID uint64
	MinZ     int32

	curZ           atomic.Int32
	acceptedShares atomic.Int32

	// Outbound is the connection's send queue; the tick task uses a
	// non-blocking send against it and drops this tick's update if full.
	Outbound chan poolproto.OutboundMessage

	// dropped marks a PerUser whose owning connection has torn down, so
	// Global's scan can purge it without talking to that connection.
	dropped atomic.Bool
}

// NewPerUser constructs a PerUser with its initial share target already
// clamped (spec.md §4.3).
func NewPerUser(userID []byte, clientID uint64, minZ, curZ int, outbound chan poolproto.OutboundMessage) *PerUser {
	u := &PerUser{
		UserID:   userID,
		ClientID: clientID,
		MinZ:     int32(minZ),
		Outbound: outbound,
	}
	u.curZ.Store(int32(curZ))
	return u
}

func (u *PerUser) CurZ() int            { return int(u.curZ.Load()) }
func (u *PerUser) SetCurZ(z int)        { u.curZ.Store(int32(z)) }
func (u *PerUser) AcceptedShares() int  { return int(u.acceptedShares.Load()) }

// IncrementShares increments the accepted-share counter and returns the
// post-increment value.
func (u *PerUser) IncrementShares() int { return int(u.acceptedShares.Add(1)) }

// SwapShares atomically sets the accepted-share counter to v and returns
// the prior value, for the periodic tick's read-and-reset.
func (u *PerUser) SwapShares(v int) int { return int(u.acceptedShares.Swap(int32(v))) }

// MarkDropped flags this PerUser as belonging to a torn-down connection.
func (u *PerUser) MarkDropped() { u.dropped.Store(true) }

// Dropped reports whether the owning connection has torn down.
func (u *PerUser) Dropped() bool { return u.dropped.Load() }

// TrySend attempts a non-blocking send on the user's outbound channel, as
// the periodic tick must (spec.md §5): a full channel abandons this tick's
// update rather than blocking.
func (u *PerUser) TrySend(msg poolproto.OutboundMessage) bool {
	select {
	case u.Outbound <- msg:
		return true
	default:
		return false
	}
}

// Registry is the connection-local set of authenticated users, indexed
// both by user id and by assigned client id (spec.md §3, §4.3).
type Registry struct {
	maxClientID uint64
	byUserID    map[string]*PerUser
	byClientID  map[uint64]*PerUser
}

// NewRegistry builds an empty connection-local registry.
func NewRegistry() *Registry {
	return &Registry{
		byUserID:   make(map[string]*PerUser),
		byClientID: make(map[uint64]*PerUser),
	}
}

// Authenticated reports whether at least one user has been registered,
// used to decide the RejectUserAuth-vs-drop policy on auth denial.
func (r *Registry) Authenticated() bool { return len(r.byUserID) > 0 }

// HasUser reports whether user_id is already registered on this
// connection (duplicate UserAuth detection, spec.md §4.3).
func (r *Registry) HasUser(userID []byte) bool {
	_, ok := r.byUserID[string(userID)]
	return ok
}

// Register adds a new authenticated user and mints its client id. Callers
// must have already checked HasUser and the auth predicate; Register
// itself only performs the bookkeeping spec.md §4.3 describes once
// authentication is granted.
func (r *Registry) Register(userID []byte, minZ, curZ int, outbound chan poolproto.OutboundMessage) *PerUser {
	clientID := r.maxClientID
	r.maxClientID++

	u := NewPerUser(userID, clientID, minZ, curZ, outbound)
	r.byUserID[string(userID)] = u
	r.byClientID[clientID] = u
	return u
}

// ByUserID looks up a registered user by opaque id.
func (r *Registry) ByUserID(userID []byte) (*PerUser, bool) {
	u, ok := r.byUserID[string(userID)]
	return u, ok
}

// ByClientID looks up a registered user by its minted numeric client id,
// used to attribute an incoming Share/WeakBlock's coinbase postfix.
func (r *Registry) ByClientID(clientID uint64) (*PerUser, bool) {
	u, ok := r.byClientID[clientID]
	return u, ok
}

// Drop removes a user from both indexes. An absent user_id is a protocol
// violation per spec.md §4.3's DropUser rule; the caller is responsible
// for dropping the connection on that error.
func (r *Registry) Drop(userID []byte) error {
	u, ok := r.byUserID[string(userID)]
	if !ok {
		return errors.New(errors.CodeProtocolViolation, "drop_user for unknown user")
	}
	delete(r.byUserID, string(userID))
	delete(r.byClientID, u.ClientID)
	u.MarkDropped()
	return nil
}

// All returns every registered user, for the connection's own teardown
// path (marking all of them dropped).
func (r *Registry) All() []*PerUser {
	out := make([]*PerUser, 0, len(r.byUserID))
	for _, u := range r.byUserID {
		out = append(out, u)
	}
	return out
}

// Global is the server-wide collection of every PerUser across all
// connections (spec.md §3's "Global state"). It holds plain pointers and
// recognises users of torn-down connections by their dropped flag.
// Connection engines push into it on auth; the periodic tick scans it and
// compacts dropped entries.
type Global struct {
	mu    sync.Mutex
	users []*PerUser
}

// NewGlobal builds an empty global registry.
func NewGlobal() *Global { return &Global{} }

// Push registers a newly authenticated PerUser for the periodic tick to
// see. Held only for the append, per spec.md §5.
func (g *Global) Push(u *PerUser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users = append(g.users, u)
}

// Snapshot returns the current set of live (non-dropped) users and
// compacts the backing slice to drop any that have been marked dropped
// since the last scan. Held only for the copy/compaction, not for any
// subsequent per-user work (the tick must not hold this lock while
// sending on a user's outbound channel).
func (g *Global) Snapshot() []*PerUser {
	g.mu.Lock()
	defer g.mu.Unlock()

	live := g.users[:0]
	out := make([]*PerUser, 0, len(g.users))
	for _, u := range g.users {
		if u.Dropped() {
			continue
		}
		live = append(live, u)
		out = append(out, u)
	}
	g.users = live
	return out
}
