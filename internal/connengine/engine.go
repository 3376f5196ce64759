// Package connengine implements the per-connection protocol state machine
// (spec.md §4.5): it sequences codec events, dispatches to the validator,
// registry, and difficulty controller, and issues signed responses through
// the Signer. One Engine owns exactly one socket and runs single-threaded,
// so none of its own state needs locking (spec.md §5).
package connengine

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/bsv-pool/poolsrv/errors"
	"github.com/bsv-pool/poolsrv/internal/difficulty"
	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/bsv-pool/poolsrv/internal/poolvalidate"
	"github.com/bsv-pool/poolsrv/internal/signing"
	"github.com/bsv-pool/poolsrv/internal/useraccount"
	"github.com/bsv-pool/poolsrv/ulogger"
	"github.com/looplab/fsm"
)

const (
	stateFresh      = "fresh"
	stateNegotiated = "negotiated"
	stateHasUsers   = "has_users"

	protocolVersion = 1
)

// Hooks are the embedder-provided callbacks spec.md §4.3/§7 describes:
// the auth predicate and the share/weak-block side effects. None of them
// are expected to fail; only Authenticate's boolean return affects
// protocol flow.
type Hooks struct {
	Authenticate       func(info poolproto.UserAuthInfo) bool
	ShareSubmitted     func(userID []byte, clientID uint64, ourPayout uint64)
	WeakBlockSubmitted func(userID []byte, clientID uint64, ourPayout uint64, txn [][]byte, extraBlockData []byte)
}

// Config bundles everything an Engine needs beyond the socket itself.
type Config struct {
	Logger            ulogger.Logger
	Signer            *signing.Signer
	Codec             poolproto.Codec
	PayoutScript      []byte
	ServerID          []byte
	OutboundQueueSize int
	Global            *useraccount.Global
	Hooks             Hooks
}

// Engine runs one connection's protocol state machine.
type Engine struct {
	cfg      Config
	logger   ulogger.Logger
	fsm      *fsm.FSM
	registry *useraccount.Registry
	outbound chan poolproto.OutboundMessage

	lastWeakBlock [][]byte
}

// New builds an Engine bound to one connection; call Run to drive it.
func New(cfg Config) *Engine {
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 5
	}

	e := &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		registry: useraccount.NewRegistry(),
		outbound: make(chan poolproto.OutboundMessage, cfg.OutboundQueueSize),
	}

	e.fsm = fsm.NewFSM(
		stateFresh,
		fsm.Events{
			{Name: "negotiate", Src: []string{stateFresh}, Dst: stateNegotiated},
			{Name: "first_auth", Src: []string{stateNegotiated}, Dst: stateHasUsers},
		},
		fsm.Callbacks{},
	)

	return e
}

// Run drives the connection until teardown: a read loop dispatching
// inbound messages, and a writer goroutine draining the outbound queue.
// It returns the error that caused teardown, or nil on a clean EOF.
func (e *Engine) Run(ctx context.Context, rw io.ReadWriter) error {
	writeErrCh := make(chan error, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case msg, ok := <-e.outbound:
				if !ok {
					return
				}
				if err := e.cfg.Codec.WriteMessage(rw, msg); err != nil {
					select {
					case writeErrCh <- err:
					default:
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		close(e.outbound)
		<-writerDone
		for _, u := range e.registry.All() {
			u.MarkDropped()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-writeErrCh:
			return errors.New(errors.CodeProtocolViolation, "outbound write failed", err)
		default:
		}

		msg, err := e.cfg.Codec.ReadMessage(rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.New(errors.CodeCodec, "codec read failed", err)
		}

		if err := e.dispatch(msg); err != nil {
			return err
		}
	}
}

// sendOut enqueues an outbound message; a full queue is a fatal
// connection-level error per spec.md §5.
func (e *Engine) sendOut(msg poolproto.OutboundMessage) error {
	select {
	case e.outbound <- msg:
		return nil
	default:
		return errors.New(errors.CodeProtocolViolation, "outbound queue full")
	}
}

func (e *Engine) dispatch(msg poolproto.InboundMessage) error {
	if poolproto.IsNeverInbound(msg) {
		return errors.New(errors.CodeProtocolViolation, "received outbound-only message type %T", msg)
	}

	state := e.fsm.Current()

	switch m := msg.(type) {
	case poolproto.ProtocolSupport:
		if state != stateFresh {
			return errors.New(errors.CodeProtocolViolation, "protocol support outside fresh state")
		}
		return e.handleProtocolSupport(m)

	case poolproto.VendorMessage:
		if state == stateFresh {
			return errors.New(errors.CodeProtocolViolation, "vendor message before negotiation")
		}
		return nil

	case poolproto.UserAuth:
		if state != stateNegotiated && state != stateHasUsers {
			return errors.New(errors.CodeProtocolViolation, "user auth before negotiation")
		}
		return e.handleUserAuth(m)

	case poolproto.DropUser:
		if state != stateHasUsers {
			return errors.New(errors.CodeProtocolViolation, "drop user outside has_users state")
		}
		return e.handleDropUser(m)

	case poolproto.Share:
		if state != stateHasUsers {
			return errors.New(errors.CodeProtocolViolation, "share outside has_users state")
		}
		return e.handleShare(m)

	case poolproto.WeakBlock:
		if state != stateHasUsers {
			return errors.New(errors.CodeProtocolViolation, "weak block outside has_users state")
		}
		return e.handleWeakBlock(m)

	default:
		return errors.New(errors.CodeProtocolViolation, "unhandled message type %T", msg)
	}
}

func (e *Engine) handleProtocolSupport(m poolproto.ProtocolSupport) error {
	if m.MinVersion > protocolVersion || m.MaxVersion < protocolVersion {
		return errors.New(errors.CodeProtocolViolation, "incompatible protocol version range [%d,%d]", m.MinVersion, m.MaxVersion)
	}
	if m.Flags != 0 {
		e.logger.Warnf("protocol support advertised unknown flags: %d", m.Flags)
	}

	if err := e.fsm.Event(context.Background(), "negotiate"); err != nil {
		return errors.New(errors.CodeProtocolViolation, "duplicate protocol support", err)
	}

	if err := e.sendOut(poolproto.ProtocolVersion{
		SelectedVersion: protocolVersion,
		Flags:           0,
		AuthKey:         e.cfg.Signer.PublicKeyCompressed(),
	}); err != nil {
		return err
	}

	payoutMsg, err := e.cfg.Signer.SignPayoutInfo(poolproto.PayoutInfoBody{
		Timestamp:       nowMillis(),
		RemainingPayout: e.cfg.PayoutScript,
		AppendedOutputs: nil,
	})
	if err != nil {
		return err
	}
	return e.sendOut(payoutMsg)
}

func (e *Engine) handleUserAuth(m poolproto.UserAuth) error {
	info := m.Info

	if e.registry.HasUser(info.UserID) {
		return errors.New(errors.CodeProtocolViolation, "duplicate user_id on connection")
	}

	if !e.cfg.Hooks.Authenticate(info) {
		if e.registry.Authenticated() {
			return e.sendOut(poolproto.RejectUserAuth{UserID: info.UserID})
		}
		return errors.New(errors.CodeProtocolViolation, "auth denied with no prior authenticated user")
	}

	// A client is free to send any MinimumTarget, including an all-zero one
	// (CountLeadingZeros+1 = 257); clamp it into the share-difficulty range
	// here so it can never invert the [lo, hi] bounds clampShareZ passes to
	// poolvalidate.Clamp downstream.
	minZ := poolvalidate.Clamp(poolvalidate.CountLeadingZeros(info.MinimumTarget)+1, poolvalidate.MinShareZ, poolvalidate.MaxShareZ)
	suggestedZ := poolvalidate.CountLeadingZeros(info.SuggestedTarget) + 1
	curZ := poolvalidate.Clamp(maxInt(suggestedZ, minZ), poolvalidate.MinShareZ, poolvalidate.MaxShareZ)

	user := e.registry.Register(info.UserID, minZ, curZ, e.outbound)
	e.cfg.Global.Push(user)

	if e.fsm.Current() == stateNegotiated {
		if err := e.fsm.Event(context.Background(), "first_auth"); err != nil {
			return errors.New(errors.CodeInternal, "fsm transition to has_users failed", err)
		}
	}

	postfix := coinbasePostfix(e.cfg.ServerID, user.ClientID)

	acceptMsg, err := e.cfg.Signer.SignAcceptUserAuth(poolproto.AcceptUserAuthBody{
		UserID:          info.UserID,
		Timestamp:       nowMillis(),
		CoinbasePostfix: postfix,
	})
	if err != nil {
		return err
	}
	if err := e.sendOut(acceptMsg); err != nil {
		return err
	}

	return e.sendOut(poolproto.ShareDifficulty{Difficulty: poolproto.PoolDifficulty{
		UserID:          info.UserID,
		Timestamp:       nowMillis(),
		ShareTarget:     poolvalidate.LeadingZerosToTarget(curZ),
		WeakBlockTarget: poolvalidate.LeadingZerosToTarget(curZ + poolvalidate.WeakRatioZ),
	}})
}

func (e *Engine) handleDropUser(m poolproto.DropUser) error {
	if err := e.registry.Drop(m.UserID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) handleShare(m poolproto.Share) error {
	share := m.Share

	res, err := poolvalidate.CheckCoinbase(share.CoinbaseTx, e.cfg.PayoutScript)
	if err != nil {
		return e.sendOut(poolproto.ShareRejected{
			UserTag1: share.UserTag1,
			UserTag2: share.UserTag2,
			Reason:   poolproto.ReasonBadPayoutInfo,
		})
	}

	user, ok := e.registry.ByClientID(res.ClientID)
	if !ok {
		return e.sendOut(poolproto.ShareRejected{
			UserTag1: share.UserTag1,
			UserTag2: share.UserTag2,
			Reason:   poolproto.ReasonBadPayoutInfo,
		})
	}

	merkleRoot := poolvalidate.MerkleRoot(res.TxID, share.Header.MerkleRHSs)
	headerHash := poolvalidate.HeaderHash(poolvalidate.Header{
		Version:    share.Header.Version,
		PrevBlock:  share.Header.PrevBlock,
		MerkleRoot: merkleRoot,
		Time:       share.Header.Time,
		NBits:      share.Header.NBits,
		Nonce:      share.Header.Nonce,
	})

	switch poolvalidate.ClassifyWork(headerHash, user.CurZ()) {
	case poolvalidate.WorkWeakBlock:
		// The full weak block is expected next and will carry the
		// credit; this share is neither accepted nor rejected.
		return nil

	case poolvalidate.WorkShare:
		if e.cfg.Hooks.ShareSubmitted != nil {
			e.cfg.Hooks.ShareSubmitted(user.UserID, user.ClientID, res.OurPayout)
		}
		if err := e.sendOut(poolproto.ShareAccepted{UserTag1: share.UserTag1, UserTag2: share.UserTag2}); err != nil {
			return err
		}
		return e.applyBurstAdjustment(user)

	default:
		return e.sendOut(poolproto.ShareRejected{
			UserTag1: share.UserTag1,
			UserTag2: share.UserTag2,
			Reason:   poolproto.ReasonBadHash,
		})
	}
}

func (e *Engine) handleWeakBlock(m poolproto.WeakBlock) error {
	sketch := m.Sketch

	if len(sketch.Txn) == 0 || sketch.Txn[0].Kind != poolproto.ActionNewTx {
		return e.rejectWeakBlock(sketch, poolproto.ReasonBadWork)
	}

	res, err := poolvalidate.CheckCoinbase(sketch.Txn[0].Tx, e.cfg.PayoutScript)
	if err != nil {
		return e.rejectWeakBlock(sketch, poolproto.ReasonBadPayoutInfo)
	}

	user, ok := e.registry.ByClientID(res.ClientID)
	if !ok {
		return e.rejectWeakBlock(sketch, poolproto.ReasonBadPayoutInfo)
	}

	newTxn, err := e.reconstructWeakBlock(sketch.Txn)
	if err != nil {
		return e.rejectWeakBlock(sketch, poolproto.ReasonBadWork)
	}

	// Reconstruction completed: last_weak_block updates unconditionally
	// from here on, whether the block is accepted or rejected for
	// BadHash (spec.md §4.5, §9).
	defer func() { e.lastWeakBlock = newTxn }()

	merkleRoot := poolvalidate.MerkleRoot(res.TxID, sketch.Header.MerkleRHSs)
	headerHash := poolvalidate.HeaderHash(poolvalidate.Header{
		Version:    sketch.Header.Version,
		PrevBlock:  sketch.Header.PrevBlock,
		MerkleRoot: merkleRoot,
		Time:       sketch.Header.Time,
		NBits:      sketch.Header.NBits,
		Nonce:      sketch.Header.Nonce,
	})

	if poolvalidate.ClassifyWork(headerHash, user.CurZ()) != poolvalidate.WorkWeakBlock {
		return e.sendOut(poolproto.ShareRejected{
			UserTag1: sketch.UserTag1,
			UserTag2: sketch.UserTag2,
			Reason:   poolproto.ReasonBadHash,
		})
	}

	if e.cfg.Hooks.WeakBlockSubmitted != nil {
		e.cfg.Hooks.WeakBlockSubmitted(user.UserID, user.ClientID, res.OurPayout, newTxn, sketch.ExtraBlockData)
	}
	if err := e.sendOut(poolproto.ShareAccepted{UserTag1: sketch.UserTag1, UserTag2: sketch.UserTag2}); err != nil {
		return err
	}
	return e.applyBurstAdjustment(user)
}

// rejectWeakBlock handles the pre-reconstruction rejection paths: these do
// not touch last_weak_block and additionally send WeakBlockStateReset.
func (e *Engine) rejectWeakBlock(sketch poolproto.WeakBlockSketch, reason poolproto.RejectReason) error {
	if err := e.sendOut(poolproto.ShareRejected{
		UserTag1: sketch.UserTag1,
		UserTag2: sketch.UserTag2,
		Reason:   reason,
	}); err != nil {
		return err
	}
	return e.sendOut(poolproto.WeakBlockStateReset{})
}

func (e *Engine) reconstructWeakBlock(actions []poolproto.WeakBlockAction) ([][]byte, error) {
	newTxn := make([][]byte, 0, len(actions))
	for _, a := range actions {
		switch a.Kind {
		case poolproto.ActionNewTx:
			newTxn = append(newTxn, a.Tx)
		case poolproto.ActionTakeTx:
			if int(a.N) >= len(e.lastWeakBlock) {
				return nil, errors.New(errors.CodeBadWork, "take_tx index %d out of range", a.N)
			}
			newTxn = append(newTxn, e.lastWeakBlock[a.N])
		default:
			return nil, errors.New(errors.CodeBadWork, "unknown weak block action")
		}
	}
	return newTxn, nil
}

func (e *Engine) applyBurstAdjustment(user *useraccount.PerUser) error {
	result := difficulty.OnShareAccepted(user)
	if !result.Changed {
		return nil
	}
	return e.sendOut(poolproto.ShareDifficulty{Difficulty: poolproto.PoolDifficulty{
		UserID:          user.UserID,
		Timestamp:       nowMillis(),
		ShareTarget:     poolvalidate.LeadingZerosToTarget(result.NewCurZ),
		WeakBlockTarget: poolvalidate.LeadingZerosToTarget(result.NewCurZ + poolvalidate.WeakRatioZ),
	}})
}

func coinbasePostfix(serverID []byte, clientID uint64) []byte {
	out := make([]byte, len(serverID)+8)
	copy(out, serverID)
	binary.LittleEndian.PutUint64(out[len(serverID):], clientID)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
