package connengine

import (
	"encoding/binary"
	"testing"

	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/bsv-pool/poolsrv/internal/poolvalidate"
	"github.com/bsv-pool/poolsrv/internal/signing"
	"github.com/bsv-pool/poolsrv/internal/useraccount"
	"github.com/bsv-pool/poolsrv/ulogger"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/wif"
	"github.com/libsv/go-bt/v2"
	"github.com/libsv/go-bt/v2/bscript"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}

func (l nopLogger) With(...interface{}) ulogger.Logger { return l }

func testSigner(t *testing.T) *signing.Signer {
	t.Helper()
	priv, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)
	w, err := wif.NewWIF(priv, true)
	require.NoError(t, err)
	s, err := signing.NewFromWIF(w.String())
	require.NoError(t, err)
	return s
}

var testPayoutScript = []byte{0x76, 0xa9, 0x14, 0x01, 0x88, 0xac}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Config{
		Logger:            nopLogger{},
		Signer:            testSigner(t),
		Codec:             poolproto.NewBinaryCodec(),
		PayoutScript:      testPayoutScript,
		ServerID:          []byte("srv1"),
		OutboundQueueSize: 8,
		Global:            useraccount.NewGlobal(),
		Hooks:             Hooks{Authenticate: func(poolproto.UserAuthInfo) bool { return true }},
	})
}

func drainOne(t *testing.T, e *Engine) poolproto.OutboundMessage {
	t.Helper()
	select {
	case msg := <-e.outbound:
		return msg
	default:
		t.Fatal("expected an outbound message, got none")
		return nil
	}
}

func negotiate(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.dispatch(poolproto.ProtocolSupport{MinVersion: 1, MaxVersion: 1}))
	drainOne(t, e) // ProtocolVersion
	drainOne(t, e) // PayoutInfo
}

func buildCoinbase(t *testing.T, payoutScript []byte, payoutValue, clientID uint64, nonce byte) []byte {
	t.Helper()

	sigScript := make([]byte, 16)
	sigScript[0] = nonce
	binary.LittleEndian.PutUint64(sigScript[8:], clientID)

	tx := bt.NewTx()
	tx.Inputs = append(tx.Inputs, &bt.Input{
		UnlockingScript:    (*bscript.Script)(&sigScript),
		PreviousTxOutIndex: 0xffffffff,
		SequenceNumber:     0xffffffff,
	})

	ls := bscript.Script(payoutScript)
	tx.Outputs = append(tx.Outputs, &bt.Output{LockingScript: &ls, Satoshis: payoutValue})

	return tx.Bytes()
}

func TestHandshakeProducesVersionAndPayoutInfo(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.dispatch(poolproto.ProtocolSupport{MinVersion: 1, MaxVersion: 1}))

	version := drainOne(t, e).(poolproto.ProtocolVersion)
	require.Equal(t, uint16(protocolVersion), version.SelectedVersion)
	require.Equal(t, e.cfg.Signer.PublicKeyCompressed(), version.AuthKey)

	payout := drainOne(t, e).(poolproto.PayoutInfo)
	require.Equal(t, testPayoutScript, payout.Info.RemainingPayout)

	unsigned := poolproto.EncodePayoutInfoBody(payout.Info)
	ok, err := e.cfg.Signer.Verify(poolproto.MsgPayoutInfo, unsigned, payout.Signature)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, stateNegotiated, e.fsm.Current())
}

func TestDoubleProtocolSupportDropsConnection(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)

	err := e.dispatch(poolproto.ProtocolSupport{MinVersion: 1, MaxVersion: 1})
	require.Error(t, err)
}

func TestUserAuthBeforeNegotiationIsProtocolViolation(t *testing.T) {
	e := newTestEngine(t)
	err := e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}})
	require.Error(t, err)
}

func TestFirstAuthGrantsDifficultyAndTransitionsState(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)

	var minTarget, suggestedTarget [32]byte
	for i := range minTarget {
		minTarget[i] = 0xff
		suggestedTarget[i] = 0xff
	}

	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{
		UserID:          []byte("alice"),
		MinimumTarget:   minTarget,
		SuggestedTarget: suggestedTarget,
	}}))

	accept := drainOne(t, e).(poolproto.AcceptUserAuth)
	require.Equal(t, []byte("alice"), accept.Info.UserID)
	unsigned := poolproto.EncodeAcceptUserAuthBody(accept.Info)
	ok, err := e.cfg.Signer.Verify(poolproto.MsgAcceptUserAuth, unsigned, accept.Signature)
	require.NoError(t, err)
	require.True(t, ok)

	diff := drainOne(t, e).(poolproto.ShareDifficulty)
	require.Equal(t, poolvalidate.LeadingZerosToTarget(poolvalidate.MinShareZ), diff.Difficulty.ShareTarget)

	require.Equal(t, stateHasUsers, e.fsm.Current())

	user, ok := e.registry.ByUserID([]byte("alice"))
	require.True(t, ok)
	require.Equal(t, poolvalidate.MinShareZ, user.CurZ())
}

func TestDuplicateUserAuthIsProtocolViolation(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)

	info := poolproto.UserAuthInfo{UserID: []byte("alice")}
	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: info}))
	drainOne(t, e)
	drainOne(t, e)

	err := e.dispatch(poolproto.UserAuth{Info: info})
	require.Error(t, err)
}

func TestAuthDenialWithNoPriorUserDropsConnection(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Hooks.Authenticate = func(poolproto.UserAuthInfo) bool { return false }
	negotiate(t, e)

	err := e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}})
	require.Error(t, err)
}

func TestAuthDenialAfterPriorUserSendsReject(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)

	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}}))
	drainOne(t, e)
	drainOne(t, e)

	e.cfg.Hooks.Authenticate = func(poolproto.UserAuthInfo) bool { return false }
	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("bob")}}))

	reject := drainOne(t, e).(poolproto.RejectUserAuth)
	require.Equal(t, []byte("bob"), reject.UserID)
}

func TestNeverInboundMessageDropsConnection(t *testing.T) {
	e := newTestEngine(t)
	err := e.dispatch(poolproto.ShareAccepted{})
	require.Error(t, err)
}

func TestWeakBlockFirstActionMustBeNewTx(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)
	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}}))
	drainOne(t, e)
	drainOne(t, e)

	err := e.dispatch(poolproto.WeakBlock{Sketch: poolproto.WeakBlockSketch{
		Txn:      []poolproto.WeakBlockAction{{Kind: poolproto.ActionTakeTx, N: 0}},
		UserTag1: []byte("t1"),
	}})
	require.NoError(t, err)

	rejected := drainOne(t, e).(poolproto.ShareRejected)
	require.Equal(t, poolproto.ReasonBadWork, rejected.Reason)
	_ = drainOne(t, e).(poolproto.WeakBlockStateReset)

	require.Nil(t, e.lastWeakBlock)
}

func TestWeakBlockDeltaReconstruction(t *testing.T) {
	var submitted [][]byte

	e := newTestEngine(t)
	e.cfg.Hooks.WeakBlockSubmitted = func(userID []byte, clientID uint64, ourPayout uint64, txn [][]byte, extraBlockData []byte) {
		submitted = txn
	}

	negotiate(t, e)
	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}}))
	drainOne(t, e)
	drainOne(t, e)

	user, ok := e.registry.ByUserID([]byte("alice"))
	require.True(t, ok)
	require.Equal(t, uint64(0), user.ClientID)
	// Force every header hash in this test to classify as a weak block,
	// regardless of its actual leading-zero count.
	user.SetCurZ(-1 << 20)

	coinbase1 := buildCoinbase(t, testPayoutScript, 5000000000, 0, 0x01)
	t1 := []byte{0x01, 0xaa}
	t2 := []byte{0x02, 0xbb}
	t3 := []byte{0x03, 0xcc}

	require.NoError(t, e.dispatch(poolproto.WeakBlock{Sketch: poolproto.WeakBlockSketch{
		Txn: []poolproto.WeakBlockAction{
			{Kind: poolproto.ActionNewTx, Tx: coinbase1},
			{Kind: poolproto.ActionNewTx, Tx: t1},
			{Kind: poolproto.ActionNewTx, Tx: t2},
			{Kind: poolproto.ActionNewTx, Tx: t3},
		},
		UserTag1: []byte("round1"),
	}}))

	accepted := drainOne(t, e).(poolproto.ShareAccepted)
	require.Equal(t, []byte("round1"), accepted.UserTag1)
	require.Equal(t, [][]byte{coinbase1, t1, t2, t3}, submitted)
	require.Equal(t, [][]byte{coinbase1, t1, t2, t3}, e.lastWeakBlock)

	coinbase2 := buildCoinbase(t, testPayoutScript, 5000000000, 0, 0x02)
	t4 := []byte{0x04, 0xdd}

	require.NoError(t, e.dispatch(poolproto.WeakBlock{Sketch: poolproto.WeakBlockSketch{
		Txn: []poolproto.WeakBlockAction{
			{Kind: poolproto.ActionNewTx, Tx: coinbase2},
			{Kind: poolproto.ActionTakeTx, N: 1},
			{Kind: poolproto.ActionNewTx, Tx: t4},
			{Kind: poolproto.ActionTakeTx, N: 3},
		},
		UserTag1: []byte("round2"),
	}}))

	accepted2 := drainOne(t, e).(poolproto.ShareAccepted)
	require.Equal(t, []byte("round2"), accepted2.UserTag1)
	require.Equal(t, [][]byte{coinbase2, t1, t4, t3}, submitted)
	require.Equal(t, [][]byte{coinbase2, t1, t4, t3}, e.lastWeakBlock)
}

func TestWeakBlockTakeTxOutOfRangeResetsAndKeepsLastWeakBlock(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)
	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}}))
	drainOne(t, e)
	drainOne(t, e)

	user, ok := e.registry.ByUserID([]byte("alice"))
	require.True(t, ok)
	user.SetCurZ(-1 << 20)

	coinbase1 := buildCoinbase(t, testPayoutScript, 5000000000, 0, 0x01)
	require.NoError(t, e.dispatch(poolproto.WeakBlock{Sketch: poolproto.WeakBlockSketch{
		Txn:      []poolproto.WeakBlockAction{{Kind: poolproto.ActionNewTx, Tx: coinbase1}},
		UserTag1: []byte("round1"),
	}}))
	drainOne(t, e) // ShareAccepted
	require.Equal(t, [][]byte{coinbase1}, e.lastWeakBlock)

	coinbase2 := buildCoinbase(t, testPayoutScript, 5000000000, 0, 0x02)
	require.NoError(t, e.dispatch(poolproto.WeakBlock{Sketch: poolproto.WeakBlockSketch{
		Txn: []poolproto.WeakBlockAction{
			{Kind: poolproto.ActionNewTx, Tx: coinbase2},
			{Kind: poolproto.ActionTakeTx, N: 5},
		},
		UserTag1: []byte("round2"),
	}}))

	rejected := drainOne(t, e).(poolproto.ShareRejected)
	require.Equal(t, poolproto.ReasonBadWork, rejected.Reason)
	_ = drainOne(t, e).(poolproto.WeakBlockStateReset)

	require.Equal(t, [][]byte{coinbase1}, e.lastWeakBlock)
}

func TestBurstOfWeakBlocksRaisesDifficulty(t *testing.T) {
	e := newTestEngine(t)
	negotiate(t, e)
	require.NoError(t, e.dispatch(poolproto.UserAuth{Info: poolproto.UserAuthInfo{UserID: []byte("alice")}}))
	drainOne(t, e)
	drainOne(t, e)

	user, ok := e.registry.ByUserID([]byte("alice"))
	require.True(t, ok)
	user.SetCurZ(-1 << 20)

	for i := 0; i < 31; i++ {
		coinbase := buildCoinbase(t, testPayoutScript, 5000000000, 0, byte(i))
		require.NoError(t, e.dispatch(poolproto.WeakBlock{Sketch: poolproto.WeakBlockSketch{
			Txn:      []poolproto.WeakBlockAction{{Kind: poolproto.ActionNewTx, Tx: coinbase}},
			UserTag1: []byte("r"),
		}}))
		drainOne(t, e) // ShareAccepted
	}

	// The 31st share pushes the burst counter over the threshold; the
	// all-zero MinimumTarget clamps min_z to MaxShareZ at registration, so
	// the forced negative cur_z is clamped up to the maximum share
	// difficulty rather than merely incremented by one.
	diff := drainOne(t, e).(poolproto.ShareDifficulty)
	require.Equal(t, poolvalidate.LeadingZerosToTarget(poolvalidate.MaxShareZ), diff.Difficulty.ShareTarget)
	require.Equal(t, poolvalidate.MaxShareZ, user.CurZ())
	require.Equal(t, 15, user.AcceptedShares())
}
