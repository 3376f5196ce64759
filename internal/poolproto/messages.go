// Package poolproto defines the pool wire protocol's message set (spec.md
// §6): the typed inbound/outbound messages a Connection Engine exchanges
// with a mining client, and the Codec abstraction that turns a byte stream
// into a sequence of them. The codec's concrete on-wire framing is, per the
// spec, an external collaborator — BinaryCodec in codec.go is a reference
// implementation good enough to drive the rest of this module end-to-end.
package poolproto

// MsgType is the one-byte tag that prefixes every framed message body.
// Only the values for PayoutInfo (13) and AcceptUserAuth (15) are fixed by
// the spec, because they are folded into the signed digest; the remaining
// values are this codec's own framing detail.
type MsgType uint8

const (
	MsgProtocolSupport MsgType = 1
	MsgProtocolVersion MsgType = 2
	MsgUserAuth        MsgType = 3
	MsgRejectUserAuth  MsgType = 4
	MsgDropUser        MsgType = 5
	MsgShareDifficulty MsgType = 6
	MsgShare           MsgType = 7
	MsgWeakBlock       MsgType = 8
	MsgWeakBlockReset  MsgType = 9
	MsgShareAccepted   MsgType = 10
	MsgShareRejected   MsgType = 11
	MsgVendorMessage   MsgType = 12
	MsgPayoutInfo      MsgType = 13
	MsgNewPoolServer   MsgType = 14
	MsgAcceptUserAuth  MsgType = 15
)

// RejectReason is the wire-visible reason a Share or WeakBlock was rejected
// (spec.md §7).
type RejectReason uint8

const (
	ReasonBadHash RejectReason = iota
	ReasonBadWork
	ReasonBadPayoutInfo
)

func (r RejectReason) String() string {
	switch r {
	case ReasonBadHash:
		return "BadHash"
	case ReasonBadWork:
		return "BadWork"
	case ReasonBadPayoutInfo:
		return "BadPayoutInfo"
	default:
		return "Unknown"
	}
}

// InboundMessage is implemented by every message kind the server can
// receive, including the ones it must reject with a connection drop on
// sight (§4.5's "must never receive" list) — those still decode to a typed
// value so the engine can act on their mere arrival.
type InboundMessage interface {
	inboundMsg()
}

// OutboundMessage is implemented by every message kind the server can send.
type OutboundMessage interface {
	outboundMsg()
	Type() MsgType
}

// ProtocolSupport — inbound only.
type ProtocolSupport struct {
	MinVersion uint16
	MaxVersion uint16
	Flags      uint16
}

func (ProtocolSupport) inboundMsg() {}

// ProtocolVersion — outbound only.
type ProtocolVersion struct {
	SelectedVersion uint16
	Flags           uint16
	AuthKey         [33]byte // compressed secp256k1 public key
}

func (ProtocolVersion) outboundMsg()  {}
func (ProtocolVersion) Type() MsgType { return MsgProtocolVersion }
func (ProtocolVersion) inboundMsg()   {} // never sent by a well-behaved client; drop on receipt

// TxOut is a (value, script) pair, used in PayoutInfo.AppendedOutputs.
type TxOut struct {
	Value  uint64
	Script []byte
}

// PayoutInfoBody is the part of PayoutInfo that gets signed (the
// "encode_unsigned" body from spec.md §4.1).
type PayoutInfoBody struct {
	Timestamp       uint64
	RemainingPayout []byte
	AppendedOutputs []TxOut
}

// PayoutInfo — outbound, signed with message-type byte 13.
type PayoutInfo struct {
	Signature []byte
	Info      PayoutInfoBody
}

func (PayoutInfo) outboundMsg()  {}
func (PayoutInfo) Type() MsgType { return MsgPayoutInfo }

// UserAuthInfo carries what a client presents to authenticate one user.
type UserAuthInfo struct {
	UserID          []byte
	UserAuth        []byte
	SuggestedTarget [32]byte
	MinimumTarget   [32]byte
}

// UserAuth — inbound.
type UserAuth struct {
	Info UserAuthInfo
}

func (UserAuth) inboundMsg() {}

// AcceptUserAuthBody is the signed portion of AcceptUserAuth.
type AcceptUserAuthBody struct {
	UserID          []byte
	Timestamp       uint64
	CoinbasePostfix []byte
}

// AcceptUserAuth — outbound, signed with message-type byte 15.
type AcceptUserAuth struct {
	Signature []byte
	Info      AcceptUserAuthBody
}

func (AcceptUserAuth) outboundMsg()  {}
func (AcceptUserAuth) Type() MsgType { return MsgAcceptUserAuth }

// RejectUserAuth — outbound.
type RejectUserAuth struct {
	UserID []byte
}

func (RejectUserAuth) outboundMsg()  {}
func (RejectUserAuth) Type() MsgType { return MsgRejectUserAuth }

// DropUser — inbound.
type DropUser struct {
	UserID []byte
}

func (DropUser) inboundMsg() {}

// PoolDifficulty is the body of ShareDifficulty.
type PoolDifficulty struct {
	UserID          []byte
	Timestamp       uint64
	ShareTarget     [32]byte
	WeakBlockTarget [32]byte
}

// ShareDifficulty — outbound.
type ShareDifficulty struct {
	Difficulty PoolDifficulty
}

func (ShareDifficulty) outboundMsg()  {}
func (ShareDifficulty) Type() MsgType { return MsgShareDifficulty }

// ShareHeader is the candidate block header fields common to Share and
// WeakBlock.
type ShareHeader struct {
	Version     uint32
	PrevBlock   [32]byte
	Time        uint32
	NBits       uint32
	Nonce       uint32
	MerkleRHSs  [][32]byte
}

// PoolShare is the body of a Share message.
type PoolShare struct {
	Header     ShareHeader
	CoinbaseTx []byte
	UserTag1   []byte
	UserTag2   []byte
}

// Share — inbound.
type Share struct {
	Share PoolShare
}

func (Share) inboundMsg() {}

// WeakBlockActionKind distinguishes the two delta-action variants.
type WeakBlockActionKind uint8

const (
	ActionNewTx WeakBlockActionKind = iota
	ActionTakeTx
)

// WeakBlockAction is NewTx{Tx} | TakeTx{N}.
type WeakBlockAction struct {
	Kind WeakBlockActionKind
	Tx   []byte // valid when Kind == ActionNewTx
	N    uint32 // valid when Kind == ActionTakeTx
}

// WeakBlockSketch is the body of a WeakBlock message.
type WeakBlockSketch struct {
	Header         ShareHeader
	Txn            []WeakBlockAction
	UserTag1       []byte
	UserTag2       []byte
	ExtraBlockData []byte
}

// WeakBlock — inbound.
type WeakBlock struct {
	Sketch WeakBlockSketch
}

func (WeakBlock) inboundMsg() {}

// WeakBlockStateReset — outbound only.
type WeakBlockStateReset struct{}

func (WeakBlockStateReset) outboundMsg()  {}
func (WeakBlockStateReset) Type() MsgType { return MsgWeakBlockReset }

// ShareAccepted — outbound.
type ShareAccepted struct {
	UserTag1 []byte
	UserTag2 []byte
}

func (ShareAccepted) outboundMsg()  {}
func (ShareAccepted) Type() MsgType { return MsgShareAccepted }

// ShareRejected — outbound.
type ShareRejected struct {
	UserTag1 []byte
	UserTag2 []byte
	Reason   RejectReason
}

func (ShareRejected) outboundMsg()  {}
func (ShareRejected) Type() MsgType { return MsgShareRejected }

// VendorMessage — both directions; ignored inbound.
type VendorMessage struct {
	Payload []byte
}

func (VendorMessage) inboundMsg()   {}
func (VendorMessage) outboundMsg()  {}
func (VendorMessage) Type() MsgType { return MsgVendorMessage }

// NewPoolServer — outbound only. Advertises an alternate pool endpoint to a
// client; this server never emits it, but the type is part of the protocol
// surface and must decode/encode like any other message.
type NewPoolServer struct {
	Host    string
	Port    uint16
	AuthKey [33]byte
}

func (NewPoolServer) outboundMsg()  {}
func (NewPoolServer) Type() MsgType { return MsgNewPoolServer }

// messages the server must never receive (§4.5): decoding them still
// succeeds (so the engine can log what arrived) but any attempt to act on
// them is a protocol violation.
type neverInbound interface {
	neverInbound()
}

func (ProtocolVersion) neverInbound()     {}
func (PayoutInfo) neverInbound()          {}
func (AcceptUserAuth) neverInbound()      {}
func (RejectUserAuth) neverInbound()      {}
func (ShareDifficulty) neverInbound()     {}
func (ShareAccepted) neverInbound()       {}
func (ShareRejected) neverInbound()       {}
func (NewPoolServer) neverInbound()       {}
func (WeakBlockStateReset) neverInbound() {}

func (PayoutInfo) inboundMsg()      {}
func (AcceptUserAuth) inboundMsg()  {}
func (RejectUserAuth) inboundMsg()  {}
func (ShareDifficulty) inboundMsg() {}
func (ShareAccepted) inboundMsg()   {}
func (ShareRejected) inboundMsg()   {}
func (NewPoolServer) inboundMsg()   {}
func (WeakBlockStateReset) inboundMsg() {}

// IsNeverInbound reports whether msg is one of the outbound-only kinds the
// server must drop the connection over if it ever receives one.
func IsNeverInbound(msg InboundMessage) bool {
	_, ok := msg.(neverInbound)
	return ok
}
