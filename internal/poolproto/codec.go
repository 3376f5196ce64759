package poolproto

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/bsv-pool/poolsrv/errors"
)

// maxFrameLength bounds a single message's body size, guarding against a
// malformed or hostile peer claiming an absurd length prefix.
const maxFrameLength = 16 * 1024 * 1024

// Codec turns a byte stream into a sequence of protocol messages and back.
// Its concrete wire format is outside this package's spec (spec.md §6
// treats framing as an external collaborator); BinaryCodec below is one
// implementation of it, sufficient to drive and test the rest of the
// module end to end.
type Codec interface {
	// ReadMessage blocks for the next frame and decodes it. A malformed
	// frame yields an *errors.Error with code errors.CodeCodec; a failed
	// read returns the reader's own error unchanged.
	ReadMessage(r io.Reader) (InboundMessage, error)

	// WriteMessage encodes and writes one frame.
	WriteMessage(w io.Writer, msg OutboundMessage) error
}

// BinaryCodec implements Codec with a u32-length-prefixed, type-byte-tagged
// frame: [u32 big-endian length][u8 type][length-1 bytes of body], in the
// same length-prefix-then-dispatch-on-command idiom as btcd/exccd's wire
// package (wire.ReadMessageN / WriteMessageN).
type BinaryCodec struct{}

func NewBinaryCodec() *BinaryCodec { return &BinaryCodec{} }

func (c *BinaryCodec) ReadMessage(r io.Reader) (InboundMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > maxFrameLength {
		return nil, errors.New(errors.CodeCodec, "frame length out of range: %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	typ := MsgType(body[0])
	br := &byteReader{b: body[1:]}

	switch typ {
	case MsgProtocolSupport:
		return decodeProtocolSupport(br)
	case MsgUserAuth:
		return decodeUserAuth(br)
	case MsgDropUser:
		return decodeDropUser(br)
	case MsgShare:
		return decodeShare(br)
	case MsgWeakBlock:
		return decodeWeakBlock(br)
	case MsgVendorMessage:
		return VendorMessage{Payload: append([]byte(nil), br.b...)}, nil
	case MsgProtocolVersion:
		return decodeProtocolVersion(br)
	case MsgPayoutInfo:
		return decodePayoutInfo(br)
	case MsgAcceptUserAuth:
		return decodeAcceptUserAuth(br)
	case MsgRejectUserAuth:
		return decodeRejectUserAuth(br)
	case MsgShareDifficulty:
		return decodeShareDifficulty(br)
	case MsgShareAccepted:
		return decodeShareAccepted(br)
	case MsgShareRejected:
		return decodeShareRejected(br)
	case MsgNewPoolServer:
		return decodeNewPoolServer(br)
	case MsgWeakBlockReset:
		return WeakBlockStateReset{}, nil
	default:
		return nil, errors.New(errors.CodeCodec, "unknown message type %d", typ)
	}
}

func (c *BinaryCodec) WriteMessage(w io.Writer, msg OutboundMessage) error {
	bw := &byteWriter{}
	bw.writeByte(byte(msg.Type()))

	switch m := msg.(type) {
	case ProtocolVersion:
		encodeProtocolVersion(bw, m)
	case PayoutInfo:
		encodePayoutInfo(bw, m)
	case AcceptUserAuth:
		encodeAcceptUserAuth(bw, m)
	case RejectUserAuth:
		encodeRejectUserAuth(bw, m)
	case ShareDifficulty:
		encodeShareDifficulty(bw, m)
	case WeakBlockStateReset:
		// no body
	case ShareAccepted:
		bw.writeBytes8(m.UserTag1)
		bw.writeBytes8(m.UserTag2)
	case ShareRejected:
		bw.writeBytes8(m.UserTag1)
		bw.writeBytes8(m.UserTag2)
		bw.writeByte(byte(m.Reason))
	case VendorMessage:
		bw.b = append(bw.b, m.Payload...)
	case NewPoolServer:
		encodeNewPoolServer(bw, m)
	default:
		return errors.New(errors.CodeCodec, "unsupported outbound message type %T", msg)
	}

	body := bw.b
	if len(body) > maxFrameLength {
		return errors.New(errors.CodeCodec, "encoded frame too large: %d", len(body))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	bufw := bufio.NewWriter(w)
	if _, err := bufw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bufw.Write(body); err != nil {
		return err
	}
	return bufw.Flush()
}

// EncodePayoutInfoBody and EncodeAcceptUserAuthBody produce the exact
// unsigned-body bytes that internal/signing hashes and signs/verifies; the
// wire encoders (encodePayoutInfo/encodeAcceptUserAuth in wire.go) write
// the body through the same encode*BodyInto helpers.
func EncodePayoutInfoBody(body PayoutInfoBody) []byte {
	bw := &byteWriter{}
	encodePayoutInfoBodyInto(bw, body)
	return bw.b
}

func EncodeAcceptUserAuthBody(body AcceptUserAuthBody) []byte {
	bw := &byteWriter{}
	encodeAcceptUserAuthBodyInto(bw, body)
	return bw.b
}
