package poolproto

import (
	"encoding/binary"

	"github.com/bsv-pool/poolsrv/errors"
)

// byteReader and byteWriter are small unexported helpers for the
// fixed-layout binary encoding used by BinaryCodec. Multi-byte integers are
// big-endian; variable-length byte strings are length-prefixed, either with
// a single length byte (writeBytes8, for short fields capped at 255 bytes
// such as user ids and tags) or a uint32 (writeBytesVarint, for
// transactions and other larger blobs).

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) remaining() int { return len(r.b) - r.off }

func (r *byteReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *byteReader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) readUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *byteReader) readFixed32() ([32]byte, error) {
	var out [32]byte
	if r.remaining() < 32 {
		return out, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	copy(out[:], r.b[r.off:r.off+32])
	r.off += 32
	return out, nil
}

func (r *byteReader) readFixed33() ([33]byte, error) {
	var out [33]byte
	if r.remaining() < 33 {
		return out, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	copy(out[:], r.b[r.off:r.off+33])
	r.off += 33
	return out, nil
}

func (r *byteReader) readBytes8() ([]byte, error) {
	n, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	out := append([]byte(nil), r.b[r.off:r.off+int(n)]...)
	r.off += int(n)
	return out, nil
}

func (r *byteReader) readBytesVarint() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if n > maxFrameLength || r.remaining() < int(n) {
		return nil, errors.New(errors.CodeCodec, "unexpected end of frame")
	}
	out := append([]byte(nil), r.b[r.off:r.off+int(n)]...)
	r.off += int(n)
	return out, nil
}

func (r *byteReader) readString() (string, error) {
	b, err := r.readBytes8()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type byteWriter struct{ b []byte }

func (w *byteWriter) writeByte(v byte)     { w.b = append(w.b, v) }
func (w *byteWriter) writeUint16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }
func (w *byteWriter) writeUint32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }
func (w *byteWriter) writeUint64(v uint64) { w.b = binary.BigEndian.AppendUint64(w.b, v) }

func (w *byteWriter) writeFixed32(v [32]byte) { w.b = append(w.b, v[:]...) }
func (w *byteWriter) writeFixed33(v [33]byte) { w.b = append(w.b, v[:]...) }

func (w *byteWriter) writeBytes8(b []byte) {
	w.writeByte(byte(len(b)))
	w.b = append(w.b, b...)
}

func (w *byteWriter) writeBytesVarint(b []byte) {
	w.writeUint32(uint32(len(b)))
	w.b = append(w.b, b...)
}

func (w *byteWriter) writeString(s string) { w.writeBytes8([]byte(s)) }

// --- per-message codecs ---

func decodeProtocolSupport(r *byteReader) (ProtocolSupport, error) {
	var m ProtocolSupport
	var err error
	if m.MinVersion, err = r.readUint16(); err != nil {
		return m, err
	}
	if m.MaxVersion, err = r.readUint16(); err != nil {
		return m, err
	}
	if m.Flags, err = r.readUint16(); err != nil {
		return m, err
	}
	return m, nil
}

func encodeProtocolVersion(w *byteWriter, m ProtocolVersion) {
	w.writeUint16(m.SelectedVersion)
	w.writeUint16(m.Flags)
	w.writeFixed33(m.AuthKey)
}

func decodeProtocolVersion(r *byteReader) (ProtocolVersion, error) {
	var m ProtocolVersion
	var err error
	if m.SelectedVersion, err = r.readUint16(); err != nil {
		return m, err
	}
	if m.Flags, err = r.readUint16(); err != nil {
		return m, err
	}
	if m.AuthKey, err = r.readFixed33(); err != nil {
		return m, err
	}
	return m, nil
}

func encodePayoutInfoBodyInto(w *byteWriter, body PayoutInfoBody) {
	w.writeUint64(body.Timestamp)
	w.writeBytesVarint(body.RemainingPayout)
	w.writeUint32(uint32(len(body.AppendedOutputs)))
	for _, o := range body.AppendedOutputs {
		w.writeUint64(o.Value)
		w.writeBytesVarint(o.Script)
	}
}

func decodePayoutInfoBody(r *byteReader) (PayoutInfoBody, error) {
	var body PayoutInfoBody
	var err error
	if body.Timestamp, err = r.readUint64(); err != nil {
		return body, err
	}
	if body.RemainingPayout, err = r.readBytesVarint(); err != nil {
		return body, err
	}
	n, err := r.readUint32()
	if err != nil {
		return body, err
	}
	body.AppendedOutputs = make([]TxOut, 0, n)
	for i := uint32(0); i < n; i++ {
		var o TxOut
		if o.Value, err = r.readUint64(); err != nil {
			return body, err
		}
		if o.Script, err = r.readBytesVarint(); err != nil {
			return body, err
		}
		body.AppendedOutputs = append(body.AppendedOutputs, o)
	}
	return body, nil
}

func encodePayoutInfo(w *byteWriter, m PayoutInfo) {
	w.writeBytes8(m.Signature)
	encodePayoutInfoBodyInto(w, m.Info)
}

func decodePayoutInfo(r *byteReader) (PayoutInfo, error) {
	var m PayoutInfo
	var err error
	if m.Signature, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Info, err = decodePayoutInfoBody(r); err != nil {
		return m, err
	}
	return m, nil
}

func decodeUserAuth(r *byteReader) (UserAuth, error) {
	var m UserAuth
	var err error
	if m.Info.UserID, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Info.UserAuth, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Info.SuggestedTarget, err = r.readFixed32(); err != nil {
		return m, err
	}
	if m.Info.MinimumTarget, err = r.readFixed32(); err != nil {
		return m, err
	}
	return m, nil
}

func encodeAcceptUserAuthBodyInto(w *byteWriter, body AcceptUserAuthBody) {
	w.writeBytes8(body.UserID)
	w.writeUint64(body.Timestamp)
	w.writeBytes8(body.CoinbasePostfix)
}

func decodeAcceptUserAuthBody(r *byteReader) (AcceptUserAuthBody, error) {
	var body AcceptUserAuthBody
	var err error
	if body.UserID, err = r.readBytes8(); err != nil {
		return body, err
	}
	if body.Timestamp, err = r.readUint64(); err != nil {
		return body, err
	}
	if body.CoinbasePostfix, err = r.readBytes8(); err != nil {
		return body, err
	}
	return body, nil
}

func encodeAcceptUserAuth(w *byteWriter, m AcceptUserAuth) {
	w.writeBytes8(m.Signature)
	encodeAcceptUserAuthBodyInto(w, m.Info)
}

func decodeAcceptUserAuth(r *byteReader) (AcceptUserAuth, error) {
	var m AcceptUserAuth
	var err error
	if m.Signature, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Info, err = decodeAcceptUserAuthBody(r); err != nil {
		return m, err
	}
	return m, nil
}

func encodeRejectUserAuth(w *byteWriter, m RejectUserAuth) {
	w.writeBytes8(m.UserID)
}

func decodeRejectUserAuth(r *byteReader) (RejectUserAuth, error) {
	var m RejectUserAuth
	var err error
	if m.UserID, err = r.readBytes8(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeDropUser(r *byteReader) (DropUser, error) {
	var m DropUser
	var err error
	if m.UserID, err = r.readBytes8(); err != nil {
		return m, err
	}
	return m, nil
}

func encodeShareDifficulty(w *byteWriter, m ShareDifficulty) {
	d := m.Difficulty
	w.writeBytes8(d.UserID)
	w.writeUint64(d.Timestamp)
	w.writeFixed32(d.ShareTarget)
	w.writeFixed32(d.WeakBlockTarget)
}

func decodeShareDifficulty(r *byteReader) (ShareDifficulty, error) {
	var m ShareDifficulty
	var err error
	if m.Difficulty.UserID, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Difficulty.Timestamp, err = r.readUint64(); err != nil {
		return m, err
	}
	if m.Difficulty.ShareTarget, err = r.readFixed32(); err != nil {
		return m, err
	}
	if m.Difficulty.WeakBlockTarget, err = r.readFixed32(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeShareHeader(r *byteReader) (ShareHeader, error) {
	var h ShareHeader
	var err error
	if h.Version, err = r.readUint32(); err != nil {
		return h, err
	}
	if h.PrevBlock, err = r.readFixed32(); err != nil {
		return h, err
	}
	if h.Time, err = r.readUint32(); err != nil {
		return h, err
	}
	if h.NBits, err = r.readUint32(); err != nil {
		return h, err
	}
	if h.Nonce, err = r.readUint32(); err != nil {
		return h, err
	}
	n, err := r.readByte()
	if err != nil {
		return h, err
	}
	h.MerkleRHSs = make([][32]byte, 0, n)
	for i := byte(0); i < n; i++ {
		hash, err := r.readFixed32()
		if err != nil {
			return h, err
		}
		h.MerkleRHSs = append(h.MerkleRHSs, hash)
	}
	return h, nil
}

func decodeShare(r *byteReader) (Share, error) {
	var m Share
	var err error
	if m.Share.Header, err = decodeShareHeader(r); err != nil {
		return m, err
	}
	if m.Share.CoinbaseTx, err = r.readBytesVarint(); err != nil {
		return m, err
	}
	if m.Share.UserTag1, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Share.UserTag2, err = r.readBytes8(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeWeakBlock(r *byteReader) (WeakBlock, error) {
	var m WeakBlock
	var err error
	if m.Sketch.Header, err = decodeShareHeader(r); err != nil {
		return m, err
	}
	n, err := r.readUint32()
	if err != nil {
		return m, err
	}
	m.Sketch.Txn = make([]WeakBlockAction, 0, n)
	for i := uint32(0); i < n; i++ {
		kindByte, err := r.readByte()
		if err != nil {
			return m, err
		}
		var action WeakBlockAction
		switch WeakBlockActionKind(kindByte) {
		case ActionNewTx:
			action.Kind = ActionNewTx
			if action.Tx, err = r.readBytesVarint(); err != nil {
				return m, err
			}
		case ActionTakeTx:
			action.Kind = ActionTakeTx
			if action.N, err = r.readUint32(); err != nil {
				return m, err
			}
		default:
			return m, errors.New(errors.CodeCodec, "unknown weak block action %d", kindByte)
		}
		m.Sketch.Txn = append(m.Sketch.Txn, action)
	}
	if m.Sketch.UserTag1, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Sketch.UserTag2, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.Sketch.ExtraBlockData, err = r.readBytesVarint(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeShareAccepted(r *byteReader) (ShareAccepted, error) {
	var m ShareAccepted
	var err error
	if m.UserTag1, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.UserTag2, err = r.readBytes8(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeShareRejected(r *byteReader) (ShareRejected, error) {
	var m ShareRejected
	var err error
	if m.UserTag1, err = r.readBytes8(); err != nil {
		return m, err
	}
	if m.UserTag2, err = r.readBytes8(); err != nil {
		return m, err
	}
	reason, err := r.readByte()
	if err != nil {
		return m, err
	}
	m.Reason = RejectReason(reason)
	return m, nil
}

func encodeNewPoolServer(w *byteWriter, m NewPoolServer) {
	w.writeString(m.Host)
	w.writeUint16(m.Port)
	w.writeFixed33(m.AuthKey)
}

func decodeNewPoolServer(r *byteReader) (NewPoolServer, error) {
	var m NewPoolServer
	var err error
	if m.Host, err = r.readString(); err != nil {
		return m, err
	}
	if m.Port, err = r.readUint16(); err != nil {
		return m, err
	}
	if m.AuthKey, err = r.readFixed33(); err != nil {
		return m, err
	}
	return m, nil
}
