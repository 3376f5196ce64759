// Package signing wraps the operator's secp256k1 authority key: it signs
// the two outbound messages the protocol requires a signature for
// (PayoutInfo and AcceptUserAuth) and exposes the compressed public key
// every client needs to verify them.
package signing

import (
	"crypto/sha256"

	"github.com/bsv-pool/poolsrv/errors"
	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/wif"
)

// Signer signs outbound protocol messages with the pool operator's
// authority key. The digest signed is the single SHA-256 of msgType
// followed by the message's unsigned-body encoding (spec.md §4.1/§4.4) —
// clients that already trust the pool's public key verify against exactly
// that digest.
type Signer struct {
	privateKey *bec.PrivateKey
}

// NewFromWIF builds a Signer from a WIF-encoded compressed secp256k1
// private key, the same encoding the teacher's coinbase wallet key uses.
func NewFromWIF(wifStr string) (*Signer, error) {
	decoded, err := wif.DecodeWIF(wifStr)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "invalid auth key WIF", err)
	}
	return &Signer{privateKey: decoded.PrivKey}, nil
}

// PublicKeyCompressed returns the 33-byte compressed public key advertised
// in ProtocolVersion.AuthKey.
func (s *Signer) PublicKeyCompressed() [33]byte {
	var out [33]byte
	copy(out[:], s.privateKey.PubKey().SerializeCompressed())
	return out
}

func digest(msgType poolproto.MsgType, unsignedBody []byte) [32]byte {
	buf := make([]byte, 0, 1+len(unsignedBody))
	buf = append(buf, byte(msgType))
	buf = append(buf, unsignedBody...)
	return sha256.Sum256(buf)
}

// SignPayoutInfo signs a PayoutInfoBody and returns the PayoutInfo message
// ready to send.
func (s *Signer) SignPayoutInfo(body poolproto.PayoutInfoBody) (poolproto.PayoutInfo, error) {
	unsigned := poolproto.EncodePayoutInfoBody(body)
	d := digest(poolproto.MsgPayoutInfo, unsigned)

	sig, err := s.privateKey.Sign(d[:])
	if err != nil {
		return poolproto.PayoutInfo{}, errors.New(errors.CodeInternal, "failed to sign payout info", err)
	}

	return poolproto.PayoutInfo{Signature: sig.Serialize(), Info: body}, nil
}

// SignAcceptUserAuth signs an AcceptUserAuthBody and returns the
// AcceptUserAuth message ready to send.
func (s *Signer) SignAcceptUserAuth(body poolproto.AcceptUserAuthBody) (poolproto.AcceptUserAuth, error) {
	unsigned := poolproto.EncodeAcceptUserAuthBody(body)
	d := digest(poolproto.MsgAcceptUserAuth, unsigned)

	sig, err := s.privateKey.Sign(d[:])
	if err != nil {
		return poolproto.AcceptUserAuth{}, errors.New(errors.CodeInternal, "failed to sign accept user auth", err)
	}

	return poolproto.AcceptUserAuth{Signature: sig.Serialize(), Info: body}, nil
}

// Verify checks a signature produced by SignPayoutInfo/SignAcceptUserAuth
// against the signer's own public key; used by tests to confirm round-trip
// correctness without a separate client-side verifier.
func (s *Signer) Verify(msgType poolproto.MsgType, unsignedBody, sig []byte) (bool, error) {
	signature, err := bec.ParseDERSignature(sig, bec.S256())
	if err != nil {
		return false, errors.New(errors.CodeBadPayoutInfo, "malformed signature", err)
	}
	d := digest(msgType, unsignedBody)
	return signature.Verify(d[:], s.privateKey.PubKey()), nil
}
