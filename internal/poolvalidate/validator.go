// Package poolvalidate implements the pure validation pipeline a Connection
// Engine runs over every Share and WeakBlock: coinbase output policy,
// coinbase-postfix client-id resolution, merkle-root recomputation, block
// header hashing, and leading-zero/target conversions.
package poolvalidate

import (
	"bytes"
	"encoding/binary"

	"github.com/bsv-pool/poolsrv/errors"
	"github.com/bsv-pool/poolsrv/internal/bhash"
	"github.com/libsv/go-bt/v2"
)

const (
	// MinShareZ is the easiest target ever handed to a user.
	MinShareZ = 47
	// WeakRatioZ is how many additional leading zero bits a weak block
	// requires over the submitting user's current share target.
	WeakRatioZ = 8
	// MaxShareZ is the hardest target ever handed to a user.
	MaxShareZ = 71 - WeakRatioZ
)

// CountLeadingZeros returns the number of leading zero bits in a 32-byte
// big-endian digest.
func CountLeadingZeros(h [32]byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// LeadingZerosToTarget returns the maximum 32-byte value whose binary
// representation begins with exactly z zero bits; a hash h satisfies the
// resulting target iff CountLeadingZeros(h) >= z.
func LeadingZerosToTarget(z int) [32]byte {
	var out [32]byte
	if z < 0 {
		z = 0
	}
	if z > 256 {
		z = 256
	}
	for i := range out {
		out[i] = 0xff
	}
	fullBytes := z / 8
	for i := 0; i < fullBytes && i < 32; i++ {
		out[i] = 0x00
	}
	rem := z % 8
	if rem != 0 && fullBytes < 32 {
		out[fullBytes] = 0xff >> uint(rem)
	}
	return out
}

// Clamp bounds z to [lo, hi].
func Clamp(z, lo, hi int) int {
	if z < lo {
		return lo
	}
	if z > hi {
		return hi
	}
	return z
}

// CoinbaseResult is what a valid coinbase transaction resolves to.
type CoinbaseResult struct {
	OurPayout uint64
	ClientID  uint64
	TxID      bhash.Hash
}

// CheckCoinbase validates a coinbase transaction against pool policy
// (spec.md §4.2) and resolves the client id encoded in its input script.
// payoutScript is the pool's configured script-pubkey, compared
// byte-for-byte against output 0.
func CheckCoinbase(raw []byte, payoutScript []byte) (CoinbaseResult, error) {
	tx, err := bt.NewTxFromBytes(raw)
	if err != nil {
		return CoinbaseResult{}, errors.New(errors.CodeBadPayoutInfo, "malformed coinbase transaction", err)
	}

	if len(tx.Inputs) != 1 || len(tx.Outputs) < 1 {
		return CoinbaseResult{}, errors.New(errors.CodeBadPayoutInfo, "coinbase must have exactly one input and at least one output")
	}

	out0 := tx.Outputs[0]
	if !bytes.Equal(*out0.LockingScript, payoutScript) {
		return CoinbaseResult{}, errors.New(errors.CodeBadPayoutInfo, "coinbase output 0 does not pay the configured script")
	}

	for i := 1; i < len(tx.Outputs); i++ {
		if tx.Outputs[i].Satoshis != 0 {
			return CoinbaseResult{}, errors.New(errors.CodeBadPayoutInfo, "coinbase output %d has nonzero value", i)
		}
	}

	sigScript := *tx.Inputs[0].UnlockingScript
	if len(sigScript) < 8 {
		return CoinbaseResult{}, errors.New(errors.CodeBadPayoutInfo, "coinbase signature script too short for client id")
	}
	tail := sigScript[len(sigScript)-8:]
	clientID := binary.LittleEndian.Uint64(tail)

	txid := tx.TxIDChainHash()

	return CoinbaseResult{
		OurPayout: out0.Satoshis,
		ClientID:  clientID,
		TxID:      bhash.Hash(*txid),
	}, nil
}

// MerkleRoot recomputes the merkle root given the coinbase's txid as leaf 0
// and an ordered list of sibling hashes (spec.md §4.2).
func MerkleRoot(coinbaseTxID bhash.Hash, siblings [][32]byte) bhash.Hash {
	acc := [32]byte(coinbaseTxID)
	for _, r := range siblings {
		buf := make([]byte, 0, 64)
		buf = append(buf, acc[:]...)
		buf = append(buf, r[:]...)
		acc = [32]byte(bhash.Double(buf))
	}
	return bhash.Hash(acc)
}

// Header is the 80-byte block header fields used for hashing.
type Header struct {
	Version    uint32
	PrevBlock  [32]byte
	MerkleRoot bhash.Hash
	Time       uint32
	NBits      uint32
	Nonce      uint32
}

// HeaderHash serializes the 80-byte header and returns its double-SHA-256
// hash (spec.md §4.2). Field layout follows the standard Bitcoin-style
// block header: version, prev block hash, merkle root, time, nbits, nonce,
// each stored little-endian as on the wire.
func HeaderHash(h Header) bhash.Hash {
	buf := make([]byte, 0, 80)
	buf = appendUint32LE(buf, h.Version)
	buf = append(buf, h.PrevBlock[:]...)
	mr := [32]byte(h.MerkleRoot)
	buf = append(buf, mr[:]...)
	buf = appendUint32LE(buf, h.Time)
	buf = appendUint32LE(buf, h.NBits)
	buf = appendUint32LE(buf, h.Nonce)
	return bhash.Double(buf)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// WorkLevel classifies a header hash's leading-zero count against a user's
// current share target.
type WorkLevel int

const (
	// WorkInsufficient means z < curZ: BadHash.
	WorkInsufficient WorkLevel = iota
	// WorkShare means curZ <= z < curZ+WeakRatioZ.
	WorkShare
	// WorkWeakBlock means z >= curZ+WeakRatioZ.
	WorkWeakBlock
)

// ClassifyWork evaluates a header hash's leading-zero count against curZ
// (spec.md §4.2's difficulty check).
func ClassifyWork(hash bhash.Hash, curZ int) WorkLevel {
	z := CountLeadingZeros([32]byte(hash))
	switch {
	case z >= curZ+WeakRatioZ:
		return WorkWeakBlock
	case z >= curZ:
		return WorkShare
	default:
		return WorkInsufficient
	}
}
