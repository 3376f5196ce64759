// Package bhash defines the 32-byte hash representation the validator uses
// for transaction ids, merkle nodes, and block header hashes: all three are
// the same double-SHA-256 digest shape, so they share one type. The wire
// message types carry plain [32]byte fields, and the signer's single
// SHA-256 digest does not use this package.
package bhash

import (
	"crypto/sha256"

	"github.com/libsv/go-bt/v2/chainhash"
)

// Hash is a 32-byte double-SHA-256 digest. Internally it holds the digest
// bytes in the order they are computed (not the reversed, display order
// chainhash.Hash.String() produces).
type Hash = chainhash.Hash

// Double returns SHA-256(SHA-256(b)).
func Double(b []byte) Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

// FromBytes copies a 32-byte slice into a Hash, as used when decoding
// fixed-width hash fields off the wire.
func FromBytes(b []byte) (Hash, error) {
	h, err := chainhash.NewHash(b)
	if err != nil {
		return Hash{}, err
	}
	return *h, nil
}
