// Package types defines the wire/data model shared by every core
// subsystem: hashes, addresses, outpoints, transactions and blocks, and
// the canonical byte encoding used for hashing, signing and storage.
package types

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// HashSize is the width, in bytes, of every digest in this package.
const HashSize = 32

// Hash is a 32-byte cryptographic digest. BlockHash, MerkleRoot and Txid
// are aliases of Hash distinguished only by domain of use; the compiler
// does not tell them apart.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero sentinel (used as the
// genesis value for prev_side_hash and as the empty-archive best hash).
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// BlockHash identifies a sidechain header.
type BlockHash = Hash

// MerkleRoot binds a Body's coinbase outputs and transaction list.
type MerkleRoot = Hash

// Txid identifies a Transaction.
type Txid = Hash

// H is the collision-resistant hash used throughout this module:
// hash(x) = H(encode(x)), a 256-bit SHA-3 digest.
func H(b []byte) Hash {
	return Hash(sha3.Sum256(b))
}

// HashEncodable hashes the canonical encoding of v.
func HashEncodable(v Encodable) (Hash, error) {
	b, err := Encode(v)
	if err != nil {
		return Hash{}, err
	}
	return H(b), nil
}
