// Package archive implements the append-only header and body store
// keyed by height. It is backed by bbolt, with one bucket per concern.
package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/l2labs/bmmnode/internal/log"
	"github.com/l2labs/bmmnode/types"
	bolt "go.etcd.io/bbolt"
)

var logger = log.Subsystem("archive")

// NUM_DBS is the number of bbolt buckets this package owns.
const NUM_DBS = 3

var (
	bucketHeaders      = []byte("headers_by_height")
	bucketBodies       = []byte("bodies_by_height")
	bucketHashToHeight = []byte("hash_to_height")
)

// Archive is the append-only sequence of headers and bodies plus the
// hash->height secondary index. Height 0 means "no header"; height is
// 1-based once non-empty.
type Archive struct {
	db *bolt.DB
}

// Open creates (or reuses, if already present) the archive's buckets
// inside an already-open bbolt environment shared with state and
// mempool.
func Open(db *bolt.DB) (*Archive, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeaders, bucketBodies, bucketHashToHeight} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("archive: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func heightKey(height uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], height)
	return k[:]
}

// GetHeight returns the zero sentinel height (0) when the archive is
// empty, otherwise the height of the last-stored header.
func (a *Archive) GetHeight() (uint64, error) {
	var height uint64
	err := a.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketHeaders).Cursor().Last()
		if k == nil {
			return nil
		}
		height = binary.BigEndian.Uint64(k)
		return nil
	})
	return height, err
}

// GetBestHash returns the zero sentinel hash when the archive is empty,
// otherwise the hash of the last-stored header.
func (a *Archive) GetBestHash() (types.BlockHash, error) {
	var best types.BlockHash
	err := a.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketHeaders).Cursor().Last()
		if v == nil {
			return nil
		}
		header, err := decodeHeader(v)
		if err != nil {
			return err
		}
		h, err := header.Hash()
		if err != nil {
			return err
		}
		best = h
		return nil
	})
	return best, err
}

// GetHeader returns the header stored at height, if any.
func (a *Archive) GetHeader(height uint64) (types.Header, bool, error) {
	var header types.Header
	var ok bool
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(heightKey(height))
		if v == nil {
			return nil
		}
		h, err := decodeHeader(v)
		if err != nil {
			return err
		}
		header, ok = h, true
		return nil
	})
	return header, ok, err
}

// GetBody returns the body stored at height, if any.
func (a *Archive) GetBody(height uint64) (types.Body, bool, error) {
	var body types.Body
	var ok bool
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBodies).Get(heightKey(height))
		if v == nil {
			return nil
		}
		b, err := types.DecodeBody(types.NewDecoder(v))
		if err != nil {
			return err
		}
		body, ok = b, true
		return nil
	})
	return body, ok, err
}

// HeightForHash looks up the height at which hash was appended, via the
// secondary hash_to_height index.
func (a *Archive) HeightForHash(hash types.BlockHash) (uint64, bool, error) {
	var height uint64
	var ok bool
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHashToHeight).Get(hash[:])
		if v == nil {
			return nil
		}
		height, ok = binary.BigEndian.Uint64(v), true
		return nil
	})
	return height, ok, err
}

// AppendHeader fails ErrInvalidPrevSideHash unless
// header.PrevSideHash == current best hash. On success it stores header
// at height+1 and records the hash->height index entry.
//
// AppendHeader must be called inside the same bbolt write transaction as
// the State mutation it accompanies so Archive height and State
// contents stay in lock-step; callers drive this via WithTx.
func (a *Archive) AppendHeader(tx *bolt.Tx, header types.Header) error {
	height, bestHash, err := a.heightAndBestHashTx(tx)
	if err != nil {
		return err
	}
	if header.PrevSideHash != bestHash {
		return &Error{Code: ErrCodeInvalidPrevSideHash, PrevSideHash: header.PrevSideHash, Expected: bestHash}
	}
	encoded, err := types.Encode(header)
	if err != nil {
		return err
	}
	newHeight := height + 1
	if err := tx.Bucket(bucketHeaders).Put(heightKey(newHeight), encoded); err != nil {
		return err
	}
	hash, err := header.Hash()
	if err != nil {
		return err
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], newHeight)
	if err := tx.Bucket(bucketHashToHeight).Put(hash[:], heightBuf[:]); err != nil {
		return err
	}
	logger.Info("appended header", "height", newHeight, "hash", hash)
	return nil
}

// PutBody fails ErrInvalidMerkleRoot unless header.MerkleRoot matches
// body.ComputeMerkleRoot(), and ErrNoHeader if header is not yet part of
// the chain. On success it stores body at header's height.
func (a *Archive) PutBody(tx *bolt.Tx, header types.Header, body types.Body) error {
	root, err := body.ComputeMerkleRoot()
	if err != nil {
		return err
	}
	if root != header.MerkleRoot {
		return &Error{Code: ErrCodeInvalidMerkleRoot}
	}
	hash, err := header.Hash()
	if err != nil {
		return err
	}
	v := tx.Bucket(bucketHashToHeight).Get(hash[:])
	if v == nil {
		return &Error{Code: ErrCodeNoHeader, Hash: hash}
	}
	encodedBody, err := types.Encode(body)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBodies).Put(v, encodedBody)
}

// HeightTx returns the current height from inside an already-open
// transaction, for callers (Node.SubmitBlock) that need it alongside
// other effects in the same write transaction rather than opening a
// separate read transaction.
func (a *Archive) HeightTx(tx *bolt.Tx) (uint64, error) {
	height, _, err := a.heightAndBestHashTx(tx)
	return height, err
}

// WithTx runs fn inside a bbolt write transaction, so that
// validate/connect/append/put/prune for one block happen atomically.
func (a *Archive) WithTx(fn func(tx *bolt.Tx) error) error {
	return a.db.Update(fn)
}

// WithReadTx runs fn inside a bbolt read transaction.
func (a *Archive) WithReadTx(fn func(tx *bolt.Tx) error) error {
	return a.db.View(fn)
}

func (a *Archive) heightAndBestHashTx(tx *bolt.Tx) (uint64, types.BlockHash, error) {
	k, v := tx.Bucket(bucketHeaders).Cursor().Last()
	if k == nil {
		return 0, types.BlockHash{}, nil
	}
	header, err := decodeHeader(v)
	if err != nil {
		return 0, types.BlockHash{}, err
	}
	hash, err := header.Hash()
	if err != nil {
		return 0, types.BlockHash{}, err
	}
	return binary.BigEndian.Uint64(k), hash, nil
}

func decodeHeader(b []byte) (types.Header, error) {
	d := types.NewDecoder(b)
	h, err := types.DecodeHeader(d)
	if err != nil {
		return types.Header{}, err
	}
	if err := d.RequireExhausted(); err != nil {
		return types.Header{}, err
	}
	return h, nil
}
