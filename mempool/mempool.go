// Package mempool implements the pending-transaction pool: transactions
// admitted but not yet confirmed in a block, plus the set of inputs
// they reserve so two pending entries cannot spend the same UTXO. It
// is not itself an authority on validity; callers re-validate against
// State at block-packing time.
package mempool

import (
	"fmt"

	"github.com/l2labs/bmmnode/internal/log"
	"github.com/l2labs/bmmnode/types"
	bolt "go.etcd.io/bbolt"
)

var logger = log.Subsystem("mempool")

// NUM_DBS is the number of bbolt buckets this package owns: pooled
// transactions and the inputs they reserve.
const NUM_DBS = 2

var (
	bucketTransactions = []byte("mempool_transactions")
	bucketSpentUTXOs   = []byte("mempool_spent_utxos")
)

// MemPool is the pending-transaction pool.
type MemPool struct {
	db *bolt.DB
}

// Open creates (or reuses) the mempool's buckets inside an already-open
// bbolt environment shared with archive and state.
func Open(db *bolt.DB) (*MemPool, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTransactions, bucketSpentUTXOs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("mempool: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MemPool{db: db}, nil
}

// WithTx runs fn inside a bbolt write transaction.
func (m *MemPool) WithTx(fn func(tx *bolt.Tx) error) error { return m.db.Update(fn) }

// WithReadTx runs fn inside a bbolt read transaction.
func (m *MemPool) WithReadTx(fn func(tx *bolt.Tx) error) error { return m.db.View(fn) }

// Put admits transaction into the pool. For each input already reserved
// by another pending entry it fails UtxoDoubleSpent; otherwise every
// input is reserved and the transaction is stored by txid.
func (m *MemPool) Put(tx *bolt.Tx, transaction types.AuthorizedTransaction) error {
	spentBucket := tx.Bucket(bucketSpentUTXOs)
	for _, in := range transaction.Transaction.Inputs {
		key, err := types.Encode(in)
		if err != nil {
			return err
		}
		if spentBucket.Get(key) != nil {
			return &Error{Code: ErrCodeUtxoDoubleSpent, OutPoint: in}
		}
	}
	txid, err := transaction.Transaction.Txid()
	if err != nil {
		return err
	}
	for _, in := range transaction.Transaction.Inputs {
		key, err := types.Encode(in)
		if err != nil {
			return err
		}
		if err := spentBucket.Put(key, txid[:]); err != nil {
			return err
		}
	}
	encoded, err := types.Encode(transaction)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketTransactions).Put(txid[:], encoded); err != nil {
		return err
	}
	logger.Debug("admitted transaction", "txid", txid)
	return nil
}

// Delete removes a pooled transaction and releases the inputs it
// reserved.
func (m *MemPool) Delete(tx *bolt.Tx, txid types.Txid) error {
	v := tx.Bucket(bucketTransactions).Get(txid[:])
	if v == nil {
		return nil
	}
	transaction, err := types.DecodeAuthorizedTransaction(types.NewDecoder(v))
	if err != nil {
		return err
	}
	spentBucket := tx.Bucket(bucketSpentUTXOs)
	for _, in := range transaction.Transaction.Inputs {
		key, err := types.Encode(in)
		if err != nil {
			return err
		}
		if err := spentBucket.Delete(key); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketTransactions).Delete(txid[:])
}

// Take returns up to number pooled entries, in the pool's stored key
// order (by txid, deterministic across restarts, not insertion order).
func (m *MemPool) Take(tx *bolt.Tx, number int) ([]types.AuthorizedTransaction, error) {
	var out []types.AuthorizedTransaction
	c := tx.Bucket(bucketTransactions).Cursor()
	for k, v := c.First(); k != nil && len(out) < number; k, v = c.Next() {
		transaction, err := types.DecodeAuthorizedTransaction(types.NewDecoder(v))
		if err != nil {
			return nil, err
		}
		out = append(out, transaction)
	}
	return out, nil
}

// TakeAll returns every pooled entry, in stored order.
func (m *MemPool) TakeAll(tx *bolt.Tx) ([]types.AuthorizedTransaction, error) {
	var out []types.AuthorizedTransaction
	c := tx.Bucket(bucketTransactions).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		transaction, err := types.DecodeAuthorizedTransaction(types.NewDecoder(v))
		if err != nil {
			return nil, err
		}
		out = append(out, transaction)
	}
	return out, nil
}
