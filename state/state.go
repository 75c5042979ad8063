// Package state implements the UTXO ledger: transaction/body
// validation and the effects of applying a connected body and two-way
// peg data. It is backed by bbolt, with one bucket per concern.
package state

import (
	"crypto/ed25519"
	"fmt"

	"github.com/l2labs/bmmnode/auth"
	"github.com/l2labs/bmmnode/internal/log"
	"github.com/l2labs/bmmnode/types"
	bolt "go.etcd.io/bbolt"
)

var logger = log.Subsystem("state")

// NUM_DBS is the number of bbolt buckets this package owns.
const NUM_DBS = 2

var (
	bucketUTXOs = []byte("utxos")
	bucketMeta  = []byte("state_meta")
)

var (
	metaKeyLastDepositBlock = []byte("last_deposit_block")
	metaKeyPendingBundle    = []byte("pending_withdrawal_bundle")
)

// State is the current UTXO ledger plus the two pieces of two-way-peg
// bookkeeping the spec's data model names: the last parent block whose
// deposits are already reflected, and any withdrawal bundle awaiting a
// confirm/fail verdict.
type State struct {
	db *bolt.DB
}

// Open creates (or reuses) the state's buckets inside an already-open
// bbolt environment shared with archive and mempool.
func Open(db *bolt.DB) (*State, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUTXOs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("state: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &State{db: db}, nil
}

// WithTx runs fn inside a bbolt write transaction.
func (s *State) WithTx(fn func(tx *bolt.Tx) error) error { return s.db.Update(fn) }

// WithReadTx runs fn inside a bbolt read transaction.
func (s *State) WithReadTx(fn func(tx *bolt.Tx) error) error { return s.db.View(fn) }

func (s *State) getUTXO(tx *bolt.Tx, o types.OutPoint) (types.Output, bool, error) {
	key, err := types.Encode(o)
	if err != nil {
		return types.Output{}, false, err
	}
	v := tx.Bucket(bucketUTXOs).Get(key)
	if v == nil {
		return types.Output{}, false, nil
	}
	d := types.NewDecoder(v)
	out, err := types.DecodeOutput(d)
	if err != nil {
		return types.Output{}, false, err
	}
	if err := d.RequireExhausted(); err != nil {
		return types.Output{}, false, err
	}
	return out, true, nil
}

func (s *State) putUTXO(tx *bolt.Tx, o types.OutPoint, out types.Output) error {
	key, err := types.Encode(o)
	if err != nil {
		return err
	}
	val, err := types.Encode(out)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketUTXOs).Put(key, val)
}

func (s *State) deleteUTXO(tx *bolt.Tx, o types.OutPoint) error {
	key, err := types.Encode(o)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketUTXOs).Delete(key)
}

// GetUTXO is the public point lookup for callers outside this package.
func (s *State) GetUTXO(tx *bolt.Tx, o types.OutPoint) (types.Output, bool, error) {
	return s.getUTXO(tx, o)
}

// ValidateTransaction resolves inputs, checks address/signature, and
// returns the fee.
func (s *State) ValidateTransaction(tx *bolt.Tx, at types.AuthorizedTransaction) (uint64, error) {
	if len(at.Authorizations) != len(at.Transaction.Inputs) {
		return 0, &Error{Code: ErrCodeAuthorization}
	}
	spentUTXOs := make([]types.Output, len(at.Transaction.Inputs))
	for i, in := range at.Transaction.Inputs {
		out, ok, err := s.getUTXO(tx, in)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, &Error{Code: ErrCodeNoUtxo, OutPoint: in}
		}
		if auth.Address(ed25519.PublicKey(at.Authorizations[i].PublicKey)) != out.Address {
			return 0, &Error{Code: ErrCodeWrongPubKeyForAddr, OutPoint: in}
		}
		spentUTXOs[i] = out
	}
	if err := auth.VerifyTransaction(at); err != nil {
		return 0, &Error{Code: ErrCodeAuthorization}
	}
	filled := types.FilledTransaction{Transaction: at.Transaction, SpentUTXOs: spentUTXOs}
	fee, ok, err := filled.GetFee()
	if err != nil {
		return 0, &Error{Code: ErrCodeValueOverflow, Err: err}
	}
	if !ok {
		return 0, &Error{Code: ErrCodeNotEnoughValueIn}
	}
	return fee, nil
}

// ValidateBody pre-collects inputs to reject intra-body double spends,
// verifies signatures and per-input address alignment, and checks
// coinbase value against the aggregate fee.
func (s *State) ValidateBody(tx *bolt.Tx, body types.Body) (uint64, error) {
	coinbaseValue, err := body.GetCoinbaseValue()
	if err != nil {
		return 0, &Error{Code: ErrCodeValueOverflow, Err: err}
	}

	inputs := body.GetInputs()
	seen := make(map[types.OutPoint]struct{}, len(inputs))
	for _, in := range inputs {
		if _, dup := seen[in]; dup {
			return 0, &Error{Code: ErrCodeUtxoDoubleSpent, OutPoint: in}
		}
		seen[in] = struct{}{}
	}

	if err := auth.VerifyBody(body); err != nil {
		return 0, &Error{Code: ErrCodeAuthorization}
	}

	var totalFees uint64
	authIdx := 0
	for _, txn := range body.Transactions {
		spentUTXOs := make([]types.Output, 0, len(txn.Inputs))
		for _, in := range txn.Inputs {
			out, ok, err := s.getUTXO(tx, in)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, &Error{Code: ErrCodeNoUtxo, OutPoint: in}
			}
			if authIdx >= len(body.Authorizations) {
				return 0, &Error{Code: ErrCodeAuthorization}
			}
			pub := body.Authorizations[authIdx].PublicKey
			if auth.Address(ed25519.PublicKey(pub)) != out.Address {
				return 0, &Error{Code: ErrCodeWrongPubKeyForAddr, OutPoint: in}
			}
			spentUTXOs = append(spentUTXOs, out)
			authIdx++
		}
		filled := types.FilledTransaction{Transaction: txn, SpentUTXOs: spentUTXOs}
		fee, ok, err := filled.GetFee()
		if err != nil {
			return 0, &Error{Code: ErrCodeValueOverflow, Err: err}
		}
		if !ok {
			return 0, &Error{Code: ErrCodeNotEnoughValueIn}
		}
		next := totalFees + fee
		if next < totalFees {
			return 0, &Error{Code: ErrCodeValueOverflow}
		}
		totalFees = next
	}
	if coinbaseValue > totalFees {
		return 0, &Error{Code: ErrCodeNotEnoughFees}
	}
	return totalFees, nil
}

// ConnectBody applies a body's effects to the UTXO set: it must only
// be called after ValidateBody succeeded inside the same write
// transaction.
func (s *State) ConnectBody(tx *bolt.Tx, body types.Body) error {
	root, err := body.ComputeMerkleRoot()
	if err != nil {
		return err
	}
	for vout, out := range body.Coinbase {
		if err := s.putUTXO(tx, types.CoinbaseOutPoint(root, uint32(vout)), out); err != nil {
			return err
		}
	}
	for _, txn := range body.Transactions {
		for _, in := range txn.Inputs {
			if _, ok, err := s.getUTXO(tx, in); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("state: connect_body: input %s missing from utxo set (validate_body must run first)", in)
			}
			if err := s.deleteUTXO(tx, in); err != nil {
				return err
			}
		}
		txid, err := txn.Txid()
		if err != nil {
			return err
		}
		for vout, out := range txn.Outputs {
			if err := s.putUTXO(tx, types.RegularOutPoint(txid, uint32(vout)), out); err != nil {
				return err
			}
		}
	}
	logger.Info("connected body", "merkle_root", root, "transactions", len(body.Transactions))
	return nil
}

// GetLastDepositBlock returns the newest parent-chain block whose
// deposits are already reflected in the UTXO set, or the zero hash if
// none has been observed yet.
func (s *State) GetLastDepositBlock(tx *bolt.Tx) (types.Hash, error) {
	v := tx.Bucket(bucketMeta).Get(metaKeyLastDepositBlock)
	if v == nil {
		return types.Hash{}, nil
	}
	var h types.Hash
	if len(v) != types.HashSize {
		return types.Hash{}, fmt.Errorf("state: corrupt last_deposit_block entry")
	}
	copy(h[:], v)
	return h, nil
}

// ConnectTwoWayPegData credits deposits unconditionally, advances the
// observed parent tip, and applies outstanding withdrawal bundle
// status.
//
// A pending bundle's reserved UTXOs are removed from the spendable set
// when the bundle is set (see SetPendingWithdrawalBundle) so ordinary
// transactions cannot double-spend them while the bundle is in flight.
// On Confirmed the reservation is finalized by simply clearing the
// pending-bundle slot. On Failed the reserved UTXOs are reinserted as
// spendable before clearing the slot. Replayed status reports for a
// bundle that is no longer pending are no-ops.
func (s *State) ConnectTwoWayPegData(tx *bolt.Tx, data types.TwoWayPegData) error {
	if !data.DepositBlockHash.IsZero() {
		if err := tx.Bucket(bucketMeta).Put(metaKeyLastDepositBlock, data.DepositBlockHash.Bytes()); err != nil {
			return err
		}
	}
	for outpoint, output := range data.Deposits {
		if err := s.putUTXO(tx, outpoint, output); err != nil {
			return err
		}
	}

	pending, ok, err := s.getPendingWithdrawalBundleTx(tx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	// pendingTxid is a local hash of the raw parent-chain transaction
	// bytes; it only matches a BundleStatuses key if the reporting
	// adapter keys its statuses by this same digest rather than by
	// the parent chain's own reported transaction hash.
	pendingTxid := types.H(pending.Transaction)
	status, ok := data.BundleStatuses[pendingTxid]
	if !ok {
		return nil
	}
	switch status {
	case types.WithdrawalBundleConfirmed:
		logger.Info("withdrawal bundle confirmed", "txid", pendingTxid)
		return s.clearPendingWithdrawalBundle(tx)
	case types.WithdrawalBundleFailed:
		logger.Info("withdrawal bundle failed, returning reserved utxos", "txid", pendingTxid)
		for outpoint, output := range pending.SpentUTXOs {
			if err := s.putUTXO(tx, outpoint, output); err != nil {
				return err
			}
		}
		return s.clearPendingWithdrawalBundle(tx)
	default:
		return nil
	}
}

// SetPendingWithdrawalBundle records bundle as awaiting broadcast and
// removes its reserved UTXOs from the spendable set. Fails if a bundle
// is already pending: only one withdrawal bundle may be in flight at a
// time.
func (s *State) SetPendingWithdrawalBundle(tx *bolt.Tx, bundle types.WithdrawalBundle) error {
	if _, ok, err := s.getPendingWithdrawalBundleTx(tx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("state: a withdrawal bundle is already pending")
	}
	for outpoint := range bundle.SpentUTXOs {
		if err := s.deleteUTXO(tx, outpoint); err != nil {
			return err
		}
	}
	encoded, err := types.Encode(bundle)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put(metaKeyPendingBundle, encoded)
}

// GetPendingWithdrawalBundle returns the bundle awaiting broadcast, if
// any.
func (s *State) GetPendingWithdrawalBundle(tx *bolt.Tx) (types.WithdrawalBundle, bool, error) {
	return s.getPendingWithdrawalBundleTx(tx)
}

func (s *State) getPendingWithdrawalBundleTx(tx *bolt.Tx) (types.WithdrawalBundle, bool, error) {
	v := tx.Bucket(bucketMeta).Get(metaKeyPendingBundle)
	if v == nil {
		return types.WithdrawalBundle{}, false, nil
	}
	d := types.NewDecoder(v)
	bundle, err := types.DecodeWithdrawalBundle(d)
	if err != nil {
		return types.WithdrawalBundle{}, false, err
	}
	return bundle, true, nil
}

func (s *State) clearPendingWithdrawalBundle(tx *bolt.Tx) error {
	return tx.Bucket(bucketMeta).Delete(metaKeyPendingBundle)
}

// GetUTXOsByAddresses returns every UTXO addressed to one of addresses.
func (s *State) GetUTXOsByAddresses(tx *bolt.Tx, addresses map[types.Address]struct{}) (map[types.OutPoint]types.Output, error) {
	result := make(map[types.OutPoint]types.Output)
	c := tx.Bucket(bucketUTXOs).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		out, err := types.DecodeOutput(types.NewDecoder(v))
		if err != nil {
			return nil, err
		}
		if _, wanted := addresses[out.Address]; !wanted {
			continue
		}
		op, err := types.DecodeOutPoint(types.NewDecoder(k))
		if err != nil {
			return nil, err
		}
		result[op] = out
	}
	return result, nil
}

// GetSpentUTXOs returns the subset of outpoints that are not present in
// the current UTXO set.
func (s *State) GetSpentUTXOs(tx *bolt.Tx, outpoints []types.OutPoint) ([]types.OutPoint, error) {
	var spent []types.OutPoint
	for _, op := range outpoints {
		_, ok, err := s.getUTXO(tx, op)
		if err != nil {
			return nil, err
		}
		if !ok {
			spent = append(spent, op)
		}
	}
	return spent, nil
}
