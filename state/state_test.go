package state

import (
	"path/filepath"
	"testing"

	"github.com/l2labs/bmmnode/auth"
	"github.com/l2labs/bmmnode/types"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	st, err := Open(db)
	require.NoError(t, err)
	return st
}

func fundUTXO(t *testing.T, st *State, outpoint types.OutPoint, out types.Output) {
	t.Helper()
	require.NoError(t, st.WithTx(func(tx *bolt.Tx) error {
		return st.putUTXO(tx, outpoint, out)
	}))
}

func TestValidateTransactionNoUtxo(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	tx := types.Transaction{Inputs: []types.OutPoint{types.RegularOutPoint(types.Hash{1}, 0)}}
	at, err := auth.SignAll(tx, []auth.KeyPair{kp})
	require.NoError(t, err)

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, err := st.ValidateTransaction(btx, at)
		return err
	})
	require.Error(t, err)
	var stateErr *Error
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, ErrCodeNoUtxo, stateErr.Code)
}

func TestValidateTransactionWrongPubKey(t *testing.T) {
	st := openTestState(t)
	owner, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	impostor, err := auth.GenerateKeyPair()
	require.NoError(t, err)

	outpoint := types.RegularOutPoint(types.Hash{1}, 0)
	fundUTXO(t, st, outpoint, types.Output{Address: auth.Address(owner.Public), Content: types.ValueContent(10)})

	tx := types.Transaction{Inputs: []types.OutPoint{outpoint}}
	at, err := auth.SignAll(tx, []auth.KeyPair{impostor})
	require.NoError(t, err)

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, err := st.ValidateTransaction(btx, at)
		return err
	})
	require.Error(t, err)
	var stateErr *Error
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, ErrCodeWrongPubKeyForAddr, stateErr.Code)
}

func TestValidateTransactionNotEnoughValueIn(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{1}, 0)
	fundUTXO(t, st, outpoint, types.Output{Address: auth.Address(kp.Public), Content: types.ValueContent(5)})

	tx := types.Transaction{
		Inputs:  []types.OutPoint{outpoint},
		Outputs: []types.Output{{Address: auth.Address(kp.Public), Content: types.ValueContent(10)}},
	}
	at, err := auth.SignAll(tx, []auth.KeyPair{kp})
	require.NoError(t, err)

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, err := st.ValidateTransaction(btx, at)
		return err
	})
	require.Error(t, err)
	var stateErr *Error
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, ErrCodeNotEnoughValueIn, stateErr.Code)
}

func TestValidateTransactionReturnsFee(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{1}, 0)
	fundUTXO(t, st, outpoint, types.Output{Address: auth.Address(kp.Public), Content: types.ValueContent(10)})

	tx := types.Transaction{
		Inputs:  []types.OutPoint{outpoint},
		Outputs: []types.Output{{Address: auth.Address(kp.Public), Content: types.ValueContent(7)}},
	}
	at, err := auth.SignAll(tx, []auth.KeyPair{kp})
	require.NoError(t, err)

	var fee uint64
	err = st.WithReadTx(func(btx *bolt.Tx) error {
		var err error
		fee, err = st.ValidateTransaction(btx, at)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), fee)
}

func TestValidateAndConnectBody(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{1}, 0)
	fundUTXO(t, st, outpoint, types.Output{Address: auth.Address(kp.Public), Content: types.ValueContent(10)})

	tx := types.Transaction{
		Inputs:  []types.OutPoint{outpoint},
		Outputs: []types.Output{{Address: auth.Address(kp.Public), Content: types.ValueContent(7)}},
	}
	auth1, err := auth.Sign(kp, tx)
	require.NoError(t, err)
	body := types.Body{
		Coinbase:       []types.Output{{Address: auth.Address(kp.Public), Content: types.ValueContent(3)}},
		Transactions:   []types.Transaction{tx},
		Authorizations: []types.Authorization{auth1},
	}

	err = st.WithTx(func(btx *bolt.Tx) error {
		totalFees, err := st.ValidateBody(btx, body)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(3), totalFees)
		return st.ConnectBody(btx, body)
	})
	require.NoError(t, err)

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, ok, err := st.GetUTXO(btx, outpoint)
		require.NoError(t, err)
		require.False(t, ok, "spent input should be gone")

		txid, err := tx.Txid()
		require.NoError(t, err)
		out, ok, err := st.GetUTXO(btx, types.RegularOutPoint(txid, 0))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(7), out.GetValue())
		return nil
	})
	require.NoError(t, err)
}

func TestValidateBodyRejectsDoubleSpendWithinBody(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{1}, 0)
	fundUTXO(t, st, outpoint, types.Output{Address: auth.Address(kp.Public), Content: types.ValueContent(10)})

	tx1 := types.Transaction{Inputs: []types.OutPoint{outpoint}}
	tx2 := types.Transaction{Inputs: []types.OutPoint{outpoint}}
	a1, err := auth.Sign(kp, tx1)
	require.NoError(t, err)
	a2, err := auth.Sign(kp, tx2)
	require.NoError(t, err)
	body := types.Body{Transactions: []types.Transaction{tx1, tx2}, Authorizations: []types.Authorization{a1, a2}}

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, err := st.ValidateBody(btx, body)
		return err
	})
	require.Error(t, err)
	var stateErr *Error
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, ErrCodeUtxoDoubleSpent, stateErr.Code)
}

func TestValidateBodyNotEnoughFees(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{1}, 0)
	fundUTXO(t, st, outpoint, types.Output{Address: auth.Address(kp.Public), Content: types.ValueContent(10)})

	tx := types.Transaction{
		Inputs:  []types.OutPoint{outpoint},
		Outputs: []types.Output{{Address: auth.Address(kp.Public), Content: types.ValueContent(10)}},
	}
	a1, err := auth.Sign(kp, tx)
	require.NoError(t, err)
	body := types.Body{
		Coinbase:       []types.Output{{Address: auth.Address(kp.Public), Content: types.ValueContent(1)}},
		Transactions:   []types.Transaction{tx},
		Authorizations: []types.Authorization{a1},
	}

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, err := st.ValidateBody(btx, body)
		return err
	})
	require.Error(t, err)
	var stateErr *Error
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, ErrCodeNotEnoughFees, stateErr.Code)
}

func TestConnectTwoWayPegDataCreditsDeposits(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	depositOutpoint := types.DepositOutPoint(types.ParentOutPoint{Txid: types.Hash{9}, Vout: 0})
	depositOutput := types.Output{Address: auth.Address(kp.Public), Content: types.ValueContent(42)}

	data := types.TwoWayPegData{
		Deposits:         map[types.OutPoint]types.Output{depositOutpoint: depositOutput},
		DepositBlockHash: types.Hash{0x55},
	}
	err = st.WithTx(func(btx *bolt.Tx) error { return st.ConnectTwoWayPegData(btx, data) })
	require.NoError(t, err)

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		out, ok, err := st.GetUTXO(btx, depositOutpoint)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(42), out.GetValue())

		lastBlock, err := st.GetLastDepositBlock(btx)
		require.NoError(t, err)
		require.Equal(t, types.Hash{0x55}, lastBlock)
		return nil
	})
	require.NoError(t, err)
}

func TestWithdrawalBundleConfirmedFinalizesRemoval(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{7}, 0)
	out := types.Output{Address: auth.Address(kp.Public), Content: types.WithdrawalContent(5, 1, "main-addr")}
	fundUTXO(t, st, outpoint, out)

	bundle := types.WithdrawalBundle{
		SpentUTXOs:  map[types.OutPoint]types.Output{outpoint: out},
		Transaction: []byte("parent-chain-tx-bytes"),
	}
	require.NoError(t, st.WithTx(func(btx *bolt.Tx) error { return st.SetPendingWithdrawalBundle(btx, bundle) }))

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, ok, err := st.GetUTXO(btx, outpoint)
		require.NoError(t, err)
		require.False(t, ok, "reserved utxo should not be spendable while bundle is pending")
		return nil
	})
	require.NoError(t, err)

	bundleTxid := types.H(bundle.Transaction)
	data := types.TwoWayPegData{BundleStatuses: map[types.Hash]types.WithdrawalBundleStatus{
		bundleTxid: types.WithdrawalBundleConfirmed,
	}}
	require.NoError(t, st.WithTx(func(btx *bolt.Tx) error { return st.ConnectTwoWayPegData(btx, data) }))

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, ok, err := st.GetPendingWithdrawalBundle(btx)
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = st.GetUTXO(btx, outpoint)
		require.NoError(t, err)
		require.False(t, ok, "confirmed withdrawal spends the utxo permanently")
		return nil
	})
	require.NoError(t, err)
}

func TestWithdrawalBundleFailedReturnsUtxos(t *testing.T) {
	st := openTestState(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	outpoint := types.RegularOutPoint(types.Hash{8}, 0)
	out := types.Output{Address: auth.Address(kp.Public), Content: types.WithdrawalContent(5, 1, "main-addr")}
	fundUTXO(t, st, outpoint, out)

	bundle := types.WithdrawalBundle{
		SpentUTXOs:  map[types.OutPoint]types.Output{outpoint: out},
		Transaction: []byte("another-parent-chain-tx"),
	}
	require.NoError(t, st.WithTx(func(btx *bolt.Tx) error { return st.SetPendingWithdrawalBundle(btx, bundle) }))

	bundleTxid := types.H(bundle.Transaction)
	data := types.TwoWayPegData{BundleStatuses: map[types.Hash]types.WithdrawalBundleStatus{
		bundleTxid: types.WithdrawalBundleFailed,
	}}
	require.NoError(t, st.WithTx(func(btx *bolt.Tx) error { return st.ConnectTwoWayPegData(btx, data) }))

	err = st.WithReadTx(func(btx *bolt.Tx) error {
		_, ok, err := st.GetPendingWithdrawalBundle(btx)
		require.NoError(t, err)
		require.False(t, ok)
		restored, ok, err := st.GetUTXO(btx, outpoint)
		require.NoError(t, err)
		require.True(t, ok, "failed withdrawal returns utxo to spendable status")
		require.Equal(t, uint64(5), restored.GetValue())
		return nil
	})
	require.NoError(t, err)
}

func TestConnectTwoWayPegDataIgnoresReplayedStatusOnceCleared(t *testing.T) {
	st := openTestState(t)
	// No pending bundle at all: a replayed status report must be a no-op,
	// not an error.
	data := types.TwoWayPegData{BundleStatuses: map[types.Hash]types.WithdrawalBundleStatus{
		types.H([]byte("stale-bundle")): types.WithdrawalBundleConfirmed,
	}}
	err := st.WithTx(func(btx *bolt.Tx) error { return st.ConnectTwoWayPegData(btx, data) })
	require.NoError(t, err)
}
