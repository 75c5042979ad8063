package mempool

import (
	"path/filepath"
	"testing"

	"github.com/l2labs/bmmnode/auth"
	"github.com/l2labs/bmmnode/types"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestMemPool(t *testing.T) *MemPool {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mempool.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	m, err := Open(db)
	require.NoError(t, err)
	return m
}

func mkAuthorizedTx(t *testing.T, inputs ...types.OutPoint) types.AuthorizedTransaction {
	t.Helper()
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	tx := types.Transaction{Inputs: inputs}
	kps := make([]auth.KeyPair, len(inputs))
	for i := range kps {
		kps[i] = kp
	}
	at, err := auth.SignAll(tx, kps)
	require.NoError(t, err)
	return at
}

func TestPutAndTakeAll(t *testing.T) {
	m := openTestMemPool(t)
	at := mkAuthorizedTx(t, types.RegularOutPoint(types.Hash{1}, 0))

	require.NoError(t, m.WithTx(func(tx *bolt.Tx) error { return m.Put(tx, at) }))

	var all []types.AuthorizedTransaction
	require.NoError(t, m.WithReadTx(func(tx *bolt.Tx) error {
		var err error
		all, err = m.TakeAll(tx)
		return err
	}))
	require.Len(t, all, 1)
	require.Equal(t, at, all[0])
}

func TestPutRejectsDoubleSpend(t *testing.T) {
	m := openTestMemPool(t)
	shared := types.RegularOutPoint(types.Hash{2}, 0)
	at1 := mkAuthorizedTx(t, shared)
	at2 := mkAuthorizedTx(t, shared)

	require.NoError(t, m.WithTx(func(tx *bolt.Tx) error { return m.Put(tx, at1) }))
	err := m.WithTx(func(tx *bolt.Tx) error { return m.Put(tx, at2) })
	require.Error(t, err)
	var poolErr *Error
	require.ErrorAs(t, err, &poolErr)
	require.Equal(t, ErrCodeUtxoDoubleSpent, poolErr.Code)
}

func TestDeleteReleasesReservation(t *testing.T) {
	m := openTestMemPool(t)
	shared := types.RegularOutPoint(types.Hash{3}, 0)
	at1 := mkAuthorizedTx(t, shared)
	require.NoError(t, m.WithTx(func(tx *bolt.Tx) error { return m.Put(tx, at1) }))

	txid, err := at1.Transaction.Txid()
	require.NoError(t, err)
	require.NoError(t, m.WithTx(func(tx *bolt.Tx) error { return m.Delete(tx, txid) }))

	at2 := mkAuthorizedTx(t, shared)
	require.NoError(t, m.WithTx(func(tx *bolt.Tx) error { return m.Put(tx, at2) }))

	var all []types.AuthorizedTransaction
	require.NoError(t, m.WithReadTx(func(tx *bolt.Tx) error {
		var err error
		all, err = m.TakeAll(tx)
		return err
	}))
	require.Len(t, all, 1)
}

func TestTakeRespectsLimit(t *testing.T) {
	m := openTestMemPool(t)
	for i := 0; i < 5; i++ {
		at := mkAuthorizedTx(t, types.RegularOutPoint(types.Hash{byte(i)}, 0))
		require.NoError(t, m.WithTx(func(tx *bolt.Tx) error { return m.Put(tx, at) }))
	}

	var taken []types.AuthorizedTransaction
	require.NoError(t, m.WithReadTx(func(tx *bolt.Tx) error {
		var err error
		taken, err = m.Take(tx, 3)
		return err
	}))
	require.Len(t, taken, 3)
}
