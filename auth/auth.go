// Package auth implements the per-input signature scheme: address
// derivation from a public key, signing over a transaction's canonical
// bytes, and verifying a transaction or body's authorizations against
// that encoding.
//
// Authorizations are ed25519 signatures over types.Encode(transaction).
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/l2labs/bmmnode/types"
)

// ErrBadSignature is returned when a signature fails to verify under
// its paired public key.
var ErrBadSignature = errors.New("auth: bad signature")

// KeyPair is a signing identity: an ed25519 key pair plus its derived
// address.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: generate key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Address derives a sidechain Address deterministically from an
// authorization public key: the hash of the raw public-key bytes.
func Address(publicKey ed25519.PublicKey) types.Address {
	return types.Address(types.H(publicKey))
}

// Sign signs the canonical bytes of transaction under keypair's private
// key, producing an Authorization for one input.
func Sign(keypair KeyPair, transaction types.Transaction) (types.Authorization, error) {
	msg, err := types.Encode(transaction)
	if err != nil {
		return types.Authorization{}, err
	}
	sig := ed25519.Sign(keypair.Private, msg)
	return types.Authorization{
		PublicKey: append([]byte(nil), keypair.Public...),
		Signature: sig,
	}, nil
}

// SignAll authorizes transaction with one keypair per input, in order.
func SignAll(transaction types.Transaction, keypairs []KeyPair) (types.AuthorizedTransaction, error) {
	if len(keypairs) != len(transaction.Inputs) {
		return types.AuthorizedTransaction{}, fmt.Errorf("auth: need %d keypairs, got %d", len(transaction.Inputs), len(keypairs))
	}
	auths := make([]types.Authorization, len(keypairs))
	for i, kp := range keypairs {
		auth, err := Sign(kp, transaction)
		if err != nil {
			return types.AuthorizedTransaction{}, err
		}
		auths[i] = auth
	}
	return types.AuthorizedTransaction{Transaction: transaction, Authorizations: auths}, nil
}

// VerifyTransaction checks that every authorization in authorizedTx
// verifies over the transaction's canonical bytes under its paired
// public key. It does not check addresses against spent UTXOs; that
// cross-check is the state layer's job, since only state knows what
// was spent.
func VerifyTransaction(authorizedTx types.AuthorizedTransaction) error {
	if len(authorizedTx.Authorizations) != len(authorizedTx.Transaction.Inputs) {
		return fmt.Errorf("auth: %d authorizations for %d inputs", len(authorizedTx.Authorizations), len(authorizedTx.Transaction.Inputs))
	}
	msg, err := types.Encode(authorizedTx.Transaction)
	if err != nil {
		return err
	}
	for i, a := range authorizedTx.Authorizations {
		if !ed25519.Verify(ed25519.PublicKey(a.PublicKey), msg, a.Signature) {
			return fmt.Errorf("auth: input %d: %w", i, ErrBadSignature)
		}
	}
	return nil
}

// VerifyBody checks every authorization in body against the canonical
// bytes of its owning transaction, with authorizations aligned to the
// concatenated input list of all contained transactions in order.
func VerifyBody(body types.Body) error {
	idx := 0
	for txIdx, tx := range body.Transactions {
		msg, err := types.Encode(tx)
		if err != nil {
			return err
		}
		for range tx.Inputs {
			if idx >= len(body.Authorizations) {
				return fmt.Errorf("auth: tx %d: missing authorization for input", txIdx)
			}
			a := body.Authorizations[idx]
			if !ed25519.Verify(ed25519.PublicKey(a.PublicKey), msg, a.Signature) {
				return fmt.Errorf("auth: tx %d authorization %d: %w", txIdx, idx, ErrBadSignature)
			}
			idx++
		}
	}
	if idx != len(body.Authorizations) {
		return fmt.Errorf("auth: %d authorizations provided, %d consumed", len(body.Authorizations), idx)
	}
	return nil
}
