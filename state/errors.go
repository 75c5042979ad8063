package state

import (
	"fmt"

	"github.com/l2labs/bmmnode/types"
)

// ErrorCode identifies the kind of failure from a State operation.
type ErrorCode string

const (
	ErrCodeNoUtxo             ErrorCode = "no-utxo"
	ErrCodeWrongPubKeyForAddr ErrorCode = "wrong-pubkey-for-address"
	ErrCodeAuthorization      ErrorCode = "authorization-error"
	ErrCodeNotEnoughValueIn   ErrorCode = "not-enough-value-in"
	ErrCodeNotEnoughFees      ErrorCode = "not-enough-fees"
	ErrCodeUtxoDoubleSpent    ErrorCode = "utxo-double-spent"
	ErrCodeValueOverflow      ErrorCode = "value-overflow"
)

// Error carries an ErrorCode plus whichever fields are relevant to it.
type Error struct {
	Code     ErrorCode
	OutPoint types.OutPoint
	Err      error // wrapped cause, set for ErrCodeValueOverflow
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNoUtxo:
		return fmt.Sprintf("state: no utxo at %s", e.OutPoint)
	case ErrCodeWrongPubKeyForAddr:
		return fmt.Sprintf("state: public key does not match spent utxo's address at %s", e.OutPoint)
	case ErrCodeAuthorization:
		return "state: authorization error"
	case ErrCodeNotEnoughValueIn:
		return "state: value_out exceeds value_in"
	case ErrCodeNotEnoughFees:
		return "state: coinbase value exceeds total fees"
	case ErrCodeUtxoDoubleSpent:
		return fmt.Sprintf("state: utxo double spent within body at %s", e.OutPoint)
	case ErrCodeValueOverflow:
		return fmt.Sprintf("state: value overflow: %v", e.Err)
	default:
		return fmt.Sprintf("state: error %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }
