package mempool

import (
	"fmt"

	"github.com/l2labs/bmmnode/types"
)

// ErrorCode identifies the kind of failure from a MemPool operation.
type ErrorCode string

const ErrCodeUtxoDoubleSpent ErrorCode = "utxo-double-spent"

// Error reports a pool-admission failure.
type Error struct {
	Code     ErrorCode
	OutPoint types.OutPoint
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeUtxoDoubleSpent:
		return fmt.Sprintf("mempool: input %s already reserved by a pending transaction", e.OutPoint)
	default:
		return fmt.Sprintf("mempool: error %s", e.Code)
	}
}
