package parentchain

import (
	"fmt"

	"github.com/l2labs/bmmnode/types"
)

// ErrorCode identifies the kind of failure from an Adapter operation.
type ErrorCode string

const (
	ErrCodeNoNextBlock        ErrorCode = "no-next-block"
	ErrCodeBMMAttemptInFlight ErrorCode = "bmm-attempt-in-flight"
)

// Error carries an ErrorCode plus whichever fields are relevant to it.
type Error struct {
	Code         ErrorCode
	PrevMainHash types.Hash
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNoNextBlock:
		return fmt.Sprintf("parentchain: no next block for prev_main_hash = %s", e.PrevMainHash)
	case ErrCodeBMMAttemptInFlight:
		return "parentchain: a BMM attempt is already in flight"
	default:
		return fmt.Sprintf("parentchain: error %s", e.Code)
	}
}
