package archive

import (
	"fmt"

	"github.com/l2labs/bmmnode/types"
)

// ErrorCode identifies the kind of failure returned from an Archive
// operation. Error carries a code plus whichever structured fields
// are relevant, rather than a bare sentinel error.
type ErrorCode string

const (
	ErrCodeInvalidPrevSideHash ErrorCode = "invalid-prev-side-hash"
	ErrCodeInvalidMerkleRoot   ErrorCode = "invalid-merkle-root"
	ErrCodeNoHeader            ErrorCode = "no-header"
)

// Error carries an ErrorCode plus whichever fields are relevant to that
// code.
type Error struct {
	Code         ErrorCode
	PrevSideHash types.BlockHash
	Expected     types.BlockHash
	Hash         types.BlockHash
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeInvalidPrevSideHash:
		return fmt.Sprintf("archive: invalid prev_side_hash: header has %s, chain tip is %s", e.PrevSideHash, e.Expected)
	case ErrCodeInvalidMerkleRoot:
		return "archive: body's merkle root does not match header's"
	case ErrCodeNoHeader:
		return fmt.Sprintf("archive: no header for hash %s", e.Hash)
	default:
		return fmt.Sprintf("archive: error %s", e.Code)
	}
}
