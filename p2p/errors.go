package p2p

import "fmt"

// ErrorCode identifies a p2p-layer protocol violation.
type ErrorCode string

const (
	ErrCodeReadLimitExceeded  ErrorCode = "read-limit-exceeded"
	ErrCodePeerAlreadyPresent ErrorCode = "peer-already-present"
)

// Error carries an ErrorCode plus whichever fields are relevant to it.
type Error struct {
	Code ErrorCode
	Addr string
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeReadLimitExceeded:
		return "p2p: frame exceeds read limit"
	case ErrCodePeerAlreadyPresent:
		return fmt.Sprintf("p2p: peer %s already registered", e.Addr)
	default:
		return fmt.Sprintf("p2p: error %s", e.Code)
	}
}
