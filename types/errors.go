package types

import "errors"

// ErrValueOverflow is fatal: any overflow while summing output or UTXO
// values aborts the operation.
var ErrValueOverflow = errors.New("types: value sum overflow")
