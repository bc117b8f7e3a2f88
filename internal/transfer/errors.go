package transfer

import "errors"

var (
	ErrTransferFault   = errors.New("transfer: boundary copy failed")
	ErrAllocationFault = errors.New("transfer: message allocation failed")
	ErrShortBuffer     = errors.New("transfer: caller buffer too small")
)
