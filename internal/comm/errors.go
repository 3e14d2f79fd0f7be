package comm

import "errors"

var (
	ErrAborted     = errors.New("comm: process group aborted")
	ErrTimeout     = errors.New("comm: peer did not reach collective")
	ErrMismatch    = errors.New("comm: collective mismatch")
	ErrInvalidRank = errors.New("comm: invalid rank")
	ErrInvalidSize = errors.New("comm: invalid group size")
	ErrBadPayload  = errors.New("comm: invalid collective payload")
)
