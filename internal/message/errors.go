package message

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	ErrComputation   = errors.ErrComputation
	ErrValueRange    = errors.ErrorCode("message_value_out_of_range")
	ErrTooManyTuples = errors.ErrorCode("message_too_many_tuples")
	ErrMalformed     = errors.ErrorCode("message_malformed")
)
