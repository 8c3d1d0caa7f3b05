package bridge

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	ErrSampleFetch   = errors.ErrSampleFetch
	ErrComputation   = errors.ErrComputation
	ErrConfigParse   = errors.ErrConfigParse
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrSaveFailed    = errors.ErrorCode("bridge_save_failed")
	ErrDeliver       = errors.ErrorCode("bridge_delivery_failed")
)
