package sgv

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrInvalidWindow   = errors.ErrorCode("sgv_invalid_fetch_window")
)
