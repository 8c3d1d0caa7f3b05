package nightscout

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	ErrSampleFetch = errors.ErrSampleFetch
	ErrStatusText  = errors.ErrStatusText
	ErrMissingURL  = errors.ErrorCode("nightscout_missing_url")
	ErrBadStatus   = errors.ErrorCode("nightscout_bad_status")
	ErrDecode      = errors.ErrorCode("nightscout_decode_failed")
)
