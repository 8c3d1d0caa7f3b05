package prefs

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	ErrConfigParse    = errors.ErrConfigParse
	ErrUnknownLayout  = errors.ErrUnknownLayout
	ErrUnknownAlign   = errors.ErrorCode("prefs_unknown_time_align")
	ErrUnknownBattLoc = errors.ErrorCode("prefs_unknown_battery_location")
)
