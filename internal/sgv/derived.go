package sgv

import (
	"math"
	"time"
)

const (
	// NoDelta is sent when the previous slot has no reading.
	NoDelta = 65536
	// NoDataRecency is reported when there are no readings at all.
	NoDataRecency = 999 * 60 * 60
)

// LastValue is the newest reading, or 0 when there is none.
func LastValue(samples []Sample) int {
	if len(samples) == 0 || samples[0].Value == nil {
		return 0
	}

	return *samples[0].Value
}

// TrendCode is the trend code of the newest reading.
func TrendCode(samples []Sample) int {
	if len(samples) == 0 || samples[0].Trend == nil {
		return TrendNone
	}

	return samples[0].Trend.Code()
}

// Delta is the change between the two newest slots in quantized units.
// A zero previous slot cannot be told apart from a missing reading, so it
// always yields NoDelta.
func Delta(series GraphSeries) int {
	if len(series) < 2 || series[1] == 0 {
		return NoDelta
	}

	return int(series[0]) - int(series[1])
}

// Recency is the age of the newest reading in whole seconds.
func Recency(samples []Sample, now time.Time) int {
	if len(samples) == 0 {
		return NoDataRecency
	}

	return int(math.Floor(unixSeconds(now) - samples[0].Timestamp))
}
