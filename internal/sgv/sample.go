package sgv

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Sample is one timestamped glucose reading as delivered by the data source.
type Sample struct {
	// Timestamp in seconds since the Unix epoch. Fractions are kept.
	Timestamp float64
	// Value is nil when the source reported no glucose value.
	Value *int
	// Trend is nil when the reading carries no trend information.
	Trend TrendValue
}

// Int returns a pointer to v, for building samples.
func Int(v int) *int {
	return &v
}

// graphable reports whether the sample is a real reading rather than a
// missing value or a sensor error code.
func (s Sample) graphable(errorCodeMax int) bool {
	return s.Value != nil && *s.Value > errorCodeMax
}

// TrendValue is the trend indicator of a reading: either a numeric trend code
// or a named direction. Both resolve to a canonical code in [0,9].
type TrendValue interface {
	Code() int
	trendValue()
}

// Numeric is a trend already expressed as a code.
type Numeric int

// Named is a trend expressed as a direction name such as "FortyFiveUp".
type Named string

// Trend codes. 1 through 7 are ordered from fastest rising to fastest falling.
const (
	TrendNone = iota
	TrendDoubleUp
	TrendSingleUp
	TrendFortyFiveUp
	TrendFlat
	TrendFortyFiveDown
	TrendSingleDown
	TrendDoubleDown
	TrendNotComputable
	TrendRateOutOfRange
)

var directions = map[Named]int{
	"NONE":              TrendNone,
	"DoubleUp":          TrendDoubleUp,
	"SingleUp":          TrendSingleUp,
	"FortyFiveUp":       TrendFortyFiveUp,
	"Flat":              TrendFlat,
	"FortyFiveDown":     TrendFortyFiveDown,
	"SingleDown":        TrendSingleDown,
	"DoubleDown":        TrendDoubleDown,
	"NOT COMPUTABLE":    TrendNotComputable,
	"RATE OUT OF RANGE": TrendRateOutOfRange,
}

func (n Numeric) Code() int {
	if n < TrendNone || n > TrendRateOutOfRange {
		return TrendNone
	}

	return int(n)
}

func (Numeric) trendValue() {}

func (n Named) Code() int {
	return directions[n]
}

func (Named) trendValue() {}

// ParseTrend resolves the two trend fields a reading may carry. A numeric
// trend within [0,9] wins; otherwise a non-empty direction name is used.
// raw may be a JSON number, a json.Number, an integer string or nil.
func ParseTrend(raw any, direction string) TrendValue {
	if n, ok := numericTrend(raw); ok {
		return Numeric(n)
	}

	if direction != "" {
		return Named(direction)
	}

	return nil
}

func numericTrend(raw any) (int, bool) {
	var f float64

	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		f = float64(parsed)
	default:
		return 0, false
	}

	if math.IsNaN(f) || f < TrendNone || f > TrendRateOutOfRange {
		return 0, false
	}

	return int(f), true
}
