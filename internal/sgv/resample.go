package sgv

import (
	"math"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
)

const (
	DefaultIntervalSeconds    = 5 * 60
	DefaultFetchWindowSeconds = 3 * 60 * 60
	// DefaultErrorCodeMax is the highest value a Dexcom receiver uses for
	// sensor error codes. Readings at or below it are not glucose values.
	DefaultErrorCodeMax = 12

	maxQuantized = math.MaxUint8
)

// Params fixes the grid the series is resampled onto.
type Params struct {
	IntervalSeconds    int
	FetchWindowSeconds int
	ErrorCodeMax       int
	// Now anchors the grid when there are no readings. Defaults to time.Now.
	Now func() time.Time
}

// GraphSeries holds one quantized value per grid slot, newest slot first.
// Zero means the slot has no reading.
type GraphSeries []uint8

func DefaultParams() Params {
	return Params{
		IntervalSeconds:    DefaultIntervalSeconds,
		FetchWindowSeconds: DefaultFetchWindowSeconds,
		ErrorCodeMax:       DefaultErrorCodeMax,
		Now:                time.Now,
	}
}

func (p Params) Validate() error {
	if p.IntervalSeconds <= 0 {
		return errors.New().WithData(ErrInvalidInterval, p.IntervalSeconds)
	}
	if p.FetchWindowSeconds < 0 {
		return errors.New().WithData(ErrInvalidWindow, p.FetchWindowSeconds)
	}

	return nil
}

// Size is the number of slots in the grid.
func (p Params) Size() int {
	return p.FetchWindowSeconds/p.IntervalSeconds + 1
}

func (p Params) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}

	return p.Now()
}

// Grid returns the slot timestamps, newest first, anchored at the newest
// sample or at Now when samples is empty.
func (p Params) Grid(samples []Sample) []float64 {
	end := unixSeconds(p.now())
	if len(samples) > 0 {
		end = samples[0].Timestamp
	}

	xs := make([]float64, p.Size())
	for i := range xs {
		xs[i] = end - float64(i*p.IntervalSeconds)
	}

	return xs
}

// Resample assigns each graphable sample to its nearest grid slot and
// quantizes the result. A sample only takes a slot when it is less than one
// interval away and strictly closer than the current occupant, so on equal
// distance the sample seen first (the newer one) keeps the slot.
func (p Params) Resample(samples []Sample) GraphSeries {
	xs := p.Grid(samples)
	interval := float64(p.IntervalSeconds)

	type slot struct {
		timestamp float64
		value     int
	}
	graphed := make([]slot, len(xs))
	for i := range graphed {
		graphed[i] = slot{timestamp: math.Inf(1)}
	}

	for _, s := range samples {
		if !s.graphable(p.ErrorCodeMax) {
			continue
		}

		closest, best := -1, math.Inf(1)
		for j, x := range xs {
			if d := math.Abs(s.Timestamp - x); d < best {
				closest, best = j, d
			}
		}
		if closest < 0 || best >= interval {
			continue
		}

		x := xs[closest]
		if best < math.Abs(graphed[closest].timestamp-x) {
			graphed[closest] = slot{timestamp: s.Timestamp, value: *s.Value}
		}
	}

	series := make(GraphSeries, len(graphed))
	for i, g := range graphed {
		series[i] = quantize(g.value)
	}

	return series
}

// quantize halves a reading so it fits in a byte.
func quantize(v int) uint8 {
	if v <= 0 {
		return 0
	}

	return uint8(min(maxQuantized, v/2))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
