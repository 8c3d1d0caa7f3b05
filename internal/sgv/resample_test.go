package sgv

import (
	"testing"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func smallParams() Params {
	return Params{
		IntervalSeconds:    60,
		FetchWindowSeconds: 120,
		ErrorCodeMax:       DefaultErrorCodeMax,
		Now:                fixedNow(1000),
	}
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.True(t, errors.HasCode(Params{IntervalSeconds: 0, FetchWindowSeconds: 60}.Validate(), ErrInvalidInterval))
	assert.True(t, errors.HasCode(Params{IntervalSeconds: 60, FetchWindowSeconds: -1}.Validate(), ErrInvalidWindow))
}

func TestGridSize(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		window   int
		expected int
	}{
		{"default", DefaultIntervalSeconds, DefaultFetchWindowSeconds, 37},
		{"small", 60, 120, 3},
		{"uneven window", 60, 150, 3},
		{"zero window", 60, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{IntervalSeconds: tt.interval, FetchWindowSeconds: tt.window}
			assert.Equal(t, tt.expected, p.Size())
			assert.Len(t, p.Resample(nil), tt.expected)
		})
	}
}

func TestGridAnchoring(t *testing.T) {
	p := smallParams()

	assert.Equal(t, []float64{100, 40, -20}, p.Grid([]Sample{{Timestamp: 100}}))
	assert.Equal(t, []float64{1000, 940, 880}, p.Grid(nil))
}

func TestResampleScenario(t *testing.T) {
	p := smallParams()
	samples := []Sample{
		{Timestamp: 100, Value: Int(120)},
		{Timestamp: 40, Value: Int(80)},
	}

	series := p.Resample(samples)

	assert.Equal(t, GraphSeries{60, 40, 0}, series)
	assert.Equal(t, 120, LastValue(samples))
	assert.Equal(t, 20, Delta(series))
}

func TestResampleEmpty(t *testing.T) {
	series := DefaultParams().Resample(nil)

	require.Len(t, series, 37)
	for _, v := range series {
		assert.Zero(t, v)
	}
}

func TestResampleIgnoresErrorCodes(t *testing.T) {
	p := smallParams()
	clean := []Sample{
		{Timestamp: 100, Value: Int(150)},
		{Timestamp: 41, Value: Int(90)},
	}
	noisy := []Sample{
		{Timestamp: 100, Value: Int(150)},
		{Timestamp: 70, Value: Int(DefaultErrorCodeMax)},
		{Timestamp: 40, Value: Int(5)},
		{Timestamp: 41, Value: Int(90)},
		{Timestamp: -20, Value: nil},
	}

	assert.Equal(t, p.Resample(clean), p.Resample(noisy))
	assert.Equal(t, GraphSeries{75, 45, 0}, p.Resample(noisy))
}

func TestResampleIdempotent(t *testing.T) {
	p := smallParams()
	samples := []Sample{
		{Timestamp: 100, Value: Int(200)},
		{Timestamp: 65, Value: Int(180)},
		{Timestamp: 10, Value: Int(170)},
	}

	assert.Equal(t, p.Resample(samples), p.Resample(samples))
}

func TestResampleTieBreakFavoursEarlierSample(t *testing.T) {
	p := smallParams()
	// Both candidates sit 10s from the slot at 40.
	samples := []Sample{
		{Timestamp: 100, Value: Int(100)},
		{Timestamp: 50, Value: Int(140)},
		{Timestamp: 30, Value: Int(160)},
	}

	series := p.Resample(samples)
	assert.Equal(t, uint8(70), series[1])

	samples[1], samples[2] = samples[2], samples[1]
	series = p.Resample(samples)
	assert.Equal(t, uint8(80), series[1])
}

func TestResampleCloserSampleWins(t *testing.T) {
	p := smallParams()
	samples := []Sample{
		{Timestamp: 100, Value: Int(100)},
		{Timestamp: 55, Value: Int(140)},
		{Timestamp: 42, Value: Int(160)},
	}

	assert.Equal(t, GraphSeries{50, 80, 0}, p.Resample(samples))
}

func TestResampleRequiresWithinInterval(t *testing.T) {
	p := smallParams()
	// 80s older than the last slot: nearest slot is -20, but 60s is not < 60s.
	samples := []Sample{
		{Timestamp: 100, Value: Int(100)},
		{Timestamp: -80, Value: Int(140)},
	}

	assert.Equal(t, GraphSeries{50, 0, 0}, p.Resample(samples))
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in  int
		out uint8
	}{
		{0, 0},
		{1, 0},
		{13, 6},
		{121, 60},
		{510, 255},
		{511, 255},
		{600, 255},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.out, quantize(tt.in), "quantize(%d)", tt.in)
	}
}
