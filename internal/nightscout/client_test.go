package nightscout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/sgv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entriesJSON = `[
	{"date": 1700000300000, "sgv": 142, "trend": 3, "direction": "FortyFiveUp"},
	{"date": 1700000000000, "sgv": 138, "direction": "Flat"},
	{"date": 1699999700000, "type": "sgv"},
	{"date": 1699999400000, "sgv": 5, "trend": "NOT A NUMBER"}
]`

type site struct {
	*httptest.Server
	entriesHits atomic.Int32
	statusHits  atomic.Int32
	lastSecret  atomic.Value
	lastQuery   atomic.Value
}

func newSite(t *testing.T, entries, status string) *site {
	s := &site{}
	mux := http.NewServeMux()
	mux.HandleFunc(entriesPath, func(w http.ResponseWriter, r *http.Request) {
		s.entriesHits.Add(1)
		s.lastSecret.Store(r.Header.Get("api-secret"))
		s.lastQuery.Store(r.URL.Query())
		_, _ = w.Write([]byte(entries))
	})
	mux.HandleFunc(deviceStatusPath, func(w http.ResponseWriter, _ *http.Request) {
		s.statusHits.Add(1)
		_, _ = w.Write([]byte(status))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func TestSamples(t *testing.T) {
	s := newSite(t, entriesJSON, `[]`)
	now := time.UnixMilli(1700000400000)
	c := New(Config{
		APISecret:   "hunter2",
		FetchWindow: 3 * time.Hour,
		Now:         func() time.Time { return now },
	})

	samples, err := c.Samples(context.Background(), s.URL+"/")
	require.NoError(t, err)
	require.Len(t, samples, 4)

	assert.Equal(t, float64(1700000300), samples[0].Timestamp)
	assert.Equal(t, 142, *samples[0].Value)
	assert.Equal(t, 3, samples[0].Trend.Code())
	assert.Equal(t, sgv.Named("Flat"), samples[1].Trend)
	assert.Nil(t, samples[2].Value)
	assert.Nil(t, samples[3].Trend)

	assert.Equal(t, hashSecret("hunter2"), s.lastSecret.Load())
	assert.Len(t, hashSecret("hunter2"), 40)

	q := s.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"200"}, q["count"])
	assert.Equal(t, []string{"1699989600000"}, q["find[date][$gte]"])
}

func TestSamplesCache(t *testing.T) {
	s := newSite(t, entriesJSON, `[]`)
	now := time.Unix(1700000000, 0)
	c := New(Config{CacheTTL: time.Minute, Now: func() time.Time { return now }})
	ctx := context.Background()

	_, err := c.Samples(ctx, s.URL)
	require.NoError(t, err)
	_, err = c.Samples(ctx, s.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.entriesHits.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Samples(ctx, s.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.entriesHits.Load())

	c.ClearCache()
	_, err = c.Samples(ctx, s.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), s.entriesHits.Load())
}

func TestSamplesErrors(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(broken.Close)
	garbage := newSite(t, `{"not": "a list"`, `[]`)
	overflow := newSite(t, `[{"date": 1e999, "sgv": 100}]`, `[]`)
	badValue := newSite(t, `[{"date": 1700000000000, "sgv": 1e999}]`, `[]`)

	tests := []struct {
		name string
		site string
		code errors.ErrorCode
	}{
		{"missing url", "", ErrMissingURL},
		{"bad status", broken.URL, ErrBadStatus},
		{"bad json", garbage.URL, ErrDecode},
		{"date out of range", overflow.URL, ErrDecode},
		{"value out of range", badValue.URL, ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Logger: logger.Default()}).Samples(context.Background(), tt.site)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, ErrSampleFetch))
			assert.True(t, errors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"uploader battery", `[{"device": "xDrip", "uploaderBattery": 87}]`, "87%"},
		{"nested battery", `[{"device": "loop", "uploader": {"battery": 54}}]`, "54%"},
		{"device only", `[{"device": "openaps://rig"}]`, "openaps://rig"},
		{"no status", `[]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSite(t, `[]`, tt.body)

			text, err := New(Config{}).StatusText(context.Background(), s.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}

func TestStatusTextError(t *testing.T) {
	s := newSite(t, `[]`, `nope`)

	_, err := New(Config{}).StatusText(context.Background(), s.URL)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrStatusText))
}
