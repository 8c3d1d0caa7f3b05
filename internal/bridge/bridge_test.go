package bridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/bridge"
	"codeberg.org/mutker/cgmbridge/internal/device"
	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/message"
	"codeberg.org/mutker/cgmbridge/internal/metrics"
	"codeberg.org/mutker/cgmbridge/internal/prefs"
	"codeberg.org/mutker/cgmbridge/internal/sgv"
	"codeberg.org/mutker/cgmbridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	samples    []sgv.Sample
	sampleErr  error
	status     string
	statusErr  error
	sites      []string
	clearCalls int
}

func (f *fakeSource) Samples(_ context.Context, site string) ([]sgv.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites = append(f.sites, site)
	return f.samples, f.sampleErr
}

func (f *fakeSource) StatusText(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeSource) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
}

var now = time.Unix(1000, 0)

func scenario() []sgv.Sample {
	return []sgv.Sample{
		{Timestamp: 100, Value: sgv.Int(120), Trend: sgv.Named("Flat")},
		{Timestamp: 40, Value: sgv.Int(80)},
	}
}

func newBridge(t *testing.T, src *fakeSource) (*bridge.Bridge, *device.Recorder, store.Store) {
	t.Helper()

	rec := device.NewRecorder()
	st := store.Memory(logger.Default())
	b, err := bridge.New(bridge.Config{
		Params: sgv.Params{IntervalSeconds: 60, FetchWindowSeconds: 120, ErrorCodeMax: 12},
		Site:   "https://fallback.example",
		Now:    func() time.Time { return now },
	}, src, st, rec, nil, logger.Default())
	require.NoError(t, err)

	return b, rec, st
}

func TestRefreshBuildsData(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: "87%"}
	b, _, _ := newBridge(t, src)

	res := b.Refresh(context.Background())
	require.NoError(t, res.Err)
	require.NotNil(t, res.Data)
	assert.NotEmpty(t, res.Cycle)

	assert.Equal(t, message.Data{
		Recency:    900,
		SGVCount:   3,
		SGVs:       []byte{60, 40, 0},
		LastSGV:    120,
		Trend:      4,
		Delta:      20,
		StatusText: "87%",
	}, *res.Data)
	assert.Equal(t, []string{"https://fallback.example"}, src.sites)
}

func TestRefreshStatusFailureUsesPlaceholder(t *testing.T) {
	src := &fakeSource{samples: scenario(), statusErr: assert.AnError}
	b, _, _ := newBridge(t, src)

	res := b.Refresh(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, message.StatusPlaceholder, res.Data.StatusText)
}

func TestRefreshSampleFailure(t *testing.T) {
	src := &fakeSource{sampleErr: assert.AnError, status: "87%"}
	b, rec, _ := newBridge(t, src)
	ctx := context.Background()

	res := b.Refresh(ctx)
	assert.Nil(t, res.Data)
	assert.True(t, errors.HasCode(res.Err, bridge.ErrSampleFetch))

	require.NoError(t, b.Deliver(ctx, res))
	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, message.KindError, sent[0].Kind())
}

func TestRefreshEmptyReadings(t *testing.T) {
	src := &fakeSource{}
	b, _, _ := newBridge(t, src)

	res := b.Refresh(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []byte{0, 0, 0}, res.Data.SGVs)
	assert.Equal(t, sgv.NoDataRecency, res.Data.Recency)
	assert.Equal(t, sgv.NoDelta, res.Data.Delta)
	assert.Equal(t, 0, res.Data.LastSGV)
}

func TestReconfigure(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: "ok"}
	b, rec, st := newBridge(t, src)
	ctx := context.Background()

	raw := []byte(`{"nightscout_url":"https://mine.example","topOfGraph":300,"layout":"b"}`)
	require.NoError(t, b.Reconfigure(ctx, raw))

	assert.Equal(t, 1, src.clearCalls)

	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, message.KindPreferences, sent[0].Kind())
	assert.Equal(t, 300, sent[0].(message.Preferences).TopOfGraph)
	assert.Equal(t, message.KindData, sent[1].Kind())
	assert.Equal(t, []string{"https://mine.example"}, src.sites)

	stored, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", stored.String(prefs.KeyLayout))
	assert.Equal(t, 70, int(stored[prefs.KeyBottomOfRange].(float64)))

	// Same site again does not clear the cache.
	require.NoError(t, b.Reconfigure(ctx, []byte(`{"nightscout_url":"https://mine.example"}`)))
	assert.Equal(t, 1, src.clearCalls)
	assert.Equal(t, "a", b.Configuration().String(prefs.KeyLayout))
}

func TestReconfigureRejectsMalformed(t *testing.T) {
	src := &fakeSource{samples: scenario()}
	b, rec, _ := newBridge(t, src)
	ctx := context.Background()

	for _, raw := range []string{`{not json`, `[1,2]`, `"a"`, `{"layout":"zzz"}`} {
		err := b.Reconfigure(ctx, []byte(raw))
		assert.Error(t, err, raw)
	}

	assert.True(t, errors.HasCode(b.Reconfigure(ctx, []byte(`{`)), bridge.ErrConfigParse))
	assert.True(t, errors.HasCode(b.Reconfigure(ctx, []byte(`{"layout":"zzz"}`)), prefs.ErrUnknownLayout))
	assert.Empty(t, rec.Sent())
	assert.Zero(t, src.clearCalls)
	assert.Equal(t, prefs.Defaults(), b.Configuration())
}

func TestLoadUsesStoredConfiguration(t *testing.T) {
	src := &fakeSource{samples: scenario()}
	b, _, st := newBridge(t, src)
	ctx := context.Background()

	cfg := prefs.Merge(prefs.Configuration{prefs.KeyNightscoutURL: "https://stored.example"}, prefs.Defaults())
	require.NoError(t, st.Save(ctx, cfg))
	require.NoError(t, b.Load(ctx))

	b.Refresh(ctx)
	assert.Equal(t, []string{"https://stored.example"}, src.sites)
}

func TestRunRefreshesOnStartAndRequest(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: "ok"}
	rec := device.NewRecorder()
	b, err := bridge.New(bridge.Config{
		Params:   sgv.DefaultParams(),
		Interval: time.Hour,
		Now:      func() time.Time { return now },
	}, src, store.Memory(logger.Default()), rec, nil, logger.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.Sent()) == 1 },
		5*time.Second, 10*time.Millisecond)

	rec.Request()
	require.Eventually(t, func() bool { return len(rec.Sent()) == 2 },
		5*time.Second, 10*time.Millisecond)

	rec.Configure([]byte(`{"layout":"c"}`))
	require.Eventually(t, func() bool { return len(rec.Sent()) == 4 },
		5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	kinds := make([]message.Kind, 0, 4)
	for _, m := range rec.Sent() {
		kinds = append(kinds, m.Kind())
	}
	assert.Equal(t, []message.Kind{
		message.KindData, message.KindData, message.KindPreferences, message.KindData,
	}, kinds)
}

func TestDeliveriesRecorded(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: "ok"}
	history, err := metrics.NewService(metrics.Config{
		DBPath:    filepath.Join(t.TempDir(), "history.db"),
		Enabled:   true,
		BatchSize: 10,
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	b, err := bridge.New(bridge.Config{
		Params: sgv.Params{IntervalSeconds: 60, FetchWindowSeconds: 120},
		Now:    func() time.Time { return now },
	}, src, store.Memory(logger.Default()), device.NewRecorder(), history, logger.Default())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Deliver(ctx, b.Refresh(ctx)))
	require.NoError(t, b.SendPreferences(ctx))

	recent, err := history.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	kinds := []string{recent[0].Kind, recent[1].Kind}
	assert.ElementsMatch(t, []string{"data", "preferences"}, kinds)
	for _, d := range recent {
		if d.Kind == "data" {
			require.NotNil(t, d.Data)
			assert.Equal(t, 120, d.Data.LastSGV)
			assert.Equal(t, 20, d.Data.Delta)
		}
	}
}

func TestSendFailure(t *testing.T) {
	src := &fakeSource{samples: scenario()}
	b, rec, _ := newBridge(t, src)
	rec.Fail(assert.AnError)

	err := b.Deliver(context.Background(), b.Refresh(context.Background()))
	assert.True(t, errors.HasCode(err, bridge.ErrDeliver))
}

func TestNewRejectsBadParams(t *testing.T) {
	_, err := bridge.New(bridge.Config{}, &fakeSource{}, store.Memory(logger.Default()), device.NewRecorder(), nil, logger.Default())
	assert.True(t, errors.HasCode(err, bridge.ErrInvalidConfig))
}

func TestRefreshEncodeFailureIsComputationError(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: strings.Repeat("x", 70000)}
	b, rec, _ := newBridge(t, src)
	ctx := context.Background()

	res := b.Refresh(ctx)
	assert.Nil(t, res.Data)
	assert.True(t, errors.HasCode(res.Err, bridge.ErrComputation))

	require.NoError(t, b.Deliver(ctx, res))
	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, message.KindError, sent[0].Kind())
}

func TestRefreshRecoversPanic(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: "87%"}
	rec := device.NewRecorder()

	calls := 0
	b, err := bridge.New(bridge.Config{
		Params: sgv.Params{IntervalSeconds: 60, FetchWindowSeconds: 120, ErrorCodeMax: 12},
		Now: func() time.Time {
			calls++
			if calls == 1 {
				panic("clock unavailable")
			}
			return now
		},
	}, src, store.Memory(logger.Default()), rec, nil, logger.Default())
	require.NoError(t, err)
	ctx := context.Background()

	res := b.Refresh(ctx)
	assert.Nil(t, res.Data)
	require.Error(t, res.Err)
	assert.True(t, errors.HasCode(res.Err, bridge.ErrComputation))
	assert.Contains(t, res.Err.Error(), "clock unavailable")

	require.NoError(t, b.Deliver(ctx, res))
	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, message.KindError, sent[0].Kind())
}

func TestSampleFailureLogsErrorCode(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(logger.ErrorLevel)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
		logger.SetLogLevel(logger.WarnLevel)
	})

	src := &fakeSource{sampleErr: assert.AnError}
	b, _, _ := newBridge(t, src)
	b.Refresh(context.Background())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, string(bridge.ErrSampleFetch), line["error_code"])
	assert.Equal(t, "Failed to fetch readings", line["message"])
}

type failingRepository struct{}

func (failingRepository) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (failingRepository) Put(context.Context, string, string) error {
	return assert.AnError
}

func (failingRepository) Close() error { return nil }

func TestReconfigureSaveFailureKeepsConfiguration(t *testing.T) {
	src := &fakeSource{samples: scenario(), status: "87%"}
	rec := device.NewRecorder()
	st := store.NewWithRepository(failingRepository{}, logger.Default())
	b, err := bridge.New(bridge.Config{
		Params: sgv.Params{IntervalSeconds: 60, FetchWindowSeconds: 120, ErrorCodeMax: 12},
		Now:    func() time.Time { return now },
	}, src, st, rec, nil, logger.Default())
	require.NoError(t, err)

	err = b.Reconfigure(context.Background(), []byte(`{"layout":"c","nightscout_url":"https://x"}`))
	assert.True(t, errors.HasCode(err, bridge.ErrSaveFailed))

	assert.Equal(t, prefs.Defaults(), b.Configuration())
	assert.Equal(t, 0, src.clearCalls)
	assert.Empty(t, rec.Sent())
}
