// Package bridge turns glucose readings into watch messages. It owns the
// watch configuration and drives refresh cycles.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/device"
	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/message"
	"codeberg.org/mutker/cgmbridge/internal/metrics"
	"codeberg.org/mutker/cgmbridge/internal/prefs"
	"codeberg.org/mutker/cgmbridge/internal/sgv"
	"codeberg.org/mutker/cgmbridge/internal/store"
	"github.com/google/uuid"
)

// Source provides readings and uploader status for a site.
type Source interface {
	Samples(ctx context.Context, site string) ([]sgv.Sample, error)
	StatusText(ctx context.Context, site string) (string, error)
	ClearCache()
}

type Config struct {
	Params sgv.Params
	// Interval between scheduled refreshes.
	Interval time.Duration
	// Site is used when the watch configuration has no nightscout_url.
	Site string
	Now  func() time.Time
}

// Result is the outcome of one refresh. Exactly one of Data and Err is set.
type Result struct {
	Cycle string
	Data  *message.Data
	Err   error
}

type Bridge struct {
	cfg     Config
	source  Source
	store   store.Store
	channel device.Channel
	history metrics.Collector
	log     logger.Logger

	mu    sync.RWMutex
	prefs prefs.Configuration
}

// New creates a bridge using the default watch configuration until Load or
// Reconfigure is called. history may be nil.
func New(cfg Config, source Source, st store.Store, ch device.Channel, history metrics.Collector, log logger.Logger) (*Bridge, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Duration(cfg.Params.IntervalSeconds) * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if history == nil {
		history = metrics.Noop()
	}

	return &Bridge{
		cfg:     cfg,
		source:  source,
		store:   st,
		channel: ch,
		history: history,
		log:     log,
		prefs:   prefs.Defaults(),
	}, nil
}

// Load replaces the active configuration with the stored one.
func (b *Bridge) Load(ctx context.Context) error {
	cfg, err := b.store.Load(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.prefs = cfg
	b.mu.Unlock()

	b.log.Debug().Str("layout", cfg.String(prefs.KeyLayout)).Msg("Loaded watch configuration")

	return nil
}

// Configuration returns a copy of the active watch configuration.
func (b *Bridge) Configuration() prefs.Configuration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return prefs.Merge(b.prefs, nil)
}

// Refresh fetches readings and status in parallel and builds a data message.
// A status failure is replaced by the placeholder; a reading failure is
// returned in Result.Err. A message that cannot be built or encoded is
// reported as ErrComputation.
func (b *Bridge) Refresh(ctx context.Context) (res Result) {
	errFactory := errors.New()
	res.Cycle = uuid.Must(uuid.NewV7()).String()
	site := b.site()

	var (
		wg                   sync.WaitGroup
		samples              []sgv.Sample
		status               string
		sampleErr, statusErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		samples, sampleErr = b.source.Samples(ctx, site)
	}()
	go func() {
		defer wg.Done()
		status, statusErr = b.source.StatusText(ctx, site)
	}()
	wg.Wait()

	if statusErr != nil {
		b.log.Warn().
			Err(statusErr).
			Str("cycle", res.Cycle).
			Msg("Status text unavailable")
		status = message.StatusPlaceholder
	}

	if sampleErr != nil {
		if !errors.HasCode(sampleErr, ErrSampleFetch) {
			sampleErr = errFactory.Wrap(ErrSampleFetch, sampleErr)
		}
		b.logError(sampleErr).
			Str("cycle", res.Cycle).
			Str("site", site).
			Msg("Failed to fetch readings")
		res.Err = sampleErr
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Data = nil
			res.Err = errFactory.WithData(ErrComputation, fmt.Sprint(r))
			b.log.Error().
				Str("cycle", res.Cycle).
				Interface("panic", r).
				Msg("Failed to build data message")
		}
	}()

	now := b.cfg.Now()
	params := b.cfg.Params
	params.Now = func() time.Time { return now }

	data := message.NewData(samples, params.Resample(samples), status, now)
	if _, err := message.Encode(data); err != nil {
		res.Err = errFactory.Wrap(ErrComputation, err)
		b.logError(res.Err).
			Str("cycle", res.Cycle).
			Msg("Failed to encode data message")
		return res
	}
	res.Data = &data

	b.log.Debug().
		Str("cycle", res.Cycle).
		Int("samples", len(samples)).
		Int("recency", data.Recency).
		Int("last_sgv", data.LastSGV).
		Int("trend", data.Trend).
		Int("delta", data.Delta).
		Str("status", data.StatusText).
		Msg("Refresh complete")

	return res
}

// Deliver sends the result of a refresh: the data message, or an error
// message when the refresh failed.
func (b *Bridge) Deliver(ctx context.Context, res Result) error {
	if res.Err != nil || res.Data == nil {
		return b.send(ctx, res.Cycle, message.NewError())
	}
	return b.send(ctx, res.Cycle, *res.Data)
}

// SendPreferences sends the display settings of the active configuration.
func (b *Bridge) SendPreferences(ctx context.Context) error {
	p, err := message.NewPreferences(b.Configuration())
	if err != nil {
		return err
	}
	return b.send(ctx, uuid.Must(uuid.NewV7()).String(), p)
}

// Reconfigure applies raw configuration JSON from the watch's settings page:
// it is merged onto the defaults, stored, and followed by a preferences and
// a data message. Malformed input or a failed save leaves the active
// configuration untouched.
func (b *Bridge) Reconfigure(ctx context.Context, raw []byte) error {
	errFactory := errors.New()

	override, err := prefs.ParseOverride(raw)
	if err != nil {
		b.log.Warn().Err(err).Str("raw", string(raw)).Msg("Ignoring malformed configuration")
		return err
	}

	// A configuration that cannot be encoded is rejected before it is stored.
	next := prefs.Merge(override, prefs.Defaults())
	if _, err := message.NewPreferences(next); err != nil {
		return err
	}

	if err := b.store.Save(ctx, next); err != nil {
		return errFactory.Wrap(ErrSaveFailed, err)
	}

	b.mu.Lock()
	if siteChanged(override, b.prefs) {
		b.source.ClearCache()
		b.log.Debug().Msg("Site changed, cache cleared")
	}
	b.prefs = next
	b.mu.Unlock()

	b.log.Info().Str("layout", next.String(prefs.KeyLayout)).Msg("Preferences updated")

	if err := b.SendPreferences(ctx); err != nil {
		return err
	}

	return b.Deliver(ctx, b.Refresh(ctx))
}

// Run refreshes immediately, then on every interval tick and every watch
// request, until ctx is cancelled. Configuration pushed by the watch is
// applied between cycles.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	var (
		requests <-chan struct{}
		configs  <-chan []byte
	)
	if r, ok := b.channel.(device.Requester); ok {
		requests = r.Requests()
		configs = r.Configs()
	}

	b.log.Info().
		Dur("interval", b.cfg.Interval).
		Str("site", b.site()).
		Msg("Bridge started")

	b.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Bridge stopped")
			return nil
		case <-ticker.C:
			b.cycle(ctx)
		case <-requests:
			b.log.Debug().Msg("Watch requested data")
			b.cycle(ctx)
		case raw := <-configs:
			if err := b.Reconfigure(ctx, raw); err != nil {
				b.log.Error().Err(err).Msg("Failed to apply configuration")
			}
		}
	}
}

func (b *Bridge) cycle(ctx context.Context) {
	if err := b.Deliver(ctx, b.Refresh(ctx)); err != nil {
		b.logError(err).Msg("Failed to deliver message")
	}
}

func (b *Bridge) send(ctx context.Context, cycle string, m message.Message) error {
	payload, encodeErr := message.Encode(m)
	delivery := &metrics.Delivery{
		Timestamp: b.cfg.Now(),
		Cycle:     cycle,
		Kind:      m.Kind().String(),
		Bytes:     len(payload),
		Failed:    m.Kind() == message.KindError,
	}
	if d, ok := m.(message.Data); ok {
		delivery.Data = &metrics.DataFields{
			Recency:  d.Recency,
			LastSGV:  d.LastSGV,
			Trend:    d.Trend,
			Delta:    d.Delta,
			SGVCount: d.SGVCount,
		}
	}

	if encodeErr != nil {
		return errors.New().Wrap(ErrDeliver, encodeErr)
	}

	if err := b.channel.Send(ctx, m); err != nil {
		return errors.New().Wrap(ErrDeliver, err)
	}

	if err := b.history.Record(ctx, delivery); err != nil {
		b.log.Warn().Err(err).Msg("Failed to record delivery")
	}

	return nil
}

// logError attaches the error code when err carries one.
func (b *Bridge) logError(err error) *logger.LogEvent {
	var coded errors.Error
	if errors.As(err, &coded) {
		return b.log.ErrorWithCode(coded)
	}
	return &logger.LogEvent{Event: b.log.Error().Err(err)}
}

func (b *Bridge) site() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s := b.prefs.String(prefs.KeyNightscoutURL); s != "" {
		return s
	}
	return b.cfg.Site
}

// siteChanged compares the raw override against the active configuration.
// An override without a string nightscout_url counts as a change.
func siteChanged(override, active prefs.Configuration) bool {
	s, ok := override[prefs.KeyNightscoutURL].(string)
	return !ok || s != active.String(prefs.KeyNightscoutURL)
}
