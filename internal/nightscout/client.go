// Package nightscout reads glucose entries and uploader status from a
// Nightscout site.
package nightscout

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/sgv"
)

const (
	defaultTimeout = 15 * time.Second
	defaultCount   = 200

	entriesPath      = "/api/v1/entries/sgv.json"
	deviceStatusPath = "/api/v1/devicestatus.json"
)

type Config struct {
	APISecret   string
	CacheTTL    time.Duration
	FetchWindow time.Duration
	Count       int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Now         func() time.Time
	Logger      logger.Logger
}

// Client fetches from a Nightscout site. Responses are cached per site for
// CacheTTL; ClearCache drops everything.
type Client struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	entries map[string]cached[[]sgv.Sample]
	status  map[string]cached[string]
}

type cached[T any] struct {
	value     T
	fetchedAt time.Time
}

type entry struct {
	Date      json.Number  `json:"date"`
	SGV       *json.Number `json:"sgv"`
	Trend     any          `json:"trend"`
	Direction string       `json:"direction"`
}

type deviceStatus struct {
	Device          string       `json:"device"`
	UploaderBattery *json.Number `json:"uploaderBattery"`
	Uploader        *struct {
		Battery *json.Number `json:"battery"`
	} `json:"uploader"`
}

func New(cfg Config) *Client {
	if cfg.Count <= 0 {
		cfg.Count = defaultCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:     cfg,
		http:    client,
		entries: make(map[string]cached[[]sgv.Sample]),
		status:  make(map[string]cached[string]),
	}
}

// Samples returns the site's readings, newest first, in the order the site
// reports them.
func (c *Client) Samples(ctx context.Context, site string) ([]sgv.Sample, error) {
	errFactory := errors.New()

	if v, ok := lookup(c, c.entries, site); ok {
		return v, nil
	}

	query := url.Values{}
	query.Set("count", strconv.Itoa(c.cfg.Count))
	if c.cfg.FetchWindow > 0 {
		since := c.cfg.Now().Add(-c.cfg.FetchWindow).UnixMilli()
		query.Set("find[date][$gte]", strconv.FormatInt(since, 10))
	}

	var raw []entry
	if err := c.get(ctx, site, entriesPath, query, &raw); err != nil {
		return nil, errFactory.Wrap(ErrSampleFetch, err)
	}

	samples := make([]sgv.Sample, 0, len(raw))
	for _, e := range raw {
		s, err := e.sample()
		if err != nil {
			return nil, errFactory.Wrap(ErrSampleFetch, err)
		}
		samples = append(samples, s)
	}

	c.cfg.Logger.Debug().
		Str("site", site).
		Int("count", len(samples)).
		Msg("Fetched glucose entries")

	store(c, c.entries, site, samples)

	return samples, nil
}

// StatusText summarises the latest uploader status: its battery level when
// reported, otherwise the uploading device name.
func (c *Client) StatusText(ctx context.Context, site string) (string, error) {
	errFactory := errors.New()

	if v, ok := lookup(c, c.status, site); ok {
		return v, nil
	}

	query := url.Values{}
	query.Set("count", "1")

	var raw []deviceStatus
	if err := c.get(ctx, site, deviceStatusPath, query, &raw); err != nil {
		return "", errFactory.Wrap(ErrStatusText, err)
	}

	text := ""
	if len(raw) > 0 {
		text = raw[0].text()
	}

	store(c, c.status, site, text)

	return text, nil
}

// ClearCache forgets all cached responses, for example after the site
// changed.
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	clear(c.status)
}

func lookup[T any](c *Client, m map[string]cached[T], site string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.cfg.CacheTTL <= 0 {
		return zero, false
	}

	hit, ok := m[site]
	if !ok || c.cfg.Now().Sub(hit.fetchedAt) >= c.cfg.CacheTTL {
		return zero, false
	}

	return hit.value, true
}

func store[T any](c *Client, m map[string]cached[T], site string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m[site] = cached[T]{value: v, fetchedAt: c.cfg.Now()}
}

func (c *Client) get(ctx context.Context, site, path string, query url.Values, out any) error {
	errFactory := errors.New()

	if site == "" {
		return errFactory.New(ErrMissingURL)
	}

	u := strings.TrimRight(site, "/") + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APISecret != "" {
		req.Header.Set("api-secret", hashSecret(c.cfg.APISecret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errFactory.WithData(ErrBadStatus, struct {
			URL    string
			Status int
		}{path, resp.StatusCode})
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errFactory.Wrap(ErrDecode, err)
	}

	return nil
}

func (e entry) sample() (sgv.Sample, error) {
	ms, err := e.Date.Float64()
	if err != nil {
		return sgv.Sample{}, errors.New().WithData(ErrDecode, struct {
			Field string
			Value string
		}{"date", e.Date.String()})
	}

	s := sgv.Sample{
		Timestamp: ms / 1000,
		Trend:     sgv.ParseTrend(e.Trend, e.Direction),
	}

	if e.SGV != nil {
		v, err := e.SGV.Float64()
		if err != nil {
			return sgv.Sample{}, errors.New().WithData(ErrDecode, struct {
				Field string
				Value string
			}{"sgv", e.SGV.String()})
		}
		s.Value = sgv.Int(int(v))
	}

	return s, nil
}

func (d deviceStatus) text() string {
	battery := d.UploaderBattery
	if battery == nil && d.Uploader != nil {
		battery = d.Uploader.Battery
	}

	if battery != nil {
		if v, err := battery.Float64(); err == nil {
			return fmt.Sprintf("%d%%", int(v))
		}
	}

	return d.Device
}

func hashSecret(secret string) string {
	sum := sha1.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])
}
