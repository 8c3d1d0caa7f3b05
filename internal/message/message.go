package message

import (
	"math"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/prefs"
	"codeberg.org/mutker/cgmbridge/internal/sgv"
)

// Key identifies a dictionary field. Keys are shared with the watch firmware.
type Key uint32

const (
	KeyMsgType Key = iota
	KeyRecency
	KeySGVCount
	KeySGVs
	KeyLastSGV
	KeyTrend
	KeyDelta
	KeyStatusText
	KeyMmol
	KeyTopOfGraph
	KeyTopOfRange
	KeyBottomOfRange
	KeyBottomOfGraph
	KeyHGridlines
	KeyBatteryAsNumber
	KeyTimeAlign
	KeyBatteryLoc
	KeyNumElements
	KeyElements
)

// Kind discriminates the messages sent to the watch.
type Kind int

const (
	KindError Kind = iota
	KindData
	KindPreferences
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindData:
		return "data"
	case KindPreferences:
		return "preferences"
	default:
		return "unknown"
	}
}

// StatusPlaceholder replaces status text that could not be fetched.
const StatusPlaceholder = "-"

// Message is anything that can be sent to the watch.
type Message interface {
	Kind() Kind
	Dictionary() (Dictionary, error)
}

// Data is the periodic glucose update.
type Data struct {
	Recency    int    `json:"recency"`
	SGVCount   int    `json:"sgvCount"`
	SGVs       []byte `json:"sgvs"`
	LastSGV    int    `json:"lastSgv"`
	Trend      int    `json:"trend"`
	Delta      int    `json:"delta"`
	StatusText string `json:"statusText"`
}

// Preferences carries display settings and the resolved layout.
type Preferences struct {
	Mmol            int   `json:"mmol"`
	TopOfGraph      int   `json:"topOfGraph"`
	TopOfRange      int   `json:"topOfRange"`
	BottomOfRange   int   `json:"bottomOfRange"`
	BottomOfGraph   int   `json:"bottomOfGraph"`
	HGridlines      int   `json:"hGridlines"`
	BatteryAsNumber int   `json:"batteryAsNumber"`
	TimeAlign       int   `json:"timeAlign"`
	BatteryLoc      int   `json:"batteryLoc"`
	NumElements     int   `json:"numElements"`
	Elements        []int `json:"elements"`
}

// Error tells the watch the refresh failed and it should keep showing the
// last good state.
type Error struct{}

func NewError() Error { return Error{} }

// NewData builds the data message from the readings and their resampled
// series.
func NewData(samples []sgv.Sample, series sgv.GraphSeries, statusText string, now time.Time) Data {
	return Data{
		Recency:    sgv.Recency(samples, now),
		SGVCount:   len(series),
		SGVs:       []byte(series),
		LastSGV:    sgv.LastValue(samples),
		Trend:      sgv.TrendCode(samples),
		Delta:      sgv.Delta(series),
		StatusText: statusText,
	}
}

// NewPreferences resolves the layout selected by cfg and builds the
// preferences message.
func NewPreferences(cfg prefs.Configuration) (Preferences, error) {
	s, err := cfg.Settings()
	if err != nil {
		return Preferences{}, err
	}

	layout, err := prefs.ResolveLayout(cfg)
	if err != nil {
		return Preferences{}, err
	}

	timeAlign, err := layout.TimeAlignCode()
	if err != nil {
		return Preferences{}, err
	}

	batteryLoc, err := layout.BatteryLocCode()
	if err != nil {
		return Preferences{}, err
	}

	enabled := layout.Enabled()
	elements := make([]int, 0, len(enabled)*prefs.PropertyCount)
	for _, e := range enabled {
		elements = append(elements, e.Encode()...)
	}

	return Preferences{
		Mmol:            boolToInt(s.Mmol),
		TopOfGraph:      s.TopOfGraph,
		TopOfRange:      s.TopOfRange,
		BottomOfRange:   s.BottomOfRange,
		BottomOfGraph:   s.BottomOfGraph,
		HGridlines:      s.HGridlines,
		BatteryAsNumber: boolToInt(s.BatteryAsNumber),
		TimeAlign:       timeAlign,
		BatteryLoc:      batteryLoc,
		NumElements:     len(enabled),
		Elements:        elements,
	}, nil
}

func (Data) Kind() Kind        { return KindData }
func (Preferences) Kind() Kind { return KindPreferences }
func (Error) Kind() Kind       { return KindError }

func (d Data) Dictionary() (Dictionary, error) {
	return buildDictionary(KindData, []field{
		{KeyRecency, d.Recency},
		{KeySGVCount, d.SGVCount},
	}, bytesTuple(KeySGVs, d.SGVs), []field{
		{KeyLastSGV, d.LastSGV},
		{KeyTrend, d.Trend},
		{KeyDelta, d.Delta},
	}, cstringTuple(KeyStatusText, d.StatusText))
}

func (p Preferences) Dictionary() (Dictionary, error) {
	elements := make([]byte, len(p.Elements))
	for i, v := range p.Elements {
		if v < 0 || v > math.MaxUint8 {
			return nil, errors.New().WithData(ErrValueRange, struct {
				Element int
				Value   int
			}{i / prefs.PropertyCount, v})
		}
		elements[i] = byte(v)
	}

	return buildDictionary(KindPreferences, []field{
		{KeyMmol, p.Mmol},
		{KeyTopOfGraph, p.TopOfGraph},
		{KeyTopOfRange, p.TopOfRange},
		{KeyBottomOfRange, p.BottomOfRange},
		{KeyBottomOfGraph, p.BottomOfGraph},
		{KeyHGridlines, p.HGridlines},
		{KeyBatteryAsNumber, p.BatteryAsNumber},
		{KeyTimeAlign, p.TimeAlign},
		{KeyBatteryLoc, p.BatteryLoc},
		{KeyNumElements, p.NumElements},
	}, bytesTuple(KeyElements, elements))
}

func (Error) Dictionary() (Dictionary, error) {
	return buildDictionary(KindError)
}

// Encode serializes a message for the device channel.
func Encode(m Message) ([]byte, error) {
	dict, err := m.Dictionary()
	if err != nil {
		return nil, err
	}

	return dict.Marshal()
}

type field struct {
	key   Key
	value int
}

// buildDictionary assembles tuples in argument order after the kind tuple.
// parts are []field or Tuple values.
func buildDictionary(kind Kind, parts ...any) (Dictionary, error) {
	kindTuple, err := intTuple(KeyMsgType, int(kind))
	if err != nil {
		return nil, err
	}
	dict := Dictionary{kindTuple}

	for _, part := range parts {
		switch p := part.(type) {
		case Tuple:
			dict = append(dict, p)
		case []field:
			for _, f := range p {
				t, err := intTuple(f.key, f.value)
				if err != nil {
					return nil, err
				}
				dict = append(dict, t)
			}
		}
	}

	return dict, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
