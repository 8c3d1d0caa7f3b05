package prefs

import (
	"codeberg.org/mutker/cgmbridge/internal/errors"
)

// Element kinds understood by the watch.
const (
	GraphElement = iota
	SidebarElement
	StatusBarElement
	TimeAreaElement
	BGRowElement
)

// Layout places the watch face elements.
type Layout struct {
	TimeAlign  string          `mapstructure:"timeAlign"`
	BatteryLoc string          `mapstructure:"batteryLoc"`
	Elements   []ElementConfig `mapstructure:"elements"`
}

// ElementConfig is one watch face element. Only enabled elements are sent.
type ElementConfig struct {
	Enabled bool `mapstructure:"enabled"`
	El      int  `mapstructure:"el"`
	Width   int  `mapstructure:"width"`
	Height  int  `mapstructure:"height"`
	Black   bool `mapstructure:"black"`
	Bottom  bool `mapstructure:"bottom"`
	Right   bool `mapstructure:"right"`
}

// Property is one positional field of an encoded element.
type Property struct {
	Name  string
	value func(ElementConfig) int
}

// properties is the order in which element fields are encoded. The watch
// firmware reads elements positionally, so this order is part of the
// protocol.
var properties = [...]Property{
	{"el", func(e ElementConfig) int { return e.El }},
	{"width", func(e ElementConfig) int { return e.Width }},
	{"height", func(e ElementConfig) int { return e.Height }},
	{"black", func(e ElementConfig) int { return boolToInt(e.Black) }},
	{"bottom", func(e ElementConfig) int { return boolToInt(e.Bottom) }},
	{"right", func(e ElementConfig) int { return boolToInt(e.Right) }},
}

// PropertyCount is the number of encoded values per element.
const PropertyCount = len(properties)

// Properties returns the element fields in encoding order.
func Properties() []Property {
	out := properties
	return out[:]
}

var timeAlignCodes = map[string]int{
	"left":   0,
	"center": 1,
	"right":  2,
}

var batteryLocCodes = map[string]int{
	"none":            0,
	"timeTopLeft":     1,
	"timeTopRight":    2,
	"timeBottomLeft":  3,
	"timeBottomRight": 4,
	"statusRight":     5,
}

var presets = map[string]Layout{
	"a": {
		TimeAlign:  "center",
		BatteryLoc: "statusRight",
		Elements: []ElementConfig{
			{Enabled: true, El: GraphElement, Width: 144, Height: 84, Bottom: true},
			{Enabled: true, El: SidebarElement, Width: 0, Height: 84, Right: true},
			{Enabled: true, El: StatusBarElement, Width: 144, Height: 22},
			{Enabled: true, El: TimeAreaElement, Width: 144, Height: 62, Black: true},
			{Enabled: false, El: BGRowElement, Width: 144, Height: 40},
		},
	},
	"b": {
		TimeAlign:  "left",
		BatteryLoc: "timeTopRight",
		Elements: []ElementConfig{
			{Enabled: true, El: TimeAreaElement, Width: 144, Height: 58, Black: true},
			{Enabled: true, El: BGRowElement, Width: 144, Height: 30},
			{Enabled: true, El: GraphElement, Width: 144, Height: 80, Bottom: true},
		},
	},
	"c": {
		TimeAlign:  "right",
		BatteryLoc: "timeBottomLeft",
		Elements: []ElementConfig{
			{Enabled: true, El: StatusBarElement, Width: 144, Height: 22},
			{Enabled: true, El: GraphElement, Width: 144, Height: 96},
			{Enabled: true, El: TimeAreaElement, Width: 144, Height: 50, Black: true, Bottom: true},
		},
	},
	"d": {
		TimeAlign:  "center",
		BatteryLoc: "none",
		Elements: []ElementConfig{
			{Enabled: true, El: TimeAreaElement, Width: 144, Height: 84, Black: true},
			{Enabled: true, El: BGRowElement, Width: 144, Height: 84, Black: true},
		},
	},
}

// PresetNames lists the named layouts.
func PresetNames() []string {
	return []string{"a", "b", "c", "d"}
}

// ResolveLayout returns the layout the configuration selects: the supplied
// custom layout when layout is "custom", otherwise a named preset. An unknown
// name is an error and is never replaced by a default.
func ResolveLayout(cfg Configuration) (Layout, error) {
	errFactory := errors.New()

	s, err := cfg.Settings()
	if err != nil {
		return Layout{}, err
	}

	if s.Layout == CustomLayoutName {
		if s.CustomLayout == nil {
			return Layout{}, errFactory.WithData(ErrUnknownLayout, "custom layout selected but none supplied")
		}
		return *s.CustomLayout, nil
	}

	layout, ok := presets[s.Layout]
	if !ok {
		return Layout{}, errFactory.WithData(ErrUnknownLayout, s.Layout)
	}

	return layout.clone(), nil
}

// Enabled returns the enabled elements in layout order.
func (l Layout) Enabled() []ElementConfig {
	var out []ElementConfig
	for _, e := range l.Elements {
		if e.Enabled {
			out = append(out, e)
		}
	}

	return out
}

// TimeAlignCode maps the time alignment name to its wire code.
func (l Layout) TimeAlignCode() (int, error) {
	code, ok := timeAlignCodes[l.TimeAlign]
	if !ok {
		return 0, errors.New().WithData(ErrUnknownAlign, l.TimeAlign)
	}

	return code, nil
}

// BatteryLocCode maps the battery location name to its wire code.
func (l Layout) BatteryLocCode() (int, error) {
	code, ok := batteryLocCodes[l.BatteryLoc]
	if !ok {
		return 0, errors.New().WithData(ErrUnknownBattLoc, l.BatteryLoc)
	}

	return code, nil
}

// Encode flattens the element into property order.
func (e ElementConfig) Encode() []int {
	out := make([]int, PropertyCount)
	for i, p := range properties {
		out[i] = p.value(e)
	}

	return out
}

func (l Layout) clone() Layout {
	out := l
	out.Elements = append([]ElementConfig(nil), l.Elements...)

	return out
}

func (l Layout) toMap() map[string]any {
	elements := make([]any, len(l.Elements))
	for i, e := range l.Elements {
		elements[i] = map[string]any{
			"enabled": e.Enabled,
			"el":      e.El,
			"width":   e.Width,
			"height":  e.Height,
			"black":   e.Black,
			"bottom":  e.Bottom,
			"right":   e.Right,
		}
	}

	return map[string]any{
		"timeAlign":  l.TimeAlign,
		"batteryLoc": l.BatteryLoc,
		"elements":   elements,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
