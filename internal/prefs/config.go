package prefs

import (
	"encoding/json"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"github.com/go-viper/mapstructure/v2"
)

// Setting names shared with the configuration page.
const (
	KeyMmol            = "mmol"
	KeyTopOfGraph      = "topOfGraph"
	KeyTopOfRange      = "topOfRange"
	KeyBottomOfRange   = "bottomOfRange"
	KeyBottomOfGraph   = "bottomOfGraph"
	KeyHGridlines      = "hGridlines"
	KeyBatteryAsNumber = "batteryAsNumber"
	KeyLayout          = "layout"
	KeyCustomLayout    = "customLayout"
	KeyNightscoutURL   = "nightscout_url"

	CustomLayoutName = "custom"
)

// Configuration is the flat set of watch settings. A usable Configuration is
// always the result of Merge onto Defaults, so every default key is present.
type Configuration map[string]any

// Settings is the typed view of a Configuration.
type Settings struct {
	Mmol            bool    `mapstructure:"mmol"`
	TopOfGraph      int     `mapstructure:"topOfGraph"`
	TopOfRange      int     `mapstructure:"topOfRange"`
	BottomOfRange   int     `mapstructure:"bottomOfRange"`
	BottomOfGraph   int     `mapstructure:"bottomOfGraph"`
	HGridlines      int     `mapstructure:"hGridlines"`
	BatteryAsNumber bool    `mapstructure:"batteryAsNumber"`
	Layout          string  `mapstructure:"layout"`
	CustomLayout    *Layout `mapstructure:"customLayout"`
	NightscoutURL   string  `mapstructure:"nightscout_url"`
}

// Defaults returns a fresh copy of the complete default configuration.
func Defaults() Configuration {
	return Configuration{
		KeyMmol:            false,
		KeyTopOfGraph:      250,
		KeyTopOfRange:      200,
		KeyBottomOfRange:   70,
		KeyBottomOfGraph:   40,
		KeyHGridlines:      50,
		KeyBatteryAsNumber: false,
		KeyLayout:          "a",
		KeyCustomLayout:    presets["a"].toMap(),
		KeyNightscoutURL:   "",
	}
}

// Merge overlays override onto defaults key by key. Nested values are
// replaced, never merged. Neither input is modified.
func Merge(override, defaults Configuration) Configuration {
	out := make(Configuration, len(defaults)+len(override))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}

	return out
}

// ParseOverride decodes a JSON object received from the configuration page.
func ParseOverride(raw []byte) (Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.New().Wrap(ErrConfigParse, err)
	}
	if cfg == nil {
		return nil, errors.New().WithData(ErrConfigParse, "expected a JSON object")
	}

	return cfg, nil
}

// Settings decodes the configuration into its typed form. Numbers that
// arrive as JSON floats or numeric strings are accepted.
func (c Configuration) Settings() (Settings, error) {
	var s Settings

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return Settings{}, errors.New().Wrap(errors.ErrInternal, err)
	}

	if err := dec.Decode(map[string]any(c)); err != nil {
		return Settings{}, errors.New().Wrap(ErrConfigParse, err)
	}

	return s, nil
}

// String returns a setting as a string, or "" when it is absent or not a string.
func (c Configuration) String(key string) string {
	s, _ := c[key].(string)
	return s
}
