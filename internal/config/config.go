// Package config loads the process configuration from a TOML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "CGMBRIDGE"
	DefaultConfigName = "cgmbridge"
	DefaultConfigDir  = "/etc/cgmbridge"
	DefaultLogLevel   = LogLevelInfo

	defaultInterval    = 300
	defaultCacheTTL    = 60 * time.Second
	defaultFetchWindow = 3 * time.Hour
	defaultMQTTPrefix  = "cgmbridge"
	defaultDatabase    = "/var/lib/cgmbridge/settings.db"
	defaultHistoryDB   = "/var/lib/cgmbridge/history.db"
)

type Config struct {
	// Interval between refreshes in seconds.
	Interval      int           `mapstructure:"interval"`
	NightscoutURL string        `mapstructure:"nightscout_url"`
	APISecret     string        `mapstructure:"api_secret"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	FetchWindow   time.Duration `mapstructure:"fetch_window"`
	MQTTBroker    string        `mapstructure:"mqtt_broker"`
	MQTTPrefix    string        `mapstructure:"mqtt_prefix"`
	MQTTClientID  string        `mapstructure:"mqtt_client_id"`
	Database      string        `mapstructure:"database"`
	History       bool          `mapstructure:"history"`
	HistoryDB     string        `mapstructure:"history_database"`
	LogLevel      string        `mapstructure:"log_level"`
	Debug         bool          `mapstructure:"debug"`
	Verbose       bool          `mapstructure:"verbose"`
}

// Flags returns the flag set Load understands. Flag names use dashes where
// the file keys use underscores.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("cgmbridge", pflag.ContinueOnError)

	fs.Int("interval", defaultInterval, "Seconds between refreshes")
	fs.String("nightscout-url", "", "Nightscout site used when the watch has none configured")
	fs.String("api-secret", "", "Nightscout API secret")
	fs.Duration("cache-ttl", defaultCacheTTL, "How long Nightscout responses are reused")
	fs.Duration("fetch-window", defaultFetchWindow, "How far back readings are graphed")
	fs.String("mqtt-broker", "", "MQTT broker address (host:port)")
	fs.String("mqtt-prefix", defaultMQTTPrefix, "MQTT topic prefix")
	fs.String("mqtt-client-id", "", "MQTT client identifier")
	fs.String("database", defaultDatabase, "Path to the settings database")
	fs.Bool("history", false, "Record delivered messages")
	fs.String("history-database", defaultHistoryDB, "Path to the delivery history database")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")

	return fs
}

// Load reads the configuration. flags may be nil.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		configPath: os.Getenv(DefaultEnvPrefix + "_CONFIG"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(DefaultConfigDir)
	}

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("cache_ttl", defaultCacheTTL)
	v.SetDefault("fetch_window", defaultFetchWindow)
	v.SetDefault("mqtt_prefix", defaultMQTTPrefix)
	v.SetDefault("database", defaultDatabase)
	v.SetDefault("history", false)
	v.SetDefault("history_database", defaultHistoryDB)
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)

	// Keys without a default still need registering for AutomaticEnv to
	// reach them during Unmarshal.
	for _, key := range []string{"nightscout_url", "api_secret", "mqtt_broker", "mqtt_client_id"} {
		v.SetDefault(key, "")
	}
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.FetchWindow < 0 || c.CacheTTL < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "durations must not be negative")
	}
	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Database == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "database path is required")
	}
	if c.History && c.HistoryDB == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "history_database is required when history is enabled")
	}

	return nil
}

// RequireBroker reports a missing MQTT broker address.
func (c *Config) RequireBroker() error {
	if c.MQTTBroker == "" {
		return errors.New().WithMessage(errors.ErrMissingConfig, "mqtt_broker is required")
	}
	return nil
}

// IntervalDuration returns Interval as a time.Duration.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}
