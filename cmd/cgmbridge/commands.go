package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/bridge"
	"codeberg.org/mutker/cgmbridge/internal/config"
	"codeberg.org/mutker/cgmbridge/internal/device"
	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/message"
	"codeberg.org/mutker/cgmbridge/internal/metrics"
	"codeberg.org/mutker/cgmbridge/internal/nightscout"
	"codeberg.org/mutker/cgmbridge/internal/pid"
	"codeberg.org/mutker/cgmbridge/internal/sgv"
	"codeberg.org/mutker/cgmbridge/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cgmbridge",
		Short:         "Send Nightscout glucose readings to a watch",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
			if !cfg.Debug && !cfg.Verbose {
				if level, ok := logger.ParseLevel(cfg.LogLevel); ok {
					logger.SetLogLevel(level)
				}
			}
			logger.Debug().Msg("Config loaded")

			return nil
		},
	}
	root.PersistentFlags().AddFlagSet(config.Flags())

	var configFile string
	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Apply watch settings from a JSON file",
		Long: `Merge watch settings from a JSON object onto the defaults, store them,
and send the resulting preferences and a fresh reading to the watch.

Use --file - to read the settings from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configureCommand(cmd.Context(), configFile, cmd.InOrStdin())
		},
	}
	configureCmd.Flags().StringVarP(&configFile, "file", "f", "-", "Settings JSON file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCommand(cmd.Context())
			},
		},
		configureCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Print the messages the watch would receive",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return showCommand(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)

	return root
}

// components owned by one command invocation.
type components struct {
	bridge  *bridge.Bridge
	closers []func() error
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("Failed to close component")
		}
	}
}

func setup(ctx context.Context, ch device.Channel, withHistory bool) (*components, error) {
	c := &components{}

	st, err := store.New(ctx, store.Config{DBPath: cfg.Database}, logger.Default())
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, st.Close)

	var history metrics.Collector
	if withHistory {
		history, err = metrics.NewService(metrics.Config{
			DBPath:       cfg.HistoryDB,
			Enabled:      cfg.History,
			BatchSize:    metrics.DefaultConfig().BatchSize,
			BatchTimeout: metrics.DefaultConfig().BatchTimeout,
		}, logger.Default())
		if err != nil {
			c.close()
			return nil, err
		}
		c.closers = append(c.closers, history.Close)
	}

	source := nightscout.New(nightscout.Config{
		APISecret:   cfg.APISecret,
		CacheTTL:    cfg.CacheTTL,
		FetchWindow: cfg.FetchWindow,
		Logger:      logger.Default(),
	})

	params := sgv.DefaultParams()
	params.FetchWindowSeconds = int(cfg.FetchWindow / time.Second)

	b, err := bridge.New(bridge.Config{
		Params:   params,
		Interval: cfg.IntervalDuration(),
		Site:     cfg.NightscoutURL,
	}, source, st, ch, history, logger.Default())
	if err != nil {
		c.close()
		return nil, err
	}

	if err := b.Load(ctx); err != nil {
		c.close()
		return nil, err
	}

	c.bridge = b
	return c, nil
}

func dial(ctx context.Context, listen bool) (*device.MQTT, error) {
	if err := cfg.RequireBroker(); err != nil {
		return nil, err
	}

	return device.DialMQTT(ctx, device.MQTTConfig{
		Broker:         cfg.MQTTBroker,
		Prefix:         cfg.MQTTPrefix,
		ClientID:       cfg.MQTTClientID,
		ListenRequests: listen,
	}, logger.Default())
}

func runCommand(ctx context.Context) error {
	pidFile := pid.New("", "")
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ch, err := dial(ctx, true)
	if err != nil {
		return err
	}

	c, err := setup(ctx, ch, true)
	if err != nil {
		_ = ch.Close()
		return err
	}
	c.closers = append([]func() error{ch.Close}, c.closers...)
	defer c.close()

	if err := c.bridge.Run(ctx); err != nil {
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}

	logger.Info().Msg("Exiting...")

	return nil
}

func configureCommand(ctx context.Context, path string, stdin io.Reader) error {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	ch, err := dial(ctx, false)
	if err != nil {
		return err
	}

	c, err := setup(ctx, ch, true)
	if err != nil {
		_ = ch.Close()
		return err
	}
	c.closers = append([]func() error{ch.Close}, c.closers...)
	defer c.close()

	return c.bridge.Reconfigure(ctx, raw)
}

func showCommand(ctx context.Context, out io.Writer) error {
	rec := device.NewRecorder()

	c, err := setup(ctx, rec, false)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.bridge.SendPreferences(ctx); err != nil {
		return err
	}
	if err := c.bridge.Deliver(ctx, c.bridge.Refresh(ctx)); err != nil {
		return err
	}

	for _, m := range rec.Sent() {
		if err := printMessage(out, m); err != nil {
			return err
		}
	}

	return nil
}

func printMessage(out io.Writer, m message.Message) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}

	header := fmt.Sprintf("%s (%s)", m.Kind(), humanize.Bytes(uint64(len(payload))))

	var view any = m
	if d, ok := m.(message.Data); ok {
		if d.Recency != sgv.NoDataRecency {
			age := time.Now().Add(-time.Duration(d.Recency) * time.Second)
			header += ", newest reading " + humanize.Time(age)
		}
		sgvs := make([]int, len(d.SGVs))
		for i, v := range d.SGVs {
			sgvs[i] = int(v)
		}
		view = struct {
			message.Data
			SGVs []int `json:"sgvs"`
		}{d, sgvs}
	}

	body, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s\n%s\n%s\n\n", header, hex.EncodeToString(payload), body)
	return err
}
