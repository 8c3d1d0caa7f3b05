package device

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/message"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

const (
	defaultPrefix    = "cgmbridge"
	defaultKeepAlive = 30
	requestTopic     = "request"
	configTopic      = "config"
	configBacklog    = 4
	contentType      = "application/octet-stream"
)

type MQTTConfig struct {
	// Broker is host:port, optionally prefixed with tcp://.
	Broker   string
	Prefix   string
	ClientID string
	// KeepAlive in seconds.
	KeepAlive uint16
	// ListenRequests subscribes to {Prefix}/request and {Prefix}/config.
	ListenRequests bool
}

func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.New().WithMessage(ErrInvalidConfig, "mqtt broker address is required")
	}
	return nil
}

// Topic returns the topic messages of kind k are published to.
func (c MQTTConfig) Topic(k message.Kind) string {
	return c.topic(k.String())
}

func (c MQTTConfig) topic(name string) string {
	return c.prefix() + "/" + name
}

func (c MQTTConfig) prefix() string {
	p := strings.TrimRight(c.Prefix, "/")
	if p == "" {
		return defaultPrefix
	}
	return p
}

// MQTT publishes messages as MQTT v5 packets, one topic per message kind.
type MQTT struct {
	cfg      MQTTConfig
	client   *paho.Client
	log      logger.Logger
	requests chan struct{}
	configs  chan []byte

	mu     sync.Mutex
	closed bool
}

// DialMQTT connects to the broker and, if configured, subscribes to watch
// requests.
func DialMQTT(ctx context.Context, cfg MQTTConfig, log logger.Logger) (*MQTT, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cgmbridge-" + uuid.NewString()
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(cfg.Broker, "tcp://"))
	if err != nil {
		return nil, errFactory.WithData(ErrConnectFailed, struct {
			Phase  string
			Broker string
			Error  string
		}{
			Phase:  "dial",
			Broker: cfg.Broker,
			Error:  err.Error(),
		})
	}

	m := &MQTT{
		cfg:      cfg,
		log:      log,
		requests: make(chan struct{}, 1),
		configs:  make(chan []byte, configBacklog),
	}

	m.client = paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			m.onPublish,
		},
		OnClientError: func(err error) {
			log.Warn().Err(err).Msg("MQTT client error")
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			log.Warn().Uint8("reason_code", d.ReasonCode).Msg("MQTT broker disconnected")
		},
	})

	ca, err := m.client.Connect(ctx, &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, errFactory.WithData(ErrConnectFailed, struct {
			Phase  string
			Broker string
			Error  string
		}{
			Phase:  "connect",
			Broker: cfg.Broker,
			Error:  err.Error(),
		})
	}

	log.Info().
		Str("broker", cfg.Broker).
		Str("client_id", cfg.ClientID).
		Uint8("reason_code", ca.ReasonCode).
		Msg("Connected to MQTT broker")

	if cfg.ListenRequests {
		if _, err := m.client.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: cfg.topic(requestTopic), QoS: 1},
				{Topic: cfg.topic(configTopic), QoS: 1},
			},
		}); err != nil {
			_ = m.Close()
			return nil, errFactory.Wrap(ErrSubscribe, err)
		}
		log.Debug().Str("prefix", cfg.prefix()).Msg("Listening for watch requests")
	}

	return m, nil
}

func (m *MQTT) Send(ctx context.Context, msg message.Message) error {
	errFactory := errors.New()

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return errFactory.New(ErrChannelClosed)
	}

	payload, err := message.Encode(msg)
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	id := uuid.Must(uuid.NewV7())
	topic := m.cfg.Topic(msg.Kind())

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := m.client.Publish(sendCtx, &paho.Publish{
		QoS:     1,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     contentType,
			CorrelationData: id[:],
		},
	}); err != nil {
		return errFactory.WithData(ErrSendFailed, struct {
			Topic string
			Error string
		}{
			Topic: topic,
			Error: err.Error(),
		})
	}

	m.log.Debug().
		Str("topic", topic).
		Str("correlation_id", id.String()).
		Int("bytes", len(payload)).
		Msg("Message published")

	return nil
}

func (m *MQTT) Requests() <-chan struct{} {
	return m.requests
}

func (m *MQTT) Configs() <-chan []byte {
	return m.configs
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return errors.New().Wrap(ErrShutdownFailed, err)
	}

	m.log.Debug().Msg("Disconnected from MQTT broker")

	return nil
}

func (m *MQTT) onPublish(pr paho.PublishReceived) (bool, error) {
	switch pr.Packet.Topic {
	case m.cfg.topic(requestTopic):
		select {
		case m.requests <- struct{}{}:
		default:
		}
	case m.cfg.topic(configTopic):
		payload := append([]byte(nil), pr.Packet.Payload...)
		select {
		case m.configs <- payload:
		default:
			m.log.Warn().Int("bytes", len(payload)).Msg("Dropping configuration, backlog full")
		}
	default:
		return false, nil
	}

	return true, nil
}
