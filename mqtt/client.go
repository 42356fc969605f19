// Package mqtt exposes device datapoints on an MQTT broker.
package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	Server   string
	ClientID string
	Username string
	Password string
	// WillTopic, when set, gets "offline" retained if the client drops.
	WillTopic string
	// Reconnect is the period of the reconnect loop, 5s when zero.
	Reconnect time.Duration
}

var ErrNotConnected = errors.New("mqtt client not connected")

// Publisher is what a Bridge needs from a broker connection.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload string) error
	Subscribe(topic string, callback func(payload string)) error
}

// Client is a paho client that keeps reconnecting in the background.
// Subscriptions are replayed after every reconnect.
type Client struct {
	opts   *paho.ClientOptions
	logger zerolog.Logger

	mu      sync.Mutex
	client  paho.Client
	session int
	subs    map[string]func(string)
	done    chan struct{}
	closed  bool
}

func New(config Config, logger zerolog.Logger) *Client {
	m := &Client{
		logger: logger.With().Str("broker", config.Server).Logger(),
		subs:   make(map[string]func(string)),
		done:   make(chan struct{}),
	}

	m.opts = paho.NewClientOptions().
		AddBroker(config.Server).
		SetClientID(config.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false)
	if config.Username != "" {
		m.opts.SetUsername(config.Username)
		if config.Password != "" {
			m.opts.SetPassword(config.Password)
		}
	}
	if config.WillTopic != "" {
		m.opts.SetWill(config.WillTopic, "offline", 1, true)
	}
	m.opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		m.logger.Warn().Err(err).Msg("mqtt disconnected")
	})

	period := config.Reconnect
	if period <= 0 {
		period = 5 * time.Second
	}

	m.connect()
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
			}
			m.mu.Lock()
			lost := m.client == nil || !m.client.IsConnectionOpen()
			m.mu.Unlock()
			if lost {
				m.connect()
			}
		}
	}()
	return m
}

func (m *Client) connect() {
	m.logger.Debug().Msg("connecting to mqtt")
	c := paho.NewClient(m.opts)
	token := c.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		m.logger.Warn().Err(err).Msg("mqtt connect failed")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		c.Disconnect(100)
		return
	}
	m.client = c
	m.session++
	m.logger.Info().Int("session", m.session).Msg("connected to mqtt")
	for topic, cb := range m.subs {
		if err := subscribe(c, topic, cb); err != nil {
			m.logger.Warn().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (m *Client) current() paho.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Client) Publish(topic string, qos byte, retained bool, payload string) error {
	c := m.current()
	if c == nil {
		return ErrNotConnected
	}
	token := c.Publish(topic, qos, retained, payload)
	token.Wait()
	return errors.Wrapf(token.Error(), "publish %s", topic)
}

// Subscribe registers callback for topic. The subscription is kept across
// reconnects even when the first attempt fails.
func (m *Client) Subscribe(topic string, callback func(payload string)) error {
	m.mu.Lock()
	m.subs[topic] = callback
	c := m.client
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return subscribe(c, topic, callback)
}

func subscribe(c paho.Client, topic string, callback func(string)) error {
	token := c.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		callback(string(msg.Payload()))
	})
	token.Wait()
	return errors.Wrapf(token.Error(), "subscribe %s", topic)
}

func (m *Client) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}
