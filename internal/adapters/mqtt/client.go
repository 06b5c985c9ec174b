// Package mqtt publishes sensor states and Home Assistant discovery over
// MQTT using the Eclipse Paho client.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/sync"
)

const (
	// publishTimeout bounds how long a publish is tracked before it is
	// logged as lost.
	publishTimeout = 10 * time.Second

	// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
	disconnectQuiesce = 250
)

// Options configures a Client.
type Options struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	QoS             byte
	Retain          bool
	DeviceName      string
	Version         string

	// OnConnect runs after every (re)connection, once the availability
	// message has been queued.
	OnConnect func()

	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)
}

// conn is the part of paho.Client the publisher uses.
type conn interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Client implements ports.ChangeNotifier and ports.DiscoveryPublisher.
type Client struct {
	opts Options

	mu   sync.Mutex
	conn conn

	wg sync.WaitGroup
}

// New creates a disconnected client. An empty ClientID gets a random one.
func New(opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = "filesensor-" + uuid.NewString()[:8]
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "File Sensor"
	}
	return &Client{opts: opts}
}

// ClientID returns the MQTT client id, also used as the discovery node id.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Connect starts the connection. The first attempt is bounded by ctx;
// after that paho keeps reconnecting in the background.
func (c *Client) Connect(ctx context.Context) error {
	availability := AvailabilityTopic(c.opts.TopicPrefix)

	po := paho.NewClientOptions().
		AddBroker(c.opts.Broker).
		SetClientID(c.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetWill(availability, PayloadOffline, c.opts.QoS, true).
		SetOnConnectHandler(func(paho.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleConnectionLost(err) })

	if c.opts.Username != "" {
		po.SetUsername(c.opts.Username)
		po.SetPassword(c.opts.Password)
	}

	client := paho.NewClient(po)

	c.mu.Lock()
	c.conn = client
	c.mu.Unlock()

	log.Info().
		Str("broker", c.opts.Broker).
		Str("client_id", c.opts.ClientID).
		Msg("connecting to mqtt broker")

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		// Connect retry continues in the background.
		return ctx.Err()
	}
	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cn == nil {
		return
	}

	if cn.IsConnectionOpen() {
		token := cn.Publish(AvailabilityTopic(c.opts.TopicPrefix), c.opts.QoS, true, PayloadOffline)
		token.WaitTimeout(time.Second)
	}
	cn.Disconnect(disconnectQuiesce)
	c.wg.Wait()

	log.Info().Msg("disconnected from mqtt broker")
}

// IsConnected reports whether the broker connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	return cn != nil && cn.IsConnectionOpen()
}

// OnStateChanged publishes state to the key's state topic. Failures are
// logged; the monitor never retries a notification.
func (c *Client) OnStateChanged(key string, state domain.State) {
	topic := StateTopic(c.opts.TopicPrefix, key)
	if err := c.publish(topic, c.opts.Retain, state.String()); err != nil {
		log.Warn().Err(err).Str("key", key).Str("topic", topic).Msg("state not published")
	}
}

// PublishDiscovery announces sensor as a Home Assistant binary_sensor.
func (c *Client) PublishDiscovery(sensor domain.Sensor) {
	if c.opts.DiscoveryPrefix == "" {
		return
	}

	cfg := NewDiscoveryConfig(sensor, c.opts.TopicPrefix, c.opts.ClientID, c.opts.DeviceName, c.opts.Version)
	payload, err := cfg.JSON()
	if err != nil {
		log.Error().Err(err).Str("key", sensor.Key).Msg("failed to encode discovery config")
		return
	}

	topic := DiscoveryTopic(c.opts.DiscoveryPrefix, c.opts.ClientID, sensor.Key)
	if err := c.publish(topic, true, payload); err != nil {
		log.Warn().Err(err).Str("key", sensor.Key).Msg("discovery not published")
	}
}

func (c *Client) publish(topic string, retained bool, payload interface{}) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil || !cn.IsConnectionOpen() {
		return domain.ErrNotConnected
	}

	token := cn.Publish(topic, c.opts.QoS, retained, payload)

	// Callers may hold a monitor lock, so completion is tracked off the
	// calling goroutine.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
			return
		}
		log.Trace().Str("topic", topic).Msg("mqtt published")
	}()
	return nil
}

func (c *Client) handleConnect() {
	log.Info().Str("broker", c.opts.Broker).Msg("mqtt connected")

	if err := c.publish(AvailabilityTopic(c.opts.TopicPrefix), true, PayloadOnline); err != nil {
		log.Warn().Err(err).Msg("availability not published")
	}
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
}

func (c *Client) handleConnectionLost(err error) {
	log.Warn().Err(err).Msg("mqtt connection lost")
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

var (
	_ ports.ChangeNotifier     = (*Client)(nil)
	_ ports.DiscoveryPublisher = (*Client)(nil)
)
