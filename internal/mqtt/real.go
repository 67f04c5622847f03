package mqtt

import (
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/schedule"
)

// DefaultBufferSize is how many outbound messages are held while offline.
const DefaultBufferSize = 100

var (
	messagesBuffered = metrics.NewCounter(`mqtt_messages_buffered_total`)
	messagesDropped  = metrics.NewCounter(`mqtt_messages_dropped_total`)
	messagesReplayed = metrics.NewCounter(`mqtt_messages_replayed_total`)
	messagesReceived = metrics.NewCounter(`mqtt_messages_received_total`)
)

// Config holds broker connection settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Prefix         string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	BufferSize     int
}

// Option configures a Client.
type Option func(*Client)

// WithOnConnect registers fn to run after every (re)connect, once
// subscriptions are in place and buffered messages have been replayed.
// fn receives the client, so it can publish before NewClient returns.
func WithOnConnect(fn func(Publisher)) Option {
	return func(c *Client) {
		c.hooks = append(c.hooks, fn)
	}
}

// Client is a Publisher backed by a paho client. Messages published while
// the connection is down are buffered and replayed in order on reconnect.
type Client struct {
	client         paho.Client
	topics         Topics
	qos            byte
	publishTimeout time.Duration
	handler        Handler
	log            *zap.SugaredLogger
	hooks          []func(Publisher)

	mu   sync.Mutex // guards buf and live, orders publishes against replay
	buf  *ring[pending]
	live bool // the current connection has replayed the buffer
}

func newClient(cfg Config, handler Handler, log *zap.SugaredLogger, opts ...Option) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	c := &Client{
		topics:         NewTopics(cfg.Prefix),
		qos:            cfg.QoS,
		publishTimeout: cfg.PublishTimeout,
		handler:        handler,
		log:            log,
		buf:            newRing[pending](cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient connects to the broker. If the broker does not answer within the
// connect timeout the client is returned anyway and keeps retrying in the
// background; publishes are buffered until it connects.
func NewClient(cfg Config, handler Handler, log *zap.SugaredLogger, opts ...Option) (*Client, error) {
	c := newClient(cfg, handler, log, opts...)

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	po := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(c.topics.Full(TopicSystem), string(will), cfg.QoS, false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		log.Warnw("broker not reachable yet, buffering until connected", "broker", cfg.Broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *Client) onConnect(pc paho.Client) {
	c.log.Infow("mqtt connected")

	filters := make(map[string]byte, len(InboundTopics))
	for _, rel := range InboundTopics {
		filters[c.topics.Full(rel)] = c.qos
	}
	token := pc.SubscribeMultiple(filters, c.onMessage)
	if !token.WaitTimeout(c.publishTimeout) {
		c.log.Warnw("subscribe timed out")
	} else if err := token.Error(); err != nil {
		c.log.Errorw("subscribe failed", "error", err)
	}

	c.replay(pc)
	for _, fn := range c.hooks {
		fn(c)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.mu.Lock()
	c.live = false
	c.mu.Unlock()
	c.log.Warnw("mqtt connection lost", "error", err)
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	messagesReceived.Inc()
	rel, ok := c.topics.Relative(msg.Topic())
	if !ok {
		c.log.Warnw("message on unexpected topic", "topic", msg.Topic())
		return
	}
	c.handler(rel, msg.Payload())
}

// replay publishes everything buffered while offline, oldest first, then lets
// publish go straight to the broker.
func (c *Client) replay(pc paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.buf.drain()
	c.live = true
	for _, m := range msgs {
		pc.Publish(m.topic, c.qos, false, m.payload)
	}
	if len(msgs) > 0 {
		messagesReplayed.Add(len(msgs))
		c.log.Infow("replayed buffered messages", "count", len(msgs))
	}
}

func (c *Client) publish(rel string, payload []byte) error {
	topic := c.topics.Full(rel)

	c.mu.Lock()
	// paho reports the connection open before onConnect has replayed, so
	// both must hold or a new message would overtake buffered ones.
	if !c.live || !c.client.IsConnectionOpen() {
		if c.buf.push(pending{topic: topic, payload: payload}) {
			messagesDropped.Inc()
			if c.buf.dropped == 1 {
				c.log.Warnw("offline buffer full, dropping oldest", "capacity", c.buf.cap())
			}
		}
		messagesBuffered.Inc()
		c.mu.Unlock()
		return nil
	}
	token := c.client.Publish(topic, c.qos, false, payload)
	c.mu.Unlock()

	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishStatus publishes "ON" or "OFF".
func (c *Client) PublishStatus(status string) error {
	return c.publish(TopicStatus, []byte(status))
}

// PublishTemperature publishes the RTC die temperature.
func (c *Client) PublishTemperature(celsius float64) error {
	return c.publish(TopicTemperature, FormatTemperature(celsius))
}

// PublishTime publishes HH:MM.
func (c *Client) PublishTime(t time.Time) error {
	return c.publish(TopicTime, FormatTime(t))
}

// PublishDate publishes DD-MM-YYYY.
func (c *Client) PublishDate(t time.Time) error {
	return c.publish(TopicDate, FormatDate(t))
}

// PublishSchedule publishes the schedule window.
func (c *Client) PublishSchedule(w schedule.Window) error {
	payload, err := FormatSchedule(w)
	if err != nil {
		return fmt.Errorf("format schedule: %w", err)
	}
	return c.publish(TopicSchedule, payload)
}

// PublishSystem publishes a lifecycle event.
func (c *Client) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(TopicSystem, payload)
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns how many messages are waiting for a connection.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(1000)
	return nil
}
