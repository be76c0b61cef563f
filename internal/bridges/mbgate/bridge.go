package mbgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/mqtt"
)

// defaultQoS is used for every subscription and publish of the gateway.
const defaultQoS = 1

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// PublishAsync hands a message to the broker and reports the
	// acknowledgement through onComplete, exactly once.
	PublishAsync(topic string, payload []byte, qos byte, retained bool, onComplete func(error))

	// SubscribeMany registers one handler for a set of topics. The client
	// must reissue the subscriptions on every reconnect.
	SubscribeMany(topics []string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BrokerSender publishes pump messages to the broker. It maps a channel
// key to its control topic plus the write suffix and publishes retained.
type BrokerSender struct {
	mqtt   MQTTClient
	suffix string
	qos    byte
}

// NewBrokerSender creates a sender. suffix is appended to every control
// topic ("/on" asks the device driver to apply the value).
func NewBrokerSender(client MQTTClient, suffix string) *BrokerSender {
	return &BrokerSender{mqtt: client, suffix: suffix, qos: defaultQoS}
}

// Send implements Sender.
func (s *BrokerSender) Send(channel string, payload []byte, ack func(error)) {
	topic, ok := mqtt.ChannelTopic(channel)
	if !ok {
		ack(fmt.Errorf("%w: %q is not a device/control key", ErrUnknownTopic, channel))
		return
	}
	s.mqtt.PublishAsync(topic+s.suffix, payload, s.qos, true, ack)
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected        bool   `json:"connected"`
	Subscriptions    int    `json:"subscriptions"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesApplied  uint64 `json:"messages_applied"`
	MessagesIgnored  uint64 `json:"messages_ignored"`
	MessagesRejected uint64 `json:"messages_rejected"`
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Context holds the register files updated from broker messages.
	Context *ServerContext

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge is the broker side of the gateway. It subscribes to the control
// topic of every channel and stores inbound values in the owning blocks.
// Values written by Modbus clients travel the other way through the Pump.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt    MQTTClient
	context *ServerContext

	subscriptions atomic.Int64

	received atomic.Uint64
	applied  atomic.Uint64
	ignored  atomic.Uint64
	rejected atomic.Uint64

	stopOnce sync.Once
	stopped  atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Context == nil {
		return nil, errors.New("server context is required")
	}

	return &Bridge{
		mqtt:    opts.MQTTClient,
		context: opts.Context,
		logger:  opts.Logger,
	}, nil
}

// Start subscribes to the control topic of every channel. Retained values
// delivered by the broker prime the register cache.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	channels := b.context.Topics()
	topics := make([]string, 0, len(channels))
	for _, ch := range channels {
		topic, ok := mqtt.ChannelTopic(ch)
		if !ok {
			b.logWarn("channel key is not device/control, not subscribing", "channel", ch)
			continue
		}
		topics = append(topics, topic)
	}

	if err := b.mqtt.SubscribeMany(topics, defaultQoS, b.HandleMessage); err != nil {
		return fmt.Errorf("subscribe to controls: %w", err)
	}
	b.subscriptions.Store(int64(len(topics)))

	b.logInfo("bridge started",
		"units", len(b.context.UnitIDs()),
		"channels", b.context.ChannelCount(),
		"subscriptions", len(topics))

	return nil
}

// Stop makes the bridge ignore further broker messages.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		b.logInfo("bridge stopped")
	})
}

// HandleMessage stores an inbound control value in every block holding
// the channel. Messages for topics without a channel are ignored.
func (b *Bridge) HandleMessage(topic string, payload []byte) {
	if b.stopped.Load() {
		return
	}
	b.received.Add(1)

	channel, ok := mqtt.ChannelKey(topic)
	if !ok {
		b.ignored.Add(1)
		return
	}

	blocks := b.context.BlocksForTopic(channel)
	if len(blocks) == 0 {
		b.ignored.Add(1)
		b.logDebug("no channel for topic", "topic", topic)
		return
	}

	for _, blk := range blocks {
		if err := blk.WriteByTopic(channel, string(payload)); err != nil {
			b.rejected.Add(1)
			b.logWarn("rejected broker value",
				"topic", topic,
				"unit", blk.UnitID(),
				"category", blk.Category().String(),
				"error", err)
			continue
		}
		b.applied.Add(1)
	}
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		Subscriptions:    int(b.subscriptions.Load()),
		MessagesReceived: b.received.Load(),
		MessagesApplied:  b.applied.Load(),
		MessagesIgnored:  b.ignored.Load(),
		MessagesRejected: b.rejected.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	logInfo(b.getLogger(), msg, keysAndValues...)
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	logWarn(b.getLogger(), msg, keysAndValues...)
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	logDebug(b.getLogger(), msg, keysAndValues...)
}
