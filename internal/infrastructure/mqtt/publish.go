package mqtt

import (
	"fmt"
	"strings"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message and waits for the broker acknowledgement.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Example:
//
//	topic := mqtt.Topics{}.Control("wb-gpio", "EXT1_R3A1")
//	err := client.Publish(topic, []byte("1"), 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString is a convenience method that publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// PublishAsync hands a message to the broker connection and returns at once.
// onComplete is called exactly once from another goroutine: with nil when
// the broker acknowledged the message, or with the failure.
//
// Unlike Publish there is no timeout. While the client is reconnecting,
// paho stores QoS 1 and 2 messages and the acknowledgement arrives after
// the connection is back.
func (c *Client) PublishAsync(topic string, payload []byte, qos byte, retained bool, onComplete func(error)) {
	if onComplete == nil {
		onComplete = func(error) {}
	}

	if err := validatePublish(topic, payload, qos); err != nil {
		go onComplete(err)
		return
	}
	if c.client == nil {
		go onComplete(ErrNotConnected)
		return
	}

	token := c.client.Publish(topic, qos, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			onComplete(fmt.Errorf("%w: %w", ErrPublishFailed, err))
			return
		}
		onComplete(nil)
	}()
}

// validatePublish checks publish arguments before touching the connection.
func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
