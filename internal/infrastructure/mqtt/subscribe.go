package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "/devices/+/controls/+" matches any device and control
//   - # (multi-level): "/devices/#" matches everything under /devices
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally).
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.AllControls(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// SubscribeMany registers one handler for a set of topics.
//
// Topics are sorted and sent in batches of SUBSCRIBE packets. All topics
// are tracked for restoration before the first packet goes out, so a
// reconnect during the call still restores the whole set. On error the
// topics of the failed batch and all later batches are untracked.
func (c *Client) SubscribeMany(topics []string, qos byte, handler MessageHandler) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	for _, topic := range topics {
		if topic == "" {
			return ErrInvalidTopic
		}
	}
	if len(topics) == 0 {
		return nil
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	sorted := make([]string, len(topics))
	copy(sorted, topics)
	sort.Strings(sorted)

	c.subMu.Lock()
	for _, topic := range sorted {
		c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	}
	c.subMu.Unlock()

	wrapped := c.wrapHandler(handler)
	for start := 0; start < len(sorted); start += maxSubscribeBatch {
		end := min(start+maxSubscribeBatch, len(sorted))

		filters := make(map[string]byte, end-start)
		for _, topic := range sorted[start:end] {
			filters[topic] = qos
		}

		token := c.client.SubscribeMultiple(filters, wrapped)
		if !token.WaitTimeout(defaultPublishTimeout) {
			c.forget(sorted[start:]...)
			return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
		}
		if err := token.Error(); err != nil {
			c.forget(sorted[start:]...)
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
	}

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// forget drops topics from restoration tracking.
func (c *Client) forget(topics ...string) {
	c.subMu.Lock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
