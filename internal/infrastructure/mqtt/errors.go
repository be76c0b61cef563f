package mqtt

import "errors"

// Sentinel errors returned by Client. Publish failures also reach
// PublishAsync callbacks, where the publish pump counts them.
var (
	// ErrNotConnected means the broker session is down. Publishes are not
	// queued by the client while reconnecting.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the error from the initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed covers broker rejections, publish timeouts and
	// oversized payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when the broker does not confirm a
	// subscription or the handler is nil.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects empty topics, and wildcards in publish topics.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
