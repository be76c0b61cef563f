package mqtt

import (
	"fmt"
	"strings"
)

// Wiren Board MQTT conventions.
//
// Every control lives at /devices/{device}/controls/{control}. The retained
// value of that topic is the current state; writes to the device go to the
// same topic with an "/on" suffix. Metadata is published under
// /devices/{device}/controls/{control}/meta/{key}.
const (
	// TopicPrefixDevices is the root of all device topics.
	TopicPrefixDevices = "/devices"

	// SuffixOn is appended to a control topic to request a change.
	SuffixOn = "/on"

	controlsSegment = "controls"
)

// Topics provides builders for Wiren Board MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.Control("wb-adc", "Vin")
//	// Returns: "/devices/wb-adc/controls/Vin"
type Topics struct{}

// Control returns the state topic of a control.
//
// Example: /devices/wb-adc/controls/Vin
func (Topics) Control(device, control string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixDevices, device, controlsSegment, control)
}

// ControlOn returns the write request topic of a control.
//
// Example: /devices/wb-gpio/controls/EXT1_R3A1/on
func (t Topics) ControlOn(device, control string) string {
	return t.Control(device, control) + SuffixOn
}

// ControlMeta returns a metadata topic of a control.
//
// Example: /devices/wb-adc/controls/Vin/meta/type
func (t Topics) ControlMeta(device, control, key string) string {
	return fmt.Sprintf("%s/meta/%s", t.Control(device, control), key)
}

// AllControls returns a wildcard pattern for every control state topic.
func (Topics) AllControls() string {
	return TopicPrefixDevices + "/+/" + controlsSegment + "/+"
}

// AllControlMeta returns a wildcard pattern for every control metadata topic.
func (Topics) AllControlMeta() string {
	return TopicPrefixDevices + "/+/" + controlsSegment + "/+/meta/+"
}

// ChannelTopic converts a "device/control" channel key into its control
// state topic. ok is false if the key is not exactly two non-empty parts
// or contains wildcards.
func ChannelTopic(channel string) (topic string, ok bool) {
	device, control, found := strings.Cut(channel, "/")
	if !found || !validSegment(device) || !validSegment(control) {
		return "", false
	}
	return Topics{}.Control(device, control), true
}

// ChannelKey converts a control state topic back to its "device/control"
// key. Topics with extra levels, such as meta or /on, are rejected.
func ChannelKey(topic string) (channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "" || "/"+parts[1] != TopicPrefixDevices || parts[3] != controlsSegment {
		return "", false
	}
	if !validSegment(parts[2]) || !validSegment(parts[4]) {
		return "", false
	}
	return parts[2] + "/" + parts[4], true
}

func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
