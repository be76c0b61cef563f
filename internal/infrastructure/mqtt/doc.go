// Package mqtt provides MQTT client connectivity for the gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Synchronous and acknowledgement-driven publishing
//   - Topic subscriptions, restored in sorted order on every reconnect
//   - Wiren Board topic conventions (/devices/{device}/controls/{control})
//
// # Architecture
//
// The broker holds the retained state of every device control. The gateway
// subscribes to the controls listed in its channel map and publishes values
// written by Modbus clients back to the broker.
//
//	Modbus TCP clients ↔ mbgate ↔ MQTT Broker ↔ Device drivers
//
// # Publishing
//
// PublishAsync is the path used by the gateway: it returns immediately and
// reports the broker acknowledgement through a callback, which paces the
// publish pump. Publish waits for the acknowledgement with a timeout.
//
// # Security Considerations
//
//   - TLS is enabled with cfg.Broker.TLS
//   - Credentials are validated against broker ACL
//   - Never log credentials
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeMany(topics, 1, func(topic string, payload []byte) error {
//	    return nil
//	})
//
//	client.PublishAsync(mqtt.Topics{}.ControlOn("wb-gpio", "EXT1_R3A1"), []byte("1"), 1, true,
//	    func(err error) { /* acknowledged */ })
package mqtt
