// Package mbgate implements the Modbus TCP to MQTT register gateway core.
//
// Each broker control listed in the channel map is mirrored into a fixed
// range of Modbus registers. Modbus clients read the last value seen on
// the broker; values they write are published back to the broker.
//
// # Components
//
//   - Codec converts between broker text values and register words
//     (signed, unsigned, BCD, float and varchar formats, with optional
//     byte and word swapping).
//   - RegisterMap loads the channel map document.
//   - BuildContext groups enabled channels into one DataBlock per
//     (unit id, register table) pair.
//   - DataBlock is the concurrent register file. Protocol-side access uses
//     1-based addresses and must be exactly covered by channels.
//   - Pump serialises outbound publishes with at most one awaiting
//     broker acknowledgement.
//   - Bridge subscribes to every channel's control topic and stores
//     inbound values.
//
// # Data Flow
//
//	broker message → Bridge → DataBlock.WriteByTopic → Codec.Encode → cache
//	Modbus write → DataBlock.Write → Codec.Decode → Pump → BrokerSender → broker
//
// # Concurrency
//
// Each DataBlock has its own RWMutex and no code path holds two block
// locks. The Pump has its own lock and one send goroutine; network sends
// never happen while a block lock is held. Conflicting writes from both
// sides resolve as last writer wins.
//
// # Usage
//
//	regmap, err := mbgate.LoadRegisterMap(path)
//	sender := mbgate.NewBrokerSender(mqttAdapter, "/on")
//	pump := mbgate.NewPump(sender, logger)
//	sc, err := mbgate.BuildContext(regmap, pump)
//	bridge, err := mbgate.NewBridge(mbgate.BridgeOptions{MQTTClient: mqttAdapter, Context: sc, Logger: logger})
//	pump.Start(ctx)
//	err = bridge.Start(ctx)
package mbgate
