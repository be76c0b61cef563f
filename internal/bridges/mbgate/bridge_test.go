package mbgate

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	subscribed []string
	subQoS     byte
	handler    func(topic string, payload []byte)
	connected  bool
	subErr     error
	pubErr     error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true}
}

func (m *MockMQTTClient) PublishAsync(topic string, payload []byte, qos byte, retained bool, onComplete func(error)) {
	m.mu.Lock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	err := m.pubErr
	m.mu.Unlock()
	onComplete(err)
}

func (m *MockMQTTClient) SubscribeMany(topics []string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.subscribed = append(m.subscribed, topics...)
	m.subQoS = qos
	m.handler = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// Deliver simulates an inbound broker message.
func (m *MockMQTTClient) Deliver(topic, payload string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

func newTestBridge(t *testing.T, client *MockMQTTClient) (*Bridge, *ServerContext) {
	t.Helper()

	m := fullMap(
		onUnit(holding("wb-msw/Temperature", 0, FormatSigned, 2), 1),
		onUnit(input("wb-msw/Temperature", 4, FormatSigned, 2), 1),
		onUnit(holding("wb-adc/Vin", 1, FormatFloat, 4), 2),
		onUnit(coil("wb-gpio/K1", 0), 1),
	)
	sc, err := BuildContext(m, nil)
	if err != nil {
		t.Fatalf("BuildContext() error = %v", err)
	}

	bridge, err := NewBridge(BridgeOptions{MQTTClient: client, Context: sc})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	return bridge, sc
}

func TestNewBridge_Validation(t *testing.T) {
	sc, err := BuildContext(fullMap(), nil)
	if err != nil {
		t.Fatalf("BuildContext() error = %v", err)
	}

	if _, err := NewBridge(BridgeOptions{Context: sc}); err == nil {
		t.Error("NewBridge() without MQTT client should fail")
	}
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("NewBridge() without context should fail")
	}
}

func TestBridge_StartSubscribesSorted(t *testing.T) {
	client := NewMockMQTTClient()
	bridge, _ := newTestBridge(t, client)

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []string{
		"/devices/wb-adc/controls/Vin",
		"/devices/wb-gpio/controls/K1",
		"/devices/wb-msw/controls/Temperature",
	}
	if !slices.Equal(client.subscribed, want) {
		t.Errorf("subscribed = %v, want %v", client.subscribed, want)
	}
	if client.subQoS != 1 {
		t.Errorf("subscribe QoS = %d, want 1", client.subQoS)
	}
	if got := bridge.GetMetrics().Subscriptions; got != 3 {
		t.Errorf("Subscriptions = %d, want 3", got)
	}
}

func TestBridge_StartErrors(t *testing.T) {
	client := NewMockMQTTClient()
	client.subErr = errors.New("broker refused")
	bridge, _ := newTestBridge(t, client)

	if err := bridge.Start(context.Background()); err == nil {
		t.Error("Start() error = nil, want subscribe failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bridge.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestBridge_HandleMessageUpdatesEveryBlock(t *testing.T) {
	client := NewMockMQTTClient()
	bridge, sc := newTestBridge(t, client)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client.Deliver("/devices/wb-msw/controls/Temperature", "21")

	hold, _ := sc.Block(1, HoldingRegisters)
	in, _ := sc.Block(1, InputRegisters)
	for _, tc := range []struct {
		blk  *DataBlock
		addr int
	}{{hold, 1}, {in, 5}} {
		words, err := tc.blk.Read(tc.addr, 1)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if words[0] != 21 {
			t.Errorf("%s value = %d, want 21", tc.blk.Category(), words[0])
		}
	}

	m := bridge.GetMetrics()
	if m.MessagesReceived != 1 || m.MessagesApplied != 2 {
		t.Errorf("metrics = %+v, want 1 received 2 applied", m)
	}
}

func TestBridge_HandleMessageIgnoredAndRejected(t *testing.T) {
	client := NewMockMQTTClient()
	bridge, sc := newTestBridge(t, client)

	bridge.HandleMessage("/devices/unknown/controls/X", []byte("1"))
	bridge.HandleMessage("/devices/wb-adc/controls/Vin/on", []byte("1"))
	bridge.HandleMessage("/devices/wb-adc/controls/Vin", []byte("not a number"))

	m := bridge.GetMetrics()
	if m.MessagesReceived != 3 || m.MessagesIgnored != 2 || m.MessagesRejected != 1 || m.MessagesApplied != 0 {
		t.Errorf("metrics = %+v", m)
	}

	blk, _ := sc.Block(2, HoldingRegisters)
	words, _ := blk.Read(2, 2)
	if !slices.Equal(words, []uint16{0, 0}) {
		t.Errorf("rejected value changed the cache: %v", words)
	}
}

func TestBridge_StopIgnoresMessages(t *testing.T) {
	client := NewMockMQTTClient()
	bridge, sc := newTestBridge(t, client)

	bridge.Stop()
	bridge.Stop()
	bridge.HandleMessage("/devices/wb-gpio/controls/K1", []byte("1"))

	blk, _ := sc.Block(1, Coils)
	words, _ := blk.Read(1, 1)
	if words[0] != 0 {
		t.Error("stopped bridge applied a message")
	}
	if bridge.GetMetrics().MessagesReceived != 0 {
		t.Error("stopped bridge counted a message")
	}
}

func TestBridge_MetricsConnected(t *testing.T) {
	client := NewMockMQTTClient()
	bridge, _ := newTestBridge(t, client)

	if !bridge.GetMetrics().Connected {
		t.Error("Connected = false")
	}
	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()
	if bridge.GetMetrics().Connected {
		t.Error("Connected = true after disconnect")
	}
}

func TestBridge_SetLogger(t *testing.T) {
	client := NewMockMQTTClient()
	bridge, _ := newTestBridge(t, client)
	logger := &captureLogger{}
	bridge.SetLogger(logger)

	bridge.HandleMessage("/devices/wb-adc/controls/Vin", []byte("bad"))
	if logger.count("warn") != 1 {
		t.Errorf("warn logs = %d, want 1", logger.count("warn"))
	}
}

func TestBrokerSender(t *testing.T) {
	tests := []struct {
		name      string
		suffix    string
		channel   string
		wantTopic string
		wantErr   error
	}{
		{"write suffix", "/on", "wb-gpio/K1", "/devices/wb-gpio/controls/K1/on", nil},
		{"no suffix", "", "wb-adc/Vin", "/devices/wb-adc/controls/Vin", nil},
		{"bad key", "/on", "not-a-key", "", ErrUnknownTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			sender := NewBrokerSender(client, tt.suffix)

			var got error
			calls := 0
			sender.Send(tt.channel, []byte("1"), func(err error) {
				calls++
				got = err
			})

			if calls != 1 {
				t.Fatalf("ack called %d times, want 1", calls)
			}
			if !errors.Is(got, tt.wantErr) {
				t.Errorf("ack error = %v, want %v", got, tt.wantErr)
			}

			pubs := client.GetPublished()
			if tt.wantErr != nil {
				if len(pubs) != 0 {
					t.Errorf("published %d messages, want 0", len(pubs))
				}
				return
			}
			if len(pubs) != 1 {
				t.Fatalf("published %d messages, want 1", len(pubs))
			}
			if pubs[0].Topic != tt.wantTopic || !pubs[0].Retained || pubs[0].QoS != 1 || string(pubs[0].Payload) != "1" {
				t.Errorf("publish = %+v", pubs[0])
			}
		})
	}
}

// TestGateway_ModbusWriteReachesBroker wires block, pump and sender together.
func TestGateway_ModbusWriteReachesBroker(t *testing.T) {
	client := NewMockMQTTClient()
	pump := NewPump(NewBrokerSender(client, "/on"), nil)
	pump.Start(context.Background())
	defer pump.Stop()

	sc, err := BuildContext(fullMap(onUnit(coil("wb-gpio/K1", 0), 1), onUnit(coil("wb-gpio/K2", 1), 1)), pump)
	if err != nil {
		t.Fatalf("BuildContext() error = %v", err)
	}
	blk, _ := sc.Block(1, Coils)
	if err := blk.Write(1, []uint16{1, 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	waitFor(t, func() bool { return pump.Stats().Sent == 2 })
	pubs := client.GetPublished()
	if pubs[0].Topic != "/devices/wb-gpio/controls/K1/on" || pubs[1].Topic != "/devices/wb-gpio/controls/K2/on" {
		t.Errorf("published topics = %s, %s", pubs[0].Topic, pubs[1].Topic)
	}
}
