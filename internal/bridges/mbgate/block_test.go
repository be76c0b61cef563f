package mbgate

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"testing"
)

// recordingPublisher captures Enqueue calls in order.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

type published struct {
	Topic   string
	Payload string
}

func (p *recordingPublisher) Enqueue(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{Topic: topic, Payload: string(payload)})
}

func (p *recordingPublisher) Messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.messages))
	copy(out, p.messages)
	return out
}

func holding(topic string, address uint16, format Format, size int) Channel {
	return Channel{
		Topic:    topic,
		Address:  address,
		Category: HoldingRegisters,
		Enabled:  true,
		Kind:     KindRegister,
		Format:   format,
		Size:     size,
		Scale:    1,
	}
}

func coil(topic string, address uint16) Channel {
	return Channel{Topic: topic, Address: address, Category: Coils, Enabled: true, Kind: KindDiscrete}
}

// testBlock lays out, zero-based:
//
//	0     dev/a  signed 16
//	1-2   dev/b  unsigned 32
//	3     dev/c  signed 16
//	(gap at 4)
//	5-6   dev/f  float 32
func testBlock(pub Publisher) *DataBlock {
	return newDataBlock(1, HoldingRegisters, []Channel{
		holding("dev/f", 5, FormatFloat, 4),
		holding("dev/a", 0, FormatSigned, 2),
		holding("dev/c", 3, FormatSigned, 2),
		holding("dev/b", 1, FormatUnsigned, 4),
	}, pub)
}

func TestDataBlock_TopicsInAddressOrder(t *testing.T) {
	blk := testBlock(nil)

	want := []string{"dev/a", "dev/b", "dev/c", "dev/f"}
	if got := blk.Topics(); !slices.Equal(got, want) {
		t.Errorf("Topics() = %v, want %v", got, want)
	}
	if blk.Len() != 4 {
		t.Errorf("Len() = %d, want 4", blk.Len())
	}
	if !blk.HasTopic("dev/b") || blk.HasTopic("dev/x") {
		t.Error("HasTopic() mismatch")
	}
	if blk.UnitID() != 1 || blk.Category() != HoldingRegisters {
		t.Errorf("identity = %d/%s", blk.UnitID(), blk.Category())
	}
}

func TestDataBlock_ValidatePresence(t *testing.T) {
	blk := testBlock(nil)

	tests := []struct {
		name    string
		address int
		count   int
		want    bool
	}{
		{"single register channel", 1, 1, true},
		{"two register channel", 2, 2, true},
		{"contiguous span", 1, 4, true},
		{"channel after gap", 6, 2, true},
		{"split channel start", 2, 1, false},
		{"split channel end", 3, 1, false},
		{"straddles end of channel", 3, 2, false},
		{"gap", 5, 1, false},
		{"across gap", 4, 3, false},
		{"zero address", 0, 1, false},
		{"zero count", 1, 0, false},
		{"past block", 8, 1, false},
		{"past address space", 65536, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := blk.ValidatePresence(tt.address, tt.count); got != tt.want {
				t.Errorf("ValidatePresence(%d, %d) = %v, want %v", tt.address, tt.count, got, tt.want)
			}
		})
	}
}

func TestDataBlock_EmptyBlockRejectsEverything(t *testing.T) {
	blk := newDataBlock(1, InputRegisters, nil, nil)

	if blk.ValidatePresence(1, 1) {
		t.Error("empty block reported presence")
	}
	if _, err := blk.Read(1, 1); !errors.Is(err, ErrIllegalAddress) {
		t.Errorf("Read() error = %v, want ErrIllegalAddress", err)
	}
}

func TestDataBlock_ReadReturnsZeroInitially(t *testing.T) {
	blk := testBlock(nil)

	words, err := blk.Read(1, 4)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !slices.Equal(words, []uint16{0, 0, 0, 0}) {
		t.Errorf("Read() = %v, want zeros", words)
	}
}

func TestDataBlock_ReadRejectsPartialChannel(t *testing.T) {
	blk := testBlock(nil)

	if _, err := blk.Read(2, 1); !errors.Is(err, ErrIllegalAddress) {
		t.Errorf("Read() error = %v, want ErrIllegalAddress", err)
	}
}

func TestDataBlock_WriteByTopicThenRead(t *testing.T) {
	blk := testBlock(nil)

	if err := blk.WriteByTopic("dev/b", "65538"); err != nil {
		t.Fatalf("WriteByTopic() error = %v", err)
	}
	if err := blk.WriteByTopic("dev/a", "-1"); err != nil {
		t.Fatalf("WriteByTopic() error = %v", err)
	}

	words, err := blk.Read(1, 3)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []uint16{0xFFFF, 0x0001, 0x0002}
	if !slices.Equal(words, want) {
		t.Errorf("Read() = %v, want %v", words, want)
	}
}

func TestDataBlock_WriteByTopicErrors(t *testing.T) {
	blk := testBlock(nil)
	if err := blk.WriteByTopic("dev/a", "7"); err != nil {
		t.Fatalf("WriteByTopic() error = %v", err)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"unknown topic", "dev/x", "1", ErrUnknownTopic},
		{"not a number", "dev/a", "warm", ErrInvalidValue},
		{"out of range", "dev/a", "40000", ErrOutOfRange},
		{"invalid utf-8", "dev/a", "\xff\xfe", ErrNotScalar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := blk.WriteByTopic(tt.topic, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("WriteByTopic() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	words, err := blk.Read(1, 1)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if words[0] != 7 {
		t.Errorf("value after rejected writes = %d, want 7", words[0])
	}
}

func TestDataBlock_WritePublishesInAddressOrder(t *testing.T) {
	pub := &recordingPublisher{}
	blk := testBlock(pub)

	if err := blk.Write(1, []uint16{0xFFFE, 0x0000, 0x0010, 0x0003}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := []published{
		{Topic: "dev/a", Payload: "-2"},
		{Topic: "dev/b", Payload: "16"},
		{Topic: "dev/c", Payload: "3"},
	}
	if got := pub.Messages(); !slices.Equal(got, want) {
		t.Errorf("published = %v, want %v", got, want)
	}

	words, err := blk.Read(1, 4)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !slices.Equal(words, []uint16{0xFFFE, 0x0000, 0x0010, 0x0003}) {
		t.Errorf("Read() after Write = %v", words)
	}
}

func TestDataBlock_WriteIsAllOrNothing(t *testing.T) {
	pub := &recordingPublisher{}
	blk := newDataBlock(1, HoldingRegisters, []Channel{
		holding("dev/n", 0, FormatUnsigned, 2),
		holding("dev/bcd", 1, FormatBCD, 2),
	}, pub)

	// 0x00AF is not valid BCD, so the first channel must not change either.
	err := blk.Write(1, []uint16{42, 0x00AF})
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("Write() error = %v, want ErrConversion", err)
	}

	words, err := blk.Read(1, 2)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !slices.Equal(words, []uint16{0, 0}) {
		t.Errorf("Read() = %v, want unchanged zeros", words)
	}
	if n := len(pub.Messages()); n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
}

func TestDataBlock_WriteRejectsUncoveredRange(t *testing.T) {
	pub := &recordingPublisher{}
	blk := testBlock(pub)

	err := blk.Write(4, []uint16{1, 2})
	if !errors.Is(err, ErrIllegalAddress) {
		t.Fatalf("Write() error = %v, want ErrIllegalAddress", err)
	}
	if n := len(pub.Messages()); n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
}

func TestDataBlock_WriteDoesNotAliasCallerSlice(t *testing.T) {
	blk := testBlock(nil)

	values := []uint16{5}
	if err := blk.Write(1, values); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	values[0] = 99

	words, _ := blk.Read(1, 1)
	if words[0] != 5 {
		t.Errorf("cached value = %d, want 5", words[0])
	}
}

func TestDataBlock_CoilWrite(t *testing.T) {
	pub := &recordingPublisher{}
	blk := newDataBlock(2, Coils, []Channel{coil("relay/K1", 0), coil("relay/K2", 1)}, pub)

	if err := blk.Write(1, []uint16{1, 0}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := []published{{Topic: "relay/K1", Payload: "1"}, {Topic: "relay/K2", Payload: "0"}}
	if got := pub.Messages(); !slices.Equal(got, want) {
		t.Errorf("published = %v, want %v", got, want)
	}

	if err := blk.WriteByTopic("relay/K2", "true"); err != nil {
		t.Fatalf("WriteByTopic() error = %v", err)
	}
	words, _ := blk.Read(1, 2)
	if !slices.Equal(words, []uint16{1, 1}) {
		t.Errorf("Read() = %v, want [1 1]", words)
	}
}

func TestDataBlock_ConcurrentWritesAreNotTorn(t *testing.T) {
	blk := newDataBlock(1, HoldingRegisters, []Channel{holding("dev/wide", 0, FormatUnsigned, 4)}, nil)

	const writers = 4
	const iterations = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				k := uint16(w*iterations + i)
				if w%2 == 0 {
					_ = blk.Write(1, []uint16{k, k})
				} else {
					_ = blk.WriteByTopic("dev/wide", strconv.FormatUint(uint64(k)*65537, 10))
				}
			}
		}(w)
	}

	torn := make(chan []uint16, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writers*iterations; i++ {
			words, err := blk.Read(1, 2)
			if err != nil || words[0] != words[1] {
				select {
				case torn <- words:
				default:
				}
				return
			}
		}
	}()

	wg.Wait()
	select {
	case words := <-torn:
		t.Errorf("observed torn value %v", words)
	default:
	}
}

func TestDataBlock_Snapshot(t *testing.T) {
	blk := newDataBlock(3, HoldingRegisters, []Channel{
		holding("dev/t", 0, FormatSigned, 2),
		{
			Topic: "dev/scaled", Address: 1, Category: HoldingRegisters, Enabled: true,
			Kind: KindRegister, Format: FormatSigned, Size: 2, Scale: 10, MetaType: "temperature",
		},
		holding("dev/odd", 2, FormatSigned, 6),
	}, nil)

	if err := blk.WriteByTopic("dev/t", "12"); err != nil {
		t.Fatalf("WriteByTopic() error = %v", err)
	}
	if err := blk.WriteByTopic("dev/scaled", "21.5"); err != nil {
		t.Fatalf("WriteByTopic() error = %v", err)
	}

	snap := blk.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snap))
	}

	if snap[0].Topic != "dev/t" || snap[0].Value != "12" || snap[0].UnitID != 3 || snap[0].Category != "holdings" {
		t.Errorf("snap[0] = %+v", snap[0])
	}
	if snap[1].Value != "21.5" || snap[1].MetaType != "temperature" || !slices.Equal(snap[1].Words, []uint16{215}) {
		t.Errorf("snap[1] = %+v", snap[1])
	}
	// Size 6 has no integer width; the snapshot reports the error instead.
	if snap[2].Error == "" {
		t.Errorf("snap[2] = %+v, want decode error", snap[2])
	}

	snap[0].Words[0] = 999
	words, _ := blk.Read(1, 1)
	if words[0] != 12 {
		t.Error("Snapshot() words alias the cache")
	}
}
