package mbgate

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"
)

// Publisher receives decoded values written by Modbus clients.
// Enqueue must not block on network I/O; it is called with a block lock held.
type Publisher interface {
	Enqueue(topic string, payload []byte)
}

// channelRecord is the single owned copy of a channel and its live value.
type channelRecord struct {
	channel Channel
	codec   Codec
	count   int
	words   []uint16
}

// DataBlock is the register file for one (unit, category) pair.
//
// Topology is fixed at construction: the record arena and both indices
// are never modified afterwards, so address and topic lookups need no lock.
// Only the cached words of each record change, guarded by mu.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - mu is never held while another block's lock is taken.
type DataBlock struct {
	unitID   uint8
	category Category

	records   []channelRecord
	byTopic   map[string]int
	byAddress map[uint16]int

	publisher Publisher

	mu sync.RWMutex
}

// newDataBlock builds a block from channels already checked by Validate.
// Values start at zero.
func newDataBlock(unitID uint8, category Category, channels []Channel, publisher Publisher) *DataBlock {
	b := &DataBlock{
		unitID:    unitID,
		category:  category,
		records:   make([]channelRecord, 0, len(channels)),
		byTopic:   make(map[string]int, len(channels)),
		byAddress: make(map[uint16]int, len(channels)),
		publisher: publisher,
	}

	sorted := make([]Channel, len(channels))
	copy(sorted, channels)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	for _, ch := range sorted {
		codec := ch.Codec()
		count := codec.RegisterCount()
		b.records = append(b.records, channelRecord{
			channel: ch,
			codec:   codec,
			count:   count,
			words:   make([]uint16, count),
		})
		idx := len(b.records) - 1
		b.byTopic[ch.Topic] = idx
		b.byAddress[ch.Address] = idx
	}

	return b
}

// UnitID returns the unit this block belongs to.
func (b *DataBlock) UnitID() uint8 { return b.unitID }

// Category returns the register table this block serves.
func (b *DataBlock) Category() Category { return b.category }

// Len returns the number of channels in the block.
func (b *DataBlock) Len() int { return len(b.records) }

// HasTopic reports whether a channel with the topic lives in this block.
func (b *DataBlock) HasTopic(topic string) bool {
	_, ok := b.byTopic[topic]
	return ok
}

// Topics returns the block's channel topics in address order.
func (b *DataBlock) Topics() []string {
	topics := make([]string, len(b.records))
	for i := range b.records {
		topics[i] = b.records[i].channel.Topic
	}
	return topics
}

// ValidatePresence reports whether [address, address+count) is exactly
// covered by contiguous channels. address is 1-based.
func (b *DataBlock) ValidatePresence(address, count int) bool {
	_, ok := b.walk(address, count)
	return ok
}

// Read returns the cached words of the channels covering the request.
// address is 1-based.
func (b *DataBlock) Read(address, count int) ([]uint16, error) {
	span, ok := b.walk(address, count)
	if !ok {
		return nil, fmt.Errorf("%w: unit %d %s %d+%d", ErrIllegalAddress, b.unitID, b.category, address, count)
	}

	out := make([]uint16, 0, count)
	b.mu.RLock()
	for _, idx := range span {
		out = append(out, b.records[idx].words...)
	}
	b.mu.RUnlock()

	return out, nil
}

// pendingWrite is one decoded channel update of a Write call.
type pendingWrite struct {
	idx   int
	words []uint16
	text  string
}

// Write replaces the cached words of every channel covering the request
// and enqueues each decoded value for publishing. address is 1-based.
//
// The request is all or nothing: if the range is not exactly covered, or
// any channel fails to decode, no value changes and nothing is published.
func (b *DataBlock) Write(address int, values []uint16) error {
	span, ok := b.walk(address, len(values))
	if !ok {
		return fmt.Errorf("%w: unit %d %s %d+%d", ErrIllegalAddress, b.unitID, b.category, address, len(values))
	}

	updates := make([]pendingWrite, 0, len(span))
	offset := 0
	for _, idx := range span {
		rec := &b.records[idx]
		words := make([]uint16, rec.count)
		copy(words, values[offset:offset+rec.count])
		offset += rec.count

		text, err := rec.codec.Decode(words)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", rec.channel.Topic, err)
		}
		updates = append(updates, pendingWrite{idx: idx, words: words, text: text})
	}

	// Enqueue under the lock so publish order follows cache update order.
	b.mu.Lock()
	for _, u := range updates {
		b.records[u.idx].words = u.words
		if b.publisher != nil {
			b.publisher.Enqueue(b.records[u.idx].channel.Topic, []byte(u.text))
		}
	}
	b.mu.Unlock()

	return nil
}

// WriteByTopic encodes a broker value and stores it in the channel's
// registers. A failed encode leaves the cached value unchanged.
func (b *DataBlock) WriteByTopic(topic string, payload string) error {
	idx, ok := b.byTopic[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if !utf8.ValidString(payload) {
		return fmt.Errorf("%w: %s", ErrNotScalar, topic)
	}

	rec := &b.records[idx]
	words, err := rec.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	if len(words) != rec.count {
		return fmt.Errorf("encoding %s: %w: got %d registers, want %d", topic, ErrInvalidSize, len(words), rec.count)
	}

	b.mu.Lock()
	rec.words = words
	b.mu.Unlock()

	return nil
}

// walk returns the record indices covering [address, address+count),
// address being 1-based. ok is false on any gap or partial overlap.
func (b *DataBlock) walk(address, count int) ([]int, bool) {
	if address < 1 || count <= 0 {
		return nil, false
	}

	pos := address - 1
	end := pos + count
	if end > 65536 {
		return nil, false
	}

	var span []int
	for pos < end {
		idx, ok := b.byAddress[uint16(pos)]
		if !ok {
			return nil, false
		}
		pos += b.records[idx].count
		span = append(span, idx)
	}
	if pos != end {
		return nil, false
	}

	return span, true
}

// ChannelSnapshot is a point-in-time view of one channel.
type ChannelSnapshot struct {
	Topic    string   `json:"topic"`
	UnitID   uint8    `json:"unit_id"`
	Category string   `json:"category"`
	Address  uint16   `json:"address"`
	Format   Format   `json:"format,omitempty"`
	MetaType string   `json:"meta_type,omitempty"`
	Words    []uint16 `json:"words"`
	Value    string   `json:"value"`
	Error    string   `json:"error,omitempty"`
}

// Snapshot returns every channel with its current value in address order.
func (b *DataBlock) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, len(b.records))

	b.mu.RLock()
	for i := range b.records {
		rec := &b.records[i]
		words := make([]uint16, len(rec.words))
		copy(words, rec.words)
		out[i] = ChannelSnapshot{
			Topic:    rec.channel.Topic,
			UnitID:   b.unitID,
			Category: b.category.String(),
			Address:  rec.channel.Address,
			Format:   rec.channel.Format,
			MetaType: rec.channel.MetaType,
			Words:    words,
		}
	}
	b.mu.RUnlock()

	for i := range out {
		value, err := b.records[i].codec.Decode(out[i].Words)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Value = value
	}

	return out
}
