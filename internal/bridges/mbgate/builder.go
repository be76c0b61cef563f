package mbgate

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// ServerContext holds one DataBlock per (unit, category) pair.
// Every unit that owns at least one channel gets all four blocks, empty
// ones included, so requests to an unused table answer illegal address.
//
// A ServerContext is immutable after BuildContext returns.
type ServerContext struct {
	units   map[uint8]*[numCategories]*DataBlock
	unitIDs []uint8

	// byTopic routes a channel topic to every block holding it.
	byTopic map[string][]*DataBlock
	topics  []string
}

// Validate checks that the map can produce a consistent register layout.
// All problems are reported together. The returned error wraps
// ErrConfiguration.
func (m *RegisterMap) Validate() error {
	var result *multierror.Error

	for _, cat := range Categories {
		channels, ok := m.Channels[cat]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("no such data block: %s", cat))
			continue
		}

		perUnit := make(map[uint8][]Channel)
		for _, ch := range activeChannels(channels) {
			if ch.Topic == "" {
				result = multierror.Append(result, fmt.Errorf("%s: unit %d address %d: empty topic", cat, ch.UnitID, ch.Address))
			}
			if ch.Kind == KindRegister && ch.Scale == 0 {
				result = multierror.Append(result, fmt.Errorf("%s: %s: scale must be nonzero", cat, ch.Topic))
			}
			if ch.End() > 65536 {
				result = multierror.Append(result, fmt.Errorf("%s: %s: span %d+%d crosses the end of unit %d",
					cat, ch.Topic, ch.Address, ch.RegisterCount(), ch.UnitID))
			}
			perUnit[ch.UnitID] = append(perUnit[ch.UnitID], ch)
		}

		for unit, list := range perUnit {
			seen := make(map[string]bool, len(list))
			for _, ch := range list {
				if seen[ch.Topic] {
					result = multierror.Append(result, fmt.Errorf("%s: unit %d: duplicate topic %s", cat, unit, ch.Topic))
				}
				seen[ch.Topic] = true
			}

			sorted := make([]Channel, len(list))
			copy(sorted, list)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })
			for i := 1; i < len(sorted); i++ {
				prev, cur := sorted[i-1], sorted[i]
				if prev.End() > int(cur.Address) {
					result = multierror.Append(result, fmt.Errorf("%s: unit %d: %s at %d overlaps %s at %d",
						cat, unit, cur.Topic, cur.Address, prev.Topic, prev.Address))
				}
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Warnings lists channels that load but cannot convert values: their
// size has no matching register width, so every access fails at runtime.
func (m *RegisterMap) Warnings() []string {
	var warnings []string
	for _, cat := range Categories {
		for _, ch := range activeChannels(m.Channels[cat]) {
			if ch.Kind != KindRegister {
				continue
			}
			if _, err := ch.Codec().Encode("0"); err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %s: %v", cat, ch.Topic, err))
			}
		}
	}
	return warnings
}

// BuildContext partitions the map's enabled channels into DataBlocks.
// Values written by Modbus clients are handed to publisher, which may be nil.
func BuildContext(m *RegisterMap, publisher Publisher) (*ServerContext, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	grouped := make(map[uint8]map[Category][]Channel)
	for _, cat := range Categories {
		for _, ch := range activeChannels(m.Channels[cat]) {
			if grouped[ch.UnitID] == nil {
				grouped[ch.UnitID] = make(map[Category][]Channel, numCategories)
			}
			grouped[ch.UnitID][cat] = append(grouped[ch.UnitID][cat], ch)
		}
	}

	sc := &ServerContext{
		units:   make(map[uint8]*[numCategories]*DataBlock, len(grouped)),
		byTopic: make(map[string][]*DataBlock),
	}

	for unit, cats := range grouped {
		var blocks [numCategories]*DataBlock
		for _, cat := range Categories {
			blk := newDataBlock(unit, cat, cats[cat], publisher)
			blocks[cat] = blk
			for _, topic := range blk.Topics() {
				sc.byTopic[topic] = append(sc.byTopic[topic], blk)
			}
		}
		sc.units[unit] = &blocks
		sc.unitIDs = append(sc.unitIDs, unit)
	}

	sort.Slice(sc.unitIDs, func(i, j int) bool { return sc.unitIDs[i] < sc.unitIDs[j] })

	sc.topics = make([]string, 0, len(sc.byTopic))
	for topic, blocks := range sc.byTopic {
		sc.topics = append(sc.topics, topic)
		sort.Slice(blocks, func(i, j int) bool {
			if blocks[i].unitID != blocks[j].unitID {
				return blocks[i].unitID < blocks[j].unitID
			}
			return blocks[i].category < blocks[j].category
		})
	}
	sort.Strings(sc.topics)

	return sc, nil
}

// activeChannels returns enabled channels that occupy at least one register.
func activeChannels(channels []Channel) []Channel {
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Enabled && ch.RegisterCount() > 0 {
			out = append(out, ch)
		}
	}
	return out
}

// Block returns the register file for a unit and category.
func (sc *ServerContext) Block(unitID uint8, cat Category) (*DataBlock, bool) {
	blocks, ok := sc.units[unitID]
	if !ok || cat < 0 || int(cat) >= numCategories {
		return nil, false
	}
	return blocks[cat], true
}

// UnitIDs returns the configured unit ids in ascending order.
func (sc *ServerContext) UnitIDs() []uint8 {
	out := make([]uint8, len(sc.unitIDs))
	copy(out, sc.unitIDs)
	return out
}

// Topics returns every channel topic held by any block, sorted.
func (sc *ServerContext) Topics() []string {
	out := make([]string, len(sc.topics))
	copy(out, sc.topics)
	return out
}

// BlocksForTopic returns the blocks holding a channel topic.
func (sc *ServerContext) BlocksForTopic(topic string) []*DataBlock {
	return sc.byTopic[topic]
}

// ChannelCount returns the number of channels across all blocks.
func (sc *ServerContext) ChannelCount() int {
	n := 0
	for _, unit := range sc.unitIDs {
		for _, blk := range sc.units[unit] {
			n += blk.Len()
		}
	}
	return n
}

// Snapshot returns every channel value, ordered by unit, category and address.
func (sc *ServerContext) Snapshot() []ChannelSnapshot {
	var out []ChannelSnapshot
	for _, unit := range sc.unitIDs {
		for _, blk := range sc.units[unit] {
			out = append(out, blk.Snapshot()...)
		}
	}
	return out
}
