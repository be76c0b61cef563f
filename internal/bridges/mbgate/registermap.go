package mbgate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// RegisterMap is the loaded channel map document, one ordered channel
// list per category. It is read-only once loaded.
type RegisterMap struct {
	// Debug mirrors the document's debug flag and enables debug logging.
	Debug bool

	// Channels holds the descriptors per category in document order.
	// A category missing from the document has no entry.
	Channels map[Category][]Channel
}

// mapDocument is the on-disk JSON layout written by the map generator.
// Unknown sections (mqtt, modbus) are ignored.
type mapDocument struct {
	Debug     bool                      `json:"debug"`
	Registers map[string][]channelEntry `json:"registers"`
}

type channelEntry struct {
	Topic    string   `json:"topic"`
	UnitID   int      `json:"unitId"`
	MetaType string   `json:"meta_type"`
	Enabled  *bool    `json:"enabled"`
	Address  int      `json:"address"`
	Size     int      `json:"size"`
	Format   string   `json:"format"`
	Scale    *float64 `json:"scale"`
	Max      float64  `json:"max"`
	ByteSwap bool     `json:"byteswap"`
	WordSwap bool     `json:"wordswap"`
}

// LoadRegisterMap reads and parses a channel map file.
func LoadRegisterMap(path string) (*RegisterMap, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("reading register map %s: %w", path, err)
	}
	return ParseRegisterMap(bytes.NewReader(data))
}

// ParseRegisterMap decodes a channel map document.
//
// Entries are converted to Channel descriptors; range and layout checks
// are left to Validate so that every problem is reported at once.
func ParseRegisterMap(r io.Reader) (*RegisterMap, error) {
	var doc mapDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parsing register map: %w", ErrConfiguration, err)
	}

	m := &RegisterMap{
		Debug:    doc.Debug,
		Channels: make(map[Category][]Channel, numCategories),
	}

	for key, entries := range doc.Registers {
		cat, ok := ParseCategory(key)
		if !ok {
			// Generator versions may add sections; only the four tables matter.
			continue
		}
		channels := make([]Channel, 0, len(entries))
		for i, e := range entries {
			ch, err := e.toChannel(cat)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d] (%s): %w", ErrConfiguration, key, i, e.Topic, err)
			}
			channels = append(channels, ch)
		}
		m.Channels[cat] = channels
	}

	return m, nil
}

func (e channelEntry) toChannel(cat Category) (Channel, error) {
	if e.Enabled != nil && !*e.Enabled {
		// The generator leaves unassigned entries disabled with unit and
		// address -1; they never reach a block so nothing else is checked.
		return Channel{Topic: e.Topic, Category: cat, MetaType: e.MetaType}, nil
	}
	if e.UnitID < 0 || e.UnitID > 255 {
		return Channel{}, fmt.Errorf("unit id %d out of range 0-255", e.UnitID)
	}
	if e.Address < 0 || e.Address > 65535 {
		return Channel{}, fmt.Errorf("address %d out of range 0-65535", e.Address)
	}

	ch := Channel{
		Topic:    e.Topic,
		UnitID:   uint8(e.UnitID),
		Address:  uint16(e.Address),
		Category: cat,
		Enabled:  true,
		Kind:     KindDiscrete,
		MetaType: e.MetaType,
		Max:      e.Max,
	}

	if cat.IsDiscrete() {
		return ch, nil
	}

	format, err := ParseFormat(e.Format)
	if err != nil {
		return Channel{}, err
	}
	ch.Kind = KindRegister
	ch.Format = format
	ch.Size = e.Size
	ch.Scale = 1
	if e.Scale != nil {
		ch.Scale = *e.Scale
	}
	ch.ByteSwap = e.ByteSwap
	ch.WordSwap = e.WordSwap

	return ch, nil
}
