package mbgate

import (
	"fmt"
	"strings"
)

// Category identifies one of the four Modbus register tables.
type Category int

// Register categories, in the order the channel map lists them.
const (
	DiscreteInputs Category = iota
	Coils
	InputRegisters
	HoldingRegisters
)

// numCategories is the number of register tables per unit.
const numCategories = 4

// Categories lists every register category in document order.
var Categories = [numCategories]Category{DiscreteInputs, Coils, InputRegisters, HoldingRegisters}

// categoryKeys maps categories to their channel map document keys.
var categoryKeys = [numCategories]string{"discretes", "coils", "inputs", "holdings"}

// String returns the channel map key for the category.
func (c Category) String() string {
	if c < 0 || int(c) >= numCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryKeys[c]
}

// IsDiscrete reports whether the category holds single-bit values.
func (c Category) IsDiscrete() bool {
	return c == DiscreteInputs || c == Coils
}

// ParseCategory converts a channel map key ("holdings") to a Category.
func ParseCategory(key string) (Category, bool) {
	for i, k := range categoryKeys {
		if k == key {
			return Category(i), true
		}
	}
	return 0, false
}

// Kind selects the descriptor variant.
type Kind int

const (
	// KindDiscrete is a one-register bit channel (discrete inputs, coils).
	KindDiscrete Kind = iota

	// KindRegister is a typed, scaled multi-register channel.
	KindRegister
)

// Format is the value encoding of a register channel.
type Format string

// Supported register formats.
const (
	FormatSigned   Format = "signed"
	FormatUnsigned Format = "unsigned"
	FormatBCD      Format = "bcd"
	FormatFloat    Format = "float"
	FormatVarchar  Format = "varchar"
)

// ParseFormat validates a format string from the channel map.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatSigned, FormatUnsigned, FormatBCD, FormatFloat, FormatVarchar:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrConfiguration, s)
	}
}

// IsNumeric reports whether the format carries a scaled number.
func (f Format) IsNumeric() bool {
	return f != FormatVarchar
}

// Channel describes one broker control mapped onto a register range.
// It is immutable once loaded; the live value is kept by the DataBlock.
type Channel struct {
	// Topic is the channel key in "device/control" form.
	Topic string

	// UnitID partitions the address space into independent register files.
	UnitID uint8

	// Address is the zero-based start register within the unit.
	Address uint16

	Category Category
	Enabled  bool
	Kind     Kind

	// MetaType is the broker control type (switch, temperature, ...).
	// Informational only.
	MetaType string

	// Register-kind fields. Zero for discrete channels.
	Format   Format
	Size     int
	Scale    float64
	ByteSwap bool
	WordSwap bool

	// Max is advisory and never enforced.
	Max float64
}

// Codec returns the converter for this channel.
func (c Channel) Codec() Codec {
	if c.Kind == KindDiscrete {
		return Codec{Kind: KindDiscrete}
	}
	return Codec{
		Kind:     KindRegister,
		Format:   c.Format,
		Size:     c.Size,
		Scale:    c.Scale,
		ByteSwap: c.ByteSwap,
		WordSwap: c.WordSwap,
	}
}

// RegisterCount is the number of 16-bit registers the channel occupies.
func (c Channel) RegisterCount() int {
	return c.Codec().RegisterCount()
}

// End returns the first address after the channel span.
// It is an int so spans reaching 65536 can be detected.
func (c Channel) End() int {
	return int(c.Address) + c.RegisterCount()
}
