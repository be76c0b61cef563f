package mbgate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// twoPow64 is 2^64 as a float64, the first value past the uint64 range.
const twoPow64 = 18446744073709551616.0

// Codec converts between broker text values and register words for one
// channel layout. The zero value is a discrete codec.
//
// Register words are big-endian: the most significant word comes first
// and each word carries its high byte first, unless WordSwap or ByteSwap
// says otherwise. On encode the word order is reversed before each word's
// bytes are swapped; decode undoes both.
type Codec struct {
	Kind     Kind
	Format   Format
	Size     int
	Scale    float64
	ByteSwap bool
	WordSwap bool
}

// RegisterCount is the number of registers a value of this layout occupies.
func (c Codec) RegisterCount() int {
	if c.Kind == KindDiscrete {
		return 1
	}
	if c.Format == FormatVarchar {
		if c.Size < 0 {
			return 0
		}
		return c.Size
	}
	if c.Size <= 0 {
		return 0
	}
	return (c.Size + 1) / 2
}

// Encode converts a broker text value into register words.
// Varchar text is stored as given; numbers ignore surrounding whitespace.
func (c Codec) Encode(text string) ([]uint16, error) {
	if c.Kind == KindDiscrete {
		return encodeDiscrete(strings.TrimSpace(text))
	}
	if c.Format == FormatVarchar {
		return c.encodeVarchar(text), nil
	}

	text = strings.TrimSpace(text)
	switch c.Format {
	case FormatFloat:
		v, err := parseNumber(text)
		if err != nil {
			return nil, err
		}
		return c.EncodeNumber(v)
	case FormatSigned, FormatUnsigned, FormatBCD:
		if c.scale() == 1 {
			// Whole numbers skip the float path so 64-bit values stay exact.
			if neg, mag, ok := parseWhole(text); ok {
				return c.encodeWhole(neg, mag)
			}
		}
		v, err := parseNumber(text)
		if err != nil {
			return nil, err
		}
		return c.EncodeNumber(v)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidValue, c.Format)
	}
}

// Decode converts register words into a broker text value.
func (c Codec) Decode(words []uint16) (string, error) {
	if c.Kind == KindDiscrete {
		if len(words) != 1 {
			return "", fmt.Errorf("%w: discrete value needs 1 register, got %d", ErrInvalidSize, len(words))
		}
		if words[0] != 0 {
			return "1", nil
		}
		return "0", nil
	}

	if err := c.checkWords(words); err != nil {
		return "", err
	}

	switch c.Format {
	case FormatVarchar:
		return c.decodeVarchar(words), nil
	case FormatFloat:
		v, err := c.decodeFloat(words)
		if err != nil {
			return "", err
		}
		if c.Size == 4 {
			return strconv.FormatFloat(v, 'f', -1, 32), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case FormatSigned, FormatUnsigned, FormatBCD:
		neg, mag, err := c.decodeWhole(words)
		if err != nil {
			return "", err
		}
		if c.scale() == 1 {
			return formatWhole(neg, mag), nil
		}
		return strconv.FormatFloat(wholeToFloat(neg, mag)/c.scale(), 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrInvalidValue, c.Format)
	}
}

// EncodeNumber converts a numeric value into register words.
// The value is multiplied by Scale and integer formats truncate toward zero.
func (c Codec) EncodeNumber(v float64) ([]uint16, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}

	if c.Kind == KindDiscrete {
		if v != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}

	switch c.Format {
	case FormatVarchar:
		return c.encodeVarchar(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case FormatFloat:
		return c.encodeFloat(v * c.scale())
	case FormatBCD:
		if v < 0 {
			return nil, fmt.Errorf("%w: %v", ErrNegativeBCD, v)
		}
	case FormatSigned, FormatUnsigned:
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidValue, c.Format)
	}

	scaled := math.Trunc(v * c.scale())
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
		return nil, fmt.Errorf("%w: %v scaled by %v", ErrOutOfRange, v, c.scale())
	}
	mag := math.Abs(scaled)
	if mag >= twoPow64 {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, scaled)
	}
	return c.encodeWhole(scaled < 0, uint64(mag))
}

// DecodeNumber converts register words into a numeric value, dividing by Scale.
func (c Codec) DecodeNumber(words []uint16) (float64, error) {
	if c.Kind == KindDiscrete || c.Format == FormatVarchar {
		text, err := c.Decode(words)
		if err != nil {
			return 0, err
		}
		return parseNumber(text)
	}

	if err := c.checkWords(words); err != nil {
		return 0, err
	}

	if c.Format == FormatFloat {
		return c.decodeFloat(words)
	}

	neg, mag, err := c.decodeWhole(words)
	if err != nil {
		return 0, err
	}
	return wholeToFloat(neg, mag) / c.scale(), nil
}

func (c Codec) scale() float64 {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

func (c Codec) checkWords(words []uint16) error {
	if want := c.RegisterCount(); len(words) != want {
		return fmt.Errorf("%w: expected %d registers, got %d", ErrInvalidSize, want, len(words))
	}
	return nil
}

// intBits returns the integer width in bits for integer and BCD formats.
func (c Codec) intBits() (int, error) {
	switch c.RegisterCount() {
	case 1:
		return 16, nil
	case 2:
		return 32, nil
	case 4:
		return 64, nil
	default:
		return 0, fmt.Errorf("%w: %s size %d", ErrInvalidSize, c.Format, c.Size)
	}
}

// encodeWhole packs a sign and magnitude into the channel's integer width.
func (c Codec) encodeWhole(neg bool, mag uint64) ([]uint16, error) {
	bits, err := c.intBits()
	if err != nil {
		return nil, err
	}
	if mag == 0 {
		neg = false
	}

	var raw uint64
	switch c.Format {
	case FormatSigned:
		limit := uint64(1) << (bits - 1)
		if neg {
			if mag > limit {
				return nil, fmt.Errorf("%w: -%d does not fit %d bits", ErrOutOfRange, mag, bits)
			}
			raw = ^mag + 1
		} else {
			if mag > limit-1 {
				return nil, fmt.Errorf("%w: %d does not fit %d bits", ErrOutOfRange, mag, bits)
			}
			raw = mag
		}
	case FormatUnsigned:
		if neg {
			return nil, fmt.Errorf("%w: -%d is negative", ErrOutOfRange, mag)
		}
		if bits < 64 && mag >= uint64(1)<<bits {
			return nil, fmt.Errorf("%w: %d does not fit %d bits", ErrOutOfRange, mag, bits)
		}
		raw = mag
	case FormatBCD:
		if neg {
			return nil, fmt.Errorf("%w: -%d", ErrNegativeBCD, mag)
		}
		raw, err = packBCD(mag, bits/4)
		if err != nil {
			return nil, err
		}
	}

	return c.arrange(rawToWords(raw, bits/16)), nil
}

// decodeWhole unpacks the channel's integer width into sign and magnitude.
func (c Codec) decodeWhole(words []uint16) (bool, uint64, error) {
	bits, err := c.intBits()
	if err != nil {
		return false, 0, err
	}
	raw := wordsToRaw(c.unarrange(words))

	switch c.Format {
	case FormatSigned:
		sign := uint64(1) << (bits - 1)
		if raw&sign == 0 {
			return false, raw, nil
		}
		// Two's complement negation within the channel width.
		mask := ^uint64(0)
		if bits < 64 {
			mask = (uint64(1) << bits) - 1
		}
		return true, (^raw + 1) & mask, nil
	case FormatBCD:
		v, err := unpackBCD(raw, bits/4)
		return false, v, err
	default:
		return false, raw, nil
	}
}

func (c Codec) encodeFloat(v float64) ([]uint16, error) {
	switch c.Size {
	case 4:
		if math.Abs(v) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: %v does not fit float32", ErrOutOfRange, v)
		}
		f := float32(v)
		return c.arrange(rawToWords(uint64(math.Float32bits(f)), 2)), nil
	case 8:
		return c.arrange(rawToWords(math.Float64bits(v), 4)), nil
	default:
		return nil, fmt.Errorf("%w: float size %d", ErrInvalidSize, c.Size)
	}
}

func (c Codec) decodeFloat(words []uint16) (float64, error) {
	raw := wordsToRaw(c.unarrange(words))
	switch c.Size {
	case 4:
		return float64(math.Float32frombits(uint32(raw))) / c.scale(), nil
	case 8:
		return math.Float64frombits(raw) / c.scale(), nil
	default:
		return 0, fmt.Errorf("%w: float size %d", ErrInvalidSize, c.Size)
	}
}

// encodeVarchar stores one byte per register in the low byte. Bytes past
// the channel size are dropped and short strings are zero padded.
func (c Codec) encodeVarchar(text string) []uint16 {
	words := make([]uint16, c.RegisterCount())
	for i := 0; i < len(words) && i < len(text); i++ {
		words[i] = uint16(text[i])
	}
	return c.arrange(words)
}

func (c Codec) decodeVarchar(words []uint16) string {
	plain := c.unarrange(words)
	buf := make([]byte, len(plain))
	for i, w := range plain {
		buf[i] = byte(w & 0xFF)
	}
	return strings.TrimRight(string(buf), "\x00")
}

// arrange applies word order then byte order to big-endian words.
func (c Codec) arrange(words []uint16) []uint16 {
	if c.WordSwap {
		for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
			words[i], words[j] = words[j], words[i]
		}
	}
	if c.ByteSwap {
		for i, w := range words {
			words[i] = w<<8 | w>>8
		}
	}
	return words
}

// unarrange returns a big-endian copy of device-ordered words.
func (c Codec) unarrange(words []uint16) []uint16 {
	out := make([]uint16, len(words))
	copy(out, words)
	if c.ByteSwap {
		for i, w := range out {
			out[i] = w<<8 | w>>8
		}
	}
	if c.WordSwap {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func rawToWords(raw uint64, n int) []uint16 {
	words := make([]uint16, n)
	for i := 0; i < n; i++ {
		words[i] = uint16(raw >> (16 * uint(n-1-i)))
	}
	return words
}

func wordsToRaw(words []uint16) uint64 {
	var raw uint64
	for _, w := range words {
		raw = raw<<16 | uint64(w)
	}
	return raw
}

// packBCD encodes v as packed decimal with at most digits nibbles.
func packBCD(v uint64, digits int) (uint64, error) {
	var raw uint64
	for i := 0; v > 0; i++ {
		if i >= digits {
			return 0, fmt.Errorf("%w: more than %d digits", ErrBCDOverflow, digits)
		}
		raw |= (v % 10) << (4 * uint(i))
		v /= 10
	}
	return raw, nil
}

func unpackBCD(raw uint64, digits int) (uint64, error) {
	var v uint64
	for i := digits - 1; i >= 0; i-- {
		nibble := (raw >> (4 * uint(i))) & 0xF
		if nibble > 9 {
			return 0, fmt.Errorf("%w: nibble 0x%X is not a decimal digit", ErrInvalidValue, nibble)
		}
		v = v*10 + nibble
	}
	return v, nil
}

func encodeDiscrete(text string) ([]uint16, error) {
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		if v != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}
	if b, err := strconv.ParseBool(text); err == nil {
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}
	return nil, fmt.Errorf("%w: %q is not a discrete value", ErrInvalidValue, text)
}

func parseNumber(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, text)
	}
	return v, nil
}

// parseWhole parses a decimal integer into sign and magnitude.
func parseWhole(text string) (bool, uint64, bool) {
	neg := false
	digits := text
	switch {
	case strings.HasPrefix(digits, "-"):
		neg = true
		digits = digits[1:]
	case strings.HasPrefix(digits, "+"):
		digits = digits[1:]
	}
	if digits == "" || digits[0] == '+' || digits[0] == '-' {
		return false, 0, false
	}
	mag, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return false, 0, false
	}
	return neg, mag, true
}

func formatWhole(neg bool, mag uint64) string {
	s := strconv.FormatUint(mag, 10)
	if neg && mag != 0 {
		return "-" + s
	}
	return s
}

func wholeToFloat(neg bool, mag uint64) float64 {
	if neg {
		return -float64(mag)
	}
	return float64(mag)
}
