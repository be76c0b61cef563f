package mbgate

import (
	"errors"
	"fmt"
)

// Domain errors for the gateway core.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConversion is the umbrella for every codec failure. A Modbus
	// client sees it as an illegal data value response.
	ErrConversion = errors.New("mbgate: conversion failed")

	// ErrInvalidSize is returned when a channel size does not map to a
	// register width supported by its format.
	ErrInvalidSize = fmt.Errorf("%w: invalid register size for format", ErrConversion)

	// ErrNegativeBCD is returned when a negative value is encoded as BCD.
	ErrNegativeBCD = fmt.Errorf("%w: BCD value cannot be negative", ErrConversion)

	// ErrBCDOverflow is returned when a value has more decimal digits than
	// the BCD channel can hold.
	ErrBCDOverflow = fmt.Errorf("%w: BCD value has too many digits", ErrConversion)

	// ErrOutOfRange is returned when a scaled value does not fit the
	// integer width of the channel.
	ErrOutOfRange = fmt.Errorf("%w: value out of range", ErrConversion)

	// ErrInvalidValue is returned when a payload cannot be parsed for the
	// channel format.
	ErrInvalidValue = fmt.Errorf("%w: invalid value", ErrConversion)

	// ErrNotScalar is returned when a broker payload is not a plain text value.
	ErrNotScalar = fmt.Errorf("%w: payload is not a scalar text value", ErrConversion)

	// ErrConfiguration is returned when the channel map cannot produce a
	// consistent register layout. It is fatal at startup.
	ErrConfiguration = errors.New("mbgate: invalid configuration")

	// ErrUnknownTopic is returned when a topic has no channel in a block.
	ErrUnknownTopic = errors.New("mbgate: unknown topic")

	// ErrIllegalAddress is returned when a request range is not exactly
	// covered by known channels.
	ErrIllegalAddress = errors.New("mbgate: illegal data address")
)
