// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFloatFormat is returned for a float format selector outside 0..3.
var ErrInvalidFloatFormat = errors.New("invalid float format")

// ByteOrder is the order of the two bytes inside one register word.
type ByteOrder uint8

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little"
	}
	return "big"
}

// FloatFormat selects how a 32-bit float is laid out across two registers.
type FloatFormat uint8

// Float layouts as (byte order, word order)
const (
	FloatBigBig       FloatFormat = 0
	FloatLittleBig    FloatFormat = 1
	FloatBigLittle    FloatFormat = 2
	FloatLittleLittle FloatFormat = 3
)

// DefaultFloatFormat matches the factory firmware of the device.
const DefaultFloatFormat = FloatLittleBig

// ParseFloatFormat validates a numeric float format selector.
func ParseFloatFormat(selector int) (FloatFormat, error) {
	if selector < 0 || selector > 3 {
		return 0, fmt.Errorf("%w: %d (expected 0-3)", ErrInvalidFloatFormat, selector)
	}
	return FloatFormat(selector), nil
}

// Valid reports whether f is one of the four defined layouts.
func (f FloatFormat) Valid() bool {
	_, _, err := f.orders()
	return err == nil
}

// Orders returns the (byte order, word order) pair for the layout.
func (f FloatFormat) Orders() (byteOrder, wordOrder ByteOrder) {
	b, w, _ := f.orders()
	return b, w
}

func (f FloatFormat) orders() (ByteOrder, ByteOrder, error) {
	switch f {
	case FloatBigBig:
		return BigEndian, BigEndian, nil
	case FloatLittleBig:
		return LittleEndian, BigEndian, nil
	case FloatBigLittle:
		return BigEndian, LittleEndian, nil
	case FloatLittleLittle:
		return LittleEndian, LittleEndian, nil
	}
	return BigEndian, BigEndian, fmt.Errorf("%w: %d", ErrInvalidFloatFormat, uint8(f))
}

func (f FloatFormat) String() string {
	b, w, err := f.orders()
	if err != nil {
		return fmt.Sprintf("FloatFormat(%d)", uint8(f))
	}
	return fmt.Sprintf("%d (bytes=%s, words=%s)", uint8(f), b, w)
}

func swapBytes(w uint16) uint16 {
	return w<<8 | w>>8
}

// EncodeFloat splits v into two register words using layout f.
// An invalid layout encodes as big/big; NewClient rejects those up front.
func EncodeFloat(v float32, f FloatFormat) [2]uint16 {
	byteOrder, wordOrder := f.Orders()

	bits := math.Float32bits(v)
	hi := uint16(bits >> 16)
	lo := uint16(bits)

	if byteOrder == LittleEndian {
		hi, lo = swapBytes(hi), swapBytes(lo)
	}
	if wordOrder == BigEndian {
		return [2]uint16{hi, lo}
	}
	return [2]uint16{lo, hi}
}

// DecodeFloat reassembles a float from two register words using layout f.
func DecodeFloat(regs [2]uint16, f FloatFormat) float32 {
	byteOrder, wordOrder := f.Orders()

	hi, lo := regs[0], regs[1]
	if wordOrder == LittleEndian {
		hi, lo = lo, hi
	}
	if byteOrder == LittleEndian {
		hi, lo = swapBytes(hi), swapBytes(lo)
	}
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}
