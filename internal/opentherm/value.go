package opentherm

import (
	"fmt"
	"math"
	"strconv"
)

// Shape describes how the 16-bit data value of an item is interpreted.
type Shape uint8

// Supported data value shapes.
const (
	// ShapeF88 is a signed fixed-point number with 8 fractional bits.
	ShapeF88 Shape = iota
	// ShapeU16 is an unsigned 16-bit integer.
	ShapeU16
	// ShapeS16 is a signed 16-bit integer.
	ShapeS16
	// ShapeU8High is the unsigned high byte.
	ShapeU8High
	// ShapeU8Low is the unsigned low byte.
	ShapeU8Low
	// ShapeFlag is a single bit; Item.Bit selects it (0-15).
	ShapeFlag
	// ShapeDayTime is data id 20: day of week and hour in the high byte, minutes in the low byte.
	ShapeDayTime
)

var shapeNames = [...]string{
	ShapeF88:     "f8.8",
	ShapeU16:     "u16",
	ShapeS16:     "s16",
	ShapeU8High:  "u8_hb",
	ShapeU8Low:   "u8_lb",
	ShapeFlag:    "flag",
	ShapeDayTime: "day_time",
}

// String returns the shape name used in diagnostics output.
func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return fmt.Sprintf("Shape(%d)", uint8(s))
}

// f8.8 limits.
const (
	f88Scale = 256.0
	f88Min   = -128.0
	f88Max   = 127.0 + 255.0/256.0
)

// ParseF88 decodes a signed f8.8 fixed-point value.
func ParseF88(data uint16) float64 {
	return float64(int16(data)) / f88Scale
}

// FormatF88 encodes a float as signed f8.8, rounding to the nearest 1/256.
// It returns ErrValueRange when the value cannot be represented.
func FormatF88(v float64) (uint16, error) {
	if math.IsNaN(v) || v < f88Min || v > f88Max {
		return 0, fmt.Errorf("%w: %g not in [%g, %g]", ErrValueRange, v, f88Min, f88Max)
	}
	return uint16(int16(math.Round(v * f88Scale))), nil
}

// DayTime is the decoded form of data id 20.
type DayTime struct {
	// Weekday is 1 (Monday) to 7 (Sunday); 0 means unknown.
	Weekday int
	Hour    int
	Minute  int
}

// ParseDayTime decodes data id 20.
func ParseDayTime(data uint16) DayTime {
	hb := uint8(data >> 8)
	return DayTime{
		Weekday: int(hb >> 5),
		Hour:    int(hb & 0x1F),
		Minute:  int(data & 0xFF),
	}
}

// Encode packs the day-time into the id 20 data value.
func (d DayTime) Encode() (uint16, error) {
	if d.Weekday < 0 || d.Weekday > 7 || d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 {
		return 0, fmt.Errorf("%w: day-time %d %02d:%02d", ErrValueRange, d.Weekday, d.Hour, d.Minute)
	}
	return uint16(d.Weekday)<<13 | uint16(d.Hour)<<8 | uint16(d.Minute), nil
}

// String formats the day-time as the OTGW SC command parameter ("HH:MM/D").
func (d DayTime) String() string {
	return fmt.Sprintf("%02d:%02d/%d", d.Hour, d.Minute, d.Weekday)
}

// Value is a typed data value read from the registry.
//
// Exactly one of the accessors is meaningful, selected by Shape.
type Value struct {
	Shape Shape
	Raw   uint16
	Bit   uint8
}

// NewValue interprets raw data according to a shape.
func NewValue(shape Shape, raw uint16, bit uint8) Value {
	return Value{Shape: shape, Raw: raw, Bit: bit}
}

// Float returns the numeric value for numeric shapes. Flags return 0 or 1.
func (v Value) Float() float64 {
	switch v.Shape {
	case ShapeF88:
		return ParseF88(v.Raw)
	case ShapeU16:
		return float64(v.Raw)
	case ShapeS16:
		return float64(int16(v.Raw))
	case ShapeU8High:
		return float64(v.Raw >> 8)
	case ShapeU8Low:
		return float64(v.Raw & 0xFF)
	case ShapeFlag:
		if v.Bool() {
			return 1
		}
		return 0
	case ShapeDayTime:
		d := ParseDayTime(v.Raw)
		return float64(d.Hour*60 + d.Minute)
	default:
		return math.NaN()
	}
}

// Bool returns the selected bit for flag shapes and Raw != 0 otherwise.
func (v Value) Bool() bool {
	if v.Shape == ShapeFlag {
		return v.Raw&(1<<v.Bit) != 0
	}
	return v.Raw != 0
}

// DayTime returns the decoded id 20 value.
func (v Value) DayTime() DayTime {
	return ParseDayTime(v.Raw)
}

// Any returns the natural Go representation for JSON payloads:
// bool for flags, string for day-time, int for integer shapes and
// float64 for f8.8.
func (v Value) Any() any {
	switch v.Shape {
	case ShapeFlag:
		return v.Bool()
	case ShapeDayTime:
		return v.DayTime().String()
	case ShapeF88:
		return v.Float()
	default:
		return int(v.Float())
	}
}

// String formats the value for logs and MQTT payloads.
func (v Value) String() string {
	switch v.Shape {
	case ShapeFlag:
		return strconv.FormatBool(v.Bool())
	case ShapeDayTime:
		return v.DayTime().String()
	case ShapeF88:
		return strconv.FormatFloat(v.Float(), 'f', 2, 64)
	default:
		return strconv.Itoa(int(v.Float()))
	}
}

// EncodeValue converts a float to the raw data value for a shape.
//
// For byte shapes the other byte is taken from base, so writing one half of
// a shared item keeps the other half intact. Flag shapes set or clear Bit in
// base depending on v != 0.
//
// Parameters:
//   - shape: Target wire shape
//   - v: Value to encode
//   - bit: Bit index for ShapeFlag
//   - base: Current raw value used for partial shapes
//
// Returns:
//   - uint16: Raw data value
//   - error: ErrValueRange (wrapped) when v does not fit
func EncodeValue(shape Shape, v float64, bit uint8, base uint16) (uint16, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %g", ErrValueRange, v)
	}

	switch shape {
	case ShapeF88:
		return FormatF88(v)
	case ShapeU16:
		if v < 0 || v > math.MaxUint16 {
			return 0, fmt.Errorf("%w: %g not a u16", ErrValueRange, v)
		}
		return uint16(math.Round(v)), nil
	case ShapeS16:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return 0, fmt.Errorf("%w: %g not an s16", ErrValueRange, v)
		}
		return uint16(int16(math.Round(v))), nil
	case ShapeU8High:
		if v < 0 || v > math.MaxUint8 {
			return 0, fmt.Errorf("%w: %g not a u8", ErrValueRange, v)
		}
		return uint16(math.Round(v))<<8 | base&0x00FF, nil
	case ShapeU8Low:
		if v < 0 || v > math.MaxUint8 {
			return 0, fmt.Errorf("%w: %g not a u8", ErrValueRange, v)
		}
		return base&0xFF00 | uint16(math.Round(v)), nil
	case ShapeFlag:
		if v != 0 {
			return base | 1<<bit, nil
		}
		return base &^ (1 << bit), nil
	case ShapeDayTime:
		minutes := int(math.Round(v))
		d := ParseDayTime(base)
		d.Hour, d.Minute = minutes/60, minutes%60
		return d.Encode()
	default:
		return 0, fmt.Errorf("%w: unsupported shape %s", ErrValueRange, shape)
	}
}
