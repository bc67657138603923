package pdo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// A PDO carries at most 8 data bytes
const MaxPdoBits = 64

var (
	ErrBitOverflow      = errors.New("mapped fields exceed 64 bits")
	ErrValueOutOfRange  = errors.New("raw value does not fit field width")
	ErrUnsupportedWidth = errors.New("bit length must be 8, 16 or 32")
	ErrFrameTooShort    = errors.New("frame shorter than mapped width")
	ErrValueCount       = errors.New("value count does not match field count")
	ErrZeroScale        = errors.New("field scale must be non-zero")
)

type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// FieldSpec describes one byte-aligned field of a PDO frame together with
// its engineering-unit conversion : value = raw * Scale + Offset.
type FieldSpec struct {
	Index     uint16
	Subindex  uint8
	BitLength uint8 // 8, 16 or 32
	Scale     float64
	Offset    float64
	Order     ByteOrder
}

// maxRaw returns the largest raw value representable in the field width
func (field FieldSpec) maxRaw() uint64 {
	return (uint64(1) << field.BitLength) - 1
}

// Raw converts an engineering value to its raw representation, rounding to
// the nearest step. The result may be out of range for the field width.
func (field FieldSpec) Raw(value float64) int64 {
	return int64(math.Round((value - field.Offset) / field.Scale))
}

// Clamp limits an engineering value to the range representable by the
// field. The charger setpoint path clamps to preserve availability, the
// configuration path rejects instead (see Pack).
func (field FieldSpec) Clamp(value float64) float64 {
	raw := field.Raw(value)
	if raw < 0 {
		raw = 0
	} else if uint64(raw) > field.maxRaw() {
		raw = int64(field.maxRaw())
	}
	return float64(raw)*field.Scale + field.Offset
}

func validate(fields []FieldSpec) (totalBytes int, err error) {
	totalBits := 0
	for i, field := range fields {
		switch field.BitLength {
		case 8, 16, 32:
		default:
			return 0, fmt.Errorf("%w : field %d has %d bits", ErrUnsupportedWidth, i, field.BitLength)
		}
		if field.Scale == 0 {
			return 0, fmt.Errorf("%w : field %d", ErrZeroScale, i)
		}
		totalBits += int(field.BitLength)
	}
	if totalBits > MaxPdoBits {
		return 0, fmt.Errorf("%w : %d bits mapped", ErrBitOverflow, totalBits)
	}
	return totalBits / 8, nil
}

// Pack encodes engineering values into a PDO frame, fields in declaration
// order. A value whose raw representation does not fit its field width
// fails with ErrValueOutOfRange, callers wanting clamping apply
// [FieldSpec.Clamp] first.
func Pack(fields []FieldSpec, values []float64) ([]byte, error) {
	if len(values) != len(fields) {
		return nil, ErrValueCount
	}
	totalBytes, err := validate(fields)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, totalBytes)
	pos := 0
	for i, field := range fields {
		raw := field.Raw(values[i])
		if raw < 0 || uint64(raw) > field.maxRaw() {
			return nil, fmt.Errorf("%w : field %d (x%04x:%02x) value %v",
				ErrValueOutOfRange, i, field.Index, field.Subindex, values[i])
		}
		width := int(field.BitLength) / 8
		putUint(frame[pos:pos+width], uint64(raw), field.Order)
		pos += width
	}
	return frame, nil
}

// Unpack decodes a PDO frame into engineering values, the inverse of Pack
func Unpack(fields []FieldSpec, data []byte) ([]float64, error) {
	totalBytes, err := validate(fields)
	if err != nil {
		return nil, err
	}
	if len(data) < totalBytes {
		return nil, fmt.Errorf("%w : need %d bytes got %d", ErrFrameTooShort, totalBytes, len(data))
	}
	values := make([]float64, len(fields))
	pos := 0
	for i, field := range fields {
		width := int(field.BitLength) / 8
		raw := getUint(data[pos:pos+width], field.Order)
		values[i] = float64(raw)*field.Scale + field.Offset
		pos += width
	}
	return values, nil
}

func putUint(dst []byte, raw uint64, order ByteOrder) {
	switch len(dst) {
	case 1:
		dst[0] = uint8(raw)
	case 2:
		if order == BigEndian {
			binary.BigEndian.PutUint16(dst, uint16(raw))
		} else {
			binary.LittleEndian.PutUint16(dst, uint16(raw))
		}
	case 4:
		if order == BigEndian {
			binary.BigEndian.PutUint32(dst, uint32(raw))
		} else {
			binary.LittleEndian.PutUint32(dst, uint32(raw))
		}
	}
}

func getUint(src []byte, order ByteOrder) uint64 {
	switch len(src) {
	case 1:
		return uint64(src[0])
	case 2:
		if order == BigEndian {
			return uint64(binary.BigEndian.Uint16(src))
		}
		return uint64(binary.LittleEndian.Uint16(src))
	case 4:
		if order == BigEndian {
			return uint64(binary.BigEndian.Uint32(src))
		}
		return uint64(binary.LittleEndian.Uint32(src))
	}
	return 0
}
