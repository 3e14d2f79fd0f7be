// Package tlv encodes record payloads as type-length-value fields.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
)

const (
	TypeU32      uint8 = 3
	TypeU64      uint8 = 4
	TypeBool     uint8 = 5
	TypeString   uint8 = 6
	TypeBytes    uint8 = 7
	TypeF64      uint8 = 8
	TypeF64Array uint8 = 9
	TypeU32Array uint8 = 10
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bytes(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: append([]byte(nil), v...)}
}

func U32(id uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeU32, Value: buf}
}

func U64(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func F64(id uint16, v float64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return Field{ID: id, Type: TypeF64, Value: buf}
}

// F64s encodes values as consecutive big-endian IEEE 754 doubles.
func F64s(id uint16, values []float64) Field {
	buf := make([]byte, 8*len(values))
	for n, v := range values {
		binary.BigEndian.PutUint64(buf[8*n:], math.Float64bits(v))
	}
	return Field{ID: id, Type: TypeF64Array, Value: buf}
}

func U32s(id uint16, values []uint32) Field {
	buf := make([]byte, 4*len(values))
	for n, v := range values {
		binary.BigEndian.PutUint32(buf[4*n:], v)
	}
	return Field{ID: id, Type: TypeU32Array, Value: buf}
}

func (f Field) check(want uint8, size int) error {
	if f.Type != want {
		return fmt.Errorf("%w: field %d got %d want %d", ErrTypeMismatch, f.ID, f.Type, want)
	}
	if size > 0 && len(f.Value) != size {
		return fmt.Errorf("%w: field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}
	return nil
}

func (f Field) AsString() (string, error) {
	if err := f.check(TypeString, 0); err != nil {
		return "", err
	}
	return string(f.Value), nil
}

func (f Field) AsBytes() ([]byte, error) {
	if err := f.check(TypeBytes, 0); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.Value...), nil
}

func (f Field) AsU32() (uint32, error) {
	if err := f.check(TypeU32, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (f Field) AsU64() (uint64, error) {
	if err := f.check(TypeU64, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (f Field) AsBool() (bool, error) {
	if err := f.check(TypeBool, 1); err != nil {
		return false, err
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: field %d bool byte %d", ErrInvalidLength, f.ID, f.Value[0])
	}
}

func (f Field) AsF64() (float64, error) {
	if err := f.check(TypeF64, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(f.Value)), nil
}

func (f Field) AsF64s() ([]float64, error) {
	if err := f.check(TypeF64Array, 0); err != nil {
		return nil, err
	}
	if len(f.Value)%8 != 0 {
		return nil, fmt.Errorf("%w: field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}
	out := make([]float64, len(f.Value)/8)
	for n := range out {
		out[n] = math.Float64frombits(binary.BigEndian.Uint64(f.Value[8*n:]))
	}
	return out, nil
}

func (f Field) AsU32s() ([]uint32, error) {
	if err := f.check(TypeU32Array, 0); err != nil {
		return nil, err
	}
	if len(f.Value)%4 != 0 {
		return nil, fmt.Errorf("%w: field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}
	out := make([]uint32, len(f.Value)/4)
	for n := range out {
		out[n] = binary.BigEndian.Uint32(f.Value[4*n:])
	}
	return out, nil
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

// GetField returns the first field with id.
func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// GetAll returns every field with id, in order, for repeated fields.
func GetAll(fields []Field, id uint16) []Field {
	var out []Field
	for _, f := range fields {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}
