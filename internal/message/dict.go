package message

import (
	"bytes"
	"encoding/binary"
	"math"

	"codeberg.org/mutker/cgmbridge/internal/errors"
)

// TupleType tags the value of a dictionary tuple.
type TupleType uint8

const (
	TypeBytes TupleType = iota
	TypeCString
	TypeUint
	TypeInt
)

const tupleHeaderSize = 4 + 1 + 2

// Tuple is one key/value pair of a device dictionary.
type Tuple struct {
	Key   Key
	Type  TupleType
	Value []byte
}

// Dictionary is a decoded device message.
type Dictionary []Tuple

func intTuple(key Key, v int) (Tuple, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return Tuple{}, errors.New().WithData(ErrValueRange, struct {
			Key   Key
			Value int
		}{key, v})
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(v)))

	return Tuple{Key: key, Type: TypeInt, Value: buf}, nil
}

func bytesTuple(key Key, v []byte) Tuple {
	return Tuple{Key: key, Type: TypeBytes, Value: append([]byte(nil), v...)}
}

func cstringTuple(key Key, s string) Tuple {
	return Tuple{Key: key, Type: TypeCString, Value: append([]byte(s), 0)}
}

// Marshal writes the dictionary in the device wire layout: a one-byte tuple
// count, then for every tuple a little-endian uint32 key, a type byte, a
// little-endian uint16 length and the value bytes.
func (d Dictionary) Marshal() ([]byte, error) {
	errFactory := errors.New()

	if len(d) > math.MaxUint8 {
		return nil, errFactory.WithData(ErrTooManyTuples, len(d))
	}

	var buf bytes.Buffer
	buf.WriteByte(uint8(len(d)))

	header := make([]byte, tupleHeaderSize)
	for _, t := range d {
		if len(t.Value) > math.MaxUint16 {
			return nil, errFactory.WithData(ErrValueRange, struct {
				Key    Key
				Length int
			}{t.Key, len(t.Value)})
		}

		binary.LittleEndian.PutUint32(header[0:4], uint32(t.Key))
		header[4] = uint8(t.Type)
		binary.LittleEndian.PutUint16(header[5:7], uint16(len(t.Value)))
		buf.Write(header)
		buf.Write(t.Value)
	}

	return buf.Bytes(), nil
}

// Unmarshal parses a dictionary produced by Marshal.
func Unmarshal(data []byte) (Dictionary, error) {
	errFactory := errors.New()

	if len(data) == 0 {
		return nil, errFactory.WithData(ErrMalformed, "empty message")
	}

	count := int(data[0])
	rest := data[1:]
	dict := make(Dictionary, 0, count)

	for i := 0; i < count; i++ {
		if len(rest) < tupleHeaderSize {
			return nil, errFactory.WithData(ErrMalformed, "truncated tuple header")
		}

		key := Key(binary.LittleEndian.Uint32(rest[0:4]))
		typ := TupleType(rest[4])
		length := int(binary.LittleEndian.Uint16(rest[5:7]))
		rest = rest[tupleHeaderSize:]

		if len(rest) < length {
			return nil, errFactory.WithData(ErrMalformed, "truncated tuple value")
		}

		dict = append(dict, Tuple{Key: key, Type: typ, Value: append([]byte(nil), rest[:length]...)})
		rest = rest[length:]
	}

	if len(rest) != 0 {
		return nil, errFactory.WithData(ErrMalformed, "trailing bytes")
	}

	return dict, nil
}

func (d Dictionary) lookup(key Key) (Tuple, bool) {
	for _, t := range d {
		if t.Key == key {
			return t, true
		}
	}

	return Tuple{}, false
}

// Int returns an integer tuple value.
func (d Dictionary) Int(key Key) (int, bool) {
	t, ok := d.lookup(key)
	if !ok || len(t.Value) != 4 {
		return 0, false
	}

	switch t.Type {
	case TypeInt:
		return int(int32(binary.LittleEndian.Uint32(t.Value))), true
	case TypeUint:
		return int(binary.LittleEndian.Uint32(t.Value)), true
	default:
		return 0, false
	}
}

// Bytes returns a byte array tuple value.
func (d Dictionary) Bytes(key Key) ([]byte, bool) {
	t, ok := d.lookup(key)
	if !ok || t.Type != TypeBytes {
		return nil, false
	}

	return t.Value, true
}

// String returns a C string tuple value without its terminator.
func (d Dictionary) String(key Key) (string, bool) {
	t, ok := d.lookup(key)
	if !ok || t.Type != TypeCString {
		return "", false
	}

	return string(bytes.TrimSuffix(t.Value, []byte{0})), true
}
