package wtypes

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Type descriptor bit flags (spec §3.2): "Bit flags in the `type` word
// indicate ARRAY, FIELD, TABLE_FIELD".
const (
	flagArray      uint16 = 0x4000
	flagField      uint16 = 0x2000
	flagTableField uint16 = 0x1000
	kindMask       uint16 = 0x0FFF
)

// endMarker terminates the payload of a scalar/array/field descriptor
// (spec §3.2: "the payload is a two-byte end marker {0x01, 0x00}").
var endMarker = [2]byte{0x01, 0x00}

// tableTerminator ends the (name, type) column list of a TABLE
// descriptor (spec §3.2: "terminated by ';', 0x00").
var tableTerminator = [2]byte{';', 0x00}

// Descriptor is a parsed type descriptor: a base Kind plus the
// ARRAY/FIELD/TABLE_FIELD flags, and, for TABLE descriptors, the
// ordered column list.
type Descriptor struct {
	Base       Kind
	IsArray    bool
	IsField    bool
	IsTableRef bool
	Columns    []TableColumn // non-nil only for TABLE descriptors
}

// TableColumn is one (name, inner-type) entry of a TABLE descriptor.
type TableColumn struct {
	Name string
	Type Descriptor
}

// Scalar builds a plain scalar descriptor.
func Scalar(k Kind) Descriptor { return Descriptor{Base: k} }

// ArrayOf builds an ARRAY-of-k descriptor. TEXT arrays are disallowed
// by spec §3.3 ("TEXT arrays are disallowed"); callers must not pass
// Text here.
func ArrayOf(k Kind) Descriptor { return Descriptor{Base: k, IsArray: true} }

// FieldOf builds a FIELD-of-k descriptor (a typed column reference).
func FieldOf(k Kind, array bool) Descriptor {
	return Descriptor{Base: k, IsArray: array, IsField: true}
}

// Table builds a TABLE descriptor with the given ordered columns.
func Table(columns []TableColumn) Descriptor {
	return Descriptor{Base: Undetermined, IsTableRef: true, Columns: columns}
}

func (d Descriptor) typeWord() uint16 {
	w := uint16(d.Base) & kindMask
	if d.IsArray {
		w |= flagArray
	}
	if d.IsField {
		w |= flagField
	}
	if d.IsTableRef {
		w |= flagTableField
	}
	return w
}

// Encode serializes the descriptor to its wire/on-disk form: a
// little-endian u16 type, u16 data_size, then the payload (spec §3.2).
func (d Descriptor) Encode() []byte {
	var payload []byte
	if d.IsTableRef {
		var buf bytes.Buffer
		for _, c := range d.Columns {
			buf.WriteString(c.Name)
			buf.WriteByte(0)
			var inner [2]byte
			binary.LittleEndian.PutUint16(inner[:], uint16(c.Type.Base))
			buf.Write(inner[:])
		}
		buf.Write(tableTerminator[:])
		payload = buf.Bytes()
	} else {
		payload = endMarker[:]
	}

	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], d.typeWord())
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	return out
}

// Decode parses a descriptor from its wire/on-disk form, returning the
// number of bytes consumed.
func Decode(buf []byte) (Descriptor, int, error) {
	if len(buf) < 4 {
		return Descriptor{}, 0, fmt.Errorf("wtypes: truncated type descriptor")
	}
	typeWord := binary.LittleEndian.Uint16(buf[0:2])
	dataSize := int(binary.LittleEndian.Uint16(buf[2:4]))
	if len(buf) < 4+dataSize {
		return Descriptor{}, 0, fmt.Errorf("wtypes: type descriptor payload truncated")
	}
	payload := buf[4 : 4+dataSize]

	d := Descriptor{
		Base:       Kind(typeWord & kindMask),
		IsArray:    typeWord&flagArray != 0,
		IsField:    typeWord&flagField != 0,
		IsTableRef: typeWord&flagTableField != 0,
	}

	if d.IsTableRef {
		cols, err := decodeColumns(payload)
		if err != nil {
			return Descriptor{}, 0, err
		}
		d.Columns = cols
	}

	return d, 4 + dataSize, nil
}

func decodeColumns(payload []byte) ([]TableColumn, error) {
	var cols []TableColumn
	off := 0
	for {
		if off+2 <= len(payload) && payload[off] == tableTerminator[0] && payload[off+1] == tableTerminator[1] {
			return cols, nil
		}
		nameEnd := bytes.IndexByte(payload[off:], 0)
		if nameEnd < 0 {
			return nil, fmt.Errorf("wtypes: unterminated column name in table descriptor")
		}
		name := string(payload[off : off+nameEnd])
		off += nameEnd + 1
		if off+2 > len(payload) {
			return nil, fmt.Errorf("wtypes: truncated column type in table descriptor")
		}
		inner := Kind(binary.LittleEndian.Uint16(payload[off : off+2]))
		off += 2
		cols = append(cols, TableColumn{Name: name, Type: Scalar(inner)})
	}
}
