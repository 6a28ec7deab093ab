package wire

import (
	"encoding/binary"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// ReadScalar implements READ_*_STACK_TOP for a plain scalar top: the
// whole value always fits in one frame, so no hint bookkeeping is
// needed.
func (s *Stack) ReadScalar() ([]byte, error) {
	top, err := s.top()
	if err != nil {
		return nil, err
	}
	v, err := top.Value()
	if err != nil {
		return nil, err
	}
	return encodeValue(v)
}

// ReadArrayChunk implements READ_ARRAY_STACK_TOP: elements from hint
// (a code-point-analogue element index, spec §4.8 "hints are... element
// indices for ARRAY") up to maxBytes worth of encoded elements, plus the
// hint to resume at on the next call.
func (s *Stack) ReadArrayChunk(hint int, maxBytes int) (data []byte, next int, done bool, err error) {
	top, err := s.top()
	if err != nil {
		return nil, 0, false, err
	}
	arr, ok := top.(*operand.Array)
	if !ok {
		return nil, 0, false, faults.Database(faults.CodeBadParameters, "wire: top of stack is not an array")
	}
	var buf []byte
	i := hint
	for i < arr.Len() {
		elem, err := arr.ElementAt(i)
		if err != nil {
			return nil, 0, false, err
		}
		v, err := elem.Value()
		if err != nil {
			return nil, 0, false, err
		}
		enc, err := encodeValue(v)
		if err != nil {
			return nil, 0, false, err
		}
		if len(buf)+len(enc) > maxBytes && len(buf) > 0 {
			break
		}
		buf = append(buf, enc...)
		i++
	}
	return buf, i, i >= arr.Len(), nil
}

// ReadTextChunk implements READ_TEXT_STACK_TOP: raw UTF-8 bytes from
// byte offset hint, capped at maxBytes, plus the resumption offset
// (spec §4.8 "the server returns as many bytes as fit in one frame and
// sets a resumable hint offset").
func (s *Stack) ReadTextChunk(hint int, maxBytes int) (data []byte, next int, done bool, err error) {
	top, err := s.top()
	if err != nil {
		return nil, 0, false, err
	}
	txt, ok := top.(*operand.Text)
	if !ok {
		return nil, 0, false, faults.Database(faults.CodeBadParameters, "wire: top of stack is not TEXT")
	}
	v, err := txt.Value()
	if err != nil {
		return nil, 0, false, err
	}
	raw := []byte(nil)
	if !v.IsNull() {
		t, _ := v.AsText()
		raw = t.Bytes()
	}
	if hint > len(raw) {
		hint = len(raw)
	}
	end := hint + maxBytes
	if end > len(raw) {
		end = len(raw)
	}
	return raw[hint:end], end, end >= len(raw), nil
}

// tableReadHints is the (hint_field, hint_row, hint_array_off,
// hint_text_off) resumption tuple spec §4.8 describes for TABLE reads.
type tableReadHints struct {
	Row      uint32
	Field    uint16
	ArrayOff uint32
	TextOff  uint32
}

func decodeTableHints(buf []byte) (tableReadHints, error) {
	if len(buf) < 14 {
		return tableReadHints{}, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated table read hints")
	}
	return tableReadHints{
		Row:      binary.LittleEndian.Uint32(buf[0:4]),
		Field:    binary.LittleEndian.Uint16(buf[4:6]),
		ArrayOff: binary.LittleEndian.Uint32(buf[6:10]),
		TextOff:  binary.LittleEndian.Uint32(buf[10:14]),
	}, nil
}

func (h tableReadHints) encode() []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf[0:4], h.Row)
	binary.LittleEndian.PutUint16(buf[4:6], h.Field)
	binary.LittleEndian.PutUint32(buf[6:10], h.ArrayOff)
	binary.LittleEndian.PutUint32(buf[10:14], h.TextOff)
	return buf
}

// ReadTableChunk implements READ_TABLE_STACK_TOP: resumes at an
// arbitrary intra-row position, advancing column-by-column then
// row-by-row, chunking a single cell's TEXT/ARRAY content across calls
// when it alone exceeds maxBytes.
func (s *Stack) ReadTableChunk(hints tableReadHints, maxBytes int) (data []byte, next tableReadHints, done bool, err error) {
	top, err := s.top()
	if err != nil {
		return nil, hints, false, err
	}
	t, ok := top.(*operand.Table)
	if !ok {
		return nil, hints, false, faults.Database(faults.CodeBadParameters, "wire: top of stack is not a table")
	}
	tab := t.Table()
	cols := tab.Columns()
	row, field := hints.Row, hints.Field

	for uint64(row) < tab.AllocatedRows() {
		if tab.IsRowRemoved(uint64(row)) {
			row++
			field = 0
			continue
		}
		if int(field) >= len(cols) {
			row++
			field = 0
			continue
		}
		col := cols[field]
		hints.Row, hints.Field = row, field
		if col.Type.IsArray {
			vals, ok, err := tab.GetArray(uint64(row), col.Name)
			if err != nil {
				return nil, hints, false, err
			}
			if !ok {
				nextHints := hints
				nextHints.ArrayOff = 0
				nextHints.Field = field + 1
				nullEnc, _ := encodeValue(wtypes.NullValue(col.Type.Base))
				return nullEnc, nextHints, false, nil
			}
			var buf []byte
			i := int(hints.ArrayOff)
			for i < len(vals) {
				enc, err := encodeValue(vals[i])
				if err != nil {
					return nil, hints, false, err
				}
				if len(buf)+len(enc) > maxBytes && len(buf) > 0 {
					break
				}
				buf = append(buf, enc...)
				i++
			}
			nextHints := hints
			if i >= len(vals) {
				nextHints.ArrayOff = 0
				nextHints.Field = field + 1
			} else {
				nextHints.ArrayOff = uint32(i)
			}
			return buf, nextHints, false, nil
		}
		if col.Type.Base == wtypes.Text {
			v, err := tab.Get(uint64(row), col.Name)
			if err != nil {
				return nil, hints, false, err
			}
			var raw []byte
			if !v.IsNull() {
				txt, _ := v.AsText()
				raw = txt.Bytes()
			}
			off := int(hints.TextOff)
			if off > len(raw) {
				off = len(raw)
			}
			end := off + maxBytes
			if end > len(raw) {
				end = len(raw)
			}
			chunk := raw[off:end]
			nextHints := hints
			if end >= len(raw) {
				nextHints.TextOff = 0
				nextHints.Field = field + 1
			} else {
				nextHints.TextOff = uint32(end)
			}
			return chunk, nextHints, false, nil
		}

		v, err := tab.Get(uint64(row), col.Name)
		if err != nil {
			return nil, hints, false, err
		}
		enc, err := encodeValue(v)
		if err != nil {
			return nil, hints, false, err
		}
		nextHints := tableReadHints{Row: row, Field: field + 1}
		return enc, nextHints, false, nil
	}
	return nil, tableReadHints{}, true, nil
}
