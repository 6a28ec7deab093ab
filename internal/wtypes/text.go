package wtypes

import "unicode/utf8"

// Text is a TEXT value: a sequence of Unicode code points stored as
// UTF-8 and indexed logically by code-point position, not byte offset
// (spec §3.2). No normalization is applied on insert or compare (spec
// §9.2 "UTF-8 normalization" open question resolved to bytewise
// comparison, no normalization — the safe default the spec recommends).
type Text struct {
	raw []byte
}

// NewText wraps a UTF-8 string as Text, copying its bytes.
func NewText(s string) Text {
	return Text{raw: []byte(s)}
}

func (t Text) String() string { return string(t.raw) }

// Bytes returns the underlying UTF-8 bytes (read-only view).
func (t Text) Bytes() []byte { return t.raw }

// Len returns the code-point count.
func (t Text) Len() int {
	return utf8.RuneCount(t.raw)
}

// ByteLen returns the UTF-8 byte length.
func (t Text) ByteLen() int { return len(t.raw) }

// RuneAt returns the code point at logical index i (INDT opcode, spec
// §4.6).
func (t Text) RuneAt(i int) (rune, bool) {
	if i < 0 {
		return 0, false
	}
	off := 0
	for n := 0; ; n++ {
		if off >= len(t.raw) {
			return 0, false
		}
		r, size := utf8.DecodeRune(t.raw[off:])
		if n == i {
			return r, true
		}
		off += size
	}
}

// ByteOffsetOf converts a code-point index to a UTF-8 byte offset, the
// unit in which the wire protocol's UPDATE_STACK_TOP /
// READ_TEXT_STACK_TOP commands address TEXT (spec §4.8).
func (t Text) ByteOffsetOf(codepointIndex int) (int, bool) {
	if codepointIndex < 0 {
		return 0, false
	}
	off := 0
	for n := 0; n < codepointIndex; n++ {
		if off >= len(t.raw) {
			return 0, false
		}
		_, size := utf8.DecodeRune(t.raw[off:])
		off += size
	}
	return off, true
}

// Concat implements ADDT (text concatenation).
func (t Text) Concat(o Text) Text {
	out := make([]byte, 0, len(t.raw)+len(o.raw))
	out = append(out, t.raw...)
	out = append(out, o.raw...)
	return Text{raw: out}
}

// Cmp compares two Text values bytewise over their UTF-8 encoding
// (spec §4.4(b): "ordering is by the underlying UTF-8 byte sequence
// only when a TEXT index exists").
func (t Text) Cmp(o Text) int {
	la, lb := len(t.raw), len(o.raw)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if t.raw[i] != o.raw[i] {
			if t.raw[i] < o.raw[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}
