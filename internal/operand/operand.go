// Package operand implements the tagged runtime value variants of spec
// §3.5/§4.5. Rather than the original's virtual-dispatch class hierarchy,
// each variant is a small Go type satisfying the common Operand interface;
// optional behaviors (table/field access, iteration) are exposed through
// narrower capability interfaces a caller type-asserts for, the way
// io.Reader/io.Writer-style capability checks are done idiomatically in Go.
package operand

import (
	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Operand is the capability every runtime value variant satisfies (spec
// §4.5's "every operand responds to GetValue<T>/SetValue<T>, with
// automatic widening among numeric types and null-propagation").
type Operand interface {
	IsNull() bool
	Kind() wtypes.Kind
	Value() (wtypes.Value, error)
	SetValue(v wtypes.Value) error
	Clone() Operand
}

// Tabular is implemented by operands backed by a live table handle.
type Tabular interface {
	Table() *storage.Table
}

// Fielded is implemented by operands that denote one column of a table.
type Fielded interface {
	Tabular
	FieldIndex() int
	ValueAt(row uint64) (Operand, error)
}

// Indexable is implemented by array-valued and text operands.
type Indexable interface {
	Len() int
	ElementAt(i int) (Operand, error)
}

// Iterator is the StartIterate/Iterate/IteratorOffset capability (spec
// §4.6's ITF/ITN/ITP/ITOFF opcode group).
type Iterator interface {
	StartIterate() error
	Iterate() (more bool, err error)
	IteratorOffset() uint64
}

// --- Null operand -----------------------------------------------------

// Null is produced by LDNULL; it has no fixed kind until the first store
// retypes the slot (spec §4.5 variant 1).
type Null struct {
	kind wtypes.Kind
}

func NewNull(k wtypes.Kind) *Null { return &Null{kind: k} }

func (n *Null) IsNull() bool        { return true }
func (n *Null) Kind() wtypes.Kind   { return n.kind }
func (n *Null) Value() (wtypes.Value, error) { return wtypes.NullValue(n.kind), nil }
func (n *Null) SetValue(v wtypes.Value) error {
	n.kind = v.Kind
	return nil
}
func (n *Null) Clone() Operand { c := *n; return &c }

// --- Scalar operand -----------------------------------------------------

// Scalar holds a by-value primitive (spec §4.5 variant 2).
type Scalar struct {
	v wtypes.Value
}

func NewScalar(v wtypes.Value) *Scalar { return &Scalar{v: v} }

func (s *Scalar) IsNull() bool      { return s.v.IsNull() }
func (s *Scalar) Kind() wtypes.Kind { return s.v.Kind }
func (s *Scalar) Value() (wtypes.Value, error) { return s.v, nil }
func (s *Scalar) SetValue(v wtypes.Value) error {
	w, err := v.Widen(s.v.Kind)
	if err != nil {
		return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
	}
	s.v = w
	return nil
}
func (s *Scalar) Clone() Operand { return &Scalar{v: s.v} }

// --- Array / text operand -----------------------------------------------

// Array is a value-semantic sequence of same-kind scalars (spec §4.5
// variant 3). SetElement writes into the Array's own slice and Clone
// copies it; an ARRAY table field read by CARR is copied element by
// element into a fresh slice, so no Array shares a table row's payload.
type Array struct {
	elem wtypes.Kind
	vals []wtypes.Value
	null bool
}

func NewArray(elem wtypes.Kind, vals []wtypes.Value, null bool) *Array {
	return &Array{elem: elem, vals: vals, null: null}
}

func (a *Array) IsNull() bool      { return a.null }
func (a *Array) Kind() wtypes.Kind { return a.elem }
func (a *Array) Len() int          { return len(a.vals) }

func (a *Array) Value() (wtypes.Value, error) {
	return wtypes.Value{}, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: array has no scalar value, use ElementAt")
}

func (a *Array) SetValue(wtypes.Value) error {
	return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: cannot SetValue on an array operand")
}

func (a *Array) ElementAt(i int) (Operand, error) {
	if a.null || i < 0 || i >= len(a.vals) {
		return nil, faults.Interpreter(faults.CodeArrayIndexNull, "operand: array index %d out of range", i)
	}
	return NewScalar(a.vals[i]), nil
}

func (a *Array) SetElement(i int, v wtypes.Value) error {
	if a.null || i < 0 || i >= len(a.vals) {
		return faults.Interpreter(faults.CodeArrayIndexNull, "operand: array index %d out of range", i)
	}
	w, err := v.Widen(a.elem)
	if err != nil {
		return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
	}
	a.vals[i] = w
	return nil
}

func (a *Array) Clone() Operand {
	cp := make([]wtypes.Value, len(a.vals))
	copy(cp, a.vals)
	return &Array{elem: a.elem, vals: cp, null: a.null}
}

// Text is a code-point-indexed UTF-8 operand (spec §4.5 variant 3).
type Text struct {
	v    wtypes.Text
	null bool
}

func NewText(v wtypes.Text, null bool) *Text { return &Text{v: v, null: null} }

func (t *Text) IsNull() bool      { return t.null }
func (t *Text) Kind() wtypes.Kind { return wtypes.Text }
func (t *Text) Len() int          { return t.v.Len() }

func (t *Text) Value() (wtypes.Value, error) {
	if t.null {
		return wtypes.NullValue(wtypes.Text), nil
	}
	return wtypes.TextValue(t.v), nil
}

func (t *Text) SetValue(v wtypes.Value) error {
	if v.IsNull() {
		t.null = true
		return nil
	}
	txt, ok := v.AsText()
	if !ok {
		return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: expected TEXT")
	}
	t.null = false
	t.v = txt
	return nil
}

func (t *Text) Clone() Operand { return &Text{v: t.v, null: t.null} }

// ElementAt returns the sub-character operand at code-point index i (spec
// §4.5 variant 8).
func (t *Text) ElementAt(i int) (Operand, error) {
	if t.null {
		return nil, faults.Interpreter(faults.CodeTextIndexNull, "operand: text index on null")
	}
	r, ok := t.v.RuneAt(i)
	if !ok {
		return nil, faults.Interpreter(faults.CodeTextIndexNull, "operand: code-point index %d out of range", i)
	}
	return &SubCharacter{parent: t, index: i, cached: r}, nil
}

// --- Table operand -------------------------------------------------------

// Table is a shared-ownership reference to a table handle (spec §4.5
// variant 4); IsNull iff the table has zero rows.
type Table struct {
	t *storage.Table
}

func NewTable(t *storage.Table) *Table { return &Table{t: t} }

func (o *Table) IsNull() bool      { return o.t.AllocatedRows() == 0 }
func (o *Table) Kind() wtypes.Kind { return wtypes.Undetermined }
func (o *Table) Table() *storage.Table { return o.t }

func (o *Table) Value() (wtypes.Value, error) {
	return wtypes.Value{}, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: table has no scalar value")
}
func (o *Table) SetValue(wtypes.Value) error {
	return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: cannot SetValue on a table operand")
}
func (o *Table) Clone() Operand { return &Table{t: o.t} }

// --- Field operand ---------------------------------------------------------

// Field denotes one column of a table (spec §4.5 variant 5).
type Field struct {
	t       *storage.Table
	colName string
	colIdx  int
	colType wtypes.Descriptor
}

func NewField(t *storage.Table, colName string, colIdx int, colType wtypes.Descriptor) *Field {
	return &Field{t: t, colName: colName, colIdx: colIdx, colType: colType}
}

func (f *Field) IsNull() bool          { return false }
func (f *Field) Kind() wtypes.Kind     { return f.colType.Base }
func (f *Field) Table() *storage.Table { return f.t }
func (f *Field) FieldIndex() int       { return f.colIdx }
func (f *Field) ColumnName() string    { return f.colName }
func (f *Field) ColumnType() wtypes.Descriptor { return f.colType }

// ArrayValueAt returns the element operand for one array slot of row
// (spec's indexed GetValueAt, used by the INDTA opcode).
func (f *Field) ArrayValueAt(row uint64, idx int) (Operand, error) {
	return NewArrayElement(f.t, row, f.colName, f.colType, idx), nil
}

func (f *Field) Value() (wtypes.Value, error) {
	return wtypes.Value{}, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: field has no scalar value, use ValueAt")
}
func (f *Field) SetValue(wtypes.Value) error {
	return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: cannot SetValue on a field operand")
}
func (f *Field) Clone() Operand { return &Field{t: f.t, colName: f.colName, colIdx: f.colIdx, colType: f.colType} }

// ValueAt returns the element operand for row (spec's GetValueAt(row)).
func (f *Field) ValueAt(row uint64) (Operand, error) {
	return NewElement(f.t, row, f.colName, f.colType), nil
}

// --- Element operand ---------------------------------------------------------

// Element denotes one cell: (table, row, field [, array index]) (spec §4.5
// variant 6). Reads and writes pass straight through to the table.
type Element struct {
	t        *storage.Table
	row      uint64
	colName  string
	colType  wtypes.Descriptor
	elemIdx  int
	hasIndex bool
}

func NewElement(t *storage.Table, row uint64, colName string, colType wtypes.Descriptor) *Element {
	return &Element{t: t, row: row, colName: colName, colType: colType}
}

func NewArrayElement(t *storage.Table, row uint64, colName string, colType wtypes.Descriptor, idx int) *Element {
	return &Element{t: t, row: row, colName: colName, colType: colType, elemIdx: idx, hasIndex: true}
}

func (e *Element) IsNull() bool {
	if e.hasIndex {
		vals, ok, err := e.t.GetArray(e.row, e.colName)
		if err != nil || !ok || e.elemIdx >= len(vals) {
			return true
		}
		return false
	}
	if e.colType.IsArray {
		_, ok, err := e.t.GetArray(e.row, e.colName)
		return err != nil || !ok
	}
	v, err := e.t.Get(e.row, e.colName)
	return err != nil || v.IsNull()
}

func (e *Element) Kind() wtypes.Kind { return e.colType.Base }
func (e *Element) Table() *storage.Table { return e.t }
func (e *Element) Row() uint64           { return e.row }

func (e *Element) Value() (wtypes.Value, error) {
	if e.colType.IsArray {
		vals, ok, err := e.t.GetArray(e.row, e.colName)
		if err != nil {
			return wtypes.Value{}, err
		}
		if !ok {
			return wtypes.NullValue(e.colType.Base), nil
		}
		if e.hasIndex {
			if e.elemIdx < 0 || e.elemIdx >= len(vals) {
				return wtypes.Value{}, faults.Interpreter(faults.CodeArrayIndexNull, "operand: array index %d out of range", e.elemIdx)
			}
			return vals[e.elemIdx], nil
		}
		return wtypes.Value{}, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: array element requires an index")
	}
	return e.t.Get(e.row, e.colName)
}

func (e *Element) SetValue(v wtypes.Value) error {
	if e.colType.IsArray {
		if !e.hasIndex {
			return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: array element requires an index")
		}
		vals, ok, err := e.t.GetArray(e.row, e.colName)
		if err != nil {
			return err
		}
		if !ok {
			return faults.Interpreter(faults.CodeArrayIndexNull, "operand: cannot index a null array")
		}
		if e.elemIdx < 0 || e.elemIdx >= len(vals) {
			return faults.Interpreter(faults.CodeArrayIndexNull, "operand: array index %d out of range", e.elemIdx)
		}
		w, err := v.Widen(e.colType.Base)
		if err != nil {
			return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
		}
		vals[e.elemIdx] = w
		return e.t.SetArray(e.row, e.colName, vals, false)
	}
	return e.t.Set(e.row, e.colName, v)
}

func (e *Element) Clone() Operand { c := *e; return &c }

// --- Local operand ---------------------------------------------------------

// Local is transparent indirection into the current frame's slot array
// (spec §4.5 variant 7): every operation on it delegates to the slot it
// points at.
type Local struct {
	slots *[]Operand
	index int
}

func NewLocal(slots *[]Operand, index int) *Local { return &Local{slots: slots, index: index} }

func (l *Local) target() Operand { return (*l.slots)[l.index] }

func (l *Local) IsNull() bool                 { return l.target().IsNull() }
func (l *Local) Kind() wtypes.Kind            { return l.target().Kind() }
func (l *Local) Value() (wtypes.Value, error) { return l.target().Value() }

// SetValue stores through the slot. An untyped Null slot (the state
// every local starts in until its first store, spec §4.5 variant 1)
// cannot reinterpret itself as a Scalar/Text from inside its own
// method set, since that would require changing the dynamic type held
// by the slice entry; Local is the one place that holds the slice and
// index needed to replace the entry outright, so it does the retyping
// the first time a still-null slot is written.
func (l *Local) SetValue(v wtypes.Value) error {
	if _, stillNull := l.target().(*Null); stillNull {
		var retyped Operand
		if v.Kind == wtypes.Text {
			txt, _ := v.AsText()
			retyped = NewText(txt, v.IsNull())
		} else {
			retyped = NewScalar(wtypes.NullValue(v.Kind))
		}
		if err := retyped.SetValue(v); err != nil {
			return err
		}
		(*l.slots)[l.index] = retyped
		return nil
	}
	return l.target().SetValue(v)
}
func (l *Local) Clone() Operand { return l.target().Clone() }

// --- Sub-character operand ---------------------------------------------------

// SubCharacter names one code point within a Text operand (spec §4.5
// variant 8). It is read-only: WHAIS-L has no single-code-point store.
type SubCharacter struct {
	parent *Text
	index  int
	cached rune
}

func (s *SubCharacter) IsNull() bool      { return s.parent.null }
func (s *SubCharacter) Kind() wtypes.Kind { return wtypes.Char }

func (s *SubCharacter) Value() (wtypes.Value, error) {
	if s.parent.null {
		return wtypes.NullValue(wtypes.Char), nil
	}
	return wtypes.CharValue(s.cached), nil
}

func (s *SubCharacter) SetValue(wtypes.Value) error {
	return faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: cannot assign through a sub-character operand")
}

func (s *SubCharacter) Clone() Operand { c := *s; return &c }
