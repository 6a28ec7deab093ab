package wire

import (
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Row/column sentinels for UPDATE_STACK_TOP / READ_*_STACK_TOP (spec
// §4.8: "for scalars col == UINT16_MAX and row == UINT32_MAX").
const (
	NoRow uint32 = 0xFFFFFFFF
	NoCol uint16 = 0xFFFF
)

// Stack is one session's operand stack as seen through the wire
// protocol (spec §4.8): the same slice a procedure frame would use, but
// addressed by wire commands rather than bytecode. A TABLE push backs
// its slot with a session-private temporary table (spec §4.4
// "temporary tables live for the session"), torn down when Close is
// called.
type Stack struct {
	db      *storage.Database
	values  []operand.Operand
	tmpTabs []string
}

// NewStack opens an empty stack backed by db for any TABLE-typed
// pushes.
func NewStack(db *storage.Database) *Stack {
	return &Stack{db: db}
}

// Close drops every temporary table this stack allocated via Push,
// aggregating every failure rather than stopping at the first so a
// client tears down as much of its session's temporary state as
// possible on disconnect.
func (s *Stack) Close() error {
	var err error
	for _, name := range s.tmpTabs {
		err = multierr.Append(err, s.db.DropTempTable(name))
	}
	s.tmpTabs = nil
	return err
}

func (s *Stack) Len() int { return len(s.values) }

// Push implements PUSH_STACK(type-descriptor): push a typed null,
// allocating a backing temporary table when desc names one (spec §4.8
// "Used also to allocate space for TABLE results").
func (s *Stack) Push(desc wtypes.Descriptor) error {
	switch {
	case desc.IsTableRef:
		cols := make([]storage.Column, len(desc.Columns))
		for i, c := range desc.Columns {
			cols[i] = storage.Column{Name: c.Name, Type: c.Type}
		}
		name := "__stack_" + uuid.New().String()
		t, err := s.db.AddTempTable(name, cols)
		if err != nil {
			return err
		}
		s.tmpTabs = append(s.tmpTabs, name)
		s.values = append(s.values, operand.NewTable(t))
	case desc.IsArray:
		s.values = append(s.values, operand.NewArray(desc.Base, nil, true))
	case desc.Base == wtypes.Text:
		s.values = append(s.values, operand.NewText(wtypes.Text{}, true))
	default:
		s.values = append(s.values, operand.NewScalar(wtypes.NullValue(desc.Base)))
	}
	return nil
}

// Pop implements POP_STACK(n).
func (s *Stack) Pop(n int) error {
	if n < 0 || n > len(s.values) {
		return faults.Database(faults.CodeBadParameters, "wire: pop %d exceeds stack depth %d", n, len(s.values))
	}
	s.values = s.values[:len(s.values)-n]
	return nil
}

func (s *Stack) top() (operand.Operand, error) {
	if len(s.values) == 0 {
		return nil, faults.Interpreter(faults.CodeStackCorrupted, "wire: stack is empty")
	}
	return s.values[len(s.values)-1], nil
}

// Push onto the stack directly (used by Conn.execute to land a
// procedure's return value).
func (s *Stack) PushValue(v operand.Operand) { s.values = append(s.values, v) }

// Args returns the top n operands in call order (bottom to top),
// without popping them.
func (s *Stack) Args(n int) ([]operand.Operand, error) {
	if n < 0 || n > len(s.values) {
		return nil, faults.Database(faults.CodeBadParameters, "wire: requested %d arguments, stack depth is %d", n, len(s.values))
	}
	out := make([]operand.Operand, n)
	copy(out, s.values[len(s.values)-n:])
	return out, nil
}

// UpdateTop implements UPDATE_STACK_TOP(row, col, offset, bytes).
func (s *Stack) UpdateTop(row uint32, col uint16, offset uint32, data []byte) error {
	top, err := s.top()
	if err != nil {
		return err
	}
	switch v := top.(type) {
	case *operand.Table:
		return s.updateTableCell(v, row, col, offset, data)
	case *operand.Array:
		if row == NoRow {
			return faults.Interpreter(faults.CodeStackCorrupted, "wire: array update missing row index")
		}
		val, err := decodeValue(v.Kind(), data)
		if err != nil {
			return err
		}
		return v.SetElement(int(row), val)
	case *operand.Text:
		return updateText(v, offset, data)
	default:
		val, err := decodeValue(top.Kind(), data)
		if err != nil {
			return err
		}
		return top.SetValue(val)
	}
}

func updateText(t *operand.Text, offset uint32, data []byte) error {
	cur, _ := t.Value()
	var raw []byte
	if !cur.IsNull() {
		txt, _ := cur.AsText()
		raw = txt.Bytes()
	}
	off := int(offset)
	if off > len(raw) {
		off = len(raw)
	}
	next := append(append([]byte{}, raw[:off]...), data...)
	return t.SetValue(wtypes.TextValue(wtypes.NewText(string(next))))
}

func (s *Stack) updateTableCell(t *operand.Table, row uint32, col uint16, offset uint32, data []byte) error {
	tab := t.Table()
	columns := tab.Columns()
	if int(col) >= len(columns) {
		return faults.Database(faults.CodeInvalidParameters, "wire: column index %d out of range", col)
	}
	colDef := columns[col]
	if colDef.Type.IsArray {
		return faults.Interpreter(faults.CodeFieldTypeMismatch, "wire: per-element update of an ARRAY table column is not supported over the wire protocol, replace the row instead")
	}
	if colDef.Type.Base == wtypes.Text {
		cur, err := tab.Get(uint64(row), colDef.Name)
		if err != nil {
			return err
		}
		var raw []byte
		if !cur.IsNull() {
			txt, _ := cur.AsText()
			raw = txt.Bytes()
		}
		off := int(offset)
		if off > len(raw) {
			off = len(raw)
		}
		next := append(append([]byte{}, raw[:off]...), data...)
		return tab.Set(uint64(row), colDef.Name, wtypes.TextValue(wtypes.NewText(string(next))))
	}
	val, err := decodeValue(colDef.Type.Base, data)
	if err != nil {
		return err
	}
	return tab.Set(uint64(row), colDef.Name, val)
}

// AddRows implements UPDATE_STACK_TABLE_ADD_ROWS(n): append n null rows
// to the top-of-stack table.
func (s *Stack) AddRows(n int) error {
	top, err := s.top()
	if err != nil {
		return err
	}
	t, ok := top.(*operand.Table)
	if !ok {
		return faults.Database(faults.CodeBadParameters, "wire: UPDATE_STACK_TABLE_ADD_ROWS: top of stack is not a table")
	}
	for i := 0; i < n; i++ {
		t.Table().AddRow()
	}
	return nil
}
