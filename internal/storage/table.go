// Package storage implements the table and database handle of spec
// §3.3/§4.4: fixed-schema, column-oriented tables with optional per-column
// B+tree indexes, backed by the variable-length store for TEXT payloads.
//
// Locking follows the teacher's schema.Table idiom (an RWMutex per table,
// explicit Lock/Unlock/RLock/RUnlock, a dirty flag flipped by every
// mutation) generalized from row-oriented JSON rows to typed columns.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/whais-db/whais-core/internal/btree"
	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/telemetry"
	"github.com/whais-db/whais-core/internal/vlstore"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Column is one field of a table's fixed schema.
type Column struct {
	Name string
	Type wtypes.Descriptor
}

// StoreParams tunes the variable-length store opened for a table's TEXT
// columns (spec §6.4 vl_values_block_size/count); every table of a
// Database is opened with the same values.
type StoreParams struct {
	GranuleSize uint64
	BlockSize   uint64
	MaxBlocks   int
}

// Table is a fixed-schema, column-oriented table (spec §3.3). Scalar and
// TEXT columns are held as parallel per-column slices rather than a byte-
// packed region (see DESIGN.md); ARRAY columns are plain in-memory
// [][]wtypes.Value, never routed through the variable-length store (a
// scope simplification also recorded in DESIGN.md). TEXT payloads, being
// open-ended, are the one column kind actually backed by extents so the
// variable-length store is genuinely exercised.
type Table struct {
	mu sync.RWMutex

	name      string
	columns   []Column
	colIndex  map[string]int
	temporary bool
	dirty     bool

	rowCount uint64
	removed  *roaring.Bitmap

	scalars [][]wtypes.Value   // scalars[col][row], valid where !columns[col].Type.IsArray && Type.Base != Text
	arrays  [][][]wtypes.Value // arrays[col][row], valid where columns[col].Type.IsArray; nil element == null array
	texts   [][]textCell       // texts[col][row], valid where !IsArray && Base == Text

	vl *vlstore.Store // nil if the table has no TEXT columns

	indexes map[int]*btree.Tree[wtypes.Value]
}

type textCell struct {
	null   bool
	extent vlstore.ExtentID
	length uint64
}

func isTextColumn(c Column) bool { return !c.Type.IsArray && c.Type.Base == wtypes.Text }

// NewTable creates an empty table under dir (used only to back TEXT
// columns' variable-length store; purely in-memory tables pass dir="").
func NewTable(dir, name string, columns []Column, params StoreParams, temporary bool) (*Table, error) {
	colIndex := make(map[string]int, len(columns))
	needsStore := false
	for i, c := range columns {
		if _, dup := colIndex[c.Name]; dup {
			return nil, faults.Database(faults.CodeBadParameters, "storage: duplicate column %q in table %q", c.Name, name)
		}
		if c.Type.IsArray && c.Type.Base == wtypes.Text {
			return nil, faults.Database(faults.CodeBadParameters, "storage: TEXT arrays are disallowed (column %q)", c.Name)
		}
		colIndex[c.Name] = i
		if isTextColumn(c) {
			needsStore = true
		}
	}

	t := &Table{
		name:      name,
		columns:   columns,
		colIndex:  colIndex,
		temporary: temporary,
		removed:   roaring.New(),
		scalars:   make([][]wtypes.Value, len(columns)),
		arrays:    make([][][]wtypes.Value, len(columns)),
		texts:     make([][]textCell, len(columns)),
		indexes:   make(map[int]*btree.Tree[wtypes.Value]),
	}

	if needsStore && dir != "" {
		path := filepath.Join(dir, name+".vl")
		store, err := vlstore.Open(path, params.GranuleSize, params.BlockSize, params.MaxBlocks)
		if err != nil {
			return nil, fmt.Errorf("storage: open variable-length store for %q: %w", name, err)
		}
		t.vl = store
	}

	slog.Debug("table created", "table", name, "columns", len(columns), "temporary", temporary)
	return t, nil
}

func (t *Table) Name() string    { return t.name }
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *Table) columnIndex(name string) (int, error) {
	idx, ok := t.colIndex[name]
	if !ok {
		return 0, faults.Database(faults.CodeFieldTypeMismatch, "storage: no such column %q in table %q", name, t.name)
	}
	return idx, nil
}

// AllocatedRows returns the row-id high watermark (spec §4.4).
func (t *Table) AllocatedRows() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowCount
}

// AddRow appends a new all-null row and returns its id (spec §4.4).
func (t *Table) AddRow() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := t.rowCount
	t.rowCount++
	for i, c := range t.columns {
		switch {
		case c.Type.IsArray:
			t.arrays[i] = append(t.arrays[i], nil)
		case isTextColumn(c):
			t.texts[i] = append(t.texts[i], textCell{null: true})
		default:
			t.scalars[i] = append(t.scalars[i], wtypes.NullValue(c.Type.Base))
		}
	}
	t.dirty = true
	return row
}

// MarkRowRemoved flips the row's bit in the removal bitmap (spec §4.4);
// row ids are never reused.
func (t *Table) MarkRowRemoved(row uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row >= t.rowCount {
		return faults.Database(faults.CodeRowIndexNull, "storage: row %d out of range", row)
	}
	t.removed.Add(uint32(row))
	t.dirty = true
	return nil
}

func (t *Table) isRemoved(row uint64) bool { return t.removed.Contains(uint32(row)) }

// IsRowRemoved reports whether row has been marked removed (used by
// table-scan iteration to skip tombstoned rows).
func (t *Table) IsRowRemoved(row uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isRemoved(row)
}

// Get reads a scalar or TEXT column's value (spec §4.4 read contract).
func (t *Table) Get(row uint64, colName string) (wtypes.Value, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	col, err := t.columnIndex(colName)
	if err != nil {
		return wtypes.Value{}, err
	}
	if row >= t.rowCount {
		return wtypes.Value{}, faults.Database(faults.CodeRowIndexNull, "storage: row %d out of range", row)
	}
	return t.getLocked(row, col)
}

func (t *Table) getLocked(row uint64, col int) (wtypes.Value, error) {
	c := t.columns[col]
	if c.Type.IsArray {
		return wtypes.Value{}, faults.Database(faults.CodeFieldTypeMismatch, "storage: column %q is an array, use GetArray", c.Name)
	}
	if isTextColumn(c) {
		return t.readTextLocked(col, row)
	}
	return t.scalars[col][row], nil
}

func (t *Table) readTextLocked(col int, row uint64) (wtypes.Value, error) {
	cell := t.texts[col][row]
	if cell.null {
		return wtypes.NullValue(wtypes.Text), nil
	}
	buf := make([]byte, cell.length)
	if err := t.vl.Read(cell.extent, 0, cell.length, buf); err != nil {
		return wtypes.Value{}, fmt.Errorf("storage: read text cell: %w", err)
	}
	return wtypes.TextValue(wtypes.NewText(string(buf))), nil
}

// GetArray reads an ARRAY column's elements. ok is false for a null array;
// an empty, non-null array returns a zero-length slice with ok true (spec
// §4.4 tie-break (a)).
func (t *Table) GetArray(row uint64, colName string) (vals []wtypes.Value, ok bool, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	col, err := t.columnIndex(colName)
	if err != nil {
		return nil, false, err
	}
	if !t.columns[col].Type.IsArray {
		return nil, false, faults.Database(faults.CodeFieldTypeMismatch, "storage: column %q is not an array", colName)
	}
	if row >= t.rowCount {
		return nil, false, faults.Database(faults.CodeRowIndexNull, "storage: row %d out of range", row)
	}
	elems := t.arrays[col][row]
	return elems, elems != nil, nil
}

// Set writes a scalar or TEXT column's value, updating any field index and
// releasing the prior extent if the column is TEXT (spec §4.4 write
// contract).
func (t *Table) Set(row uint64, colName string, v wtypes.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	col, err := t.columnIndex(colName)
	if err != nil {
		return err
	}
	if row >= t.rowCount {
		return faults.Database(faults.CodeRowIndexNull, "storage: row %d out of range", row)
	}
	c := t.columns[col]
	if c.Type.IsArray {
		return faults.Database(faults.CodeFieldTypeMismatch, "storage: column %q is an array, use SetArray", colName)
	}

	old, err := t.getLocked(row, col)
	if err != nil {
		return err
	}

	if isTextColumn(c) {
		if err := t.writeTextLocked(col, row, v); err != nil {
			return err
		}
	} else {
		t.scalars[col][row] = v
	}

	if idx, ok := t.indexes[col]; ok {
		if old.IsNull() {
			_ = idx.Remove(btree.Entry[wtypes.Value]{RowID: row, Null: true})
		} else {
			_ = idx.Remove(btree.Entry[wtypes.Value]{Value: old, RowID: row})
		}
		key := btree.Entry[wtypes.Value]{Value: v, RowID: row, Null: v.IsNull()}
		if err := idx.Insert(key); err != nil {
			return fmt.Errorf("storage: reindex %q: %w", colName, err)
		}
	}

	t.dirty = true
	return nil
}

func (t *Table) writeTextLocked(col int, row uint64, v wtypes.Value) error {
	old := t.texts[col][row]
	if !old.null {
		if err := t.vl.DecRef(old.extent); err != nil {
			return fmt.Errorf("storage: release old text extent: %w", err)
		}
	}
	if v.IsNull() {
		t.texts[col][row] = textCell{null: true}
		return nil
	}
	txt, _ := v.AsText()
	data := txt.Bytes()
	extent, err := t.vl.Allocate(uint64(len(data)))
	if err != nil {
		return fmt.Errorf("storage: allocate text extent: %w", err)
	}
	if len(data) > 0 {
		if err := t.vl.Store(extent, 0, data); err != nil {
			return fmt.Errorf("storage: store text bytes: %w", err)
		}
	}
	t.texts[col][row] = textCell{extent: extent, length: uint64(len(data))}
	return nil
}

// SetArray writes an ARRAY column's elements; null=true stores a null
// array irrespective of vals.
func (t *Table) SetArray(row uint64, colName string, vals []wtypes.Value, null bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	col, err := t.columnIndex(colName)
	if err != nil {
		return err
	}
	if !t.columns[col].Type.IsArray {
		return faults.Database(faults.CodeFieldTypeMismatch, "storage: column %q is not an array", colName)
	}
	if row >= t.rowCount {
		return faults.Database(faults.CodeRowIndexNull, "storage: row %d out of range", row)
	}
	if null {
		t.arrays[col][row] = nil
	} else if vals == nil {
		t.arrays[col][row] = []wtypes.Value{}
	} else {
		t.arrays[col][row] = append([]wtypes.Value{}, vals...)
	}
	t.dirty = true
	return nil
}

func valueCompare(a, b wtypes.Value) int {
	c, err := a.Cmp(b)
	if err != nil {
		return 0
	}
	return c
}

// CreateFieldIndex builds a B+tree over column colName by walking every
// row, including null rows into the segregated null prefix (spec §4.4,
// §3.3(ii)). progress, if non-nil, is called with the completion
// percentage at each 1% step.
func (t *Table) CreateFieldIndex(colName string, progress func(percent int)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	col, err := t.columnIndex(colName)
	if err != nil {
		return err
	}
	if t.columns[col].Type.IsArray {
		return faults.Database(faults.CodeFieldTypeMismatch, "storage: array column %q cannot be indexed", colName)
	}

	mgr := btree.NewMemNodeManager[wtypes.Value]()
	tree, err := btree.New(mgr, valueCompare, 64)
	if err != nil {
		return err
	}

	total := t.rowCount
	lastPct := -1
	for row := uint64(0); row < total; row++ {
		if t.isRemoved(row) {
			continue
		}
		v, err := t.getLocked(row, col)
		if err != nil {
			return err
		}
		if err := tree.Insert(btree.Entry[wtypes.Value]{Value: v, RowID: row, Null: v.IsNull()}); err != nil {
			return fmt.Errorf("storage: build index on %q: %w", colName, err)
		}
		if progress != nil && total > 0 {
			pct := int(row * 100 / total)
			if pct != lastPct {
				progress(pct)
				lastPct = pct
			}
		}
	}
	t.indexes[col] = tree
	slog.Debug("field index built", "table", t.name, "column", colName, "rows", total)
	return nil
}

// RemoveFieldIndex drops the B+tree backing colName, if any.
func (t *Table) RemoveFieldIndex(colName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	col, err := t.columnIndex(colName)
	if err != nil {
		return err
	}
	delete(t.indexes, col)
	return nil
}

// MatchRows returns, in ascending row-id order, every row id in
// [fromRow, toRow] ∩ [loRow, hiRow] whose colName value lies in [lo, hi]
// (spec §4.4 range match). Nulls match iff lo and hi are both null.
func (t *Table) MatchRows(ctx context.Context, colName string, lo, hi wtypes.Value, loRow, hiRow, fromRow, toRow uint64) ([]uint64, error) {
	_, span := telemetry.StartSpan(ctx, "storage.MatchRows")
	defer span.End()

	t.mu.RLock()
	defer t.mu.RUnlock()

	col, err := t.columnIndex(colName)
	if err != nil {
		return nil, err
	}

	lowRow := maxU64(loRow, fromRow)
	highRow := minU64(hiRow, toRow)
	if lowRow > highRow {
		return nil, nil
	}

	nullQuery := lo.IsNull() && hi.IsNull()

	var out []uint64
	if tree, ok := t.indexes[col]; ok {
		if nullQuery {
			cur, err := tree.First()
			if err != nil {
				return nil, err
			}
			for {
				e, ok := cur.Entry()
				if !ok || !e.Null {
					break
				}
				if e.RowID >= lowRow && e.RowID <= highRow && !t.isRemoved(e.RowID) {
					out = append(out, e.RowID)
				}
				if err := cur.Next(); err != nil {
					return nil, err
				}
			}
		} else {
			cur, err := tree.FindFirstGE(btree.Entry[wtypes.Value]{Value: lo, RowID: 0, Null: false})
			if err != nil {
				return nil, err
			}
			for {
				e, ok := cur.Entry()
				if !ok || e.Null || valueCompare(e.Value, hi) > 0 {
					break
				}
				if e.RowID >= lowRow && e.RowID <= highRow && !t.isRemoved(e.RowID) {
					out = append(out, e.RowID)
				}
				if err := cur.Next(); err != nil {
					return nil, err
				}
			}
		}
	} else {
		for row := lowRow; row <= highRow; row++ {
			if row >= t.rowCount {
				break
			}
			if t.isRemoved(row) {
				continue
			}
			v, err := t.getLocked(row, col)
			if err != nil {
				return nil, err
			}
			match := false
			switch {
			case nullQuery:
				match = v.IsNull()
			case v.IsNull():
				match = false
			default:
				match = valueCompare(v, lo) >= 0 && valueCompare(v, hi) <= 0
			}
			if match {
				out = append(out, row)
			}
		}
	}

	sortUint64(out)
	return out, nil
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Sync flushes the table's variable-length store, if any (spec §5 sync
// points).
func (t *Table) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vl == nil {
		return nil
	}
	if err := t.vl.Sync(); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Close releases the table's variable-length store.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vl == nil {
		return nil
	}
	return t.vl.Close()
}
