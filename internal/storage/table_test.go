package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whais-db/whais-core/internal/wtypes"
)

func testParams() StoreParams {
	return StoreParams{GranuleSize: 64, BlockSize: 256, MaxBlocks: 8}
}

func newTestTable(t *testing.T, cols []Column) *Table {
	t.Helper()
	tbl, err := NewTable(t.TempDir(), "widgets", cols, testParams(), false)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestAddRowAllNull(t *testing.T) {
	tbl := newTestTable(t, []Column{
		{Name: "id", Type: wtypes.Scalar(wtypes.Int32)},
		{Name: "label", Type: wtypes.Scalar(wtypes.Text)},
	})

	row := tbl.AddRow()
	require.EqualValues(t, 1, tbl.AllocatedRows())

	v, err := tbl.Get(row, "id")
	require.NoError(t, err)
	require.True(t, v.IsNull())

	v, err = tbl.Get(row, "label")
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestSetAndGetScalarAndText(t *testing.T) {
	tbl := newTestTable(t, []Column{
		{Name: "id", Type: wtypes.Scalar(wtypes.Int32)},
		{Name: "label", Type: wtypes.Scalar(wtypes.Text)},
	})
	row := tbl.AddRow()

	require.NoError(t, tbl.Set(row, "id", wtypes.IntValue(wtypes.Int32, 42)))
	require.NoError(t, tbl.Set(row, "label", wtypes.TextValue(wtypes.NewText("hello"))))

	id, err := tbl.Get(row, "id")
	require.NoError(t, err)
	iv, ok := id.AsInt64()
	require.True(t, ok)
	require.EqualValues(t, 42, iv)

	label, err := tbl.Get(row, "label")
	require.NoError(t, err)
	txt, ok := label.AsText()
	require.True(t, ok)
	require.Equal(t, "hello", txt.String())
}

func TestArrayColumnNullVsEmpty(t *testing.T) {
	tbl := newTestTable(t, []Column{
		{Name: "tags", Type: wtypes.ArrayOf(wtypes.Int32)},
	})
	row := tbl.AddRow()

	_, ok, err := tbl.GetArray(row, "tags")
	require.NoError(t, err)
	require.False(t, ok, "freshly added row should have a null array")

	require.NoError(t, tbl.SetArray(row, "tags", nil, false))
	vals, ok, err := tbl.GetArray(row, "tags")
	require.NoError(t, err)
	require.True(t, ok, "explicit empty array is not null")
	require.Empty(t, vals)
}

func TestCreateFieldIndexAndMatchRows(t *testing.T) {
	tbl := newTestTable(t, []Column{
		{Name: "score", Type: wtypes.Scalar(wtypes.Int32)},
	})

	values := []*int64{ptr(30), ptr(10), nil, ptr(20), ptr(40)}
	for _, v := range values {
		row := tbl.AddRow()
		if v == nil {
			continue
		}
		require.NoError(t, tbl.Set(row, "score", wtypes.IntValue(wtypes.Int32, *v)))
	}

	require.NoError(t, tbl.CreateFieldIndex("score", nil))

	matches, err := tbl.MatchRows(context.Background(), "score",
		wtypes.IntValue(wtypes.Int32, 15), wtypes.IntValue(wtypes.Int32, 35),
		0, 1<<32, 0, 1<<32)
	require.NoError(t, err)
	require.Len(t, matches, 2) // rows with 20 and 30

	nullMatches, err := tbl.MatchRows(context.Background(), "score",
		wtypes.NullValue(wtypes.Int32), wtypes.NullValue(wtypes.Int32),
		0, 1<<32, 0, 1<<32)
	require.NoError(t, err)
	require.Len(t, nullMatches, 1)
}

func ptr(v int64) *int64 { return &v }

func TestMarkRowRemovedExcludedFromScan(t *testing.T) {
	tbl := newTestTable(t, []Column{
		{Name: "v", Type: wtypes.Scalar(wtypes.Int32)},
	})
	r0 := tbl.AddRow()
	r1 := tbl.AddRow()
	require.NoError(t, tbl.Set(r0, "v", wtypes.IntValue(wtypes.Int32, 1)))
	require.NoError(t, tbl.Set(r1, "v", wtypes.IntValue(wtypes.Int32, 1)))

	require.NoError(t, tbl.MarkRowRemoved(r0))

	matches, err := tbl.MatchRows(context.Background(), "v", wtypes.IntValue(wtypes.Int32, 1), wtypes.IntValue(wtypes.Int32, 1),
		0, 1<<32, 0, 1<<32)
	require.NoError(t, err)
	require.Equal(t, []uint64{r1}, matches)
}
