package operand

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/wtypes"
)

func TestArithNullPropagation(t *testing.T) {
	a := NewScalar(wtypes.IntValue(wtypes.Int32, 3))
	n := NewScalar(wtypes.NullValue(wtypes.Int32))

	result, err := Arith(OpAdd, a, n)
	require.NoError(t, err)
	require.True(t, result.IsNull())
}

func TestArithPromotesMixedWidth(t *testing.T) {
	a := NewScalar(wtypes.IntValue(wtypes.Int16, 10))
	b := NewScalar(wtypes.IntValue(wtypes.Int32, 32))

	result, err := Arith(OpAdd, a, b)
	require.NoError(t, err)
	v, err := result.Value()
	require.NoError(t, err)
	require.Equal(t, wtypes.Int32, v.Kind)
	iv, _ := v.AsInt64()
	require.EqualValues(t, 42, iv)
}

func TestArithDivideByZero(t *testing.T) {
	a := NewScalar(wtypes.IntValue(wtypes.Int32, 10))
	zero := NewScalar(wtypes.IntValue(wtypes.Int32, 0))

	_, err := Arith(OpDiv, a, zero)
	require.Error(t, err)
}

func TestCompareEqualityTreatsNullAsDistinguishable(t *testing.T) {
	n1 := NewScalar(wtypes.NullValue(wtypes.Int32))
	n2 := NewScalar(wtypes.NullValue(wtypes.Int32))

	result, err := Compare("EQ", n1, n2)
	require.NoError(t, err)
	v, _ := result.Value()
	eq, _ := v.AsBool()
	require.True(t, eq, "two nulls of the same kind are equal to each other")
}

func TestCompareOrderingNullPropagates(t *testing.T) {
	n := NewScalar(wtypes.NullValue(wtypes.Int32))
	v := NewScalar(wtypes.IntValue(wtypes.Int32, 5))

	result, err := Compare("LT", n, v)
	require.NoError(t, err)
	require.True(t, result.IsNull())
}

func TestElementOperandReadWriteThroughTable(t *testing.T) {
	tbl, err := storage.NewTable(t.TempDir(), "t", []storage.Column{
		{Name: "v", Type: wtypes.Scalar(wtypes.Int32)},
	}, storage.StoreParams{GranuleSize: 64, BlockSize: 256, MaxBlocks: 4}, false)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })

	row := tbl.AddRow()
	el := NewElement(tbl, row, "v", wtypes.Scalar(wtypes.Int32))
	require.True(t, el.IsNull())

	require.NoError(t, el.SetValue(wtypes.IntValue(wtypes.Int32, 7)))
	require.False(t, el.IsNull())

	v, err := el.Value()
	require.NoError(t, err)
	iv, _ := v.AsInt64()
	require.EqualValues(t, 7, iv)
}
