package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/wtypes"
)

func TestAddBootUnitLoadsIntoEverySession(t *testing.T) {
	u := buildUnit(t, nil, []procSpec{{
		name:       "double",
		argsCount:  1,
		paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
		code:       doubleProcCode,
	}})

	mgr := newManager(t)
	mgr.AddBootUnit("boot1", u)

	for i := 0; i < 2; i++ {
		s := mgr.NewSession()
		result, err := s.Execute("double", []operand.Operand{operand.NewScalar(wtypes.IntValue(wtypes.Int32, 4))})
		require.NoError(t, err)
		v, err := result.Value()
		require.NoError(t, err)
		n, _ := v.AsInt64()
		require.EqualValues(t, 8, n)
	}
}
