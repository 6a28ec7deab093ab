package operand

import (
	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// BinOp names the arithmetic the VM's ADD/SUB/MUL/DIV/MOD family performs
// (spec §4.6). ADDT (text concatenation) is handled separately by
// ConcatText since it is not defined over numeric kinds.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

// Arith evaluates a binary arithmetic opcode over two scalar operands,
// following spec §4.5's integer-promotion and null-propagation rules:
// mixed-kind operands promote to a common kind first, and a null operand
// on either side produces a null result of that common kind.
func Arith(op BinOp, a, b Operand) (Operand, error) {
	va, err := a.Value()
	if err != nil {
		return nil, err
	}
	vb, err := b.Value()
	if err != nil {
		return nil, err
	}

	common, err := wtypes.Promote(va.Kind, vb.Kind)
	if err != nil {
		if va.Kind != vb.Kind {
			return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
		}
		common = va.Kind
	}

	if va.IsNull() || vb.IsNull() {
		return NewScalar(wtypes.NullValue(common)), nil
	}

	wa, err := va.Widen(common)
	if err != nil {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
	}
	wb, err := vb.Widen(common)
	if err != nil {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
	}

	if common == wtypes.Real || common == wtypes.RichReal {
		ra, _ := wa.AsRichReal()
		rb, _ := wb.AsRichReal()
		result, err := richRealArith(op, ra, rb)
		if err != nil {
			return nil, err
		}
		if common == wtypes.Real {
			return NewScalar(wtypes.RealValue(result)), nil
		}
		return NewScalar(wtypes.RichRealValue(result)), nil
	}

	ia, _ := wa.AsInt64()
	ib, _ := wb.AsInt64()
	result, err := intArith(op, ia, ib)
	if err != nil {
		return nil, err
	}
	return NewScalar(wtypes.IntValue(common, result)), nil
}

func intArith(op BinOp, a, b int64) (int64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, faults.Interpreter(faults.CodeDivideByZero, "operand: divide by zero")
		}
		return a / b, nil
	case OpMod:
		if b == 0 {
			return 0, faults.Interpreter(faults.CodeDivideByZero, "operand: modulo by zero")
		}
		return a % b, nil
	default:
		return 0, faults.Interpreter(faults.CodeStackCorrupted, "operand: unknown arithmetic op %d", op)
	}
}

func richRealArith(op BinOp, a, b wtypes.RichReal) (wtypes.RichReal, error) {
	switch op {
	case OpAdd:
		return a.Add(b), nil
	case OpSub:
		return a.Sub(b), nil
	case OpMul:
		return a.Mul(b), nil
	case OpDiv:
		return a.Div(b)
	case OpMod:
		return wtypes.RichReal{}, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: MOD is not defined over REAL/RICHREAL")
	default:
		return wtypes.RichReal{}, faults.Interpreter(faults.CodeStackCorrupted, "operand: unknown arithmetic op %d", op)
	}
}

// Compare evaluates a comparison. For <, <=, >, >= a null operand on
// either side yields a null BOOL; for ==, != null is a value distinct
// from every other value of the kind (spec §4.5 "equality/inequality
// treat null as a distinguishable value").
func Compare(kind string, a, b Operand) (Operand, error) {
	va, err := a.Value()
	if err != nil {
		return nil, err
	}
	vb, err := b.Value()
	if err != nil {
		return nil, err
	}

	if kind == "EQ" || kind == "NE" {
		if va.IsNull() != vb.IsNull() {
			return NewScalar(wtypes.BoolValue(kind == "NE")), nil
		}
		if va.IsNull() && vb.IsNull() {
			return NewScalar(wtypes.BoolValue(kind == "EQ")), nil
		}
		c, err := va.Cmp(vb)
		if err != nil {
			return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
		}
		eq := c == 0
		return NewScalar(wtypes.BoolValue(eq == (kind == "EQ"))), nil
	}

	if va.IsNull() || vb.IsNull() {
		return NewScalar(wtypes.NullValue(wtypes.Bool)), nil
	}
	c, err := va.Cmp(vb)
	if err != nil {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: %v", err)
	}
	var result bool
	switch kind {
	case "LT":
		result = c < 0
	case "LE":
		result = c <= 0
	case "GT":
		result = c > 0
	case "GE":
		result = c >= 0
	default:
		return nil, faults.Interpreter(faults.CodeStackCorrupted, "operand: unknown comparison %q", kind)
	}
	return NewScalar(wtypes.BoolValue(result)), nil
}

// ConcatText implements ADDT (spec §4.6), null-propagating.
func ConcatText(a, b Operand) (Operand, error) {
	va, err := a.Value()
	if err != nil {
		return nil, err
	}
	vb, err := b.Value()
	if err != nil {
		return nil, err
	}
	if va.IsNull() || vb.IsNull() {
		return NewScalar(wtypes.NullValue(wtypes.Text)), nil
	}
	ta, ok := va.AsText()
	if !ok {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: ADDT requires TEXT operands")
	}
	tb, ok := vb.AsText()
	if !ok {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "operand: ADDT requires TEXT operands")
	}
	return NewScalar(wtypes.TextValue(ta.Concat(tb))), nil
}
