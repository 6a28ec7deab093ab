package vm

import (
	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// The original opcode set segregates arithmetic, comparison and self-op
// instructions by static operand type (e.g. EQ/EQB/EQC/EQD/.../EQT all
// mean "equal" but were distinct opcodes so the compiler could pick the
// one matching its static type analysis). Here every stack operand
// already carries its own wtypes.Kind, and operand.Arith/operand.Compare
// already dispatch on that Kind, so the type-suffixed variants collapse
// onto the same handful of generic handlers below instead of one
// hand-written case per suffix.

func isStore(op Opcode) bool {
	switch op {
	case STB, STC, STD, STDT, STHT, STI8, STI16, STI32, STI64, STR, STRR,
		STT, STUI8, STUI16, STUI32, STUI64, STTA, STF, STA, STUD:
		return true
	}
	return false
}

func isArith(op Opcode) bool {
	switch op {
	case ADD, ADDRR, ADDT, SUB, SUBRR, MUL, MULU, MULRR, DIV, DIVU, DIVRR, MOD, MODU:
		return true
	}
	return false
}

func arithOp(op Opcode) (operand.BinOp, bool) {
	switch op {
	case ADD, ADDRR:
		return operand.OpAdd, true
	case SUB, SUBRR:
		return operand.OpSub, true
	case MUL, MULU, MULRR:
		return operand.OpMul, true
	case DIV, DIVU, DIVRR:
		return operand.OpDiv, true
	case MOD, MODU:
		return operand.OpMod, true
	}
	return 0, false
}

func isCompare(op Opcode) bool {
	switch op {
	case EQ, EQB, EQC, EQD, EQDT, EQHT, EQRR, EQT,
		NE, NEB, NEC, NED, NEDT, NEHT, NERR, NET,
		LT, LTU, LTC, LTD, LTDT, LTHT, LTRR,
		LE, LEU, LEC, LED, LEDT, LEHT, LERR,
		GT, GTU, GTC, GTD, GTDT, GTHT, GTRR,
		GE, GEU, GEC, GED, GEDT, GEHT, GERR:
		return true
	}
	return false
}

func compareKind(op Opcode) string {
	switch op {
	case EQ, EQB, EQC, EQD, EQDT, EQHT, EQRR, EQT:
		return "EQ"
	case NE, NEB, NEC, NED, NEDT, NEHT, NERR, NET:
		return "NE"
	case LT, LTU, LTC, LTD, LTDT, LTHT, LTRR:
		return "LT"
	case LE, LEU, LEC, LED, LEDT, LEHT, LERR:
		return "LE"
	case GT, GTU, GTC, GTD, GTDT, GTHT, GTRR:
		return "GT"
	case GE, GEU, GEC, GED, GEDT, GEHT, GERR:
		return "GE"
	}
	return ""
}

func isBitwise(op Opcode) bool {
	switch op {
	case AND, ANDB, OR, ORB, XOR, XORB, NOT, NOTB:
		return true
	}
	return false
}

func isSelfOp(op Opcode) bool {
	switch op {
	case SADD, SADDRR, SADDC, SADDT, SSUB, SSUBRR, SMUL, SMULU, SMULRR,
		SDIV, SDIVU, SDIVRR, SMOD, SMODU:
		return true
	}
	return false
}

func selfOp(op Opcode) (operand.BinOp, bool) {
	switch op {
	case SADD, SADDRR, SADDC:
		return operand.OpAdd, true
	case SSUB, SSUBRR:
		return operand.OpSub, true
	case SMUL, SMULU, SMULRR:
		return operand.OpMul, true
	case SDIV, SDIVU, SDIVRR:
		return operand.OpDiv, true
	case SMOD, SMODU:
		return operand.OpMod, true
	}
	return 0, false
}

func isSelfBitwise(op Opcode) bool {
	switch op {
	case SAND, SANDB, SXOR, SXORB, SOR, SORB:
		return true
	}
	return false
}

func selfBitwiseBase(op Opcode) Opcode {
	switch op {
	case SAND, SANDB:
		return AND
	case SXOR, SXORB:
		return XOR
	case SOR, SORB:
		return OR
	}
	return NA
}

// bitwiseBin implements AND/OR/XOR over bool operands (the *B suffix) or
// integer operands (plain suffix), null-propagating either way.
func bitwiseBin(op Opcode, a, b operand.Operand) (operand.Operand, error) {
	if a.IsNull() || b.IsNull() {
		return operand.NewNull(a.Kind()), nil
	}
	av, err := a.Value()
	if err != nil {
		return nil, err
	}
	bv, err := b.Value()
	if err != nil {
		return nil, err
	}

	if av.Kind == wtypes.Bool || bv.Kind == wtypes.Bool {
		ab, ok1 := av.AsBool()
		bb, ok2 := bv.AsBool()
		if !ok1 || !ok2 {
			return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: bitwise-bool op on non-bool operand")
		}
		var r bool
		switch baseOf(op) {
		case AND:
			r = ab && bb
		case OR:
			r = ab || bb
		case XOR:
			r = ab != bb
		}
		return operand.NewScalar(wtypes.BoolValue(r)), nil
	}

	ai, ok1 := av.AsInt64()
	bi, ok2 := bv.AsInt64()
	if !ok1 || !ok2 {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: bitwise op on a non-integer operand")
	}
	var r int64
	switch baseOf(op) {
	case AND:
		r = ai & bi
	case OR:
		r = ai | bi
	case XOR:
		r = ai ^ bi
	}
	return operand.NewScalar(wtypes.IntValue(av.Kind, r)), nil
}

func baseOf(op Opcode) Opcode {
	switch op {
	case AND, ANDB:
		return AND
	case OR, ORB:
		return OR
	case XOR, XORB:
		return XOR
	}
	return op
}

func bitwiseNot(a operand.Operand) (operand.Operand, error) {
	if a.IsNull() {
		return operand.NewNull(a.Kind()), nil
	}
	v, err := a.Value()
	if err != nil {
		return nil, err
	}
	if v.Kind == wtypes.Bool {
		b, _ := v.AsBool()
		return operand.NewScalar(wtypes.BoolValue(!b)), nil
	}
	i, ok := v.AsInt64()
	if !ok {
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: NOT on a non-integer, non-bool operand")
	}
	return operand.NewScalar(wtypes.IntValue(v.Kind, ^i)), nil
}
