package vm

import (
	"context"
	"encoding/binary"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/telemetry"
	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/wtypes"
)

func errShortRead(what string) error {
	return faults.Interpreter(faults.CodeStackCorrupted, "vm: short read decoding %s", what)
}

// Caller resolves and invokes a procedure named by a unit-local index,
// the way CALL's immediate is resolved in spec §4.6 ("an index into the
// unit-local procedure table, bound by the session to a global
// procedure id"). The session package implements this by looking the
// index up in the loading unit's Procedures table and recursing into
// Run for same-process calls, or dispatching to a native handler for
// externally-bound ones (spec §4.7 "native library loading").
type Caller interface {
	ArgsCount(procIdx uint32) (int, error)
	Call(ctx context.Context, procIdx uint32, args []operand.Operand) (operand.Operand, error)
}

// SyncKey names one sync region: a procedure plus the index of one of
// its BSYNC/ESYNC blocks (spec §5 "database-wide critical sections
// keyed by (procedure_id, sync_index)").
type SyncKey struct {
	ProcedureID string
	Index       uint16
}

// Syncs provides the database-wide mutual exclusion behind BSYNC/ESYNC;
// a call chain's own re-entrancy into a region it already holds is
// instead detected locally by Frame.heldSyncs, since that would
// self-deadlock a real Acquire. The session package supplies the
// concrete, process-wide implementation; nil disables cross-session
// exclusion (acceptable for standalone VM tests that never contend).
type Syncs interface {
	Acquire(key SyncKey)
	Release(key SyncKey)
}

// Machine is one procedure-call chain's execution state: the shared
// operand stack all frames index into, and the currently active frame.
// A Machine is single-use: construct one per top-level Run.
type Machine struct {
	ctx    context.Context
	stack  []operand.Operand
	frames []*Frame
	caller Caller
	syncs  Syncs
	u      *unit.Unit

	iter *iterState
}

type iterState struct {
	table *storage.Table
	field int // -1 if iterating whole-table rather than one column
	row   uint64
	ok    bool
}

// Run executes proc's bytecode in u against args, returning slot 0's
// final value (spec §4.6's "RET yields slot 0"). Any sync region still
// held by the frame when it returns an error is released before Run
// returns (spec §5 "held sync regions are released in unwind").
func Run(ctx context.Context, u *unit.Unit, proc *unit.Procedure, args []operand.Operand, caller Caller, syncs Syncs) (operand.Operand, error) {
	_, span := telemetry.StartSpan(ctx, "vm.Run")
	defer span.End()

	if len(args) != int(proc.ArgsCount) {
		return nil, faults.Interpreter(faults.CodeBadParameters,
			"vm: %s expects %d arguments, got %d", proc.Name, proc.ArgsCount, len(args))
	}
	m := &Machine{ctx: ctx, caller: caller, syncs: syncs, u: u}

	code := u.Code()
	if int(proc.CodeOffset)+int(proc.CodeSize) > len(code) {
		return nil, faults.Compiler("vm: procedure %s code range exceeds unit size", proc.Name)
	}
	procCode := code[proc.CodeOffset : proc.CodeOffset+proc.CodeSize]

	frame := newFrame(proc, procCode, 0)
	m.stack = append(m.stack, operand.NewNull(wtypes.Undetermined)) // slot 0: return value
	m.stack = append(m.stack, args...)
	for i := len(args); i < int(proc.LocalsCount); i++ {
		m.stack = append(m.stack, operand.NewNull(wtypes.Undetermined))
	}
	m.frames = append(m.frames, frame)

	result, err := m.run(frame)
	if err != nil {
		m.releaseHeldSyncs(frame)
		if f, ok := err.(*faults.Fault); ok {
			return nil, f.Annotate(frame.name(), frame.PC)
		}
		return nil, err
	}
	return result, nil
}

func (m *Machine) releaseHeldSyncs(f *Frame) {
	if m.syncs == nil {
		return
	}
	for idx := range f.heldSyncs {
		m.syncs.Release(SyncKey{ProcedureID: f.name(), Index: idx})
	}
	f.heldSyncs = map[uint16]bool{}
}

func (m *Machine) run(f *Frame) (operand.Operand, error) {
	for {
		if m.ctx != nil {
			select {
			case <-m.ctx.Done():
				return nil, faults.Interpreter(faults.CodeServerStopped, "vm: %s: server shutting down", f.name())
			default:
			}
		}

		if int(f.PC) >= len(f.Code) {
			return nil, faults.Interpreter(faults.CodeStackCorrupted, "vm: %s: ran off the end of its code", f.name())
		}
		op, n, err := DecodeOp(f.Code[f.PC:])
		if err != nil {
			return nil, err
		}
		f.PC += uint32(n)

		result, done, err := m.step(f, op)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
	}
}

// push/pop operate on the shared stack; pop always removes the top.
// No overall depth limit is checked: pushes are not counted here, and
// the wire layer does not count client PUSH_STACK commands either (it
// raises STACK_TOO_BIG only for a frame over the negotiated size).
func (m *Machine) push(o operand.Operand) {
	m.stack = append(m.stack, o)
}

func (m *Machine) pop() (operand.Operand, error) {
	if len(m.stack) == 0 {
		return nil, faults.Interpreter(faults.CodeStackCorrupted, "vm: pop on empty stack")
	}
	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return top, nil
}

func (m *Machine) top() (operand.Operand, error) {
	if len(m.stack) == 0 {
		return nil, faults.Interpreter(faults.CodeStackCorrupted, "vm: read on empty stack")
	}
	return m.stack[len(m.stack)-1], nil
}

func (m *Machine) slot(f *Frame, local int) (operand.Operand, error) {
	idx := f.StackBegin + local
	if idx < 0 || idx >= len(m.stack) {
		return nil, faults.Interpreter(faults.CodeStackCorrupted, "vm: local slot %d out of range", local)
	}
	return m.stack[idx], nil
}

func popInt(m *Machine) (int64, error) {
	o, err := m.pop()
	if err != nil {
		return 0, err
	}
	v, err := o.Value()
	if err != nil {
		return 0, err
	}
	iv, ok := v.AsInt64()
	if !ok {
		return 0, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: expected an integer operand")
	}
	return iv, nil
}

func popBool(m *Machine) (bool, error) {
	o, err := m.pop()
	if err != nil {
		return false, err
	}
	v, err := o.Value()
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, faults.Interpreter(faults.CodeStackCorrupted, "vm: conditional jump on a null boolean")
	}
	b, ok := v.AsBool()
	if !ok {
		return false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: expected a boolean operand")
	}
	return b, nil
}

func peekBool(m *Machine) (bool, error) {
	o, err := m.top()
	if err != nil {
		return false, err
	}
	v, err := o.Value()
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, faults.Interpreter(faults.CodeStackCorrupted, "vm: conditional jump on a null boolean")
	}
	b, _ := v.AsBool()
	return b, nil
}

// step executes one instruction; it returns (result, true, nil) on RET.
func (m *Machine) step(f *Frame, op Opcode) (operand.Operand, bool, error) {
	le := binary.LittleEndian

	switch {
	case op == NA:
		return nil, false, faults.Compiler("vm: NA opcode at %s+%d", f.name(), f.PC-1)

	case op == LDNULL:
		k, err := readU8(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewNull(wtypes.Kind(k)))

	case op == LDC:
		v, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.CharValue(rune(v))))

	case op == LDI8:
		v, err := readI8(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.IntValue(wtypes.Int8, int64(v))))

	case op == LDI16:
		v, err := readI16(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.IntValue(wtypes.Int16, int64(v))))

	case op == LDI32:
		v, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.IntValue(wtypes.Int32, int64(v))))

	case op == LDI64:
		v, err := readI64(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.IntValue(wtypes.Int64, v)))

	case op == LDD:
		year, month, day, err := readDateParts(f)
		if err != nil {
			return nil, false, err
		}
		d, derr := wtypes.NewDate(year, month, day)
		if derr != nil {
			return nil, false, faults.Compiler("vm: LDD: %v", derr)
		}
		m.push(operand.NewScalar(wtypes.DateValue(d)))

	case op == LDDT:
		year, month, day, err := readDateParts(f)
		if err != nil {
			return nil, false, err
		}
		hour, minute, second, err := readTimeParts(f)
		if err != nil {
			return nil, false, err
		}
		dt, derr := wtypes.NewDateTime(year, month, day, hour, minute, second)
		if derr != nil {
			return nil, false, faults.Compiler("vm: LDDT: %v", derr)
		}
		m.push(operand.NewScalar(wtypes.DateTimeValue(dt)))

	case op == LDHT:
		year, month, day, err := readDateParts(f)
		if err != nil {
			return nil, false, err
		}
		hour, minute, second, err := readTimeParts(f)
		if err != nil {
			return nil, false, err
		}
		micros, err := readU32(f)
		if err != nil {
			return nil, false, err
		}
		ht, derr := wtypes.NewHiresTime(year, month, day, hour, minute, second, micros)
		if derr != nil {
			return nil, false, faults.Compiler("vm: LDHT: %v", derr)
		}
		m.push(operand.NewScalar(wtypes.HiresTimeValue(ht)))

	case op == LDRR:
		ip, err := readI64(f)
		if err != nil {
			return nil, false, err
		}
		frac, err := readU64(f)
		if err != nil {
			return nil, false, err
		}
		neg, err := readU8(f)
		if err != nil {
			return nil, false, err
		}
		rr := wtypes.RichReal{IntPart: ip, FracPart: frac, FracSign: neg != 0}
		m.push(operand.NewScalar(wtypes.RealValue(rr)))

	case op == LDT:
		off, err := readU32(f)
		if err != nil {
			return nil, false, err
		}
		s, err := readCStringAt(m.u.Constants, off)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewText(wtypes.NewText(s), false))

	case op == LDBT:
		m.push(operand.NewScalar(wtypes.BoolValue(true)))

	case op == LDBF:
		m.push(operand.NewScalar(wtypes.BoolValue(false)))

	case op == LDLO8, op == LDGB8:
		idx, err := readU8(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewLocal(&m.stack, f.StackBegin+int(idx)))

	case op == LDLO16, op == LDGB16:
		idx, err := readU16(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewLocal(&m.stack, f.StackBegin+int(idx)))

	case op == LDLO32, op == LDGB32:
		idx, err := readU32(f)
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewLocal(&m.stack, f.StackBegin+int(idx)))

	case op == CTS:
		n, err := readU16(f)
		if err != nil {
			return nil, false, err
		}
		for i := uint16(0); i < n; i++ {
			if _, err := m.pop(); err != nil {
				return nil, false, err
			}
		}

	case isStore(op):
		val, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		dest, err := m.top()
		if err != nil {
			return nil, false, err
		}
		v, err := val.Value()
		if err != nil {
			return nil, false, err
		}
		if err := dest.SetValue(v); err != nil {
			return nil, false, err
		}

	case op == INULL:
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.BoolValue(o.IsNull())))

	case op == NNULL:
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		m.push(operand.NewScalar(wtypes.BoolValue(!o.IsNull())))

	case op == CALL:
		procIdx, err := readU32(f)
		if err != nil {
			return nil, false, err
		}
		if m.caller == nil {
			return nil, false, faults.Interpreter(faults.CodeNativeCallFailed, "vm: no caller bound for CALL")
		}
		n, err := m.caller.ArgsCount(procIdx)
		if err != nil {
			return nil, false, err
		}
		if n > len(m.stack) {
			return nil, false, faults.Interpreter(faults.CodeStackCorrupted, "vm: CALL underflow")
		}
		args := append([]operand.Operand(nil), m.stack[len(m.stack)-n:]...)
		m.stack = m.stack[:len(m.stack)-n]
		result, err := m.caller.Call(m.ctx, procIdx, args)
		if err != nil {
			return nil, false, err
		}
		m.push(result)

	case op == RET:
		result := m.stack[f.StackBegin]
		m.stack = m.stack[:f.StackBegin]
		return result, true, nil

	case isArith(op):
		binop, _ := arithOp(op)
		b, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		a, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		if op == ADDT {
			r, err := operand.ConcatText(a, b)
			if err != nil {
				return nil, false, err
			}
			m.push(r)
			break
		}
		r, err := operand.Arith(binop, a, b)
		if err != nil {
			return nil, false, err
		}
		m.push(r)

	case isBitwise(op):
		if op == NOT || op == NOTB {
			a, err := m.pop()
			if err != nil {
				return nil, false, err
			}
			r, err := bitwiseNot(a)
			if err != nil {
				return nil, false, err
			}
			m.push(r)
			break
		}
		b, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		a, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		r, err := bitwiseBin(op, a, b)
		if err != nil {
			return nil, false, err
		}
		m.push(r)

	case isCompare(op):
		kind := compareKind(op)
		b, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		a, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		r, err := operand.Compare(kind, a, b)
		if err != nil {
			return nil, false, err
		}
		m.push(r)

	case op == JF:
		off, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		v, err := popBool(m)
		if err != nil {
			return nil, false, err
		}
		if !v {
			f.PC = uint32(int64(f.PC) + off)
		}

	case op == JT:
		off, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		v, err := popBool(m)
		if err != nil {
			return nil, false, err
		}
		if v {
			f.PC = uint32(int64(f.PC) + off)
		}

	case op == JFC:
		off, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		v, err := peekBool(m)
		if err != nil {
			return nil, false, err
		}
		if !v {
			f.PC = uint32(int64(f.PC) + off)
		} else {
			_, _ = m.pop()
		}

	case op == JTC:
		off, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		v, err := peekBool(m)
		if err != nil {
			return nil, false, err
		}
		if v {
			f.PC = uint32(int64(f.PC) + off)
		} else {
			_, _ = m.pop()
		}

	case op == JMP:
		off, err := readI32(f)
		if err != nil {
			return nil, false, err
		}
		f.PC = uint32(int64(f.PC) + off)

	case op == INDT:
		idx, err := popInt(m)
		if err != nil {
			return nil, false, err
		}
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		ix, ok := o.(operand.Indexable)
		if !ok {
			return nil, false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: INDT on a non-indexable operand")
		}
		el, err := ix.ElementAt(int(idx))
		if err != nil {
			return nil, false, err
		}
		m.push(el)

	case op == INDA:
		idx, err := popInt(m)
		if err != nil {
			return nil, false, err
		}
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		ix, ok := o.(operand.Indexable)
		if !ok {
			return nil, false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: INDA on a non-indexable operand")
		}
		el, err := ix.ElementAt(int(idx))
		if err != nil {
			return nil, false, err
		}
		m.push(el)

	case op == INDF:
		row, err := popInt(m)
		if err != nil {
			return nil, false, err
		}
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		fl, ok := o.(operand.Fielded)
		if !ok {
			return nil, false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: INDF on a non-field operand")
		}
		el, err := fl.ValueAt(uint64(row))
		if err != nil {
			return nil, false, err
		}
		m.push(el)

	case op == INDTA:
		idx, err := popInt(m)
		if err != nil {
			return nil, false, err
		}
		row, err := popInt(m)
		if err != nil {
			return nil, false, err
		}
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		fld, ok := o.(*operand.Field)
		if !ok {
			return nil, false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: INDTA on a non-field operand")
		}
		el, err := fld.ArrayValueAt(uint64(row), int(idx))
		if err != nil {
			return nil, false, err
		}
		m.push(el)

	case op == SELF:
		row, err := popInt(m)
		if err != nil {
			return nil, false, err
		}
		o, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		fl, ok := o.(operand.Fielded)
		if !ok {
			return nil, false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: SELF on a non-field operand")
		}
		el, err := fl.ValueAt(uint64(row))
		if err != nil {
			return nil, false, err
		}
		m.push(el)

	case op == BSYNC:
		idx, err := readU16(f)
		if err != nil {
			return nil, false, err
		}
		if f.heldSyncs[idx] {
			return nil, false, faults.Sync(faults.CodeNestedSyncRequest, "vm: %s: sync region %d already held", f.name(), idx)
		}
		if m.syncs != nil {
			m.syncs.Acquire(SyncKey{ProcedureID: f.name(), Index: idx})
		}
		f.heldSyncs[idx] = true

	case op == ESYNC:
		idx, err := readU16(f)
		if err != nil {
			return nil, false, err
		}
		if !f.heldSyncs[idx] {
			return nil, false, faults.Sync(faults.CodeSyncNotAcquired, "vm: %s: sync region %d not held", f.name(), idx)
		}
		if m.syncs != nil {
			m.syncs.Release(SyncKey{ProcedureID: f.name(), Index: idx})
		}
		delete(f.heldSyncs, idx)

	case isSelfOp(op):
		binop, _ := selfOp(op)
		val, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		dest, err := m.top()
		if err != nil {
			return nil, false, err
		}
		var r operand.Operand
		if op == SADDT {
			r, err = operand.ConcatText(dest, val)
		} else {
			r, err = operand.Arith(binop, dest, val)
		}
		if err != nil {
			return nil, false, err
		}
		rv, err := r.Value()
		if err != nil {
			return nil, false, err
		}
		if err := dest.SetValue(rv); err != nil {
			return nil, false, err
		}

	case isSelfBitwise(op):
		val, err := m.pop()
		if err != nil {
			return nil, false, err
		}
		dest, err := m.top()
		if err != nil {
			return nil, false, err
		}
		r, err := bitwiseBin(selfBitwiseBase(op), dest, val)
		if err != nil {
			return nil, false, err
		}
		rv, err := r.Value()
		if err != nil {
			return nil, false, err
		}
		if err := dest.SetValue(rv); err != nil {
			return nil, false, err
		}

	case op == ITF:
		if err := m.startIterate(true); err != nil {
			return nil, false, err
		}

	case op == ITL:
		if err := m.startIterate(false); err != nil {
			return nil, false, err
		}

	case op == ITN:
		m.push(operand.NewScalar(wtypes.BoolValue(m.advanceIterate(true))))

	case op == ITP:
		m.push(operand.NewScalar(wtypes.BoolValue(m.advanceIterate(false))))

	case op == ITOFF:
		if m.iter == nil {
			return nil, false, faults.Interpreter(faults.CodeStackCorrupted, "vm: ITOFF with no active iterator")
		}
		m.push(operand.NewScalar(wtypes.IntValue(wtypes.Int64, int64(m.iter.row))))

	case op == FID:
		if m.iter == nil {
			return nil, false, faults.Interpreter(faults.CodeStackCorrupted, "vm: FID with no active iterator")
		}
		m.push(operand.NewScalar(wtypes.IntValue(wtypes.Int32, int64(m.iter.field))))

	case op == CARR:
		n, err := readU16(f)
		if err != nil {
			return nil, false, err
		}
		flag, err := readU8(f)
		if err != nil {
			return nil, false, err
		}
		if flag&CarrFromField != 0 {
			row, err := popInt(m)
			if err != nil {
				return nil, false, err
			}
			o, err := m.pop()
			if err != nil {
				return nil, false, err
			}
			fl, ok := o.(operand.Fielded)
			if !ok {
				return nil, false, faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: CARR field-flag on a non-field operand")
			}
			vals, ok2, err := readArrayField(fl, uint64(row))
			if err != nil {
				return nil, false, err
			}
			elem := wtypes.Undetermined
			if len(vals) > 0 {
				elem = vals[0].Kind
			}
			m.push(operand.NewArray(elem, vals, !ok2))
			break
		}
		vals := make([]wtypes.Value, n)
		for i := int(n) - 1; i >= 0; i-- {
			o, err := m.pop()
			if err != nil {
				return nil, false, err
			}
			v, err := o.Value()
			if err != nil {
				return nil, false, err
			}
			vals[i] = v
		}
		elem := wtypes.Undetermined
		if n > 0 {
			elem = vals[0].Kind
		}
		m.push(operand.NewArray(elem, vals, false))

	case op == AJOIN, op == AFOUT, op == AFIN:
		return nil, false, faults.Interpreter(faults.CodeNativeCallFailed, "vm: %s is reserved for subquery primitives, not implemented", op)

	default:
		return nil, false, faults.Compiler("vm: unrecognized opcode %d", byte(op))
	}

	return nil, false, nil
}

func readArrayField(fl operand.Fielded, row uint64) ([]wtypes.Value, bool, error) {
	el, err := fl.ValueAt(row)
	if err != nil {
		return nil, false, err
	}
	ix, ok := el.(operand.Indexable)
	if !ok || el.IsNull() {
		return nil, false, nil
	}
	vals := make([]wtypes.Value, 0, ix.Len())
	for i := 0; i < ix.Len(); i++ {
		e, err := ix.ElementAt(i)
		if err != nil {
			return nil, false, err
		}
		v, err := e.Value()
		if err != nil {
			return nil, false, err
		}
		vals = append(vals, v)
	}
	return vals, true, nil
}

func (m *Machine) startIterate(forward bool) error {
	o, err := m.pop()
	if err != nil {
		return err
	}
	var tbl *storage.Table
	field := -1
	switch v := o.(type) {
	case operand.Fielded:
		tbl = v.Table()
		field = v.FieldIndex()
	case operand.Tabular:
		tbl = v.Table()
	default:
		return faults.Interpreter(faults.CodeFieldTypeMismatch, "vm: iteration requires a table or field operand")
	}
	m.iter = &iterState{table: tbl, field: field}
	if forward {
		m.iter.row = 0
	} else {
		n := tbl.AllocatedRows()
		if n == 0 {
			m.iter.ok = false
			return nil
		}
		m.iter.row = n - 1
	}
	m.iter.ok = m.seekIterRow()
	return nil
}

func (m *Machine) seekIterRow() bool {
	n := m.iter.table.AllocatedRows()
	return m.iter.row < n && !m.iter.table.IsRowRemoved(m.iter.row)
}

func (m *Machine) advanceIterate(forward bool) bool {
	if m.iter == nil {
		return false
	}
	n := m.iter.table.AllocatedRows()
	for {
		if forward {
			m.iter.row++
		} else {
			if m.iter.row == 0 {
				m.iter.ok = false
				return false
			}
			m.iter.row--
		}
		if m.iter.row >= n {
			m.iter.ok = false
			return false
		}
		if !m.iter.table.IsRowRemoved(m.iter.row) {
			m.iter.ok = true
			return true
		}
	}
}

// --- immediate decoding helpers ------------------------------------------

func readU8(f *Frame) (uint8, error) {
	if int(f.PC)+1 > len(f.Code) {
		return 0, errShortRead("u8")
	}
	v := f.Code[f.PC]
	f.PC++
	return v, nil
}

func readI8(f *Frame) (int8, error) {
	v, err := readU8(f)
	return int8(v), err
}

func readU16(f *Frame) (uint16, error) {
	if int(f.PC)+2 > len(f.Code) {
		return 0, errShortRead("u16")
	}
	v := binary.LittleEndian.Uint16(f.Code[f.PC:])
	f.PC += 2
	return v, nil
}

func readI16(f *Frame) (int16, error) {
	v, err := readU16(f)
	return int16(v), err
}

func readU32(f *Frame) (uint32, error) {
	if int(f.PC)+4 > len(f.Code) {
		return 0, errShortRead("u32")
	}
	v := binary.LittleEndian.Uint32(f.Code[f.PC:])
	f.PC += 4
	return v, nil
}

func readI32(f *Frame) (int32, error) {
	v, err := readU32(f)
	return int32(v), err
}

func readU64(f *Frame) (uint64, error) {
	if int(f.PC)+8 > len(f.Code) {
		return 0, errShortRead("u64")
	}
	v := binary.LittleEndian.Uint64(f.Code[f.PC:])
	f.PC += 8
	return v, nil
}

func readI64(f *Frame) (int64, error) {
	v, err := readU64(f)
	return int64(v), err
}

func readDateParts(f *Frame) (year int16, month, day uint8, err error) {
	y, err := readI16(f)
	if err != nil {
		return 0, 0, 0, err
	}
	mo, err := readU8(f)
	if err != nil {
		return 0, 0, 0, err
	}
	d, err := readU8(f)
	if err != nil {
		return 0, 0, 0, err
	}
	return y, mo, d, nil
}

func readTimeParts(f *Frame) (hour, minute, second uint8, err error) {
	h, err := readU8(f)
	if err != nil {
		return 0, 0, 0, err
	}
	mi, err := readU8(f)
	if err != nil {
		return 0, 0, 0, err
	}
	s, err := readU8(f)
	if err != nil {
		return 0, 0, 0, err
	}
	return h, mi, s, nil
}

func readCStringAt(buf []byte, offset uint32) (string, error) {
	if int(offset) > len(buf) {
		return "", faults.Compiler("vm: LDT offset %d exceeds constants area size %d", offset, len(buf))
	}
	rest := buf[offset:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), nil
		}
	}
	return "", faults.Compiler("vm: LDT offset %d: unterminated string constant", offset)
}
