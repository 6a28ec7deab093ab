package session

import (
	"context"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/telemetry"
	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/vm"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Execute runs the registered procedure name against args, the
// implementation of spec §4.7's execute_procedure(name, stack): it
// validates the top P stack entries (here, args) against the callee's
// parameter types with widening allowed, then runs the VM.
func (s *Session) Execute(name string, args []operand.Operand) (operand.Operand, error) {
	ctx, span := telemetry.StartSpan(context.Background(), "session.Execute")
	defer span.End()

	s.mu.RLock()
	bp, ok := s.procedures[name]
	s.mu.RUnlock()
	if !ok || bp.external {
		return nil, faults.Database(faults.CodeInvalidParameters, "session: no definition for procedure %q", name)
	}
	u := bp.unit
	proc := &u.Procedures[bp.procIndex]

	bound, err := s.bindArgs(u, proc, args)
	if err != nil {
		return nil, err
	}

	caller := &unitCaller{session: s, unit: u}
	return vm.Run(ctx, u, proc, bound, caller, s)
}

// Acquire/Release satisfy vm.Syncs by delegating to the manager's
// database-wide sync registry (spec §5).
func (s *Session) Acquire(key vm.SyncKey) { s.mgr.syncs.Acquire(key) }
func (s *Session) Release(key vm.SyncKey) { s.mgr.syncs.Release(key) }

func (s *Session) bindArgs(u *unit.Unit, proc *unit.Procedure, args []operand.Operand) ([]operand.Operand, error) {
	if len(args) != int(proc.ArgsCount) {
		return nil, faults.Database(faults.CodeBadParameters, "session: %s expects %d arguments, got %d", proc.Name, proc.ArgsCount, len(args))
	}
	out := make([]operand.Operand, len(args))
	for i, a := range args {
		desc, err := paramDescriptor(u, proc, i)
		if err != nil {
			return nil, err
		}
		bound, err := widenArg(desc, a)
		if err != nil {
			return nil, faults.Database(faults.CodeBadParameters, "session: %s argument %d: %v", proc.Name, i, err)
		}
		out[i] = bound
	}
	return out, nil
}

func paramDescriptor(u *unit.Unit, proc *unit.Procedure, i int) (wtypes.Descriptor, error) {
	if i >= len(proc.LocalsTypeOffsets) {
		return wtypes.Descriptor{}, faults.Compiler("session: %s: missing type info for parameter %d", proc.Name, i)
	}
	off := proc.LocalsTypeOffsets[i]
	if int(off) >= len(u.TypeInfo) {
		return wtypes.Descriptor{}, faults.Compiler("session: %s: parameter %d type offset out of range", proc.Name, i)
	}
	desc, _, err := wtypes.Decode(u.TypeInfo[off:])
	if err != nil {
		return wtypes.Descriptor{}, faults.Compiler("session: %s: parameter %d: %v", proc.Name, i, err)
	}
	return desc, nil
}

// widenArg widens a scalar/text argument to its declared parameter kind
// (spec §4.7 "widening allowed"); composite operands (array, table,
// field) carry their own kind already and are passed through by
// reference unchanged, matching spec §4.5's reference-semantics
// variants for those kinds.
func widenArg(desc wtypes.Descriptor, a operand.Operand) (operand.Operand, error) {
	if desc.IsArray || desc.IsTableRef || desc.IsField {
		return a, nil
	}
	v, err := a.Value()
	if err != nil {
		return nil, err
	}
	w, err := v.Widen(desc.Base)
	if err != nil {
		return nil, err
	}
	if desc.Base == wtypes.Text {
		txt, _ := w.AsText()
		return operand.NewText(txt, w.IsNull()), nil
	}
	return operand.NewScalar(w), nil
}

// unitCaller implements vm.Caller for one unit's code while it is
// executing: CALL's procIdx immediate is local to the currently running
// unit's procedure table (spec §4.6 "an index into the unit-local
// procedure table"), so a fresh unitCaller is bound to whichever unit
// owns the code actually running — constructed once by Execute for the
// top-level call, and again here for every resolved callee, so nested
// CALLs always resolve against the right unit's table.
type unitCaller struct {
	session *Session
	unit    *unit.Unit
}

func (c *unitCaller) localProc(procIdx uint32) (*unit.Procedure, error) {
	if int(procIdx) >= len(c.unit.Procedures) {
		return nil, faults.Interpreter(faults.CodeStackCorrupted, "session: CALL: procedure index %d out of range", procIdx)
	}
	return &c.unit.Procedures[procIdx], nil
}

// resolvedProc is whichever of native/compiled target localProc's
// external lookup lands on.
type resolvedProc struct {
	native *NativeEntry
	unit   *unit.Unit
	proc   *unit.Procedure
}

// resolveByName performs the "lazily bind callees on first CALL" step of
// spec §4.7: an external procedure entry only gets chased down to its
// real definition (another loaded unit, or a native library) when some
// CALL instruction actually targets it.
func (s *Session) resolveByName(name string) (*resolvedProc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.natives[name]; ok {
		return &resolvedProc{native: &n}, nil
	}
	bp, ok := s.procedures[name]
	if !ok || bp.external {
		return nil, faults.Interpreter(faults.CodeNativeCallFailed, "session: no definition bound for procedure %q", name)
	}
	return &resolvedProc{unit: bp.unit, proc: &bp.unit.Procedures[bp.procIndex]}, nil
}

func (c *unitCaller) ArgsCount(procIdx uint32) (int, error) {
	local, err := c.localProc(procIdx)
	if err != nil {
		return 0, err
	}
	if local.Flags&unit.ProcedureExternal == 0 {
		return int(local.ArgsCount), nil
	}
	r, err := c.session.resolveByName(local.Name)
	if err != nil {
		return 0, err
	}
	if r.native != nil {
		return r.native.ArgsCount, nil
	}
	return int(r.proc.ArgsCount), nil
}

func (c *unitCaller) Call(ctx context.Context, procIdx uint32, args []operand.Operand) (operand.Operand, error) {
	local, err := c.localProc(procIdx)
	if err != nil {
		return nil, err
	}

	targetUnit := c.unit
	targetProc := local
	if local.Flags&unit.ProcedureExternal != 0 {
		r, err := c.session.resolveByName(local.Name)
		if err != nil {
			return nil, err
		}
		if r.native != nil {
			return r.native.Fn(args)
		}
		targetUnit = r.unit
		targetProc = r.proc
	}

	return vm.Run(ctx, targetUnit, targetProc, args, &unitCaller{session: c.session, unit: targetUnit}, c.session)
}
