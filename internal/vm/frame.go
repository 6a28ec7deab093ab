package vm

import "github.com/whais-db/whais-core/internal/unit"

// Frame is one activation record on the call chain (spec §4.6 "each
// frame records a pointer into the procedure's code, a program counter,
// and stack_begin"). Slot 0 of the region [StackBegin, StackBegin+1+Locals)
// holds the return value; slots 1..ArgsCount are the arguments; the rest
// are locals, all addressed relative to StackBegin.
type Frame struct {
	Proc       *unit.Procedure
	Code       []byte
	PC         uint32
	StackBegin int

	// heldSyncs tracks which of the procedure's sync regions are
	// currently open, keyed by sync index (spec §4.6 BSYNC/ESYNC:
	// nesting the same region is rejected with NEESTED_SYNC_REQ).
	heldSyncs map[uint16]bool
}

func newFrame(proc *unit.Procedure, code []byte, stackBegin int) *Frame {
	return &Frame{Proc: proc, Code: code, StackBegin: stackBegin, heldSyncs: map[uint16]bool{}}
}

func (f *Frame) name() string {
	if f.Proc == nil {
		return "?"
	}
	return f.Proc.Name
}
