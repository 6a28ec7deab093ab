package wire

import "github.com/whais-db/whais-core/internal/faults"

// Command identifies a frame's payload layout (spec §4.8).
type Command uint16

const (
	CmdHandshake Command = iota
	CmdPushStack
	CmdPopStack
	CmdUpdateStackTop
	CmdReadScalarStackTop
	CmdReadArrayStackTop
	CmdReadTextStackTop
	CmdReadTableStackTop
	CmdUpdateStackTableAddRows
	CmdExecute
)

// Status is the leading u32 word of every acknowledged response frame
// (spec §6.2 "Commands requiring acknowledgement receive a response
// frame... with a leading u32 status").
type Status uint32

const (
	StatusOK Status = iota
	StatusIOError
	StatusDatabaseError
	StatusInterpreterError
	StatusSyncError
	StatusCompilerError
	StatusProtocolError
)

// statusOf maps a faults.Kind to the wire-level status word a client
// sees; the human-readable detail travels in the status frame's body
// as a UTF-8 message (see Conn.fail).
func statusOf(err error) Status {
	f, ok := err.(*faults.Fault)
	if !ok {
		return StatusProtocolError
	}
	switch f.Kind {
	case faults.KindIO:
		return StatusIOError
	case faults.KindDatabase:
		return StatusDatabaseError
	case faults.KindInterpreter:
		return StatusInterpreterError
	case faults.KindSync:
		return StatusSyncError
	case faults.KindCompiler:
		return StatusCompilerError
	default:
		return StatusProtocolError
	}
}
