package wire

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/session"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Conn drives one accepted connection: handshake, then a loop of stack
// commands against a private session.Session and its operand Stack
// (spec §4.8). One Conn serves exactly one session, matching spec §5's
// "each session owns its operand stack... thread-confined to the
// worker currently driving the session".
type Conn struct {
	nc       net.Conn
	sess     *session.Session
	stack    *Stack
	maxFrame uint32
}

// NewConn wraps an accepted connection around a fresh session.
func NewConn(nc net.Conn, sess *session.Session, stack *Stack) *Conn {
	return &Conn{nc: nc, sess: sess, stack: stack, maxFrame: DefaultMaxFrameSize}
}

// Serve runs the connection's command loop until the client disconnects,
// stop fires, or a transport error occurs. Any per-command error is
// reported as a status frame rather than tearing down the connection; a
// protocol/transport error (malformed frame, closed socket) ends the
// loop.
func (c *Conn) Serve(stop <-chan struct{}) error {
	defer c.stack.Close()

	if err := c.handshake(); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		frame, err := ReadFrame(c.nc, c.maxFrame)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := c.dispatch(frame); err != nil {
			return err
		}
	}
}

func (c *Conn) handshake() error {
	frame, err := ReadFrame(c.nc, DefaultMaxFrameSize)
	if err != nil {
		return err
	}
	if frame.Cmd != CmdHandshake || len(frame.Payload) < 4 {
		return faults.IO("wire: expected handshake frame")
	}
	requested := binary.LittleEndian.Uint32(frame.Payload[0:4])
	negotiated := requested
	if negotiated == 0 || negotiated > DefaultMaxFrameSize {
		negotiated = DefaultMaxFrameSize
	}
	c.maxFrame = negotiated

	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, negotiated)
	slog.Info("session handshake", "session", c.sess.ID, "max_frame", negotiated)
	return WriteAck(c.nc, CmdHandshake, StatusOK, body)
}

// dispatch handles one frame, writing whatever ack/response frame the
// command requires. It returns a non-nil error only for a transport
// failure; application-level faults are reported in the ack's status
// word.
func (c *Conn) dispatch(f Frame) error {
	switch f.Cmd {
	case CmdPushStack:
		desc, _, err := wtypes.Decode(f.Payload)
		if err != nil {
			return c.fail(f.Cmd, faults.Interpreter(faults.CodeStackCorrupted, "wire: %v", err))
		}
		if err := c.stack.Push(desc); err != nil {
			return c.fail(f.Cmd, err)
		}
		return c.ack(f.Cmd)

	case CmdPopStack:
		if len(f.Payload) < 4 {
			return c.fail(f.Cmd, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated POP_STACK payload"))
		}
		n := int(binary.LittleEndian.Uint32(f.Payload[0:4]))
		if err := c.stack.Pop(n); err != nil {
			return c.fail(f.Cmd, err)
		}
		return c.ack(f.Cmd)

	case CmdUpdateStackTop:
		if len(f.Payload) < 10 {
			return c.fail(f.Cmd, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated UPDATE_STACK_TOP payload"))
		}
		row := binary.LittleEndian.Uint32(f.Payload[0:4])
		col := binary.LittleEndian.Uint16(f.Payload[4:6])
		offset := binary.LittleEndian.Uint32(f.Payload[6:10])
		if err := c.stack.UpdateTop(row, col, offset, f.Payload[10:]); err != nil {
			return c.fail(f.Cmd, err)
		}
		return c.ack(f.Cmd)

	case CmdUpdateStackTableAddRows:
		if len(f.Payload) < 4 {
			return c.fail(f.Cmd, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated UPDATE_STACK_TABLE_ADD_ROWS payload"))
		}
		n := int(binary.LittleEndian.Uint32(f.Payload[0:4]))
		if err := c.stack.AddRows(n); err != nil {
			return c.fail(f.Cmd, err)
		}
		return c.ack(f.Cmd)

	case CmdReadScalarStackTop:
		data, err := c.stack.ReadScalar()
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		return WriteAck(c.nc, f.Cmd, StatusOK, data)

	case CmdReadArrayStackTop:
		hint, err := readHint(f.Payload)
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		data, next, done, err := c.stack.ReadArrayChunk(hint, c.bodyBudget())
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		return WriteAck(c.nc, f.Cmd, StatusOK, chunkBody(next, done, data))

	case CmdReadTextStackTop:
		hint, err := readHint(f.Payload)
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		data, next, done, err := c.stack.ReadTextChunk(hint, c.bodyBudget())
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		return WriteAck(c.nc, f.Cmd, StatusOK, chunkBody(next, done, data))

	case CmdReadTableStackTop:
		hints, err := decodeTableHints(f.Payload)
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		data, next, done, err := c.stack.ReadTableChunk(hints, c.bodyBudget())
		if err != nil {
			return c.fail(f.Cmd, err)
		}
		body := next.encode()
		body = append(body, boolByte(done))
		body = append(body, data...)
		return WriteAck(c.nc, f.Cmd, StatusOK, body)

	case CmdExecute:
		if len(f.Payload) < 2 {
			return c.fail(f.Cmd, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated EXECUTE payload"))
		}
		nameLen := int(binary.LittleEndian.Uint16(f.Payload[0:2]))
		if len(f.Payload) < 2+nameLen {
			return c.fail(f.Cmd, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated EXECUTE procedure name"))
		}
		name := string(f.Payload[2 : 2+nameLen])
		if err := c.execute(name); err != nil {
			return c.fail(f.Cmd, err)
		}
		return c.ack(f.Cmd)

	default:
		return c.fail(f.Cmd, faults.IO("wire: unknown command %d", f.Cmd))
	}
}

func (c *Conn) execute(name string) error {
	n, err := c.sess.ProcedureParametersCount(name)
	if err != nil {
		return err
	}
	args, err := c.stack.Args(n)
	if err != nil {
		return err
	}
	result, err := c.sess.Execute(name, args)
	if err != nil {
		return err
	}
	if err := c.stack.Pop(n); err != nil {
		return err
	}
	c.stack.PushValue(result)
	return nil
}

// bodyBudget leaves room in the negotiated frame for the frame header,
// the ack's own status word and the largest chunk bookkeeping (the
// 14-byte table read hints plus the done byte).
func (c *Conn) bodyBudget() int {
	budget := int(c.maxFrame) - headerSize - 4 - 14 - 1
	if budget < 0 {
		budget = 0
	}
	return budget
}

func readHint(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated read hint")
	}
	return int(binary.LittleEndian.Uint32(payload[0:4])), nil
}

func chunkBody(next int, done bool, data []byte) []byte {
	body := make([]byte, 5+len(data))
	binary.LittleEndian.PutUint32(body[0:4], uint32(next))
	body[4] = boolByte(done)
	copy(body[5:], data)
	return body
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c *Conn) ack(cmd Command) error {
	return WriteAck(c.nc, cmd, StatusOK, nil)
}

func (c *Conn) fail(cmd Command, err error) error {
	slog.Warn("wire command failed", "session", c.sess.ID, "cmd", cmd, "error", err)
	return WriteAck(c.nc, cmd, statusOf(err), []byte(err.Error()))
}
