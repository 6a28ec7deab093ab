package main

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/whais-db/whais-core/internal/wire"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// client is a minimal wire protocol client: it drives a session's operand
// stack over a TCP connection the same way a server Conn drives it
// locally (internal/wire/conn.go), except the frames travel over the
// network instead of being read straight from a net.Conn already bound
// to a session.
type client struct {
	nc       net.Conn
	maxFrame uint32
}

func dial(addr string) (*client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &client{nc: nc, maxFrame: wire.DefaultMaxFrameSize}
	if err := c.handshake(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) Close() error { return c.nc.Close() }

func (c *client) handshake() error {
	req := make([]byte, 4)
	binary.LittleEndian.PutUint32(req, wire.DefaultMaxFrameSize)
	if err := wire.WriteFrame(c.nc, wire.CmdHandshake, req); err != nil {
		return err
	}
	ack, err := wire.ReadFrame(c.nc, wire.DefaultMaxFrameSize)
	if err != nil {
		return err
	}
	if status, err := ackStatus(ack); err != nil || status != wire.StatusOK {
		return fmt.Errorf("wcmd: handshake refused: %v", err)
	}
	c.maxFrame = binary.LittleEndian.Uint32(ack.Payload[4:8])
	return nil
}

func (c *client) roundTrip(cmd wire.Command, payload []byte) (wire.Frame, error) {
	if err := wire.WriteFrame(c.nc, cmd, payload); err != nil {
		return wire.Frame{}, err
	}
	return wire.ReadFrame(c.nc, c.maxFrame)
}

func ackStatus(f wire.Frame) (wire.Status, error) {
	if len(f.Payload) < 4 {
		return 0, fmt.Errorf("wcmd: malformed ack frame")
	}
	return wire.Status(binary.LittleEndian.Uint32(f.Payload[0:4])), nil
}

func ackError(f wire.Frame) error {
	status, err := ackStatus(f)
	if err != nil {
		return err
	}
	if status == wire.StatusOK {
		return nil
	}
	return fmt.Errorf("wcmd: server error (status %d): %s", status, f.Payload[4:])
}

// pushInt64 implements PUSH_STACK(INT64) followed by an UPDATE_STACK_TOP
// writing v into the freshly pushed scalar.
func (c *client) pushInt64(v int64) error {
	desc := wtypes.Scalar(wtypes.Int64).Encode()
	ack, err := c.roundTrip(wire.CmdPushStack, desc)
	if err != nil {
		return err
	}
	if err := ackError(ack); err != nil {
		return err
	}

	enc := make([]byte, 9)
	enc[0] = 0 // not null
	binary.LittleEndian.PutUint64(enc[1:9], uint64(v))

	payload := make([]byte, 10+len(enc))
	binary.LittleEndian.PutUint32(payload[0:4], wire.NoRow)
	binary.LittleEndian.PutUint16(payload[4:6], wire.NoCol)
	binary.LittleEndian.PutUint32(payload[6:10], 0)
	copy(payload[10:], enc)

	ack, err = c.roundTrip(wire.CmdUpdateStackTop, payload)
	if err != nil {
		return err
	}
	return ackError(ack)
}

// execute implements EXECUTE(name).
func (c *client) execute(name string) error {
	payload := make([]byte, 2+len(name))
	binary.LittleEndian.PutUint16(payload[0:2], uint16(len(name)))
	copy(payload[2:], name)

	ack, err := c.roundTrip(wire.CmdExecute, payload)
	if err != nil {
		return err
	}
	return ackError(ack)
}

// readInt64 implements READ_SCALAR_STACK_TOP for an INT64 result.
func (c *client) readInt64() (int64, error) {
	ack, err := c.roundTrip(wire.CmdReadScalarStackTop, nil)
	if err != nil {
		return 0, err
	}
	if err := ackError(ack); err != nil {
		return 0, err
	}
	body := ack.Payload[4:]
	if len(body) < 1 || body[0] != 0 {
		return 0, fmt.Errorf("wcmd: result is null")
	}
	if len(body) < 9 {
		return 0, fmt.Errorf("wcmd: truncated scalar result")
	}
	return int64(binary.LittleEndian.Uint64(body[1:9])), nil
}

// popN implements POP_STACK(n).
func (c *client) popN(n int) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(n))
	ack, err := c.roundTrip(wire.CmdPopStack, payload)
	if err != nil {
		return err
	}
	return ackError(ack)
}
