// Package wire implements spec §4.8/§6.2: the framed TCP protocol
// clients use to drive a session's operand stack. Frame layout follows
// internal/unit's binary-table convention (fixed fields at explicit
// byte offsets, little-endian, a named size constant per field).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/whais-db/whais-core/internal/faults"
)

// Frame header layout (spec §6.2): u32 size | u16 cmd | payload.
const headerSize = 6

// DefaultMaxFrameSize is the per-connection ceiling negotiated at
// handshake (spec §6.2 "per-connection maximum frame size agreed
// during handshake") absent any client override.
const DefaultMaxFrameSize = 1 << 20

// Frame is one decoded protocol message: a command plus its raw
// payload (size-6 bytes, per spec §6.2).
type Frame struct {
	Cmd     Command
	Payload []byte
}

// ReadFrame reads one frame from r, rejecting anything past maxSize.
func ReadFrame(r io.Reader, maxSize uint32) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[0:4])
	cmd := Command(binary.LittleEndian.Uint16(hdr[4:6]))
	if size < headerSize {
		return Frame{}, faults.IO("wire: frame size %d smaller than header", size)
	}
	if size > maxSize {
		return Frame{}, faults.Interpreter(faults.CodeStackTooBig, "wire: frame size %d exceeds negotiated maximum %d", size, maxSize)
	}
	payload := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Cmd: cmd, Payload: payload}, nil
}

// WriteFrame writes cmd/payload as a single frame to w.
func WriteFrame(w io.Writer, cmd Command, payload []byte) error {
	size := headerSize + len(payload)
	if size > 1<<32-1 {
		return fmt.Errorf("wire: payload too large to frame (%d bytes)", len(payload))
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(cmd))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// WriteAck writes a response frame carrying the leading u32 status word
// spec §6.2 requires for commands needing acknowledgement, followed by
// body.
func WriteAck(w io.Writer, cmd Command, status Status, body []byte) error {
	payload := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(status))
	copy(payload[4:], body)
	return WriteFrame(w, cmd, payload)
}
