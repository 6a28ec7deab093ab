package unit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildUnit assembles a minimal well-formed compiled unit file for tests.
// It mirrors what a real compiler's writer would emit, laid out by hand
// since the compiler itself is out of scope.
func buildUnit(t *testing.T) []byte {
	t.Helper()
	le := binary.LittleEndian

	typeInfo := []byte{0x01, 0x00} // one scalar end-marker, unused by this test

	var symbols []byte
	// one global: flags=0, type_offset=0, name="counter"
	buf := make([]byte, 6)
	le.PutUint16(buf[0:2], 0)
	le.PutUint32(buf[2:6], 0)
	symbols = append(symbols, buf...)
	symbols = append(symbols, []byte("counter\x00")...)

	// one procedure: flags=0, code_offset=0, code_size=4, locals=1, args=1, sync=0
	pbuf := make([]byte, 16)
	le.PutUint16(pbuf[0:2], 0)
	le.PutUint32(pbuf[2:6], 0)
	le.PutUint32(pbuf[6:10], 4)
	le.PutUint16(pbuf[10:12], 1)
	le.PutUint16(pbuf[12:14], 1)
	le.PutUint16(pbuf[14:16], 0)
	symbols = append(symbols, pbuf...)
	ltbuf := make([]byte, 4)
	le.PutUint32(ltbuf, 0)
	symbols = append(symbols, ltbuf...)
	symbols = append(symbols, []byte("increment\x00")...)

	constants := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	header := make([]byte, HeaderSize)
	copy(header[0:2], Magic[:])
	header[2], header[3] = 1, 0 // format 1.0
	header[4], header[5] = 1, 0 // language 1.0
	le.PutUint32(header[8:12], 1)
	le.PutUint32(header[12:16], 1)

	typeInfoOff := uint32(HeaderSize)
	symbolOff := typeInfoOff + uint32(len(typeInfo))
	constOff := symbolOff + uint32(len(symbols))

	le.PutUint32(header[16:20], typeInfoOff)
	le.PutUint32(header[20:24], uint32(len(typeInfo)))
	le.PutUint32(header[24:28], symbolOff)
	le.PutUint32(header[28:32], uint32(len(symbols)))
	le.PutUint32(header[32:36], constOff)
	le.PutUint32(header[36:40], uint32(len(constants)))

	var out []byte
	out = append(out, header...)
	out = append(out, typeInfo...)
	out = append(out, symbols...)
	out = append(out, constants...)
	return out
}

func TestLoadParsesHeaderGlobalsAndProcedures(t *testing.T) {
	data := buildUnit(t)

	u, err := Load(data)
	require.NoError(t, err)

	require.EqualValues(t, 1, u.Header.FormatMajor)
	require.EqualValues(t, 1, u.Header.GlobalsCount)
	require.EqualValues(t, 1, u.Header.ProceduresCount)

	require.Len(t, u.Globals, 1)
	require.Equal(t, "counter", u.Globals[0].Name)

	require.Len(t, u.Procedures, 1)
	require.Equal(t, "increment", u.Procedures[0].Name)
	require.EqualValues(t, 1, u.Procedures[0].LocalsCount)
	require.Len(t, u.Procedures[0].LocalsTypeOffsets, 1)

	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, u.Constants)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	data := buildUnit(t)
	data[0] = 'X'

	_, err := Load(data)
	require.Error(t, err)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	_, err := Load(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestLoadRejectsAreaOutOfBounds(t *testing.T) {
	data := buildUnit(t)
	le := binary.LittleEndian
	le.PutUint32(data[36:40], 0xFFFFFFFF) // constants size way past EOF

	_, err := Load(data)
	require.Error(t, err)
}
