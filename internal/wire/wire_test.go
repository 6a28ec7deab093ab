package wire

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/session"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/wtypes"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, CmdPushStack, []byte("hello")))

	f, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, CmdPushStack, f.Cmd)
	require.Equal(t, []byte("hello"), f.Payload)
}

func TestReadFrameRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, CmdPushStack, make([]byte, 100)))

	_, err := ReadFrame(&buf, 50)
	require.Error(t, err)
	var fault *faults.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, faults.CodeStackTooBig, fault.Code)
}

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.Open(t.TempDir(), t.TempDir(), storage.StoreParams{GranuleSize: 64, BlockSize: 4096, MaxBlocks: 16})
	require.NoError(t, err)
	return db
}

func TestStackScalarPushUpdateRead(t *testing.T) {
	s := NewStack(newTestDB(t))
	require.NoError(t, s.Push(wtypes.Scalar(wtypes.Int32)))
	require.Equal(t, 1, s.Len())

	enc, err := encodeValue(wtypes.IntValue(wtypes.Int32, 42))
	require.NoError(t, err)
	require.NoError(t, s.UpdateTop(NoRow, NoCol, 0, enc))

	data, err := s.ReadScalar()
	require.NoError(t, err)
	v, err := decodeValue(wtypes.Int32, data)
	require.NoError(t, err)
	n, ok := v.AsInt64()
	require.True(t, ok)
	require.EqualValues(t, 42, n)

	require.NoError(t, s.Pop(1))
	require.Equal(t, 0, s.Len())
}

func TestStackArrayPushUpdateRead(t *testing.T) {
	s := NewStack(newTestDB(t))
	require.NoError(t, s.Push(wtypes.ArrayOf(wtypes.Int64)))

	// A fresh ARRAY push is null (zero length); updating an element on
	// a null array is rejected, matching the VM's own ARRAY_INDEX_NULL.
	enc, err := encodeValue(wtypes.IntValue(wtypes.Int64, 7))
	require.NoError(t, err)
	err = s.UpdateTop(0, NoCol, 0, enc)
	require.Error(t, err)
}

func TestStackTextPushUpdateReadChunked(t *testing.T) {
	s := NewStack(newTestDB(t))
	require.NoError(t, s.Push(wtypes.Scalar(wtypes.Text)))

	require.NoError(t, s.UpdateTop(NoRow, NoCol, 0, []byte("hello world")))

	chunk1, next, done, err := s.ReadTextChunk(0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(chunk1))
	require.False(t, done)
	require.Equal(t, 5, next)

	chunk2, next2, done2, err := s.ReadTextChunk(next, 100)
	require.NoError(t, err)
	require.Equal(t, " world", string(chunk2))
	require.True(t, done2)
	require.Equal(t, 11, next2)
}

func TestStackTablePushAddRowsUpdateAndReadChunk(t *testing.T) {
	s := NewStack(newTestDB(t))
	desc := wtypes.Table([]wtypes.TableColumn{
		{Name: "id", Type: wtypes.Scalar(wtypes.Int32)},
		{Name: "name", Type: wtypes.Scalar(wtypes.Text)},
	})
	require.NoError(t, s.Push(desc))
	require.NoError(t, s.AddRows(2))

	idEnc, err := encodeValue(wtypes.IntValue(wtypes.Int32, 99))
	require.NoError(t, err)
	require.NoError(t, s.UpdateTop(0, 0, 0, idEnc))
	require.NoError(t, s.UpdateTop(0, 1, 0, []byte("row-zero")))

	data, next, done, err := s.ReadTableChunk(tableReadHints{}, 64)
	require.NoError(t, err)
	require.False(t, done)
	require.EqualValues(t, 0, next.Row)
	require.EqualValues(t, 1, next.Field)
	v, err := decodeValue(wtypes.Int32, data)
	require.NoError(t, err)
	n, _ := v.AsInt64()
	require.EqualValues(t, 99, n)

	data2, next2, done2, err := s.ReadTableChunk(next, 64)
	require.NoError(t, err)
	require.False(t, done2)
	require.Equal(t, "row-zero", string(data2))
	require.EqualValues(t, 2, next2.Field)

	require.NoError(t, s.Close()) // drops the backing temp table
}

func TestConnHandshakeAndScalarRoundTrip(t *testing.T) {
	db := newTestDB(t)
	mgr := session.NewManager(db)
	sess := mgr.NewSession()

	client, server := net.Pipe()
	defer client.Close()

	conn := NewConn(server, sess, NewStack(db))
	go conn.Serve(make(chan struct{}))

	// Handshake.
	req := make([]byte, 4)
	binary.LittleEndian.PutUint32(req, 4096)
	require.NoError(t, WriteFrame(client, CmdHandshake, req))
	ack, err := ReadFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, CmdHandshake, ack.Cmd)
	require.Equal(t, Status(StatusOK), Status(binary.LittleEndian.Uint32(ack.Payload[0:4])))

	// Push an INT32 null.
	desc := wtypes.Scalar(wtypes.Int32).Encode()
	require.NoError(t, WriteFrame(client, CmdPushStack, desc))
	ack, err = ReadFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, Status(StatusOK), Status(binary.LittleEndian.Uint32(ack.Payload[0:4])))

	// Write 7 into it.
	enc, err := encodeValue(wtypes.IntValue(wtypes.Int32, 7))
	require.NoError(t, err)
	payload := make([]byte, 10+len(enc))
	binary.LittleEndian.PutUint32(payload[0:4], NoRow)
	binary.LittleEndian.PutUint16(payload[4:6], NoCol)
	binary.LittleEndian.PutUint32(payload[6:10], 0)
	copy(payload[10:], enc)
	require.NoError(t, WriteFrame(client, CmdUpdateStackTop, payload))
	ack, err = ReadFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, Status(StatusOK), Status(binary.LittleEndian.Uint32(ack.Payload[0:4])))

	// Read it back.
	require.NoError(t, WriteFrame(client, CmdReadScalarStackTop, nil))
	ack, err = ReadFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, Status(StatusOK), Status(binary.LittleEndian.Uint32(ack.Payload[0:4])))
	v, err := decodeValue(wtypes.Int32, ack.Payload[4:])
	require.NoError(t, err)
	n, ok := v.AsInt64()
	require.True(t, ok)
	require.EqualValues(t, 7, n)
}
