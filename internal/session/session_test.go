package session

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/vm"
	"github.com/whais-db/whais-core/internal/wtypes"
)

type globalSpec struct {
	name     string
	external bool
	typ      wtypes.Descriptor
}

type procSpec struct {
	name       string
	external   bool
	argsCount  uint16
	syncCount  uint16
	paramTypes []wtypes.Descriptor // length == locals count
	code       []byte
}

// buildUnit hand-assembles a compiled unit file (spec §6.1 layout) with
// the given globals and procedures, following the same offset-patching
// approach as internal/unit and internal/vm's own test helpers.
func buildUnit(t *testing.T, globals []globalSpec, procs []procSpec) *unit.Unit {
	t.Helper()
	le := binary.LittleEndian

	var typeInfo []byte
	typeOffset := func(d wtypes.Descriptor) uint32 {
		off := uint32(len(typeInfo))
		typeInfo = append(typeInfo, d.Encode()...)
		return off
	}

	var symbols []byte
	for _, g := range globals {
		flags := uint16(0)
		if g.external {
			flags = unit.GlobalExternal
		}
		hdr := make([]byte, 6)
		le.PutUint16(hdr[0:2], flags)
		le.PutUint32(hdr[2:6], typeOffset(g.typ))
		symbols = append(symbols, hdr...)
		symbols = append(symbols, append([]byte(g.name), 0)...)
	}

	var code []byte
	for _, p := range procs {
		flags := uint16(0)
		if p.external {
			flags = unit.ProcedureExternal
		}
		localsCount := uint16(len(p.paramTypes))
		pbuf := make([]byte, 16)
		le.PutUint16(pbuf[0:2], flags)
		le.PutUint32(pbuf[2:6], uint32(len(code))) // code_offset, patched below to be absolute
		le.PutUint32(pbuf[6:10], uint32(len(p.code)))
		le.PutUint16(pbuf[10:12], localsCount)
		le.PutUint16(pbuf[12:14], p.argsCount)
		le.PutUint16(pbuf[14:16], p.syncCount)
		symbols = append(symbols, pbuf...)
		for _, pt := range p.paramTypes {
			var off [4]byte
			le.PutUint32(off[:], typeOffset(pt))
			symbols = append(symbols, off[:]...)
		}
		symbols = append(symbols, append([]byte(p.name), 0)...)
		code = append(code, p.code...)
	}

	constants := []byte{}

	header := make([]byte, unit.HeaderSize)
	copy(header[0:2], unit.Magic[:])
	header[2] = SupportedFormatMajor
	header[4] = SupportedLanguageMajor
	le.PutUint32(header[8:12], uint32(len(globals)))
	le.PutUint32(header[12:16], uint32(len(procs)))

	typeInfoOff := uint32(unit.HeaderSize)
	symbolOff := typeInfoOff + uint32(len(typeInfo))
	constOff := symbolOff + uint32(len(symbols))
	codeBase := constOff + uint32(len(constants))

	le.PutUint32(header[16:20], typeInfoOff)
	le.PutUint32(header[20:24], uint32(len(typeInfo)))
	le.PutUint32(header[24:28], symbolOff)
	le.PutUint32(header[28:32], uint32(len(symbols)))
	le.PutUint32(header[32:36], constOff)
	le.PutUint32(header[36:40], uint32(len(constants)))

	// Re-walk the symbol area to patch each procedure's code_offset
	// from "offset within code blob" to "absolute file offset", since
	// that's only known once constOff is fixed.
	patchProcedureOffsets(symbols, len(globals), codeBase)

	var out []byte
	out = append(out, header...)
	out = append(out, typeInfo...)
	out = append(out, symbols...)
	out = append(out, constants...)
	out = append(out, code...)

	u, err := unit.Load(out)
	require.NoError(t, err)
	return u
}

// patchProcedureOffsets walks past nGlobals global entries, then adds
// base to each procedure entry's relative code_offset field in place.
func patchProcedureOffsets(symbols []byte, nGlobals int, base uint32) {
	le := binary.LittleEndian
	pos := 0
	for i := 0; i < nGlobals; i++ {
		pos += 6
		for symbols[pos] != 0 {
			pos++
		}
		pos++
	}
	for pos < len(symbols) {
		localsCount := int(le.Uint16(symbols[pos+10 : pos+12]))
		rel := le.Uint32(symbols[pos+2 : pos+6])
		le.PutUint32(symbols[pos+2:pos+6], rel+base)
		pos += 16
		pos += 4 * localsCount
		for symbols[pos] != 0 {
			pos++
		}
		pos++
	}
}

func u8(v uint8) []byte { return []byte{v} }
func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
func i32(v int32) []byte { return u32(uint32(v)) }
func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	db, err := storage.Open(t.TempDir(), t.TempDir(), storage.StoreParams{GranuleSize: 64, BlockSize: 4096, MaxBlocks: 16})
	require.NoError(t, err)
	return NewManager(db)
}

// doubleProcCode: LDLO8 0 ; LDLO8 1 ; LDLO8 1 ; ADD ; STUD ; CTS 1 ; RET
// returns 2*arg.
var doubleProcCode = cat(
	u8(byte(vm.LDLO8)), u8(0),
	u8(byte(vm.LDLO8)), u8(1),
	u8(byte(vm.LDLO8)), u8(1),
	u8(byte(vm.ADD)),
	u8(byte(vm.STUD)),
	u8(byte(vm.CTS)), u16(1),
	u8(byte(vm.RET)),
)

func TestLoadUnitAndExecuteProcedure(t *testing.T) {
	u := buildUnit(t, nil, []procSpec{{
		name:       "double",
		argsCount:  1,
		paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
		code:       doubleProcCode,
	}})

	s := newManager(t).NewSession()
	require.NoError(t, s.LoadUnit("u1", u))

	count, err := s.ProcedureParametersCount("double")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	result, err := s.Execute("double", []operand.Operand{operand.NewScalar(wtypes.IntValue(wtypes.Int32, 21))})
	require.NoError(t, err)
	v, err := result.Value()
	require.NoError(t, err)
	iv, _ := v.AsInt64()
	require.EqualValues(t, 42, iv)
}

func TestExecuteWidensArgument(t *testing.T) {
	u := buildUnit(t, nil, []procSpec{{
		name:       "double64",
		argsCount:  1,
		paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int64)},
		code:       doubleProcCode,
	}})

	s := newManager(t).NewSession()
	require.NoError(t, s.LoadUnit("u1", u))

	// Passing an Int32 argument to an Int64 parameter exercises the
	// widening spec §4.7 allows.
	result, err := s.Execute("double64", []operand.Operand{operand.NewScalar(wtypes.IntValue(wtypes.Int32, 5))})
	require.NoError(t, err)
	v, err := result.Value()
	require.NoError(t, err)
	require.Equal(t, wtypes.Int64, v.Kind)
	iv, _ := v.AsInt64()
	require.EqualValues(t, 10, iv)
}

// callExternalCode: LDLO8 0 ; LDLO8 1 ; CALL 0 ; STUD ; CTS 1 ; RET
var callExternalCode = cat(
	u8(byte(vm.LDLO8)), u8(0),
	u8(byte(vm.LDLO8)), u8(1),
	u8(byte(vm.CALL)), u32(0),
	u8(byte(vm.STUD)),
	u8(byte(vm.CTS)), u16(1),
	u8(byte(vm.RET)),
)

func TestExternalCallResolvesAcrossLoadedUnits(t *testing.T) {
	defUnit := buildUnit(t, nil, []procSpec{{
		name:       "helper",
		argsCount:  1,
		paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
		code:       doubleProcCode,
	}})
	mainUnit := buildUnit(t, nil, []procSpec{
		{
			name:       "helper",
			external:   true,
			argsCount:  1,
			paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
		},
		{
			name:       "main",
			argsCount:  1,
			paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
			code:       callExternalCode,
		},
	})

	s := newManager(t).NewSession()
	require.NoError(t, s.LoadUnit("def", defUnit))
	require.NoError(t, s.LoadUnit("main", mainUnit))

	result, err := s.Execute("main", []operand.Operand{operand.NewScalar(wtypes.IntValue(wtypes.Int32, 11))})
	require.NoError(t, err)
	v, err := result.Value()
	require.NoError(t, err)
	iv, _ := v.AsInt64()
	require.EqualValues(t, 22, iv)
}

func TestNativeProcedureCallableThroughExternalSlot(t *testing.T) {
	mainUnit := buildUnit(t, nil, []procSpec{
		{
			name:       "triple",
			external:   true,
			argsCount:  1,
			paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
		},
		{
			name:       "main",
			argsCount:  1,
			paramTypes: []wtypes.Descriptor{wtypes.Scalar(wtypes.Int32)},
			code:       callExternalCode,
		},
	})

	s := newManager(t).NewSession()
	require.NoError(t, s.LoadUnit("main", mainUnit))
	require.NoError(t, s.LoadNativeLibrary(NativeManifest{
		Name: "testlib",
		Procedures: map[string]NativeEntry{
			"triple": {
				ArgsCount: 1,
				Fn: func(args []operand.Operand) (operand.Operand, error) {
					v, err := args[0].Value()
					if err != nil {
						return nil, err
					}
					iv, _ := v.AsInt64()
					return operand.NewScalar(wtypes.IntValue(wtypes.Int32, iv*3)), nil
				},
			},
		},
	}))

	result, err := s.Execute("main", []operand.Operand{operand.NewScalar(wtypes.IntValue(wtypes.Int32, 7))})
	require.NoError(t, err)
	v, err := result.Value()
	require.NoError(t, err)
	iv, _ := v.AsInt64()
	require.EqualValues(t, 21, iv)
}

func TestLoadUnitRejectsDanglingExternalGlobal(t *testing.T) {
	u := buildUnit(t, []globalSpec{{name: "g_missing", external: true, typ: wtypes.Scalar(wtypes.Int32)}}, nil)
	s := newManager(t).NewSession()
	require.Error(t, s.LoadUnit("u1", u))
}

func TestLoadUnitBindsTableGlobalToPersistentTable(t *testing.T) {
	tableType := wtypes.Table([]wtypes.TableColumn{{Name: "id", Type: wtypes.Scalar(wtypes.Int32)}})
	u := buildUnit(t, []globalSpec{{name: "people", typ: tableType}}, nil)

	s := newManager(t).NewSession()
	require.NoError(t, s.LoadUnit("u1", u))
	require.Equal(t, 1, s.GlobalValueCount())

	g, err := s.Global("people")
	require.NoError(t, err)
	tbl, ok := g.(operand.Tabular)
	require.True(t, ok)
	require.NotNil(t, tbl.Table())
}

func TestSyncRegistryIsSharedAcrossSessions(t *testing.T) {
	mgr := newManager(t)
	a := mgr.NewSession()
	b := mgr.NewSession()

	key := vm.SyncKey{ProcedureID: "p", Index: 0}
	a.Acquire(key)

	done := make(chan struct{})
	go func() {
		b.Acquire(key)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("session b acquired a sync region session a still holds")
	default:
	}

	a.Release(key)
	<-done
	b.Release(key)
}
