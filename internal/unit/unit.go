// Package unit reads the compiled unit container of spec §3.4/§6.1: a
// signed header followed by a type-info area, a symbol area (globals then
// procedures), and an immutable constants blob. The compiler that produces
// these files is out of scope; this package only loads and validates them
// (spec §7.5: "the core loads precompiled units and rejects malformed ones
// with _EXTRA(0)").
//
// Binary layout follows the teacher's WAL file-format convention: a fixed
// header with named offsets, little-endian throughout, documented with an
// ASCII field table rather than scattered magic numbers.
package unit

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/whais-db/whais-core/internal/faults"
)

// ===========================================================================
// COMPILED UNIT FILE HEADER
// ===========================================================================
//
// Fixed 48 bytes, little-endian (spec §6.1):
//
// Offset  Size  Field
//   0      2    Magic "WO"
//   2      1    Format major
//   3      1    Format minor
//   4      1    Language major
//   5      1    Language minor
//   8      4    Globals count
//  12      4    Procedures count
//  16      4    Type info start offset
//  20      4    Type info size
//  24      4    Symbol table start
//  28      4    Symbol table size
//  32      4    Constants area start
//  36      4    Constants area size
//
// ===========================================================================

const HeaderSize = 48

// Magic identifies a valid compiled unit.
var Magic = [2]byte{'W', 'O'}

// Header is the fixed 48-byte prologue of a compiled unit file.
type Header struct {
	FormatMajor   uint8
	FormatMinor   uint8
	LanguageMajor uint8
	LanguageMinor uint8

	GlobalsCount    uint32
	ProceduresCount uint32

	TypeInfoOffset uint32
	TypeInfoSize   uint32
	SymbolOffset   uint32
	SymbolSize     uint32
	ConstantsOffset uint32
	ConstantsSize   uint32
}

// Global is one entry of the globals portion of the symbol area: (u16
// flags, u32 type_offset, null-terminated name).
type Global struct {
	Flags      uint16
	TypeOffset uint32
	Name       string
}

// GlobalExternal marks a global resolved against an existing name space
// rather than defined fresh by this unit (spec §4.7 step 2).
const GlobalExternal uint16 = 0x0001

// Procedure is one entry of the procedures portion of the symbol area.
type Procedure struct {
	Flags             uint16
	CodeOffset        uint32
	CodeSize          uint32
	LocalsCount       uint16
	ArgsCount         uint16
	SyncCount         uint16
	LocalsTypeOffsets []uint32
	Name              string
}

// ProcedureExternal marks a procedure that must be resolved against an
// already-loaded unit rather than bound to code in this one.
const ProcedureExternal uint16 = 0x0001

// Unit is a fully parsed compiled unit.
type Unit struct {
	Header     Header
	TypeInfo   []byte
	Globals    []Global
	Procedures []Procedure
	Constants  []byte

	code []byte // the whole unit file; CodeOffset is an absolute offset into it
}

// Code returns the unit's whole raw file bytes, which a Procedure's
// CodeOffset (an absolute file offset) and CodeSize address; the VM
// dispatch loop reads from these bytes.
func (u *Unit) Code() []byte { return u.code }

// Load parses a compiled unit from its raw file bytes.
func Load(data []byte) (*Unit, error) {
	if len(data) < HeaderSize {
		return nil, faults.Compiler("unit: file shorter than the %d-byte header", HeaderSize)
	}
	if !bytes.Equal(data[0:2], Magic[:]) {
		return nil, faults.Compiler("unit: bad magic, expected %q", string(Magic[:]))
	}

	le := binary.LittleEndian
	h := Header{
		FormatMajor:     data[2],
		FormatMinor:     data[3],
		LanguageMajor:   data[4],
		LanguageMinor:   data[5],
		GlobalsCount:    le.Uint32(data[8:12]),
		ProceduresCount: le.Uint32(data[12:16]),
		TypeInfoOffset:  le.Uint32(data[16:20]),
		TypeInfoSize:    le.Uint32(data[20:24]),
		SymbolOffset:    le.Uint32(data[24:28]),
		SymbolSize:      le.Uint32(data[28:32]),
		ConstantsOffset: le.Uint32(data[32:36]),
		ConstantsSize:   le.Uint32(data[36:40]),
	}

	typeInfo, err := slice(data, h.TypeInfoOffset, h.TypeInfoSize, "type info")
	if err != nil {
		return nil, err
	}
	symbols, err := slice(data, h.SymbolOffset, h.SymbolSize, "symbol table")
	if err != nil {
		return nil, err
	}
	constants, err := slice(data, h.ConstantsOffset, h.ConstantsSize, "constants")
	if err != nil {
		return nil, err
	}

	globals, procEnd, err := parseGlobals(symbols, h.GlobalsCount)
	if err != nil {
		return nil, err
	}
	procs, err := parseProcedures(symbols[procEnd:], h.ProceduresCount)
	if err != nil {
		return nil, err
	}

	return &Unit{
		Header:     h,
		TypeInfo:   typeInfo,
		Globals:    globals,
		Procedures: procs,
		Constants:  constants,
		code:       data,
	}, nil
}

func slice(data []byte, offset, size uint32, what string) ([]byte, error) {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(data)) {
		return nil, faults.Compiler("unit: %s area (offset %d size %d) exceeds file length %d", what, offset, size, len(data))
	}
	return data[offset:end], nil
}

func readCString(buf []byte) (string, int, error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", 0, faults.Compiler("unit: unterminated name in symbol table")
	}
	return string(buf[:i]), i + 1, nil
}

func parseGlobals(buf []byte, count uint32) ([]Global, int, error) {
	le := binary.LittleEndian
	globals := make([]Global, 0, count)
	pos := 0
	for i := uint32(0); i < count; i++ {
		if pos+6 > len(buf) {
			return nil, 0, faults.Compiler("unit: truncated global entry %d", i)
		}
		flags := le.Uint16(buf[pos : pos+2])
		typeOff := le.Uint32(buf[pos+2 : pos+6])
		pos += 6
		name, n, err := readCString(buf[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("unit: global %d: %w", i, err)
		}
		pos += n
		globals = append(globals, Global{Flags: flags, TypeOffset: typeOff, Name: name})
	}
	return globals, pos, nil
}

func parseProcedures(buf []byte, count uint32) ([]Procedure, error) {
	le := binary.LittleEndian
	procs := make([]Procedure, 0, count)
	pos := 0
	for i := uint32(0); i < count; i++ {
		if pos+16 > len(buf) {
			return nil, faults.Compiler("unit: truncated procedure entry %d", i)
		}
		flags := le.Uint16(buf[pos : pos+2])
		codeOff := le.Uint32(buf[pos+2 : pos+6])
		codeSize := le.Uint32(buf[pos+6 : pos+10])
		localsCount := le.Uint16(buf[pos+10 : pos+12])
		argsCount := le.Uint16(buf[pos+12 : pos+14])
		syncCount := le.Uint16(buf[pos+14 : pos+16])
		pos += 16

		localsTypes := make([]uint32, localsCount)
		for j := range localsTypes {
			if pos+4 > len(buf) {
				return nil, faults.Compiler("unit: truncated locals type offsets in procedure %d", i)
			}
			localsTypes[j] = le.Uint32(buf[pos : pos+4])
			pos += 4
		}

		name, n, err := readCString(buf[pos:])
		if err != nil {
			return nil, fmt.Errorf("unit: procedure %d: %w", i, err)
		}
		pos += n

		procs = append(procs, Procedure{
			Flags:             flags,
			CodeOffset:        codeOff,
			CodeSize:          codeSize,
			LocalsCount:       localsCount,
			ArgsCount:         argsCount,
			SyncCount:         syncCount,
			LocalsTypeOffsets: localsTypes,
			Name:              name,
		})
	}
	return procs, nil
}
