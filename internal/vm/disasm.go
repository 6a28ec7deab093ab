package vm

import (
	"encoding/binary"
	"fmt"
)

// Instruction is one decoded opcode plus its immediate bytes, as found by
// Disassemble. Offset is relative to the start of the procedure's code
// slice, matching the PC values Frame.PC walks during execution.
type Instruction struct {
	Offset uint32
	Op     Opcode
	Imm    []byte
}

// operandWidth returns the number of immediate bytes op consumes, mirroring
// the read calls Machine.step makes for that opcode. Opcodes that only
// pop/push existing stack operands (stores, arithmetic, comparisons,
// self-ops, indexing) take no immediate.
func operandWidth(op Opcode) int {
	switch op {
	case LDNULL, LDI8, LDLO8, LDGB8:
		return 1
	case LDI16, LDLO16, LDGB16, CTS, BSYNC, ESYNC:
		return 2
	case CARR:
		return 3
	case LDC, LDI32, LDLO32, LDGB32, LDT, LDD, CALL, JF, JT, JFC, JTC, JMP:
		return 4
	case LDI64:
		return 8
	case LDDT:
		return 7
	case LDHT:
		return 11
	case LDRR:
		return 17
	default:
		return 0
	}
}

// Disassemble decodes code one opcode at a time, stopping at the first
// malformed or truncated opcode (the well-formedness unit.Load already
// checked for the container around it; a broken code stream inside is
// reported rather than panicking).
func Disassemble(code []byte) ([]Instruction, error) {
	var out []Instruction
	pc := uint32(0)
	for int(pc) < len(code) {
		op, n, err := DecodeOp(code[pc:])
		if err != nil {
			return out, fmt.Errorf("vm: disassemble at offset %d: %w", pc, err)
		}
		width := operandWidth(op)
		start := int(pc) + n
		end := start + width
		if end > len(code) {
			return out, fmt.Errorf("vm: disassemble at offset %d: %s truncated, want %d immediate bytes", pc, op, width)
		}
		out = append(out, Instruction{Offset: pc, Op: op, Imm: code[start:end]})
		pc = uint32(end)
	}
	return out, nil
}

// String renders one instruction as "OFFSET  MNEMONIC  hex-immediate",
// the one-opcode-per-line format the dump tool prints.
func (ins Instruction) String() string {
	if len(ins.Imm) == 0 {
		return fmt.Sprintf("%6d  %s", ins.Offset, ins.Op)
	}
	return fmt.Sprintf("%6d  %-8s %s", ins.Offset, ins.Op, hexImm(ins.Imm))
}

func hexImm(b []byte) string {
	s := make([]byte, 0, len(b)*2)
	const hexDigits = "0123456789abcdef"
	for _, c := range b {
		s = append(s, hexDigits[c>>4], hexDigits[c&0xf])
	}
	return string(s)
}

// immAsUint32 reports the little-endian uint32 value of a 4-byte
// immediate, used by callers that want CALL's procedure index or a jump's
// target offset rather than the raw hex dump.
func immAsUint32(imm []byte) (uint32, bool) {
	if len(imm) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(imm), true
}
