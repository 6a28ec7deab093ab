// Package vm implements the bytecode interpreter of spec §3.5/§4.6: a
// stack machine that executes one compiled procedure's code segment
// against a shared per-execution operand stack, dispatching on the
// opcode byte with a single switch statement (Machine.step).
package vm

// Opcode is the one-byte instruction tag of spec §4.6 (grounded on the
// original compiler's enum W_OPCODE in wopcodes.h; names and order are
// preserved so the opcode table below reads the same as the reference
// enum, minus the W_ prefix).
type Opcode uint8

const (
	NA Opcode = iota // invalid opcode

	LDNULL
	LDC
	LDI8
	LDI16
	LDI32
	LDI64
	LDD
	LDDT
	LDHT
	LDRR
	LDT
	LDBT
	LDBF
	LDLO8
	LDLO16
	LDLO32
	LDGB8
	LDGB16
	LDGB32

	CTS

	STB
	STC
	STD
	STDT
	STHT
	STI8
	STI16
	STI32
	STI64
	STR
	STRR
	STT
	STUI8
	STUI16
	STUI32
	STUI64
	STTA
	STF
	STA
	STUD

	INULL
	NNULL

	CALL
	RET

	ADD
	ADDRR
	ADDT

	AND
	ANDB

	DIV
	DIVU
	DIVRR

	EQ
	EQB
	EQC
	EQD
	EQDT
	EQHT
	EQRR
	EQT

	GE
	GEU
	GEC
	GED
	GEDT
	GEHT
	GERR

	GT
	GTU
	GTC
	GTD
	GTDT
	GTHT
	GTRR

	LE
	LEU
	LEC
	LED
	LEDT
	LEHT
	LERR

	LT
	LTU
	LTC
	LTD
	LTDT
	LTHT
	LTRR

	MOD
	MODU

	MUL
	MULU
	MULRR

	NE
	NEB
	NEC
	NED
	NEDT
	NEHT
	NERR
	NET

	NOT
	NOTB

	OR
	ORB

	SUB
	SUBRR

	XOR
	XORB

	JF
	JFC
	JT
	JTC
	JMP

	INDT
	INDA
	INDF
	INDTA
	SELF

	BSYNC
	ESYNC

	SADD
	SADDRR
	SADDC
	SADDT

	SSUB
	SSUBRR

	SMUL
	SMULU
	SMULRR

	SDIV
	SDIVU
	SDIVRR

	SMOD
	SMODU

	SAND
	SANDB

	SXOR
	SXORB

	SOR
	SORB

	ITF
	ITL
	ITN
	ITP
	ITOFF
	FID

	CARR

	AJOIN
	AFOUT
	AFIN

	opEndMark // W_OP_END_MARK: one past the last valid opcode
)

// LDRRPrecision is the fixed-point scale of the RICHREAL wire/immediate
// encoding (spec §3.1); it equals wtypes.Precision and is kept here too
// since it is an opcode-immediate-layout constant, not a type constant.
const LDRRPrecision = 1_000_000_000_000_000_000

// CarrFromField is the CARR immediate's flag bit: the array is to be
// built by reading a field column rather than N stacked scalars.
const CarrFromField = 0x80

var opcodeNames = map[Opcode]string{
	NA: "NA", LDNULL: "LDNULL", LDC: "LDC", LDI8: "LDI8", LDI16: "LDI16",
	LDI32: "LDI32", LDI64: "LDI64", LDD: "LDD", LDDT: "LDDT", LDHT: "LDHT",
	LDRR: "LDRR", LDT: "LDT", LDBT: "LDBT", LDBF: "LDBF", LDLO8: "LDLO8",
	LDLO16: "LDLO16", LDLO32: "LDLO32", LDGB8: "LDGB8", LDGB16: "LDGB16",
	LDGB32: "LDGB32", CTS: "CTS", STB: "STB", STC: "STC", STD: "STD",
	STDT: "STDT", STHT: "STHT", STI8: "STI8", STI16: "STI16", STI32: "STI32",
	STI64: "STI64", STR: "STR", STRR: "STRR", STT: "STT", STUI8: "STUI8",
	STUI16: "STUI16", STUI32: "STUI32", STUI64: "STUI64", STTA: "STTA",
	STF: "STF", STA: "STA", STUD: "STUD", INULL: "INULL", NNULL: "NNULL",
	CALL: "CALL", RET: "RET", ADD: "ADD", ADDRR: "ADDRR", ADDT: "ADDT",
	AND: "AND", ANDB: "ANDB", DIV: "DIV", DIVU: "DIVU", DIVRR: "DIVRR",
	EQ: "EQ", EQB: "EQB", EQC: "EQC", EQD: "EQD", EQDT: "EQDT", EQHT: "EQHT",
	EQRR: "EQRR", EQT: "EQT", GE: "GE", GEU: "GEU", GEC: "GEC", GED: "GED",
	GEDT: "GEDT", GEHT: "GEHT", GERR: "GERR", GT: "GT", GTU: "GTU", GTC: "GTC",
	GTD: "GTD", GTDT: "GTDT", GTHT: "GTHT", GTRR: "GTRR", LE: "LE", LEU: "LEU",
	LEC: "LEC", LED: "LED", LEDT: "LEDT", LEHT: "LEHT", LERR: "LERR", LT: "LT",
	LTU: "LTU", LTC: "LTC", LTD: "LTD", LTDT: "LTDT", LTHT: "LTHT", LTRR: "LTRR",
	MOD: "MOD", MODU: "MODU", MUL: "MUL", MULU: "MULU", MULRR: "MULRR",
	NE: "NE", NEB: "NEB", NEC: "NEC", NED: "NED", NEDT: "NEDT", NEHT: "NEHT",
	NERR: "NERR", NET: "NET", NOT: "NOT", NOTB: "NOTB", OR: "OR", ORB: "ORB",
	SUB: "SUB", SUBRR: "SUBRR", XOR: "XOR", XORB: "XORB", JF: "JF", JFC: "JFC",
	JT: "JT", JTC: "JTC", JMP: "JMP", INDT: "INDT", INDA: "INDA", INDF: "INDF",
	INDTA: "INDTA", SELF: "SELF", BSYNC: "BSYNC", ESYNC: "ESYNC", SADD: "SADD",
	SADDRR: "SADDRR", SADDC: "SADDC", SADDT: "SADDT", SSUB: "SSUB",
	SSUBRR: "SSUBRR", SMUL: "SMUL", SMULU: "SMULU", SMULRR: "SMULRR",
	SDIV: "SDIV", SDIVU: "SDIVU", SDIVRR: "SDIVRR", SMOD: "SMOD", SMODU: "SMODU",
	SAND: "SAND", SANDB: "SANDB", SXOR: "SXOR", SXORB: "SXORB", SOR: "SOR",
	SORB: "SORB", ITF: "ITF", ITL: "ITL", ITN: "ITN", ITP: "ITP", ITOFF: "ITOFF",
	FID: "FID", CARR: "CARR", AJOIN: "AJOIN", AFOUT: "AFOUT", AFIN: "AFIN",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "UNKNOWN"
}

// DecodeOp reads the one-byte opcode at the front of instrs, mirroring
// wh_compiler_decode_op (opcodes are never more than one byte).
func DecodeOp(instrs []byte) (Opcode, int, error) {
	if len(instrs) < 1 {
		return NA, 0, errShortRead("opcode")
	}
	return Opcode(instrs[0]), 1, nil
}
