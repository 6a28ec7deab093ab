// Command wod dumps a compiled unit file the way the original
// wod_dump.cpp does: header fields, globals, procedures, and a
// disassembly listing (spec §6.3, §6.5 exit codes).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/vm"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Exit codes per spec §6.5: 0 success, 1 operational failure, 2
// configuration error, 3 I/O.
const (
	exitOK         = 0
	exitOperation  = 1
	exitConfig     = 2
	exitIO         = 3
)

func main() {
	root := &cobra.Command{
		Use:   "wod",
		Short: "Inspect compiled WHAIS units",
	}
	root.AddCommand(dumpCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitConfig)
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file>",
		Short: "Print header, globals, procedures, and disassembly of a compiled unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := runDump(args[0])
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}
}

func runDump(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wod: read %s: %v\n", path, err)
		return exitIO
	}

	u, err := unit.Load(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wod: load %s: %v\n", path, err)
		return exitOperation
	}

	printHeader(u)
	printGlobals(u)
	printProcedures(u)
	return exitOK
}

func printHeader(u *unit.Unit) {
	h := u.Header
	fmt.Printf("header:\n")
	fmt.Printf("  format        %d.%d\n", h.FormatMajor, h.FormatMinor)
	fmt.Printf("  language      %d.%d\n", h.LanguageMajor, h.LanguageMinor)
	fmt.Printf("  globals       %d\n", h.GlobalsCount)
	fmt.Printf("  procedures    %d\n", h.ProceduresCount)
	fmt.Printf("  type info     offset %d size %d\n", h.TypeInfoOffset, h.TypeInfoSize)
	fmt.Printf("  symbol table  offset %d size %d\n", h.SymbolOffset, h.SymbolSize)
	fmt.Printf("  constants     offset %d size %d\n", h.ConstantsOffset, h.ConstantsSize)
	fmt.Println()
}

func printGlobals(u *unit.Unit) {
	if len(u.Globals) == 0 {
		return
	}
	fmt.Printf("globals:\n")
	for i, g := range u.Globals {
		kind := describeType(u, g.TypeOffset)
		tag := ""
		if g.Flags&unit.GlobalExternal != 0 {
			tag = " (external)"
		}
		fmt.Printf("  [%d] %-20s %s%s\n", i, g.Name, kind, tag)
	}
	fmt.Println()
}

func printProcedures(u *unit.Unit) {
	for i, p := range u.Procedures {
		tag := ""
		if p.Flags&unit.ProcedureExternal != 0 {
			tag = " (external)"
		}
		fmt.Printf("procedure [%d] %s%s: %d args, %d locals, %d sync regions\n",
			i, p.Name, tag, p.ArgsCount, p.LocalsCount, p.SyncCount)
		if p.Flags&unit.ProcedureExternal != 0 {
			fmt.Println()
			continue
		}

		code := u.Code()
		if int(p.CodeOffset)+int(p.CodeSize) > len(code) {
			fmt.Printf("  <code range exceeds unit size>\n\n")
			continue
		}
		printDisasm(code[p.CodeOffset : p.CodeOffset+p.CodeSize])
		fmt.Println()
	}
}

func printDisasm(code []byte) {
	instrs, err := vm.Disassemble(code)
	for _, ins := range instrs {
		fmt.Printf("  %s\n", ins)
	}
	if err != nil {
		fmt.Printf("  <%v>\n", err)
	}
}

func describeType(u *unit.Unit, offset uint32) string {
	if int(offset) >= len(u.TypeInfo) {
		return "<type offset out of range>"
	}
	desc, _, err := wtypes.Decode(u.TypeInfo[offset:])
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return describeDescriptor(desc)
}

func describeDescriptor(d wtypes.Descriptor) string {
	switch {
	case d.IsTableRef:
		cols := make([]string, len(d.Columns))
		for i, c := range d.Columns {
			cols[i] = fmt.Sprintf("%s %s", c.Name, describeDescriptor(c.Type))
		}
		return fmt.Sprintf("TABLE(%v)", cols)
	case d.IsField:
		if d.IsArray {
			return fmt.Sprintf("FIELD OF ARRAY OF %s", d.Base)
		}
		return fmt.Sprintf("FIELD OF %s", d.Base)
	case d.IsArray:
		return fmt.Sprintf("ARRAY OF %s", d.Base)
	default:
		return d.Base.String()
	}
}
