// Command wcmd is the interactive database shell: a registry of named
// commands consumes each line of input, an unregistered command prints a
// diagnostic and reports failure (spec §6.3), grounded on
// original_source/client/wcmd/wcmd_cmdsmgr.cpp's command table.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Exit codes per spec §6.5.
const (
	exitOK        = 0
	exitOperation = 1
	exitConfig    = 2
	exitIO        = 3
)

// cmdEntry mirrors the teacher's CmdEntry: a short description, an
// extended one shown by "help <name>", and the handler itself.
type cmdEntry struct {
	desc    string
	extDesc string
	run     func(sh *shell, args []string) error
}

var commands = map[string]cmdEntry{
	"help": {
		desc:    "Display help on available commands.",
		extDesc: "help [command]\n  With no argument, lists every registered command.",
		run:     cmdHelp,
	},
	"echo": {
		desc:    "Print the given text.",
		extDesc: "echo [text]...\n  Prints its arguments back, space-joined.",
		run:     cmdEcho,
	},
	"call": {
		desc:    "Invoke a registered procedure against the live session.",
		extDesc: "call <procedure> [int-arg]...\n  Pushes each argument as an INT64 scalar, issues EXECUTE, then reads back the INT64 result.",
		run:     cmdCall,
	},
}

type shell struct {
	out *bufio.Writer
	c   *client
}

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "wcmd",
		Short: "WHAIS interactive database shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			code := run(addr)
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:1761", "address of a running whaisd to connect to")

	if err := root.Execute(); err != nil {
		os.Exit(exitConfig)
	}
}

func run(addr string) int {
	c, err := dial(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wcmd: connect %s: %v\n", addr, err)
		return exitIO
	}
	defer c.Close()

	sh := &shell{out: bufio.NewWriter(os.Stdout), c: c}
	defer sh.out.Flush()

	scanner := bufio.NewScanner(os.Stdin)
	lastFailed := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastFailed = !dispatch(sh, line)
		sh.out.Flush()
	}
	if lastFailed {
		return exitOperation
	}
	return exitOK
}

// dispatch runs one command line, returning false (and printing a
// diagnostic) for an unrecognized command name, matching the teacher's
// "unknown command prints a diagnostic and returns non-zero" contract.
func dispatch(sh *shell, line string) bool {
	fields := strings.Fields(line)
	name := fields[0]
	entry, ok := commands[name]
	if !ok {
		fmt.Fprintf(sh.out, "Unknown command %q.\n", name)
		return false
	}
	if err := entry.run(sh, fields[1:]); err != nil {
		fmt.Fprintf(sh.out, "%v\n", err)
		return false
	}
	return true
}

func cmdHelp(sh *shell, args []string) error {
	if len(args) == 0 {
		for name, entry := range commands {
			fmt.Fprintf(sh.out, "%-10s %s\n", name, entry.desc)
		}
		return nil
	}
	entry, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	fmt.Fprintf(sh.out, "%s\n\n%s\n", args[0], entry.extDesc)
	return nil
}

func cmdEcho(sh *shell, args []string) error {
	fmt.Fprintln(sh.out, strings.Join(args, " "))
	return nil
}

// cmdCall pushes every argument as an INT64 scalar, runs EXECUTE, reads
// the INT64 result back, and pops the stack clean, exercising
// PUSH_STACK/UPDATE_STACK_TOP/EXECUTE/READ_SCALAR_STACK_TOP/POP_STACK in
// the one round-trip sequence a real client would make.
func cmdCall(sh *shell, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: call <procedure> [int-arg]...")
	}
	name := args[0]
	ints := make([]int64, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("call: argument %q is not an integer: %w", a, err)
		}
		ints = append(ints, v)
	}

	for _, v := range ints {
		if err := sh.c.pushInt64(v); err != nil {
			return err
		}
	}
	if err := sh.c.execute(name); err != nil {
		return err
	}
	result, err := sh.c.readInt64()
	if err != nil {
		return err
	}
	if err := sh.c.popN(1); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%d\n", result)
	return nil
}
