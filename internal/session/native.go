package session

import (
	"log/slog"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
)

// NativeProcedure is a host-implemented procedure body, invoked
// synchronously in place of a CALL into compiled bytecode (spec §4.6
// "Native (host-implemented) procedures share the same [frame] contract,
// executing synchronously").
type NativeProcedure func(args []operand.Operand) (operand.Operand, error)

// NativeEntry is one manifest entry: the argument count CALL needs to
// know before it can pop the right number of stack values off for Fn,
// plus the body itself.
type NativeEntry struct {
	ArgsCount int
	Fn        NativeProcedure
}

// NativeManifest is what a native/object library exports (spec §4.7
// "native library loading accepts a shared-library handle and expects
// an exported manifest listing the procedures to register").
//
// Go has no portable dlopen/dlsym equivalent for arbitrary third-party
// native code: the standard library's plugin package only works on
// Linux, demands an exact toolchain match between host and plugin
// binary, and cannot unload what it loads — and no example repo in this
// pack loads native code dynamically either. A NativeManifest is
// therefore supplied as Go values by the process embedding this core
// rather than resolved from a library path at runtime; the
// registration contract spec.md describes is honored in full, just
// without a dynamic-loading step this ecosystem has nothing idiomatic
// to offer for.
type NativeManifest struct {
	Name       string
	Procedures map[string]NativeEntry
}

// LoadNativeLibrary registers every procedure in manifest against this
// session's procedure namespace. A name already bound to a loaded
// unit's procedure, or to another native library, is rejected rather
// than silently shadowed.
func (s *Session) LoadNativeLibrary(manifest NativeManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range manifest.Procedures {
		if bp, exists := s.procedures[name]; exists && !bp.external {
			return faults.Database(faults.CodeBadParameters, "session: native library %q: procedure %q collides with a loaded unit's procedure", manifest.Name, name)
		}
		if _, exists := s.natives[name]; exists {
			return faults.Database(faults.CodeBadParameters, "session: native library %q: procedure %q already registered", manifest.Name, name)
		}
	}
	for name, entry := range manifest.Procedures {
		s.natives[name] = entry
	}
	slog.Info("native library loaded", "library", manifest.Name, "procedures", len(manifest.Procedures))
	return nil
}
