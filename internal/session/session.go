package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/operand"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Unit format/language versions this core understands (spec §4.7 step 1
// "validate signature and versions"). No compiler ships with this
// repository (spec's Non-goals), so these are simply the versions the
// unit reader/VM pair here were built against.
const (
	SupportedFormatMajor   uint8 = 1
	SupportedLanguageMajor uint8 = 1
)

// global is one entry of a session's private namespace (spec §4.7 step
// 2): either a plain value slot, or, for a TABLE-typed global, a handle
// onto the persistent table backing it.
type global struct {
	descriptor wtypes.Descriptor
	value      operand.Operand // nil when descriptor.IsTableRef
	table      *storage.Table
}

// boundProcedure is the (unit, local index) pair spec §4.7 step 3 says
// to register per procedure name. Resolution of an external entry
// against its real definition happens lazily, the first time some
// CALL's unit-local index actually points at it (see exec.go).
type boundProcedure struct {
	unit      *unit.Unit
	procIndex int
	external  bool
}

// Session holds the three name spaces of spec §4.7: the private
// namespace (globals and procedures resolved from loaded units), the
// loaded-units registry, and a reference to the manager's shared global/
// database namespace. A read-only "system" global namespace distinct
// from the private one is not separately modeled, since nothing in this
// core ships intrinsic globals beyond what a loaded unit itself defines.
type Session struct {
	ID uuid.UUID

	db  *storage.Database
	mgr *Manager

	mu         sync.RWMutex
	units      map[string]*unit.Unit
	globals    map[string]*global
	procedures map[string]*boundProcedure
	natives    map[string]NativeEntry
}

// LoadUnit validates u and registers its globals and procedures against
// this session's private namespace (spec §4.7 steps 1-3). name is the
// session-chosen handle used only for LoadUnit's own duplicate-load check
// and in its log and error messages; global/procedure names are
// unit-independent.
func (s *Session) LoadUnit(name string, u *unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.units[name]; exists {
		return faults.Database(faults.CodeBadParameters, "session: unit %q already loaded", name)
	}

	// Step 1.
	if u.Header.FormatMajor != SupportedFormatMajor {
		return faults.Compiler("session: unit %q: unsupported format version %d.%d", name, u.Header.FormatMajor, u.Header.FormatMinor)
	}
	if u.Header.LanguageMajor != SupportedLanguageMajor {
		return faults.Compiler("session: unit %q: unsupported language version %d.%d", name, u.Header.LanguageMajor, u.Header.LanguageMinor)
	}

	// Step 2.
	for _, g := range u.Globals {
		if err := s.bindGlobal(name, u, g); err != nil {
			return err
		}
	}

	// Step 3. A procedure's real (non-external) definition always wins
	// the name; an external forward-declaration only fills the slot if
	// nothing is bound yet, so loading the defining unit before or
	// after the declaring one gives the same result.
	for i, p := range u.Procedures {
		ext := p.Flags&unit.ProcedureExternal != 0
		if ext {
			if _, exists := s.procedures[p.Name]; exists {
				continue
			}
		}
		s.procedures[p.Name] = &boundProcedure{unit: u, procIndex: i, external: ext}
	}

	s.units[name] = u
	slog.Info("unit loaded", "unit", name, "globals", len(u.Globals), "procedures", len(u.Procedures))
	return nil
}

func (s *Session) bindGlobal(unitName string, u *unit.Unit, g unit.Global) error {
	desc, err := decodeGlobalType(u, g)
	if err != nil {
		return err
	}

	existing, ok := s.globals[g.Name]
	if g.Flags&unit.GlobalExternal != 0 {
		if !ok {
			return faults.Database(faults.CodeBadParameters, "session: unit %q: external global %q has no existing definition", unitName, g.Name)
		}
		if !descriptorsCompatible(existing.descriptor, desc) {
			return faults.Database(faults.CodeBadParameters, "session: unit %q: external global %q type mismatch", unitName, g.Name)
		}
		return nil
	}
	if ok {
		return faults.Database(faults.CodeBadParameters, "session: unit %q: global %q already defined", unitName, g.Name)
	}

	gl := &global{descriptor: desc}
	if desc.IsTableRef {
		cols := make([]storage.Column, len(desc.Columns))
		for i, c := range desc.Columns {
			cols[i] = storage.Column{Name: c.Name, Type: c.Type}
		}
		t, err := s.db.AddTable(g.Name, cols)
		if err != nil {
			// Another session against the same database handle may have
			// already created this global's backing table; bind to it
			// rather than fail the load (spec §4.7 only requires
			// "define a new slot backed by a persistent table", which a
			// pre-existing one already satisfies).
			t, err = s.db.Table(g.Name)
			if err != nil {
				return err
			}
		}
		gl.table = t
	} else {
		gl.value = operand.NewNull(desc.Base)
	}
	s.globals[g.Name] = gl
	return nil
}

func decodeGlobalType(u *unit.Unit, g unit.Global) (wtypes.Descriptor, error) {
	if int(g.TypeOffset) >= len(u.TypeInfo) {
		return wtypes.Descriptor{}, faults.Compiler("session: global %q: type offset %d out of range", g.Name, g.TypeOffset)
	}
	desc, _, err := wtypes.Decode(u.TypeInfo[g.TypeOffset:])
	if err != nil {
		return wtypes.Descriptor{}, faults.Compiler("session: global %q: %v", g.Name, err)
	}
	return desc, nil
}

// descriptorsCompatible reports whether two descriptors name the same
// shape closely enough for an external declaration to bind against an
// existing global (spec §4.7 "reject on mismatch"). Column order and
// names are compared for TABLE globals; everything else compares base
// kind plus the array/field flags.
func descriptorsCompatible(a, b wtypes.Descriptor) bool {
	if a.IsTableRef != b.IsTableRef || a.IsArray != b.IsArray || a.IsField != b.IsField {
		return false
	}
	if a.IsTableRef {
		if len(a.Columns) != len(b.Columns) {
			return false
		}
		for i := range a.Columns {
			if a.Columns[i].Name != b.Columns[i].Name || a.Columns[i].Type.Base != b.Columns[i].Type.Base {
				return false
			}
		}
		return true
	}
	return a.Base == b.Base
}

// Global returns the operand bound to a resolved global's current value
// (spec §4.7's private namespace). TABLE globals are returned as an
// operand.Table wrapping the backing table handle.
func (s *Session) Global(name string) (operand.Operand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.globals[name]
	if !ok {
		return nil, faults.Database(faults.CodeInvalidParameters, "session: no such global %q", name)
	}
	if g.descriptor.IsTableRef {
		return operand.NewTable(g.table), nil
	}
	return g.value, nil
}

// --- metadata queries (spec §4.7 "sufficient to answer wire-protocol
// introspection") ---------------------------------------------------------

// GlobalValueCount returns the number of resolved globals in the
// session's private namespace.
func (s *Session) GlobalValueCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.globals)
}

// ProcedureParametersCount returns a registered procedure's argument
// count.
func (s *Session) ProcedureParametersCount(name string) (int, error) {
	proc, _, err := s.lookupDefinedProcedure(name)
	if err != nil {
		return 0, err
	}
	return int(proc.ArgsCount), nil
}

// ProcedureLocalsCount returns a registered procedure's total local
// slot count (including its arguments and the return-value slot).
func (s *Session) ProcedureLocalsCount(name string) (int, error) {
	proc, _, err := s.lookupDefinedProcedure(name)
	if err != nil {
		return 0, err
	}
	return int(proc.LocalsCount), nil
}

// ProcedureSyncCount returns the number of sync regions a registered
// procedure declares.
func (s *Session) ProcedureSyncCount(name string) (int, error) {
	proc, _, err := s.lookupDefinedProcedure(name)
	if err != nil {
		return 0, err
	}
	return int(proc.SyncCount), nil
}

func (s *Session) lookupDefinedProcedure(name string) (*unit.Procedure, *unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.procedures[name]
	if !ok || bp.external {
		return nil, nil, faults.Database(faults.CodeInvalidParameters, "session: no definition for procedure %q", name)
	}
	return &bp.unit.Procedures[bp.procIndex], bp.unit, nil
}
