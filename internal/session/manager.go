// Package session implements spec §4.7: the namespace holder that loads
// compiled units, resolves globals and procedures, and runs
// execute_procedure against the bytecode VM. It supplies the two
// interfaces internal/vm needs injected into Run: Caller (CALL
// delegation, resolving a unit-local procedure index to either a
// recursive VM call or a native dispatch) and Syncs (the database-wide
// BSYNC/ESYNC mutual exclusion spec §5 describes).
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/telemetry"
	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/vm"
)

// Manager owns everything spec §5 says is genuinely shared across
// concurrent sessions against one database: the table catalog and the
// sync-region registry. A running server constructs one Manager and
// calls NewSession once per accepted connection (spec §5 "Multiple OS
// threads serve independent sessions in parallel... Cross-session
// sharing occurs only via the shared database handle").
type Manager struct {
	db    *storage.Database
	syncs *SyncRegistry

	// boot holds (name, unit) pairs every new session loads automatically,
	// the server-side equivalent of the "object libraries" spec §6.4's
	// configuration key names: a server operator points whaisd at a set
	// of compiled units once, and every connecting client sees their
	// procedures already registered rather than having to push them over
	// the wire, which §4.8's command set has no LOAD_UNIT frame for.
	boot []bootUnit
}

type bootUnit struct {
	name string
	u    *unit.Unit
}

// NewManager wraps an already-open database handle.
func NewManager(db *storage.Database) *Manager {
	return &Manager{db: db, syncs: newSyncRegistry()}
}

// AddBootUnit registers a compiled unit to be loaded into every session
// this manager creates from now on, under the given name (spec §4.7's
// "loaded-units registry" is per-session; this is what seeds it before a
// client issues its first EXECUTE).
func (m *Manager) AddBootUnit(name string, u *unit.Unit) {
	m.boot = append(m.boot, bootUnit{name: name, u: u})
}

// NewSession opens a fresh session against the manager's database,
// sharing its sync registry but starting with empty, private
// loaded-units/globals/procedures name spaces (spec §4.7), then loading
// every boot unit registered via AddBootUnit.
func (m *Manager) NewSession() *Session {
	s := &Session{
		ID:         uuid.New(),
		db:         m.db,
		mgr:        m,
		units:      make(map[string]*unit.Unit),
		globals:    make(map[string]*global),
		procedures: make(map[string]*boundProcedure),
		natives:    make(map[string]NativeEntry),
	}
	for _, b := range m.boot {
		if err := s.LoadUnit(b.name, b.u); err != nil {
			slog.Error("failed to load boot unit into new session", "unit", b.name, "session", s.ID, "error", err)
		}
	}
	return s
}

// SyncRegistry is the database-wide mutual-exclusion registry behind
// BSYNC/ESYNC (spec §5 "a procedure's sync regions serialize all callers
// across sessions... database-wide critical sections keyed by
// (procedure_id, sync_index)"). Every Session opened from the same
// Manager shares one registry, so two sessions contending for the same
// (procedure, sync index) pair genuinely block each other.
type SyncRegistry struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[vm.SyncKey]bool
}

func newSyncRegistry() *SyncRegistry {
	r := &SyncRegistry{held: make(map[vm.SyncKey]bool)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Acquire blocks until key is free, then marks it held. Re-entrant
// acquisition by the same call chain is rejected earlier, inside the VM
// itself (Frame.heldSyncs), before this is ever reached — a real
// Acquire here would otherwise deadlock a procedure calling itself
// across a sync region.
func (r *SyncRegistry) Acquire(key vm.SyncKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[key] {
		telemetry.RecordSyncContention(context.Background())
	}
	for r.held[key] {
		r.cond.Wait()
	}
	r.held[key] = true
}

func (r *SyncRegistry) Release(key vm.SyncKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, key)
	r.cond.Broadcast()
}
