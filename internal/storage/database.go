package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/whais-db/whais-core/internal/faults"
)

// Database is the catalog of live and temporary tables a session talks to
// (spec §3.3 lifecycle, §4.7's "private namespace"). It generalizes the
// teacher's Registry (one map of loaded tables behind a single RWMutex)
// down from a directory-per-database-name cache to the single catalog a
// running server holds open.
type Database struct {
	mu sync.RWMutex

	workDir string
	tempDir string
	params  StoreParams

	tables map[string]*Table
	temp   map[string]*Table
}

// Open creates a Database rooted at workDir (persistent tables) and
// tempDir (temporary tables' variable-length stores, spec §6.4 temp_dir).
func Open(workDir, tempDir string, params StoreParams) (*Database, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, faults.IO("storage: create work dir %s: %v", workDir, err)
	}
	return &Database{
		workDir: workDir,
		tempDir: tempDir,
		params:  params,
		tables:  make(map[string]*Table),
		temp:    make(map[string]*Table),
	}, nil
}

// AddTable creates and registers a new persistent table (spec §3.3).
func (d *Database) AddTable(name string, columns []Column) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tables[name]; exists {
		return nil, faults.Database(faults.CodeBadParameters, "storage: table %q already exists", name)
	}
	t, err := NewTable(d.workDir, name, columns, d.params, false)
	if err != nil {
		return nil, err
	}
	d.tables[name] = t
	slog.Info("table registered", "table", name)
	return t, nil
}

// AddTempTable creates a session-scoped table backed by tempDir (spec
// §3.3 "Temporary tables live for the duration of the session").
func (d *Database) AddTempTable(name string, columns []Column) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.temp[name]; exists {
		return nil, faults.Database(faults.CodeBadParameters, "storage: temp table %q already exists", name)
	}
	t, err := NewTable(d.tempDir, name, columns, d.params, true)
	if err != nil {
		return nil, err
	}
	d.temp[name] = t
	return t, nil
}

// Table looks up a persistent or temporary table by name.
func (d *Database) Table(name string) (*Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t, ok := d.tables[name]; ok {
		return t, nil
	}
	if t, ok := d.temp[name]; ok {
		return t, nil
	}
	return nil, faults.Database(faults.CodeTableNotFound, "storage: no such table %q", name)
}

// DeleteTable removes a persistent table and releases its backing store;
// spec §3.3 requires no live references remain, which here means the
// caller has already released every operand/index handle on it.
func (d *Database) DeleteTable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[name]
	if !ok {
		return faults.Database(faults.CodeTableNotFound, "storage: no such table %q", name)
	}
	if err := t.Close(); err != nil {
		return err
	}
	delete(d.tables, name)
	path := filepath.Join(d.workDir, name+".vl")
	_ = os.Remove(path)
	_ = os.Remove(path + ".idx")
	slog.Info("table deleted", "table", name)
	return nil
}

// DropTempTable releases a temporary table and its backing store.
func (d *Database) DropTempTable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.temp[name]
	if !ok {
		return nil
	}
	if err := t.Close(); err != nil {
		return err
	}
	delete(d.temp, name)
	return nil
}

// Sync flushes every persistent table's variable-length store (spec §5
// sync points).
func (d *Database) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.tables {
		if err := t.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every table's resources.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tables {
		_ = t.Close()
	}
	for _, t := range d.temp {
		_ = t.Close()
	}
	return nil
}
