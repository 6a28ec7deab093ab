// Package vlstore implements the variable-length backing store for
// TEXT/ARRAY payloads and oversized scalars (spec §4.2): a
// content-addressed-by-extent allocator with reference-counted extents,
// itself backed by a block cache over a granule-sized items-manager.
package vlstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/whais-db/whais-core/internal/blockcache"
	"github.com/whais-db/whais-core/internal/faults"
	"golang.org/x/sys/unix"
)

// ExtentID is the 64-bit logical id identifying an extent (spec §4.2).
type ExtentID uint64

// extentMeta tracks one live extent's granule range and reference count.
type extentMeta struct {
	firstGranule uint64
	granules     uint64
	size         uint64 // logical byte size, <= granules*granuleSize
	refCount     uint32
}

// Store is the variable-size store. Extents are allocated in units of
// granuleSize bytes; the store is itself backed by a block cache over
// an items-manager whose item size is that granule (spec §4.2).
type Store struct {
	mu sync.Mutex

	file        *os.File
	granuleSize uint64

	cache *blockcache.Cache

	extents  map[ExtentID]*extentMeta
	nextID   ExtentID
	freeList []granuleRange // free granule ranges in release order; adjacent ranges are not merged
}

type granuleRange struct {
	first, count uint64
}

// fileItemsManager adapts an *os.File into blockcache.ItemsManager at
// granule granularity.
type fileItemsManager struct {
	file        *os.File
	granuleSize uint64
}

func (m *fileItemsManager) RetrieveItems(buf []byte, base, count uint64) error {
	off := int64(base * m.granuleSize)
	n, err := m.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return err
	}
	// Short reads past EOF (e.g. freshly-grown file) are zero-filled;
	// everything else is a real I/O failure, returned above.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (m *fileItemsManager) StoreItems(buf []byte, base, count uint64) error {
	off := int64(base * m.granuleSize)
	_, err := m.file.WriteAt(buf, off)
	return err
}

// Open opens or creates the store file at path with the given granule
// size and block cache geometry.
func Open(path string, granuleSize uint64, blockSize uint64, maxBlocks int) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("vlstore: open %s: %w", path, err)
	}

	mgr := &fileItemsManager{file: f, granuleSize: granuleSize}
	cache, err := blockcache.New(mgr, granuleSize, blockSize, maxBlocks)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Store{
		file:        f,
		granuleSize: granuleSize,
		cache:       cache,
		extents:     make(map[ExtentID]*extentMeta),
		nextID:      1,
	}

	if err := s.loadIndex(path + ".idx"); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) granulesFor(size uint64) uint64 {
	return (size + s.granuleSize - 1) / s.granuleSize
}

// Allocate reserves storage for a new extent of the given byte size and
// returns its id with a reference count of 1 (spec §4.2 `allocate`).
func (s *Store) Allocate(size uint64) (ExtentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := s.granulesFor(size)
	first := s.takeGranulesLocked(needed)

	id := s.nextID
	s.nextID++
	s.extents[id] = &extentMeta{firstGranule: first, granules: needed, size: size, refCount: 1}
	return id, nil
}

func (s *Store) takeGranulesLocked(count uint64) uint64 {
	for i, r := range s.freeList {
		if r.count >= count {
			first := r.first
			if r.count == count {
				s.freeList = append(s.freeList[:i], s.freeList[i+1:]...)
			} else {
				s.freeList[i] = granuleRange{first: r.first + count, count: r.count - count}
			}
			return first
		}
	}
	// No free range large enough: grow past the current high-water mark.
	var hi uint64
	for _, e := range s.extents {
		if end := e.firstGranule + e.granules; end > hi {
			hi = end
		}
	}
	for _, r := range s.freeList {
		if end := r.first + r.count; end > hi {
			hi = end
		}
	}
	return hi
}

// Store writes bytes at offset within extentID (spec §4.2 `store`).
func (s *Store) Store(id ExtentID, offset uint64, data []byte) error {
	s.mu.Lock()
	meta, ok := s.extents[id]
	s.mu.Unlock()
	if !ok {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: unknown extent %d", id)
	}
	if offset+uint64(len(data)) > meta.granules*s.granuleSize {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: write past extent %d bounds", id)
	}

	base := meta.firstGranule*s.granuleSize + offset
	return s.writeBytesAt(base, data)
}

func (s *Store) writeBytesAt(base uint64, data []byte) error {
	granule := s.granuleSize
	for len(data) > 0 {
		itemID := base / granule
		within := base % granule

		item, err := s.cache.RetrieveItem(itemID)
		if err != nil {
			return err
		}
		n := copy(item.Bytes()[within:], data)
		item.MarkDirty()
		item.Release()

		data = data[n:]
		base += uint64(n)
	}
	return nil
}

// Read copies length bytes starting at offset within extentID into out
// (spec §4.2 `read`).
func (s *Store) Read(id ExtentID, offset, length uint64, out []byte) error {
	s.mu.Lock()
	meta, ok := s.extents[id]
	s.mu.Unlock()
	if !ok {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: unknown extent %d", id)
	}
	if offset+length > meta.size {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: read past extent %d logical size", id)
	}

	base := meta.firstGranule*s.granuleSize + offset
	granule := s.granuleSize
	remaining := out[:length]
	for len(remaining) > 0 {
		itemID := base / granule
		within := base % granule

		item, err := s.cache.RetrieveItem(itemID)
		if err != nil {
			return err
		}
		n := copy(remaining, item.Bytes()[within:])
		item.Release()

		remaining = remaining[n:]
		base += uint64(n)
	}
	return nil
}

// Truncate changes the logical size of extentID (spec §4.2 `truncate`).
// Growing within the already-allocated granules just adjusts the
// logical size; growing past it reallocates and copies.
func (s *Store) Truncate(id ExtentID, newSize uint64) error {
	s.mu.Lock()
	meta, ok := s.extents[id]
	s.mu.Unlock()
	if !ok {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: unknown extent %d", id)
	}

	if newSize <= meta.granules*s.granuleSize {
		s.mu.Lock()
		meta.size = newSize
		s.mu.Unlock()
		return nil
	}

	old := make([]byte, meta.size)
	if err := s.Read(id, 0, meta.size, old); err != nil {
		return err
	}

	s.mu.Lock()
	needed := s.granulesFor(newSize)
	newFirst := s.takeGranulesLocked(needed)
	s.freeList = append(s.freeList, granuleRange{first: meta.firstGranule, count: meta.granules})
	meta.firstGranule = newFirst
	meta.granules = needed
	meta.size = newSize
	s.mu.Unlock()

	return s.Store(id, 0, old)
}

// IncRef increments extentID's reference count (spec §4.2).
func (s *Store) IncRef(id ExtentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.extents[id]
	if !ok {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: unknown extent %d", id)
	}
	meta.refCount++
	return nil
}

// DecRef decrements extentID's reference count, deallocating it once it
// reaches zero (spec §4.2).
func (s *Store) DecRef(id ExtentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.extents[id]
	if !ok {
		return faults.Database(faults.CodeInvalidParameters, "vlstore: unknown extent %d", id)
	}
	meta.refCount--
	if meta.refCount == 0 {
		s.freeList = append(s.freeList, granuleRange{first: meta.firstGranule, count: meta.granules})
		delete(s.extents, id)
	}
	return nil
}

// RefCount returns the current reference count of extentID, used by the
// "variable-size refcount" property test (spec §8.1).
func (s *Store) RefCount(id ExtentID) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.extents[id]
	if !ok {
		return 0, false
	}
	return meta.refCount, true
}

// LiveExtents returns every extent id with a reference count > 0.
func (s *Store) LiveExtents() []ExtentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExtentID, 0, len(s.extents))
	for id := range s.extents {
		out = append(out, id)
	}
	return out
}

// Sync persists the free list and reference counts and fsyncs the data
// file (spec §4.2 `sync`).
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Flush(); err != nil {
		return err
	}
	if err := unix.Fdatasync(int(s.file.Fd())); err != nil {
		return fmt.Errorf("vlstore: fdatasync: %w", err)
	}
	return s.saveIndexLocked()
}

// Close flushes and closes the backing file.
func (s *Store) Close() error {
	if err := s.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// --- on-disk index (free list + extent table), little-endian binary ---

func (s *Store) saveIndexLocked() error {
	idxPath := s.file.Name() + ".idx"
	f, err := os.Create(idxPath)
	if err != nil {
		return fmt.Errorf("vlstore: create index %s: %w", idxPath, err)
	}
	defer f.Close()

	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(s.nextID))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(s.extents)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(s.freeList)))
	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}

	for id, meta := range s.extents {
		var rec [40]byte
		binary.LittleEndian.PutUint64(rec[0:8], uint64(id))
		binary.LittleEndian.PutUint64(rec[8:16], meta.firstGranule)
		binary.LittleEndian.PutUint64(rec[16:24], meta.granules)
		binary.LittleEndian.PutUint64(rec[24:32], meta.size)
		binary.LittleEndian.PutUint32(rec[32:36], meta.refCount)
		if _, err := f.Write(rec[:]); err != nil {
			return err
		}
	}

	for _, r := range s.freeList {
		var rec [16]byte
		binary.LittleEndian.PutUint64(rec[0:8], r.first)
		binary.LittleEndian.PutUint64(rec[8:16], r.count)
		if _, err := f.Write(rec[:]); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) loadIndex(idxPath string) error {
	data, err := os.ReadFile(idxPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("vlstore: read index %s: %w", idxPath, err)
	}
	if len(data) < 16 {
		return nil
	}

	s.nextID = ExtentID(binary.LittleEndian.Uint64(data[0:8]))
	extentCount := binary.LittleEndian.Uint32(data[8:12])
	freeCount := binary.LittleEndian.Uint32(data[12:16])

	off := 16
	for i := uint32(0); i < extentCount; i++ {
		if off+40 > len(data) {
			return fmt.Errorf("vlstore: truncated index %s", idxPath)
		}
		rec := data[off : off+40]
		id := ExtentID(binary.LittleEndian.Uint64(rec[0:8]))
		s.extents[id] = &extentMeta{
			firstGranule: binary.LittleEndian.Uint64(rec[8:16]),
			granules:     binary.LittleEndian.Uint64(rec[16:24]),
			size:         binary.LittleEndian.Uint64(rec[24:32]),
			refCount:     binary.LittleEndian.Uint32(rec[32:36]),
		}
		off += 40
	}

	for i := uint32(0); i < freeCount; i++ {
		if off+16 > len(data) {
			return fmt.Errorf("vlstore: truncated index %s", idxPath)
		}
		rec := data[off : off+16]
		s.freeList = append(s.freeList, granuleRange{
			first: binary.LittleEndian.Uint64(rec[0:8]),
			count: binary.LittleEndian.Uint64(rec[8:16]),
		})
		off += 16
	}

	return nil
}
