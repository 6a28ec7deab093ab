// Package blockcache implements the fixed-size item cache in front of
// an items-manager abstraction described in spec §4.1. It replaces the
// original's raw-pointer-plus-refcount block ownership (spec §9.1) with
// explicit borrow handles: a block cannot be evicted while any
// BorrowedItem referencing it is outstanding.
package blockcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/telemetry"
)

// ItemsManager is the lower-level abstraction the cache amortizes I/O
// against (spec §4.1 contract).
type ItemsManager interface {
	RetrieveItems(buf []byte, base, count uint64) error
	StoreItems(buf []byte, base, count uint64) error
}

type block struct {
	id      uint64
	data    []byte
	dirty   bool
	borrows int
	lruElem *list.Element
}

// Cache is a fixed-capacity block cache, LRU among unpinned blocks. All
// exported methods are safe for concurrent use (spec §4.1 Concurrency:
// "a single mutex around its bookkeeping maps plus per-block borrow
// counters").
type Cache struct {
	mu sync.Mutex

	manager       ItemsManager
	itemSize      uint64
	blockSize     uint64
	itemsPerBlock uint64
	maxBlocks     int

	blocks map[uint64]*block
	lru    *list.List // front = most recently touched
}

// New initializes a Cache. If blockSize < itemSize it is rounded up to
// itemSize (spec §4.1).
func New(manager ItemsManager, itemSize, blockSize uint64, maxBlocks int) (*Cache, error) {
	if itemSize == 0 || maxBlocks <= 0 {
		return nil, faults.Database(faults.CodeInvalidParameters, "blockcache: itemSize and maxBlocks must be positive")
	}
	if blockSize < itemSize {
		blockSize = itemSize
	}

	return &Cache{
		manager:       manager,
		itemSize:      itemSize,
		blockSize:     blockSize,
		itemsPerBlock: blockSize / itemSize,
		maxBlocks:     maxBlocks,
		blocks:        make(map[uint64]*block),
		lru:           list.New(),
	}, nil
}

func (c *Cache) blockIDFor(itemID uint64) uint64 { return itemID / c.itemsPerBlock }
func (c *Cache) offsetFor(itemID uint64) uint64  { return (itemID % c.itemsPerBlock) * c.itemSize }

// BorrowedItem is a live reference into a cached block. While borrowed,
// the block cannot be evicted. The dirty flag lives on the block, not
// the handle (spec §9.1).
type BorrowedItem struct {
	cache   *Cache
	blockID uint64
	offset  uint64
}

// Bytes returns the item's bytes within its cached block. The slice is
// only valid until Release is called.
func (b *BorrowedItem) Bytes() []byte {
	blk := b.cache.blocks[b.blockID]
	return blk.data[b.offset : b.offset+b.cache.itemSize]
}

// MarkDirty flags the containing block for write-back.
func (b *BorrowedItem) MarkDirty() {
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	if blk, ok := b.cache.blocks[b.blockID]; ok {
		blk.dirty = true
	}
}

// Release returns the borrow token, allowing the block to be evicted
// once no other borrows remain.
func (b *BorrowedItem) Release() {
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	if blk, ok := b.cache.blocks[b.blockID]; ok {
		blk.borrows--
	}
}

// RetrieveItem returns a live reference into the cached block containing
// item itemID (spec §4.1).
func (c *Cache) RetrieveItem(itemID uint64) (*BorrowedItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bid := c.blockIDFor(itemID)
	blk, ok := c.blocks[bid]
	if !ok {
		telemetry.RecordBlockCacheMiss(context.Background())
		var err error
		blk, err = c.loadBlockLocked(bid)
		if err != nil {
			return nil, err
		}
	} else {
		telemetry.RecordBlockCacheHit(context.Background())
		c.lru.MoveToFront(blk.lruElem)
	}

	blk.borrows++

	return &BorrowedItem{cache: c, blockID: bid, offset: c.offsetFor(itemID)}, nil
}

func (c *Cache) loadBlockLocked(bid uint64) (*block, error) {
	if len(c.blocks) >= c.maxBlocks {
		if err := c.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, c.blockSize)
	if err := c.manager.RetrieveItems(buf, bid*c.itemsPerBlock, c.itemsPerBlock); err != nil {
		return nil, fmt.Errorf("blockcache: retrieve block %d: %w", bid, err)
	}

	blk := &block{id: bid, data: buf}
	blk.lruElem = c.lru.PushFront(blk)
	c.blocks[bid] = blk
	return blk, nil
}

// evictOneLocked scans from the back of the LRU list for any non-pinned
// block and evicts it, flushing first if dirty (spec §4.1 Eviction).
// The contract requires only progress: any unpinned block is an
// acceptable victim.
func (c *Cache) evictOneLocked() error {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		blk := e.Value.(*block)
		if blk.borrows != 0 {
			continue
		}
		if blk.dirty {
			if err := c.writeBackLocked(blk); err != nil {
				return err
			}
		}
		c.lru.Remove(e)
		delete(c.blocks, blk.id)
		return nil
	}
	return faults.Database(faults.CodeGeneralControl, "blockcache: no unpinned block available for eviction")
}

func (c *Cache) writeBackLocked(blk *block) error {
	if err := c.manager.StoreItems(blk.data, blk.id*c.itemsPerBlock, c.itemsPerBlock); err != nil {
		return fmt.Errorf("blockcache: store block %d: %w", blk.id, err)
	}
	blk.dirty = false
	return nil
}

// FlushItem writes back the block containing itemID if dirty (spec §4.1).
func (c *Cache) FlushItem(itemID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	blk, ok := c.blocks[c.blockIDFor(itemID)]
	if !ok || !blk.dirty {
		return nil
	}
	return c.writeBackLocked(blk)
}

// RefreshItem re-reads the block containing itemID. Asserts the block
// was not dirty (spec §4.1).
func (c *Cache) RefreshItem(itemID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bid := c.blockIDFor(itemID)
	blk, ok := c.blocks[bid]
	if !ok {
		return nil
	}
	if blk.dirty {
		return faults.Database(faults.CodeGeneralControl, "blockcache: refresh of dirty block %d", bid)
	}
	return c.manager.RetrieveItems(blk.data, bid*c.itemsPerBlock, c.itemsPerBlock)
}

// Flush flushes every cached dirty block (spec §4.1).
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, blk := range c.blocks {
		if blk.dirty {
			if err := c.writeBackLocked(blk); err != nil {
				return err
			}
		}
	}
	return nil
}
