// Package recordmgr is the single owner of mavi's backing file: it opens
// and recovers the dual-slot header, drives PageIO, bootstraps the
// tree-of-trees (BoB) and copied-pages-tree (CPB), and hands out the write
// and read transactions everything else (btree, a caller's own trees)
// operates through. Grounded on the teacher's pkg/turdb.DB +
// pkg/pager.Pager split — recordmgr plays both roles at once, since mavi's
// page cache and free list live below the B+tree layer rather than below a
// SQL engine (spec.md §9).
package recordmgr

import (
	"os"
	"sync"

	"mavi/btree"
	"mavi/pageio"
	"mavi/txn"
)

// treeEntry is the record manager's cached view of a tree's most recently
// committed Info/Header pair, used to answer Tree lookups without
// rescanning BoB.
type treeEntry struct {
	info   btree.Info
	header btree.Header
}

// RecordManager owns the backing file, the current durable header, and the
// bookkeeping needed to serialize writers and track active readers.
type RecordManager struct {
	mu       sync.Mutex // single-writer lock, held for the lifetime of a WriteTxn
	path     string
	lockFile *os.File
	storage  pageio.Storage
	pio      *pageio.PageIO
	loader   *pageLoader
	readOnly bool

	headerMu   sync.RWMutex
	header     Header
	activeSlot int

	readersMu    sync.Mutex
	readerCounts map[uint64]int

	treesMu sync.Mutex
	trees   map[string]*treeEntry
	bob     *btree.BTree
	cpb     *btree.BTree

	// pendingMetaReclaim holds CPB's own superseded pages from the most
	// recent commit that mutated CPB, deferred one revision to break the
	// self-reference cycle described in DESIGN.md / spec.md §9.
	pendingMetaReclaim []uint64

	closed bool
}

// Open opens or creates the database file at path. A brand-new file is
// initialized with an empty header at generation 0; an existing file is
// recovered per spec.md §4.9 by picking the intact header slot with the
// higher generation.
func Open(path string, opts Options) (*RecordManager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	cacheSize := opts.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	var lf *os.File
	if !opts.ReadOnly {
		var err error
		lf, err = os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		if err := lockFile(lf); err != nil {
			lf.Close()
			return nil, err
		}
	}

	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	storage, err := pageio.OpenMmapFile(path, int64(2*pageSize))
	if err != nil {
		releaseLock(lf)
		return nil, err
	}

	rm := &RecordManager{
		path:         path,
		lockFile:     lf,
		storage:      storage,
		readOnly:     opts.ReadOnly,
		readerCounts: make(map[uint64]int),
		trees:        make(map[string]*treeEntry),
	}

	if isNew {
		rm.header = Header{
			PageSize:     uint32(pageSize),
			BoBOffset:    pageio.NoPage,
			CPBOffset:    pageio.NoPage,
			FreeListHead: pageio.NoPage,
			EOF:          uint64(2 * pageSize),
		}
		rm.activeSlot = 0
		if err := rm.writeHeaderSlot(0, rm.header); err != nil {
			storage.Close()
			releaseLock(lf)
			return nil, err
		}
		if err := rm.writeHeaderSlot(1, rm.header); err != nil {
			storage.Close()
			releaseLock(lf)
			return nil, err
		}
		if err := storage.Sync(); err != nil {
			storage.Close()
			releaseLock(lf)
			return nil, err
		}
	} else {
		h, slot, err := rm.recoverHeader(pageSize)
		if err != nil {
			storage.Close()
			releaseLock(lf)
			return nil, err
		}
		rm.header = h
		rm.activeSlot = slot
	}

	pio, err := pageio.Open(rm.storage, int(rm.header.PageSize), rm.header.FreeListHead, cacheSize)
	if err != nil {
		storage.Close()
		releaseLock(lf)
		return nil, err
	}
	rm.pio = pio
	rm.loader = &pageLoader{pio: pio}

	if !isNew {
		// Discard anything written past the last durable commit's eof —
		// the tail of an interrupted write (spec.md §4.9).
		if err := rm.pio.Truncate(int64(rm.header.EOF)); err != nil {
			storage.Close()
			releaseLock(lf)
			return nil, err
		}
	}

	if opts.MemoryBudget > 0 {
		budget := pageio.NewMemoryBudget(opts.MemoryBudget)
		if opts.PressureThreshold > 0 {
			budget.SetPressureThreshold(opts.PressureThreshold)
		}
		if opts.OnPressure != nil {
			budget.OnPressure(opts.OnPressure)
		}
		rm.pio.Cache().SetBudget(budget)
	}

	if err := rm.loadMetaTrees(); err != nil {
		storage.Close()
		releaseLock(lf)
		return nil, err
	}

	return rm, nil
}

func releaseLock(lf *os.File) {
	if lf == nil {
		return
	}
	unlockFile(lf)
	lf.Close()
}

func (rm *RecordManager) recoverHeader(guessPageSize int) (Header, int, error) {
	buf0 := rm.storage.Slice(0, headerEncodedSize)
	var h0 Header
	var err0 error
	if buf0 != nil {
		h0, err0 = decodeHeaderSlot(buf0)
	} else {
		err0 = &CorruptionError{Slot: 0, Reason: "short file"}
	}

	slot1Offset := guessPageSize
	if err0 == nil {
		slot1Offset = int(h0.PageSize)
	}
	buf1 := rm.storage.Slice(slot1Offset, headerEncodedSize)
	var h1 Header
	var err1 error
	if buf1 != nil {
		h1, err1 = decodeHeaderSlot(buf1)
	} else {
		err1 = &CorruptionError{Slot: 1, Reason: "short file"}
	}

	switch {
	case err0 == nil && err1 == nil:
		if h1.Generation > h0.Generation {
			return h1, 1, nil
		}
		return h0, 0, nil
	case err0 == nil:
		return h0, 0, nil
	case err1 == nil:
		return h1, 1, nil
	default:
		return Header{}, 0, ErrHeaderCorrupt
	}
}

func (rm *RecordManager) writeHeaderSlot(slot int, h Header) error {
	offset := 0
	if slot == 1 {
		offset = int(h.PageSize)
	}
	need := int64(offset) + int64(headerEncodedSize)
	if rm.storage.Size() < need {
		if err := rm.storage.Grow(need); err != nil {
			return err
		}
	}
	buf := rm.storage.Slice(offset, headerEncodedSize)
	if buf == nil {
		return ErrShortHeaderSlot
	}
	copy(buf, h.encode())
	return nil
}

// loadMetaTrees reconstructs rm.bob/rm.cpb from the recovered header (if
// they exist yet) and rebuilds the name -> latest-header cache by scanning
// every BoB entry once.
func (rm *RecordManager) loadMetaTrees() error {
	if rm.header.BoBOffset != pageio.NoPage {
		hdr, info, err := rm.readTreeHeader(rm.header.BoBOffset)
		if err != nil {
			return err
		}
		bt, err := btree.Open(info, hdr)
		if err != nil {
			return err
		}
		rm.bob = bt
	}
	if rm.header.CPBOffset != pageio.NoPage {
		hdr, info, err := rm.readTreeHeader(rm.header.CPBOffset)
		if err != nil {
			return err
		}
		bt, err := btree.Open(info, hdr)
		if err != nil {
			return err
		}
		rm.cpb = bt
	}
	if rm.bob == nil {
		return nil
	}

	src := txn.NewReadContext(rm.loader, rm.header.Revision)
	cur, err := rm.bob.Browse(src, nil)
	if err != nil {
		return err
	}
	latest := make(map[string]uint64)
	for cur.Valid() {
		name, _, err := decodeBoBKey(cur.Key())
		if err != nil {
			return err
		}
		off, err := decodeUint64(cur.Value())
		if err != nil {
			return err
		}
		latest[name] = off
		if err := cur.Next(); err != nil {
			return err
		}
	}
	for name, off := range latest {
		hdr, info, err := rm.readTreeHeader(off)
		if err != nil {
			return err
		}
		rm.trees[name] = &treeEntry{info: info, header: hdr}
	}
	return nil
}

func (rm *RecordManager) readTreeHeader(offset uint64) (btree.Header, btree.Info, error) {
	buf, err := rm.pio.ReadChain(offset)
	if err != nil {
		return btree.Header{}, btree.Info{}, err
	}
	hdr, err := btree.DecodeHeader(buf)
	if err != nil {
		return btree.Header{}, btree.Info{}, err
	}
	infoBuf, err := rm.pio.ReadChain(hdr.InfoOffset)
	if err != nil {
		return btree.Header{}, btree.Info{}, err
	}
	info, err := btree.DecodeInfo(infoBuf)
	if err != nil {
		return btree.Header{}, btree.Info{}, err
	}
	return hdr, info, nil
}

func (rm *RecordManager) lookupTree(name string) (*treeEntry, bool) {
	rm.treesMu.Lock()
	defer rm.treesMu.Unlock()
	e, ok := rm.trees[name]
	return e, ok
}

func (rm *RecordManager) registerReader(rev uint64) {
	rm.readersMu.Lock()
	rm.readerCounts[rev]++
	rm.readersMu.Unlock()
}

func (rm *RecordManager) unregisterReader(rev uint64) {
	rm.readersMu.Lock()
	rm.readerCounts[rev]--
	if rm.readerCounts[rev] <= 0 {
		delete(rm.readerCounts, rev)
	}
	rm.readersMu.Unlock()
}

// oldestActiveReaderRevision returns the lowest revision any open ReadTxn
// is pinned to, or currentRevision+1 (nothing to protect) if there are none.
func (rm *RecordManager) oldestActiveReaderRevision(currentRevision uint64) uint64 {
	rm.readersMu.Lock()
	defer rm.readersMu.Unlock()
	oldest := currentRevision + 1
	for rev := range rm.readerCounts {
		if rev < oldest {
			oldest = rev
		}
	}
	return oldest
}

// BeginWrite starts the single write transaction, blocking until any
// previous writer commits or rolls back.
func (rm *RecordManager) BeginWrite() (*WriteTxn, error) {
	if rm.readOnly {
		return nil, ErrReadOnly
	}
	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil, ErrDatabaseClosed
	}
	rm.headerMu.RLock()
	revision := rm.header.Revision + 1
	eof := rm.header.EOF
	rm.headerMu.RUnlock()

	ctx := txn.NewWriteContext(rm.loader, revision, eof)
	return &WriteTxn{
		rm:       rm,
		ctx:      ctx,
		revision: revision,
		touched:  make(map[string]*btree.BTree),
		newTrees: make(map[string]bool),
	}, nil
}

// BeginRead starts a read transaction pinned to the current revision.
func (rm *RecordManager) BeginRead() (*ReadTxn, error) {
	if rm.closed {
		return nil, ErrDatabaseClosed
	}
	rm.headerMu.RLock()
	h := rm.header
	rm.headerMu.RUnlock()

	rm.registerReader(h.Revision)

	rm.treesMu.Lock()
	trees := make(map[string]*treeEntry, len(rm.trees))
	for k, v := range rm.trees {
		trees[k] = v
	}
	rm.treesMu.Unlock()

	return &ReadTxn{
		rm:       rm,
		ctx:      txn.NewReadContext(rm.loader, h.Revision),
		revision: h.Revision,
		trees:    trees,
	}, nil
}

// CacheStats reports the page cache's current memory-budget usage. ok is
// false when Open wasn't given a non-zero Options.MemoryBudget.
func (rm *RecordManager) CacheStats() (stats pageio.MemoryBudgetStats, ok bool) {
	return rm.pio.Cache().BudgetStats()
}

// Close flushes and closes the backing file, releasing the writer lock if
// held.
func (rm *RecordManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return ErrDatabaseClosed
	}
	rm.closed = true
	if err := rm.storage.Sync(); err != nil {
		return err
	}
	if err := rm.storage.Close(); err != nil {
		return err
	}
	releaseLock(rm.lockFile)
	return nil
}
