package txn

import "mavi/btreepage"

// WriteContext is the single write transaction's scratchpad (spec.md §4.5):
// the WAL map of pages created or copied-out during this write, the
// copied-pages set destined for the CPB tree, the transaction's revision,
// and the tentative file high-water-mark the record manager is tracking
// allocations against.
//
// One WriteContext is shared across every BTree (including BoB and CPB)
// touched by a single write transaction, so that tentative ids handed out
// by NextID never collide between trees.
type WriteContext struct {
	loader   Loader
	revision uint64
	nextID   int64

	walLeaves map[btreepage.Ref]*btreepage.Leaf
	walNodes  map[btreepage.Ref]*btreepage.Node
	copied    map[btreepage.Ref]struct{}

	tentativeEOF uint64
	closed       bool
}

// NewWriteContext creates a write transaction scratchpad bound to
// revision, resolving durable reads through loader. eof is the record
// manager's current end-of-file, the baseline every Allocate call in this
// transaction grows from.
func NewWriteContext(loader Loader, revision uint64, eof uint64) *WriteContext {
	return &WriteContext{
		loader:       loader,
		revision:     revision,
		nextID:       -1,
		walLeaves:    make(map[btreepage.Ref]*btreepage.Leaf),
		walNodes:     make(map[btreepage.Ref]*btreepage.Node),
		copied:       make(map[btreepage.Ref]struct{}),
		tentativeEOF: eof,
	}
}

// Revision returns the revision new pages in this transaction are stamped
// with.
func (w *WriteContext) Revision() uint64 { return w.revision }

// NextID hands out a fresh tentative (negative) id, strictly decreasing
// within this transaction so no two pending pages ever collide.
func (w *WriteContext) NextID() btreepage.Ref {
	id := btreepage.Ref(w.nextID)
	w.nextID--
	return id
}

// PutLeaf records a newly created or copied leaf in the WAL map, keyed by
// its own (tentative) id.
func (w *WriteContext) PutLeaf(l *btreepage.Leaf) { w.walLeaves[l.ID] = l }

// PutNode records a newly created or copied node in the WAL map.
func (w *WriteContext) PutNode(n *btreepage.Node) { w.walNodes[n.ID] = n }

// GetLeaf resolves ref to its decoded leaf: from the WAL map if ref is
// still pending, or through the Loader if it already names a durable
// offset. This lets the CoW path observe its own in-flight mutations
// before commit (spec.md §4.5).
func (w *WriteContext) GetLeaf(ref btreepage.Ref) (*btreepage.Leaf, error) {
	if ref < 0 {
		if l, ok := w.walLeaves[ref]; ok {
			return l, nil
		}
		return nil, ErrDanglingRef
	}
	return w.loader.LoadLeaf(uint64(ref))
}

// GetNode is GetLeaf's node-shaped counterpart.
func (w *WriteContext) GetNode(ref btreepage.Ref) (*btreepage.Node, error) {
	if ref < 0 {
		if n, ok := w.walNodes[ref]; ok {
			return n, nil
		}
		return nil, ErrDanglingRef
	}
	return w.loader.LoadNode(uint64(ref))
}

// IsNode reports whether ref names a Node rather than a Leaf, consulting
// the WAL map for pending refs and the Loader for durable ones.
func (w *WriteContext) IsNode(ref btreepage.Ref) (bool, error) {
	if ref < 0 {
		if _, ok := w.walNodes[ref]; ok {
			return true, nil
		}
		if _, ok := w.walLeaves[ref]; ok {
			return false, nil
		}
		return false, ErrDanglingRef
	}
	return w.loader.IsNode(uint64(ref))
}

// AddCopied records that ref was superseded by a CoW mutation during this
// write. A durable ref (already on disk from an earlier commit) is staged
// for the copied-pages tree so the record manager can reclaim it once no
// reader still depends on it. A still-pending ref names a page this same
// transaction created and then immediately superseded again before it was
// ever serialized — it is simply dropped from the WAL map, since a page
// that never reached disk has nothing to reclaim (spec.md §9's
// self-reference note covers the sibling case; this is the same idea
// applied to an ordinary tree touched twice in one transaction).
func (w *WriteContext) AddCopied(ref btreepage.Ref) {
	w.AddCopiedWithSink(ref, nil)
}

// AddCopiedWithSink is AddCopied with the durable case redirected to an
// external sink instead of this context's own copied set. recordmgr uses
// this so that a meta-tree's own CoW supersession (inserting the entry
// that records everyone else's superseded pages) never needs to fold its
// own superseded pages into that very entry (spec.md §9 "Meta-tree
// self-reference"). A nil sink is equivalent to plain AddCopied.
func (w *WriteContext) AddCopiedWithSink(ref btreepage.Ref, sink func(uint64)) {
	if ref < 0 {
		delete(w.walLeaves, ref)
		delete(w.walNodes, ref)
		return
	}
	if sink != nil {
		sink(uint64(ref))
		return
	}
	w.copied[ref] = struct{}{}
}

// WALLeaves returns the transaction's pending leaves, keyed by tentative
// id. Used by recordmgr at commit time; callers must not mutate the
// returned map.
func (w *WriteContext) WALLeaves() map[btreepage.Ref]*btreepage.Leaf { return w.walLeaves }

// WALNodes is WALLeaves' node-shaped counterpart.
func (w *WriteContext) WALNodes() map[btreepage.Ref]*btreepage.Node { return w.walNodes }

// CopiedOffsets returns the durable offsets superseded during this
// transaction, the set recordmgr inserts into CPB under this revision.
func (w *WriteContext) CopiedOffsets() []uint64 {
	out := make([]uint64, 0, len(w.copied))
	for ref := range w.copied {
		out = append(out, uint64(ref))
	}
	return out
}

// TentativeEOF returns the file high-water-mark this transaction is
// tracking allocations against.
func (w *WriteContext) TentativeEOF() uint64 { return w.tentativeEOF }

// SetTentativeEOF replaces the tracked high-water-mark. recordmgr's commit
// does not call it; it allocates physical chains through pageio directly.
func (w *WriteContext) SetTentativeEOF(eof uint64) { w.tentativeEOF = eof }

// ResetWAL clears the WAL map of already-serialized pages while keeping
// nextID, the copied set, and the tentative eof intact. recordmgr calls
// this between commit rounds: writing one tree's pending pages to disk can
// itself stage more pending pages (inserting that tree's new header offset
// into the tree-of-trees), and the next round must only see the new batch
// (spec.md §9 "Tree-of-trees" commit sequencing).
func (w *WriteContext) ResetWAL() {
	w.walLeaves = make(map[btreepage.Ref]*btreepage.Leaf)
	w.walNodes = make(map[btreepage.Ref]*btreepage.Node)
}

// Close discards the transaction's scratchpad. Per spec.md §4.6
// "Rollback", nothing on disk needs undoing: every allocation this
// transaction made lives above the pre-transaction eof and is simply never
// linked into a durable header, so it is abandoned (and truncated away on
// the next open) rather than explicitly freed.
func (w *WriteContext) Close() {
	w.walLeaves = nil
	w.walNodes = nil
	w.copied = nil
	w.closed = true
}

// Closed reports whether Close has been called.
func (w *WriteContext) Closed() bool { return w.closed }
