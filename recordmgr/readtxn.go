package recordmgr

import (
	"mavi/btree"
	"mavi/txn"
)

// ReadTxn is a snapshot pinned to the revision current when it was
// started. Any number of ReadTxns may be open concurrently with each
// other and with the single WriteTxn (spec.md §4.6 "MVCC readers never
// block").
type ReadTxn struct {
	rm       *RecordManager
	ctx      *txn.ReadContext
	revision uint64
	trees    map[string]*treeEntry
	closed   bool
}

// Revision returns the revision this read transaction is pinned to.
func (r *ReadTxn) Revision() uint64 { return r.revision }

// Ctx returns the btree.PageSource this transaction's tree reads must be
// threaded through.
func (r *ReadTxn) Ctx() btree.PageSource { return r.ctx }

// Tree returns the named tree as it stood when this transaction started.
func (r *ReadTxn) Tree(name string) (*btree.BTree, error) {
	if name == bobName || name == cpbName {
		return nil, ErrReservedName
	}
	entry, ok := r.trees[name]
	if !ok {
		return nil, ErrTreeNotFound
	}
	return btree.Open(entry.info, entry.header)
}

// Close releases this transaction's pin on its revision, letting a future
// writer's Reclaim free pages superseded since then once no other reader
// still needs them.
func (r *ReadTxn) Close() error {
	if r.closed {
		return ErrTransactionDone
	}
	r.closed = true
	r.rm.unregisterReader(r.revision)
	return nil
}
