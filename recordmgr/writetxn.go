package recordmgr

import (
	"sort"

	"mavi/btree"
	"mavi/btreepage"
	"mavi/txn"
)

// WriteTxn is the single live write transaction. Only one exists at a
// time per RecordManager — BeginWrite blocks behind rm.mu until the prior
// writer commits or rolls back (spec.md §4.6 "single serialized writer").
type WriteTxn struct {
	rm       *RecordManager
	ctx      *txn.WriteContext
	revision uint64

	touched  map[string]*btree.BTree
	newTrees map[string]bool

	bob *btree.BTree
	cpb *btree.BTree

	metaReclaimThisTxn []uint64
	interceptor        *interceptingContext
	reclaimed          bool

	done bool
}

// Revision returns the revision this transaction will commit as.
func (w *WriteTxn) Revision() uint64 { return w.revision }

// Ctx returns the btree.Context this transaction's tree operations must be
// threaded through.
func (w *WriteTxn) Ctx() btree.Context { return w.ctx }

// Tree returns the named tree as it stood at the start of this
// transaction, ready for Get/Insert/Delete against w.Ctx(). Subsequent
// calls for the same name within one transaction return the same
// in-progress BTree value so mutations accumulate.
func (w *WriteTxn) Tree(name string) (*btree.BTree, error) {
	if name == bobName || name == cpbName {
		return nil, ErrReservedName
	}
	if bt, ok := w.touched[name]; ok {
		return bt, nil
	}
	entry, ok := w.rm.lookupTree(name)
	if !ok {
		return nil, ErrTreeNotFound
	}
	bt, err := btree.Open(entry.info, entry.header)
	if err != nil {
		return nil, err
	}
	w.touched[name] = bt
	return bt, nil
}

// CreateTree registers a brand-new named tree, bootstrapped with an empty
// leaf root per spec.md §4.4 ("an empty tree has an empty leaf root," never
// a sentinel offset, since a sentinel would collide with a transaction's
// own first tentative id).
func (w *WriteTxn) CreateTree(name string, keySerializerID, valueSerializerID uint32, fanout int) (*btree.BTree, error) {
	if name == bobName || name == cpbName {
		return nil, ErrReservedName
	}
	if _, ok := w.touched[name]; ok {
		return nil, btree.ErrKeyExists
	}
	if _, ok := w.rm.lookupTree(name); ok {
		return nil, btree.ErrKeyExists
	}
	bt, err := btree.New(name, keySerializerID, valueSerializerID, fanout)
	if err != nil {
		return nil, err
	}
	root := btreepage.NewLeaf(w.ctx.NextID(), w.revision)
	w.ctx.PutLeaf(root)
	bt.Header.RootOffset = uint64(root.ID)
	w.touched[name] = bt
	w.newTrees[name] = true
	return bt, nil
}

// cpbCtx returns the (lazily built) context CPB's own mutations must be
// staged through, so that pages CPB supersedes while recording everyone
// else's superseded pages never need to fold into the very CPB entry being
// computed this revision (spec.md §9, "Meta-tree self-reference").
func (w *WriteTxn) cpbCtx() btree.Context {
	if w.interceptor == nil {
		w.interceptor = &interceptingContext{
			WriteContext: w.ctx,
			sink: func(offset uint64) {
				w.metaReclaimThisTxn = append(w.metaReclaimThisTxn, offset)
			},
		}
	}
	return w.interceptor
}

// Rollback discards the transaction. Nothing durable needs undoing —
// every page this transaction allocated lives above the pre-transaction
// eof and is simply abandoned (spec.md §4.6 "Rollback").
func (w *WriteTxn) Rollback() error {
	if w.done {
		return ErrTransactionDone
	}
	w.done = true
	w.ctx.Close()
	w.rm.mu.Unlock()
	return nil
}

// sortedRefsDescending returns refs sorted from -1 downward (children
// before parents, since a parent's tentative id is always allocated after
// — i.e. more negative than — the children it was built to point at).
func sortedRefsDescending(leaves map[btreepage.Ref]*btreepage.Leaf, nodes map[btreepage.Ref]*btreepage.Node) []btreepage.Ref {
	refs := make([]btreepage.Ref, 0, len(leaves)+len(nodes))
	for r := range leaves {
		refs = append(refs, r)
	}
	for r := range nodes {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] > refs[j] })
	return refs
}
