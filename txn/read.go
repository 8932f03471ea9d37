package txn

import "mavi/btreepage"

// ReadContext is a read transaction's pinned view: a revision and the
// Loader it resolves every reference through. Every ref a read transaction
// ever sees is already durable — readers never observe another
// transaction's in-flight WAL, only what was visible at the moment this
// context was pinned (spec.md §4.6 "Start transaction (read)") — so,
// unlike WriteContext, there is no WAL map to consult first.
type ReadContext struct {
	loader   Loader
	revision uint64
}

// NewReadContext pins a read transaction to revision, resolving reads
// through loader.
func NewReadContext(loader Loader, revision uint64) *ReadContext {
	return &ReadContext{loader: loader, revision: revision}
}

// Revision returns the revision this read transaction is pinned to.
func (r *ReadContext) Revision() uint64 { return r.revision }

// GetLeaf resolves a durable ref to its decoded leaf.
func (r *ReadContext) GetLeaf(ref btreepage.Ref) (*btreepage.Leaf, error) {
	return r.loader.LoadLeaf(uint64(ref))
}

// GetNode resolves a durable ref to its decoded node.
func (r *ReadContext) GetNode(ref btreepage.Ref) (*btreepage.Node, error) {
	return r.loader.LoadNode(uint64(ref))
}

// IsNode reports whether a durable ref names a Node rather than a Leaf.
func (r *ReadContext) IsNode(ref btreepage.Ref) (bool, error) {
	return r.loader.IsNode(uint64(ref))
}
