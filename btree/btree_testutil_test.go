package btree

import (
	"mavi/btreepage"
	"mavi/serializer"
	"mavi/txn"
)

// memLoader is an in-memory txn.Loader over maps keyed by durable offset,
// used so btree tests can drive real BTree operations without a backing
// pageio.PageIO, mirroring txn package's own fakeLoader test pattern.
type memLoader struct {
	leaves map[uint64]*btreepage.Leaf
	nodes  map[uint64]*btreepage.Node
}

func newMemLoader() *memLoader {
	return &memLoader{leaves: map[uint64]*btreepage.Leaf{}, nodes: map[uint64]*btreepage.Node{}}
}

func (m *memLoader) LoadLeaf(off uint64) (*btreepage.Leaf, error) {
	if l, ok := m.leaves[off]; ok {
		return l, nil
	}
	return nil, txn.ErrDanglingRef
}

func (m *memLoader) LoadNode(off uint64) (*btreepage.Node, error) {
	if n, ok := m.nodes[off]; ok {
		return n, nil
	}
	return nil, txn.ErrDanglingRef
}

func (m *memLoader) IsNode(off uint64) (bool, error) {
	if _, ok := m.nodes[off]; ok {
		return true, nil
	}
	if _, ok := m.leaves[off]; ok {
		return false, nil
	}
	return false, txn.ErrDanglingRef
}

// newTestTree builds a tree with an empty leaf root over a fresh
// WriteContext, returning both so the caller can keep inserting through
// the same context (tentative ids must not collide within one tree).
func newTestTree(fanout int) (*BTree, *txn.WriteContext) {
	ctx := txn.NewWriteContext(newMemLoader(), 1, 0)
	bt, err := New("test", serializer.IDBytes, serializer.IDBytes, fanout)
	if err != nil {
		panic(err)
	}
	leaf := btreepage.NewLeaf(ctx.NextID(), ctx.Revision())
	ctx.PutLeaf(leaf)
	bt.Header.RootOffset = uint64(leaf.ID)
	return bt, ctx
}
