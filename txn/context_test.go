package txn

import (
	"testing"

	"mavi/btreepage"
)

type fakeLoader struct {
	leaves map[uint64]*btreepage.Leaf
	nodes  map[uint64]*btreepage.Node
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{leaves: map[uint64]*btreepage.Leaf{}, nodes: map[uint64]*btreepage.Node{}}
}

func (f *fakeLoader) LoadLeaf(off uint64) (*btreepage.Leaf, error) {
	if l, ok := f.leaves[off]; ok {
		return l, nil
	}
	return nil, ErrDanglingRef
}
func (f *fakeLoader) LoadNode(off uint64) (*btreepage.Node, error) {
	if n, ok := f.nodes[off]; ok {
		return n, nil
	}
	return nil, ErrDanglingRef
}
func (f *fakeLoader) IsNode(off uint64) (bool, error) {
	if _, ok := f.nodes[off]; ok {
		return true, nil
	}
	if _, ok := f.leaves[off]; ok {
		return false, nil
	}
	return false, ErrDanglingRef
}

func TestWriteContextNextIDDecreasesStrictly(t *testing.T) {
	ctx := NewWriteContext(newFakeLoader(), 1, 0)
	a, b, c := ctx.NextID(), ctx.NextID(), ctx.NextID()
	if a != -1 || b != -2 || c != -3 {
		t.Fatalf("expected -1,-2,-3, got %v,%v,%v", a, b, c)
	}
}

func TestWriteContextResolvesPendingBeforeDurable(t *testing.T) {
	loader := newFakeLoader()
	loader.leaves[100] = btreepage.NewLeaf(100, 1)

	ctx := NewWriteContext(loader, 2, 200)
	pending := btreepage.NewLeaf(ctx.NextID(), 2)
	ctx.PutLeaf(pending)

	got, err := ctx.GetLeaf(pending.ID)
	if err != nil || got != pending {
		t.Fatalf("expected pending leaf back, got %v/%v", got, err)
	}
	durable, err := ctx.GetLeaf(100)
	if err != nil || durable.ID != 100 {
		t.Fatalf("expected durable leaf via loader, got %v/%v", durable, err)
	}
}

func TestAddCopiedDurableVsPending(t *testing.T) {
	ctx := NewWriteContext(newFakeLoader(), 1, 0)

	// A durable ref goes into the copied set for CPB.
	ctx.AddCopied(btreepage.Ref(50))
	offsets := ctx.CopiedOffsets()
	if len(offsets) != 1 || offsets[0] != 50 {
		t.Fatalf("expected [50], got %v", offsets)
	}

	// A pending ref that was never written is dropped from the WAL map,
	// not scheduled for reclamation.
	pendingID := ctx.NextID()
	ctx.PutLeaf(btreepage.NewLeaf(pendingID, 1))
	if len(ctx.WALLeaves()) != 1 {
		t.Fatalf("expected 1 wal leaf before superseding")
	}
	ctx.AddCopied(pendingID)
	if len(ctx.WALLeaves()) != 0 {
		t.Fatalf("expected superseded pending leaf to be dropped from WAL map")
	}
	if len(ctx.CopiedOffsets()) != 1 {
		t.Fatalf("expected copied set unchanged by dropping a pending ref, got %v", ctx.CopiedOffsets())
	}
}

func TestReadContextResolvesOnlyDurable(t *testing.T) {
	loader := newFakeLoader()
	loader.nodes[7] = btreepage.NewNode(7, 3)

	rc := NewReadContext(loader, 3)
	if rc.Revision() != 3 {
		t.Fatalf("expected pinned revision 3, got %d", rc.Revision())
	}
	isNode, err := rc.IsNode(btreepage.Ref(7))
	if err != nil || !isNode {
		t.Fatalf("expected node at 7, got %v/%v", isNode, err)
	}
}
