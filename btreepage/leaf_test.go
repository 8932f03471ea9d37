package btreepage

import (
	"bytes"
	"testing"
)

func bytesCmp(a, b []byte) int { return bytes.Compare(a, b) }

func idAllocator() (func() Ref, *int64) {
	var next int64 = -1
	return func() Ref {
		r := Ref(next)
		next--
		return r
	}, &next
}

func TestLeafInsertUnderFanout(t *testing.T) {
	leaf := NewLeaf(-1, 1)
	alloc, _ := idAllocator()

	res := leaf.Insert([]byte("b"), []byte("2"), bytesCmp, 4, 1, alloc)
	if res.Kind != InsertModify {
		t.Fatalf("expected InsertModify, got %v", res.Kind)
	}
	leaf = res.Leaf

	res = leaf.Insert([]byte("a"), []byte("1"), bytesCmp, 4, 1, alloc)
	if res.Kind != InsertModify {
		t.Fatalf("expected InsertModify, got %v", res.Kind)
	}
	leaf = res.Leaf

	if leaf.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", leaf.Len())
	}
	if string(leaf.Keys[0]) != "a" || string(leaf.Keys[1]) != "b" {
		t.Fatalf("expected sorted keys [a b], got %q %q", leaf.Keys[0], leaf.Keys[1])
	}
}

func TestLeafInsertExisting(t *testing.T) {
	leaf := NewLeaf(-1, 1)
	alloc, _ := idAllocator()
	res := leaf.Insert([]byte("a"), []byte("1"), bytesCmp, 4, 1, alloc)
	leaf = res.Leaf

	res = leaf.Insert([]byte("a"), []byte("2"), bytesCmp, 4, 1, alloc)
	if res.Kind != InsertExists {
		t.Fatalf("expected InsertExists, got %v", res.Kind)
	}
}

func TestLeafSplitOnOverflow(t *testing.T) {
	leaf := NewLeaf(-1, 1)
	alloc, _ := idAllocator()
	fanout := 4

	for _, k := range []string{"a", "b", "c", "d"} {
		res := leaf.Insert([]byte(k), []byte(k), bytesCmp, fanout, 1, alloc)
		leaf = res.Leaf
	}

	res := leaf.Insert([]byte("e"), []byte("e"), bytesCmp, fanout, 1, alloc)
	if res.Kind != InsertSplit {
		t.Fatalf("expected InsertSplit, got %v", res.Kind)
	}
	if res.LeftLeaf.Len()+res.RightLeaf.Len() != 5 {
		t.Fatalf("expected 5 elements across split halves, got %d+%d", res.LeftLeaf.Len(), res.RightLeaf.Len())
	}
	if string(res.Pivot) != string(res.RightLeaf.Keys[0]) {
		t.Fatalf("pivot must equal right leaf's first key")
	}
	for i := 1; i < res.LeftLeaf.Len(); i++ {
		if bytesCmp(res.LeftLeaf.Keys[i-1], res.LeftLeaf.Keys[i]) >= 0 {
			t.Fatalf("left leaf keys not strictly increasing")
		}
	}
	for i := 1; i < res.RightLeaf.Len(); i++ {
		if bytesCmp(res.RightLeaf.Keys[i-1], res.RightLeaf.Keys[i]) >= 0 {
			t.Fatalf("right leaf keys not strictly increasing")
		}
	}
}

func TestLeafDeleteNotPresent(t *testing.T) {
	leaf := NewLeaf(-1, 1)
	res := leaf.Delete([]byte("z"), bytesCmp, 4, true, 1, func() Ref { return -1 }, nil, nil)
	if res.Kind != DeleteNotPresent {
		t.Fatalf("expected DeleteNotPresent, got %v", res.Kind)
	}
}

func TestLeafDeleteAsRoot(t *testing.T) {
	leaf := NewLeaf(-1, 1)
	alloc, _ := idAllocator()
	for _, k := range []string{"a", "b", "c"} {
		res := leaf.Insert([]byte(k), []byte(k), bytesCmp, 4, 1, alloc)
		leaf = res.Leaf
	}

	res := leaf.Delete([]byte("b"), bytesCmp, 4, true, 2, alloc, nil, nil)
	if res.Kind != DeleteRemove {
		t.Fatalf("expected DeleteRemove, got %v", res.Kind)
	}
	if res.Leaf.Len() != 2 {
		t.Fatalf("expected 2 elements remaining, got %d", res.Leaf.Len())
	}
	if _, ok := res.Leaf.Get([]byte("b"), bytesCmp); ok {
		t.Fatalf("expected b to be gone")
	}
}

func TestLeafBorrowFromLargerSibling(t *testing.T) {
	alloc, _ := idAllocator()
	fanout := 4

	left := NewLeaf(1, 1)
	left.Keys = [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	left.Values = [][]byte{[]byte("1"), []byte("2"), []byte("3")}

	self := NewLeaf(2, 1)
	self.Keys = [][]byte{[]byte("d"), []byte("e")}
	self.Values = [][]byte{[]byte("4"), []byte("5")}

	res := self.Delete([]byte("d"), bytesCmp, fanout, false, 2, alloc, left, nil)
	if res.Kind != DeleteBorrowed {
		t.Fatalf("expected DeleteBorrowed, got %v", res.Kind)
	}
	if res.BorrowedSelfLeaf.Len() != minFill(fanout) {
		t.Fatalf("expected self to reach minFill=%d, got %d", minFill(fanout), res.BorrowedSelfLeaf.Len())
	}
	if res.BorrowedSiblingLeaf.Len() != left.Len()-1 {
		t.Fatalf("expected sibling to shrink by one")
	}
}

func TestLeafMergeWhenNoSiblingCanSpare(t *testing.T) {
	alloc, _ := idAllocator()
	fanout := 4

	left := NewLeaf(1, 1)
	left.Keys = [][]byte{[]byte("a"), []byte("b")}
	left.Values = [][]byte{[]byte("1"), []byte("2")}

	self := NewLeaf(2, 1)
	self.Keys = [][]byte{[]byte("c"), []byte("d")}
	self.Values = [][]byte{[]byte("3"), []byte("4")}

	res := self.Delete([]byte("c"), bytesCmp, fanout, false, 2, alloc, left, nil)
	if res.Kind != DeleteMerged {
		t.Fatalf("expected DeleteMerged, got %v", res.Kind)
	}
	if res.MergedLeaf.Len() != 3 {
		t.Fatalf("expected merged leaf with 3 elements, got %d", res.MergedLeaf.Len())
	}
	if res.MergedSide != SideLeft {
		t.Fatalf("expected merge with left sibling")
	}
}

func TestLeafEncodeDecodeRoundTrip(t *testing.T) {
	leaf := NewLeaf(42, 7)
	leaf.Keys = [][]byte{[]byte("alpha"), []byte("beta")}
	leaf.Values = [][]byte{[]byte("1"), []byte("2")}

	buf := leaf.Encode()
	decoded, err := DecodeLeaf(buf)
	if err != nil {
		t.Fatalf("DecodeLeaf: %v", err)
	}
	if decoded.ID != leaf.ID || decoded.Revision != leaf.Revision {
		t.Fatalf("id/revision mismatch")
	}
	if decoded.Len() != 2 || string(decoded.Keys[0]) != "alpha" || string(decoded.Values[1]) != "2" {
		t.Fatalf("round-trip mismatch: %+v", decoded)
	}
	isNode, err := IsNodePage(buf)
	if err != nil {
		t.Fatalf("IsNodePage: %v", err)
	}
	if isNode {
		t.Fatalf("expected leaf page to be identified as non-node")
	}
}
