// Package btree implements the ordered key/value map that dispatches to
// the CoW page operations in btreepage, bound to a name, a key/value
// serializer pair, a fanout, and the current per-revision header.
//
// BTree itself holds no file handle and performs no I/O; it operates
// purely on in-memory Leaf/Node values fetched through the PageSource it is
// given and staged through the PageSink it is given. Both interfaces are
// satisfied by a transaction context (see the txn package) without btree
// importing txn — breaking the dependency cycle the two packages would
// otherwise have (spec.md §9's guidance on breaking cyclic references by
// threading a handle through every call rather than holding cross-owning
// pointers).
package btree

import (
	"errors"

	"mavi/btreepage"
)

var (
	// ErrKeyExists is returned by Insert when the key is already present.
	ErrKeyExists = errors.New("btree: key already exists")
	// ErrKeyNotFound is returned by Delete when the key is absent.
	ErrKeyNotFound = errors.New("btree: key not found")
	// ErrInvalidFanout is returned by New when fanout < 4.
	ErrInvalidFanout = errors.New("btree: fanout must be >= 4")
	// ErrUnknownSerializer is returned when Info names a serializer id with
	// no registered comparator.
	ErrUnknownSerializer = errors.New("btree: unknown serializer id")
)

// PageSource resolves a Ref to its decoded page, and reports whether a Ref
// names a Node (as opposed to a Leaf) without fully decoding it.
type PageSource interface {
	GetLeaf(ref btreepage.Ref) (*btreepage.Leaf, error)
	GetNode(ref btreepage.Ref) (*btreepage.Node, error)
	IsNode(ref btreepage.Ref) (bool, error)
}

// PageSink accepts newly created or copied-out pages during a write,
// matching spec.md §4.5's WAL-map / copied-map transaction bookkeeping.
type PageSink interface {
	// NextID returns a fresh tentative (negative) id for a new page.
	NextID() btreepage.Ref
	// PutLeaf/PutNode register a page in the transaction's WAL map.
	PutLeaf(*btreepage.Leaf)
	PutNode(*btreepage.Node)
	// AddCopied records that ref was superseded by this write, so the
	// record manager can schedule it into the copied-pages tree.
	AddCopied(ref btreepage.Ref)
}

// Context is the combined read/write view a write operation needs; read
// operations need only a PageSource.
type Context interface {
	PageSource
	PageSink
	// Revision returns the revision new pages should be stamped with.
	Revision() uint64
}

// BTree is an ordered K→V map bound to a name, a key/value serializer
// pair, a fanout, and the current header. Per spec.md §4.4, fanout is
// rounded up to the next power of two and must be >= 4.
type BTree struct {
	Info       Info
	Header     Header
	Comparator btreepage.Comparator
}

// New creates a BTree descriptor for a brand-new, empty tree. The caller
// (typically recordmgr, opening a write transaction) is responsible for
// allocating the initial empty-leaf root and the header/info pages and
// filling in Header accordingly; New only validates configuration and
// resolves the comparator.
func New(name string, keySerializerID, valueSerializerID uint32, fanout int) (*BTree, error) {
	fanout = nextPow2(fanout)
	if fanout < 4 {
		return nil, ErrInvalidFanout
	}
	cmp, ok := comparatorForID(keySerializerID)
	if !ok {
		return nil, ErrUnknownSerializer
	}
	return &BTree{
		Info: Info{
			Fanout:            fanout,
			Name:              name,
			KeySerializerID:   keySerializerID,
			ValueSerializerID: valueSerializerID,
		},
		Comparator: cmp,
	}, nil
}

// Open reconstructs a BTree descriptor from a previously persisted Info
// and Header (read by the record manager from the tree-of-trees).
func Open(info Info, header Header) (*BTree, error) {
	cmp, ok := comparatorForID(info.KeySerializerID)
	if !ok {
		return nil, ErrUnknownSerializer
	}
	return &BTree{Info: info, Header: header, Comparator: cmp}, nil
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func minFill(fanout int) int { return (fanout + 1) / 2 }

// Get descends from the tree's current header root through src without
// staging or modifying any page, so it is safe to call with a read-only
// PageSource; given a WriteContext it also sees that transaction's
// pending pages.
func (bt *BTree) Get(src PageSource, key []byte) ([]byte, bool, error) {
	return bt.getAt(src, btreepage.Ref(bt.Header.RootOffset), key)
}

func (bt *BTree) getAt(src PageSource, ref btreepage.Ref, key []byte) ([]byte, bool, error) {
	isNode, err := src.IsNode(ref)
	if err != nil {
		return nil, false, err
	}
	if !isNode {
		leaf, err := src.GetLeaf(ref)
		if err != nil {
			return nil, false, err
		}
		v, ok := leaf.Get(key, bt.Comparator)
		return v, ok, nil
	}
	node, err := src.GetNode(ref)
	if err != nil {
		return nil, false, err
	}
	idx := node.ChildIndex(key, bt.Comparator)
	return bt.getAt(src, node.Children[idx], key)
}

// Insert adds (key, value), updating bt.Header in place on success. It
// returns ErrKeyExists if key is already present (mavi disallows
// overwriting via Insert; BTree has no upsert operation).
func (bt *BTree) Insert(ctx Context, key, value []byte) error {
	res, err := bt.insertAt(ctx, btreepage.Ref(bt.Header.RootOffset), key, value)
	if err != nil {
		return err
	}
	switch res.Kind {
	case btreepage.InsertExists:
		return ErrKeyExists
	case btreepage.InsertModify:
		bt.Header.RootOffset = uint64(refOf(res.Leaf, res.Node))
	case btreepage.InsertSplit:
		left := refOf(res.LeftLeaf, res.LeftNode)
		right := refOf(res.RightLeaf, res.RightNode)
		newRoot := btreepage.NewNode(ctx.NextID(), ctx.Revision())
		newRoot.Keys = [][]byte{res.Pivot}
		newRoot.Children = []btreepage.Ref{left, right}
		ctx.PutNode(newRoot)
		bt.Header.RootOffset = uint64(newRoot.ID)
	}
	bt.Header.ElementCount++
	bt.Header.Revision = ctx.Revision()
	return nil
}

func (bt *BTree) insertAt(ctx Context, ref btreepage.Ref, key, value []byte) (btreepage.InsertResult, error) {
	isNode, err := ctx.IsNode(ref)
	if err != nil {
		return btreepage.InsertResult{}, err
	}
	if !isNode {
		leaf, err := ctx.GetLeaf(ref)
		if err != nil {
			return btreepage.InsertResult{}, err
		}
		res := leaf.Insert(key, value, bt.Comparator, bt.Info.Fanout, ctx.Revision(), ctx.NextID)
		switch res.Kind {
		case btreepage.InsertModify:
			ctx.PutLeaf(res.Leaf)
			ctx.AddCopied(ref)
		case btreepage.InsertSplit:
			ctx.PutLeaf(res.LeftLeaf)
			ctx.PutLeaf(res.RightLeaf)
			ctx.AddCopied(ref)
		}
		return res, nil
	}

	node, err := ctx.GetNode(ref)
	if err != nil {
		return btreepage.InsertResult{}, err
	}
	idx := node.ChildIndex(key, bt.Comparator)
	childRes, err := bt.insertAt(ctx, node.Children[idx], key, value)
	if err != nil {
		return btreepage.InsertResult{}, err
	}

	switch childRes.Kind {
	case btreepage.InsertExists:
		return childRes, nil
	case btreepage.InsertModify:
		newChildRef := refOf(childRes.Leaf, childRes.Node)
		newNode := node.ReplaceChild(idx, newChildRef, ctx.Revision(), ctx.NextID)
		ctx.PutNode(newNode)
		ctx.AddCopied(ref)
		return btreepage.InsertResult{Kind: btreepage.InsertModify, Node: newNode}, nil
	case btreepage.InsertSplit:
		leftRef := refOf(childRes.LeftLeaf, childRes.LeftNode)
		rightRef := refOf(childRes.RightLeaf, childRes.RightNode)
		res2 := node.ReplaceChildAndInsertPivot(idx, leftRef, childRes.Pivot, rightRef, bt.Info.Fanout, ctx.Revision(), ctx.NextID)
		ctx.AddCopied(ref)
		switch res2.Kind {
		case btreepage.InsertModify:
			ctx.PutNode(res2.Node)
		case btreepage.InsertSplit:
			ctx.PutNode(res2.LeftNode)
			ctx.PutNode(res2.RightNode)
		}
		return res2, nil
	}
	return btreepage.InsertResult{}, nil
}

// Delete removes key, updating bt.Header in place on success. It returns
// ErrKeyNotFound if key is absent.
func (bt *BTree) Delete(ctx Context, key []byte) error {
	res, err := bt.deleteAt(ctx, nil, 0, btreepage.Ref(bt.Header.RootOffset), key, true)
	if err != nil {
		return err
	}
	if res.Kind == btreepage.DeleteNotPresent {
		return ErrKeyNotFound
	}

	newRoot := refOf(res.Leaf, res.Node)
	if res.Node != nil && res.Node.Len() == 0 && len(res.Node.Children) == 1 {
		// Root node collapsed to a single child (spec.md §4.3): that child
		// becomes the new root, one level shallower.
		newRoot = res.Node.Children[0]
		ctx.AddCopied(res.Node.ID)
	}
	bt.Header.RootOffset = uint64(newRoot)
	bt.Header.ElementCount--
	bt.Header.Revision = ctx.Revision()
	return nil
}

// deleteAt descends to ref looking for key. parent/childIdx identify ref's
// position among its siblings (nil/0 at the root) so that, on underflow,
// this call can fetch the adjacent sibling needed to borrow or merge.
// isRoot suppresses underflow handling, per spec.md §4.2/§4.3.
func (bt *BTree) deleteAt(ctx Context, parent *btreepage.Node, childIdx int, ref btreepage.Ref, key []byte, isRoot bool) (btreepage.DeleteResult, error) {
	isNode, err := ctx.IsNode(ref)
	if err != nil {
		return btreepage.DeleteResult{}, err
	}

	if !isNode {
		leaf, err := ctx.GetLeaf(ref)
		if err != nil {
			return btreepage.DeleteResult{}, err
		}
		leftSib, rightSib, err := bt.leafSiblings(ctx, parent, childIdx)
		if err != nil {
			return btreepage.DeleteResult{}, err
		}
		res := leaf.Delete(key, bt.Comparator, bt.Info.Fanout, isRoot, ctx.Revision(), ctx.NextID, leftSib, rightSib)
		bt.stageLeafDelete(ctx, parent, childIdx, ref, res)
		return res, nil
	}

	node, err := ctx.GetNode(ref)
	if err != nil {
		return btreepage.DeleteResult{}, err
	}
	idx := node.ChildIndex(key, bt.Comparator)
	childRes, err := bt.deleteAt(ctx, node, idx, node.Children[idx], key, false)
	if err != nil {
		return btreepage.DeleteResult{}, err
	}

	switch childRes.Kind {
	case btreepage.DeleteNotPresent:
		return childRes, nil
	case btreepage.DeleteRemove:
		newChildRef := refOf(childRes.Leaf, childRes.Node)
		newNode := node.ReplaceChild(idx, newChildRef, ctx.Revision(), ctx.NextID)
		ctx.AddCopied(ref)
		return bt.fixupNode(ctx, parent, childIdx, newNode, isRoot)
	case btreepage.DeleteBorrowed:
		selfRef := refOf(childRes.BorrowedSelfLeaf, childRes.BorrowedSelfNode)
		sibRef := refOf(childRes.BorrowedSiblingLeaf, childRes.BorrowedSiblingNode)
		newNode := node.ApplyBorrowUpdate(idx, childRes.BorrowSide, selfRef, sibRef, childRes.NewSeparator, ctx.Revision(), ctx.NextID)
		ctx.PutNode(newNode)
		ctx.AddCopied(ref)
		return btreepage.DeleteResult{Kind: btreepage.DeleteRemove, Node: newNode}, nil
	case btreepage.DeleteMerged:
		mergedRef := refOf(childRes.MergedLeaf, childRes.MergedNode)
		newNode := node.ApplyMergeUpdate(idx, childRes.MergedSide, mergedRef, ctx.Revision(), ctx.NextID)
		ctx.AddCopied(ref)
		return bt.fixupNode(ctx, parent, childIdx, newNode, isRoot)
	}
	return btreepage.DeleteResult{}, nil
}

// leafSiblings fetches the leaf siblings adjacent to parent.Children[childIdx],
// used so Leaf.Delete can borrow/merge without knowing about its parent.
func (bt *BTree) leafSiblings(ctx Context, parent *btreepage.Node, childIdx int) (left, right *btreepage.Leaf, err error) {
	if parent == nil {
		return nil, nil, nil
	}
	if childIdx > 0 {
		if left, err = ctx.GetLeaf(parent.Children[childIdx-1]); err != nil {
			return nil, nil, err
		}
	}
	if childIdx < parent.Len() {
		if right, err = ctx.GetLeaf(parent.Children[childIdx+1]); err != nil {
			return nil, nil, err
		}
	}
	return left, right, nil
}

func (bt *BTree) stageLeafDelete(ctx Context, parent *btreepage.Node, childIdx int, ref btreepage.Ref, res btreepage.DeleteResult) {
	switch res.Kind {
	case btreepage.DeleteRemove:
		ctx.PutLeaf(res.Leaf)
		ctx.AddCopied(ref)
	case btreepage.DeleteBorrowed:
		ctx.PutLeaf(res.BorrowedSelfLeaf)
		ctx.PutLeaf(res.BorrowedSiblingLeaf)
		ctx.AddCopied(ref)
		ctx.AddCopied(siblingRef(parent, childIdx, res.BorrowSide))
	case btreepage.DeleteMerged:
		ctx.PutLeaf(res.MergedLeaf)
		ctx.AddCopied(ref)
		ctx.AddCopied(siblingRef(parent, childIdx, res.MergedSide))
	}
}

func siblingRef(parent *btreepage.Node, childIdx int, side btreepage.Side) btreepage.Ref {
	if side == btreepage.SideLeft {
		return parent.Children[childIdx-1]
	}
	return parent.Children[childIdx+1]
}

// fixupNode handles a node that may have dropped below minFill after a
// child-side Remove or Merge. If it is still healthy (or is the root, which
// has no minimum), it is returned as Remove; otherwise this borrows from or
// merges with a sibling node, mirroring Leaf.Delete's own decision tree one
// level up.
func (bt *BTree) fixupNode(ctx Context, parent *btreepage.Node, childIdx int, node *btreepage.Node, isRoot bool) (btreepage.DeleteResult, error) {
	if isRoot || node.Len() >= minFill(bt.Info.Fanout) {
		ctx.PutNode(node)
		return btreepage.DeleteResult{Kind: btreepage.DeleteRemove, Node: node}, nil
	}

	var leftSib, rightSib *btreepage.Node
	var err error
	if childIdx > 0 {
		if leftSib, err = ctx.GetNode(parent.Children[childIdx-1]); err != nil {
			return btreepage.DeleteResult{}, err
		}
	}
	if childIdx < parent.Len() {
		if rightSib, err = ctx.GetNode(parent.Children[childIdx+1]); err != nil {
			return btreepage.DeleteResult{}, err
		}
	}

	try := func(sibling *btreepage.Node, side btreepage.Side) (btreepage.DeleteResult, bool) {
		if sibling == nil {
			return btreepage.DeleteResult{}, false
		}
		var sep []byte
		if side == btreepage.SideLeft {
			sep = parent.Keys[childIdx-1]
		} else {
			sep = parent.Keys[childIdx]
		}
		newSelf, newSibling, newSep, ok := node.Borrow(sibling, side, sep, bt.Info.Fanout, ctx.Revision(), ctx.NextID)
		if !ok {
			return btreepage.DeleteResult{}, false
		}
		ctx.PutNode(newSelf)
		ctx.PutNode(newSibling)
		ctx.AddCopied(siblingRef(parent, childIdx, side))
		return btreepage.DeleteResult{
			Kind:                btreepage.DeleteBorrowed,
			BorrowedSelfNode:    newSelf,
			BorrowedSiblingNode: newSibling,
			BorrowSide:          side,
			NewSeparator:        newSep,
		}, true
	}

	leftLen, rightLen := -1, -1
	if leftSib != nil {
		leftLen = leftSib.Len()
	}
	if rightSib != nil {
		rightLen = rightSib.Len()
	}

	// Prefer the larger sibling; on a tie, prefer the left (spec.md §4.3).
	if leftLen >= rightLen {
		if res, ok := try(leftSib, btreepage.SideLeft); ok {
			return res, nil
		}
		if res, ok := try(rightSib, btreepage.SideRight); ok {
			return res, nil
		}
	} else {
		if res, ok := try(rightSib, btreepage.SideRight); ok {
			return res, nil
		}
		if res, ok := try(leftSib, btreepage.SideLeft); ok {
			return res, nil
		}
	}

	if leftSib != nil {
		sep := parent.Keys[childIdx-1]
		merged := btreepage.Merge(leftSib, node, sep, ctx.NextID(), ctx.Revision())
		ctx.PutNode(merged)
		ctx.AddCopied(siblingRef(parent, childIdx, btreepage.SideLeft))
		return btreepage.DeleteResult{Kind: btreepage.DeleteMerged, MergedNode: merged, MergedSide: btreepage.SideLeft}, nil
	}
	if rightSib != nil {
		sep := parent.Keys[childIdx]
		merged := btreepage.Merge(node, rightSib, sep, ctx.NextID(), ctx.Revision())
		ctx.PutNode(merged)
		ctx.AddCopied(siblingRef(parent, childIdx, btreepage.SideRight))
		return btreepage.DeleteResult{Kind: btreepage.DeleteMerged, MergedNode: merged, MergedSide: btreepage.SideRight}, nil
	}
	ctx.PutNode(node)
	return btreepage.DeleteResult{Kind: btreepage.DeleteRemove, Node: node}, nil
}

// refOf picks whichever of a leaf/node pointer is non-nil and returns its
// id — a small helper for the many places a CoW result carries "one of
// these two is set" (spec.md §9's tagged-variant guidance in practice).
func refOf(leaf *btreepage.Leaf, node *btreepage.Node) btreepage.Ref {
	if leaf != nil {
		return leaf.ID
	}
	if node != nil {
		return node.ID
	}
	return btreepage.NoRef
}
