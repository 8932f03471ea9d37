package btreepage

// Node is an internal B+tree page: n keys and n+1 child references. Child
// c[i] covers keys < k[i]; the final child c[n] covers keys >= k[n-1].
type Node struct {
	ID       Ref
	Revision uint64
	Keys     [][]byte
	Children []Ref
}

// NewNode returns an empty node with the given pending id and revision.
func NewNode(id Ref, revision uint64) *Node {
	return &Node{ID: id, Revision: revision}
}

// Clone returns a deep copy of the node (keys deep-copied, children
// reslotted) under a new id and revision.
func (n *Node) Clone(newID Ref, revision uint64) *Node {
	children := make([]Ref, len(n.Children))
	copy(children, n.Children)
	return &Node{
		ID:       newID,
		Revision: revision,
		Keys:     copyBytesSlice(n.Keys),
		Children: children,
	}
}

// Len returns the separator key count n (n+1 children).
func (n *Node) Len() int { return len(n.Keys) }

// ChildIndex returns which child covers key, per the branch invariant in
// spec.md §3: the first index i such that key < keys[i], or len(Keys) if
// key is >= every separator.
func (n *Node) ChildIndex(key []byte, cmp Comparator) int {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.Keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// InsertChild installs a new separator key with its right child at the
// position implied by the key's sort order, on a copy of the node (or
// splits the node if it is already at fanout capacity). Used when a child
// split bubbles a pivot up to its parent.
func (n *Node) InsertChild(pivot []byte, rightChild Ref, cmp Comparator, fanout int, revision uint64, allocID func() Ref) InsertResult {
	pos := n.ChildIndex(pivot, cmp)
	if n.Len() < fanout {
		clone := n.Clone(allocID(), revision)
		clone.Keys = insertAt(clone.Keys, pos, copyBytes(pivot))
		clone.Children = insertAt(clone.Children, pos+1, rightChild)
		return InsertResult{Kind: InsertModify, Node: clone}
	}
	return n.splitWithInsertion(pivot, rightChild, pos, revision, allocID)
}

// splitWithInsertion splits a full node while inserting (pivot, rightChild)
// at logical position pos, promoting the true middle key rather than
// copying it into either half (spec.md §4.3: "do not duplicate it").
func (n *Node) splitWithInsertion(pivot []byte, rightChild Ref, pos int, revision uint64, allocID func() Ref) InsertResult {
	totalKeys := n.Len() + 1
	keys := make([][]byte, 0, totalKeys)
	children := make([]Ref, 0, totalKeys+1)

	children = append(children, n.Children[0])
	for i := 0; i < n.Len(); i++ {
		if i == pos {
			keys = append(keys, pivot)
			children = append(children, rightChild)
		}
		keys = append(keys, n.Keys[i])
		children = append(children, n.Children[i+1])
	}
	if pos == n.Len() {
		keys = append(keys, pivot)
		children = append(children, rightChild)
	}

	mid := len(keys) / 2
	medianKey := copyBytes(keys[mid])

	left := NewNode(allocID(), revision)
	left.Keys = copyBytesSlice(keys[:mid])
	left.Children = append([]Ref{}, children[:mid+1]...)

	right := NewNode(allocID(), revision)
	right.Keys = copyBytesSlice(keys[mid+1:])
	right.Children = append([]Ref{}, children[mid+1:]...)

	return InsertResult{
		Kind:      InsertSplit,
		LeftNode:  left,
		RightNode: right,
		Pivot:     medianKey,
	}
}

// ReplaceChildAndInsertPivot is the combined operation the BTree layer uses
// when a child at childIdx splits: it installs leftRef in the slot that
// used to hold the pre-split child, then inserts (pivot, rightRef)
// immediately to its right — all on a single clone, so a child split costs
// exactly one new node version (or a further split of this node) rather
// than two. The insertion position is already known (the caller descended
// to childIdx via its own comparator), so no comparator is needed here.
func (n *Node) ReplaceChildAndInsertPivot(childIdx int, leftRef Ref, pivot []byte, rightRef Ref, fanout int, revision uint64, allocID func() Ref) InsertResult {
	if n.Len() < fanout {
		clone := n.Clone(allocID(), revision)
		clone.Children[childIdx] = leftRef
		clone.Keys = insertAt(clone.Keys, childIdx, copyBytes(pivot))
		clone.Children = insertAt(clone.Children, childIdx+1, rightRef)
		return InsertResult{Kind: InsertModify, Node: clone}
	}

	working := n.Clone(n.ID, revision)
	working.Children[childIdx] = leftRef
	return working.splitWithInsertion(pivot, rightRef, childIdx, revision, allocID)
}

// DeleteChild removes the separator/child pair identified by the child-side
// merge at index childIdx (the child that vanished) on a copy of the node.
// If the result would drop the node below minFill, the caller must still
// borrow/merge the node itself using Borrow/Merge below; DeleteChild only
// performs the local removal.
func (n *Node) DeleteChild(childIdx int, revision uint64, allocID func() Ref) *Node {
	clone := n.Clone(allocID(), revision)
	// Removing child i also removes separator key i-1 if i>0, else key 0
	// (which, per the branch invariant, separated child 0 from child 1).
	keyIdx := childIdx - 1
	if keyIdx < 0 {
		keyIdx = 0
	}
	clone.Keys = deleteAt(clone.Keys, keyIdx)
	clone.Children = deleteAt(clone.Children, childIdx)
	return clone
}

// UpdateSeparator replaces the key at index i on a copy of the node; used
// when a child-side borrow changes the boundary between two children.
func (n *Node) UpdateSeparator(i int, key []byte, revision uint64, allocID func() Ref) *Node {
	clone := n.Clone(allocID(), revision)
	clone.Keys[i] = copyBytes(key)
	return clone
}

// ReplaceChild swaps the child reference at index i on a copy of the node,
// used after descending and receiving a Modify/Remove/Borrowed result for
// that child.
func (n *Node) ReplaceChild(i int, newRef Ref, revision uint64, allocID func() Ref) *Node {
	clone := n.Clone(allocID(), revision)
	clone.Children[i] = newRef
	return clone
}

// Borrow attempts to shift one separator/child from sibling (on the given
// side) into self, the way Leaf.borrowFrom does for values. minFill is the
// node's own fanout-derived floor; sibling must have more than minFill
// separators to spare one.
func (self *Node) Borrow(sibling *Node, side Side, parentSeparator []byte, fanout int, revision uint64, allocID func() Ref) (newSelf, newSibling *Node, newSeparator []byte, ok bool) {
	if sibling.Len() <= minFill(fanout) {
		return nil, nil, nil, false
	}

	newSelf = self.Clone(allocID(), revision)
	newSibling = sibling.Clone(allocID(), revision)

	if side == SideLeft {
		// Rotate: sibling's last child moves to self's front; the old
		// parent separator becomes self's new first key; sibling's last
		// key becomes the new parent separator.
		lastKeyIdx := newSibling.Len() - 1
		lastChildIdx := len(newSibling.Children) - 1

		movedChild := newSibling.Children[lastChildIdx]
		promoted := newSibling.Keys[lastKeyIdx]

		newSibling.Keys = newSibling.Keys[:lastKeyIdx]
		newSibling.Children = newSibling.Children[:lastChildIdx]

		newSelf.Keys = insertAt(newSelf.Keys, 0, copyBytes(parentSeparator))
		newSelf.Children = insertAt(newSelf.Children, 0, movedChild)

		newSeparator = copyBytes(promoted)
	} else {
		movedChild := newSibling.Children[0]
		promoted := newSibling.Keys[0]

		newSibling.Keys = deleteAt(newSibling.Keys, 0)
		newSibling.Children = deleteAt(newSibling.Children, 0)

		newSelf.Keys = append(newSelf.Keys, copyBytes(parentSeparator))
		newSelf.Children = append(newSelf.Children, movedChild)

		newSeparator = copyBytes(promoted)
	}
	return newSelf, newSibling, newSeparator, true
}

// ApplyBorrowUpdate installs the results of a child-level Borrow (selfRef,
// siblingRef, and the new separator key) into a copy of this node, which is
// the parent of both children. side tells it whether the sibling sits to
// the left or right of the child at childIdx, which determines which
// separator slot to overwrite.
func (n *Node) ApplyBorrowUpdate(childIdx int, side Side, selfRef, siblingRef Ref, newSeparator []byte, revision uint64, allocID func() Ref) *Node {
	clone := n.Clone(allocID(), revision)
	clone.Children[childIdx] = selfRef
	if side == SideLeft {
		clone.Children[childIdx-1] = siblingRef
		clone.Keys[childIdx-1] = copyBytes(newSeparator)
	} else {
		clone.Children[childIdx+1] = siblingRef
		clone.Keys[childIdx] = copyBytes(newSeparator)
	}
	return clone
}

// ApplyMergeUpdate installs the result of a child-level Merge (a single
// mergedRef replacing the child at childIdx and its sibling on the given
// side) into a copy of this node, dropping the separator key that used to
// distinguish them.
func (n *Node) ApplyMergeUpdate(childIdx int, side Side, mergedRef Ref, revision uint64, allocID func() Ref) *Node {
	clone := n.Clone(allocID(), revision)
	if side == SideLeft {
		clone.Children[childIdx-1] = mergedRef
		clone.Keys = deleteAt(clone.Keys, childIdx-1)
		clone.Children = deleteAt(clone.Children, childIdx)
	} else {
		clone.Children[childIdx] = mergedRef
		clone.Keys = deleteAt(clone.Keys, childIdx)
		clone.Children = deleteAt(clone.Children, childIdx+1)
	}
	return clone
}

// Merge combines left and right into a single node, re-inserting the
// parent separator between them (the separator that used to distinguish
// their subtrees is not stored in either child, per the branch invariant,
// so it must be threaded back in).
func Merge(left, right *Node, parentSeparator []byte, id Ref, revision uint64) *Node {
	merged := NewNode(id, revision)
	merged.Keys = append(merged.Keys, copyBytesSlice(left.Keys)...)
	merged.Keys = append(merged.Keys, copyBytes(parentSeparator))
	merged.Keys = append(merged.Keys, copyBytesSlice(right.Keys)...)
	merged.Children = append(merged.Children, left.Children...)
	merged.Children = append(merged.Children, right.Children...)
	return merged
}
