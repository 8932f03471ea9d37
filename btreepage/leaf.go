package btreepage

// Leaf is a B+tree leaf page: parallel ordered arrays of keys and values,
// holding no children. See spec.md §6 for the on-disk layout; Encode/Decode
// in codec.go implement that layout exactly.
type Leaf struct {
	ID       Ref
	Revision uint64
	Keys     [][]byte
	Values   [][]byte
}

// NewLeaf returns an empty leaf with the given pending id and revision.
func NewLeaf(id Ref, revision uint64) *Leaf {
	return &Leaf{ID: id, Revision: revision}
}

// Clone returns a deep copy of the leaf under a new id and revision, ready
// for in-place mutation by Insert/Delete/Borrow/Merge.
func (l *Leaf) Clone(newID Ref, revision uint64) *Leaf {
	return &Leaf{
		ID:       newID,
		Revision: revision,
		Keys:     copyBytesSlice(l.Keys),
		Values:   copyBytesSlice(l.Values),
	}
}

// Len returns the element count n.
func (l *Leaf) Len() int { return len(l.Keys) }

// Search locates key among the leaf's sorted keys; see the search() helper
// for the encoding of the return value.
func (l *Leaf) Search(key []byte, cmp Comparator) int {
	return search(l.Keys, key, cmp)
}

// Get returns the value stored for key, if present.
func (l *Leaf) Get(key []byte, cmp Comparator) ([]byte, bool) {
	if i, ok := Found(l.Search(key, cmp)); ok {
		return l.Values[i], true
	}
	return nil, false
}

// InsertResultKind discriminates the outcome of Leaf.Insert / Node.Insert.
type InsertResultKind int

const (
	InsertModify InsertResultKind = iota
	InsertSplit
	InsertExists
)

// InsertResult is the tagged result of an insert attempt (spec.md §9: model
// per-variant insert/delete results as tagged unions, dispatched by
// switching on Kind rather than by virtual call).
type InsertResult struct {
	Kind InsertResultKind

	// Valid when Kind == InsertModify: the new page replacing the receiver.
	Leaf *Leaf
	Node *Node

	// Valid when Kind == InsertSplit: the two pages replacing the receiver,
	// and the pivot key separating them (first key of Right).
	LeftLeaf  *Leaf
	RightLeaf *Leaf
	LeftNode  *Node
	RightNode *Node
	Pivot     []byte
}

// Insert attempts to add (key, value) to a copy of the leaf. allocID is
// called once if a new page is needed (Modify) or twice (Split, for left
// and right); it is never called for Exists.
func (l *Leaf) Insert(key, value []byte, cmp Comparator, fanout int, revision uint64, allocID func() Ref) InsertResult {
	pos := l.Search(key, cmp)
	if i, ok := Found(pos); ok {
		_ = i
		return InsertResult{Kind: InsertExists}
	}

	if l.Len() < fanout {
		clone := l.Clone(allocID(), revision)
		clone.Keys = insertAt(clone.Keys, pos, copyBytes(key))
		clone.Values = insertAt(clone.Values, pos, copyBytes(value))
		return InsertResult{Kind: InsertModify, Leaf: clone}
	}

	// Full: split. Build the post-insert sequence logically without
	// mutating the receiver, then divide it roughly in half.
	total := l.Len() + 1
	mid := total / 2

	left := NewLeaf(allocID(), revision)
	right := NewLeaf(allocID(), revision)

	inserted := false
	for i := 0; i < total; i++ {
		var k, v []byte
		if !inserted && (i == pos) {
			k, v = key, value
			inserted = true
		} else {
			srcIdx := i
			if inserted {
				srcIdx--
			}
			k, v = l.Keys[srcIdx], l.Values[srcIdx]
		}
		if i < mid {
			left.Keys = append(left.Keys, copyBytes(k))
			left.Values = append(left.Values, copyBytes(v))
		} else {
			right.Keys = append(right.Keys, copyBytes(k))
			right.Values = append(right.Values, copyBytes(v))
		}
	}

	return InsertResult{
		Kind:      InsertSplit,
		LeftLeaf:  left,
		RightLeaf: right,
		Pivot:     copyBytes(right.Keys[0]),
	}
}

// Replace updates the value for an existing key in a copied leaf, returning
// (nil, false) without copying if key is absent. BTree does not call it:
// BTree.Insert rejects a key that is already present.
func (l *Leaf) Replace(key, value []byte, cmp Comparator, revision uint64, allocID func() Ref) (*Leaf, bool) {
	i, ok := Found(l.Search(key, cmp))
	if !ok {
		return nil, false
	}
	clone := l.Clone(allocID(), revision)
	clone.Values[i] = copyBytes(value)
	return clone, true
}

// DeleteResultKind discriminates the outcome of Leaf.Delete / Node.Delete.
type DeleteResultKind int

const (
	DeleteNotPresent DeleteResultKind = iota
	DeleteRemove
	DeleteBorrowed
	DeleteMerged
)

// DeleteResult is the tagged result of a delete attempt.
type DeleteResult struct {
	Kind DeleteResultKind

	// Valid when Kind == DeleteRemove: the new page with the element gone.
	Leaf *Leaf
	Node *Node

	// Valid when Kind == DeleteBorrowed: the updated receiver and the
	// updated sibling it borrowed from, plus which side the sibling was on
	// (so the parent knows which separator key to refresh).
	BorrowedSelfLeaf    *Leaf
	BorrowedSiblingLeaf *Leaf
	BorrowedSelfNode    *Node
	BorrowedSiblingNode *Node
	BorrowSide          Side
	// NewSeparator is the key the parent should install between the
	// receiver and the sibling after the borrow.
	NewSeparator []byte

	// Valid when Kind == DeleteMerged: the single page resulting from
	// merging the receiver with its sibling, and which side the sibling
	// was on (so the parent removes the correct separator/child).
	MergedLeaf  *Leaf
	MergedNode  *Node
	MergedSide  Side
}

// Delete removes key from a copy of the leaf, applying spec.md §4.2's
// remove/borrow/merge decision tree. isRoot suppresses the minimum-fill
// requirement. left/right are the adjacent siblings (nil if the receiver is
// an edge page) — Delete never mutates them directly; on a Borrowed or
// Merged result it returns new versions for the caller to install.
func (l *Leaf) Delete(key []byte, cmp Comparator, fanout int, isRoot bool, revision uint64, allocID func() Ref, left, right *Leaf) DeleteResult {
	i, ok := Found(l.Search(key, cmp))
	if !ok {
		return DeleteResult{Kind: DeleteNotPresent}
	}

	clone := l.Clone(allocID(), revision)
	clone.Keys = deleteAt(clone.Keys, i)
	clone.Values = deleteAt(clone.Values, i)

	if isRoot || clone.Len() >= minFill(fanout) {
		return DeleteResult{Kind: DeleteRemove, Leaf: clone}
	}

	// Try to borrow from the larger sibling, preferring the left on a tie
	// per spec.md §4.3's tie-break rule; if that sibling cannot spare an
	// element, try the other one.
	if left != nil && right != nil {
		if left.Len() >= right.Len() {
			if res, ok := clone.borrowFrom(left, SideLeft, fanout, revision, allocID); ok {
				return res
			}
			if res, ok := clone.borrowFrom(right, SideRight, fanout, revision, allocID); ok {
				return res
			}
		} else {
			if res, ok := clone.borrowFrom(right, SideRight, fanout, revision, allocID); ok {
				return res
			}
			if res, ok := clone.borrowFrom(left, SideLeft, fanout, revision, allocID); ok {
				return res
			}
		}
	} else if left != nil {
		if res, ok := clone.borrowFrom(left, SideLeft, fanout, revision, allocID); ok {
			return res
		}
	} else if right != nil {
		if res, ok := clone.borrowFrom(right, SideRight, fanout, revision, allocID); ok {
			return res
		}
	}

	// No sibling can spare an element: merge instead.
	if left != nil {
		merged := mergeLeaves(left, clone, allocID(), revision)
		return DeleteResult{Kind: DeleteMerged, MergedLeaf: merged, MergedSide: SideLeft}
	}
	if right != nil {
		merged := mergeLeaves(clone, right, allocID(), revision)
		return DeleteResult{Kind: DeleteMerged, MergedLeaf: merged, MergedSide: SideRight}
	}

	// No siblings at all: this is the sole leaf (root's single child after
	// collapse, or the root leaf itself); underflow below min-fill is
	// tolerated since there is nothing to borrow from or merge with.
	return DeleteResult{Kind: DeleteRemove, Leaf: clone}
}

// borrowFrom attempts to shift one element from sibling (on the given side)
// into self. Succeeds only if sibling can spare an element while staying
// >= minFill.
func (self *Leaf) borrowFrom(sibling *Leaf, side Side, fanout int, revision uint64, allocID func() Ref) (DeleteResult, bool) {
	if sibling.Len() <= minFill(fanout) {
		return DeleteResult{}, false
	}

	newSelf := self.Clone(allocID(), revision)
	newSibling := sibling.Clone(allocID(), revision)

	if side == SideLeft {
		// Borrow the sibling's largest element, prepend to self.
		lastIdx := newSibling.Len() - 1
		k, v := newSibling.Keys[lastIdx], newSibling.Values[lastIdx]
		newSibling.Keys = newSibling.Keys[:lastIdx]
		newSibling.Values = newSibling.Values[:lastIdx]
		newSelf.Keys = insertAt(newSelf.Keys, 0, k)
		newSelf.Values = insertAt(newSelf.Values, 0, v)
	} else {
		// Borrow the sibling's smallest element, append to self.
		k, v := newSibling.Keys[0], newSibling.Values[0]
		newSibling.Keys = deleteAt(newSibling.Keys, 0)
		newSibling.Values = deleteAt(newSibling.Values, 0)
		newSelf.Keys = append(newSelf.Keys, k)
		newSelf.Values = append(newSelf.Values, v)
	}

	var newSeparator []byte
	if side == SideLeft {
		newSeparator = copyBytes(newSelf.Keys[0])
	} else {
		newSeparator = copyBytes(newSibling.Keys[0])
	}

	return DeleteResult{
		Kind:                DeleteBorrowed,
		BorrowedSelfLeaf:    newSelf,
		BorrowedSiblingLeaf: newSibling,
		BorrowSide:          side,
		NewSeparator:        newSeparator,
	}, true
}

func mergeLeaves(left, right *Leaf, id Ref, revision uint64) *Leaf {
	merged := NewLeaf(id, revision)
	merged.Keys = append(merged.Keys, copyBytesSlice(left.Keys)...)
	merged.Keys = append(merged.Keys, copyBytesSlice(right.Keys)...)
	merged.Values = append(merged.Values, copyBytesSlice(left.Values)...)
	merged.Values = append(merged.Values, copyBytesSlice(right.Values)...)
	return merged
}
