package btree

import "mavi/btreepage"

// cursorFrame is one level of the path from root to the cursor's current
// leaf: the node at this level and the child index last descended into.
type cursorFrame struct {
	node *btreepage.Node
	idx  int
}

// Cursor walks a BTree's entries in key order against a single PageSource,
// rebuilding its path on demand rather than following leaf-to-leaf
// pointers — mavi's leaves carry no sibling pointer (spec.md §6's page
// layout has none), so ascending to the lowest frame with an unvisited
// right sibling and descending back down is how Next/Prev cross a leaf
// boundary. Grounded on the teacher's pkg/turdb btree cursor, adapted from
// a disk-resident sibling-linked leaf chain to a from-root path rebuild.
type Cursor struct {
	bt   *BTree
	src  PageSource
	path []cursorFrame
	leaf *btreepage.Leaf
	pos  int
	done bool
}

// Browse opens a cursor over bt's current snapshot. A nil start positions
// the cursor on the first entry; otherwise the cursor starts at the first
// key >= start.
func Browse(bt *BTree, src PageSource, start []byte) (*Cursor, error) {
	c := &Cursor{bt: bt, src: src}
	if start == nil {
		if err := c.descendLeftmost(btreepage.Ref(bt.Header.RootOffset)); err != nil {
			return nil, err
		}
	} else {
		if err := c.descendLeftBound(btreepage.Ref(bt.Header.RootOffset), start); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// First repositions the cursor at the tree's first entry.
func (c *Cursor) First() error {
	c.path = c.path[:0]
	c.leaf, c.pos, c.done = nil, 0, false
	return c.descendLeftmost(btreepage.Ref(c.bt.Header.RootOffset))
}

// Last repositions the cursor at the tree's last entry.
func (c *Cursor) Last() error {
	c.path = c.path[:0]
	c.leaf, c.pos, c.done = nil, 0, false
	if err := c.descendRightmost(btreepage.Ref(c.bt.Header.RootOffset)); err != nil {
		return err
	}
	if c.leaf != nil && len(c.leaf.Keys) > 0 {
		c.pos = len(c.leaf.Keys) - 1
	}
	return nil
}

func (c *Cursor) descendLeftmost(ref btreepage.Ref) error {
	for {
		isNode, err := c.src.IsNode(ref)
		if err != nil {
			return err
		}
		if !isNode {
			leaf, err := c.src.GetLeaf(ref)
			if err != nil {
				return err
			}
			c.leaf = leaf
			c.pos = 0
			c.done = len(leaf.Keys) == 0
			return nil
		}
		node, err := c.src.GetNode(ref)
		if err != nil {
			return err
		}
		c.path = append(c.path, cursorFrame{node: node, idx: 0})
		ref = node.Children[0]
	}
}

func (c *Cursor) descendRightmost(ref btreepage.Ref) error {
	for {
		isNode, err := c.src.IsNode(ref)
		if err != nil {
			return err
		}
		if !isNode {
			leaf, err := c.src.GetLeaf(ref)
			if err != nil {
				return err
			}
			c.leaf = leaf
			c.done = len(leaf.Keys) == 0
			return nil
		}
		node, err := c.src.GetNode(ref)
		if err != nil {
			return err
		}
		last := len(node.Children) - 1
		c.path = append(c.path, cursorFrame{node: node, idx: last})
		ref = node.Children[last]
	}
}

func (c *Cursor) descendLeftBound(ref btreepage.Ref, key []byte) error {
	for {
		isNode, err := c.src.IsNode(ref)
		if err != nil {
			return err
		}
		if !isNode {
			leaf, err := c.src.GetLeaf(ref)
			if err != nil {
				return err
			}
			c.leaf = leaf
			pos := leaf.Search(key, c.bt.Comparator)
			idx, found := btreepage.Found(pos)
			if !found {
				idx = pos
			}
			c.pos = idx
			c.done = idx >= len(leaf.Keys)
			if c.done {
				return c.advancePastLeaf()
			}
			return nil
		}
		node, err := c.src.GetNode(ref)
		if err != nil {
			return err
		}
		idx := node.ChildIndex(key, c.bt.Comparator)
		c.path = append(c.path, cursorFrame{node: node, idx: idx})
		ref = node.Children[idx]
	}
}

// Valid reports whether the cursor currently sits on an entry.
func (c *Cursor) Valid() bool {
	return !c.done && c.leaf != nil && c.pos < len(c.leaf.Keys)
}

// Key returns the current entry's key. Valid must be true.
func (c *Cursor) Key() []byte { return c.leaf.Keys[c.pos] }

// Value returns the current entry's value. Valid must be true.
func (c *Cursor) Value() []byte { return c.leaf.Values[c.pos] }

// Next advances the cursor to the following entry, crossing into the next
// leaf if the current one is exhausted.
func (c *Cursor) Next() error {
	if c.done {
		return nil
	}
	c.pos++
	if c.pos < len(c.leaf.Keys) {
		return nil
	}
	return c.advancePastLeaf()
}

// advancePastLeaf climbs the path to the nearest ancestor with an
// unvisited right child, then descends leftmost from there.
func (c *Cursor) advancePastLeaf() error {
	for len(c.path) > 0 {
		top := &c.path[len(c.path)-1]
		top.idx++
		if top.idx < len(top.node.Children) {
			if err := c.descendLeftmost(top.node.Children[top.idx]); err != nil {
				return err
			}
			return nil
		}
		c.path = c.path[:len(c.path)-1]
	}
	c.done = true
	c.leaf = nil
	return nil
}

// Prev moves the cursor to the preceding entry, crossing into the previous
// leaf if positioned before the current one's first entry.
func (c *Cursor) Prev() error {
	if c.leaf != nil && c.pos > 0 {
		c.pos--
		return nil
	}
	for len(c.path) > 0 {
		top := &c.path[len(c.path)-1]
		top.idx--
		if top.idx >= 0 {
			if err := c.descendRightmost(top.node.Children[top.idx]); err != nil {
				return err
			}
			if c.leaf != nil && len(c.leaf.Keys) > 0 {
				c.pos = len(c.leaf.Keys) - 1
				c.done = false
			}
			return nil
		}
		c.path = c.path[:len(c.path)-1]
	}
	c.done = true
	return nil
}

// Browse is BTree's method form of the package-level Browse, kept so
// callers holding only a *BTree need not import the free function.
func (bt *BTree) Browse(src PageSource, start []byte) (*Cursor, error) {
	return Browse(bt, src, start)
}
