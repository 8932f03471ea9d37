package bulkload

import (
	"bytes"

	"mavi/btreepage"
	"mavi/pageio"
)

// child is one already-durable page produced by a lower level: its
// smallest key (for the parent's separator) and its final on-disk offset.
type child struct {
	key    []byte
	offset uint64
}

// Build constructs a dense B+tree from src, which must yield exactly n
// entries in strictly ascending, deduplicated key order, and returns the
// new root's durable offset and the element count written. cmp is the
// target tree's comparator, used only to verify src's ordering as it
// streams by (spec.md §4.7 step 2-3: "stream values into leaves in
// order... write pages depth-first-post-order").
func Build(pio *pageio.PageIO, src Source, n, fanout int, revision uint64, cmp btreepage.Comparator) (rootOffset uint64, elementCount int, err error) {
	if fanout < 4 {
		return 0, 0, ErrInvalidFanout
	}
	if n <= 0 {
		return 0, 0, ErrEmptyInput
	}
	if cmp == nil {
		cmp = bytes.Compare
	}

	leafSizes := computeLevel(n, fanout)
	children := make([]child, 0, len(leafSizes))
	var prevKey []byte
	seen := 0

	for _, size := range leafSizes {
		leaf := btreepage.NewLeaf(0, revision)
		for i := 0; i < size; i++ {
			e, ok, err := src.Next()
			if err != nil {
				return 0, 0, err
			}
			if !ok {
				return 0, 0, ErrEmptyInput
			}
			if seen > 0 && cmp(prevKey, e.Key) >= 0 {
				return 0, 0, ErrNotSorted
			}
			prevKey = e.Key
			seen++
			leaf.Keys = append(leaf.Keys, e.Key)
			leaf.Values = append(leaf.Values, e.Value)
		}
		offset, err := writeLeaf(pio, leaf)
		if err != nil {
			return 0, 0, err
		}
		children = append(children, child{key: leaf.Keys[0], offset: offset})
	}
	if seen != n {
		return 0, 0, ErrEmptyInput
	}

	for len(children) > 1 {
		children, err = buildNodeLevel(pio, children, fanout, revision)
		if err != nil {
			return 0, 0, err
		}
	}
	return children[0].offset, n, nil
}

// buildNodeLevel groups kids into parent pages of at most fanout+1
// children each (spec.md §4.7 step 1: "nodes... consume up to F+1
// children per page using the same balancing rule"), writing each parent
// depth-first before returning the next level up's child list.
func buildNodeLevel(pio *pageio.PageIO, kids []child, fanout int, revision uint64) ([]child, error) {
	sizes := computeLevel(len(kids), fanout+1)
	out := make([]child, 0, len(sizes))
	idx := 0
	for _, size := range sizes {
		group := kids[idx : idx+size]
		idx += size

		node := btreepage.NewNode(0, revision)
		node.Children = make([]btreepage.Ref, 0, size)
		for i, k := range group {
			node.Children = append(node.Children, btreepage.Ref(k.offset))
			if i > 0 {
				node.Keys = append(node.Keys, k.key)
			}
		}
		offset, err := writeNode(pio, node)
		if err != nil {
			return nil, err
		}
		out = append(out, child{key: group[0].key, offset: offset})
	}
	return out, nil
}

func writeLeaf(pio *pageio.PageIO, leaf *btreepage.Leaf) (uint64, error) {
	buf := leaf.Encode()
	offsets, err := pio.Allocate(len(buf))
	if err != nil {
		return 0, err
	}
	leaf.ID = btreepage.Ref(offsets[0])
	buf = leaf.Encode()
	if err := pio.WriteChain(offsets, buf); err != nil {
		return 0, err
	}
	return offsets[0], nil
}

func writeNode(pio *pageio.PageIO, node *btreepage.Node) (uint64, error) {
	buf := node.Encode()
	offsets, err := pio.Allocate(len(buf))
	if err != nil {
		return 0, err
	}
	node.ID = btreepage.Ref(offsets[0])
	buf = node.Encode()
	if err := pio.WriteChain(offsets, buf); err != nil {
		return 0, err
	}
	return offsets[0], nil
}
