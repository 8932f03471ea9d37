package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"mavi/btreepage"
	"mavi/serializer"
)

// ErrTruncatedHolder is returned when a ValueHolder's encoded bytes are
// shorter than its mode declares.
var ErrTruncatedHolder = errors.New("btree: truncated value holder")

// DefaultDuplicateThreshold is how many values one key may carry inline in
// its ValueHolder before Add upgrades it to an auxiliary sub-tree
// (spec.md §9 "Duplicate keys": "a value-holder abstraction that
// transparently upgrades to a subtree above a configurable threshold").
const DefaultDuplicateThreshold = 8

const (
	holderModeInline byte = 0
	holderModeTree   byte = 1
)

// ValueHolder stores the set of values one key maps to, presenting the
// same Contains/Add/Remove/Len/Cursor surface whether the values live
// inline in the holder's own encoding or in an auxiliary sub-B+tree. The
// source this spec was distilled from had two separate code paths for
// these cases; mavi collapses them to one abstraction with identical
// observable behavior regardless of which representation is active.
//
// A ValueHolder's encoded form is stored as the value half of an entry in
// some outer tree. The auxiliary sub-tree, once upgraded to, is keyed by
// the duplicate values themselves (deduplicating on insert the same way
// any btree does) with an empty marker value; it is never registered with
// a record manager's tree-of-trees, since its root lives entirely inside
// the outer entry's encoded bytes.
type ValueHolder struct {
	mode   byte
	inline [][]byte

	fanout       int
	rootOffset   uint64 // valid only when mode == holderModeTree
	elementCount int
}

// NewValueHolder returns an empty holder, starting in inline mode.
func NewValueHolder() *ValueHolder {
	return &ValueHolder{mode: holderModeInline}
}

// DecodeValueHolder parses a holder from bytes previously produced by
// Encode.
func DecodeValueHolder(data []byte) (*ValueHolder, error) {
	if len(data) < 1 {
		return nil, ErrTruncatedHolder
	}
	h := &ValueHolder{mode: data[0]}
	rest := data[1:]
	switch h.mode {
	case holderModeInline:
		if len(rest) < 4 {
			return nil, ErrTruncatedHolder
		}
		count := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		h.inline = make([][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(rest) < 4 {
				return nil, ErrTruncatedHolder
			}
			n := binary.BigEndian.Uint32(rest)
			rest = rest[4:]
			if uint32(len(rest)) < n {
				return nil, ErrTruncatedHolder
			}
			v := make([]byte, n)
			copy(v, rest[:n])
			rest = rest[n:]
			h.inline = append(h.inline, v)
		}
	case holderModeTree:
		if len(rest) < 16 {
			return nil, ErrTruncatedHolder
		}
		h.fanout = int(binary.BigEndian.Uint32(rest[0:4]))
		h.rootOffset = binary.BigEndian.Uint64(rest[4:12])
		h.elementCount = int(binary.BigEndian.Uint32(rest[12:16]))
	default:
		return nil, ErrTruncatedHolder
	}
	return h, nil
}

// Encode serializes the holder to the bytes an outer tree stores as one
// key's value.
func (h *ValueHolder) Encode() []byte {
	if h.mode == holderModeTree {
		buf := make([]byte, 17)
		buf[0] = holderModeTree
		binary.BigEndian.PutUint32(buf[1:5], uint32(h.fanout))
		binary.BigEndian.PutUint64(buf[5:13], h.rootOffset)
		binary.BigEndian.PutUint32(buf[13:17], uint32(h.elementCount))
		return buf
	}

	size := 1 + 4
	for _, v := range h.inline {
		size += 4 + len(v)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, holderModeInline)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(h.inline)))
	buf = append(buf, lenBuf[:]...)
	for _, v := range h.inline {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, v...)
	}
	return buf
}

// Len returns the number of values currently held.
func (h *ValueHolder) Len() int {
	if h.mode == holderModeTree {
		return h.elementCount
	}
	return len(h.inline)
}

// tree reconstructs the auxiliary sub-tree descriptor from the holder's
// own state. Valid only once the holder has upgraded.
func (h *ValueHolder) tree() (*BTree, error) {
	info := Info{
		Fanout:            h.fanout,
		Name:              "valueholder",
		KeySerializerID:   serializer.IDBytes,
		ValueSerializerID: serializer.IDUint64,
	}
	header := Header{RootOffset: h.rootOffset, ElementCount: uint64(h.elementCount)}
	return Open(info, header)
}

// Contains reports whether value is a member of this holder.
func (h *ValueHolder) Contains(src PageSource, value []byte) (bool, error) {
	if h.mode == holderModeInline {
		for _, v := range h.inline {
			if bytes.Equal(v, value) {
				return true, nil
			}
		}
		return false, nil
	}
	bt, err := h.tree()
	if err != nil {
		return false, err
	}
	_, ok, err := bt.Get(src, value)
	return ok, err
}

// Add inserts value into the holder, upgrading from inline to an
// auxiliary sub-tree once adding it would exceed threshold (0 picks
// DefaultDuplicateThreshold). Adding a value already present is a no-op,
// since a ValueHolder is a set, not a multiset.
func (h *ValueHolder) Add(ctx Context, value []byte, threshold int) error {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	if h.mode == holderModeTree {
		bt, err := h.tree()
		if err != nil {
			return err
		}
		if err := bt.Insert(ctx, value, nil); err != nil && err != ErrKeyExists {
			return err
		}
		h.syncFrom(bt)
		return nil
	}

	for _, v := range h.inline {
		if bytes.Equal(v, value) {
			return nil
		}
	}
	if len(h.inline)+1 <= threshold {
		h.inline = append(h.inline, append([]byte(nil), value...))
		return nil
	}
	return h.upgrade(ctx, value)
}

// upgrade moves every inline value into a freshly bootstrapped auxiliary
// sub-tree, adds value, and switches the holder to holderModeTree.
func (h *ValueHolder) upgrade(ctx Context, value []byte) error {
	fanout := DefaultDuplicateThreshold * 2
	bt, err := New("valueholder", serializer.IDBytes, serializer.IDUint64, fanout)
	if err != nil {
		return err
	}
	leaf := btreepage.NewLeaf(ctx.NextID(), ctx.Revision())
	ctx.PutLeaf(leaf)
	bt.Header.RootOffset = uint64(leaf.ID)

	pending := append(append([][]byte(nil), h.inline...), value)
	for _, v := range pending {
		if err := bt.Insert(ctx, v, nil); err != nil && err != ErrKeyExists {
			return err
		}
	}

	h.mode = holderModeTree
	h.inline = nil
	h.syncFrom(bt)
	return nil
}

func (h *ValueHolder) syncFrom(bt *BTree) {
	h.rootOffset = bt.Header.RootOffset
	h.elementCount = int(bt.Header.ElementCount)
	h.fanout = bt.Info.Fanout
}

// Remove deletes value from the holder. Removing a value not present is
// not an error.
func (h *ValueHolder) Remove(ctx Context, value []byte) error {
	if h.mode == holderModeInline {
		for i, v := range h.inline {
			if bytes.Equal(v, value) {
				h.inline = append(h.inline[:i], h.inline[i+1:]...)
				return nil
			}
		}
		return nil
	}
	bt, err := h.tree()
	if err != nil {
		return err
	}
	if err := bt.Delete(ctx, value); err != nil && err != ErrKeyNotFound {
		return err
	}
	h.syncFrom(bt)
	return nil
}

// Cursor returns an iterator over the holder's values in ascending order.
func (h *ValueHolder) Cursor(src PageSource) (*ValueCursor, error) {
	if h.mode == holderModeInline {
		values := append([][]byte(nil), h.inline...)
		sort.Slice(values, func(i, j int) bool { return bytes.Compare(values[i], values[j]) < 0 })
		if len(values) == 0 {
			return &ValueCursor{}, nil
		}
		return &ValueCursor{inline: values[0], rest: values[1:]}, nil
	}
	bt, err := h.tree()
	if err != nil {
		return nil, err
	}
	cur, err := bt.Browse(src, nil)
	if err != nil {
		return nil, err
	}
	return &ValueCursor{cur: cur}, nil
}

// ValueCursor iterates a ValueHolder's values in ascending order,
// presenting one surface over both the inline and auxiliary-tree
// representations.
type ValueCursor struct {
	inline []byte
	rest   [][]byte
	cur    *Cursor
}

// Valid reports whether Value would return a value.
func (c *ValueCursor) Valid() bool {
	if c.cur != nil {
		return c.cur.Valid()
	}
	return c.inline != nil || len(c.rest) > 0
}

// Value returns the current value. Valid must be true.
func (c *ValueCursor) Value() []byte {
	if c.cur != nil {
		return c.cur.Key()
	}
	return c.inline
}

// Next advances to the following value.
func (c *ValueCursor) Next() error {
	if c.cur != nil {
		return c.cur.Next()
	}
	if len(c.rest) == 0 {
		c.inline = nil
		return nil
	}
	c.inline, c.rest = c.rest[0], c.rest[1:]
	return nil
}
