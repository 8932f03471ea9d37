package btreepage

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned by Decode when the input ends before the
// declared element count is satisfied.
var ErrTruncated = errors.New("btreepage: truncated page payload")

const (
	idSize       = 8
	revisionSize = 8
	countSize    = 4
	lenSize      = 4
	refSize      = 8
)

// Encode serializes the leaf per spec.md §6: page id, revision, element
// count (positive), then n repetitions of
// <key-length:4><key-bytes><value-length:4><value-bytes>.
func (l *Leaf) Encode() []byte {
	size := idSize + revisionSize + countSize
	for i := range l.Keys {
		size += lenSize + len(l.Keys[i]) + lenSize + len(l.Values[i])
	}
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], uint64(l.ID))
	off += idSize
	binary.BigEndian.PutUint64(buf[off:], l.Revision)
	off += revisionSize
	binary.BigEndian.PutUint32(buf[off:], uint32(len(l.Keys)))
	off += countSize
	for i := range l.Keys {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(l.Keys[i])))
		off += lenSize
		off += copy(buf[off:], l.Keys[i])
		binary.BigEndian.PutUint32(buf[off:], uint32(len(l.Values[i])))
		off += lenSize
		off += copy(buf[off:], l.Values[i])
	}
	return buf
}

// DecodeLeaf parses a buffer produced by Leaf.Encode.
func DecodeLeaf(buf []byte) (*Leaf, error) {
	if len(buf) < idSize+revisionSize+countSize {
		return nil, ErrTruncated
	}
	off := 0
	id := Ref(binary.BigEndian.Uint64(buf[off:]))
	off += idSize
	revision := binary.BigEndian.Uint64(buf[off:])
	off += revisionSize
	n := int(int32(binary.BigEndian.Uint32(buf[off:])))
	off += countSize

	l := &Leaf{ID: id, Revision: revision, Keys: make([][]byte, 0, n), Values: make([][]byte, 0, n)}
	for i := 0; i < n; i++ {
		if off+lenSize > len(buf) {
			return nil, ErrTruncated
		}
		klen := int(binary.BigEndian.Uint32(buf[off:]))
		off += lenSize
		if off+klen > len(buf) {
			return nil, ErrTruncated
		}
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen

		if off+lenSize > len(buf) {
			return nil, ErrTruncated
		}
		vlen := int(binary.BigEndian.Uint32(buf[off:]))
		off += lenSize
		if off+vlen > len(buf) {
			return nil, ErrTruncated
		}
		val := append([]byte(nil), buf[off:off+vlen]...)
		off += vlen

		l.Keys = append(l.Keys, key)
		l.Values = append(l.Values, val)
	}
	return l, nil
}

// Encode serializes the node per spec.md §6: page id, revision, -n
// (negative to discriminate from a leaf), then n repetitions of
// <child-offset:8><key-length:4><key-bytes>, followed by a final
// child-offset.
func (n *Node) Encode() []byte {
	size := idSize + revisionSize + countSize
	for i := range n.Keys {
		size += refSize + lenSize + len(n.Keys[i])
	}
	size += refSize
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], uint64(n.ID))
	off += idSize
	binary.BigEndian.PutUint64(buf[off:], n.Revision)
	off += revisionSize
	binary.BigEndian.PutUint32(buf[off:], uint32(int32(-len(n.Keys))))
	off += countSize
	for i := range n.Keys {
		binary.BigEndian.PutUint64(buf[off:], uint64(n.Children[i]))
		off += refSize
		binary.BigEndian.PutUint32(buf[off:], uint32(len(n.Keys[i])))
		off += lenSize
		off += copy(buf[off:], n.Keys[i])
	}
	binary.BigEndian.PutUint64(buf[off:], uint64(n.Children[len(n.Keys)]))
	return buf
}

// DecodeNode parses a buffer produced by Node.Encode.
func DecodeNode(buf []byte) (*Node, error) {
	if len(buf) < idSize+revisionSize+countSize {
		return nil, ErrTruncated
	}
	off := 0
	id := Ref(binary.BigEndian.Uint64(buf[off:]))
	off += idSize
	revision := binary.BigEndian.Uint64(buf[off:])
	off += revisionSize
	negN := int(int32(binary.BigEndian.Uint32(buf[off:])))
	off += countSize
	n := -negN

	node := &Node{ID: id, Revision: revision, Keys: make([][]byte, 0, n), Children: make([]Ref, 0, n+1)}
	for i := 0; i < n; i++ {
		if off+refSize+lenSize > len(buf) {
			return nil, ErrTruncated
		}
		child := Ref(binary.BigEndian.Uint64(buf[off:]))
		off += refSize
		klen := int(binary.BigEndian.Uint32(buf[off:]))
		off += lenSize
		if off+klen > len(buf) {
			return nil, ErrTruncated
		}
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen

		node.Children = append(node.Children, child)
		node.Keys = append(node.Keys, key)
	}
	if off+refSize > len(buf) {
		return nil, ErrTruncated
	}
	node.Children = append(node.Children, Ref(binary.BigEndian.Uint64(buf[off:])))
	return node, nil
}

// IsNodePage reports whether a raw logical-page payload is a Node (as
// opposed to a Leaf), by inspecting the count field's sign at its fixed
// offset, without fully decoding either shape.
func IsNodePage(buf []byte) (bool, error) {
	if len(buf) < idSize+revisionSize+countSize {
		return false, ErrTruncated
	}
	raw := int32(binary.BigEndian.Uint32(buf[idSize+revisionSize:]))
	return raw < 0, nil
}
