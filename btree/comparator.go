package btree

import (
	"bytes"

	"mavi/btreepage"
	"mavi/serializer"
)

// comparatorForID returns the byte-level comparator btreepage needs for a
// given serializer id. Every caller (BTree.Insert/Get/Delete, and every
// value a caller of those passes in) deals in raw key bytes directly —
// nothing routes keys through Serializer.Encode first — so comparison is
// always a plain byte-for-byte compare. Big-endian uint64 encoding
// preserves numeric order under that same byte compare, so there is
// nothing serializer-id-specific left to do beyond picking a name.
func comparatorForID(id uint32) (btreepage.Comparator, bool) {
	switch id {
	case serializer.IDUint64, serializer.IDString, serializer.IDBytes:
		return bytes.Compare, true
	default:
		return nil, false
	}
}
