package recordmgr

import "encoding/binary"

// bobName / cpbName are the well-known names of the tree-of-trees and
// copied-pages-tree (spec.md §4.7). They are never visible to a caller's
// Tree lookups; WriteTxn.Tree rejects them explicitly.
const (
	bobName = "__bob__"
	cpbName = "__cpb__"

	bobFanout = 64
	cpbFanout = 64
)

// bobKey builds the tree-of-trees key for (name, revision): a 4-byte name
// length, the name bytes, then an 8-byte big-endian revision. btree's
// IDBytes comparator compares these keys as plain bytes, so the name
// length prefix keeps entries for the same name contiguous and ordered
// ahead of entries whose name differs in its first few bytes, which is
// all BoB's "all revisions of one name sort together" requirement needs.
func bobKey(name string, revision uint64) []byte {
	raw := make([]byte, 4+len(name)+8)
	binary.BigEndian.PutUint32(raw[0:4], uint32(len(name)))
	copy(raw[4:4+len(name)], name)
	binary.BigEndian.PutUint64(raw[4+len(name):], revision)
	return raw
}

// decodeBoBKey reverses bobKey.
func decodeBoBKey(key []byte) (name string, revision uint64, err error) {
	if len(key) < 4 {
		return "", 0, ErrTruncatedRecord
	}
	nameLen := int(binary.BigEndian.Uint32(key[0:4]))
	if len(key) < 4+nameLen+8 {
		return "", 0, ErrTruncatedRecord
	}
	name = string(key[4 : 4+nameLen])
	revision = binary.BigEndian.Uint64(key[4+nameLen:])
	return name, revision, nil
}

// cpbKey builds the copied-pages-tree key for a revision: a bare 8-byte
// big-endian value, since CPB's key serializer is IDUint64 (fixed-width,
// no stripped prefix).
func cpbKey(revision uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, revision)
	return buf
}

func decodeCPBKey(key []byte) (uint64, error) {
	if len(key) < 8 {
		return 0, ErrTruncatedRecord
	}
	return binary.BigEndian.Uint64(key), nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, ErrTruncatedRecord
	}
	return binary.BigEndian.Uint64(b), nil
}

// encodeOffsetList serializes the set of pages superseded in one revision:
// a 4-byte count followed by that many 8-byte big-endian offsets.
func encodeOffsetList(offsets []uint64) []byte {
	buf := make([]byte, 4+8*len(offsets))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(offsets)))
	for i, o := range offsets {
		binary.BigEndian.PutUint64(buf[4+8*i:], o)
	}
	return buf
}

func decodeOffsetList(buf []byte) ([]uint64, error) {
	if len(buf) < 4 {
		return nil, ErrTruncatedRecord
	}
	n := int(binary.BigEndian.Uint32(buf[0:4]))
	if len(buf) < 4+8*n {
		return nil, ErrTruncatedRecord
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint64(buf[4+8*i:])
	}
	return out, nil
}
