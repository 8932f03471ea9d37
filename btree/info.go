package btree

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned by decoders when the input buffer ends early.
var ErrTruncated = errors.New("btree: truncated record")

// Info is the immutable per-tree metadata shared across every revision of a
// tree: its name, the serializer ids for keys and values, and its fanout.
// See spec.md §6 "Logical B+tree info".
type Info struct {
	Fanout            int
	Name              string
	KeySerializerID   uint32
	ValueSerializerID uint32
}

// Encode serializes Info as fanout:4, name-length:4, name-bytes,
// key-serializer-id:4, value-serializer-id:4.
func (i Info) Encode() []byte {
	buf := make([]byte, 4+4+len(i.Name)+4+4)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(i.Fanout))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(len(i.Name)))
	off += 4
	off += copy(buf[off:], i.Name)
	binary.BigEndian.PutUint32(buf[off:], i.KeySerializerID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], i.ValueSerializerID)
	return buf
}

// DecodeInfo parses a buffer produced by Info.Encode.
func DecodeInfo(buf []byte) (Info, error) {
	if len(buf) < 8 {
		return Info{}, ErrTruncated
	}
	off := 0
	fanout := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	nameLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if off+nameLen+8 > len(buf) {
		return Info{}, ErrTruncated
	}
	name := string(buf[off : off+nameLen])
	off += nameLen
	keySer := binary.BigEndian.Uint32(buf[off:])
	off += 4
	valSer := binary.BigEndian.Uint32(buf[off:])
	return Info{Fanout: fanout, Name: name, KeySerializerID: keySer, ValueSerializerID: valSer}, nil
}
