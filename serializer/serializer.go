// Package serializer provides key/value codecs that turn in-memory keys and
// values into byte strings, plus the total-order comparator each key type
// needs. A tree's info page records its key and value serializer ids;
// btree itself stores and compares the raw bytes its callers pass in and
// does not call these codecs.
//
// Every multi-byte integer field mavi writes to disk is big-endian (see
// pageio and btreepage); serializers follow the same convention so that a
// page's bytes are comparable and inspectable independent of host
// endianness.
package serializer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// ErrDecode is returned when a byte string is too short or otherwise
// malformed for the serializer asked to decode it.
var ErrDecode = errors.New("serializer: malformed encoding")

// Comparator defines a total order over decoded values of a single type.
// It must return <0, 0, >0 the same way bytes.Compare does.
type Comparator func(a, b any) int

// Serializer turns values of one Go type into a byte encoding and back;
// variable-width types are size-prefixed, fixed-width ones are not. ID is
// the stable identifier recorded in a tree's BTreeInfo page so a tree can
// be reopened without knowing its key/value type in advance.
type Serializer interface {
	// ID returns the serializer's registry id, persisted in BTreeInfo.
	ID() uint32
	// Encode appends the encoding of v to dst and returns it.
	Encode(dst []byte, v any) ([]byte, error)
	// Decode reads one encoded value from the front of src, returning
	// the decoded value and the number of bytes consumed.
	Decode(src []byte) (v any, n int, err error)
	// Compare imposes the serializer's total order on two decoded values.
	Compare(a, b any) int
}

const (
	// IDUint64 identifies the fixed-width big-endian uint64 serializer.
	IDUint64 uint32 = 1
	// IDString identifies the size-prefixed UTF-8 string serializer.
	IDString uint32 = 2
	// IDBytes identifies the size-prefixed raw-byte serializer.
	IDBytes uint32 = 3
)

// byIDRegistry is the small, closed registry of concrete serializers keyed
// by the id recorded in a tree's info page. New concrete types are added
// here, not discovered dynamically — mavi does not support arbitrary
// caller-supplied encodings (see spec.md §1 non-goals: "Specific type
// serializers beyond the contract they expose").
var byIDRegistry = map[uint32]Serializer{
	IDUint64: Uint64Serializer{},
	IDString: StringSerializer{},
	IDBytes:  BytesSerializer{},
}

// ByID looks up a registered serializer by its persisted id.
func ByID(id uint32) (Serializer, bool) {
	s, ok := byIDRegistry[id]
	return s, ok
}

// Uint64Serializer encodes a uint64 as 8 big-endian bytes with no length
// prefix — fixed-width keys never need one.
type Uint64Serializer struct{}

func (Uint64Serializer) ID() uint32 { return IDUint64 }

func (Uint64Serializer) Encode(dst []byte, v any) ([]byte, error) {
	u, ok := v.(uint64)
	if !ok {
		return nil, ErrDecode
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return append(dst, buf[:]...), nil
}

func (Uint64Serializer) Decode(src []byte) (any, int, error) {
	if len(src) < 8 {
		return nil, 0, ErrDecode
	}
	return binary.BigEndian.Uint64(src[:8]), 8, nil
}

func (Uint64Serializer) Compare(a, b any) int {
	x, y := a.(uint64), b.(uint64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// StringSerializer encodes a string as a 4-byte big-endian length prefix
// followed by its UTF-8 bytes, compared byte-wise.
type StringSerializer struct{}

func (StringSerializer) ID() uint32 { return IDString }

func (StringSerializer) Encode(dst []byte, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, ErrDecode
	}
	if uint64(len(s)) > math.MaxUint32 {
		return nil, ErrDecode
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...), nil
}

func (StringSerializer) Decode(src []byte) (any, int, error) {
	if len(src) < 4 {
		return nil, 0, ErrDecode
	}
	n := int(binary.BigEndian.Uint32(src[:4]))
	if n < 0 || len(src) < 4+n {
		return nil, 0, ErrDecode
	}
	return string(src[4 : 4+n]), 4 + n, nil
}

func (StringSerializer) Compare(a, b any) int {
	return bytes.Compare([]byte(a.(string)), []byte(b.(string)))
}

// BytesSerializer encodes a []byte as a 4-byte big-endian length prefix
// followed by the raw bytes, compared with bytes.Compare.
type BytesSerializer struct{}

func (BytesSerializer) ID() uint32 { return IDBytes }

func (BytesSerializer) Encode(dst []byte, v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrDecode
	}
	if uint64(len(b)) > math.MaxUint32 {
		return nil, ErrDecode
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...), nil
}

func (BytesSerializer) Decode(src []byte) (any, int, error) {
	if len(src) < 4 {
		return nil, 0, ErrDecode
	}
	n := int(binary.BigEndian.Uint32(src[:4]))
	if n < 0 || len(src) < 4+n {
		return nil, 0, ErrDecode
	}
	out := make([]byte, n)
	copy(out, src[4:4+n])
	return out, 4 + n, nil
}

func (BytesSerializer) Compare(a, b any) int {
	return bytes.Compare(a.([]byte), b.([]byte))
}
