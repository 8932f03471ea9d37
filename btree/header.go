package btree

import "encoding/binary"

// Header is a tree's per-revision metadata: spec.md §6 "Logical B+tree
// header" is five 8-byte big-endian fields. A new Header is produced on
// every commit that touches the tree; the previous one is scheduled for
// reclamation by the record manager.
type Header struct {
	PageID       uint64
	Revision     uint64
	ElementCount uint64
	RootOffset   uint64
	InfoOffset   uint64
}

const HeaderSize = 5 * 8

// Encode serializes the header to its fixed 40-byte layout.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], h.PageID)
	binary.BigEndian.PutUint64(buf[8:16], h.Revision)
	binary.BigEndian.PutUint64(buf[16:24], h.ElementCount)
	binary.BigEndian.PutUint64(buf[24:32], h.RootOffset)
	binary.BigEndian.PutUint64(buf[32:40], h.InfoOffset)
	return buf
}

// DecodeHeader parses a buffer produced by Header.Encode.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncated
	}
	return Header{
		PageID:       binary.BigEndian.Uint64(buf[0:8]),
		Revision:     binary.BigEndian.Uint64(buf[8:16]),
		ElementCount: binary.BigEndian.Uint64(buf[16:24]),
		RootOffset:   binary.BigEndian.Uint64(buf[24:32]),
		InfoOffset:   binary.BigEndian.Uint64(buf[32:40]),
	}, nil
}
