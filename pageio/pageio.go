// pageio/pageio.go
package pageio

import (
	"encoding/binary"
	"errors"
	"sync"
)

// NoPage is the sentinel offset meaning "no page" — used for a terminal
// next-page pointer and for an empty free list head.
const NoPage uint64 = 0xFFFFFFFFFFFFFFFF

var (
	// ErrInvalidPageSize is returned when a configured page size is not a
	// power of two in [512, 65536].
	ErrInvalidPageSize = errors.New("pageio: page size must be a power of two in [512, 65536]")
	// ErrShortChain is returned when a chain read runs off the end of the
	// backing storage before the declared payload length is satisfied.
	ErrShortChain = errors.New("pageio: short read, chain truncated")
)

const (
	nextOffsetSize = 8
	payloadLenSize = 4
)

// PageIO translates between logical pages (arbitrary-length byte strings)
// and physical pages (fixed-size blocks of the backing Storage), and owns
// the on-disk free list of reusable physical pages.
//
// PageIO itself holds no notion of B+tree structure — it is the lowest
// layer described in spec.md §4.1, used by recordmgr and bulkload alike.
type PageIO struct {
	mu       sync.Mutex
	storage  Storage
	pageSize int
	freeHead uint64
	cache    *Cache
}

// Open wraps an already-sized Storage with PageIO bookkeeping. freeHead is
// the free-list head recovered from the record-manager header (NoPage for
// a brand-new file); the caller (recordmgr) is the sole owner of that
// offset's durable copy.
func Open(storage Storage, pageSize int, freeHead uint64, cacheCapacity int) (*PageIO, error) {
	if !validPageSize(pageSize) {
		return nil, ErrInvalidPageSize
	}
	return &PageIO{
		storage:  storage,
		pageSize: pageSize,
		freeHead: freeHead,
		cache:    NewCache(cacheCapacity),
	}, nil
}

func validPageSize(n int) bool {
	return n >= 512 && n <= 65536 && n&(n-1) == 0
}

// PageSize returns the physical page size in bytes.
func (p *PageIO) PageSize() int { return p.pageSize }

// FreeListHead returns the current free list head offset (NoPage if empty).
// recordmgr persists this value as part of the record-manager header.
func (p *PageIO) FreeListHead() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeHead
}

// SetFreeListHead overrides the in-memory free list head, used when
// recovery restores state from a durable header.
func (p *PageIO) SetFreeListHead(off uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeHead = off
}

// Size returns the current size of the backing storage in bytes.
func (p *PageIO) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storage.Size()
}

// Sync flushes the backing storage to stable media.
func (p *PageIO) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storage.Sync()
}

// Truncate shrinks the backing storage's logical size back to eof, used by
// recovery to discard a torn write's tail. PageIO does not grow to meet
// eof; only Allocate grows storage, so shrinking never touches allocated
// pages below eof.
func (p *PageIO) Truncate(eof int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.storage.(interface{ Truncate(int64) error })
	if !ok {
		return nil
	}
	return t.Truncate(eof)
}

func (p *PageIO) capacityFirst() int { return p.pageSize - nextOffsetSize - payloadLenSize }
func (p *PageIO) capacityRest() int  { return p.pageSize - nextOffsetSize }

// chainLength returns the number of physical pages needed to hold
// sizeBytes of logical payload.
func (p *PageIO) chainLength(sizeBytes int) int {
	first := p.capacityFirst()
	if sizeBytes <= first {
		return 1
	}
	rest := p.capacityRest()
	remaining := sizeBytes - first
	n := 1 + remaining/rest
	if remaining%rest != 0 {
		n++
	}
	return n
}

// Allocate reserves a chain of physical pages whose combined payload
// capacity is >= sizeBytes, preferring free-list reuse over growing the
// file. It returns the chain's physical offsets in order; the caller must
// follow with WriteChain to populate them.
func (p *PageIO) Allocate(sizeBytes int) ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.chainLength(sizeBytes)
	offsets := make([]uint64, 0, n)
	for len(offsets) < n {
		if p.freeHead != NoPage {
			off := p.freeHead
			next, err := p.readRawNext(off)
			if err != nil {
				return nil, err
			}
			p.freeHead = next
			offsets = append(offsets, off)
			continue
		}
		off, err := p.extend()
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
	}
	return offsets, nil
}

// extend grows the backing storage by exactly one physical page and
// returns its offset. Must be called with p.mu held.
func (p *PageIO) extend() (uint64, error) {
	off := uint64(p.storage.Size())
	if err := p.storage.Grow(int64(off) + int64(p.pageSize)); err != nil {
		return 0, err
	}
	return off, nil
}

// readRawNext reads the 8-byte next-offset field at the head of the
// physical page at off. Must be called with p.mu held.
func (p *PageIO) readRawNext(off uint64) (uint64, error) {
	buf := p.storage.Slice(int(off), nextOffsetSize)
	if buf == nil {
		return 0, ErrShortChain
	}
	return binary.BigEndian.Uint64(buf), nil
}

// WriteChain writes bytes across a chain of physical pages previously
// returned by Allocate, linking each page's next-offset pointer to the
// following page (NoPage on the last) and stamping the payload length on
// the first page.
func (p *PageIO) WriteChain(offsets []uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	first := p.capacityFirst()
	rest := p.capacityRest()

	pos := 0
	for i, off := range offsets {
		capacity := rest
		headerSize := nextOffsetSize
		if i == 0 {
			capacity = first
			headerSize = nextOffsetSize + payloadLenSize
		}

		next := NoPage
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}

		page := p.storage.Slice(int(off), p.pageSize)
		if page == nil {
			return ErrShortChain
		}
		binary.BigEndian.PutUint64(page[0:nextOffsetSize], next)
		if i == 0 {
			binary.BigEndian.PutUint32(page[nextOffsetSize:nextOffsetSize+payloadLenSize], uint32(len(data)))
		}

		chunk := capacity
		if remaining := len(data) - pos; remaining < chunk {
			chunk = remaining
		}
		if chunk > 0 {
			copy(page[headerSize:headerSize+chunk], data[pos:pos+chunk])
		}
		pos += chunk
	}
	return nil
}

// ReadChain reads and concatenates the payload of the logical page whose
// first physical page starts at firstOffset.
func (p *PageIO) ReadChain(firstOffset uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readChainLocked(firstOffset)
}

func (p *PageIO) readChainLocked(firstOffset uint64) ([]byte, error) {
	head := p.storage.Slice(int(firstOffset), nextOffsetSize+payloadLenSize)
	if head == nil {
		return nil, ErrShortChain
	}
	next := binary.BigEndian.Uint64(head[0:nextOffsetSize])
	length := int(binary.BigEndian.Uint32(head[nextOffsetSize : nextOffsetSize+payloadLenSize]))

	out := make([]byte, 0, length)
	first := p.capacityFirst()
	rest := p.capacityRest()

	chunk := first
	if length < chunk {
		chunk = length
	}
	payload := p.storage.Slice(int(firstOffset)+nextOffsetSize+payloadLenSize, chunk)
	if payload == nil {
		return nil, ErrShortChain
	}
	out = append(out, payload...)
	remaining := length - chunk
	off := next

	for remaining > 0 {
		if off == NoPage {
			return nil, ErrShortChain
		}
		h := p.storage.Slice(int(off), nextOffsetSize)
		if h == nil {
			return nil, ErrShortChain
		}
		nextOff := binary.BigEndian.Uint64(h)

		c := rest
		if remaining < c {
			c = remaining
		}
		payload := p.storage.Slice(int(off)+nextOffsetSize, c)
		if payload == nil {
			return nil, ErrShortChain
		}
		out = append(out, payload...)
		remaining -= c
		off = nextOff
	}
	return out, nil
}

// FreeChain prepends the physical page chain starting at firstOffset to
// the free list. The chain's existing next-offset links (set by an earlier
// WriteChain) are reused as-is for everything but the final page, whose
// next-offset is rewritten to point at the previous free-list head.
func (p *PageIO) FreeChain(firstOffset uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := firstOffset
	for {
		next, err := p.readRawNext(off)
		if err != nil {
			return err
		}
		if next == NoPage {
			page := p.storage.Slice(int(off), nextOffsetSize)
			if page == nil {
				return ErrShortChain
			}
			binary.BigEndian.PutUint64(page, p.freeHead)
			break
		}
		off = next
	}
	p.freeHead = firstOffset
	return nil
}

// Cache returns the PageIO's bounded deserialized-page cache.
func (p *PageIO) Cache() *Cache { return p.cache }
