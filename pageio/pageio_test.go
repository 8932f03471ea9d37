package pageio

import "testing"

func newTestPageIO(t *testing.T, pageSize int) *PageIO {
	t.Helper()
	storage, err := NewMemoryStorage(0)
	if err != nil {
		t.Fatalf("NewMemoryStorage: %v", err)
	}
	p, err := Open(storage, pageSize, NoPage, 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestAllocateWriteReadChainSinglePage(t *testing.T) {
	p := newTestPageIO(t, 512)
	data := []byte("hello, logical page")

	offsets, err := p.Allocate(len(data))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(offsets) != 1 {
		t.Fatalf("expected 1 physical page, got %d", len(offsets))
	}
	if err := p.WriteChain(offsets, data); err != nil {
		t.Fatalf("WriteChain: %v", err)
	}
	got, err := p.ReadChain(offsets[0])
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, data)
	}
}

func TestAllocateWriteReadChainMultiPage(t *testing.T) {
	p := newTestPageIO(t, 512) // a payload ten times the page size forces chaining
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}

	offsets, err := p.Allocate(len(data))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(offsets) < 10 {
		t.Fatalf("expected many physical pages for 512-byte pages, got %d", len(offsets))
	}
	if err := p.WriteChain(offsets, data); err != nil {
		t.Fatalf("WriteChain: %v", err)
	}
	got, err := p.ReadChain(offsets[0])
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], data[i])
		}
	}
}

func TestFreeChainReusedByAllocate(t *testing.T) {
	p := newTestPageIO(t, 512)

	offsets1, err := p.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.WriteChain(offsets1, []byte("0123456789")); err != nil {
		t.Fatalf("WriteChain: %v", err)
	}
	sizeBeforeFree := p.Size()

	if err := p.FreeChain(offsets1[0]); err != nil {
		t.Fatalf("FreeChain: %v", err)
	}
	if p.FreeListHead() != offsets1[0] {
		t.Fatalf("expected free list head %d, got %d", offsets1[0], p.FreeListHead())
	}

	offsets2, err := p.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate (reuse): %v", err)
	}
	if offsets2[0] != offsets1[0] {
		t.Fatalf("expected freed page to be reused at offset %d, got %d", offsets1[0], offsets2[0])
	}
	if p.Size() != sizeBeforeFree {
		t.Fatalf("expected no file growth on reuse: before=%d after=%d", sizeBeforeFree, p.Size())
	}
}

func TestInvalidPageSizeRejected(t *testing.T) {
	storage, _ := NewMemoryStorage(0)
	if _, err := Open(storage, 500, NoPage, 4); err != ErrInvalidPageSize {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := Open(storage, 131072, NoPage, 4); err != ErrInvalidPageSize {
		t.Fatalf("expected ErrInvalidPageSize for oversized page, got %v", err)
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	c := NewCache(2)
	c.Put(1, "a", 1)
	c.Put(2, "b", 1)
	c.Put(3, "c", 1) // evicts 1

	if _, ok := c.Get(1); ok {
		t.Fatal("expected offset 1 to be evicted")
	}
	if v, ok := c.Get(2); !ok || v != "b" {
		t.Fatalf("expected offset 2 present, got %v/%v", v, ok)
	}
	if v, ok := c.Get(3); !ok || v != "c" {
		t.Fatalf("expected offset 3 present, got %v/%v", v, ok)
	}
}
