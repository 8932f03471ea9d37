package bulkload

import (
	"bytes"
	"fmt"
	"testing"

	"mavi/btreepage"
	"mavi/pageio"
)

func newTestPageIO(t *testing.T) *pageio.PageIO {
	t.Helper()
	storage, err := pageio.NewMemoryStorage(0)
	if err != nil {
		t.Fatalf("NewMemoryStorage: %v", err)
	}
	p, err := pageio.Open(storage, 512, pageio.NoPage, 16)
	if err != nil {
		t.Fatalf("pageio.Open: %v", err)
	}
	return p
}

func sortedEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		entries[i] = Entry{Key: []byte(k), Value: []byte("v-" + k)}
	}
	return entries
}

// walkBuilt re-reads a tree built by Build back in key order by walking
// pages depth-first, confirming the build produced a valid, fully linked
// structure rather than just trusting the returned offset.
func walkBuilt(t *testing.T, pio *pageio.PageIO, offset uint64) []Entry {
	t.Helper()
	buf, err := pio.ReadChain(offset)
	if err != nil {
		t.Fatalf("ReadChain(%d): %v", offset, err)
	}
	isNode, err := btreepage.IsNodePage(buf)
	if err != nil {
		t.Fatalf("IsNodePage: %v", err)
	}
	if isNode {
		node, err := btreepage.DecodeNode(buf)
		if err != nil {
			t.Fatalf("DecodeNode: %v", err)
		}
		var out []Entry
		for _, child := range node.Children {
			out = append(out, walkBuilt(t, pio, uint64(child))...)
		}
		return out
	}
	leaf, err := btreepage.DecodeLeaf(buf)
	if err != nil {
		t.Fatalf("DecodeLeaf: %v", err)
	}
	out := make([]Entry, leaf.Len())
	for i := range leaf.Keys {
		out[i] = Entry{Key: leaf.Keys[i], Value: leaf.Values[i]}
	}
	return out
}

func TestBuildProducesReadableSortedTree(t *testing.T) {
	pio := newTestPageIO(t)
	entries := sortedEntries(37)

	root, n, err := Build(pio, NewSliceSource(entries), len(entries), 4, 1, bytes.Compare)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n != len(entries) {
		t.Fatalf("expected element count %d, got %d", len(entries), n)
	}

	got := walkBuilt(t, pio, root)
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries read back, got %d", len(entries), len(got))
	}
	for i, e := range entries {
		if !bytes.Equal(got[i].Key, e.Key) || !bytes.Equal(got[i].Value, e.Value) {
			t.Fatalf("entry %d mismatch: want %+v, got %+v", i, e, got[i])
		}
	}
}

func TestBuildSingleLeafFitsUnderFanout(t *testing.T) {
	pio := newTestPageIO(t)
	entries := sortedEntries(3)

	root, n, err := Build(pio, NewSliceSource(entries), len(entries), 8, 1, bytes.Compare)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	got := walkBuilt(t, pio, root)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
}

func TestBuildRejectsUnsortedInput(t *testing.T) {
	pio := newTestPageIO(t)
	entries := []Entry{
		{Key: []byte("b"), Value: []byte("1")},
		{Key: []byte("a"), Value: []byte("2")},
	}
	_, _, err := Build(pio, NewSliceSource(entries), len(entries), 4, 1, bytes.Compare)
	if err != ErrNotSorted {
		t.Fatalf("expected ErrNotSorted, got %v", err)
	}
}

func TestBuildRejectsDuplicateKeys(t *testing.T) {
	pio := newTestPageIO(t)
	entries := []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("a"), Value: []byte("2")},
	}
	_, _, err := Build(pio, NewSliceSource(entries), len(entries), 4, 1, bytes.Compare)
	if err != ErrNotSorted {
		t.Fatalf("expected ErrNotSorted for duplicate key, got %v", err)
	}
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	pio := newTestPageIO(t)
	_, _, err := Build(pio, NewSliceSource(nil), 0, 4, 1, bytes.Compare)
	if err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestBuildRejectsTinyFanout(t *testing.T) {
	pio := newTestPageIO(t)
	entries := sortedEntries(2)
	_, _, err := Build(pio, NewSliceSource(entries), len(entries), 2, 1, bytes.Compare)
	if err != ErrInvalidFanout {
		t.Fatalf("expected ErrInvalidFanout, got %v", err)
	}
}
