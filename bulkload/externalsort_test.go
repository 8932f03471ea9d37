package bulkload

import (
	"bytes"
	"fmt"
	"testing"
)

type sliceOnlySource struct {
	entries []Entry
	pos     int
}

func (s *sliceOnlySource) Next() (Entry, bool, error) {
	if s.pos >= len(s.entries) {
		return Entry{}, false, nil
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true, nil
}

func drain(t *testing.T, src Source) []Entry {
	t.Helper()
	var out []Entry
	for {
		e, ok, err := src.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestExternalSortOrdersAcrossMultipleRuns(t *testing.T) {
	var entries []Entry
	for i := 99; i >= 0; i-- {
		k := fmt.Sprintf("k%05d", i)
		entries = append(entries, Entry{Key: []byte(k), Value: []byte("v")})
	}
	src := &sliceOnlySource{entries: entries}

	// Small chunk size forces several spilled runs even for 100 entries.
	fs, n, err := ExternalSort(src, 7, bytes.Compare, nil)
	if err != nil {
		t.Fatalf("ExternalSort: %v", err)
	}
	defer fs.Close()

	if n != len(entries) {
		t.Fatalf("expected %d merged entries, got %d", len(entries), n)
	}
	got := drain(t, fs)
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries read back, got %d", len(entries), len(got))
	}
	for i := 1; i < len(got); i++ {
		if bytes.Compare(got[i-1].Key, got[i].Key) >= 0 {
			t.Fatalf("output not strictly sorted at %d: %q then %q", i, got[i-1].Key, got[i].Key)
		}
	}
	if !bytes.Equal(got[0].Key, []byte("k00000")) {
		t.Fatalf("expected first key k00000, got %q", got[0].Key)
	}
	if !bytes.Equal(got[len(got)-1].Key, []byte("k00099")) {
		t.Fatalf("expected last key k00099, got %q", got[len(got)-1].Key)
	}
}

func TestExternalSortCombinesDuplicateKeys(t *testing.T) {
	entries := []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("x")},
		{Key: []byte("a"), Value: []byte("2")},
		{Key: []byte("a"), Value: []byte("3")},
	}
	src := &sliceOnlySource{entries: entries}

	var combined [][]byte
	combine := func(existing, next []byte) []byte {
		combined = append(combined, next)
		return append(existing, next...)
	}

	// chunkSize 2 spills two runs, so "a" appears in both and must be
	// combined during the merge, not just within a single in-memory sort.
	fs, n, err := ExternalSort(src, 2, bytes.Compare, combine)
	if err != nil {
		t.Fatalf("ExternalSort: %v", err)
	}
	defer fs.Close()

	if n != 2 {
		t.Fatalf("expected 2 distinct keys after dedup, got %d", n)
	}
	got := drain(t, fs)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if string(got[0].Key) != "a" || string(got[1].Key) != "b" {
		t.Fatalf("expected keys [a b], got [%s %s]", got[0].Key, got[1].Key)
	}
	if string(got[0].Value) != "123" {
		t.Fatalf("expected combined value \"123\", got %q", got[0].Value)
	}
}

func TestExternalSortRejectsEmptyInput(t *testing.T) {
	src := &sliceOnlySource{}
	_, _, err := ExternalSort(src, 4, bytes.Compare, nil)
	if err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestExternalSortFeedsBuildDirectly(t *testing.T) {
	var entries []Entry
	for i := 20; i > 0; i-- {
		k := fmt.Sprintf("k%03d", i)
		entries = append(entries, Entry{Key: []byte(k), Value: []byte(k)})
	}
	src := &sliceOnlySource{entries: entries}

	fs, n, err := ExternalSort(src, 5, bytes.Compare, nil)
	if err != nil {
		t.Fatalf("ExternalSort: %v", err)
	}
	defer fs.Close()

	pio := newTestPageIO(t)
	root, built, err := Build(pio, fs, n, 4, 1, bytes.Compare)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built != n {
		t.Fatalf("expected Build to consume %d entries, got %d", n, built)
	}
	got := walkBuilt(t, pio, root)
	if len(got) != n {
		t.Fatalf("expected %d entries in built tree, got %d", n, len(got))
	}
	for i := 1; i < len(got); i++ {
		if bytes.Compare(got[i-1].Key, got[i].Key) >= 0 {
			t.Fatalf("built tree not sorted at %d", i)
		}
	}
}
