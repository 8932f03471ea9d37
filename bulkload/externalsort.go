package bulkload

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"mavi/btreepage"
)

// ExternalSort pre-sorts src (not assumed sorted or deduplicated, and
// possibly larger than memory) into the stream Build needs: chunks of at
// most chunkSize entries are sorted in memory and spilled to temp files,
// then a k-way merge over those runs produces one final sorted,
// deduplicated temp file (spec.md §4.7 step 4). combine resolves a
// repeated key's values; a nil combine keeps the value merged last (the
// next argument). Entries with equal keys are merged in no defined order,
// whether they come from different runs or from the same chunk.
//
// The returned *FileSource must be closed to remove its temp file once
// Build has consumed it.
func ExternalSort(src Source, chunkSize int, cmp btreepage.Comparator, combine func(existing, next []byte) []byte) (*FileSource, int, error) {
	if chunkSize < 1 {
		chunkSize = 1 << 16
	}
	if combine == nil {
		combine = func(existing, next []byte) []byte { return next }
	}

	var runs []string
	defer func() {
		for _, r := range runs {
			os.Remove(r)
		}
	}()

	for {
		batch := make([]Entry, 0, chunkSize)
		for len(batch) < chunkSize {
			e, ok, err := src.Next()
			if err != nil {
				return nil, 0, err
			}
			if !ok {
				break
			}
			batch = append(batch, e)
		}
		if len(batch) == 0 {
			break
		}
		sort.Slice(batch, func(i, j int) bool { return cmp(batch[i].Key, batch[j].Key) < 0 })
		path, err := spillRun(batch)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, path)
		if len(batch) < chunkSize {
			break
		}
	}

	if len(runs) == 0 {
		return nil, 0, ErrEmptyInput
	}

	finalPath, n, err := mergeRuns(runs, cmp, combine)
	if err != nil {
		return nil, 0, err
	}
	fs, err := OpenFileSource(finalPath)
	if err != nil {
		os.Remove(finalPath)
		return nil, 0, err
	}
	fs.removeOnClose = true
	return fs, n, nil
}

func spillRun(entries []Entry) (string, error) {
	f, err := os.CreateTemp("", "mavi-bulkload-run-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func writeEntry(w io.Writer, e Entry) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Key); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Value)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(e.Value)
	return err
}

func readEntry(r io.Reader) (Entry, bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	key := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, key); err != nil {
		return Entry{}, false, err
	}
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Entry{}, false, err
	}
	value := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, value); err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, Value: value}, true, nil
}

// runItem is one run's current front entry, tracked in the merge heap.
type runItem struct {
	entry Entry
	runID int
}

// mergeHeap is a min-heap over runItems ordered by key, grounded on the
// teacher pack's lsm.CompactionHeap / MergingIteratorHeap (container/heap
// k-way merge over per-run iterators).
type mergeHeap struct {
	items []runItem
	cmp   btreepage.Comparator
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.cmp(h.items[i].entry.Key, h.items[j].entry.Key) < 0
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(runItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func mergeRuns(runPaths []string, cmp btreepage.Comparator, combine func(a, b []byte) []byte) (string, int, error) {
	readers := make([]*bufio.Reader, len(runPaths))
	files := make([]*os.File, len(runPaths))
	for i, p := range runPaths {
		f, err := os.Open(p)
		if err != nil {
			return "", 0, err
		}
		files[i] = f
		readers[i] = bufio.NewReader(f)
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	h := &mergeHeap{cmp: cmp}
	for i, r := range readers {
		e, ok, err := readEntry(r)
		if err != nil {
			return "", 0, err
		}
		if ok {
			heap.Push(h, runItem{entry: e, runID: i})
		}
	}

	out, err := os.CreateTemp("", "mavi-bulkload-merged-*")
	if err != nil {
		return "", 0, err
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	n := 0
	var pending *Entry
	flush := func() error {
		if pending == nil {
			return nil
		}
		if err := writeEntry(w, *pending); err != nil {
			return err
		}
		n++
		pending = nil
		return nil
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(runItem)
		next, ok, err := readEntry(readers[top.runID])
		if err != nil {
			return "", 0, err
		}
		if ok {
			heap.Push(h, runItem{entry: next, runID: top.runID})
		}

		if pending != nil && cmp(pending.Key, top.entry.Key) == 0 {
			pending.Value = combine(pending.Value, top.entry.Value)
			continue
		}
		if err := flush(); err != nil {
			return "", 0, err
		}
		e := top.entry
		pending = &e
	}
	if err := flush(); err != nil {
		return "", 0, err
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return out.Name(), n, nil
}

// FileSource reads back a sequence of entries spilled by ExternalSort.
type FileSource struct {
	f             *os.File
	r             *bufio.Reader
	path          string
	removeOnClose bool
}

// OpenFileSource opens an existing spilled-entry file for sequential
// reading.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f, r: bufio.NewReader(f), path: path}, nil
}

func (s *FileSource) Next() (Entry, bool, error) {
	return readEntry(s.r)
}

// Close releases the underlying file, removing it if it was produced by
// ExternalSort.
func (s *FileSource) Close() error {
	err := s.f.Close()
	if s.removeOnClose {
		os.Remove(s.path)
	}
	return err
}
