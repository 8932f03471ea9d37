package recordmgr

import (
	"path/filepath"
	"testing"
	"time"

	"mavi/serializer"
)

func openTestDB(t *testing.T) (*RecordManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mavi.db")
	rm, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return rm, path
}

func TestCreateTreeInsertGetRoundTrips(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	bt, err := w.CreateTree("widgets", serializer.IDBytes, serializer.IDBytes, 8)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := bt.Insert(w.Ctx(), []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Insert(w.Ctx(), []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := rm.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer r.Close()
	readBt, err := r.Tree("widgets")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	v, ok, err := readBt.Get(r.Ctx(), []byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("expected a=1, got %q/%v/%v", v, ok, err)
	}
	v, ok, err = readBt.Get(r.Ctx(), []byte("b"))
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("expected b=2, got %q/%v/%v", v, ok, err)
	}
}

func TestTreeLookupRejectsReservedNames(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer w.Rollback()

	if _, err := w.Tree("__bob__"); err != ErrReservedName {
		t.Fatalf("expected ErrReservedName for __bob__, got %v", err)
	}
	if _, err := w.Tree("__cpb__"); err != ErrReservedName {
		t.Fatalf("expected ErrReservedName for __cpb__, got %v", err)
	}
	if _, err := w.CreateTree("__bob__", serializer.IDBytes, serializer.IDBytes, 8); err != ErrReservedName {
		t.Fatalf("expected ErrReservedName from CreateTree, got %v", err)
	}
}

func TestTreeLookupUnknownNameFails(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer w.Rollback()
	if _, err := w.Tree("nonexistent"); err != ErrTreeNotFound {
		t.Fatalf("expected ErrTreeNotFound, got %v", err)
	}
}

func TestCreateTreeDuplicateNameFails(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := w.CreateTree("widgets", serializer.IDBytes, serializer.IDBytes, 8); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	w2, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer w2.Rollback()
	if _, err := w2.CreateTree("widgets", serializer.IDBytes, serializer.IDBytes, 8); err == nil {
		t.Fatalf("expected error creating duplicate tree name")
	}
}

func TestWriteTransactionsSerializeAndBumpRevision(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w1, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	bt, err := w1.CreateTree("seq", serializer.IDBytes, serializer.IDBytes, 8)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := bt.Insert(w1.Ctx(), []byte("k"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rev1 := w1.Revision()
	if err := w1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	w2, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if w2.Revision() != rev1+1 {
		t.Fatalf("expected revision %d, got %d", rev1+1, w2.Revision())
	}
	w2.Rollback()
}

func TestRollbackDiscardsMutations(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := w.CreateTree("ghost", serializer.IDBytes, serializer.IDBytes, 8); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := w.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	w2, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("second BeginWrite: %v", err)
	}
	defer w2.Rollback()
	if _, err := w2.Tree("ghost"); err != ErrTreeNotFound {
		t.Fatalf("expected ghost tree to not exist after rollback, got %v", err)
	}
}

func TestDatabaseRecoversAfterReopen(t *testing.T) {
	rm, path := openTestDB(t)

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	bt, err := w.CreateTree("durable", serializer.IDBytes, serializer.IDBytes, 8)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := bt.Insert(w.Ctx(), []byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := rm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rm2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rm2.Close()

	r, err := rm2.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer r.Close()
	readBt, err := r.Tree("durable")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		v, ok, err := readBt.Get(r.Ctx(), []byte(k))
		if err != nil || !ok || string(v) != "v-"+k {
			t.Fatalf("expected %s=v-%s after reopen, got %q/%v/%v", k, k, v, ok, err)
		}
	}
}

func TestMultipleCommitsAccumulateAcrossRevisions(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	bt, err := w.CreateTree("log", serializer.IDBytes, serializer.IDBytes, 4)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := bt.Insert(w.Ctx(), []byte("000"), []byte("first")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for i := 1; i < 20; i++ {
		w, err := rm.BeginWrite()
		if err != nil {
			t.Fatalf("BeginWrite %d: %v", i, err)
		}
		bt, err := w.Tree("log")
		if err != nil {
			t.Fatalf("Tree %d: %v", i, err)
		}
		key := []byte{byte('a' + i%26), byte(i)}
		if err := bt.Insert(w.Ctx(), key, []byte("entry")); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	r, err := rm.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer r.Close()
	readBt, err := r.Tree("log")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	cur, err := readBt.Browse(r.Ctx(), nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	count := 0
	for cur.Valid() {
		count++
		if err := cur.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != 20 {
		t.Fatalf("expected 20 entries after 20 commits, got %d", count)
	}
}

func TestReaderPinsRevisionAcrossConcurrentWrite(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	bt, err := w.CreateTree("snap", serializer.IDBytes, serializer.IDBytes, 8)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := bt.Insert(w.Ctx(), []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := rm.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer r.Close()

	w2, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	bt2, err := w2.Tree("snap")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if err := bt2.Delete(w2.Ctx(), []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := bt2.Insert(w2.Ctx(), []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	readBt, err := r.Tree("snap")
	if err != nil {
		t.Fatalf("Tree (pinned reader): %v", err)
	}
	v, ok, err := readBt.Get(r.Ctx(), []byte("k"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("expected pinned reader to still see v1, got %q/%v/%v", v, ok, err)
	}
}

func TestReclaimReturnsPagesOnceNoReaderNeedsThem(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	bt, err := w.CreateTree("gc", serializer.IDBytes, serializer.IDBytes, 4)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := bt.Insert(w.Ctx(), []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Several more commits with no open readers: each one's Reclaim call
	// should find the prior revision's superseded pages free to return,
	// since oldestActiveReaderRevision has nothing pinned to protect.
	for i := 0; i < 5; i++ {
		w, err := rm.BeginWrite()
		if err != nil {
			t.Fatalf("BeginWrite %d: %v", i, err)
		}
		bt, err := w.Tree("gc")
		if err != nil {
			t.Fatalf("Tree %d: %v", i, err)
		}
		if err := bt.Delete(w.Ctx(), []byte("k")); err != nil {
			t.Fatalf("Delete %d: %v", i, err)
		}
		if err := bt.Insert(w.Ctx(), []byte("k"), []byte("v")); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	r, err := rm.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer r.Close()
	readBt, err := r.Tree("gc")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	v, ok, err := readBt.Get(r.Ctx(), []byte("k"))
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("expected k=v after reclaim churn, got %q/%v/%v", v, ok, err)
	}
}

func TestReadOnlyOpenRejectsBeginWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mavi.db")
	rm, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := Open(path, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()
	if _, err := ro.BeginWrite(); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestCloseTwiceReturnsErrDatabaseClosed(t *testing.T) {
	rm, _ := openTestDB(t)
	if err := rm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rm.Close(); err != ErrDatabaseClosed {
		t.Fatalf("expected ErrDatabaseClosed, got %v", err)
	}
}

func TestMemoryBudgetOptionDrivesCacheStatsAndPressure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mavi.db")
	pressured := make(chan struct{}, 1)

	rm, err := Open(path, Options{
		MemoryBudget:      1000,
		PressureThreshold: 0.5,
		OnPressure: func(usage, limit int64) {
			select {
			case pressured <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rm.Close()

	if _, ok := rm.CacheStats(); !ok {
		t.Fatal("expected CacheStats to report ok once a MemoryBudget is configured")
	}

	w, err := rm.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	tr, err := w.CreateTree("docs", serializer.IDBytes, serializer.IDBytes, 4)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	for i := 0; i < 50; i++ {
		key := []byte{byte(i)}
		if err := tr.Insert(w.Ctx(), key, append(key, make([]byte, 64)...)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	stats, ok := rm.CacheStats()
	if !ok {
		t.Fatal("expected CacheStats to report ok after writes")
	}
	if stats.Limit != 1000 {
		t.Fatalf("expected limit 1000, got %d", stats.Limit)
	}

	// Commit writes pages without caching them; reading the tree back
	// loads its pages into the cache, whose bytes the budget tracks.
	r, err := rm.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer r.Close()
	readTr, err := r.Tree("docs")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	cur, err := readTr.Browse(r.Ctx(), nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	for cur.Valid() {
		if err := cur.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	select {
	case <-pressured:
	case <-time.After(time.Second):
		t.Fatal("expected OnPressure to fire once cached page bytes crossed the configured threshold")
	}
}

func TestMemoryBudgetOptionOffReportsNoCacheStats(t *testing.T) {
	rm, _ := openTestDB(t)
	defer rm.Close()
	if _, ok := rm.CacheStats(); ok {
		t.Fatal("expected CacheStats to report !ok without a configured MemoryBudget")
	}
}
