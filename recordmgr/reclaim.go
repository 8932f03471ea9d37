package recordmgr

// Reclaim frees pages superseded by revisions no active reader can still
// see, per spec.md §4.7 "Space reclamation": CPB is keyed by revision, so
// every entry strictly older than the oldest pinned ReadTxn's revision is
// both safe to return to the free list and safe to drop from CPB itself.
// Commit calls this once automatically; calling it again within the same
// transaction is a no-op.
func (w *WriteTxn) Reclaim() error {
	if w.reclaimed {
		return nil
	}
	w.reclaimed = true

	rm := w.rm
	if w.cpb == nil || w.cpb.Header.ElementCount == 0 {
		return nil
	}

	oldest := rm.oldestActiveReaderRevision(w.revision)

	cur, err := w.cpb.Browse(w.ctx, nil)
	if err != nil {
		return err
	}

	var staleKeys [][]byte
	var freed []uint64
	for cur.Valid() {
		rev, err := decodeCPBKey(cur.Key())
		if err != nil {
			return err
		}
		if rev >= oldest {
			break
		}
		offs, err := decodeOffsetList(cur.Value())
		if err != nil {
			return err
		}
		freed = append(freed, offs...)
		staleKeys = append(staleKeys, append([]byte(nil), cur.Key()...))
		if err := cur.Next(); err != nil {
			return err
		}
	}

	for _, off := range freed {
		rm.pio.Cache().Invalidate(off)
		if err := rm.pio.FreeChain(off); err != nil {
			return err
		}
	}
	for _, key := range staleKeys {
		if err := w.cpb.Delete(w.cpbCtx(), key); err != nil {
			return err
		}
	}
	return nil
}
