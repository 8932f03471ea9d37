package recordmgr

import (
	"mavi/btree"
	"mavi/btreepage"
	"mavi/pageio"
	"mavi/serializer"
	"mavi/txn"
)

// interceptingContext wraps a WriteContext so that a tree's own CoW
// supersession is redirected to sink instead of the context's ordinary
// copied set. CPB's commit-time mutations are the only caller: without
// this, recording "which pages this revision superseded" would need to
// include the very pages CPB supersedes while writing that record down,
// a fixed point that never resolves (spec.md §9 "Meta-tree
// self-reference"). Everything else — NextID, PutLeaf/Node, GetLeaf/Node,
// IsNode, Revision — passes straight through to the embedded context.
type interceptingContext struct {
	*txn.WriteContext
	sink func(uint64)
}

func (ic *interceptingContext) AddCopied(ref btreepage.Ref) {
	ic.WriteContext.AddCopiedWithSink(ref, ic.sink)
}

// ensureMetaTrees makes w.bob/w.cpb available for this transaction,
// bootstrapping either with a fresh empty-leaf root (spec.md §4.4) the
// first time a database is ever written to.
func (w *WriteTxn) ensureMetaTrees() error {
	rm := w.rm
	if rm.bob != nil {
		cp := *rm.bob
		w.bob = &cp
	} else {
		bt, err := btree.New(bobName, serializer.IDBytes, serializer.IDUint64, bobFanout)
		if err != nil {
			return err
		}
		root := btreepage.NewLeaf(w.ctx.NextID(), w.revision)
		w.ctx.PutLeaf(root)
		bt.Header.RootOffset = uint64(root.ID)
		w.bob = bt
	}
	if rm.cpb != nil {
		cp := *rm.cpb
		w.cpb = &cp
	} else {
		bt, err := btree.New(cpbName, serializer.IDUint64, serializer.IDBytes, cpbFanout)
		if err != nil {
			return err
		}
		root := btreepage.NewLeaf(w.ctx.NextID(), w.revision)
		w.ctx.PutLeaf(root)
		bt.Header.RootOffset = uint64(root.ID)
		w.cpb = bt
	}
	return nil
}

// serializeWAL writes every pending page in ctx's WAL map to disk in
// dependency order (children before parents, via descending tentative
// ids — see sortedRefsDescending) and returns the pending-ref ->
// durable-offset resolution table.
func serializeWAL(pio *pageio.PageIO, ctx *txn.WriteContext) (map[btreepage.Ref]uint64, error) {
	leaves := ctx.WALLeaves()
	nodes := ctx.WALNodes()
	resolved := make(map[btreepage.Ref]uint64, len(leaves)+len(nodes))

	for _, ref := range sortedRefsDescending(leaves, nodes) {
		if leaf, ok := leaves[ref]; ok {
			buf := leaf.Encode()
			offsets, err := pio.Allocate(len(buf))
			if err != nil {
				return nil, err
			}
			leaf.ID = btreepage.Ref(offsets[0])
			buf = leaf.Encode()
			if err := pio.WriteChain(offsets, buf); err != nil {
				return nil, err
			}
			resolved[ref] = offsets[0]
			continue
		}

		node := nodes[ref]
		for i, child := range node.Children {
			if child < 0 {
				off, ok := resolved[child]
				if !ok {
					return nil, ErrUnresolvedRef
				}
				node.Children[i] = btreepage.Ref(off)
			}
		}
		buf := node.Encode()
		offsets, err := pio.Allocate(len(buf))
		if err != nil {
			return nil, err
		}
		node.ID = btreepage.Ref(offsets[0])
		buf = node.Encode()
		if err := pio.WriteChain(offsets, buf); err != nil {
			return nil, err
		}
		resolved[ref] = offsets[0]
	}
	return resolved, nil
}

// finalizeTreeHeader resolves bt's root (if it was still a tentative ref)
// against a completed serializeWAL pass and stamps the commit revision.
func finalizeTreeHeader(bt *btree.BTree, revision uint64, resolved map[btreepage.Ref]uint64) {
	rootRef := btreepage.Ref(int64(bt.Header.RootOffset))
	if rootRef < 0 {
		if off, ok := resolved[rootRef]; ok {
			bt.Header.RootOffset = off
		}
	}
	bt.Header.Revision = revision
}

func writeInfoPage(pio *pageio.PageIO, info btree.Info) (uint64, error) {
	buf := info.Encode()
	offsets, err := pio.Allocate(len(buf))
	if err != nil {
		return 0, err
	}
	if err := pio.WriteChain(offsets, buf); err != nil {
		return 0, err
	}
	return offsets[0], nil
}

func writeHeaderPage(pio *pageio.PageIO, hdr btree.Header) (uint64, error) {
	buf := hdr.Encode()
	offsets, err := pio.Allocate(len(buf))
	if err != nil {
		return 0, err
	}
	if err := pio.WriteChain(offsets, buf); err != nil {
		return 0, err
	}
	return offsets[0], nil
}

// Commit durably applies every tree mutation staged in this transaction,
// per spec.md §4.6/§4.9: reclaim pages superseded by revisions no reader
// depends on anymore, serialize the write-ahead pages for every touched
// tree, fold their new header offsets into the tree-of-trees, record this
// revision's copied-page set into the copied-pages tree, and finally flip
// the durable header's inactive slot.
func (w *WriteTxn) Commit() error {
	if w.done {
		return ErrTransactionDone
	}
	defer func() {
		w.done = true
		w.ctx.Close()
		w.rm.mu.Unlock()
	}()

	rm := w.rm
	if err := w.ensureMetaTrees(); err != nil {
		return err
	}

	bootstrapping := rm.bob == nil || rm.cpb == nil
	if len(w.touched) == 0 && !bootstrapping {
		return nil
	}

	if err := w.Reclaim(); err != nil {
		return err
	}

	// resolved accumulates pending-ref -> durable-offset across every
	// round below, so each finalizeTreeHeader call can look up a page
	// written in any earlier round.
	resolved := make(map[btreepage.Ref]uint64)

	// Round 1: every user tree touched this transaction.
	round1, err := serializeWAL(rm.pio, w.ctx)
	if err != nil {
		return err
	}
	for ref, off := range round1 {
		resolved[ref] = off
	}
	w.ctx.ResetWAL()
	// Root leaves bootstrapped for BoB/CPB in ensureMetaTrees were written
	// in this round; point both headers at their durable offsets before
	// rounds 2/3 insert into them, since the WAL no longer holds them.
	finalizeTreeHeader(w.bob, w.revision, resolved)
	finalizeTreeHeader(w.cpb, w.revision, resolved)

	treeHeaderOffsets := make(map[string]uint64, len(w.touched))
	for name, bt := range w.touched {
		finalizeTreeHeader(bt, w.revision, resolved)
		var infoOffset uint64
		if w.newTrees[name] {
			infoOffset, err = writeInfoPage(rm.pio, bt.Info)
			if err != nil {
				return err
			}
		} else {
			entry, _ := rm.lookupTree(name)
			infoOffset = entry.header.InfoOffset
		}
		bt.Header.InfoOffset = infoOffset
		hdrOffset, err := writeHeaderPage(rm.pio, bt.Header)
		if err != nil {
			return err
		}
		treeHeaderOffsets[name] = hdrOffset
	}
	for name, hdrOffset := range treeHeaderOffsets {
		if err := w.bob.Insert(w.ctx, bobKey(name, w.revision), encodeUint64(hdrOffset)); err != nil {
			return err
		}
	}

	// Round 2: BoB's own pages, staged by the inserts above.
	round2, err := serializeWAL(rm.pio, w.ctx)
	if err != nil {
		return err
	}
	for ref, off := range round2 {
		resolved[ref] = off
	}
	w.ctx.ResetWAL()
	finalizeTreeHeader(w.bob, w.revision, resolved)
	if w.bob.Header.InfoOffset == 0 {
		off, err := writeInfoPage(rm.pio, w.bob.Info)
		if err != nil {
			return err
		}
		w.bob.Header.InfoOffset = off
	}
	bobHeaderOffset, err := writeHeaderPage(rm.pio, w.bob.Header)
	if err != nil {
		return err
	}

	// Round 3: this revision's copied-pages entry, carrying forward
	// whatever CPB's own last supersession deferred to us.
	copied := make([]uint64, 0, len(rm.pendingMetaReclaim)+len(w.ctx.CopiedOffsets()))
	copied = append(copied, rm.pendingMetaReclaim...)
	copied = append(copied, w.ctx.CopiedOffsets()...)
	if len(copied) > 0 {
		if err := w.cpb.Insert(w.cpbCtx(), cpbKey(w.revision), encodeOffsetList(copied)); err != nil {
			return err
		}
	}

	round3, err := serializeWAL(rm.pio, w.ctx)
	if err != nil {
		return err
	}
	for ref, off := range round3 {
		resolved[ref] = off
	}
	w.ctx.ResetWAL()
	finalizeTreeHeader(w.cpb, w.revision, resolved)
	if w.cpb.Header.InfoOffset == 0 {
		off, err := writeInfoPage(rm.pio, w.cpb.Info)
		if err != nil {
			return err
		}
		w.cpb.Header.InfoOffset = off
	}
	cpbHeaderOffset, err := writeHeaderPage(rm.pio, w.cpb.Header)
	if err != nil {
		return err
	}

	newHeader := Header{
		PageSize:     rm.header.PageSize,
		Generation:   rm.header.Generation + 1,
		Revision:     w.revision,
		BoBOffset:    bobHeaderOffset,
		CPBOffset:    cpbHeaderOffset,
		FreeListHead: rm.pio.FreeListHead(),
		EOF:          uint64(rm.pio.Size()),
	}
	writeSlot := 1 - rm.activeSlot
	if err := rm.writeHeaderSlot(writeSlot, newHeader); err != nil {
		return err
	}
	if err := rm.storage.Sync(); err != nil {
		return err
	}

	rm.headerMu.Lock()
	rm.header = newHeader
	rm.activeSlot = writeSlot
	rm.headerMu.Unlock()

	rm.treesMu.Lock()
	rm.bob = w.bob
	rm.cpb = w.cpb
	for name, bt := range w.touched {
		rm.trees[name] = &treeEntry{info: bt.Info, header: bt.Header}
	}
	rm.treesMu.Unlock()

	rm.pendingMetaReclaim = w.metaReclaimThisTxn

	return nil
}
