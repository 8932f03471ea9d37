package recordmgr

import (
	"mavi/btreepage"
	"mavi/pageio"
)

// pageLoader implements txn.Loader over a PageIO and its decoded-page
// cache, decoding logical pages with btreepage's codec. One pageLoader is
// shared by every write and read transaction a RecordManager hands out —
// it only ever resolves durable (non-negative) offsets, so concurrent
// readers and the single writer can share it safely.
type pageLoader struct {
	pio *pageio.PageIO
}

func (l *pageLoader) readAndCache(offset uint64) (any, error) {
	if v, ok := l.pio.Cache().Get(offset); ok {
		return v, nil
	}
	buf, err := l.pio.ReadChain(offset)
	if err != nil {
		return nil, err
	}
	isNode, err := btreepage.IsNodePage(buf)
	if err != nil {
		return nil, err
	}
	var v any
	if isNode {
		n, err := btreepage.DecodeNode(buf)
		if err != nil {
			return nil, err
		}
		n.ID = btreepage.Ref(offset)
		v = n
	} else {
		lf, err := btreepage.DecodeLeaf(buf)
		if err != nil {
			return nil, err
		}
		lf.ID = btreepage.Ref(offset)
		v = lf
	}
	l.pio.Cache().Put(offset, v, int64(len(buf)))
	return v, nil
}

func (l *pageLoader) LoadLeaf(offset uint64) (*btreepage.Leaf, error) {
	v, err := l.readAndCache(offset)
	if err != nil {
		return nil, err
	}
	lf, ok := v.(*btreepage.Leaf)
	if !ok {
		return nil, ErrNotALeaf
	}
	return lf, nil
}

func (l *pageLoader) LoadNode(offset uint64) (*btreepage.Node, error) {
	v, err := l.readAndCache(offset)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*btreepage.Node)
	if !ok {
		return nil, ErrNotANode
	}
	return n, nil
}

func (l *pageLoader) IsNode(offset uint64) (bool, error) {
	v, err := l.readAndCache(offset)
	if err != nil {
		return false, err
	}
	_, ok := v.(*btreepage.Node)
	return ok, nil
}
