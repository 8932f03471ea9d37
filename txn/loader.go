// Package txn implements the per-transaction scratchpads described in
// spec.md §4.5: a write transaction's WAL map / copied-page set / tentative
// end-of-file, and a read transaction's pinned revision.
//
// Neither type here touches a file or a B+tree directly. Both are handed a
// Loader that resolves already-durable offsets to decoded pages; recordmgr
// implements Loader over its PageIO and btreepage's codecs. This keeps the
// cyclic reference recordmgr -> btree -> txn -> recordmgr from ever forming
// (spec.md §9: "break cycles by making the record manager the single owner
// of the backing file ... trees and headers hold only offsets").
package txn

import "mavi/btreepage"

// Loader resolves a durable page reference to its decoded form. Every
// method takes a plain file offset (a non-negative Ref) — pending,
// not-yet-serialized pages never reach a Loader; they are resolved from the
// WriteContext's own WAL map instead.
type Loader interface {
	LoadLeaf(offset uint64) (*btreepage.Leaf, error)
	LoadNode(offset uint64) (*btreepage.Node, error)
	IsNode(offset uint64) (bool, error)
}
