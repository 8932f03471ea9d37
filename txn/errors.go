package txn

import "errors"

// ErrDanglingRef is returned when a negative (pending) Ref is looked up in
// a WriteContext's WAL map but isn't there — either a caller handed back a
// stale Ref from a different transaction, or a bug elsewhere staged a
// child reference without ever calling PutLeaf/PutNode for it.
var ErrDanglingRef = errors.New("txn: dangling pending page reference")

// ErrAlreadyClosed names use of a transaction context after Close. No
// WriteContext or ReadContext method returns it; WriteContext.Closed
// reports whether Close has been called.
var ErrAlreadyClosed = errors.New("txn: transaction context already closed")
