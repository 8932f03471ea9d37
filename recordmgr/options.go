package recordmgr

import "mavi/pageio"

// Options configures Open. Zero values pick mavi's defaults, mirroring the
// teacher pager's Options{PageSize, CacheSize, ReadOnly} shape.
type Options struct {
	// PageSize is the physical page size in bytes. Ignored when opening an
	// existing file — the page size recorded in its header wins. Defaults
	// to 4096 for a new file.
	PageSize int
	// CacheSize caps the number of decoded pages PageIO keeps resident.
	// Defaults to 1000.
	CacheSize int
	// MemoryBudget, if non-zero, bounds the estimated bytes the page cache
	// may hold; see pageio.MemoryBudget. Zero disables the budget.
	MemoryBudget int64
	// PressureThreshold overrides the budget's default 80% pressure
	// threshold (0 keeps the default). Ignored when MemoryBudget is 0.
	PressureThreshold float64
	// OnPressure, if set, is registered with the budget so the caller
	// hears about it the moment usage first crosses PressureThreshold.
	// Ignored when MemoryBudget is 0.
	OnPressure pageio.PressureCallback
	// ReadOnly opens the file without acquiring the writer lock and
	// disallows BeginWrite.
	ReadOnly bool
}

const (
	defaultPageSize  = 4096
	defaultCacheSize = 1000
)
