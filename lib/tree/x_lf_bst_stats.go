package tree

import (
	"sync/atomic"
	"unsafe"
)

type lfStatsCounter uint8

const (
	statInserts lfStatsCounter = iota
	statDeletes
	statSearches
	statContentionRetries
	statNestedSeekAborts
	statHelpInserts
	statHelpMarks
	statHelpRelocates
	statRelocateFailures
	statMax
)

type paddedCounter struct {
	val atomic.Uint64
	_   [cacheLinePadSize - unsafe.Sizeof(atomic.Uint64{})]byte
}

// lfStats is nil when the stats are disabled, every method is
// nil-safe so the hot paths need no branches at the call sites.
type lfStats struct {
	counters [statMax]paddedCounter
}

func (stats *lfStats) inc(c lfStatsCounter) {
	if stats == nil {
		return
	}
	stats.counters[c].val.Add(1)
}

func (stats *lfStats) load(c lfStatsCounter) uint64 {
	if stats == nil {
		return 0
	}
	return stats.counters[c].val.Load()
}
