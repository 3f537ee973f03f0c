package workload

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

type outcome uint8

const (
	insertOK outcome = 1 << iota
	insertLost
	deleteOK
	deleteLost
)

// ledger records what every key observed during a concurrent run.
// The writers of a key may be different goroutines, the outcomes
// are merged by bitwise or.
type ledger struct {
	outcomes *xsync.MapOf[int, outcome]
}

func newLedger() *ledger {
	return &ledger{
		outcomes: xsync.NewMapOf[int, outcome](),
	}
}

func (l *ledger) record(key int, o outcome) {
	l.outcomes.Compute(key, func(prev outcome, loaded bool) (outcome, bool) {
		return prev | o, false
	})
}

func (l *ledger) insert(key int, ok bool) {
	if ok {
		l.record(key, insertOK)
		return
	}
	l.record(key, insertLost)
}

func (l *ledger) delete(key int, ok bool) {
	if ok {
		l.record(key, deleteOK)
		return
	}
	l.record(key, deleteLost)
}

// keysWith returns the sorted keys carrying the outcome.
func (l *ledger) keysWith(o outcome) []int {
	keys := make([]int, 0, 64)
	l.outcomes.Range(func(key int, value outcome) bool {
		if value&o != 0 {
			keys = append(keys, key)
		}
		return true
	})
	sort.Ints(keys)
	return keys
}

func (l *ledger) size() int {
	return l.outcomes.Size()
}
