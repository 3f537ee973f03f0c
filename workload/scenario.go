package workload

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/benz9527/xavl/lib/infra"
	"github.com/benz9527/xavl/lib/tree"
)

type Scenario struct {
	Name string
	// Concurrent scenarios drive the set from the pool goroutines.
	Concurrent bool
	run        func(r *Runner, set tree.OrderedSet[int]) error
}

var fixedKeys = []int{20, 12, 53, 0, 21, 17, 82, 73, 15, 2}

func Scenarios() []Scenario {
	return []Scenario{
		{Name: "fixed-keys-search", run: fixedKeysSearch},
		{Name: "insert-then-delete-upper-half", run: insertThenDeleteUpperHalf},
		{Name: "sequential-ranges", run: sequentialRanges},
		{Name: "spread-delete-evens", run: spreadDeleteEvens},
		{Name: "concurrent-insert", Concurrent: true, run: concurrentInsert},
		{Name: "concurrent-range-delete", Concurrent: true, run: concurrentRangeDelete},
		{Name: "concurrent-insert-delete-all", Concurrent: true, run: concurrentInsertDeleteAll},
		{Name: "concurrent-insert-delete-evens", Concurrent: true, run: concurrentInsertDeleteEvens},
	}
}

func ScenarioByName(name string) (Scenario, bool) {
	return lo.Find(Scenarios(), func(sc Scenario) bool {
		return sc.Name == name
	})
}

func isEven(key int, _ int) bool { return key%2 == 0 }

func isOdd(key int, _ int) bool { return key%2 != 0 }

func insertAll(set tree.OrderedSet[int], keys []int) error {
	var err error
	for _, key := range keys {
		if !set.Insert(key) {
			err = multierr.Append(err, infra.WrapErrorStackWithMessage(ErrWorkloadLostUpdate, fmt.Sprintf("insert %d", key)))
		}
	}
	return err
}

func deleteAll(set tree.OrderedSet[int], keys []int) error {
	var err error
	for _, key := range keys {
		if !set.Delete(key) {
			err = multierr.Append(err, infra.WrapErrorStackWithMessage(ErrWorkloadLostUpdate, fmt.Sprintf("delete %d", key)))
		}
	}
	return err
}

// expectKeys checks the set holds exactly the sorted keys.
func expectKeys(set tree.OrderedSet[int], expected []int) error {
	actual := make([]int, 0, len(expected))
	set.Foreach(func(idx int64, key int) bool {
		actual = append(actual, key)
		return true
	})
	missing, unexpected := lo.Difference(expected, actual)
	var err error
	if len(missing) > 0 {
		err = multierr.Append(err, infra.WrapErrorStackWithMessage(ErrWorkloadUnexpectedKeys, fmt.Sprintf("missing %v", missing)))
	}
	if len(unexpected) > 0 {
		err = multierr.Append(err, infra.WrapErrorStackWithMessage(ErrWorkloadUnexpectedKeys, fmt.Sprintf("unexpected %v", unexpected)))
	}
	if err == nil && (len(actual) != len(expected) || set.Len() != int64(len(expected))) {
		err = infra.WrapErrorStackWithMessage(ErrWorkloadUnexpectedKeys,
			fmt.Sprintf("expected %d keys, iterated %d, len %d", len(expected), len(actual), set.Len()))
	}
	if err == nil {
		for _, key := range expected {
			if !set.Search(key) {
				err = multierr.Append(err, infra.WrapErrorStackWithMessage(ErrWorkloadUnexpectedKeys, fmt.Sprintf("search %d", key)))
			}
		}
	}
	return err
}

// expectLedger checks every key in keys carries the outcome.
func expectLedger(l *ledger, keys []int, o outcome) error {
	_, lost := lo.Difference(l.keysWith(o), keys)
	if len(lost) == 0 {
		return nil
	}
	return infra.WrapErrorStackWithMessage(ErrWorkloadLostUpdate, fmt.Sprintf("%d keys lost, first %d", len(lost), lost[0]))
}

func fixedKeysSearch(_ *Runner, set tree.OrderedSet[int]) error {
	if err := insertAll(set, fixedKeys); err != nil {
		return err
	}
	var err error
	for _, key := range lo.Range(100) {
		if found, expected := set.Search(key), lo.Contains(fixedKeys, key); found != expected {
			err = multierr.Append(err, infra.WrapErrorStackWithMessage(ErrWorkloadUnexpectedKeys,
				fmt.Sprintf("search %d got %t", key, found)))
		}
	}
	if err != nil {
		return err
	}
	return expectKeys(set, lo.Filter(lo.Range(100), func(key int, _ int) bool {
		return lo.Contains(fixedKeys, key)
	}))
}

func insertThenDeleteUpperHalf(_ *Runner, set tree.OrderedSet[int]) error {
	if err := insertAll(set, lo.Range(1000)); err != nil {
		return err
	}
	if err := deleteAll(set, lo.RangeFrom(500, 500)); err != nil {
		return err
	}
	// Deleted keys are gone for good.
	if set.Delete(750) {
		return infra.WrapErrorStackWithMessage(ErrWorkloadUnexpectedKeys, "phantom delete 750")
	}
	return expectKeys(set, lo.Range(500))
}

func sequentialRanges(_ *Runner, set tree.OrderedSet[int]) error {
	for _, keys := range [][]int{
		lo.RangeFrom(500, 400),
		lo.RangeFrom(0, 100),
		lo.RangeFrom(900, 100),
		lo.RangeFrom(100, 400),
	} {
		if err := insertAll(set, keys); err != nil {
			return err
		}
	}
	return expectKeys(set, lo.Range(1000))
}

func spreadDeleteEvens(r *Runner, set tree.OrderedSet[int]) error {
	keys := lo.Range(r.total())
	if err := insertAll(set, keys); err != nil {
		return err
	}
	if err := deleteAll(set, lo.Filter(keys, isEven)); err != nil {
		return err
	}
	return expectKeys(set, lo.Filter(keys, isOdd))
}

func concurrentInsert(r *Runner, set tree.OrderedSet[int]) error {
	l := newLedger()
	if err := r.parallel(r.chunks(), func(chunk []int) {
		for _, key := range chunk {
			l.insert(key, set.Insert(key))
		}
	}); err != nil {
		return err
	}
	keys := lo.Range(r.total())
	if err := expectLedger(l, keys, insertOK); err != nil {
		return err
	}
	return expectKeys(set, keys)
}

func concurrentRangeDelete(r *Runner, set tree.OrderedSet[int]) error {
	if err := insertAll(set, lo.Range(r.total())); err != nil {
		return err
	}
	quarter := r.threadSize / 4
	l := newLedger()
	if err := r.parallel(r.chunks(), func(chunk []int) {
		for _, key := range chunk[quarter:] {
			l.delete(key, set.Delete(key))
		}
	}); err != nil {
		return err
	}
	var deleted, kept []int
	for _, chunk := range r.chunks() {
		kept = append(kept, chunk[:quarter]...)
		deleted = append(deleted, chunk[quarter:]...)
	}
	if err := expectLedger(l, deleted, deleteOK); err != nil {
		return err
	}
	return expectKeys(set, kept)
}

func concurrentInsertDeleteAll(r *Runner, set tree.OrderedSet[int]) error {
	l := newLedger()
	if err := r.parallel(r.chunks(), func(chunk []int) {
		for _, key := range chunk {
			l.insert(key, set.Insert(key))
		}
		for _, key := range chunk {
			l.delete(key, set.Delete(key))
		}
	}); err != nil {
		return err
	}
	keys := lo.Range(r.total())
	if err := multierr.Combine(
		expectLedger(l, keys, insertOK),
		expectLedger(l, keys, deleteOK),
	); err != nil {
		return err
	}
	return expectKeys(set, []int{})
}

func concurrentInsertDeleteEvens(r *Runner, set tree.OrderedSet[int]) error {
	l := newLedger()
	if err := r.parallel(r.chunks(), func(chunk []int) {
		for _, key := range chunk {
			l.insert(key, set.Insert(key))
		}
		for _, key := range lo.Filter(chunk, isEven) {
			l.delete(key, set.Delete(key))
		}
	}); err != nil {
		return err
	}
	keys := lo.Range(r.total())
	if err := multierr.Combine(
		expectLedger(l, keys, insertOK),
		expectLedger(l, lo.Filter(keys, isEven), deleteOK),
	); err != nil {
		return err
	}
	if lost := l.keysWith(insertLost | deleteLost); len(lost) > 0 {
		return infra.WrapErrorStackWithMessage(ErrWorkloadLostUpdate, fmt.Sprintf("failed updates on %v", lost))
	}
	return expectKeys(set, lo.Filter(keys, isOdd))
}
