package tree

import (
	"fmt"
	randv2 "math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type histOpType uint8

const (
	histInsert histOpType = iota
	histDelete
	histSearch
	histOpTypeMax
)

func (typ histOpType) String() string {
	switch typ {
	case histInsert:
		return "insert"
	case histDelete:
		return "delete"
	default:
	}
	return "search"
}

type histOp struct {
	typ histOpType
	key int
}

type histRecord struct {
	op    histOp
	ok    bool
	start time.Time
	end   time.Time
}

func (rec *histRecord) String() string {
	return fmt.Sprintf("%s(%d)=%v", rec.op.typ, rec.op.key, rec.ok)
}

func decodeHistOps(input []byte, maxOps, keySpace int) []histOp {
	ops := make([]histOp, 0, maxOps)
	for i := 0; i+1 < len(input) && len(ops) < maxOps; i += 2 {
		ops = append(ops, histOp{
			typ: histOpType(input[i] % uint8(histOpTypeMax)),
			key: int(input[i+1]) % keySpace,
		})
	}
	return ops
}

func runHistory(set OrderedSet[int], ops []histOp) []*histRecord {
	records := make([]*histRecord, len(ops))
	var wg sync.WaitGroup
	wg.Add(len(ops))
	for i, op := range ops {
		go func(i int, op histOp) {
			defer wg.Done()
			rec := &histRecord{op: op}
			rec.start = time.Now()
			switch op.typ {
			case histInsert:
				rec.ok = set.Insert(op.key)
			case histDelete:
				rec.ok = set.Delete(op.key)
			default:
				rec.ok = set.Search(op.key)
			}
			rec.end = time.Now()
			records[i] = rec
		}(i, op)
	}
	wg.Wait()
	return records
}

// checkLinearizable searches a sequential witness by DFS. A record
// can only be placed after all the records that ended before it
// started.
func checkLinearizable(initial map[int]bool, records []*histRecord) bool {
	n := len(records)
	deps := make([]uint32, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && records[i].end.Before(records[j].start) {
				deps[j] |= 1 << i
			}
		}
	}

	model := make(map[int]bool, len(initial))
	for k, v := range initial {
		model[k] = v
	}
	used := uint32(0)
	var dfs func(placed int) bool
	dfs = func(placed int) bool {
		if placed == n {
			return true
		}
		for i := 0; i < n; i++ {
			if used&(1<<i) != 0 || deps[i]&^used != 0 {
				continue
			}
			rec := records[i]
			present := model[rec.op.key]
			var expected, next bool
			switch rec.op.typ {
			case histInsert:
				expected, next = !present, true
			case histDelete:
				expected, next = present, false
			default:
				expected, next = present, present
			}
			if rec.ok != expected {
				continue
			}
			used |= 1 << i
			model[rec.op.key] = next
			if dfs(placed + 1) {
				return true
			}
			model[rec.op.key] = present
			used &^= 1 << i
		}
		return false
	}
	return dfs(0)
}

func summarizeHistory(records []*histRecord) string {
	items := make([]string, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.String())
	}
	return strings.Join(items, ", ")
}

func TestOrderedSet_Linearizability(t *testing.T) {
	const (
		rounds   = 300
		maxOps   = 8
		keySpace = 4
	)
	for _, tc := range concSetTestcases() {
		t.Run(tc.name, func(tt *testing.T) {
			rnd := randv2.New(randv2.NewPCG(uint64(tc.kind), 2024))
			for r := 0; r < rounds; r++ {
				set := newTestSet[int](tt, tc)
				initial := make(map[int]bool, keySpace)
				for key := 0; key < keySpace; key++ {
					if rnd.IntN(2) == 0 {
						require.True(tt, set.Insert(key))
						initial[key] = true
					}
				}
				input := make([]byte, 2*maxOps)
				for i := range input {
					input[i] = byte(rnd.UintN(256))
				}
				records := runHistory(set, decodeHistOps(input, maxOps, keySpace))
				require.Truef(tt, checkLinearizable(initial, records),
					"non-linearizable history: %s", summarizeHistory(records))
				require.NoError(tt, Validate[int](set))
			}
		})
	}
}

func FuzzLockFreeBSTLinearizability(f *testing.F) {
	f.Add([]byte{0, 1, 0, 2, 1, 1, 2, 1})
	f.Add([]byte{0, 3, 1, 3, 1, 3, 2, 3, 0, 3})
	f.Add([]byte{1, 0, 0, 0, 2, 0, 0, 1, 1, 1})

	f.Fuzz(func(t *testing.T, input []byte) {
		ops := decodeHistOps(input, 8, 4)
		if len(ops) == 0 {
			t.Skip()
		}
		set, err := NewOrderedSet[int](LockFreeBST, WithLockFreeReclaimThreshold(1))
		require.NoError(t, err)
		// A two children node to exercise the relocation.
		initial := map[int]bool{1: true, 0: true, 2: true}
		for _, key := range []int{1, 0, 2} {
			set.Insert(key)
		}
		records := runHistory(set, ops)
		if !checkLinearizable(initial, records) {
			t.Fatalf("non-linearizable history: %s", summarizeHistory(records))
		}
		require.NoError(t, Validate[int](set))
	})
}
