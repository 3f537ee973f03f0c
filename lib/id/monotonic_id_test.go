package id

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNonZeroID(t *testing.T) {
	gen, err := MonotonicNonZeroID()
	require.NoError(t, err)
	prev := uint64(0)
	for i := 0; i < 1000; i++ {
		n := gen.Number()
		require.Greater(t, n, prev)
		prev = n
	}
	s, err := strconv.ParseUint(gen.Str(), 10, 64)
	require.NoError(t, err)
	require.Equal(t, prev+1, s)
}

func TestMonotonicNonZeroID_Overflow(t *testing.T) {
	src := &monotonicNonZeroID{}
	src.val.Store(^uint64(0) - 1)
	require.Equal(t, ^uint64(0), src.next())
	require.Equal(t, uint64(1), src.next())
}

func TestMonotonicNonZeroID_DataRace(t *testing.T) {
	gen, err := MonotonicNonZeroID()
	require.NoError(t, err)
	const goroutines, loops = 8, 1000
	var (
		wg   sync.WaitGroup
		seen sync.Map
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j++ {
				_, loaded := seen.LoadOrStore(gen.Number(), struct{}{})
				assert.False(t, loaded)
			}
		}()
	}
	wg.Wait()
	count := 0
	seen.Range(func(key, value any) bool {
		count++
		return true
	})
	require.Equal(t, goroutines*loops, count)
}
