package infra

import (
	"runtime"
	_ "unsafe"
)

//go:linkname procYield runtime.procyield
func procYield(cycles uint32)

// Backoff spins with an exponential number of PAUSE batches and
// hands the P over to the scheduler once the budget exceeds limit.
// It returns the next attempt value.
func Backoff(attempt, limit uint8) uint8 {
	if attempt == 0 {
		attempt = 1
	}
	if attempt <= limit {
		for i := uint8(0); i < attempt; i++ {
			procYield(20)
		}
		return attempt << 1
	}
	runtime.Gosched()
	return attempt
}
