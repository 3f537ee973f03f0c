package tree

import (
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/benz9527/xavl/xlog"
)

const cacheLinePadSize = unsafe.Sizeof(cpu.CacheLinePad{})

const (
	epochBuckets       = 3
	epochPinnedBit     = 1
	epochLocalShift    = 1
	epochNilHandleLink = 0
)

// References:
// https://www.cl.cam.ac.uk/techreports/UCAM-CL-TR-579.pdf (Fraser, 3.3 Epoch based reclamation)
// https://github.com/crossbeam-rs/crossbeam/tree/master/crossbeam-epoch
//
// The global epoch only advances when every pinned participant has
// observed it. A node retired in epoch e is unreachable for every
// participant pinned in e+1, so it is released when the global epoch
// reaches e+2. Three limbo buckets are enough.
//
// The limbo lists are Treiber stacks of arena handles linked by the
// nodes' next slot, which is free until the node is released.

// epochParticipant is one slot of the participant registry.
// The registry only grows, a slot is reused by the next pin after
// its owner unpins.
type epochParticipant struct {
	_ [cacheLinePadSize]byte
	// epoch<<1 | pinned
	local atomic.Uint64
	inUse atomic.Bool
	next  *epochParticipant
	_     [cacheLinePadSize - unsafe.Sizeof(atomic.Uint64{}) - unsafe.Sizeof(atomic.Bool{})]byte
}

type epochReclaimer struct {
	global       atomic.Uint64
	participants atomic.Pointer[epochParticipant]
	limbo        [epochBuckets]atomic.Uint32
	pending      atomic.Int64
	retired      atomic.Uint64
	reclaimed    atomic.Uint64
	threshold    int64
	link         func(handle uint32) *atomic.Uint32
	release      func(handle uint32)
	logger       xlog.XLogger
}

func newEpochReclaimer(
	threshold int64,
	link func(handle uint32) *atomic.Uint32,
	release func(handle uint32),
	logger xlog.XLogger,
) *epochReclaimer {
	if threshold <= 0 {
		threshold = defaultReclaimThreshold
	}
	return &epochReclaimer{
		threshold: threshold,
		link:      link,
		release:   release,
		logger:    logger,
	}
}

// pin announces the caller enters a critical section. The nodes
// reachable from here will not be released before unpin.
func (r *epochReclaimer) pin() *epochParticipant {
	var p *epochParticipant
	for aux := r.participants.Load(); aux != nil; aux = aux.next {
		if !aux.inUse.Load() && aux.inUse.CompareAndSwap(false, true) {
			p = aux
			break
		}
	}
	if p == nil {
		p = &epochParticipant{}
		p.inUse.Store(true)
		for {
			head := r.participants.Load()
			p.next = head
			if r.participants.CompareAndSwap(head, p) {
				break
			}
		}
	}
	for {
		e := r.global.Load()
		p.local.Store(e<<epochLocalShift | epochPinnedBit)
		if r.global.Load() == e {
			return p
		}
	}
}

func (r *epochReclaimer) unpin(p *epochParticipant) {
	p.local.Store(0)
	p.inUse.Store(false)
}

// retire must be called by a pinned participant after the node is
// unlinked, and only once per unlink.
func (r *epochReclaimer) retire(handle uint32) {
	bucket := &r.limbo[r.global.Load()%epochBuckets]
	link := r.link(handle)
	for {
		head := bucket.Load()
		link.Store(head)
		if bucket.CompareAndSwap(head, handle) {
			break
		}
	}
	r.retired.Add(1)
	if r.pending.Add(1) >= r.threshold {
		r.pending.Store(0)
		r.tryAdvance()
	}
}

// tryAdvance must be called by a pinned participant.
func (r *epochReclaimer) tryAdvance() bool {
	e := r.global.Load()
	for aux := r.participants.Load(); aux != nil; aux = aux.next {
		if local := aux.local.Load(); local&epochPinnedBit == epochPinnedBit && local>>epochLocalShift != e {
			return false
		}
	}
	if !r.global.CompareAndSwap(e, e+1) {
		return false
	}
	n := r.drain(&r.limbo[(e+2)%epochBuckets])
	if r.logger != nil && n > 0 {
		r.logger.Debug("epoch advanced",
			zap.Uint64("epoch", e+1),
			zap.Int("reclaimed", n),
		)
	}
	return true
}

func (r *epochReclaimer) drain(bucket *atomic.Uint32) int {
	n := 0
	for handle := bucket.Swap(epochNilHandleLink); handle != epochNilHandleLink; n++ {
		next := r.link(handle).Load()
		r.release(handle)
		handle = next
	}
	r.reclaimed.Add(uint64(n))
	return n
}

func (r *epochReclaimer) pinned() bool {
	return r.pinnedExcept(nil)
}

// pinnedExcept reports whether any participant other than p is pinned.
func (r *epochReclaimer) pinnedExcept(p *epochParticipant) bool {
	for aux := r.participants.Load(); aux != nil; aux = aux.next {
		if aux != p && aux.local.Load()&epochPinnedBit == epochPinnedBit {
			return true
		}
	}
	return false
}

// quiesce releases every retired node. It is only safe if no
// operation is in flight, ErrXAVLNotQuiescent is returned if a
// pinned participant is seen.
func (r *epochReclaimer) quiesce() (int, error) {
	if r.pinned() {
		return 0, ErrXAVLNotQuiescent
	}
	n := 0
	for i := 0; i < epochBuckets; i++ {
		n += r.drain(&r.limbo[i])
	}
	r.global.Add(1)
	r.pending.Store(0)
	return n, nil
}

func (r *epochReclaimer) epoch() uint64 {
	return r.global.Load()
}
