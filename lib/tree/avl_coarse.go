package tree

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/benz9527/xavl/lib/infra"
)

const (
	unlocked = 0
	locked   = 1
)

// spinMutex is a CAS spin lock. Unlike the sync.Mutex, the fast path
// never parks the goroutine, the backoff yields the processor.
// It may be unlocked by another goroutine, as the reader group does.
type spinMutex uint32

func (m *spinMutex) Lock() {
	attempt := uint8(1)
	for !atomic.CompareAndSwapUint32((*uint32)(m), unlocked, locked) {
		attempt = infra.Backoff(attempt, 32)
	}
}

func (m *spinMutex) TryLock() bool {
	return atomic.CompareAndSwapUint32((*uint32)(m), unlocked, locked)
}

func (m *spinMutex) Unlock() {
	if !atomic.CompareAndSwapUint32((*uint32)(m), locked, unlocked) {
		panic("[x-avl] unlock of unlocked spin mutex")
	}
}

func writeLockFactory(impl writeLockImpl) sync.Locker {
	switch impl {
	case spinWriteLock:
		return new(spinMutex)
	case goNativeWriteLock:
		fallthrough
	default:
	}
	return new(sync.Mutex)
}

// readerGroupLock is a reader-preferring lock.
// Readers share the write lock as a group: the first reader
// acquires it and the last reader releases it. Writers starve
// while readers keep overlapping.
type readerGroupLock struct {
	readMu    sync.Mutex
	readCount int64
	writeMu   sync.Locker
}

func (l *readerGroupLock) rLock() {
	l.readMu.Lock()
	if l.readCount++; l.readCount == 1 {
		l.writeMu.Lock()
	}
	l.readMu.Unlock()
}

func (l *readerGroupLock) rUnlock() {
	l.readMu.Lock()
	if l.readCount--; l.readCount == 0 {
		l.writeMu.Unlock()
	}
	l.readMu.Unlock()
}

func (l *readerGroupLock) lock()   { l.writeMu.Lock() }
func (l *readerGroupLock) unlock() { l.writeMu.Unlock() }

var (
	_ OrderedSet[uint8] = (*xCoarseAVL[uint8])(nil)
)

type xCoarseAVL[K infra.OrderedKey] struct {
	lock readerGroupLock
	tree avlTree[K]
}

func newXCoarseAVL[K infra.OrderedKey](impl writeLockImpl) *xCoarseAVL[K] {
	return &xCoarseAVL[K]{
		lock: readerGroupLock{
			writeMu: writeLockFactory(impl),
		},
	}
}

func (set *xCoarseAVL[K]) Kind() SetKind { return CoarseAVL }

func (set *xCoarseAVL[K]) Len() int64 {
	set.lock.rLock()
	defer set.lock.rUnlock()
	return set.tree.len()
}

func (set *xCoarseAVL[K]) Insert(key K) bool {
	set.lock.lock()
	defer set.lock.unlock()
	return set.tree.insert(key)
}

func (set *xCoarseAVL[K]) Delete(key K) bool {
	set.lock.lock()
	defer set.lock.unlock()
	return set.tree.delete(key)
}

func (set *xCoarseAVL[K]) Search(key K) bool {
	set.lock.rLock()
	defer set.lock.rUnlock()
	return set.tree.search(key)
}

func (set *xCoarseAVL[K]) Foreach(action func(idx int64, key K) bool) {
	set.lock.rLock()
	defer set.lock.rUnlock()
	foreachInOrder[K](set.tree.rootView(), action)
}

func (set *xCoarseAVL[K]) PreorderDump(w io.Writer) error {
	set.lock.rLock()
	defer set.lock.rUnlock()
	return writePreorder[K](w, set.tree.rootView())
}

// Root is only meaningful at quiescence, the view is not guarded.
func (set *xCoarseAVL[K]) Root() AVLNode[K] {
	set.lock.rLock()
	defer set.lock.rUnlock()
	return set.tree.rootView()
}
