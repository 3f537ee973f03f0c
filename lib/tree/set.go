package tree

import (
	"errors"
	"io"
	"sync"

	"github.com/benz9527/xavl/lib/infra"
	"github.com/benz9527/xavl/xlog"
)

var (
	ErrXAVLUnknownKind      = errors.New("[x-avl] unknown ordered set kind")
	ErrXAVLInvalidOption    = errors.New("[x-avl] invalid option")
	ErrXAVLHeightViolation  = errors.New("[x-avl] height violation")
	ErrXAVLBalanceViolation = errors.New("[x-avl] balance violation")
	ErrXAVLOrderViolation   = errors.New("[x-avl] order violation")
	ErrXAVLCycleViolation   = errors.New("[x-avl] cycle violation")
	ErrXAVLLenViolation     = errors.New("[x-avl] len violation")
	ErrXAVLArenaExhausted   = errors.New("[x-avl] lock-free arena is exhausted")
	ErrXAVLNotQuiescent     = errors.New("[x-avl] operation requires quiescence")
	errXAVLUnknownOpFlag    = errors.New("[x-avl] unknown op flag")
)

type writeLockImpl uint8

const (
	goNativeWriteLock writeLockImpl = iota
	spinWriteLock
)

func (impl writeLockImpl) String() string {
	switch impl {
	case spinWriteLock:
		return "spin"
	case goNativeWriteLock:
		return "go-native"
	default:
	}
	return "unknown"
}

type setOptions struct {
	logger           xlog.XLogger
	writeLock        writeLockImpl
	externalLock     bool
	statsEnabled     bool
	reclaimThreshold int64
}

type SetOption func(opts *setOptions) error

// WithXLogger sets the logger of the rare events, e.g. the arena
// growth, the epoch advancing and the rebalance passes.
func WithXLogger(logger xlog.XLogger) SetOption {
	return func(opts *setOptions) error {
		if logger == nil {
			return infra.WrapErrorStackWithMessage(ErrXAVLInvalidOption, "nil logger")
		}
		opts.logger = logger
		return nil
	}
}

func WithCoarseGoNativeLock() SetOption {
	return func(opts *setOptions) error {
		opts.writeLock = goNativeWriteLock
		return nil
	}
}

func WithCoarseSpinLock() SetOption {
	return func(opts *setOptions) error {
		opts.writeLock = spinWriteLock
		return nil
	}
}

// WithSerialExternalLock serializes every call of the serial set
// by a mutex, so it can be driven by concurrent callers.
func WithSerialExternalLock() SetOption {
	return func(opts *setOptions) error {
		opts.externalLock = true
		return nil
	}
}

func WithLockFreeStats() SetOption {
	return func(opts *setOptions) error {
		opts.statsEnabled = true
		return nil
	}
}

// WithLockFreeReclaimThreshold sets how many retired nodes trigger
// an epoch advancing attempt.
func WithLockFreeReclaimThreshold(threshold int64) SetOption {
	return func(opts *setOptions) error {
		if threshold <= 0 {
			return infra.WrapErrorStackWithMessage(ErrXAVLInvalidOption, "non-positive reclaim threshold")
		}
		opts.reclaimThreshold = threshold
		return nil
	}
}

func NewOrderedSet[K infra.OrderedKey](kind SetKind, opts ...SetOption) (OrderedSet[K], error) {
	o := &setOptions{
		writeLock:        goNativeWriteLock,
		reclaimThreshold: defaultReclaimThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	switch kind {
	case CoarseAVL:
		return newXCoarseAVL[K](o.writeLock), nil
	case SerialAVL:
		var set OrderedSet[K] = &xSerialAVL[K]{}
		if o.externalLock {
			set = &setDelegator[K]{impl: set}
		}
		return set, nil
	case LockFreeBST:
		return newXLockFreeBST[K](o), nil
	default:
	}
	return nil, infra.WrapErrorStack(ErrXAVLUnknownKind)
}

var (
	_ OrderedSet[uint8] = (*setDelegator[uint8])(nil)
)

// setDelegator serializes the calls of a set that is not safe
// for concurrent use.
type setDelegator[K infra.OrderedKey] struct {
	mu   sync.Mutex
	impl OrderedSet[K]
}

func (set *setDelegator[K]) Kind() SetKind { return set.impl.Kind() }

func (set *setDelegator[K]) Len() int64 {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.impl.Len()
}

func (set *setDelegator[K]) Insert(key K) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.impl.Insert(key)
}

func (set *setDelegator[K]) Delete(key K) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.impl.Delete(key)
}

func (set *setDelegator[K]) Search(key K) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.impl.Search(key)
}

func (set *setDelegator[K]) Foreach(action func(idx int64, key K) bool) {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.impl.Foreach(action)
}

func (set *setDelegator[K]) PreorderDump(w io.Writer) error {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.impl.PreorderDump(w)
}

func (set *setDelegator[K]) Root() AVLNode[K] {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.impl.Root()
}
