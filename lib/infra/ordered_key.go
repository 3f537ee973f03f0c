package infra

type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Unsigned is a constraint that permits any unsigned integer type.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Integer is a constraint that permits any integer type.
type Integer interface {
	Signed | Unsigned
}

// Float is a constraint that permits any floating-point type.
// NaN keys are rejected by the ordered sets, NaN is not ordered.
type Float interface {
	~float32 | ~float64
}

// OrderedKey is the key constraint of the ordered sets.
// The operators < and > define the total order of the keys.
// byte => ~uint8
type OrderedKey interface {
	Integer | Float | ~string
}

// IsNaNKey reports whether key is a floating-point NaN.
// Every comparison against NaN is false, the key would
// be unreachable after insertion.
func IsNaNKey[K OrderedKey](key K) bool {
	return key != key
}
