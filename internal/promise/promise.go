// Package promise holds the polymorphic handle to a pending backend result.
package promise

// Promise represents a not-yet-available result of type T. Concrete
// backends supply their own implementation; a trivial one is provided below
// for results that are already computed.
type Promise[T any] interface {
	// IsReady performs a non-blocking readiness check. It may return false
	// spuriously only when Sync would otherwise block; it must return true
	// once the result is available.
	IsReady() bool

	// Sync consumes the promise, blocking until the result is available.
	Sync() (T, error)
}

// Ready is a Promise wrapping an already-computed value. Sync never blocks
// and IsReady always returns true. This is the form software-only (test)
// backends return.
type Ready[T any] struct {
	value T
}

// NewReady wraps value in an already-resolved Promise.
func NewReady[T any](value T) Ready[T] {
	return Ready[T]{value: value}
}

func (r Ready[T]) IsReady() bool { return true }

func (r Ready[T]) Sync() (T, error) { return r.value, nil }
