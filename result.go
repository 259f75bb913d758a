package greendonut

import "fmt"

// Result is the outcome of loading a single key: either a value or the error
// that prevented one. The zero value is a resolved zero V.
type Result[V any] struct {
	value V
	err   error
}

// Resolve wraps a successfully loaded value.
func Resolve[V any](value V) Result[V] {
	return Result[V]{value: value}
}

// Reject wraps the error for a key that could not be loaded. err must be
// non-nil.
func Reject[V any](err error) Result[V] {
	if err == nil {
		panic("greendonut: Reject requires a non-nil error")
	}
	return Result[V]{err: err}
}

func (r Result[V]) IsResolved() bool {
	return r.err == nil
}

func (r Result[V]) IsRejected() bool {
	return r.err != nil
}

// Value returns the resolved value and panics on a rejected result. Use
// Unbox when the variant is not known.
func (r Result[V]) Value() V {
	if r.err != nil {
		panic(fmt.Sprintf("greendonut: Value called on rejected result: %v", r.err))
	}
	return r.value
}

// Err returns the rejection error and panics on a resolved result.
func (r Result[V]) Err() error {
	if r.err == nil {
		panic("greendonut: Err called on resolved result")
	}
	return r.err
}

// Unbox splits the result into its value-or-error form.
func (r Result[V]) Unbox() (V, error) {
	return r.value, r.err
}
