// Package asyncx runs blocking account flows on worker goroutines so the
// hosting application's event loop never stalls on hashing, persistence or
// outbound dispatch. The event loop drains the returned channel to pick up
// the outcome.
package asyncx

// Result carries a flow outcome back to the caller's event loop.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs fn on a fresh goroutine and returns a buffered channel that will
// receive exactly one Result. The channel is buffered so the worker never
// blocks if the caller abandons the flow.
func Go[T any](fn func() (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		v, err := fn()
		out <- Result[T]{Value: v, Err: err}
	}()
	return out
}
