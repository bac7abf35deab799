package dispatch

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Routing and configuration failures. Routing failures are configuration defects:
// they are never retried and surface to the caller unless an error handler
// explicitly recognises them.
var (
	ErrNoHandlerFound       = errors.New("no handler found for request")
	ErrNoAdapterFound       = errors.New("no adapter supports the resolved handler")
	ErrInvalidConfiguration = errors.New("invalid dispatch configuration")
)

// PanicError carries a panic raised inside a pipeline stage so it can take the
// same recovery path as a returned error.
type PanicError struct {
	Stage Stage
	Value any
	Stack []byte
}

func newPanicError(stage Stage, value any) *PanicError {
	return &PanicError{Stage: stage, Value: value, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during %s: %v", e.Stage, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
