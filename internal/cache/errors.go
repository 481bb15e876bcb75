package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalOutputLocation marks an output registered outside the input
	// artifact and the workspace output directory.
	ErrIllegalOutputLocation = errors.New("illegal output location")
	// ErrMissingOutput marks a registered output absent after the step ran.
	ErrMissingOutput = errors.New("registered output does not exist")
	// ErrMissingInput marks an invocation whose input artifact does not
	// exist. The step never runs.
	ErrMissingInput = errors.New("input artifact does not exist")
	// errInconsistentWorkspace marks a published workspace whose outputs
	// changed after publication.
	errInconsistentWorkspace = errors.New("workspace outputs changed since publication")
	// ErrClosed is returned once the identity cache has been closed.
	ErrClosed = errors.New("identity cache is closed")
)

// ExecutionError is a failure raised by step code, including panics.
type ExecutionError struct {
	Step  string
	Input string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s on %s: %v", e.Step, e.Input, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ValidationError reports a step whose registered outputs break the workspace
// contract. It is a configuration error and never retried.
type ValidationError struct {
	Step   string
	Input  string
	Output string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %s on %s: output %s: %v", e.Step, e.Input, e.Output, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InfrastructureError is a cache I/O or bookkeeping failure. It aborts the
// build and is never memoized.
type InfrastructureError struct {
	Op   string
	Path string
	Err  error
}

func (e *InfrastructureError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func infraErr(op, path string, err error) error {
	var ie *InfrastructureError
	if errors.As(err, &ie) {
		return err
	}
	return &InfrastructureError{Op: op, Path: path, Err: err}
}
