package server

import (
	"fmt"
	"strings"
)

const (
	StageFrame   = "frame"
	StageContext = "context"
)

// MalformedError is a request that could not be decoded. At StageFrame the
// stream itself is unusable; at StageContext only this request is.
type MalformedError struct {
	Stage string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed request %s: %s", e.Stage, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// EncodeError is a failure to materialise or write a response. Op is one of
// "body", "marshal" or "send".
type EncodeError struct {
	Op  string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode response: %s: %s", e.Op, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Failure is an error returned by, or a panic raised in, the dispatcher.
type Failure struct {
	Method string
	URI    string
	Err    error
	// Stack is set when the failure was a panic.
	Stack []byte
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %s", f.Method, f.URI, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// String is the report sent on the error channel: the request line, the
// error with any detail its formatter provides, and the panic stack.
func (f *Failure) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %+v", f.Method, f.URI, f.Err)
	if len(f.Stack) > 0 {
		b.WriteString("\n\n")
		b.Write(f.Stack)
	}
	return b.String()
}

// PanicError wraps a value recovered from a panicking dispatcher.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
