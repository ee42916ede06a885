package remote

import "fmt"

// PreconditionError reports a call that was rejected locally, before any
// network traffic. Always surfaced to the caller.
type PreconditionError string

func (e PreconditionError) Error() string { return string(e) }

var (
	// ErrMissingIdentity is returned when a participant id is empty.
	ErrMissingIdentity = PreconditionError("missing participant identity")
	// ErrEmptyMessage is returned when a send carries an empty body. The body
	// doubles as the file reference for file sends, so it is required either way.
	ErrEmptyMessage = PreconditionError("empty message body")
)

// TransportError wraps a network or server failure on a store call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("conversation store: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataShapeError reports a response missing expected fields or otherwise
// structurally invalid. The engine degrades to an unchanged state for the
// affected conversation instead of propagating a crash.
type DataShapeError struct {
	Op     string
	Detail string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("conversation store: %s: malformed response: %s", e.Op, e.Detail)
}
