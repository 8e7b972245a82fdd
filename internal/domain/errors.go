package domain

import "errors"

// Error taxonomy shared by every layer. Callers wrap these with context and
// match them with errors.Is.
var (
	// ErrData reports a missing or malformed question source.
	ErrData = errors.New("data error")
	// ErrValidation reports invalid user input to an engine operation.
	ErrValidation = errors.New("validation error")
	// ErrState reports an operation invoked in the wrong session state.
	ErrState = errors.New("state error")
	// ErrNotFound reports an unknown resume code or subject.
	ErrNotFound = errors.New("not found")
)
