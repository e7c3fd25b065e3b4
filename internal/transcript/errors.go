package transcript

import "errors"

// Error kinds surfaced by the assembler. Callers match them with errors.Is;
// the underlying cause stays wrapped alongside the kind.
var (
	ErrValidation  = errors.New("validation failed")
	ErrModel       = errors.New("model inference failed")
	ErrPersistence = errors.New("persistence failed")
	ErrNotFound    = errors.New("session not found")
	ErrConflict    = errors.New("concurrent session update")
)
