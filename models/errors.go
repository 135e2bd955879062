package models

import "errors"

// Error kinds surfaced to callers. Wrap them with fmt.Errorf("%w: ...") to add detail;
// anything that does not match one of these is an internal failure.
var (
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)
