package domain

import "errors"

// Error kinds. Concrete errors wrap one of these so callers can classify them
// with errors.Is without knowing every specific error.
var (
	ErrValidation    = errors.New("validation failed")
	ErrStateConflict = errors.New("state conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
)
