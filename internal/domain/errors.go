package domain

import "errors"

// Errors returned by core operations. Callers match them with errors.Is;
// the wrapped message carries the detail.
var (
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("case not found")
)
