package service

import "errors"

// Error kinds returned by the reconciliation and GL services. Callers test
// them with errors.Is; batch operations convert StateConflict into a skipped
// item and Persistence/NotFound into a failed item.
var (
	ErrValidation    = errors.New("validation failed")
	ErrStateConflict = errors.New("state conflict")
	ErrPersistence   = errors.New("persistence failure")
	ErrNotFound      = errors.New("not found")
)
