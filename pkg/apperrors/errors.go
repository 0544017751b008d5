package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrInvalidPlan      = errors.New("invalid plan")
	ErrInvalidRole      = errors.New("invalid role")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSchemaFailure    = errors.New("llm output failed schema validation")
	ErrLockConflict     = errors.New("file lock conflict")
	ErrStaleClaim       = errors.New("stale claim")
)
