package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Job store
	ErrLeaseLost = errors.New("job lease lost to another worker")
	ErrLockHeld  = errors.New("lock is held by another owner")

	// Analysis pipeline
	ErrEmptySegment     = errors.New("segment is empty")
	ErrSchemaValidation = errors.New("analysis response failed schema validation")
	ErrNoFrames         = errors.New("no frames extracted from segment")
	ErrPermanent        = errors.New("permanent provider error")

	// Webhooks
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownEvent     = errors.New("unknown lifecycle event")
)
