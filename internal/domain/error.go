package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("operation failed")

	// Ingestion errors
	ErrUnauthorized   = errors.New("signature verification failed")
	ErrInvalidPayload = errors.New("invalid trigger payload")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrQueueAppend    = errors.New("queue append failed")

	// Job lifecycle errors
	ErrClaimConflict     = errors.New("job is claimed by another worker")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("job already reached a terminal status")
)
