// Package common holds the error taxonomy shared by the ledger, the resolution
// engine, the ingestion pipeline and the HTTP layer. Callers match with errors.Is.
package common

import "errors"

var (
	// ErrInvalidInput marks unsupported uploads and records missing required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOracleUnavailable marks a failed detection or verification call.
	ErrOracleUnavailable = errors.New("vision oracle unavailable")

	// ErrNotFound marks references to an unknown user, event, identity or image.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure marks a failed blob or metadata write.
	ErrStorageFailure = errors.New("storage failure")
)
