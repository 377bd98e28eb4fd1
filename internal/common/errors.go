// Package common defines shared constants and sentinel errors used across
// codetrail components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Sync-level errors and conditions.
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrVersionConflict  = errors.New("version conflict")
	ErrNotInConflict    = errors.New("commit is not in conflict state")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
)
