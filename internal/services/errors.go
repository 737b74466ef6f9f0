package services

import "errors"

// Sentinel errors returned by the services. Callers match them with errors.Is;
// the wrapped message carries the detail.
var (
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")

	// ErrOrgMetadataMissing is returned by Login when the admin's organization
	// record no longer exists.
	ErrOrgMetadataMissing = errors.New("org metadata missing")
)
