package api

import (
	"github.com/google/uuid"

	"github.com/toolshare/toolshare/api/validator"
)

// Validator and ValidationError are re-exported so handlers and storage
// callers only ever deal with the api package.
type (
	Validator       = validator.Validator
	ValidationError = validator.ValidationError
)

// NewValidator returns the validator used by the API.
func NewValidator() *Validator {
	return validator.New()
}

// isUUID reports whether s is a well-formed UUID. Identifiers arrive in
// path segments and JSON bodies; malformed ones are rejected before any
// storage call.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
