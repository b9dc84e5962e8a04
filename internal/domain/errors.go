package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMissingArtifact  = errors.New("artifact missing")
	ErrMissingSignature = errors.New("signature missing")
	ErrInvalidEntry     = errors.New("invalid log entry")
	ErrInvalidPolicy    = errors.New("invalid policy")
	ErrStoreUnavailable = errors.New("store unavailable")
)
