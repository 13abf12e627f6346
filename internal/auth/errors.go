package auth

import "errors"

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrAlreadyExists   = errors.New("auth: already exists")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrSessionExpired  = errors.New("auth: session expired")
	ErrSessionRevoked  = errors.New("auth: session revoked")
	ErrMFANotEnabled   = errors.New("auth: mfa not enabled")
	ErrMFACodeInvalid  = errors.New("auth: mfa code invalid")
	ErrEnrollmentState = errors.New("auth: no pending mfa enrollment")
)
