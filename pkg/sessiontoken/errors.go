package sessiontoken

import "errors"

var (
	ErrMissingSigningKey = errors.New("signing key is required")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrExpiredToken      = errors.New("session token expired")
	ErrNoSession         = errors.New("no session token present")
)
