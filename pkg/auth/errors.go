package auth

import "errors"

var (
	ErrInvalidCode     = errors.New("invalid authorization code")
	ErrInvalidState    = errors.New("invalid oauth state")
	ErrNoPrimaryEmail  = errors.New("provider returned no email")
	ErrUnverifiedEmail = errors.New("provider email is not verified")
)
