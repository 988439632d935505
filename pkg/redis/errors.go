package redis

import "errors"

var (
	ErrParseConnectionURL = errors.New("failed to parse redis connection url")
	ErrNotReady           = errors.New("redis is not ready")
	ErrHealthcheckFailed  = errors.New("redis healthcheck failed")
)
