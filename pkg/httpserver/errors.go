package httpserver

import "errors"

var (
	ErrServerStart    = errors.New("failed to start http server")
	ErrServerShutdown = errors.New("failed to shut down http server gracefully")
)
