package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/billingkit/billingkit/pkg/logger"
)

// Healthcheck returns a handler for liveness and readiness probes. With no
// checks it answers 200 ALIVE; with checks (database ping, cache ping) it
// answers 200 READY only when every check passes, 500 NOT_READY otherwise.
func Healthcheck(log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}

		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
