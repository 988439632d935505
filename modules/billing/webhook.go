package billingmod

import (
	"errors"
	"io"
	"net/http"

	"github.com/billingkit/billingkit/pkg/billing"
)

// handleWebhook receives provider events. Responses steer the provider's
// redelivery: 2xx stops it, 4xx marks a permanently bad request, 5xx asks
// for another attempt. Anything terminal for the event (duplicates, unknown
// accounts, fraud vetoes) therefore answers 200 even though no state moved.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	event, err := s.provider.ParseWebhook(r.Context(), payload, r.Header.Get(s.cfg.SignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrSignatureVerificationFailed) {
			s.log.WarnContext(r.Context(), "webhook signature rejected", "error", err)
			respondError(w, http.StatusBadRequest, "signature verification failed")
			return
		}
		s.log.ErrorContext(r.Context(), "webhook payload rejected", "error", err)
		respondError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	// Informational events carry no transition but are still recorded so a
	// redelivery can be recognized.
	if event.Transition == nil {
		err := s.ledger.RecordProcessed(r.Context(), billing.LedgerEntry{
			ExternalEventID:       event.ID,
			EventType:             event.Type,
			RelatedSubscriptionID: event.RelatedSubscriptionID,
			Payload:               event.Payload,
		})
		if err != nil && !errors.Is(err, billing.ErrDuplicateEvent) {
			s.log.ErrorContext(r.Context(), "ledger write failed", "event_id", event.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "ledger write failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
		return
	}

	res, err := s.engine.Reconcile(r.Context(), *event.Transition)
	switch {
	case err == nil:
		status := "applied"
		if !res.Applied {
			status = "no_change"
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": status})
	case errors.Is(err, billing.ErrDuplicateEvent):
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	case errors.Is(err, billing.ErrAccountNotFound):
		// Recorded by the engine; redelivery could never succeed.
		respondJSON(w, http.StatusOK, map[string]string{"status": "no_account"})
	case errors.Is(err, billing.ErrDisposableEmailRejected),
		errors.Is(err, billing.ErrDuplicateInstrumentRejected):
		// Terminal veto, compensation already issued provider-side.
		respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	default:
		s.log.ErrorContext(r.Context(), "webhook reconciliation failed",
			"event_id", event.ID, "event_type", event.Type, "error", err)
		respondError(w, http.StatusInternalServerError, "reconciliation failed")
	}
}
