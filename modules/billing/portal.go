package billingmod

import "net/http"

// handlePortal redirects to the provider's customer portal, where payment
// method updates and cancellations happen. Cancellation lands back as a
// webhook; nothing mutates locally here.
func (s *Service) handlePortal(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.claims(w, r)
	if !ok {
		return
	}
	accountID, err := claims.Account()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acct, err := s.accounts.ByID(r.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if acct.CustomerID == "" {
		respondError(w, http.StatusConflict, "no billing profile yet")
		return
	}

	url, err := s.provider.PortalLink(r.Context(), acct.CustomerID)
	if err != nil {
		s.log.ErrorContext(r.Context(), "portal link failed", "account_id", acct.ID, "error", err)
		respondError(w, http.StatusBadGateway, "billing provider unavailable")
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// handleResume asks the provider to lift a pause on the account's
// subscription. The local state stays untouched: the provider confirms the
// resume through a webhook, which is what moves the account back to active.
func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.claims(w, r)
	if !ok {
		return
	}
	accountID, err := claims.Account()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acct, err := s.accounts.ByID(r.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if acct.SubscriptionID == "" {
		respondError(w, http.StatusConflict, "no subscription to resume")
		return
	}

	if err := s.provider.ResumeSubscription(r.Context(), acct.SubscriptionID); err != nil {
		s.log.ErrorContext(r.Context(), "resume failed",
			"account_id", acct.ID, "subscription_id", acct.SubscriptionID, "error", err)
		respondError(w, http.StatusBadGateway, "billing provider unavailable")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "resume_requested"})
}
