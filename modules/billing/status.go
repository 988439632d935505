package billingmod

import "net/http"

// handleStatus returns the account's authoritative billing standing from
// the store, bypassing the session snapshot. The processing page polls this
// after checkout, and clients use it whenever the snapshot might lag.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
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

	respondJSON(w, http.StatusOK, map[string]any{
		"subscription_state":   string(acct.State),
		"price_id":             acct.PriceID,
		"has_lifetime_access":  acct.HasLifetimeAccess,
		"onboarding_completed": acct.OnboardingCompleted,
		"entitled":             acct.HasLifetimeAccess || acct.State.Entitled(),
	})
}
