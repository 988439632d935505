package billingmod

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/billingkit/billingkit/pkg/billing"
)

type checkoutRequest struct {
	PlanID  string `json:"plan_id"`
	PriceID string `json:"price_id"`
}

// handleCheckout creates a provider checkout session for the signed-in
// account. The plan must come from the catalog; arbitrary price IDs are
// refused. The provider customer is created here on first checkout, not at
// sign-up.
func (s *Service) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CheckoutTimeout)
	defer cancel()

	claims, ok := s.claims(w, r)
	if !ok {
		return
	}
	accountID, err := claims.Account()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := s.resolvePlan(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown plan")
		return
	}

	acct, err := s.accounts.ByID(ctx, accountID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	// Cheap precheck before any provider call. The authoritative guard
	// still runs at checkout completion.
	if s.guard != nil && s.guard.DisposableEmail(acct.Email) {
		respondError(w, http.StatusForbidden, "checkout rejected")
		return
	}

	if acct.CustomerID == "" {
		customerID, err := s.provider.EnsureCustomer(ctx, acct.ID.String(), acct.Email, acct.Name)
		if err != nil {
			s.log.ErrorContext(ctx, "customer provisioning failed", "account_id", acct.ID, "error", err)
			respondError(w, http.StatusBadGateway, "billing provider unavailable")
			return
		}
		if err := s.accounts.BindCustomer(ctx, acct.ID, customerID); err != nil {
			if !errors.Is(err, billing.ErrCustomerBound) {
				respondError(w, http.StatusInternalServerError, "checkout failed")
				return
			}
			// A concurrent checkout won the bind; reuse its customer.
			if fresh, readErr := s.accounts.ByID(ctx, acct.ID); readErr == nil {
				customerID = fresh.CustomerID
			}
		}
		acct.CustomerID = customerID
	}

	trialDays := plan.TrialDays
	if acct.SubscriptionID != "" || acct.State == billing.StateCanceled || acct.State == billing.StateExpired {
		// Renewal: the account has already had a subscription, so no
		// second trial.
		trialDays = 0
	}

	link, err := s.provider.CreateCheckout(ctx, billing.CheckoutRequest{
		PriceID:    plan.PriceID,
		CustomerID: acct.CustomerID,
		AccountRef: acct.ID.String(),
		Email:      acct.Email,
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
		TrialDays:  trialDays,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "checkout creation failed",
			"account_id", acct.ID, "plan_id", plan.ID, "error", err)
		respondError(w, http.StatusBadGateway, "billing provider unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"url":         link.URL,
		"checkout_id": link.CheckoutID,
	})
}

func (s *Service) resolvePlan(req checkoutRequest) (billing.Plan, error) {
	if req.PlanID != "" {
		return s.catalog.Plan(req.PlanID)
	}
	if req.PriceID != "" {
		return s.catalog.PlanByPrice(req.PriceID)
	}
	return s.catalog.Default(), nil
}
