package billingmod

import (
	"errors"
	"net/http"

	"github.com/billingkit/billingkit/pkg/billing"
	"github.com/billingkit/billingkit/pkg/sessiontoken"
)

// redirectEventPrefix namespaces ledger entries written by the redirect
// path, keyed by checkout reference. A page reload after success dedupes
// against the first pass instead of re-firing side effects.
const redirectEventPrefix = "checkout:"

// handlePostCheckout is the synchronous half of the dual write path: the
// user lands here straight from the provider's checkout page, usually
// before the corresponding webhook arrives. It verifies the checkout
// belongs to the signed-in principal, applies the transition, and rotates
// the session cookie so the app opens already entitled.
//
// A user on this path has just paid. Every failure short of a fraud veto
// redirects to the processing page, which polls the status endpoint until
// webhook delivery converges the account; never to an error dead-end.
func (s *Service) handlePostCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := s.claims(w, r)
	if !ok {
		return
	}
	accountID, err := claims.Account()
	if err != nil {
		http.Redirect(w, r, s.cfg.SignInURL, http.StatusSeeOther)
		return
	}

	checkoutRef := r.URL.Query().Get("session_id")
	if checkoutRef == "" {
		http.Redirect(w, r, s.cfg.BillingURL, http.StatusSeeOther)
		return
	}

	acct, err := s.accounts.ByID(ctx, accountID)
	if err != nil {
		http.Redirect(w, r, s.cfg.SignInURL, http.StatusSeeOther)
		return
	}

	res, err := s.lookupCheckout(r, acct, checkoutRef)
	if err != nil {
		s.log.WarnContext(ctx, "checkout lookup unavailable, deferring to webhook",
			"checkout_ref", checkoutRef, "account_id", acct.ID, "error", err)
		http.Redirect(w, r, s.cfg.ProcessingURL, http.StatusSeeOther)
		return
	}

	// The checkout was created with this account's reference bound to it; a
	// mismatch means the reference belongs to someone else's session.
	if res.AccountRef != "" && res.AccountRef != acct.ID.String() {
		s.log.WarnContext(ctx, "checkout principal mismatch",
			"checkout_ref", checkoutRef, "account_id", acct.ID, "checkout_account_ref", res.AccountRef)
		http.Redirect(w, r, s.cfg.BillingURL+"?error=checkout_mismatch", http.StatusSeeOther)
		return
	}
	if !res.Completed {
		http.Redirect(w, r, s.cfg.ProcessingURL, http.StatusSeeOther)
		return
	}

	if err := s.bindCustomer(r, acct, res.CustomerID); err != nil {
		http.Redirect(w, r, s.cfg.BillingURL+"?error=checkout_mismatch", http.StatusSeeOther)
		return
	}

	t := billing.Transition{
		AccountID:          acct.ID,
		CustomerID:         res.CustomerID,
		RawStatus:          res.RawStatus,
		SubscriptionID:     res.SubscriptionID,
		PriceID:            res.PriceID,
		PaymentFingerprint: res.PaymentFingerprint,
		Source:             billing.SourceCheckoutRedirect,
		CheckoutCompletion: true,
		OccurredAt:         res.OccurredAt,
		EventID:            redirectEventPrefix + res.CheckoutID,
		EventType:          "checkout.redirect",
	}

	if _, err := s.engine.Reconcile(ctx, t); err != nil {
		switch {
		case errors.Is(err, billing.ErrDuplicateEvent):
			// Reload of the success page; the first pass already applied.
		case errors.Is(err, billing.ErrDisposableEmailRejected),
			errors.Is(err, billing.ErrDuplicateInstrumentRejected):
			// Compensating cancellation already issued. The user sees a
			// generic rejection, never the fraud heuristics.
			http.Redirect(w, r, s.cfg.BillingURL+"?error=rejected", http.StatusSeeOther)
			return
		default:
			s.log.ErrorContext(ctx, "redirect reconciliation failed",
				"checkout_ref", checkoutRef, "account_id", acct.ID, "error", err)
			http.Redirect(w, r, s.cfg.ProcessingURL, http.StatusSeeOther)
			return
		}
	}

	s.rotateSession(w, r, claims)
	http.Redirect(w, r, s.cfg.AppURL, http.StatusSeeOther)
}

// lookupCheckout resolves the checkout with the provider, falling back to
// the customer's active subscription list when the checkout record itself
// is still settling provider-side.
func (s *Service) lookupCheckout(r *http.Request, acct *billing.Account, checkoutRef string) (*billing.CheckoutResult, error) {
	res, err := s.provider.RetrieveCheckout(r.Context(), checkoutRef)
	if err == nil {
		return res, nil
	}
	if acct.CustomerID == "" {
		return nil, err
	}

	fallback, fbErr := s.provider.ActiveSubscription(r.Context(), acct.CustomerID)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	fallback.CheckoutID = checkoutRef
	fallback.AccountRef = acct.ID.String()
	return fallback, nil
}

func (s *Service) bindCustomer(r *http.Request, acct *billing.Account, customerID string) error {
	if customerID == "" || acct.CustomerID == customerID {
		return nil
	}
	if acct.CustomerID != "" {
		s.log.WarnContext(r.Context(), "checkout customer differs from bound customer",
			"account_id", acct.ID, "bound", acct.CustomerID, "checkout", customerID)
		return billing.ErrCheckoutMismatch
	}
	if err := s.accounts.BindCustomer(r.Context(), acct.ID, customerID); err != nil {
		if errors.Is(err, billing.ErrCustomerBound) {
			return billing.ErrCheckoutMismatch
		}
		return err
	}
	acct.CustomerID = customerID
	return nil
}

// rotateSession re-mints the session cookie after a state change caused by
// this request. Failure is non-fatal: the account update is already
// committed and the bounded refresh interval picks up the new snapshot.
func (s *Service) rotateSession(w http.ResponseWriter, r *http.Request, claims sessiontoken.Claims) {
	if s.broker == nil {
		return
	}
	if _, err := s.broker.Rotate(r.Context(), w, claims); err != nil {
		s.log.WarnContext(r.Context(), "session rotation failed", "account_id", claims.AccountID, "error", err)
	}
}
