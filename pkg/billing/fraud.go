package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// defaultDisposableDomains is the built-in denylist. The plan catalog can
// extend it; it is never shortened at runtime.
var defaultDisposableDomains = []string{
	"mailinator.com",
	"tempmail.com",
	"10minutemail.com",
}

// FraudGuard evaluates a checkout against abuse signals before activation is
// applied. It is consulted only on the checkout-completion path, never on
// routine webhook traffic.
type FraudGuard struct {
	store    AccountStore
	denylist map[string]struct{}
	log      *slog.Logger
}

// NewFraudGuard creates a guard with the built-in denylist plus extraDomains.
func NewFraudGuard(store AccountStore, extraDomains []string, log *slog.Logger) *FraudGuard {
	deny := make(map[string]struct{}, len(defaultDisposableDomains)+len(extraDomains))
	for _, d := range defaultDisposableDomains {
		deny[strings.ToLower(d)] = struct{}{}
	}
	for _, d := range extraDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			deny[d] = struct{}{}
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &FraudGuard{store: store, denylist: deny, log: log}
}

// Evaluate runs the abuse checks in order, first match wins:
//
//  1. disposable email domain -> ErrDisposableEmailRejected
//  2. payment fingerprint already bound to a different, currently active
//     account -> ErrDuplicateInstrumentRejected
//
// A veto never mutates the account; the caller owns the compensating cancel
// of the provider-side subscription.
func (g *FraudGuard) Evaluate(ctx context.Context, acct *Account, fingerprint string) error {
	if g.DisposableEmail(acct.Email) {
		g.log.WarnContext(ctx, "checkout rejected: disposable email domain",
			"account_id", acct.ID, "email_domain", emailDomain(acct.Email))
		return ErrDisposableEmailRejected
	}

	if fingerprint != "" {
		other, err := g.store.ByFingerprintActive(ctx, fingerprint, acct.ID)
		switch {
		case err == nil:
			g.log.WarnContext(ctx, "checkout rejected: payment instrument already active",
				"account_id", acct.ID, "conflicting_account_id", other.ID)
			return ErrDuplicateInstrumentRejected
		case errors.Is(err, ErrAccountNotFound):
			// no conflict
		default:
			return err
		}
	}

	return nil
}

// DisposableEmail reports whether the email's domain is denylisted.
func (g *FraudGuard) DisposableEmail(email string) bool {
	_, bad := g.denylist[emailDomain(email)]
	return bad
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
