package billing

import (
	"context"
	"time"
)

// Provider is the payment provider boundary. The provider is treated as a
// black box that emits a well-defined event and status vocabulary, possibly
// out of order and with duplicates; implementations verify authenticity and
// normalize, nothing more.
//
// Implementations should use the official provider SDK and keep
// provider-specific quirks internal (customer metadata back-references,
// payload layouts, signature schemes).
type Provider interface {
	// ParseWebhook verifies the payload signature against the shared secret
	// and normalizes the event. Returns ErrSignatureVerificationFailed
	// before trusting any field. Events that carry no account-state change
	// come back with a nil Transition.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)

	// CreateCheckout creates a hosted checkout session for a plan.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// RetrieveCheckout looks up a completed checkout attempt by the
	// reference handed back on the redirect. Transient failures wrap
	// ErrProviderLookupFailed so callers can fall back to polling.
	RetrieveCheckout(ctx context.Context, checkoutRef string) (*CheckoutResult, error)

	// ActiveSubscription returns the customer's current active
	// subscription, used as a fallback when the checkout lookup races the
	// provider's own async processing. Returns ErrCheckoutIncomplete when
	// none exists yet.
	ActiveSubscription(ctx context.Context, customerID string) (*CheckoutResult, error)

	// CancelSubscription cancels a provider-side subscription immediately.
	// Used as the compensating action after a fraud veto.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// ResumeSubscription lifts a provider-side pause.
	ResumeSubscription(ctx context.Context, subscriptionID string) error

	// EnsureCustomer returns the provider customer reference for the given
	// account, reusing an existing customer with the same email or creating
	// one with an internal back-reference in its metadata.
	EnsureCustomer(ctx context.Context, accountRef, email, name string) (string, error)

	// PortalLink returns a pre-authenticated customer portal URL.
	PortalLink(ctx context.Context, customerID string) (string, error)
}

// Event is a verified, normalized provider event.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time

	// Transition is nil for event types that do not change account state
	// (informational events are still recorded in the ledger).
	Transition *Transition

	// RelatedSubscriptionID and Payload feed the ledger entry.
	RelatedSubscriptionID string
	Payload               []byte
}

// CheckoutRequest contains what the provider needs to open a checkout.
type CheckoutRequest struct {
	PriceID    string
	CustomerID string
	// AccountRef is bound as the checkout's client reference so the
	// redirect handler can verify the originating principal.
	AccountRef string
	Email      string
	SuccessURL string
	CancelURL  string
	TrialDays  int
}

// CheckoutLink is a hosted checkout session.
type CheckoutLink struct {
	URL        string
	CheckoutID string
	ExpiresAt  time.Time
}

// CheckoutResult is the provider's view of a completed (or in-flight)
// checkout attempt, resolved from the redirect reference.
type CheckoutResult struct {
	CheckoutID string

	// AccountRef is the client reference bound at checkout creation; the
	// redirect handler rejects the callback when it does not match the
	// authenticated principal.
	AccountRef string

	CustomerID     string
	SubscriptionID string
	PriceID        string

	// RawStatus is the provider-native subscription status.
	RawStatus string

	PaymentFingerprint string
	Completed          bool
	OccurredAt         time.Time
}
