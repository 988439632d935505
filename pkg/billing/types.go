package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionState is the canonical, internally defined subscription state.
// It is derived from, but distinct from, the payment provider's raw status
// vocabulary; a raw provider string never reaches storage or tokens unmapped.
type SubscriptionState string

const (
	StateNew               SubscriptionState = "new"
	StateTrialing          SubscriptionState = "trialing"
	StateActive            SubscriptionState = "active"
	StatePastDue           SubscriptionState = "past_due"
	StateCanceled          SubscriptionState = "canceled"
	StateIncomplete        SubscriptionState = "incomplete"
	StateIncompleteExpired SubscriptionState = "incomplete_expired"
	StatePaused            SubscriptionState = "paused"
	StateUnpaid            SubscriptionState = "unpaid"
	StateExpired           SubscriptionState = "expired"
)

// Entitled reports whether the state grants access on its own, without the
// lifetime override. New accounts are entitled so that a fresh sign-up can
// reach the app before checking out.
func (s SubscriptionState) Entitled() bool {
	switch s {
	case StateNew, StateTrialing, StateActive:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the canonical enum values.
func (s SubscriptionState) Valid() bool {
	switch s {
	case StateNew, StateTrialing, StateActive, StatePastDue, StateCanceled,
		StateIncomplete, StateIncompleteExpired, StatePaused, StateUnpaid, StateExpired:
		return true
	default:
		return false
	}
}

// Account is the single authoritative record of a user's subscription.
// Exactly one Account exists per provider customer reference once assigned.
type Account struct {
	ID    uuid.UUID
	Email string
	Name  string

	// CustomerID is the external payment-provider customer reference,
	// created lazily and bound at most once per account.
	CustomerID string

	SubscriptionID string
	PriceID        string
	State          SubscriptionState

	// HasLifetimeAccess overrides State for access decisions when true.
	HasLifetimeAccess bool

	// PaymentFingerprint is an opaque hash of the bound payment instrument,
	// used only for duplicate-instrument correlation.
	PaymentFingerprint string

	OnboardingCompleted bool

	// StatusChangedAt is the provider-reported timestamp of the last applied
	// transition. Conditional writes compare against it so that the
	// transition with the latest provider timestamp wins regardless of
	// local arrival order.
	StatusChangedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entitled reports whether the account may access gated surfaces.
func (a *Account) Entitled() bool {
	return a.HasLifetimeAccess || a.State.Entitled()
}

// TransitionSource tags which write path produced a transition.
type TransitionSource string

const (
	SourceWebhook          TransitionSource = "webhook"
	SourceCheckoutRedirect TransitionSource = "checkout_redirect"
)

// Transition describes an externally-reported change to a subscription's
// condition. It always carries the provider's latest-known status, never a
// delta against previous local state, so it can be applied under arbitrary
// delivery interleaving.
type Transition struct {
	// Exactly one of AccountID or CustomerID keys the write.
	AccountID  uuid.UUID
	CustomerID string

	// RawStatus is the provider-native status string; it is normalized via
	// MapProviderStatus before being applied.
	RawStatus string

	SubscriptionID     string
	PriceID            string
	PaymentFingerprint string
	CancelReason       string

	Source TransitionSource

	// CheckoutCompletion marks a transition produced by a completed
	// checkout, whichever path delivered it. These are the only
	// transitions subject to the fraud guard: whichever of the webhook or
	// the redirect lands first must run the same first-activation checks.
	CheckoutCompletion bool

	// OccurredAt is the provider-reported event time used for
	// last-write-wins ordering.
	OccurredAt time.Time

	// EventID is the provider's natural event key. Empty for the
	// redirect-derived path, which has no delivered event to dedupe.
	EventID   string
	EventType string

	// Payload is the raw event snapshot recorded in the ledger for audit.
	Payload []byte
}

// ReconcileResult reports what a reconcile call did.
type ReconcileResult struct {
	Account *Account

	// Previous is the canonical state before the write.
	Previous SubscriptionState

	// Applied is false when the write was skipped: duplicate event, stale
	// provider timestamp, or idempotent re-application of the held state.
	Applied bool

	// SubscribedEmitted / CanceledEmitted report which lifecycle signals
	// were fired for this call. At most one of each per meaningful
	// transition, never per delivery.
	SubscribedEmitted bool
	CanceledEmitted   bool
}

// Lifecycle signal names emitted to the analytics sink.
const (
	SignalSubscribe = "subscribe"
	SignalCancel    = "cancel"
	SignalSignUp    = "sign_up"
)

// Tracker receives lifecycle signals. Implementations must never block the
// reconciliation write path; a failing sink is dropped, not retried inline.
type Tracker interface {
	Track(ctx context.Context, accountID uuid.UUID, signal string, props map[string]any)
}
