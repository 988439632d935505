package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine applies externally-reported subscription transitions to the local
// account record atomically and idempotently. It is the only writer of the
// canonical subscription state; both the webhook path and the
// checkout-redirect path funnel through Reconcile.
//
// No mutual exclusion exists between the two paths. Safety comes from the
// store's atomic conditional single-row update and the ledger's uniqueness
// constraint, not from locking; serializing the paths would add latency to
// the user-facing redirect while waiting on webhook delivery.
type Engine struct {
	store    AccountStore
	ledger   EventLedger
	guard    *FraudGuard
	provider Provider
	tracker  Tracker
	log      *slog.Logger
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithFraudGuard enables checkout-completion abuse checks.
func WithFraudGuard(g *FraudGuard) EngineOption {
	return func(e *Engine) { e.guard = g }
}

// WithTracker sets the lifecycle signal sink.
func WithTracker(t Tracker) EngineOption {
	return func(e *Engine) { e.tracker = t }
}

// WithProvider sets the provider used for compensating cancellations.
func WithProvider(p Provider) EngineOption {
	return func(e *Engine) { e.provider = p }
}

// NewEngine creates the reconciliation engine.
// Panics if store or ledger is nil to fail fast during initialization.
func NewEngine(store AccountStore, ledger EventLedger, log *slog.Logger, opts ...EngineOption) *Engine {
	if store == nil {
		panic("billing: AccountStore is required")
	}
	if ledger == nil {
		panic("billing: EventLedger is required")
	}
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{store: store, ledger: ledger, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile computes the canonical state transition for t, applies it
// atomically and decides which side effects to fire. It is safe under
// at-least-once, unordered delivery: duplicates collapse on the ledger,
// stale provider timestamps lose the conditional write, and re-applying the
// held state succeeds without re-firing side effects.
//
// ErrAccountNotFound is returned when the keyed account does not exist;
// accounts are never created from a webhook. Callers should still record the
// event as processed to avoid infinite redelivery of an event that can never
// succeed.
func (e *Engine) Reconcile(ctx context.Context, t Transition) (*ReconcileResult, error) {
	if t.RawStatus == "" {
		return nil, ErrMissingStatus
	}
	if t.AccountID == uuid.Nil && t.CustomerID == "" {
		return nil, ErrMissingAccountRef
	}

	// Advisory fast path. The authoritative dedupe is the ledger write
	// after the update; this only short-circuits obvious redeliveries.
	if t.EventID != "" {
		if seen, err := e.ledger.HasProcessed(ctx, t.EventID); err == nil && seen {
			e.log.InfoContext(ctx, "duplicate event skipped", "event_id", t.EventID, "event_type", t.EventType)
			return &ReconcileResult{Applied: false}, nil
		}
	}

	state := MapProviderStatus(t.RawStatus)

	if t.CheckoutCompletion && e.guard != nil {
		if err := e.vetCheckout(ctx, t); err != nil {
			return nil, err
		}
	}

	upd := AccountUpdate{
		AccountID:  t.AccountID,
		CustomerID: t.CustomerID,
		State:      state,
		OccurredAt: t.OccurredAt,
	}
	if upd.OccurredAt.IsZero() {
		upd.OccurredAt = time.Now().UTC()
	}

	// Unset subscription and price references only on cancellation; every
	// other transition leaves unset fields untouched.
	if state == StateCanceled {
		upd.SubscriptionID = ptr("")
		upd.PriceID = ptr("")
	} else {
		if t.SubscriptionID != "" {
			upd.SubscriptionID = ptr(t.SubscriptionID)
		}
		if t.PriceID != "" {
			upd.PriceID = ptr(t.PriceID)
		}
		if t.PaymentFingerprint != "" {
			upd.PaymentFingerprint = ptr(t.PaymentFingerprint)
		}
	}

	out, err := e.store.ApplyTransition(ctx, upd)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.log.ErrorContext(ctx, "reconcile target not found",
				"event_id", t.EventID, "customer_id", t.CustomerID, "account_id", t.AccountID,
				"provider_status", t.RawStatus)
			// Record the event anyway: an event keyed to a customer we will
			// never know about cannot succeed on redelivery either.
			e.record(ctx, t)
		}
		return nil, err
	}

	res := &ReconcileResult{
		Account:  out.Account,
		Previous: out.Previous,
		Applied:  out.Applied && out.Previous != state,
	}

	if !out.Applied {
		e.log.InfoContext(ctx, "stale transition ignored",
			"event_id", t.EventID, "account_id", out.Account.ID,
			"held_state", out.Account.State, "incoming_state", state)
	}

	// The ledger write gates side effects: when a concurrent delivery of
	// the same event already recorded it, this delivery lost the race and
	// must not re-fire signals. A failed ledger write only means the event
	// may be redelivered, which the conditional update absorbs.
	if t.EventID != "" && !e.record(ctx, t) {
		return res, nil
	}

	if res.Applied {
		e.emitLifecycle(ctx, t, out, state, res)
	}
	return res, nil
}

// record appends the ledger entry and reports whether this call won the
// write (and therefore owns the side effects).
func (e *Engine) record(ctx context.Context, t Transition) bool {
	if t.EventID == "" {
		return true
	}
	err := e.ledger.RecordProcessed(ctx, LedgerEntry{
		ExternalEventID:       t.EventID,
		EventType:             t.EventType,
		RelatedSubscriptionID: t.SubscriptionID,
		Payload:               t.Payload,
		ProcessedAt:           time.Now().UTC(),
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrDuplicateEvent):
		return false
	default:
		e.log.ErrorContext(ctx, "ledger write failed", "event_id", t.EventID, "error", err)
		return false
	}
}

// vetCheckout runs the fraud guard on first activation only: re-deliveries of
// a subscription the account already holds skip the checks.
func (e *Engine) vetCheckout(ctx context.Context, t Transition) error {
	acct, err := e.lookup(ctx, t)
	if err != nil {
		return err
	}
	if t.SubscriptionID != "" && acct.SubscriptionID == t.SubscriptionID {
		return nil
	}

	if err := e.guard.Evaluate(ctx, acct, t.PaymentFingerprint); err != nil {
		e.compensate(ctx, t.SubscriptionID)
		return err
	}
	return nil
}

// compensate cancels the provider-side subscription created by a vetoed
// checkout so the rejection never leaves an orphaned paid subscription.
func (e *Engine) compensate(ctx context.Context, subscriptionID string) {
	if subscriptionID == "" || e.provider == nil {
		return
	}
	if err := e.provider.CancelSubscription(ctx, subscriptionID); err != nil {
		e.log.ErrorContext(ctx, "compensating cancellation failed",
			"subscription_id", subscriptionID, "error", err)
	}
}

// emitLifecycle fires lifecycle signals exactly once per meaningful
// transition: entering active emits subscribe, entering canceled (or leaving
// active into a gated state via cancellation) emits cancel.
func (e *Engine) emitLifecycle(ctx context.Context, t Transition, out *TransitionOutcome, state SubscriptionState, res *ReconcileResult) {
	if e.tracker == nil || out.Previous == state {
		return
	}

	switch {
	case state == StateActive:
		e.tracker.Track(ctx, out.Account.ID, SignalSubscribe, map[string]any{
			"price_id": out.Account.PriceID,
			"source":   string(t.Source),
		})
		res.SubscribedEmitted = true
	case state == StateCanceled:
		props := map[string]any{"source": string(t.Source)}
		if t.CancelReason != "" {
			props["reason"] = t.CancelReason
		}
		e.tracker.Track(ctx, out.Account.ID, SignalCancel, props)
		res.CanceledEmitted = true
	}
}

func (e *Engine) lookup(ctx context.Context, t Transition) (*Account, error) {
	if t.AccountID != uuid.Nil {
		return e.store.ByID(ctx, t.AccountID)
	}
	return e.store.ByCustomerID(ctx, t.CustomerID)
}

func ptr(s string) *string { return &s }
