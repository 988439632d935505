package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore is the keyed record store behind the reconciliation engine.
// Implementations must provide atomic single-row updates and enforce the
// customer-reference uniqueness constraint at the storage layer.
type AccountStore interface {
	// ByID retrieves an account by internal id.
	// Returns ErrAccountNotFound if no account exists.
	ByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// ByCustomerID retrieves an account by its provider customer reference.
	ByCustomerID(ctx context.Context, customerID string) (*Account, error)

	// ByEmail retrieves an account by email.
	ByEmail(ctx context.Context, email string) (*Account, error)

	// ByFingerprintActive returns some account, other than excludeID, whose
	// payment fingerprint matches and whose state is currently active.
	// Returns ErrAccountNotFound when no such account exists.
	ByFingerprintActive(ctx context.Context, fingerprint string, excludeID uuid.UUID) (*Account, error)

	// Create inserts a new account. Accounts are only ever created at
	// sign-in, never by the reconciliation engine.
	Create(ctx context.Context, acct *Account) error

	// BindCustomer assigns the provider customer reference to an account.
	// At most one bind per account: returns ErrCustomerBound when the
	// account already carries a different reference.
	BindCustomer(ctx context.Context, id uuid.UUID, customerID string) error

	// ApplyTransition performs the single atomic conditional update that is
	// the reconciliation commit point. The write succeeds only when the
	// stored provider timestamp is not newer than upd.OccurredAt; a stale
	// write returns Applied=false with the current row, not an error.
	// Returns ErrAccountNotFound when the keyed row does not exist.
	ApplyTransition(ctx context.Context, upd AccountUpdate) (*TransitionOutcome, error)
}

// AccountUpdate is the payload of the atomic conditional write. Pointer
// fields distinguish "leave unchanged" (nil) from "set to this value",
// including clearing with a pointer to the empty string.
type AccountUpdate struct {
	// Exactly one of AccountID or CustomerID keys the row.
	AccountID  uuid.UUID
	CustomerID string

	State              SubscriptionState
	SubscriptionID     *string
	PriceID            *string
	PaymentFingerprint *string

	// OccurredAt becomes the row's StatusChangedAt when the write applies.
	OccurredAt time.Time
}

// TransitionOutcome reports the atomic write's effect together with the
// pre-write snapshot needed for side-effect decisions.
type TransitionOutcome struct {
	// Account is the row after the write (or the untouched current row
	// when the write was skipped as stale).
	Account *Account

	// Previous values captured in the same statement as the update.
	Previous               SubscriptionState
	PreviousSubscriptionID string

	// Applied is false when the stored provider timestamp was newer.
	Applied bool
}

// EventLedger is the idempotency store keyed by provider event id. The
// HasProcessed check is an advisory fast path; the uniqueness violation on
// RecordProcessed is the authoritative dedupe mechanism.
type EventLedger interface {
	HasProcessed(ctx context.Context, externalEventID string) (bool, error)

	// RecordProcessed appends the ledger entry. Returns ErrDuplicateEvent
	// when the event id was already recorded; callers treat that as
	// "already handled" and skip side effects. Entries are append-only.
	RecordProcessed(ctx context.Context, entry LedgerEntry) error
}

// LedgerEntry is one externally-delivered event, recorded exactly once after
// successful processing so a crash mid-processing causes a safe re-delivery
// rather than a silently skipped event.
type LedgerEntry struct {
	ExternalEventID       string
	EventType             string
	RelatedSubscriptionID string
	Payload               []byte
	ProcessedAt           time.Time
}
