package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billingkit/billingkit/pkg/pg"
)

// PostgresAccountStore implements AccountStore on a pgx pool. The accounts
// table carries a unique constraint on customer_id; ApplyTransition is a
// single conditional UPDATE so concurrent webhook and redirect writes can
// never interleave a read-modify-write.
type PostgresAccountStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountStore creates a Postgres-backed account store.
func NewPostgresAccountStore(pool *pgxpool.Pool) *PostgresAccountStore {
	return &PostgresAccountStore{pool: pool}
}

const accountColumns = `id, email, name, COALESCE(customer_id, ''), COALESCE(subscription_id, ''),
	COALESCE(price_id, ''), subscription_state, has_lifetime_access,
	COALESCE(payment_fingerprint, ''), onboarding_completed, status_changed_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var state string
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.CustomerID, &a.SubscriptionID,
		&a.PriceID, &state, &a.HasLifetimeAccess,
		&a.PaymentFingerprint, &a.OnboardingCompleted, &a.StatusChangedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.State = SubscriptionState(state)
	return &a, nil
}

func (s *PostgresAccountStore) ByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresAccountStore) ByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE customer_id = $1`, customerID)
	return scanAccount(row)
}

func (s *PostgresAccountStore) ByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row)
}

func (s *PostgresAccountStore) ByFingerprintActive(ctx context.Context, fingerprint string, excludeID uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE payment_fingerprint = $1 AND subscription_state = 'active' AND id <> $2
		LIMIT 1`, fingerprint, excludeID)
	return scanAccount(row)
}

func (s *PostgresAccountStore) Create(ctx context.Context, acct *Account) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO accounts
		(id, email, name, customer_id, subscription_state, has_lifetime_access, onboarding_completed, status_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, now(), now())`,
		acct.ID, acct.Email, acct.Name, acct.CustomerID, string(acct.State),
		acct.HasLifetimeAccess, acct.OnboardingCompleted, acct.StatusChangedAt)
	return err
}

// BindCustomer assigns the provider customer reference, relying on the
// column's unique index to close the race between two concurrent binds.
func (s *PostgresAccountStore) BindCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET customer_id = $2, updated_at = now()
		WHERE id = $1 AND (customer_id IS NULL OR customer_id = $2)`, id, customerID)
	if err != nil {
		if pg.IsUniqueViolation(err) {
			return ErrCustomerBound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		// Row exists with a different customer_id, or does not exist.
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return ErrCustomerBound
	}
	return nil
}

// ApplyTransition is the reconciliation commit point: one statement that
// captures the previous state, applies the new one, and refuses writes whose
// provider timestamp is older than what the row already holds.
func (s *PostgresAccountStore) ApplyTransition(ctx context.Context, upd AccountUpdate) (*TransitionOutcome, error) {
	var (
		keyClause string
		key       any
	)
	switch {
	case upd.AccountID != uuid.Nil:
		keyClause = "id = $1"
		key = upd.AccountID
	case upd.CustomerID != "":
		keyClause = "customer_id = $1"
		key = upd.CustomerID
	default:
		return nil, ErrMissingAccountRef
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE accounts a SET
			subscription_state  = $2,
			subscription_id     = CASE WHEN $3::bool THEN NULLIF($4, '') ELSE a.subscription_id END,
			price_id            = CASE WHEN $5::bool THEN NULLIF($6, '') ELSE a.price_id END,
			payment_fingerprint = CASE WHEN $7::bool THEN NULLIF($8, '') ELSE a.payment_fingerprint END,
			status_changed_at   = $9,
			updated_at          = now()
		FROM (SELECT id, subscription_state, subscription_id FROM accounts WHERE `+keyClause+` FOR UPDATE) prev
		WHERE a.id = prev.id AND a.status_changed_at <= $9
		RETURNING prev.subscription_state, COALESCE(prev.subscription_id, ''), `+prefixedAccountColumns("a"),
		key, string(upd.State),
		upd.SubscriptionID != nil, deref(upd.SubscriptionID),
		upd.PriceID != nil, deref(upd.PriceID),
		upd.PaymentFingerprint != nil, deref(upd.PaymentFingerprint),
		upd.OccurredAt)

	out := &TransitionOutcome{}
	acct, prev, prevSub, err := scanTransitionRow(row)
	if err == nil {
		out.Account = acct
		out.Previous = prev
		out.PreviousSubscriptionID = prevSub
		out.Applied = true
		return out, nil
	}
	if !pg.IsNotFound(err) {
		return nil, err
	}

	// No row matched: either the account does not exist or the held
	// provider timestamp is newer. A follow-up read classifies which; the
	// write itself stays a single statement either way.
	var current *Account
	if upd.AccountID != uuid.Nil {
		current, err = s.ByID(ctx, upd.AccountID)
	} else {
		current, err = s.ByCustomerID(ctx, upd.CustomerID)
	}
	if err != nil {
		return nil, err
	}
	out.Account = current
	out.Previous = current.State
	out.PreviousSubscriptionID = current.SubscriptionID
	return out, nil
}

func scanTransitionRow(row pgx.Row) (*Account, SubscriptionState, string, error) {
	var (
		a         Account
		state     string
		prevState string
		prevSub   string
	)
	err := row.Scan(&prevState, &prevSub,
		&a.ID, &a.Email, &a.Name, &a.CustomerID, &a.SubscriptionID,
		&a.PriceID, &state, &a.HasLifetimeAccess,
		&a.PaymentFingerprint, &a.OnboardingCompleted, &a.StatusChangedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, "", "", err
	}
	a.State = SubscriptionState(state)
	return &a, SubscriptionState(prevState), prevSub, nil
}

func prefixedAccountColumns(alias string) string {
	return alias + `.id, ` + alias + `.email, ` + alias + `.name, COALESCE(` + alias + `.customer_id, ''), COALESCE(` + alias + `.subscription_id, ''),
	COALESCE(` + alias + `.price_id, ''), ` + alias + `.subscription_state, ` + alias + `.has_lifetime_access,
	COALESCE(` + alias + `.payment_fingerprint, ''), ` + alias + `.onboarding_completed, ` + alias + `.status_changed_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PostgresEventLedger implements EventLedger on the subscription_events
// table. The unique constraint on external_event_id is the sole concurrency
// primitive: a losing insert surfaces as ErrDuplicateEvent.
type PostgresEventLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLedger creates a Postgres-backed event ledger.
func NewPostgresEventLedger(pool *pgxpool.Pool) *PostgresEventLedger {
	return &PostgresEventLedger{pool: pool}
}

func (l *PostgresEventLedger) HasProcessed(ctx context.Context, externalEventID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscription_events WHERE external_event_id = $1)`,
		externalEventID).Scan(&exists)
	return exists, err
}

func (l *PostgresEventLedger) RecordProcessed(ctx context.Context, entry LedgerEntry) error {
	processedAt := entry.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := l.pool.Exec(ctx, `INSERT INTO subscription_events
		(external_event_id, event_type, related_subscription_id, payload, processed_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		entry.ExternalEventID, entry.EventType, entry.RelatedSubscriptionID, payload, processedAt)
	if err != nil {
		if pg.IsUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}
