package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAccountStore implements AccountStore with in-process storage. It
// mirrors the Postgres store's conditional-update semantics and is intended
// for tests and local development.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
}

// NewMemoryAccountStore creates an empty in-memory account store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[uuid.UUID]*Account)}
}

func (m *MemoryAccountStore) ByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryAccountStore) ByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acct := range m.accounts {
		if acct.CustomerID != "" && acct.CustomerID == customerID {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryAccountStore) ByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acct := range m.accounts {
		if strings.EqualFold(acct.Email, email) {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryAccountStore) ByFingerprintActive(ctx context.Context, fingerprint string, excludeID uuid.UUID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acct := range m.accounts {
		if acct.ID != excludeID && acct.PaymentFingerprint == fingerprint && acct.State == StateActive {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryAccountStore) Create(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := *acct
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.accounts[cp.ID] = &cp
	return nil
}

func (m *MemoryAccountStore) BindCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.CustomerID != "" && acct.CustomerID != customerID {
		return ErrCustomerBound
	}
	acct.CustomerID = customerID
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyTransition applies the conditional update under the store lock,
// matching the single-statement atomicity of the SQL implementation.
func (m *MemoryAccountStore) ApplyTransition(ctx context.Context, upd AccountUpdate) (*TransitionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var acct *Account
	switch {
	case upd.AccountID != uuid.Nil:
		acct = m.accounts[upd.AccountID]
	case upd.CustomerID != "":
		for _, a := range m.accounts {
			if a.CustomerID == upd.CustomerID {
				acct = a
				break
			}
		}
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}

	out := &TransitionOutcome{
		Previous:               acct.State,
		PreviousSubscriptionID: acct.SubscriptionID,
	}

	if acct.StatusChangedAt.After(upd.OccurredAt) {
		cp := *acct
		out.Account = &cp
		return out, nil
	}

	acct.State = upd.State
	if upd.SubscriptionID != nil {
		acct.SubscriptionID = *upd.SubscriptionID
	}
	if upd.PriceID != nil {
		acct.PriceID = *upd.PriceID
	}
	if upd.PaymentFingerprint != nil {
		acct.PaymentFingerprint = *upd.PaymentFingerprint
	}
	acct.StatusChangedAt = upd.OccurredAt
	acct.UpdatedAt = time.Now().UTC()

	cp := *acct
	out.Account = &cp
	out.Applied = true
	return out, nil
}

// MemoryEventLedger implements EventLedger in process memory. Append-only,
// duplicate ids conflict exactly like the unique constraint in Postgres.
type MemoryEventLedger struct {
	mu      sync.Mutex
	entries map[string]LedgerEntry
}

// NewMemoryEventLedger creates an empty in-memory ledger.
func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{entries: make(map[string]LedgerEntry)}
}

func (m *MemoryEventLedger) HasProcessed(ctx context.Context, externalEventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[externalEventID]
	return ok, nil
}

func (m *MemoryEventLedger) RecordProcessed(ctx context.Context, entry LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.ExternalEventID]; ok {
		return ErrDuplicateEvent
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	m.entries[entry.ExternalEventID] = entry
	return nil
}

// Entries returns a snapshot copy of the ledger, for tests and audit reads.
func (m *MemoryEventLedger) Entries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}
