package billing_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billingkit/billingkit/pkg/billing"
)

func TestFraudGuardEvaluate(t *testing.T) {
	t.Parallel()

	newGuard := func(t *testing.T, extra ...string) (*billing.FraudGuard, *billing.MemoryAccountStore) {
		t.Helper()
		store := billing.NewMemoryAccountStore()
		return billing.NewFraudGuard(store, extra, slog.New(slog.DiscardHandler)), store
	}

	t.Run("rejects disposable email domains", func(t *testing.T) {
		t.Parallel()
		guard, _ := newGuard(t)

		err := guard.Evaluate(context.Background(), &billing.Account{
			ID:    uuid.New(),
			Email: "user@mailinator.com",
		}, "")
		require.ErrorIs(t, err, billing.ErrDisposableEmailRejected)
	})

	t.Run("extends denylist with catalog domains", func(t *testing.T) {
		t.Parallel()
		guard, _ := newGuard(t, "Throwaway.Example ")

		err := guard.Evaluate(context.Background(), &billing.Account{
			ID:    uuid.New(),
			Email: "user@throwaway.example",
		}, "")
		require.ErrorIs(t, err, billing.ErrDisposableEmailRejected)
	})

	t.Run("rejects payment instrument bound to another active account", func(t *testing.T) {
		t.Parallel()
		guard, store := newGuard(t)

		existing := &billing.Account{
			ID:                 uuid.New(),
			Email:              "first@example.com",
			State:              billing.StateActive,
			PaymentFingerprint: "fp_1",
		}
		require.NoError(t, store.Create(context.Background(), existing))

		err := guard.Evaluate(context.Background(), &billing.Account{
			ID:    uuid.New(),
			Email: "second@example.com",
		}, "fp_1")
		require.ErrorIs(t, err, billing.ErrDuplicateInstrumentRejected)
	})

	t.Run("same account re-checking its own instrument passes", func(t *testing.T) {
		t.Parallel()
		guard, store := newGuard(t)

		acct := &billing.Account{
			ID:                 uuid.New(),
			Email:              "user@example.com",
			State:              billing.StateActive,
			PaymentFingerprint: "fp_1",
		}
		require.NoError(t, store.Create(context.Background(), acct))

		assert.NoError(t, guard.Evaluate(context.Background(), acct, "fp_1"))
	})

	t.Run("clean checkout passes", func(t *testing.T) {
		t.Parallel()
		guard, _ := newGuard(t)

		assert.NoError(t, guard.Evaluate(context.Background(), &billing.Account{
			ID:    uuid.New(),
			Email: "user@example.com",
		}, "fp_unseen"))
	})

	t.Run("inactive holder of the same instrument does not veto", func(t *testing.T) {
		t.Parallel()
		guard, store := newGuard(t)

		require.NoError(t, store.Create(context.Background(), &billing.Account{
			ID:                 uuid.New(),
			Email:              "lapsed@example.com",
			State:              billing.StateCanceled,
			PaymentFingerprint: "fp_1",
		}))

		assert.NoError(t, guard.Evaluate(context.Background(), &billing.Account{
			ID:    uuid.New(),
			Email: "new@example.com",
		}, "fp_1"))
	})
}
