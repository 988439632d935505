package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billingkit/billingkit/pkg/auth"
	"github.com/billingkit/billingkit/pkg/billing"
)

type trackerSpy struct {
	mu      sync.Mutex
	signals []string
}

func (t *trackerSpy) Track(_ context.Context, _ uuid.UUID, signal string, _ map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals = append(t.signals, signal)
}

func (t *trackerSpy) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.signals...)
}

// conflictingStore simulates a concurrent first sign-in: Create fails with a
// unique violation while another row for the same email already landed.
type conflictingStore struct {
	billing.AccountStore
	winner *billing.Account
}

func (s *conflictingStore) ByEmail(ctx context.Context, email string) (*billing.Account, error) {
	if s.winner != nil {
		return s.winner, nil
	}
	return nil, billing.ErrAccountNotFound
}

func (s *conflictingStore) Create(ctx context.Context, acct *billing.Account) error {
	s.winner = &billing.Account{ID: uuid.New(), Email: acct.Email, State: billing.StateNew}
	return errors.New("duplicate key value violates unique constraint")
}

func TestServiceSignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("first sign-in provisions an account", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryAccountStore()
		tracker := &trackerSpy{}
		svc := auth.NewService(store, tracker, slog.New(slog.DiscardHandler))

		acct, created, err := svc.SignIn(ctx, auth.Profile{
			ProviderUserID: "google-123",
			Email:          "new@example.com",
			EmailVerified:  true,
			Name:           "New User",
		})
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, billing.StateNew, acct.State)
		assert.Empty(t, acct.CustomerID, "provider customer is bound at first checkout, not sign-in")
		assert.Equal(t, []string{billing.SignalSignUp}, tracker.names())

		stored, err := store.ByEmail(ctx, "new@example.com")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, stored.ID)
	})

	t.Run("repeat sign-in reuses the account", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryAccountStore()
		tracker := &trackerSpy{}
		svc := auth.NewService(store, tracker, slog.New(slog.DiscardHandler))

		first, created, err := svc.SignIn(ctx, auth.Profile{Email: "repeat@example.com"})
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := svc.SignIn(ctx, auth.Profile{Email: "repeat@example.com"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, []string{billing.SignalSignUp}, tracker.names(), "sign_up fires once per account")
	})

	t.Run("missing email is rejected", func(t *testing.T) {
		t.Parallel()
		svc := auth.NewService(billing.NewMemoryAccountStore(), nil, slog.New(slog.DiscardHandler))
		_, _, err := svc.SignIn(ctx, auth.Profile{ProviderUserID: "google-123"})
		require.ErrorIs(t, err, auth.ErrNoPrimaryEmail)
	})

	t.Run("concurrent first sign-in reuses the winning row", func(t *testing.T) {
		t.Parallel()
		store := &conflictingStore{AccountStore: billing.NewMemoryAccountStore()}
		svc := auth.NewService(store, nil, slog.New(slog.DiscardHandler))

		acct, created, err := svc.SignIn(ctx, auth.Profile{Email: "race@example.com"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, store.winner.ID, acct.ID)
	})

	t.Run("nil store panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { auth.NewService(nil, nil, nil) })
	})
}

func TestOAuthState(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		state, err := auth.NewState()
		require.NoError(t, err)
		require.NotEmpty(t, state)

		rec := httptest.NewRecorder()
		auth.SetStateCookie(rec, state, 10*time.Minute, true)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.True(t, cookies[0].HttpOnly)

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+state, nil)
		req.AddCookie(cookies[0])
		require.NoError(t, auth.VerifyState(httptest.NewRecorder(), req, state))
	})

	t.Run("mismatched state fails and clears the cookie", func(t *testing.T) {
		t.Parallel()
		state, err := auth.NewState()
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		auth.SetStateCookie(rec, state, 10*time.Minute, true)

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil)
		req.AddCookie(rec.Result().Cookies()[0])

		verify := httptest.NewRecorder()
		require.ErrorIs(t, auth.VerifyState(verify, req, "forged"), auth.ErrInvalidState)

		cleared := verify.Result().Cookies()
		require.Len(t, cleared, 1)
		assert.Negative(t, cleared[0].MaxAge)
	})

	t.Run("missing cookie fails", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil)
		require.ErrorIs(t, auth.VerifyState(httptest.NewRecorder(), req, "whatever"), auth.ErrInvalidState)
	})

	t.Run("distinct states", func(t *testing.T) {
		t.Parallel()
		a, err := auth.NewState()
		require.NoError(t, err)
		b, err := auth.NewState()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}
