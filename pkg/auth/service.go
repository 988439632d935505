package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billingkit/billingkit/pkg/billing"
)

// Service turns resolved provider profiles into local accounts. First
// sign-in provisions the account with no subscription standing; the billing
// engine takes over from there. The provider customer is NOT created here:
// it is bound lazily at first checkout so accounts that never pay cost
// nothing provider-side.
type Service struct {
	accounts billing.AccountStore
	tracker  billing.Tracker
	log      *slog.Logger
}

// NewService creates the sign-in service.
// Panics on a nil account store: it is a statically wired dependency.
func NewService(accounts billing.AccountStore, tracker billing.Tracker, log *slog.Logger) *Service {
	if accounts == nil {
		panic("auth: account store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{accounts: accounts, tracker: tracker, log: log}
}

// SignIn resolves the profile to an account, creating one on first sign-in.
// The second return value reports whether the account was just created.
func (s *Service) SignIn(ctx context.Context, profile Profile) (*billing.Account, bool, error) {
	if profile.Email == "" {
		return nil, false, ErrNoPrimaryEmail
	}

	acct, err := s.accounts.ByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		return acct, false, nil
	case !errors.Is(err, billing.ErrAccountNotFound):
		return nil, false, fmt.Errorf("look up account: %w", err)
	}

	now := time.Now().UTC()
	acct = &billing.Account{
		ID:              uuid.New(),
		Email:           profile.Email,
		Name:            profile.Name,
		State:           billing.StateNew,
		StatusChangedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		// Two concurrent first sign-ins race on the email; the loser reuses
		// the winner's row.
		if existing, lookupErr := s.accounts.ByEmail(ctx, profile.Email); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create account: %w", err)
	}

	s.log.InfoContext(ctx, "account provisioned", "account_id", acct.ID, "email", acct.Email)
	if s.tracker != nil {
		s.tracker.Track(ctx, acct.ID, billing.SignalSignUp, map[string]any{
			"provider": "google",
		})
	}
	return acct, true, nil
}
