package sessiontoken

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/billingkit/billingkit/pkg/billing"
)

// Config holds session token configuration.
type Config struct {
	SigningKey      string        `env:"SESSION_SIGNING_KEY,required"`
	TTL             time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	RefreshInterval time.Duration `env:"SESSION_REFRESH_INTERVAL" envDefault:"5m"`
	CookieName      string        `env:"SESSION_COOKIE_NAME" envDefault:"bk_session"`
	SecureCookies   bool          `env:"SESSION_COOKIE_SECURE" envDefault:"true"`
}

// Broker mints, rotates, and refreshes session tokens. Rotation re-reads the
// account row so the embedded snapshot reflects the stored state, never a
// caller-supplied one.
type Broker struct {
	signer   *Signer
	accounts billing.AccountStore
	config   Config
	log      *slog.Logger
}

// NewBroker creates a session token broker.
// Panics if signing key or account store are missing: these are statically
// wired dependencies, not runtime conditions.
func NewBroker(config Config, accounts billing.AccountStore, log *slog.Logger) *Broker {
	signer, err := NewSigner([]byte(config.SigningKey))
	if err != nil {
		panic("sessiontoken: " + err.Error())
	}
	if accounts == nil {
		panic("sessiontoken: account store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = 30 * 24 * time.Hour
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 5 * time.Minute
	}
	if config.CookieName == "" {
		config.CookieName = "bk_session"
	}
	return &Broker{signer: signer, accounts: accounts, config: config, log: log}
}

// Mint issues a token whose snapshot mirrors the given account row.
func (b *Broker) Mint(acct *billing.Account) (string, Claims, error) {
	return b.mint(acct, 0)
}

func (b *Broker) mint(acct *billing.Account, issuedAt int64) (string, Claims, error) {
	now := time.Now()
	if issuedAt == 0 {
		issuedAt = now.Unix()
	}
	claims := Claims{
		AccountID:           acct.ID.String(),
		Email:               acct.Email,
		SubscriptionState:   string(acct.State),
		LifetimeAccess:      acct.HasLifetimeAccess,
		OnboardingCompleted: acct.OnboardingCompleted,
		IssuedAt:            issuedAt,
		ExpiresAt:           now.Add(b.config.TTL).Unix(),
		RefreshedAt:         now.Unix(),
	}
	token, err := b.signer.Sign(claims)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

// Parse verifies and decodes a raw token.
func (b *Broker) Parse(token string) (Claims, error) {
	return b.signer.Parse(token)
}

// Rotate re-reads the account behind the prior credential and replaces the
// session cookie with a fresh snapshot. Called after any write that changes
// billing standing. The original issuance time is kept: rotation refreshes
// the snapshot and extends expiry, it does not restart the session's
// lifetime.
func (b *Broker) Rotate(ctx context.Context, w http.ResponseWriter, prior Claims) (Claims, error) {
	accountID, err := prior.Account()
	if err != nil {
		return Claims{}, err
	}
	acct, err := b.accounts.ByID(ctx, accountID)
	if err != nil {
		return Claims{}, err
	}
	token, claims, err := b.mint(acct, prior.IssuedAt)
	if err != nil {
		return Claims{}, err
	}
	b.issue(w, token)
	return claims, nil
}

// FromRequest extracts and verifies the session token from the request
// cookie.
func (b *Broker) FromRequest(r *http.Request) (Claims, error) {
	cookie, err := r.Cookie(b.config.CookieName)
	if err != nil || cookie.Value == "" {
		return Claims{}, ErrNoSession
	}
	return b.signer.Parse(cookie.Value)
}

// IssueCookie mints a token for the account and sets the session cookie.
func (b *Broker) IssueCookie(w http.ResponseWriter, acct *billing.Account) (Claims, error) {
	token, claims, err := b.Mint(acct)
	if err != nil {
		return Claims{}, err
	}
	b.issue(w, token)
	return claims, nil
}

// ClearCookie removes the session cookie.
func (b *Broker) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *Broker) issue(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.config.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(b.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   b.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware parses the session cookie and injects claims into the request
// context. Snapshots older than the refresh interval are re-read from the
// account row and the cookie is re-minted in place; the re-read is a safety
// net, so its failure downgrades to the stale snapshot instead of logging
// the user out. Requests without a valid session pass through with no
// claims; route protection is the access gate's job.
func (b *Broker) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := b.FromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if claims.Stale(b.config.RefreshInterval) {
				claims = b.refresh(r.Context(), w, claims)
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func (b *Broker) refresh(ctx context.Context, w http.ResponseWriter, stale Claims) Claims {
	fresh, err := b.Rotate(ctx, w, stale)
	if err != nil {
		if !errors.Is(err, billing.ErrAccountNotFound) {
			b.log.WarnContext(ctx, "session refresh failed", "account_id", stale.AccountID, "error", err)
		}
		return stale
	}
	return fresh
}
