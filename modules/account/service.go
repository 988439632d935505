// Package accountmod exposes the sign-in HTTP surface: the Google OAuth
// flow and sign-out. Successful sign-in provisions the account on first use
// and mints the session cookie.
package accountmod

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/billingkit/billingkit/pkg/auth"
	"github.com/billingkit/billingkit/pkg/sessiontoken"
)

// Config holds the account module's route targets.
type Config struct {
	// AppURL is where a signed-in account lands.
	AppURL string `env:"ACCOUNT_APP_URL" envDefault:"/app"`
	// SignInURL is where sign-out and failed callbacks land.
	SignInURL string `env:"ACCOUNT_SIGNIN_URL" envDefault:"/signin"`
	// SecureCookies controls the Secure flag on the oauth state cookie.
	SecureCookies bool `env:"ACCOUNT_COOKIE_SECURE" envDefault:"true"`
}

// Service wires the OAuth flow to account provisioning and session minting.
type Service struct {
	cfg    Config
	google *auth.GoogleAuthenticator
	signin *auth.Service
	broker *sessiontoken.Broker
	state  auth.GoogleConfig
	log    *slog.Logger
}

// NewService creates the account module.
func NewService(cfg Config, googleCfg auth.GoogleConfig, signin *auth.Service, broker *sessiontoken.Broker, log *slog.Logger) *Service {
	if signin == nil {
		panic("accountmod: sign-in service is required")
	}
	if broker == nil {
		panic("accountmod: session broker is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		google: auth.NewGoogleAuthenticator(googleCfg),
		signin: signin,
		broker: broker,
		state:  googleCfg,
		log:    log,
	}
}

// Handle returns the module's router.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/google", s.handleGoogleStart)
	r.Get("/google/callback", s.handleGoogleCallback)
	r.Post("/signout", s.handleSignOut)

	return r
}

func (s *Service) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	state, err := auth.NewState()
	if err != nil {
		s.log.ErrorContext(r.Context(), "oauth state generation failed", "error", err)
		http.Redirect(w, r, s.cfg.SignInURL+"?error=signin_failed", http.StatusSeeOther)
		return
	}
	auth.SetStateCookie(w, state, s.state.StateTTL, s.cfg.SecureCookies)
	http.Redirect(w, r, s.google.AuthURL(state), http.StatusSeeOther)
}

func (s *Service) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := auth.VerifyState(w, r, r.URL.Query().Get("state")); err != nil {
		s.log.WarnContext(ctx, "oauth state rejected", "error", err)
		http.Redirect(w, r, s.cfg.SignInURL+"?error=signin_failed", http.StatusSeeOther)
		return
	}

	profile, err := s.google.ResolveProfile(ctx, r.URL.Query().Get("code"))
	if err != nil {
		s.log.WarnContext(ctx, "oauth profile resolution failed", "error", err)
		http.Redirect(w, r, s.cfg.SignInURL+"?error=signin_failed", http.StatusSeeOther)
		return
	}

	acct, created, err := s.signin.SignIn(ctx, profile)
	if err != nil {
		s.log.ErrorContext(ctx, "sign-in failed", "email", profile.Email, "error", err)
		http.Redirect(w, r, s.cfg.SignInURL+"?error=signin_failed", http.StatusSeeOther)
		return
	}

	if _, err := s.broker.IssueCookie(w, acct); err != nil {
		s.log.ErrorContext(ctx, "session mint failed", "account_id", acct.ID, "error", err)
		http.Redirect(w, r, s.cfg.SignInURL+"?error=signin_failed", http.StatusSeeOther)
		return
	}

	if created {
		s.log.InfoContext(ctx, "first sign-in", "account_id", acct.ID)
	}
	http.Redirect(w, r, s.cfg.AppURL, http.StatusSeeOther)
}

func (s *Service) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.broker.ClearCookie(w)
	http.Redirect(w, r, s.cfg.SignInURL, http.StatusSeeOther)
}
