// Package billingmod exposes the billing HTTP surface: the provider webhook,
// the post-checkout redirect callback, checkout creation, the authoritative
// status read, and portal/resume operations.
package billingmod

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/billingkit/billingkit/pkg/billing"
	"github.com/billingkit/billingkit/pkg/sessiontoken"
)

// Service wires the billing endpoints to the reconciliation engine.
type Service struct {
	cfg      Config
	engine   *billing.Engine
	provider billing.Provider
	accounts billing.AccountStore
	ledger   billing.EventLedger
	catalog  *billing.Catalog
	guard    *billing.FraudGuard
	broker   *sessiontoken.Broker
	log      *slog.Logger
}

// NewService creates the billing module.
// Panics on missing static dependencies; broker may be nil when the module
// runs headless (webhook-only deployments).
func NewService(
	cfg Config,
	engine *billing.Engine,
	provider billing.Provider,
	accounts billing.AccountStore,
	ledger billing.EventLedger,
	catalog *billing.Catalog,
	guard *billing.FraudGuard,
	broker *sessiontoken.Broker,
	log *slog.Logger,
) *Service {
	if engine == nil {
		panic("billingmod: engine is required")
	}
	if provider == nil {
		panic("billingmod: provider is required")
	}
	if accounts == nil {
		panic("billingmod: account store is required")
	}
	if ledger == nil {
		panic("billingmod: event ledger is required")
	}
	if catalog == nil {
		panic("billingmod: plan catalog is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		engine:   engine,
		provider: provider,
		accounts: accounts,
		ledger:   ledger,
		catalog:  catalog,
		guard:    guard,
		broker:   broker,
		log:      log,
	}
}

// Handle returns the module's router. The webhook route must stay outside
// any session or gate middleware; everything else expects the session
// middleware to have run.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhook", s.handleWebhook)
	r.Get("/post-checkout", s.handlePostCheckout)
	r.Post("/checkout", s.handleCheckout)
	r.Get("/status", s.handleStatus)
	r.Get("/portal", s.handlePortal)
	r.Post("/resume", s.handleResume)

	return r
}

// claims returns the authenticated session snapshot or writes a 401.
func (s *Service) claims(w http.ResponseWriter, r *http.Request) (sessiontoken.Claims, bool) {
	claims, ok := sessiontoken.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return sessiontoken.Claims{}, false
	}
	return claims, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
