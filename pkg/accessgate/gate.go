// Package accessgate classifies requests against the session snapshot. The
// gate holds no transition logic: it reads a snapshot and a path and returns
// a decision. All state changes happen in the billing engine.
package accessgate

import (
	"strings"

	"github.com/billingkit/billingkit/pkg/sessiontoken"
)

// Decision is the gate's verdict for a request.
type Decision int

const (
	// Allow lets the request through untouched.
	Allow Decision = iota
	// RedirectSignIn sends an unauthenticated request to the sign-in page.
	RedirectSignIn
	// RedirectBilling sends a lapsed account to the billing recovery page.
	RedirectBilling
	// RedirectApp sends an entitled account away from public marketing pages
	// into the app.
	RedirectApp
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectSignIn:
		return "redirect_sign_in"
	case RedirectBilling:
		return "redirect_billing"
	case RedirectApp:
		return "redirect_app"
	default:
		return "unknown"
	}
}

// Config enumerates the gate's route classes. Exempt paths are listed
// explicitly, never inferred: silently gating a webhook or recovery page
// breaks the loop that lets a lapsed account pay again.
type Config struct {
	// SignInPath is where unauthenticated requests are sent.
	SignInPath string
	// BillingPath is the billing recovery page for lapsed accounts.
	BillingPath string
	// AppPath is where entitled accounts land when they hit a public page.
	AppPath string

	// PublicRoutes need no session at all (marketing pages, sign-in).
	PublicRoutes []string
	// PublicPrefixes cover static assets and similar subtrees.
	PublicPrefixes []string
	// BypassRoutes stay reachable for any authenticated account regardless
	// of billing standing: recovery pages, checkout, status read, account
	// deletion, sign-out.
	BypassRoutes []string
}

// Gate evaluates access decisions for request paths.
type Gate struct {
	config   Config
	public   map[string]struct{}
	bypass   map[string]struct{}
	prefixes []string
}

// New creates a gate from the route configuration. Infrastructure endpoints
// (webhook, auth callbacks) and the gate's own redirect targets are always
// part of the bypass set so no snapshot state can block them.
func New(config Config) *Gate {
	if config.SignInPath == "" {
		config.SignInPath = "/signin"
	}
	if config.BillingPath == "" {
		config.BillingPath = "/billing"
	}
	if config.AppPath == "" {
		config.AppPath = "/app"
	}

	g := &Gate{
		config:   config,
		public:   make(map[string]struct{}, len(config.PublicRoutes)+1),
		bypass:   make(map[string]struct{}, len(config.BypassRoutes)+2),
		prefixes: config.PublicPrefixes,
	}
	for _, p := range config.PublicRoutes {
		g.public[normalize(p)] = struct{}{}
	}
	g.public[normalize(config.SignInPath)] = struct{}{}
	for _, p := range config.BypassRoutes {
		g.bypass[normalize(p)] = struct{}{}
	}
	g.bypass[normalize(config.BillingPath)] = struct{}{}
	return g
}

// Evaluate classifies a request. A nil claims pointer means no valid session
// was presented.
func (g *Gate) Evaluate(claims *sessiontoken.Claims, path string) Decision {
	path = normalize(path)

	if g.publicPrefix(path) {
		return Allow
	}
	_, isPublic := g.public[path]
	_, isBypass := g.bypass[path]

	if claims == nil {
		if isPublic || isBypass {
			return Allow
		}
		return RedirectSignIn
	}

	if claims.Entitled() {
		// Entitled accounts have no business on marketing or sign-in pages.
		if isPublic {
			return RedirectApp
		}
		return Allow
	}

	// Lapsed standing: public pages stay reachable, everything else outside
	// the explicit bypass set funnels to the recovery page.
	if isPublic || isBypass {
		return Allow
	}
	if path == normalize(g.config.BillingPath) {
		return Allow
	}
	return RedirectBilling
}

// SignInPath returns the configured sign-in redirect target.
func (g *Gate) SignInPath() string { return g.config.SignInPath }

// BillingPath returns the configured billing recovery target.
func (g *Gate) BillingPath() string { return g.config.BillingPath }

// AppPath returns the configured app landing target.
func (g *Gate) AppPath() string { return g.config.AppPath }

func (g *Gate) publicPrefix(path string) bool {
	for _, prefix := range g.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
