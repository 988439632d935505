package accessgate

import (
	"net/http"

	"github.com/billingkit/billingkit/pkg/sessiontoken"
)

// Middleware enforces gate decisions on every request. It expects the
// session middleware to run first so claims are already in the context.
func (g *Gate) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims *sessiontoken.Claims
			if c, ok := sessiontoken.ClaimsFromContext(r.Context()); ok {
				claims = &c
			}

			switch g.Evaluate(claims, r.URL.Path) {
			case RedirectSignIn:
				http.Redirect(w, r, g.config.SignInPath, http.StatusSeeOther)
			case RedirectBilling:
				http.Redirect(w, r, g.config.BillingPath, http.StatusSeeOther)
			case RedirectApp:
				http.Redirect(w, r, g.config.AppPath, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
