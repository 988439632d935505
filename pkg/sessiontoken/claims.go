package sessiontoken

import (
	"time"

	"github.com/google/uuid"

	"github.com/billingkit/billingkit/pkg/billing"
)

// Claims is the signed session payload. Besides the registered temporal
// claims it carries a snapshot of the account's billing standing, so access
// decisions on every request cost no database read. The snapshot is advisory
// and bounded by the broker's refresh interval; the account row stays
// authoritative.
type Claims struct {
	AccountID           string `json:"sub"`
	Email               string `json:"email,omitempty"`
	SubscriptionState   string `json:"sst,omitempty"`
	LifetimeAccess      bool   `json:"lta,omitempty"`
	OnboardingCompleted bool   `json:"obc,omitempty"`
	IssuedAt            int64  `json:"iat,omitempty"`
	ExpiresAt           int64  `json:"exp,omitempty"`
	RefreshedAt         int64  `json:"rat,omitempty"`
}

// Valid checks the temporal claims. Zero values are treated as unset.
func (c Claims) Valid() error {
	if c.ExpiresAt > 0 && time.Now().Unix() > c.ExpiresAt {
		return ErrExpiredToken
	}
	return nil
}

// Account returns the account ID carried in the subject claim.
func (c Claims) Account() (uuid.UUID, error) {
	return uuid.Parse(c.AccountID)
}

// Entitled reports whether this snapshot grants access to paid surfaces.
func (c Claims) Entitled() bool {
	if c.LifetimeAccess {
		return true
	}
	return billing.SubscriptionState(c.SubscriptionState).Entitled()
}

// Stale reports whether the snapshot is older than the given interval and
// should be re-read from the account row.
func (c Claims) Stale(interval time.Duration) bool {
	refreshed := c.RefreshedAt
	if refreshed == 0 {
		refreshed = c.IssuedAt
	}
	if refreshed == 0 {
		return true
	}
	return time.Since(time.Unix(refreshed, 0)) > interval
}
