package billing

import "strings"

// providerStatusMap holds the explicit provider-status translations. Anything
// outside this table falls back to StateNew, which under-grants access rather
// than failing the pipeline on a status the provider introduced after us.
var providerStatusMap = map[string]SubscriptionState{
	"active":             StateActive,
	"trialing":           StateTrialing,
	"past_due":           StatePastDue,
	"canceled":           StateCanceled,
	"cancelled":          StateCanceled,
	"unpaid":             StatePastDue, // failed payment gates like past_due, not a terminal state
	"incomplete":         StateIncomplete,
	"incomplete_expired": StateIncompleteExpired,
	"paused":             StateExpired, // no distinct paused concept downstream
}

// MapProviderStatus translates the provider's raw subscription status into the
// canonical state. Total over all inputs: unknown statuses map to StateNew.
func MapProviderStatus(raw string) SubscriptionState {
	if s, ok := providerStatusMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StateNew
}
