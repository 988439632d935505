package billing

import "errors"

var (
	ErrAccountNotFound   = errors.New("billing: account not found")
	ErrCustomerBound     = errors.New("billing: account already has a customer reference")
	ErrDuplicateEvent    = errors.New("billing: event already processed")
	ErrMissingStatus     = errors.New("billing: transition carries no provider status")
	ErrMissingAccountRef = errors.New("billing: transition carries neither account id nor customer id")

	// Fraud guard vetoes. Surfaced to users as a generic rejection; the
	// distinction exists for logs and the compensating cancel path only.
	ErrDisposableEmailRejected     = errors.New("billing: disposable email domain rejected")
	ErrDuplicateInstrumentRejected = errors.New("billing: payment instrument already bound to an active account")

	ErrSignatureVerificationFailed = errors.New("billing: webhook signature verification failed")
	ErrProviderLookupFailed        = errors.New("billing: provider lookup failed")
	ErrCheckoutMismatch            = errors.New("billing: checkout principal does not match session principal")
	ErrCheckoutIncomplete          = errors.New("billing: checkout session has no subscription yet")

	ErrPlanNotFound   = errors.New("billing: plan not found")
	ErrInvalidCatalog = errors.New("billing: invalid plan catalog")
	ErrNoCheckoutURL  = errors.New("billing: no checkout URL returned from provider")
	ErrNoPortalURL    = errors.New("billing: no portal URL returned from provider")
	ErrMissingAPIKey  = errors.New("billing: provider API key is required")
	ErrMissingSecret  = errors.New("billing: provider webhook secret is required")
)
