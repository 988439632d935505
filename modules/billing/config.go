package billingmod

import "time"

// Config holds the billing module's route targets and webhook settings.
type Config struct {
	// SignatureHeader is the header carrying the provider's webhook
	// signature.
	SignatureHeader string `env:"BILLING_WEBHOOK_SIGNATURE_HEADER" envDefault:"Stripe-Signature"`
	// MaxWebhookBody caps the accepted webhook payload size in bytes.
	MaxWebhookBody int64 `env:"BILLING_WEBHOOK_MAX_BODY" envDefault:"1048576"`

	// CheckoutSuccessURL receives the redirect after a provider checkout;
	// the provider appends the checkout reference to it.
	CheckoutSuccessURL string `env:"BILLING_CHECKOUT_SUCCESS_URL,required"`
	// CheckoutCancelURL receives users who abandon checkout.
	CheckoutCancelURL string `env:"BILLING_CHECKOUT_CANCEL_URL,required"`

	// AppURL is where a successfully reconciled checkout lands.
	AppURL string `env:"BILLING_APP_URL" envDefault:"/app"`
	// BillingURL is the billing recovery page.
	BillingURL string `env:"BILLING_RECOVERY_URL" envDefault:"/billing"`
	// ProcessingURL is the confirmation page shown while a paid checkout's
	// provider-side bookkeeping is still settling. It polls the status
	// endpoint; the user is never dead-ended after paying.
	ProcessingURL string `env:"BILLING_PROCESSING_URL" envDefault:"/billing/processing"`

	// SignInURL receives unauthenticated hits on user-facing routes.
	SignInURL string `env:"BILLING_SIGNIN_URL" envDefault:"/signin"`

	// PlansPath points at the YAML plan catalog.
	PlansPath string `env:"BILLING_PLANS_PATH" envDefault:"plans.yml"`

	CheckoutTimeout time.Duration `env:"BILLING_CHECKOUT_TIMEOUT" envDefault:"15s"`
}
