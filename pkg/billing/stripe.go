package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey       string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret   string `env:"STRIPE_WEBHOOK_SECRET,required"`
	PortalReturnURL string `env:"STRIPE_PORTAL_RETURN_URL"`
}

// StripeProvider implements Provider for Stripe. The SDK client is a
// process-wide resource constructed lazily exactly once behind an accessor,
// never rebuilt per call.
type StripeProvider struct {
	config StripeConfig
	log    *slog.Logger

	clientOnce sync.Once
	client     *stripe.Client
}

// NewStripeProvider creates a Stripe billing provider. The API client itself
// is not dialed until first use.
func NewStripeProvider(config StripeConfig, log *slog.Logger) (*StripeProvider, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingSecret
	}
	if log == nil {
		log = slog.Default()
	}
	return &StripeProvider{config: config, log: log}, nil
}

func (p *StripeProvider) api() *stripe.Client {
	p.clientOnce.Do(func() {
		p.client = stripe.NewClient(p.config.SecretKey, nil)
	})
	return p.client
}

// ParseWebhook verifies the Stripe-Signature header against the shared
// secret and normalizes the event. No field of the payload is trusted before
// verification succeeds.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrSignatureVerificationFailed, err)
	}

	ev := &Event{
		ID:         event.ID,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Payload:    payload,
	}

	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.resumed":
		return p.subscriptionTransition(ev, event.Data.Raw, "")
	case "customer.subscription.deleted":
		return p.subscriptionTransition(ev, event.Data.Raw, "canceled")
	case "customer.subscription.paused":
		return p.subscriptionTransition(ev, event.Data.Raw, "paused")
	case "checkout.session.completed":
		return p.checkoutCompletedTransition(ctx, ev, event.Data.Raw)
	case "invoice.payment_succeeded":
		return p.invoiceTransition(ctx, ev, event.Data.Raw, "active")
	case "invoice.payment_failed":
		return p.invoiceTransition(ctx, ev, event.Data.Raw, "unpaid")
	case "invoice.finalized":
		return p.invoiceFinalizedTransition(ev, event.Data.Raw)
	default:
		// Informational events (trial_will_end and anything newer than this
		// integration) are still recorded for audit, with no state change.
		p.log.InfoContext(ctx, "unhandled stripe event type", "event_id", event.ID, "event_type", event.Type)
		return ev, nil
	}
}

// subscriptionTransition normalizes customer.subscription.* payloads. When
// statusOverride is set (deleted, paused) the event type dictates the status
// regardless of the embedded snapshot.
func (p *StripeProvider) subscriptionTransition(ev *Event, raw json.RawMessage, statusOverride string) (*Event, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription payload: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("subscription %s carries no customer reference", sub.ID)
	}

	status := string(sub.Status)
	if statusOverride != "" {
		status = statusOverride
	}

	t := &Transition{
		CustomerID:     sub.Customer.ID,
		RawStatus:      status,
		SubscriptionID: sub.ID,
		PriceID:        subscriptionPriceID(&sub),
		Source:         SourceWebhook,
		OccurredAt:     ev.OccurredAt,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Payload:        ev.Payload,
	}
	if statusOverride == "canceled" {
		t.CancelReason = cancellationReason(&sub)
	}

	ev.Transition = t
	ev.RelatedSubscriptionID = sub.ID
	return ev, nil
}

// checkoutCompletedTransition handles checkout.session.completed. The bound
// payment instrument's fingerprint is resolved through the subscription's
// default payment method so the fraud guard can correlate duplicates.
func (p *StripeProvider) checkoutCompletedTransition(ctx context.Context, ev *Event, raw json.RawMessage) (*Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("parse checkout session payload: %w", err)
	}
	if session.Customer == nil || session.Customer.ID == "" {
		p.log.WarnContext(ctx, "checkout session without customer", "checkout_id", session.ID)
		return ev, nil
	}

	t := &Transition{
		CustomerID:         session.Customer.ID,
		RawStatus:          "active",
		Source:             SourceWebhook,
		CheckoutCompletion: true,
		OccurredAt:         ev.OccurredAt,
		EventID:            ev.ID,
		EventType:          ev.Type,
		Payload:            ev.Payload,
	}
	if session.Subscription != nil {
		t.SubscriptionID = session.Subscription.ID
		ev.RelatedSubscriptionID = session.Subscription.ID

		// Re-derive the status and fingerprint from the provider's current
		// view of the subscription rather than the session snapshot.
		if sub, err := p.retrieveSubscription(ctx, session.Subscription.ID); err == nil {
			t.RawStatus = string(sub.Status)
			t.PriceID = subscriptionPriceID(sub)
			t.PaymentFingerprint = paymentFingerprint(sub)
		} else {
			p.log.WarnContext(ctx, "checkout subscription lookup failed",
				"subscription_id", session.Subscription.ID, "error", err)
		}
	}

	ev.Transition = t
	return ev, nil
}

// invoiceTransition handles invoice payment outcomes. The applied status is
// whatever the provider currently reports for the subscription; the fallback
// only covers lookups that race the provider's own bookkeeping.
func (p *StripeProvider) invoiceTransition(ctx context.Context, ev *Event, raw json.RawMessage, fallback string) (*Event, error) {
	inv, err := parseInvoice(raw)
	if err != nil {
		return nil, err
	}
	if inv.Customer == "" {
		return ev, nil
	}

	status := fallback
	if inv.SubscriptionID != "" {
		ev.RelatedSubscriptionID = inv.SubscriptionID
		if sub, err := p.retrieveSubscription(ctx, inv.SubscriptionID); err == nil {
			status = string(sub.Status)
		}
	}

	ev.Transition = &Transition{
		CustomerID:     inv.Customer,
		RawStatus:      status,
		SubscriptionID: inv.SubscriptionID,
		Source:         SourceWebhook,
		OccurredAt:     ev.OccurredAt,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Payload:        ev.Payload,
	}
	return ev, nil
}

func (p *StripeProvider) invoiceFinalizedTransition(ev *Event, raw json.RawMessage) (*Event, error) {
	inv, err := parseInvoice(raw)
	if err != nil {
		return nil, err
	}
	if inv.Customer == "" {
		return ev, nil
	}

	status := "past_due"
	if inv.Status == "paid" {
		status = "active"
	}
	ev.RelatedSubscriptionID = inv.SubscriptionID
	ev.Transition = &Transition{
		CustomerID:     inv.Customer,
		RawStatus:      status,
		SubscriptionID: inv.SubscriptionID,
		Source:         SourceWebhook,
		OccurredAt:     ev.OccurredAt,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Payload:        ev.Payload,
	}
	return ev, nil
}

// CreateCheckout creates a hosted Stripe Checkout session in subscription
// mode. The account reference is bound as client_reference_id so the
// redirect handler can verify the originating principal.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id", ErrNoCheckoutURL)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:                 stripe.String(req.CustomerID),
		ClientReferenceID:        stripe.String(req.AccountRef),
		SuccessURL:               stripe.String(req.SuccessURL),
		CancelURL:                stripe.String(req.CancelURL),
		AllowPromotionCodes:      stripe.Bool(true),
		PaymentMethodCollection:  stripe.String("if_required"),
		BillingAddressCollection: stripe.String("auto"),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(int64(req.TrialDays)),
		}
	}

	session, err := p.api().V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:        session.URL,
		CheckoutID: session.ID,
		ExpiresAt:  time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

// RetrieveCheckout resolves the redirect reference into the provider's view
// of the completed checkout, expanding the subscription and its default
// payment method in one round trip.
func (p *StripeProvider) RetrieveCheckout(ctx context.Context, checkoutRef string) (*CheckoutResult, error) {
	params := &stripe.CheckoutSessionRetrieveParams{
		Expand: []*string{
			stripe.String("subscription.default_payment_method"),
			stripe.String("line_items"),
			stripe.String("customer"),
		},
	}
	session, err := p.api().V1CheckoutSessions.Retrieve(ctx, checkoutRef, params)
	if err != nil {
		return nil, errors.Join(ErrProviderLookupFailed, err)
	}

	res := &CheckoutResult{
		CheckoutID: session.ID,
		AccountRef: session.ClientReferenceID,
		Completed:  session.Status == stripe.CheckoutSessionStatusComplete,
		OccurredAt: time.Now().UTC(),
	}
	if session.Customer != nil {
		res.CustomerID = session.Customer.ID
	}
	if session.LineItems != nil && len(session.LineItems.Data) > 0 && session.LineItems.Data[0].Price != nil {
		res.PriceID = session.LineItems.Data[0].Price.ID
	}
	if sub := session.Subscription; sub != nil {
		res.SubscriptionID = sub.ID
		res.RawStatus = string(sub.Status)
		res.PaymentFingerprint = paymentFingerprint(sub)
		if res.PriceID == "" {
			res.PriceID = subscriptionPriceID(sub)
		}
	}
	return res, nil
}

// ActiveSubscription is the fallback lookup for redirect callbacks that beat
// Stripe's own checkout bookkeeping: the session has no subscription yet but
// the customer may already show an active one.
func (p *StripeProvider) ActiveSubscription(ctx context.Context, customerID string) (*CheckoutResult, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)

	for sub, err := range p.api().V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, errors.Join(ErrProviderLookupFailed, err)
		}
		return &CheckoutResult{
			CustomerID:         customerID,
			SubscriptionID:     sub.ID,
			PriceID:            subscriptionPriceID(sub),
			RawStatus:          string(sub.Status),
			PaymentFingerprint: paymentFingerprint(sub),
			Completed:          true,
			OccurredAt:         time.Now().UTC(),
		}, nil
	}
	return nil, ErrCheckoutIncomplete
}

// CancelSubscription cancels immediately. Used for the compensating action
// after a fraud veto, so the rejected checkout never stays paid provider-side.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if _, err := p.api().V1Subscriptions.Cancel(ctx, subscriptionID, nil); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// ResumeSubscription lifts a provider-side pause.
func (p *StripeProvider) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionResumeParams{
		BillingCycleAnchor: stripe.String("now"),
	}
	if _, err := p.api().V1Subscriptions.Resume(ctx, subscriptionID, params); err != nil {
		return fmt.Errorf("resume subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// EnsureCustomer returns the Stripe customer for the account, reusing an
// existing customer with the same email before creating a new one. The
// internal account reference is kept in customer metadata for correlation.
func (p *StripeProvider) EnsureCustomer(ctx context.Context, accountRef, email, name string) (string, error) {
	if email != "" {
		params := &stripe.CustomerSearchParams{}
		params.Query = "email:'" + email + "'"
		params.Limit = stripe.Int64(1)

		for customer, err := range p.api().V1Customers.Search(ctx, params) {
			if err != nil {
				return "", errors.Join(ErrProviderLookupFailed, err)
			}
			if customer.Metadata["internal_account_id"] == "" {
				_, err := p.api().V1Customers.Update(ctx, customer.ID, &stripe.CustomerUpdateParams{
					Metadata: map[string]string{"internal_account_id": accountRef},
				})
				if err != nil {
					p.log.WarnContext(ctx, "customer metadata backfill failed", "customer_id", customer.ID, "error", err)
				}
			}
			return customer.ID, nil
		}
	}

	customer, err := p.api().V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: map[string]string{"internal_account_id": accountRef},
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return customer.ID, nil
}

// PortalLink returns a pre-authenticated billing portal session URL.
func (p *StripeProvider) PortalLink(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if p.config.PortalReturnURL != "" {
		params.ReturnURL = stripe.String(p.config.PortalReturnURL)
	}

	session, err := p.api().V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if session.URL == "" {
		return "", ErrNoPortalURL
	}
	return session.URL, nil
}

func (p *StripeProvider) retrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionRetrieveParams{
		Expand: []*string{stripe.String("default_payment_method")},
	}
	return p.api().V1Subscriptions.Retrieve(ctx, id, params)
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func paymentFingerprint(sub *stripe.Subscription) string {
	if sub.DefaultPaymentMethod != nil && sub.DefaultPaymentMethod.Card != nil {
		return sub.DefaultPaymentMethod.Card.Fingerprint
	}
	return ""
}

type invoicePayload struct {
	Customer       string
	Status         string
	SubscriptionID string
}

// parseInvoice reads the few invoice fields this integration needs. The
// subscription reference moved under parent.subscription_details in newer
// API versions, so both locations are checked.
func parseInvoice(raw json.RawMessage) (*invoicePayload, error) {
	var inv struct {
		Customer     string `json:"customer"`
		Status       string `json:"status"`
		Subscription string `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice payload: %w", err)
	}

	out := &invoicePayload{
		Customer:       inv.Customer,
		Status:         inv.Status,
		SubscriptionID: inv.Subscription,
	}
	if out.SubscriptionID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription
	}
	return out, nil
}

func cancellationReason(sub *stripe.Subscription) string {
	d := sub.CancellationDetails
	if d == nil {
		return ""
	}
	switch {
	case d.Comment != "":
		return d.Comment
	case d.Feedback != "":
		return string(d.Feedback)
	case d.Reason != "":
		return string(d.Reason)
	default:
		return ""
	}
}
