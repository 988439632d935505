package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
//
// Paddle models checkouts as transactions rather than sessions, and it does
// not expose payment instrument fingerprints, so fraud correlation by
// instrument is unavailable on this provider. The disposable-email guard
// still applies.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
	log      *slog.Logger
}

// NewPaddleProvider creates a Paddle billing provider.
func NewPaddleProvider(config PaddleConfig, log *slog.Logger) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingSecret
	}
	if log == nil {
		log = slog.Default()
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
		log:      log,
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the
// event. The verifier consumes an http.Request, so one is reconstructed
// around the raw payload.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureVerificationFailed, err)
	}
	if !valid {
		return nil, ErrSignatureVerificationFailed
	}

	var envelope struct {
		EventID    string          `json:"event_id"`
		EventType  string          `json:"event_type"`
		OccurredAt time.Time       `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	ev := &Event{
		ID:         envelope.EventID,
		Type:       envelope.EventType,
		OccurredAt: envelope.OccurredAt.UTC(),
		Payload:    payload,
	}

	switch {
	case strings.HasPrefix(envelope.EventType, "subscription."):
		return p.paddleSubscriptionTransition(ev, envelope.EventType, envelope.Data)
	case envelope.EventType == "transaction.completed",
		envelope.EventType == "transaction.payment_failed":
		return p.paddleTransactionTransition(ev, envelope.EventType, envelope.Data)
	default:
		p.log.InfoContext(ctx, "unhandled paddle event type", "event_id", envelope.EventID, "event_type", envelope.EventType)
		return ev, nil
	}
}

func (p *PaddleProvider) paddleSubscriptionTransition(ev *Event, eventType string, data json.RawMessage) (*Event, error) {
	var sub struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		CustomerID string `json:"customer_id"`
		Items      []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription payload: %w", err)
	}
	if sub.CustomerID == "" {
		return nil, fmt.Errorf("subscription %s carries no customer reference", sub.ID)
	}

	status := sub.Status
	switch eventType {
	case "subscription.canceled":
		status = "canceled"
	case "subscription.paused":
		status = "paused"
	}

	t := &Transition{
		CustomerID:     sub.CustomerID,
		RawStatus:      status,
		SubscriptionID: sub.ID,
		Source:         SourceWebhook,
		OccurredAt:     ev.OccurredAt,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Payload:        ev.Payload,
	}
	if len(sub.Items) > 0 {
		t.PriceID = sub.Items[0].Price.ID
	}

	ev.Transition = t
	ev.RelatedSubscriptionID = sub.ID
	return ev, nil
}

func (p *PaddleProvider) paddleTransactionTransition(ev *Event, eventType string, data json.RawMessage) (*Event, error) {
	var txn struct {
		ID             string `json:"id"`
		CustomerID     string `json:"customer_id"`
		SubscriptionID string `json:"subscription_id"`
		Items          []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("parse transaction payload: %w", err)
	}
	if txn.CustomerID == "" {
		return ev, nil
	}

	status := "active"
	if eventType == "transaction.payment_failed" {
		status = "past_due"
	}

	t := &Transition{
		CustomerID:         txn.CustomerID,
		RawStatus:          status,
		SubscriptionID:     txn.SubscriptionID,
		Source:             SourceWebhook,
		CheckoutCompletion: eventType == "transaction.completed",
		OccurredAt:         ev.OccurredAt,
		EventID:            ev.ID,
		EventType:          ev.Type,
		Payload:            ev.Payload,
	}
	if len(txn.Items) > 0 {
		t.PriceID = txn.Items[0].Price.ID
	}

	ev.Transition = t
	ev.RelatedSubscriptionID = txn.SubscriptionID
	return ev, nil
}

// CreateCheckout creates a Paddle transaction with a hosted checkout URL.
// The internal account reference travels in custom_data so the redirect
// handler and webhook normalization can correlate the checkout.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id", ErrNoCheckoutURL)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"account_id": req.AccountRef,
		},
	}
	if req.CustomerID != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil || *transaction.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:        *transaction.Checkout.URL,
		CheckoutID: transaction.ID,
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	}, nil
}

// RetrieveCheckout resolves a transaction ID from the redirect into the
// provider's current view of the checkout.
func (p *PaddleProvider) RetrieveCheckout(ctx context.Context, checkoutRef string) (*CheckoutResult, error) {
	transaction, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: checkoutRef,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderLookupFailed, err)
	}

	res := &CheckoutResult{
		CheckoutID: transaction.ID,
		Completed:  transaction.Status == paddle.TransactionStatusCompleted,
		RawStatus:  "active",
		OccurredAt: time.Now().UTC(),
	}
	if transaction.CustomerID != nil {
		res.CustomerID = *transaction.CustomerID
	}
	if transaction.SubscriptionID != nil {
		res.SubscriptionID = *transaction.SubscriptionID
	}
	if ref, ok := customDataString(transaction.CustomData, "account_id"); ok {
		res.AccountRef = ref
	}
	if len(transaction.Items) > 0 {
		res.PriceID = transaction.Items[0].Price.ID
	}

	// Transactions settle before the subscription record exists; when the
	// link is already there, the subscription's own status is authoritative.
	if res.SubscriptionID != "" {
		sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
			SubscriptionID: res.SubscriptionID,
		})
		if err == nil {
			res.RawStatus = string(sub.Status)
		}
	}
	return res, nil
}

// ActiveSubscription looks for a live subscription on the customer. Used
// when the redirect lands before the transaction's subscription link exists.
func (p *PaddleProvider) ActiveSubscription(ctx context.Context, customerID string) (*CheckoutResult, error) {
	subs, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerID},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderLookupFailed, err)
	}

	var res *CheckoutResult
	err = subs.Iter(ctx, func(sub *paddle.Subscription) (bool, error) {
		state := MapProviderStatus(string(sub.Status))
		if state != StateActive && state != StateTrialing {
			return true, nil
		}
		res = &CheckoutResult{
			CustomerID:     customerID,
			SubscriptionID: sub.ID,
			RawStatus:      string(sub.Status),
			Completed:      true,
			OccurredAt:     time.Now().UTC(),
		}
		if len(sub.Items) > 0 {
			res.PriceID = sub.Items[0].Price.ID
		}
		return false, nil
	})
	if err != nil {
		return nil, errors.Join(ErrProviderLookupFailed, err)
	}
	if res == nil {
		return nil, ErrCheckoutIncomplete
	}
	return res, nil
}

// CancelSubscription cancels immediately.
func (p *PaddleProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromImmediately),
	})
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// ResumeSubscription lifts a pause on the subscription.
func (p *PaddleProvider) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	_, err := p.client.SubscriptionsClient.ResumeSubscription(ctx, paddle.NewResumeSubscriptionRequestResumeImmediately(subscriptionID, &paddle.ResumeImmediately{
		EffectiveFrom: paddle.PtrTo(paddle.EffectiveFromImmediately),
	}))
	if err != nil {
		return fmt.Errorf("resume subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// EnsureCustomer creates a Paddle customer for the account. Paddle rejects
// duplicate emails with a conflict carrying the existing customer ID, which
// callers surface as a provider error rather than silently reusing.
func (p *PaddleProvider) EnsureCustomer(ctx context.Context, accountRef, email, name string) (string, error) {
	req := &paddle.CreateCustomerRequest{
		Email: email,
		CustomData: paddle.CustomData{
			"account_id": accountRef,
		},
	}
	if name != "" {
		req.Name = paddle.PtrTo(name)
	}

	customer, err := p.client.CustomersClient.CreateCustomer(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return customer.ID, nil
}

// PortalLink returns the customer portal overview URL.
func (p *PaddleProvider) PortalLink(ctx context.Context, customerID string) (string, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return "", fmt.Errorf("create paddle customer portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return session.URLs.General.Overview, nil
}

func customDataString(data paddle.CustomData, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	v, ok := data[key].(string)
	return v, ok
}
