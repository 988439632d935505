package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billingkit/billingkit/pkg/billing"
)

const paddleTestSecret = "pdl_ntfset_test_secret"

// signPaddlePayload produces a Paddle-Signature header value for the payload,
// the same scheme the SDK verifies: h1 = HMAC-SHA256(secret, "<ts>:<payload>").
func signPaddlePayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(paddleTestSecret))
	fmt.Fprintf(mac, "%d:%s", ts, payload)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func paddleEvent(id, eventType, data string) []byte {
	return fmt.Appendf(nil, `{
		"event_id": %q,
		"event_type": %q,
		"occurred_at": %q,
		"data": %s
	}`, id, eventType, time.Now().UTC().Format(time.RFC3339), data)
}

func newPaddleProvider(t *testing.T) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_test_key",
		WebhookSecret: paddleTestSecret,
		Environment:   "sandbox",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return p
}

func TestNewPaddleProvider(t *testing.T) {
	t.Parallel()

	_, err := billing.NewPaddleProvider(billing.PaddleConfig{WebhookSecret: "pdl_ntfset"}, nil)
	require.ErrorIs(t, err, billing.ErrMissingAPIKey)

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "pdl_key"}, nil)
	require.ErrorIs(t, err, billing.ErrMissingSecret)

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_key",
		WebhookSecret: "pdl_ntfset",
		Environment:   "staging",
	}, nil)
	require.Error(t, err)
}

func TestPaddleParseWebhook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rejects an invalid signature", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_1", "subscription.updated", `{}`)
		_, err := p.ParseWebhook(ctx, payload, "ts=1;h1="+hex.EncodeToString(make([]byte, 32)))
		require.ErrorIs(t, err, billing.ErrSignatureVerificationFailed)
	})

	t.Run("rejects a missing or malformed signature header", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_1", "subscription.updated", `{}`)

		_, err := p.ParseWebhook(ctx, payload, "")
		require.ErrorIs(t, err, billing.ErrSignatureVerificationFailed)

		_, err = p.ParseWebhook(ctx, payload, "not-a-signature")
		require.ErrorIs(t, err, billing.ErrSignatureVerificationFailed)
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_1", "subscription.updated", `{}`)
		sig := signPaddlePayload(payload)
		tampered := append([]byte(nil), payload...)
		tampered = append(tampered, ' ')
		_, err := p.ParseWebhook(ctx, tampered, sig)
		require.ErrorIs(t, err, billing.ErrSignatureVerificationFailed)
	})

	t.Run("normalizes a subscription update", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_sub_1", "subscription.updated", `{
			"id": "sub_1",
			"status": "active",
			"customer_id": "ctm_1",
			"items": [{"price": {"id": "pri_basic"}}]
		}`)

		ev, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload))
		require.NoError(t, err)
		assert.Equal(t, "ntfevt_sub_1", ev.ID)
		assert.Equal(t, "sub_1", ev.RelatedSubscriptionID)

		require.NotNil(t, ev.Transition)
		assert.Equal(t, "ctm_1", ev.Transition.CustomerID)
		assert.Equal(t, "active", ev.Transition.RawStatus)
		assert.Equal(t, "sub_1", ev.Transition.SubscriptionID)
		assert.Equal(t, "pri_basic", ev.Transition.PriceID)
		assert.Equal(t, billing.SourceWebhook, ev.Transition.Source)
		assert.False(t, ev.Transition.CheckoutCompletion)
	})

	t.Run("cancellation and pause override the embedded status", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)

		canceled := paddleEvent("ntfevt_del_1", "subscription.canceled", `{
			"id": "sub_1",
			"status": "active",
			"customer_id": "ctm_1"
		}`)
		ev, err := p.ParseWebhook(ctx, canceled, signPaddlePayload(canceled))
		require.NoError(t, err)
		require.NotNil(t, ev.Transition)
		assert.Equal(t, "canceled", ev.Transition.RawStatus)

		paused := paddleEvent("ntfevt_pause_1", "subscription.paused", `{
			"id": "sub_1",
			"status": "active",
			"customer_id": "ctm_1"
		}`)
		ev, err = p.ParseWebhook(ctx, paused, signPaddlePayload(paused))
		require.NoError(t, err)
		require.NotNil(t, ev.Transition)
		assert.Equal(t, "paused", ev.Transition.RawStatus)
	})

	t.Run("subscription without a customer reference fails", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_bad_1", "subscription.updated", `{
			"id": "sub_1",
			"status": "active"
		}`)
		_, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload))
		require.Error(t, err)
		assert.NotErrorIs(t, err, billing.ErrSignatureVerificationFailed)
	})

	t.Run("completed transaction is flagged as a checkout completion", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_txn_1", "transaction.completed", `{
			"id": "txn_1",
			"customer_id": "ctm_1",
			"subscription_id": "sub_1",
			"items": [{"price": {"id": "pri_basic"}}]
		}`)

		ev, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload))
		require.NoError(t, err)
		require.NotNil(t, ev.Transition)
		assert.Equal(t, "active", ev.Transition.RawStatus)
		assert.Equal(t, "sub_1", ev.Transition.SubscriptionID)
		assert.Equal(t, "pri_basic", ev.Transition.PriceID)
		assert.True(t, ev.Transition.CheckoutCompletion)
	})

	t.Run("failed transaction maps to past_due without the completion flag", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_txn_2", "transaction.payment_failed", `{
			"id": "txn_2",
			"customer_id": "ctm_1",
			"subscription_id": "sub_1"
		}`)

		ev, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload))
		require.NoError(t, err)
		require.NotNil(t, ev.Transition)
		assert.Equal(t, "past_due", ev.Transition.RawStatus)
		assert.False(t, ev.Transition.CheckoutCompletion)
	})

	t.Run("transaction without a customer carries no transition", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_txn_3", "transaction.completed", `{"id": "txn_3"}`)

		ev, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload))
		require.NoError(t, err)
		assert.Nil(t, ev.Transition)
	})

	t.Run("unhandled event types carry no transition", func(t *testing.T) {
		t.Parallel()
		p := newPaddleProvider(t)
		payload := paddleEvent("ntfevt_adj_1", "adjustment.created", `{"id": "adj_1"}`)

		ev, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload))
		require.NoError(t, err)
		assert.Nil(t, ev.Transition)
		assert.Equal(t, "ntfevt_adj_1", ev.ID)
	})
}
