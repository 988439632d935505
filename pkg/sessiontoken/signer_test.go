package sessiontoken_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billingkit/billingkit/pkg/sessiontoken"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSigner(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		signer, err := sessiontoken.NewSigner(testKey)
		require.NoError(t, err)

		in := sessiontoken.Claims{
			AccountID:         "acct-1",
			Email:             "a@example.com",
			SubscriptionState: "active",
			IssuedAt:          time.Now().Unix(),
			ExpiresAt:         time.Now().Add(time.Hour).Unix(),
		}
		token, err := signer.Sign(in)
		require.NoError(t, err)
		assert.Len(t, strings.Split(token, "."), 3)

		out, err := signer.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := sessiontoken.NewSigner(nil)
		require.ErrorIs(t, err, sessiontoken.ErrMissingSigningKey)
	})

	t.Run("tampered claims fail verification", func(t *testing.T) {
		t.Parallel()
		signer, err := sessiontoken.NewSigner(testKey)
		require.NoError(t, err)

		token, err := signer.Sign(sessiontoken.Claims{AccountID: "acct-1"})
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"acct-2"}`))
		_, err = signer.Parse(strings.Join(parts, "."))
		require.ErrorIs(t, err, sessiontoken.ErrInvalidSignature)
	})

	t.Run("token signed with a different key fails", func(t *testing.T) {
		t.Parallel()
		signer, err := sessiontoken.NewSigner(testKey)
		require.NoError(t, err)
		other, err := sessiontoken.NewSigner([]byte("another-key-entirely-32-bytes!!!"))
		require.NoError(t, err)

		token, err := other.Sign(sessiontoken.Claims{AccountID: "acct-1"})
		require.NoError(t, err)
		_, err = signer.Parse(token)
		require.ErrorIs(t, err, sessiontoken.ErrInvalidSignature)
	})

	t.Run("malformed tokens are rejected", func(t *testing.T) {
		t.Parallel()
		signer, err := sessiontoken.NewSigner(testKey)
		require.NoError(t, err)

		for _, token := range []string{"", "a.b", "a.b.c.d", "!!!.!!!.!!!"} {
			_, err := signer.Parse(token)
			require.Error(t, err, "token %q", token)
		}
	})

	t.Run("foreign algorithm header is rejected even with a valid mac", func(t *testing.T) {
		t.Parallel()
		signer, err := sessiontoken.NewSigner(testKey)
		require.NoError(t, err)

		header := base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT","alg":"none"}`))
		claims := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"acct-1"}`))
		payload := header + "." + claims

		mac := hmac.New(sha256.New, testKey)
		mac.Write([]byte(payload))
		sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

		_, err = signer.Parse(payload + "." + sig)
		require.ErrorIs(t, err, sessiontoken.ErrInvalidSignature)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		signer, err := sessiontoken.NewSigner(testKey)
		require.NoError(t, err)

		token, err := signer.Sign(sessiontoken.Claims{
			AccountID: "acct-1",
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		})
		require.NoError(t, err)
		_, err = signer.Parse(token)
		require.ErrorIs(t, err, sessiontoken.ErrExpiredToken)
	})
}

func TestClaims(t *testing.T) {
	t.Parallel()

	t.Run("entitled states", func(t *testing.T) {
		t.Parallel()
		assert.True(t, sessiontoken.Claims{SubscriptionState: "active"}.Entitled())
		assert.True(t, sessiontoken.Claims{SubscriptionState: "trialing"}.Entitled())
		assert.True(t, sessiontoken.Claims{SubscriptionState: "canceled", LifetimeAccess: true}.Entitled())
		assert.False(t, sessiontoken.Claims{SubscriptionState: "canceled"}.Entitled())
		assert.False(t, sessiontoken.Claims{SubscriptionState: "past_due"}.Entitled())
	})

	t.Run("staleness", func(t *testing.T) {
		t.Parallel()
		now := time.Now().Unix()
		assert.False(t, sessiontoken.Claims{RefreshedAt: now}.Stale(5*time.Minute))
		assert.True(t, sessiontoken.Claims{RefreshedAt: now - 600}.Stale(5*time.Minute))
		assert.False(t, sessiontoken.Claims{IssuedAt: now}.Stale(5*time.Minute), "issued-at backstops a missing refresh claim")
		assert.True(t, sessiontoken.Claims{}.Stale(5*time.Minute), "no temporal claims means stale")
	})
}
