package billing_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billingkit/billingkit/pkg/billing"
)

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	t.Run("builds lookups and default", func(t *testing.T) {
		t.Parallel()
		c, err := billing.NewCatalog([]billing.Plan{
			{ID: "basic", Name: "Basic", PriceID: "price_basic", TrialDays: 14},
			{ID: "pro", Name: "Pro", PriceID: "price_pro", Default: true},
		}, []string{"throwaway.example"})
		require.NoError(t, err)

		p, err := c.Plan("basic")
		require.NoError(t, err)
		assert.Equal(t, 14, p.TrialDays)

		p, err = c.PlanByPrice("price_pro")
		require.NoError(t, err)
		assert.Equal(t, "pro", p.ID)

		assert.Equal(t, "pro", c.Default().ID)
		assert.True(t, c.AllowedPrice("price_basic"))
		assert.False(t, c.AllowedPrice("price_unknown"))
		assert.Equal(t, []string{"throwaway.example"}, c.DisposableDomains())
	})

	t.Run("first plan is default when none is flagged", func(t *testing.T) {
		t.Parallel()
		c, err := billing.NewCatalog([]billing.Plan{
			{ID: "solo", PriceID: "price_solo"},
			{ID: "team", PriceID: "price_team"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "solo", c.Default().ID)
	})

	t.Run("rejects invalid definitions", func(t *testing.T) {
		t.Parallel()

		_, err := billing.NewCatalog(nil, nil)
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)

		_, err = billing.NewCatalog([]billing.Plan{{ID: "x"}}, nil)
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)

		_, err = billing.NewCatalog([]billing.Plan{
			{ID: "x", PriceID: "p1"},
			{ID: "x", PriceID: "p2"},
		}, nil)
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)

		_, err = billing.NewCatalog([]billing.Plan{{ID: "x", PriceID: "p", TrialDays: -1}}, nil)
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("unknown lookups return ErrPlanNotFound", func(t *testing.T) {
		t.Parallel()
		c, err := billing.NewCatalog([]billing.Plan{{ID: "basic", PriceID: "price_basic"}}, nil)
		require.NoError(t, err)

		_, err = c.Plan("enterprise")
		require.ErrorIs(t, err, billing.ErrPlanNotFound)
		_, err = c.PlanByPrice("price_enterprise")
		require.ErrorIs(t, err, billing.ErrPlanNotFound)
	})
}

func TestFileCatalogSource(t *testing.T) {
	t.Parallel()

	t.Run("loads yaml catalog", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plans.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: basic
    name: Basic
    price_id: price_basic_monthly
    trial_days: 7
    default: true
disposable_domains:
  - throwaway.example
`), 0o600))

		c, err := billing.FileCatalogSource{Path: path}.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "basic", c.Default().ID)
		assert.Equal(t, []string{"throwaway.example"}, c.DisposableDomains())
	})

	t.Run("missing file fails", func(t *testing.T) {
		t.Parallel()
		_, err := billing.FileCatalogSource{Path: filepath.Join(t.TempDir(), "nope.yml")}.Load(context.Background())
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})
}
