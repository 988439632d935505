package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan describes a purchasable subscription plan. PriceID is the payment
// provider's price reference and is what checkout and webhook payloads carry.
type Plan struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	PriceID   string `yaml:"price_id"`
	TrialDays int    `yaml:"trial_days"`
	Default   bool   `yaml:"default"`
}

// Catalog is the loaded plan set plus billing-wide lists that ship with it.
type Catalog struct {
	plans             map[string]Plan
	byPrice           map[string]Plan
	defaultID         string
	disposableDomains []string
}

// CatalogSource loads the plan catalog at startup.
type CatalogSource interface {
	Load(ctx context.Context) (*Catalog, error)
}

// NewCatalog builds a catalog from plans, validating internal consistency.
func NewCatalog(plans []Plan, disposableDomains []string) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("no plans defined"))
	}

	c := &Catalog{
		plans:             make(map[string]Plan, len(plans)),
		byPrice:           make(map[string]Plan, len(plans)),
		disposableDomains: disposableDomains,
	}
	for _, p := range plans {
		if p.ID == "" || p.PriceID == "" {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q missing id or price_id", p.ID))
		}
		if p.TrialDays < 0 {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q has negative trial days", p.ID))
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		c.plans[p.ID] = p
		c.byPrice[p.PriceID] = p
		if p.Default {
			c.defaultID = p.ID
		}
	}
	if c.defaultID == "" {
		c.defaultID = plans[0].ID
	}
	return c, nil
}

// Plan returns a plan by id.
func (c *Catalog) Plan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// PlanByPrice returns the plan selling the given provider price.
func (c *Catalog) PlanByPrice(priceID string) (Plan, error) {
	p, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// Default returns the catalog's default plan.
func (c *Catalog) Default() Plan {
	return c.plans[c.defaultID]
}

// AllowedPrice reports whether the price id belongs to any catalog plan.
// Checkout requests with prices outside the catalog are rejected.
func (c *Catalog) AllowedPrice(priceID string) bool {
	_, ok := c.byPrice[priceID]
	return ok
}

// DisposableDomains returns the extra denylisted email domains shipped with
// the catalog file.
func (c *Catalog) DisposableDomains() []string {
	return c.disposableDomains
}

// FileCatalogSource loads the catalog from a YAML file:
//
//	plans:
//	  - id: basic
//	    name: Basic
//	    price_id: price_basic_monthly
//	    trial_days: 14
//	    default: true
//	disposable_domains:
//	  - mailinator.com
type FileCatalogSource struct {
	Path string
}

func (s FileCatalogSource) Load(ctx context.Context) (*Catalog, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var doc struct {
		Plans             []Plan   `yaml:"plans"`
		DisposableDomains []string `yaml:"disposable_domains"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return NewCatalog(doc.Plans, doc.DisposableDomains)
}

// StaticCatalogSource serves a pre-built catalog, for tests and embedding.
type StaticCatalogSource struct {
	Catalog *Catalog
}

func (s StaticCatalogSource) Load(ctx context.Context) (*Catalog, error) {
	if s.Catalog == nil {
		return nil, ErrInvalidCatalog
	}
	return s.Catalog, nil
}
