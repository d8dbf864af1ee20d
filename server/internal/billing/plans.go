package billing

import (
	"strings"

	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/mailer"
)

// Plan is a purchasable bundle of credits.
type Plan struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Price         int64    `json:"price"` // minor units
	Currency      string   `json:"currency"`
	Credits       int      `json:"credits"`
	Description   string   `json:"description,omitempty"`
	Features      []string `json:"features,omitempty"`
	StripePriceID string   `json:"-"`
	PaddlePriceID string   `json:"-"`
}

// DisplayPrice renders the price for humans, e.g. "19.00 USD".
func (p Plan) DisplayPrice() string {
	return mailer.FormatAmount(p.Price, p.Currency)
}

// DefaultPlans is the catalog used when the configuration lists none.
func DefaultPlans() []config.PlanConfig {
	return []config.PlanConfig{
		{
			ID:          "basic",
			Name:        "Basic",
			Price:       500,
			Credits:     100,
			Description: "Start now, scale up as you grow.",
			Features:    []string{"Up to 20 Creations", "Limited Revisions", "Basic AI Models", "Email support", "Basic analytics"},
		},
		{
			ID:          "pro",
			Name:        "Pro",
			Price:       1900,
			Credits:     400,
			Description: "Add credits to create more projects",
			Features:    []string{"Up to 80 Creations", "Extended Revisions", "Advanced AI Models", "Priority email support", "Advanced analytics"},
		},
		{
			ID:          "enterprise",
			Name:        "Enterprise",
			Price:       4900,
			Credits:     1000,
			Description: "Add credits to create more projects",
			Features:    []string{"High Quality", "Unlimited Revisions", "Premium AI Models", "24/7 support", "Advanced analytics"},
		},
	}
}

// Catalog is the immutable set of plans offered for sale.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

// NewCatalog builds a catalog from configuration. An empty list falls back
// to DefaultPlans. Plans without a currency inherit the given one.
func NewCatalog(plans []config.PlanConfig, currency string) *Catalog {
	if len(plans) == 0 {
		plans = DefaultPlans()
	}
	if currency == "" {
		currency = "usd"
	}
	c := &Catalog{byID: make(map[string]Plan, len(plans))}
	for _, pc := range plans {
		p := Plan{
			ID:            pc.ID,
			Name:          pc.Name,
			Price:         pc.Price,
			Currency:      strings.ToLower(currency),
			Credits:       pc.Credits,
			Description:   pc.Description,
			Features:      pc.Features,
			StripePriceID: pc.StripePriceID,
			PaddlePriceID: pc.PaddlePriceID,
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		c.plans = append(c.plans, p)
		c.byID[p.ID] = p
	}
	return c
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id string) (Plan, bool) {
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// List returns the plans in configuration order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}
