// Package billing sells credit plans through a payment provider and grants
// the purchased credits when the provider confirms payment.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

var (
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrNotConfigured    = errors.New("payment provider not configured")
	ErrProvider         = errors.New("payment provider error")
)

// Metadata keys attached to provider sessions.
const (
	metaUserID  = "user_id"
	metaPlanID  = "plan_id"
	metaCredits = "credits"
)

// EventType is the provider-neutral meaning of a webhook event.
type EventType string

const (
	EventCompleted EventType = "completed" // payment captured, grant credits
	EventExpired   EventType = "expired"
	EventFailed    EventType = "failed"
	EventIgnored   EventType = "ignored"
)

// Event is a verified webhook event translated out of the provider's schema.
type Event struct {
	ID            string // provider event id
	Type          EventType
	ProviderType  string // raw provider event type
	SessionID     string
	UserID        string
	PlanID        string
	Credits       int
	Amount        int64
	Currency      string
	CustomerEmail string
}

// CheckoutRequest asks a gateway to open a hosted payment page for one plan.
type CheckoutRequest struct {
	Plan       Plan
	UserID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// Checkout is a provider session the user is redirected to.
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Gateway is a payment provider.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// ParseWebhook verifies the signature carried in header and decodes payload.
	// Verification failures wrap ErrInvalidSignature.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

// NewGateways builds every gateway that has credentials in cfg.
func NewGateways(cfg config.BillingConfig) ([]Gateway, error) {
	var gateways []Gateway
	if cfg.StripeSecretKey != "" {
		gateways = append(gateways, NewStripeGateway(StripeOptions{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			APIURL:        cfg.StripeAPIURL,
		}))
	}
	if cfg.PaddleAPIKey != "" {
		p, err := NewPaddleGateway(PaddleOptions{
			APIKey:        cfg.PaddleAPIKey,
			WebhookSecret: cfg.PaddleWebhookSecret,
			Environment:   cfg.PaddleEnvironment,
			CheckoutURL:   cfg.PaddleCheckoutURL,
		})
		if err != nil {
			return nil, fmt.Errorf("paddle: %w", err)
		}
		gateways = append(gateways, p)
	}
	return gateways, nil
}
