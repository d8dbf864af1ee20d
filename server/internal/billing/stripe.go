package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeOptions configures the Stripe gateway.
type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string // optional, e.g. a stripe-mock instance
}

// StripeGateway sells plans through Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway with its own API client, leaving the
// package-level stripe.Key untouched.
func NewStripeGateway(opts StripeOptions) *StripeGateway {
	var backends *stripe.Backends
	if opts.APIURL != "" {
		cfg := &stripe.BackendConfig{
			URL:               stripe.String(strings.TrimRight(opts.APIURL, "/")),
			MaxNetworkRetries: stripe.Int64(0),
		}
		backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
		}
	}
	api := &client.API{}
	api.Init(opts.SecretKey, backends)
	return &StripeGateway{api: api, webhookSecret: opts.WebhookSecret}
}

func (g *StripeGateway) Name() string { return "stripe" }

// CreateCheckout opens a one-off payment Checkout Session. The session
// metadata carries the user, plan and credits so the webhook can settle it.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if req.Plan.StripePriceID != "" {
		item.Price = stripe.String(req.Plan.StripePriceID)
	} else {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(fmt.Sprintf("%s - %d credits", req.Plan.Name, req.Plan.Credits)),
		}
		if req.Plan.Description != "" {
			product.Description = stripe.String(req.Plan.Description)
		}
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(req.Plan.Currency),
			UnitAmount:  stripe.Int64(req.Plan.Price),
			ProductData: product,
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{item},
		SuccessURL:        stripe.String(withSessionPlaceholder(req.SuccessURL)),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		ExpiresAt:         stripe.Int64(time.Now().Add(time.Hour).Unix()),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata(metaUserID, req.UserID)
	params.AddMetadata(metaPlanID, req.Plan.ID)
	params.AddMetadata(metaCredits, strconv.Itoa(req.Plan.Credits))

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, errors.New("stripe returned a session without a URL")
	}
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps Checkout
// Session events onto provider-neutral events.
func (g *StripeGateway) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is missing", ErrNotConfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: EventIgnored, ProviderType: string(event.Type)}

	switch out.ProviderType {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = sess.ID
	out.UserID = sess.Metadata[metaUserID]
	if out.UserID == "" {
		out.UserID = sess.ClientReferenceID
	}
	out.PlanID = sess.Metadata[metaPlanID]
	out.Credits, _ = strconv.Atoi(sess.Metadata[metaCredits])
	out.Amount = sess.AmountTotal
	out.Currency = string(sess.Currency)
	out.CustomerEmail = sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		out.CustomerEmail = sess.CustomerDetails.Email
	}

	switch out.ProviderType {
	case "checkout.session.completed":
		// Delayed payment methods complete the session unpaid and settle later.
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			out.Type = EventCompleted
		}
	case "checkout.session.async_payment_succeeded":
		out.Type = EventCompleted
	case "checkout.session.async_payment_failed":
		out.Type = EventFailed
	case "checkout.session.expired":
		out.Type = EventExpired
	}
	return out, nil
}

// withSessionPlaceholder appends Stripe's session id template so the success
// page can look the purchase up.
func withSessionPlaceholder(u string) string {
	if u == "" || strings.Contains(u, "{CHECKOUT_SESSION_ID}") {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "session_id={CHECKOUT_SESSION_ID}"
}
