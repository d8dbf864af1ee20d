package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleOptions configures the Paddle gateway.
type PaddleOptions struct {
	APIKey        string
	WebhookSecret string
	Environment   string // "production" (default) or "sandbox"
	CheckoutURL   string // approved domain page hosting Paddle.js checkout
	BaseURL       string // optional API override
}

// PaddleGateway sells plans through Paddle Billing transactions.
type PaddleGateway struct {
	client      *paddle.SDK
	verifier    *paddle.WebhookVerifier
	checkoutURL string
}

// NewPaddleGateway creates a Paddle gateway for the configured environment.
func NewPaddleGateway(opts PaddleOptions) (*PaddleGateway, error) {
	if opts.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}

	var sdkOpts []paddle.Option
	if opts.BaseURL != "" {
		sdkOpts = append(sdkOpts, paddle.WithBaseURL(opts.BaseURL))
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(opts.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(opts.APIKey, sdkOpts...)
	case "production", "":
		client, err = paddle.New(opts.APIKey, sdkOpts...)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", opts.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	g := &PaddleGateway{client: client, checkoutURL: opts.CheckoutURL}
	if opts.WebhookSecret != "" {
		g.verifier = paddle.NewWebhookVerifier(opts.WebhookSecret)
	}
	return g, nil
}

func (g *PaddleGateway) Name() string { return "paddle" }

// CreateCheckout creates a draft transaction for the plan's catalog price and
// returns its hosted checkout link.
func (g *PaddleGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.Plan.PaddlePriceID == "" {
		return nil, fmt.Errorf("%w: plan %q has no paddle price id", ErrNotConfigured, req.Plan.ID)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.Plan.PaddlePriceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			metaUserID:  req.UserID,
			metaPlanID:  req.Plan.ID,
			metaCredits: strconv.Itoa(req.Plan.Credits),
		},
	}
	if g.checkoutURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(g.checkoutURL)}
	}

	tx, err := g.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, errors.New("no checkout URL returned from paddle")
	}
	return &Checkout{SessionID: tx.ID, URL: *tx.Checkout.URL}, nil
}

type paddleNotification struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID           string         `json:"id"`
		Status       string         `json:"status"`
		CurrencyCode string         `json:"currency_code"`
		CustomData   map[string]any `json:"custom_data"`
		Details      struct {
			Totals struct {
				GrandTotal string `json:"grand_total"`
			} `json:"totals"`
		} `json:"details"`
	} `json:"data"`
}

// ParseWebhook verifies the Paddle-Signature header and maps transaction
// events onto provider-neutral events.
func (g *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	if g.verifier == nil {
		return nil, fmt.Errorf("%w: paddle webhook secret is missing", ErrNotConfigured)
	}

	// The verifier works on a request; rebuild one around the raw body.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header = header.Clone()

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("decode paddle notification: %w", err)
	}

	out := &Event{ID: n.EventID, Type: EventIgnored, ProviderType: n.EventType}
	switch n.EventType {
	case "transaction.completed":
		out.Type = EventCompleted
	case "transaction.payment_failed":
		out.Type = EventFailed
	case "transaction.canceled":
		out.Type = EventExpired
	default:
		return out, nil
	}

	out.SessionID = n.Data.ID
	out.UserID = customString(n.Data.CustomData, metaUserID)
	out.PlanID = customString(n.Data.CustomData, metaPlanID)
	out.Credits, _ = strconv.Atoi(customString(n.Data.CustomData, metaCredits))
	out.Currency = strings.ToLower(n.Data.CurrencyCode)
	out.Amount, _ = strconv.ParseInt(n.Data.Details.Totals.GrandTotal, 10, 64)
	return out, nil
}

// customString reads a custom_data value that may have been stored as a
// string or a JSON number.
func customString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
