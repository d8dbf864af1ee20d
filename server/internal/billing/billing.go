package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/server/internal/events"
	"github.com/sitesmith/sitesmith/server/internal/mailer"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

// Options wires a Service.
type Options struct {
	Store      store.Store
	Catalog    *Catalog
	Gateways   []Gateway
	Provider   string // gateway used for new checkouts
	SuccessURL string
	CancelURL  string
	Bus        *events.Bus   // optional
	Mailer     mailer.Sender // optional
	Logger     *slog.Logger
}

// Service sells plans and settles provider webhooks.
type Service struct {
	store      store.Store
	catalog    *Catalog
	gateways   map[string]Gateway
	provider   string
	successURL string
	cancelURL  string
	bus        *events.Bus
	mailer     mailer.Sender
	logger     *slog.Logger
}

// NewService creates a billing service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = NewCatalog(nil, "")
	}
	gateways := make(map[string]Gateway, len(opts.Gateways))
	for _, g := range opts.Gateways {
		gateways[g.Name()] = g
	}
	return &Service{
		store:      opts.Store,
		catalog:    catalog,
		gateways:   gateways,
		provider:   opts.Provider,
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
		bus:        opts.Bus,
		mailer:     opts.Mailer,
		logger:     logger.With("component", "billing"),
	}
}

// Plans returns the catalog.
func (s *Service) Plans() []Plan { return s.catalog.List() }

// Plan returns one plan from the catalog.
func (s *Service) Plan(id string) (Plan, bool) { return s.catalog.Get(id) }

// Provider returns the gateway name used for new checkouts.
func (s *Service) Provider() string { return s.provider }

// PurchaseCredits opens a checkout for planID and records it as a pending
// purchase. Provider failures wrap ErrProvider.
func (s *Service) PurchaseCredits(ctx context.Context, user *store.User, planID string) (*Checkout, error) {
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return nil, ErrUnknownPlan
	}
	gw, ok := s.gateways[s.provider]
	if !ok {
		return nil, ErrNotConfigured
	}

	co, err := gw.CreateCheckout(ctx, CheckoutRequest{
		Plan:       plan,
		UserID:     user.ID,
		Email:      user.Email,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		s.logger.Error("checkout creation failed", "provider", gw.Name(), "user_id", user.ID, "plan_id", plan.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	err = s.store.CreatePurchase(ctx, &store.Purchase{
		SessionID: co.SessionID,
		UserID:    user.ID,
		PlanID:    plan.ID,
		Credits:   plan.Credits,
		Amount:    plan.Price,
		Currency:  plan.Currency,
		Provider:  gw.Name(),
		Status:    store.PurchasePending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		// The webhook can still settle the session from its metadata.
		s.logger.Error("record pending purchase", "session_id", co.SessionID, "error", err)
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	s.audit(ctx, "purchase.started", user.ID, map[string]any{
		"session_id": co.SessionID, "plan_id": plan.ID, "provider": gw.Name(),
	})
	s.logger.Info("checkout created", "provider", gw.Name(), "user_id", user.ID, "plan_id", plan.ID, "session_id", co.SessionID)
	return co, nil
}

// HandleWebhook verifies and applies a raw provider notification.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, header http.Header) error {
	if provider == "" {
		provider = s.provider
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return ErrUnknownProvider
	}

	ev, err := gw.ParseWebhook(ctx, payload, header)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			s.logger.Warn("webhook rejected", "provider", provider, "error", err)
		}
		return err
	}
	return s.ProcessEvent(ctx, provider, ev)
}

// ProcessEvent applies a verified event. Redelivered events are skipped by
// id, and CompletePurchase grants at most once per session, so concurrent
// duplicates are safe too. A returned error asks the provider to retry.
func (s *Service) ProcessEvent(ctx context.Context, provider string, ev *Event) error {
	logger := s.logger.With("provider", provider, "event_id", ev.ID, "event_type", ev.ProviderType)

	if ev.ID != "" {
		done, err := s.store.WebhookEventProcessed(ctx, provider, ev.ID)
		if err != nil {
			return fmt.Errorf("check webhook event: %w", err)
		}
		if done {
			logger.Debug("webhook event already processed")
			return nil
		}
	}

	switch ev.Type {
	case EventCompleted:
		if err := s.complete(ctx, provider, ev, logger); err != nil {
			return err
		}
	case EventExpired, EventFailed:
		status := store.PurchaseExpired
		if ev.Type == EventFailed {
			status = store.PurchaseFailed
		}
		changed, err := s.store.SetPurchaseStatus(ctx, ev.SessionID, status)
		if err != nil {
			return fmt.Errorf("mark purchase %s: %w", status, err)
		}
		if changed {
			logger.Info("purchase closed", "session_id", ev.SessionID, "status", status)
			if ev.Type == EventFailed && s.bus != nil {
				if p, _ := s.store.GetPurchase(ctx, ev.SessionID); p != nil {
					s.bus.PublishUser(p.UserID, events.PurchaseFailed, map[string]any{"session_id": ev.SessionID})
				}
			}
		}
	default:
		logger.Debug("webhook event ignored")
	}

	if ev.ID != "" {
		err := s.store.RecordWebhookEvent(ctx, &store.WebhookEvent{
			Provider:    provider,
			EventID:     ev.ID,
			Type:        ev.ProviderType,
			ProcessedAt: time.Now(),
		})
		if err != nil {
			// The grant is already committed; a retry is a no-op.
			logger.Error("record webhook event", "error", err)
		}
	}
	return nil
}

func (s *Service) complete(ctx context.Context, provider string, ev *Event, logger *slog.Logger) error {
	if ev.SessionID == "" {
		logger.Warn("completed event without session id")
		return nil
	}

	in := &store.Purchase{
		SessionID: ev.SessionID,
		UserID:    ev.UserID,
		PlanID:    ev.PlanID,
		Credits:   ev.Credits,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
		Provider:  provider,
	}
	if plan, ok := s.catalog.Get(ev.PlanID); ok && in.Credits <= 0 {
		in.Credits = plan.Credits
	}

	res, err := s.store.CompletePurchase(ctx, in)
	if errors.Is(err, store.ErrNotFound) {
		// Not ours, or metadata stripped. Acknowledge so the provider stops retrying.
		logger.Warn("completed event for unknown purchase", "session_id", ev.SessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete purchase: %w", err)
	}
	if !res.Granted {
		logger.Info("purchase already settled", "session_id", ev.SessionID)
		return nil
	}

	p := res.Purchase
	logger.Info("credits granted", "session_id", p.SessionID, "user_id", p.UserID, "credits", p.Credits, "balance", res.Balance)

	if s.bus != nil {
		s.bus.PublishUser(p.UserID, events.CreditsUpdated, map[string]any{"credits": res.Balance})
		s.bus.PublishUser(p.UserID, events.PurchaseCompleted, map[string]any{
			"session_id": p.SessionID, "plan_id": p.PlanID, "credits": p.Credits, "balance": res.Balance,
		})
	}
	s.audit(ctx, "purchase.completed", p.UserID, map[string]any{
		"session_id": p.SessionID, "plan_id": p.PlanID, "credits": p.Credits, "provider": provider,
	})
	s.sendReceipt(ctx, p, res.Balance, ev.CustomerEmail)
	return nil
}

// sendReceipt mails a receipt. Failures are logged and never fail the webhook.
func (s *Service) sendReceipt(ctx context.Context, p *store.Purchase, balance int, email string) {
	if s.mailer == nil {
		return
	}
	user, err := s.store.GetUserByID(ctx, p.UserID)
	if err != nil || user == nil {
		s.logger.Warn("receipt skipped: user lookup failed", "user_id", p.UserID, "error", err)
		return
	}
	if email == "" {
		email = user.Email
	}

	planName := p.PlanID
	if plan, ok := s.catalog.Get(p.PlanID); ok {
		planName = plan.Name
	}
	msg, err := mailer.Receipt{
		To:        email,
		Name:      user.Name,
		PlanName:  planName,
		Credits:   p.Credits,
		Balance:   balance,
		Amount:    p.Amount,
		Currency:  p.Currency,
		SessionID: p.SessionID,
		Date:      time.Now(),
	}.Message()
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Warn("receipt not sent", "session_id", p.SessionID, "error", err)
	}
}

// GrantCredits adjusts a balance outside of a purchase, e.g. from the
// operator CLI. Negative amounts debit.
func (s *Service) GrantCredits(ctx context.Context, userID string, amount int, reason string) (int, error) {
	if reason == "" {
		reason = store.ReasonAdmin
	}
	var balance int
	var err error
	if amount < 0 {
		balance, err = s.store.ConsumeCredits(ctx, userID, -amount, reason, "")
	} else {
		balance, err = s.store.AddCredits(ctx, userID, amount, reason, "")
	}
	if err != nil {
		return 0, err
	}
	if s.bus != nil {
		s.bus.PublishUser(userID, events.CreditsUpdated, map[string]any{"credits": balance})
	}
	s.audit(ctx, "credits.adjusted", userID, map[string]any{"amount": amount, "reason": reason})
	return balance, nil
}

func (s *Service) audit(ctx context.Context, action, userID string, detail map[string]any) {
	raw, _ := json.Marshal(detail)
	err := s.store.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		UserID:    userID,
		Detail:    raw,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("audit log failed", "action", action, "error", err)
	}
}
