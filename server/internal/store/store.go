// Package store defines the storage interface for the server and provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)

// Purchase statuses.
const (
	PurchasePending = "pending"
	PurchasePaid    = "paid"
	PurchaseExpired = "expired"
	PurchaseFailed  = "failed"
)

// Ledger reasons.
const (
	ReasonSignup          = "signup"
	ReasonPurchase        = "purchase"
	ReasonProjectCreate   = "project.create"
	ReasonProjectRevision = "project.revision"
	ReasonRefund          = "refund"
	ReasonAdmin           = "admin"
)

// Open returns the Store for the configured driver. An empty driver means
// SQLite.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(cfg.DSN)
	}
	return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
}

// Store is the persistence interface for the server.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	// RegisterUser creates user and grants credits (if positive) in one
	// transaction. user.Credits is set to the resulting balance.
	RegisterUser(ctx context.Context, user *User, credits int, reason string) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, error)

	// Auth sessions
	CreateAuthSession(ctx context.Context, sess *AuthSession) error
	GetAuthSession(ctx context.Context, id string) (*AuthSession, error)
	DeleteAuthSession(ctx context.Context, id string) error
	PurgeExpiredAuthSessions(ctx context.Context, before time.Time) (int64, error)

	// Credits
	GetCredits(ctx context.Context, userID string) (int, error)
	AddCredits(ctx context.Context, userID string, amount int, reason, reference string) (int, error)
	ConsumeCredits(ctx context.Context, userID string, amount int, reason, reference string) (int, error)
	ListCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]CreditTransaction, error)

	// Purchases
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchase(ctx context.Context, sessionID string) (*Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error)
	CompletePurchase(ctx context.Context, p *Purchase) (*PurchaseResult, error)
	SetPurchaseStatus(ctx context.Context, sessionID, status string) (bool, error)

	// Webhook events
	WebhookEventProcessed(ctx context.Context, provider, eventID string) (bool, error)
	RecordWebhookEvent(ctx context.Context, ev *WebhookEvent) error

	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]Project, error)
	ListPublishedProjects(ctx context.Context) ([]Project, error)
	UpdateProjectCode(ctx context.Context, id, code, versionID string) error
	SetProjectPublished(ctx context.Context, id string, published bool) error
	DeleteProject(ctx context.Context, id string) error
	AddProjectVersion(ctx context.Context, v *ProjectVersion) error
	GetProjectVersion(ctx context.Context, id string) (*ProjectVersion, error)
	ListProjectVersions(ctx context.Context, projectID string) ([]ProjectVersion, error)
	AppendProjectMessage(ctx context.Context, m *ProjectMessage) error
	ListProjectMessages(ctx context.Context, projectID string) ([]ProjectMessage, error)

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Data retention
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents an account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	ExternalID   string    `json:"external_id,omitempty"` // external auth user_id or empty
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "admin" or "user"
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession is a server-side login session. Deleting it revokes every token
// that references it.
type AuthSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditTransaction is one append-only ledger row.
type CreditTransaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int       `json:"delta"`
	Balance   int       `json:"balance"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Purchase maps a payment provider checkout session to the credits it buys.
type Purchase struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	PlanID    string    `json:"plan_id"`
	Credits   int       `json:"credits"`
	Amount    int64     `json:"amount"` // minor units
	Currency  string    `json:"currency"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PurchaseResult reports the outcome of CompletePurchase.
type PurchaseResult struct {
	Purchase *Purchase
	Granted  bool // false when the session was already paid
	Balance  int  // user balance after the grant; zero when not granted
}

// WebhookEvent records a processed provider event.
type WebhookEvent struct {
	Provider    string    `json:"provider"`
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Project is a generated website owned by a user.
type Project struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	InitialPrompt    string    `json:"initial_prompt"`
	CurrentCode      string    `json:"current_code"`
	CurrentVersionID string    `json:"current_version_id"`
	Published        bool      `json:"is_published"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProjectVersion is an immutable snapshot of a project's code.
type ProjectVersion struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectMessage is one turn of the conversation that shaped a project.
type ProjectMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEvent is a log entry for audit purposes.
type AuditEvent struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	UserID    string          `json:"user_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditFilter specifies criteria for filtering audit events.
type AuditFilter struct {
	Action string
	UserID string
	Limit  int
	Offset int
}
