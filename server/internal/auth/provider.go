package auth

import (
	"context"
	"time"
)

// Identity is the unified identity representation for all auth providers.
// UserID is always the local user id, also for externally managed accounts.
type Identity struct {
	UserID    string
	Email     string
	Name      string
	Role      string // "admin" or "user"
	SessionID string // builtin sessions only
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool { return i != nil && i.Role == "admin" }

// Provider validates bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Bootstrap(ctx context.Context) error
	Name() string
}

// LoginProvider is implemented by providers that manage email/password
// accounts and server-side sessions.
type LoginProvider interface {
	SignUp(ctx context.Context, in SignUpInput) (*Session, error)
	SignIn(ctx context.Context, in SignInInput) (*Session, error)
	SignOut(ctx context.Context, token string) error
	SessionExpiry() time.Duration
}
