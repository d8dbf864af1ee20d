package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/server/internal/store"
)

// ClerkProvider validates Clerk-issued JWTs using JWKS and maps each Clerk
// user onto a local account, creating it on first sight.
type ClerkProvider struct {
	issuer        string
	jwks          keyfunc.Keyfunc
	cancel        context.CancelFunc
	store         store.Store
	signupCredits int
}

// NewClerkProvider creates a ClerkProvider that fetches and refreshes JWKS
// from the Clerk issuer.
func NewClerkProvider(issuer string, s store.Store, signupCredits int) (*ClerkProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("clerk issuer URL is required")
	}
	issuer = strings.TrimSuffix(issuer, "/")

	ctx, cancel := context.WithCancel(context.Background())
	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &ClerkProvider{
		issuer:        issuer,
		jwks:          jwks,
		cancel:        cancel,
		store:         s,
		signupCredits: signupCredits,
	}, nil
}

// ValidateToken parses a Clerk JWT and returns the identity of the matching
// local user.
func (c *ClerkProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, c.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}

	user, err := c.provision(ctx, sub, claims)
	if err != nil {
		return nil, err
	}

	role := user.Role
	if claimStr(claims, "org_role") == "org:admin" {
		role = "admin"
	}
	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   role,
	}, nil
}

// provision returns the local user for a Clerk subject, creating it with the
// signup grant the first time the subject is seen.
func (c *ClerkProvider) provision(ctx context.Context, sub string, claims jwt.MapClaims) (*store.User, error) {
	user, err := c.store.GetUserByExternalID(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	email := normalizeEmail(claimStr(claims, "email"))
	if email == "" {
		email = sub
	} else if taken, err := c.store.GetUserByEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	} else if taken != nil {
		email = sub
	}

	user = &store.User{
		ID:         uuid.New().String(),
		Email:      email,
		Name:       displayName(sub, claims),
		ExternalID: sub,
		Role:       "user",
		CreatedAt:  time.Now(),
	}
	if err := c.store.RegisterUser(ctx, user, c.signupCredits, store.ReasonSignup); err != nil {
		// A concurrent request provisioned the same subject.
		if again, _ := c.store.GetUserByExternalID(ctx, sub); again != nil {
			return again, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Bootstrap is a no-op for Clerk (users are managed externally).
func (c *ClerkProvider) Bootstrap(ctx context.Context) error {
	return nil
}

// Name returns the provider name.
func (c *ClerkProvider) Name() string { return "clerk" }

// Close stops the JWKS background refresh.
func (c *ClerkProvider) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func displayName(sub string, claims jwt.MapClaims) string {
	switch {
	case claimStr(claims, "name") != "":
		return claimStr(claims, "name")
	case claimStr(claims, "first_name") != "" || claimStr(claims, "last_name") != "":
		return strings.TrimSpace(claimStr(claims, "first_name") + " " + claimStr(claims, "last_name"))
	case claimStr(claims, "username") != "":
		return claimStr(claims, "username")
	case claimStr(claims, "email") != "":
		return claimStr(claims, "email")
	}
	return sub
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
