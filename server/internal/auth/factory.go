package auth

import (
	"fmt"

	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "clerk":
		return NewClerkProvider(cfg.ClerkIssuer, s, cfg.SignupCredits)
	case "builtin", "":
		return NewService(s, cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
