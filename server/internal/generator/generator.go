// Package generator turns natural-language prompts into single-file websites.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

var (
	ErrEmptyPrompt   = errors.New("prompt is required")
	ErrEmptyResponse = errors.New("generator returned no code")
)

// Request asks for a new site (CurrentCode empty) or a revision of CurrentCode.
type Request struct {
	Prompt      string
	CurrentCode string
}

// IsRevision reports whether the request modifies existing code.
func (r Request) IsRevision() bool { return strings.TrimSpace(r.CurrentCode) != "" }

// Result is the generated page and a short summary of what changed.
type Result struct {
	Code        string
	Description string
}

// Generator produces website code.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// New returns the generator selected by cfg.Provider.
func New(cfg config.GeneratorConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(Options{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Duration,
			Logger:  logger,
		})
	case "static", "":
		return NewStatic(), nil
	default:
		return nil, fmt.Errorf("unknown generator provider: %q", cfg.Provider)
	}
}

func describe(req Request) string {
	prompt := truncate(strings.Join(strings.Fields(req.Prompt), " "), 120, "...")
	if req.IsRevision() {
		return "Revision: " + prompt
	}
	return "Initial version: " + prompt
}

// truncate shortens s to at most limit runes, ending with suffix when cut.
func truncate(s string, limit int, suffix string) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	keep := limit - len([]rune(suffix))
	if keep < 0 {
		keep = 0
	}
	return strings.TrimSpace(string(r[:keep])) + suffix
}
