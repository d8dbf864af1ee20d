package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

const systemPrompt = `You are an expert web developer. Produce one complete, self-contained HTML
document that uses Tailwind CSS from its CDN for styling and inline JavaScript
only where needed. Respond with the HTML document only: no explanations, no
markdown fences.`

const revisionPrompt = `You are an expert web developer. You receive an existing HTML document and a
change request. Apply the change and return the complete updated HTML document
only: no explanations, no markdown fences.`

// Options configures the OpenAI-compatible chat completions client.
type Options struct {
	APIKey     string
	BaseURL    string // any OpenAI-compatible endpoint, default api.openai.com
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAI generates sites through an OpenAI-compatible chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI constructs a client with defaults for any unset option.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	cc := openai.DefaultConfig(opts.APIKey)
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		cc.BaseURL = base
	}
	if opts.HTTPClient != nil {
		cc.HTTPClient = opts.HTTPClient
	} else {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cc),
		model:  model,
		logger: logger.With("component", "generator", "model", model),
	}, nil
}

// Generate sends the prompt (and current code for revisions) and returns the
// HTML document from the first choice.
func (g *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
	}
	if req.IsRevision() {
		messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: revisionPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Current document:\n" + req.CurrentCode},
			{Role: openai.ChatMessageRoleUser, Content: "Change request: " + req.Prompt},
		}
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("chat completion failed (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	code := stripFences(resp.Choices[0].Message.Content)
	if code == "" {
		return nil, ErrEmptyResponse
	}

	g.logger.Debug("site generated", "revision", req.IsRevision(), "bytes", len(code), "duration", time.Since(start))
	return &Result{Code: code, Description: describe(req)}, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
