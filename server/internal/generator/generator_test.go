package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestOpenAIGenerate(t *testing.T) {
	var got openai.ChatCompletionRequest
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` +
			"```html\\n<html><body>Bakery</body></html>\\n```" + `"}}]}`))
	})

	res, err := g.Generate(context.Background(), Request{Prompt: "a bakery landing page"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != "<html><body>Bakery</body></html>" {
		t.Errorf("code = %q", res.Code)
	}
	if !strings.HasPrefix(res.Description, "Initial version:") {
		t.Errorf("description = %q", res.Description)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 || got.Messages[1].Content != "a bakery landing page" {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAIRevisionSendsCurrentCode(t *testing.T) {
	var got openai.ChatCompletionRequest
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<html>blue</html>"}}]}`))
	})

	res, err := g.Generate(context.Background(), Request{Prompt: "make it blue", CurrentCode: "<html>red</html>"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Description, "Revision:") {
		t.Errorf("description = %q", res.Description)
	}
	if len(got.Messages) != 3 || !strings.Contains(got.Messages[1].Content, "<html>red</html>") {
		t.Errorf("revision messages = %+v", got.Messages)
	}
}

func TestOpenAIErrors(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	})
	_, err := g.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected upstream message in error, got %v", err)
	}

	empty := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	if _, err := empty.Generate(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}

	if _, err := empty.Generate(context.Background(), Request{Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", err)
	}

	if _, err := NewOpenAI(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<html></html>", "<html></html>"},
		{"```html\n<html></html>\n```", "<html></html>"},
		{"```\n<p>x</p>```", "<p>x</p>"},
		{"  \n<p>padded</p>\n  ", "<p>padded</p>"},
		{"```", ""},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDescribeKeepsUTF8(t *testing.T) {
	long := describe(Request{Prompt: strings.Repeat("é", 100) + " " + strings.Repeat("日本", 40)})
	if !utf8.ValidString(long) {
		t.Fatalf("description is not valid UTF-8: %q", long)
	}
	if n := utf8.RuneCountInString(strings.TrimPrefix(long, "Initial version: ")); n != 120 {
		t.Errorf("prompt part = %d runes, want 120", n)
	}
	if !strings.HasSuffix(long, "...") {
		t.Errorf("description = %q, want ellipsis", long)
	}

	short := describe(Request{Prompt: "café", CurrentCode: "<p></p>"})
	if short != "Revision: café" {
		t.Errorf("describe = %q", short)
	}

	res, err := NewStatic().Generate(context.Background(), Request{Prompt: strings.Repeat("ü", 80)})
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(res.Code) {
		t.Error("static page title cut inside a rune")
	}
}

func TestStatic(t *testing.T) {
	g := NewStatic()
	res, err := g.Generate(context.Background(), Request{Prompt: "Joe's <Bakery>. Fresh bread daily"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Code, "<title>Joe&#39;s &lt;Bakery&gt;</title>") {
		t.Errorf("title not escaped or truncated: %s", res.Code)
	}
	if _, err := g.Generate(context.Background(), Request{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, Request{Prompt: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNew(t *testing.T) {
	g, err := New(config.GeneratorConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(*Static); !ok {
		t.Errorf("default generator = %T", g)
	}
	if _, err := New(config.GeneratorConfig{Provider: "openai"}, nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := New(config.GeneratorConfig{Provider: "magic"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
