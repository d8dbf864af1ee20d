package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/events"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123456789abcdef0123456789abcdef")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("PADDLE_API_KEY", "")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Auth.InitialAdmin = &config.InitialAdmin{Email: "root@example.com", Password: "rootpassword"}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	a, err := New(cfg, events.New(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a, logs
}

func TestNewServesAPI(t *testing.T) {
	a, logs := newTestApp(t)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("readyz = %d %s", w.Code, w.Body.String())
	}

	body := strings.NewReader(`{"email":"root@example.com","password":"rootpassword"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in/email", body)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bootstrapped admin sign-in = %d %s", w.Code, w.Body.String())
	}

	if !strings.Contains(logs.String(), "credit purchases are disabled") {
		t.Error("missing warning about unconfigured payment provider")
	}
}

func TestPurge(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	admin, err := a.store.GetUserByEmail(ctx, "root@example.com")
	if err != nil || admin == nil {
		t.Fatalf("admin not bootstrapped: %v", err)
	}
	now := time.Now()
	for id, exp := range map[string]time.Time{"old": now.Add(-time.Hour), "live": now.Add(time.Hour)} {
		err := a.store.CreateAuthSession(ctx, &store.AuthSession{ID: id, UserID: admin.ID, ExpiresAt: exp, CreatedAt: now.Add(-2 * time.Hour)})
		if err != nil {
			t.Fatalf("CreateAuthSession: %v", err)
		}
	}

	a.purge(ctx, now)

	if s, _ := a.store.GetAuthSession(ctx, "old"); s != nil {
		t.Error("expired session survived purge")
	}
	if s, _ := a.store.GetAuthSession(ctx, "live"); s == nil {
		t.Error("live session was purged")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
