package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

func TestReceiptMessage(t *testing.T) {
	r := Receipt{
		To:        "alice@example.com",
		Name:      "Alice <script>",
		PlanName:  "Pro",
		Credits:   400,
		Balance:   420,
		Amount:    1900,
		Currency:  "usd",
		SessionID: "cs_test_123",
		Date:      time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
	msg, err := r.Message()
	if err != nil {
		t.Fatal(err)
	}
	if msg.To != "alice@example.com" || msg.Tag != "receipt" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Subject, "400 credits") {
		t.Errorf("subject = %q", msg.Subject)
	}
	for _, want := range []string{"19.00 USD", "March 4, 2026", "cs_test_123", "420 credits", "Alice &lt;script&gt;"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		500:  "5.00 EUR",
		1905: "19.05 EUR",
		-250: "-2.50 EUR",
		0:    "0.00 EUR",
	}
	for minor, want := range cases {
		if got := FormatAmount(minor, "eur"); got != want {
			t.Errorf("FormatAmount(%d) = %q, want %q", minor, got, want)
		}
	}
}

func TestLogSenderValidates(t *testing.T) {
	s := NewLogSender(nil)
	ctx := context.Background()

	if err := s.Send(ctx, Message{To: "alice@example.com", Subject: "hi", HTML: "<p>hi</p>"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(ctx, Message{To: "nope", Subject: "hi", HTML: "<p>hi</p>"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := s.Send(ctx, Message{To: "alice@example.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty body, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if s, err := New(config.MailConfig{}, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := s.(*LogSender); !ok {
		t.Errorf("default sender = %T, want *LogSender", s)
	}

	if _, err := New(config.MailConfig{Provider: "carrier-pigeon"}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(config.MailConfig{Provider: "postmark", From: "billing@example.com"}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without token, got %v", err)
	}
	if _, err := New(config.MailConfig{Provider: "postmark", PostmarkServerToken: "tok", From: "bad"}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad from, got %v", err)
	}
}

func newTestPostmark(t *testing.T, handler http.HandlerFunc) *PostmarkSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewPostmarkSender(config.MailConfig{
		PostmarkServerToken: "server-token",
		From:                "billing@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	p.client.BaseURL = srv.URL
	return p
}

func TestPostmarkSend(t *testing.T) {
	var got map[string]any
	p := newTestPostmark(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/email") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Postmark-Server-Token") != "server-token" {
			t.Errorf("missing server token header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"alice@example.com","MessageID":"abc","ErrorCode":0,"Message":"OK"}`))
	})

	err := p.Send(context.Background(), Message{To: "alice@example.com", Subject: "Receipt", Tag: "receipt", HTML: "<p>thanks</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["From"] != "billing@example.com" || got["ReplyTo"] != "billing@example.com" || got["Tag"] != "receipt" {
		t.Errorf("payload = %v", got)
	}
}

func TestPostmarkSendAPIError(t *testing.T) {
	p := newTestPostmark(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	})

	err := p.Send(context.Background(), Message{To: "alice@example.com", Subject: "Receipt", HTML: "<p>thanks</p>"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}
