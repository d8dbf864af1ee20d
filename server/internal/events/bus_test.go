package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestPublishScopedToUser(t *testing.T) {
	b := New()
	defer b.Close()

	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")
	all := b.Subscribe("")

	b.PublishUser("alice", CreditsUpdated, map[string]int{"credits": 120})

	e := receive(t, alice)
	if e.Type != CreditsUpdated {
		t.Errorf("type = %q", e.Type)
	}
	var data map[string]int
	if err := json.Unmarshal(e.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["credits"] != 120 {
		t.Errorf("credits = %d", data["credits"])
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	receive(t, all)
	assertEmpty(t, bob)
}

func TestSubscribeTypeFilter(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe("alice", PurchaseCompleted)
	b.PublishUser("alice", CreditsUpdated, nil)
	b.PublishUser("alice", PurchaseCompleted, nil)

	if e := receive(t, ch); e.Type != PurchaseCompleted {
		t.Errorf("type = %q", e.Type)
	}
	assertEmpty(t, ch)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe("alice")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.PublishUser("alice", CreditsUpdated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer holds %d events, want %d", len(ch), cap(ch))
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe("alice")
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", b.Subscribers())
	}

	b.Unsubscribe(ch)
	b.Unsubscribe(ch) // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d", b.Subscribers())
	}
	b.PublishUser("alice", CreditsUpdated, nil)
}

func TestSlogHandler(t *testing.T) {
	b := New()
	defer b.Close()
	admin := b.Subscribe("", LogEntry)
	user := b.Subscribe("alice")

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(slog.NewJSONHandler(&buf, nil), b, slog.LevelWarn))
	logger = logger.With("component", "billing")

	logger.Info("checkout created")
	assertEmpty(t, admin)

	logger.Error("webhook failed", "error", errors.New("db down"))
	e := receive(t, admin)

	var entry map[string]any
	if err := json.Unmarshal(e.Data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "webhook failed" || entry["component"] != "billing" || entry["error"] != "db down" {
		t.Errorf("entry = %v", entry)
	}
	assertEmpty(t, user)

	if !bytes.Contains(buf.Bytes(), []byte("checkout created")) {
		t.Error("inner handler did not receive the info record")
	}
}
