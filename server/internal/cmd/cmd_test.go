package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sitesmith/sitesmith/server/internal/billing"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// envStore points configuration at a fresh SQLite file holding one user.
func envStore(t *testing.T, credits int) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("AUTH_SECRET", testSecret)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dsn)

	s, err := store.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	u := &store.User{ID: "u1", Email: "ada@example.com", Name: "Ada", Role: "user", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if credits > 0 {
		if _, err := s.AddCredits(ctx, u.ID, credits, store.ReasonSignup, ""); err != nil {
			t.Fatalf("AddCredits: %v", err)
		}
	}
	return dsn
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "sitesmith 1.2.3 ") {
		t.Errorf("output = %q", out)
	}
}

func TestResolveConfigPath(t *testing.T) {
	root := NewRootCmd("test")
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}

	if got := resolveConfigPath(run, []string{"pos.json"}); got != "pos.json" {
		t.Errorf("positional = %q", got)
	}
	if got := resolveConfigPath(run, nil); got != "" {
		t.Errorf("without flag or default file = %q, want empty", got)
	}
	if err := root.PersistentFlags().Set("config", "flag.json"); err != nil {
		t.Fatal(err)
	}
	if got := resolveConfigPath(run, nil); got != "flag.json" {
		t.Errorf("flag = %q", got)
	}
}

func TestRenderPlans(t *testing.T) {
	out := renderPlans(billing.NewCatalog(nil, "usd").List())
	for _, want := range []string{"ID", "CREDITS", "basic", "pro", "enterprise", "19.00 USD", "400"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestPlansCommand(t *testing.T) {
	t.Setenv("AUTH_SECRET", testSecret)
	out, err := execute(t, "plans")
	if err != nil {
		t.Fatalf("plans: %v", err)
	}
	if !strings.Contains(out, "Credit plans") || !strings.Contains(out, "costs 5 credits") {
		t.Errorf("output = %q", out)
	}
}

func TestCreditsGrant(t *testing.T) {
	dsn := envStore(t, 20)

	out, err := execute(t, "credits", "grant", "--email", "ada@example.com", "--amount", "15", "--reason", "goodwill")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !strings.Contains(out, "now has 35 credits") {
		t.Errorf("output = %q", out)
	}

	s, err := store.NewSQLite(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	txs, err := s.ListCreditTransactions(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(txs))
	}
	var found bool
	for _, tx := range txs {
		if tx.Reason == "goodwill" && tx.Delta == 15 && tx.Balance == 35 {
			found = true
		}
	}
	if !found {
		t.Errorf("grant row missing from ledger: %+v", txs)
	}
}

func TestCreditsGrantNegative(t *testing.T) {
	envStore(t, 10)

	if _, err := execute(t, "credits", "grant", "--email", "ada@example.com", "--amount", "-25"); err == nil {
		t.Fatal("removing more credits than the balance should fail")
	}
	out, err := execute(t, "credits", "grant", "--email", "ada@example.com", "--amount", "-4")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !strings.Contains(out, "now has 6 credits") {
		t.Errorf("output = %q", out)
	}
}

func TestCreditsErrors(t *testing.T) {
	envStore(t, 0)

	if _, err := execute(t, "credits", "grant", "--email", "nobody@example.com", "--amount", "5"); err == nil || !strings.Contains(err.Error(), "no user") {
		t.Errorf("unknown email err = %v", err)
	}
	if _, err := execute(t, "credits", "grant", "--email", "ada@example.com", "--amount", "0"); err == nil {
		t.Error("zero amount should be rejected")
	}
}

func TestCreditsShow(t *testing.T) {
	envStore(t, 20)

	out, err := execute(t, "credits", "show", "--email", "ada@example.com")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "ada@example.com: 20 credits") || !strings.Contains(out, "signup") {
		t.Errorf("output = %q", out)
	}
}
