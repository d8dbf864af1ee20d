package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

func runWizard(t *testing.T, answers ...string) (*config.Config, string) {
	t.Helper()
	input := strings.Join(answers, "\n") + "\n"
	out := &bytes.Buffer{}
	p := &Prompter{In: strings.NewReader(input), Out: out}

	path := filepath.Join(t.TempDir(), "sitesmith.json")
	if err := New(p).Run(path); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return readConfig(t, path), out.String()
}

func readConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	return &cfg
}

func TestWizard_SQLiteStripe(t *testing.T) {
	cfg, out := runWizard(t,
		":4000",                   // listen address
		"1",                       // development
		"https://app.example.com", // client origin
		"owner@example.com",       // admin email
		"hunter2hunter2",          // admin password
		"50",                      // signup credits
		"1",                       // sqlite
		"./data/site.db",          // sqlite path
		"1",                       // stripe
		"sk_test_123",             // stripe key
		"whsec_123",               // webhook secret
		"",                        // project cost default
		"",                        // no openai key
		"n",                       // no postmark
	)

	if cfg.Server.Addr != ":4000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Auth.Secret) < 32 {
		t.Errorf("auth.secret length = %d, want >= 32", len(cfg.Auth.Secret))
	}
	if cfg.Auth.InitialAdmin == nil || cfg.Auth.InitialAdmin.Email != "owner@example.com" || cfg.Auth.InitialAdmin.Password != "hunter2hunter2" {
		t.Errorf("initial admin = %+v", cfg.Auth.InitialAdmin)
	}
	if cfg.Auth.SignupCredits != 50 {
		t.Errorf("signup credits = %d, want 50", cfg.Auth.SignupCredits)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "./data/site.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Billing.Provider != "stripe" || cfg.Billing.StripeSecretKey != "sk_test_123" || cfg.Billing.StripeWebhookSecret != "whsec_123" {
		t.Errorf("billing = %+v", cfg.Billing)
	}
	if cfg.Billing.ProjectCost != 5 {
		t.Errorf("project cost = %d, want 5", cfg.Billing.ProjectCost)
	}
	if cfg.Generator.Provider != "static" || cfg.Mail.Provider != "log" {
		t.Errorf("generator = %q, mail = %q", cfg.Generator.Provider, cfg.Mail.Provider)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}
	if !strings.Contains(out, "/api/stripe") {
		t.Error("next steps should name the stripe webhook route")
	}
}

func TestWizard_PostgresPaddle(t *testing.T) {
	cfg, _ := runWizard(t,
		"",                                 // default address
		"production",                       // chosen by name
		"",                                 // default origin
		"ops@example.com",                  // admin email
		"short",                            // rejected
		"longenoughpassword",               // accepted
		"",                                 // signup credits default
		"2",                                // postgres
		"postgres://u:p@db:5432/sitesmith", // dsn
		"2",                                // paddle
		"pdl_key",                          // api key
		"pdl_secret",                       // notification secret
		"",                                 // sandbox default
		"10",                               // project cost
		"sk-openai",                        // openai key
		"",                                 // default model
		"y",                                // postmark
		"pm-token",                         // server token
		"",                                 // default sender
	)

	if cfg.Server.Addr != ":3000" || cfg.Server.Environment != "production" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Auth.InitialAdmin.Password != "longenoughpassword" {
		t.Errorf("password = %q, short answer should be re-asked", cfg.Auth.InitialAdmin.Password)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u:p@db:5432/sitesmith" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Billing.Provider != "paddle" || cfg.Billing.PaddleAPIKey != "pdl_key" || cfg.Billing.PaddleEnvironment != "sandbox" {
		t.Errorf("billing = %+v", cfg.Billing)
	}
	if cfg.Billing.ProjectCost != 10 {
		t.Errorf("project cost = %d", cfg.Billing.ProjectCost)
	}
	if cfg.Generator.Provider != "openai" || cfg.Generator.Model != "gpt-4o-mini" {
		t.Errorf("generator = %+v", cfg.Generator)
	}
	if cfg.Mail.Provider != "postmark" || cfg.Mail.PostmarkServerToken != "pm-token" || cfg.Mail.From != "billing@sitesmith.dev" {
		t.Errorf("mail = %+v", cfg.Mail)
	}
}

func TestWizard_OutputLoads(t *testing.T) {
	input := strings.Join([]string{"", "", "", "admin@example.com", "password123"}, "\n") + "\n"
	path := filepath.Join(t.TempDir(), "sitesmith.json")
	p := &Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
	if err := New(p).Run(path); err != nil {
		t.Fatalf("Run: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Storage.DSN != "sitesmith.db" || cfg.Billing.Provider != "stripe" {
		t.Errorf("defaults not applied: storage=%+v provider=%q", cfg.Storage, cfg.Billing.Provider)
	}
}

func TestRunDefaults(t *testing.T) {
	t.Setenv("SITESMITH_ADDR", ":8081")
	t.Setenv("SITESMITH_ADMIN_EMAIL", "root@example.com")
	t.Setenv("SITESMITH_ADMIN_PASSWORD", "")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "/tmp/site.db")
	t.Setenv("BILLING_PROVIDER", "paddle")
	t.Setenv("SIGNUP_CREDITS", "7")

	out := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "sitesmith.json")
	if err := New(&Prompter{In: strings.NewReader(""), Out: out}).RunDefaults(path); err != nil {
		t.Fatalf("RunDefaults: %v", err)
	}

	cfg := readConfig(t, path)
	if cfg.Server.Addr != ":8081" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.InitialAdmin.Email != "root@example.com" || len(cfg.Auth.InitialAdmin.Password) < 8 {
		t.Errorf("initial admin = %+v", cfg.Auth.InitialAdmin)
	}
	if cfg.Auth.SignupCredits != 7 || cfg.Billing.Provider != "paddle" {
		t.Errorf("signup=%d provider=%q", cfg.Auth.SignupCredits, cfg.Billing.Provider)
	}
	if cfg.Storage.DSN != "/tmp/site.db" {
		t.Errorf("dsn = %q", cfg.Storage.DSN)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output %q should name the config path", out.String())
	}
}

func TestRunDefaults_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	path := filepath.Join(t.TempDir(), "sitesmith.json")
	err := New(&Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}).RunDefaults(path)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v, want DATABASE_URL error", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("no config should be written on error")
	}
}
