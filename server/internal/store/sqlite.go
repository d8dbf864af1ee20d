package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Every in-memory store gets its own named database so tests don't share state.
	if dsn == ":memory:" {
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer. A single connection serializes credit updates
	// and keeps PRAGMAs applied to every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id) WHERE external_id <> ''`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires_at ON auth_sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			delta INTEGER NOT NULL,
			balance INTEGER NOT NULL,
			reason TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plan_id TEXT NOT NULL,
			credits INTEGER NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			provider TEXT NOT NULL,
			event_id TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (provider, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			initial_prompt TEXT NOT NULL DEFAULT '',
			current_code TEXT NOT NULL DEFAULT '',
			current_version_id TEXT NOT NULL DEFAULT '',
			is_published INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_published ON projects(is_published)`,
		`CREATE TABLE IF NOT EXISTS project_versions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			code TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_versions_project_id ON project_versions(project_id)`,
		`CREATE TABLE IF NOT EXISTS project_messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_messages_project_id ON project_messages(project_id)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

const userColumns = "id, email, name, external_id, password_hash, role, credits, created_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.ExternalID, &u.PasswordHash, &u.Role, &u.Credits, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Email, user.Name, user.ExternalID, user.PasswordHash, user.Role, user.Credits, user.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.getUser(ctx, "external_id = ?", externalID)
}

func (s *SQLiteStore) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// --- Auth sessions ---

func (s *SQLiteStore) CreateAuthSession(ctx context.Context, sess *AuthSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_sessions (id, user_id, ip, user_agent, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sess.ID, sess.UserID, sess.IP, sess.UserAgent, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetAuthSession(ctx context.Context, id string) (*AuthSession, error) {
	var sess AuthSession
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, ip, user_agent, expires_at, created_at FROM auth_sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.UserID, &sess.IP, &sess.UserAgent, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &sess, err
}

func (s *SQLiteStore) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM auth_sessions WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) PurgeExpiredAuthSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM auth_sessions WHERE expires_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Credits ---

func (s *SQLiteStore) GetCredits(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return credits, err
}

func (s *SQLiteStore) RegisterUser(ctx context.Context, user *User, credits int, reason string) error {
	balance, err := s.inTx(ctx, func(tx *sql.Tx) (int, error) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			user.ID, user.Email, user.Name, user.ExternalID, user.PasswordHash, user.Role, 0, user.CreatedAt.UTC(),
		); err != nil {
			return 0, err
		}
		if credits <= 0 {
			return 0, nil
		}
		return s.adjustCredits(ctx, tx, user.ID, credits, reason, "")
	})
	if err != nil {
		return err
	}
	user.Credits = balance
	return nil
}

func (s *SQLiteStore) AddCredits(ctx context.Context, userID string, amount int, reason, reference string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.inTx(ctx, func(tx *sql.Tx) (int, error) {
		return s.adjustCredits(ctx, tx, userID, amount, reason, reference)
	})
}

func (s *SQLiteStore) ConsumeCredits(ctx context.Context, userID string, amount int, reason, reference string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.inTx(ctx, func(tx *sql.Tx) (int, error) {
		return s.adjustCredits(ctx, tx, userID, -amount, reason, reference)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) (int, error)) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := fn(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// adjustCredits applies delta to the user's balance and appends a ledger row.
// A debit only succeeds when the balance covers it.
func (s *SQLiteStore) adjustCredits(ctx context.Context, tx *sql.Tx, userID string, delta int, reason, reference string) (int, error) {
	var res sql.Result
	var err error
	if delta < 0 {
		res, err = tx.ExecContext(ctx,
			"UPDATE users SET credits = credits + ? WHERE id = ? AND credits >= ?", delta, userID, -delta)
	} else {
		res, err = tx.ExecContext(ctx, "UPDATE users SET credits = credits + ? WHERE id = ?", delta, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("update credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&one)
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrInsufficientCredits
	}

	var balance int
	if err := tx.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO credit_transactions (id, user_id, delta, balance, reason, reference, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		uuid.New().String(), userID, delta, balance, reason, reference, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert ledger row: %w", err)
	}
	return balance, nil
}

func (s *SQLiteStore) ListCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, delta, balance, reason, reference, created_at FROM credit_transactions
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []CreditTransaction
	for rows.Next() {
		var t CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.Balance, &t.Reason, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- Purchases ---

const purchaseColumns = "session_id, user_id, plan_id, credits, amount, currency, provider, status, created_at, updated_at"

func scanPurchase(row interface{ Scan(...any) error }) (*Purchase, error) {
	var p Purchase
	if err := row.Scan(&p.SessionID, &p.UserID, &p.PlanID, &p.Credits, &p.Amount, &p.Currency,
		&p.Provider, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) CreatePurchase(ctx context.Context, p *Purchase) error {
	if p.Status == "" {
		p.Status = PurchasePending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO purchases ("+purchaseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.SessionID, p.UserID, p.PlanID, p.Credits, p.Amount, p.Currency, p.Provider, p.Status,
		p.CreatedAt.UTC(), p.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) getPurchase(ctx context.Context, q querier, sessionID string) (*Purchase, error) {
	p, err := scanPurchase(q.QueryRowContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE session_id = ?", sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) GetPurchase(ctx context.Context, sessionID string) (*Purchase, error) {
	return s.getPurchase(ctx, s.db, sessionID)
}

func (s *SQLiteStore) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

// CompletePurchase marks the session paid and grants its credits in one
// transaction. Only the call that moves the row to "paid" grants; repeated or
// concurrent calls for the same session return Granted=false. When no pending
// row exists, p must carry user, plan and credits to create one.
func (s *SQLiteStore) CompletePurchase(ctx context.Context, p *Purchase) (*PurchaseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE purchases SET status = ?, updated_at = ? WHERE session_id = ? AND status <> ?",
		PurchasePaid, now, p.SessionID, PurchasePaid,
	)
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.getPurchase(ctx, tx, p.SessionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &PurchaseResult{Purchase: existing}, nil
		}
		if p.UserID == "" || p.PlanID == "" || p.Credits <= 0 {
			return nil, ErrNotFound
		}
		// The account may have been deleted since checkout.
		var one int
		err = tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", p.UserID).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check user: %w", err)
		}
		res, err = tx.ExecContext(ctx,
			"INSERT INTO purchases ("+purchaseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(session_id) DO NOTHING",
			p.SessionID, p.UserID, p.PlanID, p.Credits, p.Amount, p.Currency, p.Provider, PurchasePaid, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert purchase: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			existing, err := s.getPurchase(ctx, tx, p.SessionID)
			if err != nil {
				return nil, err
			}
			return &PurchaseResult{Purchase: existing}, nil
		}
	}

	purchase, err := s.getPurchase(ctx, tx, p.SessionID)
	if err != nil {
		return nil, err
	}
	balance, err := s.adjustCredits(ctx, tx, purchase.UserID, purchase.Credits, ReasonPurchase, purchase.SessionID)
	if err != nil {
		return nil, fmt.Errorf("grant credits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &PurchaseResult{Purchase: purchase, Granted: true, Balance: balance}, nil
}

// SetPurchaseStatus moves a pending purchase to status. It reports whether a row changed.
func (s *SQLiteStore) SetPurchaseStatus(ctx context.Context, sessionID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE purchases SET status = ?, updated_at = ? WHERE session_id = ? AND status = ?",
		status, time.Now().UTC(), sessionID, PurchasePending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Webhook events ---

func (s *SQLiteStore) WebhookEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM webhook_events WHERE provider = ? AND event_id = ?", provider, eventID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) RecordWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO webhook_events (provider, event_id, type, processed_at) VALUES (?, ?, ?, ?)",
		ev.Provider, ev.EventID, ev.Type, ev.ProcessedAt.UTC(),
	)
	return err
}

// --- Projects ---

const projectColumns = "id, user_id, name, initial_prompt, current_code, current_version_id, is_published, created_at, updated_at"

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.InitialPrompt, &p.CurrentCode, &p.CurrentVersionID,
		&p.Published, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.UserID, p.Name, p.InitialPrompt, p.CurrentCode, p.CurrentVersionID, p.Published,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) listProjects(ctx context.Context, where string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE "+where+" ORDER BY updated_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) ListProjectsByUser(ctx context.Context, userID string) ([]Project, error) {
	return s.listProjects(ctx, "user_id = ?", userID)
}

func (s *SQLiteStore) ListPublishedProjects(ctx context.Context) ([]Project, error) {
	return s.listProjects(ctx, "is_published = 1")
}

func (s *SQLiteStore) UpdateProjectCode(ctx context.Context, id, code, versionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE projects SET current_code = ?, current_version_id = ?, updated_at = ? WHERE id = ?",
		code, versionID, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStore) SetProjectPublished(ctx context.Context, id string, published bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE projects SET is_published = ?, updated_at = ? WHERE id = ?", published, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) AddProjectVersion(ctx context.Context, v *ProjectVersion) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO project_versions (id, project_id, code, description, created_at) VALUES (?, ?, ?, ?, ?)",
		v.ID, v.ProjectID, v.Code, v.Description, v.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetProjectVersion(ctx context.Context, id string) (*ProjectVersion, error) {
	var v ProjectVersion
	err := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, code, description, created_at FROM project_versions WHERE id = ?", id,
	).Scan(&v.ID, &v.ProjectID, &v.Code, &v.Description, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &v, err
}

func (s *SQLiteStore) ListProjectVersions(ctx context.Context, projectID string) ([]ProjectVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, code, description, created_at FROM project_versions WHERE project_id = ? ORDER BY created_at, rowid",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []ProjectVersion
	for rows.Next() {
		var v ProjectVersion
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Code, &v.Description, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) AppendProjectMessage(ctx context.Context, m *ProjectMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO project_messages (id, project_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.ProjectID, m.Role, m.Content, m.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListProjectMessages(ctx context.Context, projectID string) ([]ProjectMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, role, content, created_at FROM project_messages WHERE project_id = ? ORDER BY created_at, rowid",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []ProjectMessage
	for rows.Next() {
		var m ProjectMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Audit ---

func (s *SQLiteStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_events (id, action, user_id, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		event.ID, event.Action, event.UserID, string(event.Detail), event.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	var conds []string
	var args []any
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, user_id, detail, created_at FROM audit_events"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
