package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id) WHERE external_id <> ''`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires_at ON auth_sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			delta INTEGER NOT NULL,
			balance INTEGER NOT NULL,
			reason TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plan_id TEXT NOT NULL,
			credits INTEGER NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			provider TEXT NOT NULL,
			event_id TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (provider, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			initial_prompt TEXT NOT NULL DEFAULT '',
			current_code TEXT NOT NULL DEFAULT '',
			current_version_id TEXT NOT NULL DEFAULT '',
			is_published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_published ON projects(is_published) WHERE is_published`,
		`CREATE TABLE IF NOT EXISTS project_versions (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			code TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_versions_project_id ON project_versions(project_id)`,
		`CREATE TABLE IF NOT EXISTS project_messages (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_messages_project_id ON project_messages(project_id)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			detail JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		user.ID, user.Email, user.Name, user.ExternalID, user.PasswordHash, user.Role, user.Credits, user.CreatedAt,
	)
	return err
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id = $1", id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = $1", email)
}

func (s *PostgresStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.getUser(ctx, "external_id = $1", externalID)
}

func (s *PostgresStore) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at LIMIT $1 OFFSET $2", limit, offset)
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

func (s *PostgresStore) CreateAuthSession(ctx context.Context, sess *AuthSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_sessions (id, user_id, ip, user_agent, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		sess.ID, sess.UserID, sess.IP, sess.UserAgent, sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAuthSession(ctx context.Context, id string) (*AuthSession, error) {
	var sess AuthSession
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, ip, user_agent, expires_at, created_at FROM auth_sessions WHERE id = $1", id,
	).Scan(&sess.ID, &sess.UserID, &sess.IP, &sess.UserAgent, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &sess, err
}

func (s *PostgresStore) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM auth_sessions WHERE id = $1", id)
	return err
}

func (s *PostgresStore) PurgeExpiredAuthSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM auth_sessions WHERE expires_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Credits ---

func (s *PostgresStore) GetCredits(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = $1", userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return credits, err
}

func (s *PostgresStore) RegisterUser(ctx context.Context, user *User, credits int, reason string) error {
	balance, err := s.inTx(ctx, func(tx *sql.Tx) (int, error) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			user.ID, user.Email, user.Name, user.ExternalID, user.PasswordHash, user.Role, 0, user.CreatedAt,
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

func (s *PostgresStore) AddCredits(ctx context.Context, userID string, amount int, reason, reference string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.inTx(ctx, func(tx *sql.Tx) (int, error) {
		return s.adjustCredits(ctx, tx, userID, amount, reason, reference)
	})
}

func (s *PostgresStore) ConsumeCredits(ctx context.Context, userID string, amount int, reason, reference string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.inTx(ctx, func(tx *sql.Tx) (int, error) {
		return s.adjustCredits(ctx, tx, userID, -amount, reason, reference)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) (int, error)) (int, error) {
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

// adjustCredits applies delta under the row lock taken by UPDATE and appends
// a ledger row. RETURNING gives the balance this transaction produced.
func (s *PostgresStore) adjustCredits(ctx context.Context, tx *sql.Tx, userID string, delta int, reason, reference string) (int, error) {
	var balance int
	var err error
	if delta < 0 {
		err = tx.QueryRowContext(ctx,
			"UPDATE users SET credits = credits + $1 WHERE id = $2 AND credits >= $3 RETURNING credits",
			delta, userID, -delta,
		).Scan(&balance)
	} else {
		err = tx.QueryRowContext(ctx,
			"UPDATE users SET credits = credits + $1 WHERE id = $2 RETURNING credits", delta, userID,
		).Scan(&balance)
	}
	if err == sql.ErrNoRows {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = $1", userID).Scan(&one)
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("update credits: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO credit_transactions (id, user_id, delta, balance, reason, reference, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		uuid.New().String(), userID, delta, balance, reason, reference, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert ledger row: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) ListCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, delta, balance, reason, reference, created_at FROM credit_transactions
		 WHERE user_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
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

func (s *PostgresStore) CreatePurchase(ctx context.Context, p *Purchase) error {
	if p.Status == "" {
		p.Status = PurchasePending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO purchases ("+purchaseColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		p.SessionID, p.UserID, p.PlanID, p.Credits, p.Amount, p.Currency, p.Provider, p.Status,
		p.CreatedAt, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) getPurchase(ctx context.Context, q querier, sessionID string) (*Purchase, error) {
	p, err := scanPurchase(q.QueryRowContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE session_id = $1", sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) GetPurchase(ctx context.Context, sessionID string) (*Purchase, error) {
	return s.getPurchase(ctx, s.db, sessionID)
}

func (s *PostgresStore) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE user_id = $1 ORDER BY created_at DESC", userID)
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
// transaction. The conditional UPDATE holds the purchase row lock, so a
// concurrent delivery blocks until commit and then matches zero rows.
func (s *PostgresStore) CompletePurchase(ctx context.Context, p *Purchase) (*PurchaseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	purchase, err := scanPurchase(tx.QueryRowContext(ctx,
		`UPDATE purchases SET status = $1, updated_at = $2 WHERE session_id = $3 AND status <> $1
		 RETURNING `+purchaseColumns,
		PurchasePaid, now, p.SessionID,
	))
	if err == sql.ErrNoRows {
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
		err = tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = $1", p.UserID).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check user: %w", err)
		}
		purchase, err = scanPurchase(tx.QueryRowContext(ctx,
			`INSERT INTO purchases (`+purchaseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			 ON CONFLICT (session_id) DO NOTHING RETURNING `+purchaseColumns,
			p.SessionID, p.UserID, p.PlanID, p.Credits, p.Amount, p.Currency, p.Provider, PurchasePaid, now,
		))
		if err == sql.ErrNoRows {
			existing, err := s.getPurchase(ctx, tx, p.SessionID)
			if err != nil {
				return nil, err
			}
			return &PurchaseResult{Purchase: existing}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("insert purchase: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
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
func (s *PostgresStore) SetPurchaseStatus(ctx context.Context, sessionID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE purchases SET status = $1, updated_at = $2 WHERE session_id = $3 AND status = $4",
		status, time.Now(), sessionID, PurchasePending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Webhook events ---

func (s *PostgresStore) WebhookEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM webhook_events WHERE provider = $1 AND event_id = $2", provider, eventID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *PostgresStore) RecordWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, event_id, type, processed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		ev.Provider, ev.EventID, ev.Type, ev.ProcessedAt,
	)
	return err
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects ("+projectColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		p.ID, p.UserID, p.Name, p.InitialPrompt, p.CurrentCode, p.CurrentVersionID, p.Published,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) listProjects(ctx context.Context, where string, args ...any) ([]Project, error) {
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

func (s *PostgresStore) ListProjectsByUser(ctx context.Context, userID string) ([]Project, error) {
	return s.listProjects(ctx, "user_id = $1", userID)
}

func (s *PostgresStore) ListPublishedProjects(ctx context.Context) ([]Project, error) {
	return s.listProjects(ctx, "is_published")
}

func (s *PostgresStore) UpdateProjectCode(ctx context.Context, id, code, versionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE projects SET current_code = $1, current_version_id = $2, updated_at = $3 WHERE id = $4",
		code, versionID, time.Now(), id,
	)
	return err
}

func (s *PostgresStore) SetProjectPublished(ctx context.Context, id string, published bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE projects SET is_published = $1, updated_at = $2 WHERE id = $3", published, time.Now(), id)
	return err
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = $1", id)
	return err
}

func (s *PostgresStore) AddProjectVersion(ctx context.Context, v *ProjectVersion) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO project_versions (id, project_id, code, description, created_at) VALUES ($1, $2, $3, $4, $5)",
		v.ID, v.ProjectID, v.Code, v.Description, v.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetProjectVersion(ctx context.Context, id string) (*ProjectVersion, error) {
	var v ProjectVersion
	err := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, code, description, created_at FROM project_versions WHERE id = $1", id,
	).Scan(&v.ID, &v.ProjectID, &v.Code, &v.Description, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &v, err
}

func (s *PostgresStore) ListProjectVersions(ctx context.Context, projectID string) ([]ProjectVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, code, description, created_at FROM project_versions WHERE project_id = $1 ORDER BY seq",
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

func (s *PostgresStore) AppendProjectMessage(ctx context.Context, m *ProjectMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO project_messages (id, project_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)",
		m.ID, m.ProjectID, m.Role, m.Content, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListProjectMessages(ctx context.Context, projectID string) ([]ProjectMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, role, content, created_at FROM project_messages WHERE project_id = $1 ORDER BY seq",
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

func (s *PostgresStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	var detail any
	if len(event.Detail) > 0 {
		detail = string(event.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_events (id, action, user_id, detail, created_at) VALUES ($1, $2, $3, $4, $5)",
		event.ID, event.Action, event.UserID, detail, event.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	var conds []string
	var args []any
	if filter.Action != "" {
		args = append(args, filter.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
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
		fmt.Sprintf("SELECT id, action, user_id, COALESCE(detail::text, ''), created_at FROM audit_events%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
			where, len(args)-1, len(args)),
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

func (s *PostgresStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
