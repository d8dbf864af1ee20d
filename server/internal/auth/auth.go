// Package auth provides authentication for the server: email/password
// accounts backed by revocable sessions, and Clerk-issued JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const minPasswordLength = 8

// Claims are carried by session tokens. The registered ID claim is the
// server-side session id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SignUpInput is the payload of an email sign-up.
type SignUpInput struct {
	Name      string
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// SignInInput is the payload of an email sign-in.
type SignInInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Session is the result of a successful sign-up or sign-in.
type Session struct {
	Token   string             `json:"token"`
	Session *store.AuthSession `json:"session"`
	User    *store.User        `json:"user"`
}

// Service handles builtin authentication.
// It implements Provider and LoginProvider.
type Service struct {
	store         store.Store
	secret        []byte
	expiry        time.Duration
	signupCredits int
	initialAdmin  *config.InitialAdmin
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:         s,
		secret:        []byte(cfg.Secret),
		expiry:        cfg.SessionExpiry.Duration,
		signupCredits: cfg.SignupCredits,
		initialAdmin:  cfg.InitialAdmin,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// SessionExpiry returns the lifetime of new sessions.
func (s *Service) SessionExpiry() time.Duration { return s.expiry }

// Bootstrap creates the initial admin user if configured and missing.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.BootstrapAdmin(ctx, s.initialAdmin)
}

// BootstrapAdmin creates the admin account described by admin unless a user
// with that email already exists.
func (s *Service) BootstrapAdmin(ctx context.Context, admin *config.InitialAdmin) error {
	if admin == nil {
		return nil
	}
	email := normalizeEmail(admin.Email)

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	name := admin.Name
	if name == "" {
		name = "Admin"
	}
	return s.store.CreateUser(ctx, &store.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    time.Now(),
	})
}

// SignUp creates an account, grants the signup credits and opens a session.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	email := normalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &store.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         "user",
		CreatedAt:    time.Now(),
	}
	if err := s.store.RegisterUser(ctx, user, s.signupCredits, store.ReasonSignup); err != nil {
		// Lost a race with a concurrent sign-up for the same email.
		if again, _ := s.store.GetUserByEmail(ctx, email); again != nil {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.openSession(ctx, user, in.IP, in.UserAgent)
}

// SignIn verifies the password and opens a new session.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (*Session, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.openSession(ctx, user, in.IP, in.UserAgent)
}

// SignOut revokes the session referenced by token. Invalid tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil
	}
	return s.store.DeleteAuthSession(ctx, claims.ID)
}

// ValidateToken checks the token signature and that its session is still
// live, then returns the identity of the session's user.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.GetAuthSession(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, ErrUnauthorized
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthorized
	}

	return &Identity{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		SessionID: sess.ID,
	}, nil
}

func (s *Service) openSession(ctx context.Context, user *store.User, ip, userAgent string) (*Session, error) {
	now := time.Now()
	sess := &store.AuthSession{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		IP:        ip,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.expiry),
		CreatedAt: now,
	}
	if err := s.store.CreateAuthSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, err := s.generateToken(user, sess)
	if err != nil {
		return nil, err
	}

	// Re-read so the returned user carries the post-signup balance.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil && fresh != nil {
		user = fresh
	}
	return &Session{Token: token, Session: sess, User: user}, nil
}

func (s *Service) generateToken(user *store.User, sess *store.AuthSession) (string, error) {
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        sess.ID,
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *Service) parseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
