package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/server/internal/auth"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"provider": s.authProvider.Name()})
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.login.SignUp(r.Context(), auth.SignUpInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	case err != nil:
		s.logger.Error("sign up failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	s.audit(r, "user.signup", sess.User.ID, nil)
	s.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse{Token: sess.Token, User: sess.User})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.login.SignIn(r.Context(), auth.SignInInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.audit(r, "login.failed", "", map[string]string{"email": req.Email})
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		s.logger.Error("sign in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	s.audit(r, "login.success", sess.User.ID, nil)
	s.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse{Token: sess.Token, User: sess.User})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := s.tokenFromRequest(r); token != "" {
		if err := s.login.SignOut(r.Context(), token); err != nil {
			s.logger.Warn("sign out failed", "error", err)
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetSession answers null for anonymous callers so the client can
// poll it without error handling.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identity := s.identify(r)
	if identity == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	user, err := s.store.GetUserByID(r.Context(), identity.UserID)
	if err != nil || user == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	var sess *store.AuthSession
	if identity.SessionID != "" {
		sess, _ = s.store.GetAuthSession(r.Context(), identity.SessionID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "user": user})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *auth.Session) {
	c := &http.Cookie{
		Name:     s.cookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	// The web client may live on another site; cross-site cookies need None.
	if s.secureCookie {
		c.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, c)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
	})
}

func (s *Server) audit(r *http.Request, action, userID string, detail any) {
	ev := &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			s.logger.Warn("audit detail", "action", action, "error", err)
		} else {
			ev.Detail = raw
		}
	}
	if err := s.store.LogAuditEvent(r.Context(), ev); err != nil {
		s.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}
