package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitesmith/sitesmith/server/internal/billing"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	user, err := s.store.GetUserByID(r.Context(), identity.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	credits, err := s.store.GetCredits(r.Context(), identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("get credits", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get credits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	limit, offset := pagination(r, 50, 200)
	txs, err := s.store.ListCreditTransactions(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		s.logger.Error("list credit transactions", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []store.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	purchases, err := s.store.ListPurchasesByUser(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("list purchases", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list purchases")
		return
	}
	if purchases == nil {
		purchases = []store.Purchase{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

// handleGetPurchase lets the success page poll until the webhook has
// settled the checkout session.
func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	p, err := s.store.GetPurchase(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.logger.Error("get purchase", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get purchase")
		return
	}
	if p == nil || p.UserID != identity.UserID {
		writeError(w, http.StatusNotFound, "purchase not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": p})
}

func (s *Server) handlePurchaseCredits(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	var req struct {
		PlanID string `json:"planId"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "planId is required")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), identity.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	co, err := s.billing.PurchaseCredits(r.Context(), user, req.PlanID)
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		writeError(w, http.StatusBadRequest, "plan not found")
		return
	case errors.Is(err, billing.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "payments are not available")
		return
	case err != nil:
		// Details are logged by the billing service.
		writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_link": co.URL})
}
