package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/sitesmith/sitesmith/server/internal/billing"
)

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": s.billing.Plans()})
}

// handleWebhook returns the receiver for one payment provider. An empty
// provider means the configured default.
func (s *Server) handleWebhook(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		err = s.billing.HandleWebhook(r.Context(), provider, payload, r.Header)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		case errors.Is(err, billing.ErrInvalidSignature):
			writeError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, billing.ErrUnknownProvider):
			writeError(w, http.StatusNotFound, "unknown payment provider")
		case errors.Is(err, billing.ErrNotConfigured):
			s.logger.Error("webhook received but provider is not configured", "provider", provider, "error", err)
			writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		default:
			// Non-2xx makes the provider redeliver; processing is idempotent.
			s.logger.Error("webhook processing failed", "provider", provider, "error", err)
			writeError(w, http.StatusInternalServerError, "webhook processing failed")
		}
	}
}
