package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"accounts-service/internal/observability"
)

// ResetTokenReaper clears password-reset tokens whose expiry has passed.
type ResetTokenReaper interface {
	ClearExpiredResetTokens(ctx context.Context, batchSize int) (int64, error)
}

// CleanupHandler is invoked by an external cron with a shared bearer
// secret. With no secret configured the endpoint pretends not to exist.
type CleanupHandler struct {
	reaper     ResetTokenReaper
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewCleanupHandler(reaper ResetTokenReaper, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		reaper:     reaper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cleared, err := h.reaper.ClearExpiredResetTokens(r.Context(), h.batchSize)
	if err != nil {
		h.logger.Error("reset_token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("reset_token_cleanup_completed", map[string]any{
		"cleared_reset_tokens": cleared,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"cleared_reset_tokens": cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
