package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/auth"
	"github.com/ukydev/hems-dispatch/internal/middleware"
)

// KeyHandler issues plugin API keys
type KeyHandler struct {
	authService *auth.Service
}

// NewKeyHandler creates a new API key handler
func NewKeyHandler(authService *auth.Service) *KeyHandler {
	return &KeyHandler{authService: authService}
}

type issueKeyRequest struct {
	Label string `json:"label"`
}

type issueKeyResponse struct {
	APIKey    string    `json:"api_key"`
	KeyID     string    `json:"key_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue mints a key for the caller. The plaintext is returned once.
func (h *KeyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	if claims.APIKeyID != "" {
		http.Error(w, "API keys cannot mint other keys", http.StatusForbidden)
		return
	}
	var req issueKeyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = "simulator"
	}

	raw, key, err := h.authService.IssueAPIKey(r.Context(), *claims, label)
	if err != nil {
		logrus.WithError(err).WithField("user_id", claims.UserID).Error("Failed to issue API key")
		http.Error(w, "Failed to issue API key", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, issueKeyResponse{
		APIKey:    raw,
		KeyID:     key.KeyID,
		Label:     key.Label,
		CreatedAt: key.CreatedAt,
	})
}
