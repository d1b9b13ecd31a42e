package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/duckmesh/dbchat/internal/auth"
	"github.com/duckmesh/dbchat/internal/chat"
)

const maxChatBodyBytes = 64 << 10

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request chatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	serveChat(deps, w, r, request)
}

func handleChatQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	serveChat(deps, w, r, chatRequest{
		Message:   values.Get("message"),
		SessionID: values.Get("session_id"),
		UserID:    values.Get("user_id"),
	})
}

// serveChat answers 200 for every processed message, including denied and
// failed ones; the outcome's success flag carries the result.
func serveChat(deps Dependencies, w http.ResponseWriter, r *http.Request, request chatRequest) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat processor is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleChatUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	message := strings.TrimSpace(request.Message)
	if message == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	outcome := deps.Chat.Process(r.Context(), chat.Request{
		Message:   message,
		SessionID: strings.TrimSpace(request.SessionID),
		UserID:    userFromRequest(r, request.UserID),
	})
	writeJSON(w, http.StatusOK, outcome)
}

// userFromRequest prefers the authenticated identity, then the X-User-ID
// header, then the value supplied by the client.
func userFromRequest(r *http.Request, fallback string) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.UserID) != "" {
			return identity.UserID
		}
	}
	if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
		return userID
	}
	return strings.TrimSpace(fallback)
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
