// Package api serves the relay's small REST surface for browser clients.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

// HistoryPath is the call history route.
const HistoryPath = "/api/calls/history"

type CallHistoryLister interface {
	ListCallHistory(ctx context.Context, accountID string) ([]store.CallHistoryEntry, error)
}

type HistoryConfig struct {
	// Verifier must yield an account id; in practice a *auth.JWTVerifier.
	Verifier auth.Verifier
	Calls    CallHistoryLister
	Logger   *slog.Logger
}

// HistoryHandler returns the authenticated account's calls, as caller or
// callee, newest first.
type HistoryHandler struct {
	verifier auth.Verifier
	calls    CallHistoryLister
	log      *slog.Logger
}

func NewHistoryHandler(cfg HistoryConfig) *HistoryHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HistoryHandler{verifier: cfg.Verifier, calls: cfg.Calls, log: cfg.Logger}
}

type errorBody struct {
	Msg string `json:"msg"`
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httpserver.WriteJSON(w, http.StatusMethodNotAllowed, errorBody{Msg: "Method not allowed"})
		return
	}

	token, err := auth.HeaderCredential(r)
	if err != nil {
		httpserver.WriteJSON(w, http.StatusUnauthorized, errorBody{Msg: "No token, authorization denied"})
		return
	}
	id, err := h.verifier.Verify(token)
	if err != nil || id.AccountID == "" {
		httpserver.WriteJSON(w, http.StatusUnauthorized, errorBody{Msg: "Invalid token"})
		return
	}

	entries, err := h.calls.ListCallHistory(r.Context(), id.AccountID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.log.Error("list call history", "account_id", id.AccountID, "err", err)
		}
		httpserver.WriteJSON(w, http.StatusInternalServerError, errorBody{Msg: "Server error"})
		return
	}
	if entries == nil {
		entries = []store.CallHistoryEntry{}
	}
	httpserver.WriteJSON(w, http.StatusOK, entries)
}
