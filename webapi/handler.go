// Package webapi exposes the chat runner and session store over HTTP:
// a streaming chat endpoint, an out-of-band resolve endpoint for deferred
// transfers, and CRUD for persisted sessions.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	resolverx "github.com/CallejaJ/solana-ai/agent/resolver"
	sessionx "github.com/CallejaJ/solana-ai/agent/session"
)

// TurnRunner is the slice of the orchestrator the handlers need.
type TurnRunner interface {
	StartTurn(ctx context.Context, req contractx.ChatRequest) (<-chan contractx.StreamEvent, error)
	Resolve(ctx context.Context, inj contractx.Injection) (<-chan contractx.StreamEvent, error)
}

// TransferSettler signs and submits a deferred transfer server-side.
type TransferSettler interface {
	SignAndSend(ctx context.Context, req resolverx.SignRequest) (resolverx.Outcome, error)
}

type Handler struct {
	runner  TurnRunner
	settler TransferSettler
	store   sessionx.Store
}

func NewHandler(runner TurnRunner, settler TransferSettler, store sessionx.Store) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("turn runner is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	return &Handler{runner: runner, settler: settler, store: store}, nil
}

// Routes mounts every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/resolve", h.handleResolve)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.handleDeleteSession)
	return mux
}

type chatRequestDTO struct {
	SessionID     string              `json:"sessionId"`
	Messages      []contractx.Message `json:"messages"`
	WalletAddress string              `json:"walletAddress"`
	Network       string              `json:"network"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var dto chatRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	sessionID := strings.TrimSpace(dto.SessionID)
	if sessionID == "" {
		sessionID = sessionx.NewID()
	}

	events, err := h.runner.StartTurn(r.Context(), contractx.ChatRequest{
		SessionID:     sessionID,
		Messages:      dto.Messages,
		WalletAddress: dto.WalletAddress,
		Network:       contractx.ParseNetwork(dto.Network),
	})
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			badRequest(w, err.Error())
			return
		}
		internalError(w, err)
		return
	}

	w.Header().Set("X-Session-Id", sessionID)
	streamEvents(r.Context(), w, events)
}

// resolveRequestDTO carries either a client-produced outcome (output set)
// or the parameters for a server-side sign-and-send.
type resolveRequestDTO struct {
	SessionID  string          `json:"sessionId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Output     json.RawMessage `json:"output,omitempty"`

	WalletID      string  `json:"walletId,omitempty"`
	WalletAddress string  `json:"walletAddress,omitempty"`
	Recipient     string  `json:"recipient,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Network       string  `json:"network,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var dto resolveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(dto.SessionID) == "" || strings.TrimSpace(dto.ToolCallID) == "" {
		badRequest(w, "sessionId and toolCallId are required")
		return
	}

	output := dto.Output
	if len(output) == 0 {
		if h.settler == nil {
			badRequest(w, "output is required")
			return
		}
		outcome, err := h.settler.SignAndSend(r.Context(), resolverx.SignRequest{
			ToolCallID:    dto.ToolCallID,
			WalletID:      dto.WalletID,
			WalletAddress: dto.WalletAddress,
			Recipient:     dto.Recipient,
			AmountSOL:     dto.Amount,
			Network:       contractx.ParseNetwork(dto.Network),
		})
		if errors.Is(err, resolverx.ErrInFlight) {
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "in-flight"})
			return
		}
		if err != nil {
			internalError(w, err)
			return
		}
		raw, err := json.Marshal(outcome)
		if err != nil {
			internalError(w, err)
			return
		}
		output = raw
	}

	events, err := h.runner.Resolve(r.Context(), contractx.Injection{
		SessionID:  dto.SessionID,
		ToolCallID: dto.ToolCallID,
		ToolName:   dto.ToolName,
		Output:     output,
	})
	switch {
	case errors.Is(err, contractx.ErrTurnNotFound):
		// A late injection for a session whose turn already finished is an
		// idempotent no-op, same as a duplicate for the active turn.
		if _, getErr := h.store.Get(r.Context(), dto.SessionID); getErr == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "already-resolved"})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no active turn for session"})
		return
	case errors.Is(err, contractx.ErrNoPendingCall):
		// Duplicate or late injection: acknowledge without side effects.
		writeJSON(w, http.StatusOK, map[string]any{"status": "already-resolved"})
		return
	case err != nil:
		internalError(w, err)
		return
	}

	streamEvents(r.Context(), w, events)
}

type sessionSummaryDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	out := make([]sessionSummaryDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummaryDTO{
			ID:        s.ID,
			Title:     s.Title,
			UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]any{"id": sessionx.NewID()})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, sessionx.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("write json response")
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func internalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}
