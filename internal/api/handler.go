// Package api exposes the auction engine over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bidroom/auction-engine/internal/auction"
	"github.com/bidroom/auction-engine/internal/money"
)

// Handler serves the tournament auction endpoints.
type Handler struct {
	engine   *auction.Engine
	upgrader *websocket.Upgrader
}

// NewHandler creates a handler backed by engine. allowedOrigins lists the
// browser origins that may open event streams; "*" admits any.
func NewHandler(engine *auction.Engine, allowedOrigins []string) *Handler {
	return &Handler{engine: engine, upgrader: newUpgrader(allowedOrigins)}
}

// Routes mounts the request/response tournament endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/tournaments/{tournamentID}", func(r chi.Router) {
		r.Get("/auction", h.GetAuction)
		r.Post("/auction/start", h.StartAuction)
		r.Post("/auction/reset-timer", h.ResetTimer)
		r.Post("/bids", h.PlaceBid)
		r.Get("/bids", h.ListBids)
		r.Get("/squads", h.GetSquads)
		r.Get("/squads/{participantID}", h.GetSquad)
		r.Get("/ownership", h.ListOwnership)
		r.Post("/chat", h.PostChat)
		r.Get("/chat", h.ListChat)
	})
}

// StreamRoutes mounts the WebSocket event stream. It is kept apart from
// Routes so request timeouts are not applied to long-lived connections.
func (h *Handler) StreamRoutes(r chi.Router) {
	r.Get("/tournaments/{tournamentID}/ws", h.HandleWS)
}

// --- Request types ---

// OrganizerRequest is the JSON body for organizer-only actions.
type OrganizerRequest struct {
	RequestorID string `json:"requestor_id"`
}

// BidRequest is the JSON body for POST /bids.
type BidRequest struct {
	ParticipantID string       `json:"participant_id"`
	Amount        money.Amount `json:"amount"` // whole minor units, number or string
}

// ChatRequest is the JSON body for POST /chat.
type ChatRequest struct {
	ParticipantID string `json:"participant_id"`
	Text          string `json:"text"`
}

// --- Auction lifecycle ---

// GetAuction handles GET /tournaments/{tournamentID}/auction
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Snapshot(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// StartAuction handles POST /tournaments/{tournamentID}/auction/start
func (h *Handler) StartAuction(w http.ResponseWriter, r *http.Request) {
	var req OrganizerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RequestorID == "" {
		writeMessage(w, http.StatusBadRequest, "invalid_request", "requestor_id is required")
		return
	}

	st, err := h.engine.StartAuction(r.Context(), chi.URLParam(r, "tournamentID"), req.RequestorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// ResetTimer handles POST /tournaments/{tournamentID}/auction/reset-timer
func (h *Handler) ResetTimer(w http.ResponseWriter, r *http.Request) {
	var req OrganizerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RequestorID == "" {
		writeMessage(w, http.StatusBadRequest, "invalid_request", "requestor_id is required")
		return
	}

	st, err := h.engine.ResetTimer(r.Context(), chi.URLParam(r, "tournamentID"), req.RequestorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Bidding ---

// PlaceBid handles POST /tournaments/{tournamentID}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ParticipantID == "" {
		writeMessage(w, http.StatusBadRequest, "invalid_request", "participant_id is required")
		return
	}
	amount, err := req.Amount.Minor()
	if err != nil {
		// Fractional or non-positive amounts can never be a valid increment.
		writeMessage(w, http.StatusUnprocessableEntity, auction.Code(auction.ErrInvalidIncrement), err.Error())
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), chi.URLParam(r, "tournamentID"), req.ParticipantID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// ListBids handles GET /tournaments/{tournamentID}/bids
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.engine.Bids(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bids))
}

// GetSquads handles GET /tournaments/{tournamentID}/squads
func (h *Handler) GetSquads(w http.ResponseWriter, r *http.Request) {
	squads, err := h.engine.Squads(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, squads)
}

// GetSquad handles GET /tournaments/{tournamentID}/squads/{participantID}
func (h *Handler) GetSquad(w http.ResponseWriter, r *http.Request) {
	squad, err := h.engine.Squad(r.Context(), chi.URLParam(r, "tournamentID"), chi.URLParam(r, "participantID"))
	if errors.Is(err, auction.ErrNotParticipant) {
		writeMessage(w, http.StatusNotFound, auction.Code(err), err.Error())
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, squad)
}

// ListOwnership handles GET /tournaments/{tournamentID}/ownership
func (h *Handler) ListOwnership(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.Ownership(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// --- Chat ---

// PostChat handles POST /tournaments/{tournamentID}/chat
func (h *Handler) PostChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.engine.PostChat(r.Context(), chi.URLParam(r, "tournamentID"), req.ParticipantID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListChat handles GET /tournaments/{tournamentID}/chat
func (h *Handler) ListChat(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.engine.Chat(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

// --- Helpers ---

// maxBodySize caps request bodies; every request type is a few fields.
const maxBodySize = 16 << 10

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		msg := "invalid request body"
		if strings.HasPrefix(err.Error(), "money:") {
			msg = err.Error()
		}
		writeMessage(w, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}

// writeError maps an engine error to a status code and reason code.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch auction.KindOf(err) {
	case auction.KindValidation:
		status = http.StatusUnprocessableEntity
	case auction.KindState:
		switch {
		case errors.Is(err, auction.ErrNotAuthorized):
			status = http.StatusForbidden
		case errors.Is(err, auction.ErrTournamentNotFound):
			status = http.StatusNotFound
		default:
			status = http.StatusConflict
		}
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeMessage(w, status, auction.Code(err), msg)
}

func writeMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
