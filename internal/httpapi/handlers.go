package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/hub"
	"github.com/DoyleJ11/cultist-backend/internal/roster"
)

// LobbyStatus is the public view of a lobby. Roles are never part of it.
type LobbyStatus struct {
	Code    string          `json:"code"`
	Clients int             `json:"clients"`
	Session engine.Status   `json:"session"`
	Roster  roster.Snapshot `json:"roster"`
}

func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, err := h.Create(r.Context())
		if err != nil {
			log.Error("failed to create lobby", zap.Error(err))
			http.Error(w, "failed to create lobby", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: lb.Code()})
	}
}

func GetLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, err := h.Get(r.Context(), chi.URLParam(r, "code"))
		if errors.Is(err, hub.ErrNotFound) {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}

		v, err := lb.State(r.Context())
		if err != nil {
			// Closed between lookup and query.
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		if v.Roster == nil {
			v.Roster = roster.Snapshot{}
		}
		writeJSON(w, http.StatusOK, LobbyStatus{
			Code:    lb.Code(),
			Clients: v.Clients,
			Session: v.Status,
			Roster:  v.Roster,
		})
	}
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.Count(r.Context())
		if err != nil {
			http.Error(w, "hub stopped", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Status  string `json:"status"`
			Lobbies int    `json:"lobbies"`
		}{Status: "ok", Lobbies: n})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
