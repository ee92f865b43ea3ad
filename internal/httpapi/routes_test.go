package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/hub"
	"github.com/DoyleJ11/cultist-backend/internal/lobby"
	"github.com/DoyleJ11/cultist-backend/internal/types"
	"github.com/DoyleJ11/cultist-backend/internal/ws"
)

func newTestAPI(t *testing.T) (*hub.Hub, http.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, hub.Options{Rules: engine.DefaultRules(), Logger: zap.NewNop()})
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, SetupRoutes(h, ws.Options{}, zap.NewNop())
}

func serve(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestCreateLobby_ReturnsCode(t *testing.T) {
	h, api := newTestAPI(t)

	rec := serve(api, http.MethodPost, "/lobbies")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Code, 6)

	_, err := h.Get(context.Background(), body.Code)
	assert.NoError(t, err)
}

func TestGetLobby_PublicStatusHasNoRoles(t *testing.T) {
	h, api := newTestAPI(t)
	ctx := context.Background()

	lb, err := h.Create(ctx)
	require.NoError(t, err)
	out := make(chan types.ServerMessage, 16)
	require.NoError(t, lb.Send(ctx, lobby.Connect{ClientID: "A", Outbox: out}))
	require.NoError(t, lb.Do(ctx, "A", engine.Command{Type: engine.CmdJoin, Name: "Ann"}))

	rec := serve(api, http.MethodGet, "/lobbies/"+lb.Code())
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "roles")

	var status LobbyStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, lb.Code(), status.Code)
	assert.Equal(t, 1, status.Clients)
	assert.Equal(t, engine.PhaseGathering, status.Session.State.Phase)
	require.Len(t, status.Roster, 1)
	assert.Equal(t, "Ann", status.Roster[0].Name)
}

func TestGetLobby_NotFound(t *testing.T) {
	_, api := newTestAPI(t)
	rec := serve(api, http.MethodGet, "/lobbies/NOPE00")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h, api := newTestAPI(t)
	_, err := h.Create(context.Background())
	require.NoError(t, err)

	rec := serve(api, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","lobbies":1}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	_, api := newTestAPI(t)
	assert.Equal(t, http.StatusNotFound, serve(api, http.MethodGet, "/nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(api, http.MethodDelete, "/lobbies").Code)
}
