package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/meshchat/ws"
)

type fakeRooms []ws.RoomInfo

func (f fakeRooms) Rooms() []ws.RoomInfo { return f }

func (f fakeRooms) Room(name string) (ws.RoomInfo, bool) {
	for _, r := range f {
		if r.Name == name {
			return r, true
		}
	}
	return ws.RoomInfo{}, false
}

func (f fakeRooms) PeerCount() int {
	n := 0
	for _, r := range f {
		n += r.Peers
	}
	return n
}

func serve(t *testing.T, h *RelayHandler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/rooms", h.ListRooms)
	mux.HandleFunc("GET /api/rooms/{room}", h.GetRoom)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestRelayHandler_Health(t *testing.T) {
	h := NewRelayHandler(fakeRooms{{Name: "a", Peers: 2}, {Name: "b", Peers: 1}})

	rec, body := serve(t, h, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.EqualValues(t, 3, data["peers"])
	assert.EqualValues(t, 2, data["rooms"])
}

func TestRelayHandler_Rooms(t *testing.T) {
	h := NewRelayHandler(fakeRooms{{Name: "team", Peers: 2}})

	rec, body := serve(t, h, "/api/rooms")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 1)

	rec, body = serve(t, h, "/api/rooms/team")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["data"].(map[string]any)["peers"])

	rec, body = serve(t, h, "/api/rooms/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}
