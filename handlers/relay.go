// Package handlers, relay'in HTTP endpoint'lerini içerir.
//
// RelayHandler, auth gerektirmeyen durum endpoint'lerini yönetir:
// sağlık kontrolü ve aktif oda listesi. Frame trafiği /ws üzerinden
// ws paketinde işlenir.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/ws"
)

// RoomDirectory, handler'ın hub'dan ihtiyaç duyduğu okuma metotları.
type RoomDirectory interface {
	Rooms() []ws.RoomInfo
	Room(name string) (ws.RoomInfo, bool)
	PeerCount() int
}

// HealthResponse, GET /api/health yanıtı.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Peers   int    `json:"peers"`
	Rooms   int    `json:"rooms"`
	Uptime  string `json:"uptime"`
}

// RelayHandler, relay durum endpoint'leri.
type RelayHandler struct {
	rooms   RoomDirectory
	started time.Time
}

// NewRelayHandler, constructor. main.go'da wire-up edilir.
func NewRelayHandler(rooms RoomDirectory) *RelayHandler {
	return &RelayHandler{rooms: rooms, started: time.Now()}
}

// Health, relay'in ayakta olduğunu ve bağlı peer sayısını döner.
//
// GET /api/health
// Response: { "success": true, "data": { "status": "ok", "peers": 3, ... } }
func (h *RelayHandler) Health(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "meshchat-relay",
		Peers:   h.rooms.PeerCount(),
		Rooms:   len(h.rooms.Rooms()),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// ListRooms, en az bir peer'ı olan odaları isim sırasıyla döner.
//
// GET /api/rooms
func (h *RelayHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, h.rooms.Rooms())
}

// GetRoom, tek bir odanın peer sayısını döner.
//
// GET /api/rooms/{room}
func (h *RelayHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("room")
	room, ok := h.rooms.Room(name)
	if !ok {
		pkg.Error(w, fmt.Errorf("%w: room %q has no peers", pkg.ErrNotFound, name))
		return
	}
	pkg.JSON(w, http.StatusOK, room)
}
