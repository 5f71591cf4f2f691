// Package main — HTTP route registration.
package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akinalp/meshchat/static"
)

// initRoutes, tüm endpoint'leri mux'a bağlar.
//
// Route sıralama kuralı: Literal path'ler parametrik path'lerden ÖNCE.
func initRoutes(mux *http.ServeMux, h *Handlers, reg *prometheus.Registry) {
	// Durum
	mux.HandleFunc("GET /api/health", h.Relay.Health)
	mux.HandleFunc("GET /api/rooms", h.Relay.ListRooms)
	mux.HandleFunc("GET /api/rooms/{room}", h.Relay.GetRoom)

	// Prometheus scrape endpoint'i (cmd/meshchat /relay-stats da okur)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// WebSocket — ?room=<workspace>&peer=<replica id>
	// Bağlantı limiti handler içinde uygulanır.
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)

	// Durum sayfası
	mux.Handle("GET /", http.FileServerFS(static.StatusFS()))
}
