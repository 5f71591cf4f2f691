// Package main — Handler katmanı başlatma.
//
// Handler'lar "thin" dir — sadece HTTP parse + hub okuma + response write.
package main

import (
	"github.com/akinalp/meshchat/handlers"
	"github.com/akinalp/meshchat/ws"
)

// Handlers, tüm handler instance'larını tutan container struct.
type Handlers struct {
	Relay *handlers.RelayHandler
	WS    *ws.Handler
}

// initHandlers, handler'ları hub ve bağlantı limiter'ı ile oluşturur.
func initHandlers(hub *ws.Hub, limiters *RateLimiters) *Handlers {
	return &Handlers{
		Relay: handlers.NewRelayHandler(hub),
		WS:    ws.NewHandler(hub, limiters.Conn),
	}
}
