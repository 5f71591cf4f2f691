// Package main — Hub ve rate limiter başlatma.
package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/config"
	"github.com/akinalp/meshchat/pkg/ratelimit"
	"github.com/akinalp/meshchat/ws"
)

// RateLimiters, relay'in rate limiter instance'larını tutan container.
type RateLimiters struct {
	Conn  *ratelimit.ConnLimiter
	Frame *ratelimit.FrameLimiter
}

// Stop, limiter'ların cleanup goroutine'lerini durdurur.
func (l *RateLimiters) Stop() {
	l.Conn.Stop()
	l.Frame.Stop()
}

func initRateLimiters(cfg *config.Config) *RateLimiters {
	return &RateLimiters{
		Conn: ratelimit.NewConnLimiter(cfg.RateLimit.ConnPerMinute, time.Minute),
		Frame: ratelimit.NewFrameLimiter(
			cfg.RateLimit.FramesPerWindow,
			cfg.RateLimit.FrameWindow,
			cfg.RateLimit.FrameCooldown,
		),
	}
}

// initHub, relay metriklerini reg'e kaydeder ve Hub'ı oluşturur.
// Run çağrısı main'dedir.
func initHub(reg prometheus.Registerer, limiters *RateLimiters, log *zap.Logger) *ws.Hub {
	return ws.NewHub(ws.NewMetrics(reg), limiters.Frame, log)
}
