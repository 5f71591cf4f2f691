// Package ratelimit — relay flood koruması.
//
// İki limiter vardır:
//   - ConnLimiter: IP bazlı, sabit pencere içinde izin verilen websocket
//     bağlantı (upgrade) sayısı.
//   - FrameLimiter (frame_ratelimit.go): bağlantı bazlı frame limiti, aşımda
//     cooldown uygular.
//
// Sayaçlar in-memory tutulur; relay tek instance olarak çalışır. Arka planda
// çalışan cleanup goroutine'i süresi dolmuş bucket'ları siler, Stop ile durur.
//
// pkg/ratelimit hiçbir proje içi pakete bağımlı değildir (leaf dependency).
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// bucket, bir anahtar (IP) için istek sayacı ve pencere başlangıcı.
type bucket struct {
	count       int
	windowStart time.Time
}

// ConnLimiter, IP bazlı bağlantı limiti.
//
//	limiter := NewConnLimiter(30, time.Minute)
//	if !limiter.Allow(ip) { return 429 }
type ConnLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewConnLimiter, limiter oluşturur ve cleanup goroutine'ini başlatır.
// maxAttempts <= 0 ise limiter her isteğe izin verir.
func NewConnLimiter(maxAttempts int, window time.Duration) *ConnLimiter {
	rl := &ConnLimiter{
		buckets:     make(map[string]*bucket),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow, ip için yeni bir bağlantıya izin verilip verilmediğini döner.
// Her çağrı sayacı artırır.
func (rl *ConnLimiter) Allow(ip string) bool {
	if rl.maxAttempts <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[ip]
	if !exists {
		rl.buckets[ip] = &bucket{count: 1, windowStart: now}
		return true
	}

	if now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	return b.count <= rl.maxAttempts
}

// RetryAfterSeconds, limit aşıldığında kalan bekleme süresi (Retry-After).
func (rl *ConnLimiter) RetryAfterSeconds(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[ip]
	if !exists {
		return 0
	}

	remaining := rl.window - rl.now().Sub(b.windowStart)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Stop, cleanup goroutine'ini durdurur.
func (rl *ConnLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *ConnLimiter) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *ConnLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, b := range rl.buckets {
		if now.Sub(b.windowStart) > rl.window {
			delete(rl.buckets, ip)
		}
	}
}

// ExtractIP, HTTP request'ten client IP adresini çıkarır.
//
// Öncelik sırası:
//  1. X-Forwarded-For header (reverse proxy arkasındaysa, ilk IP)
//  2. X-Real-IP header
//  3. RemoteAddr (doğrudan bağlantı)
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FormatRetryMessage, kalan süreyi okunabilir formata çevirir.
// Örn: 120 → "2 minute(s)", 45 → "45 second(s)"
func FormatRetryMessage(seconds int) string {
	if seconds >= 60 {
		return fmt.Sprintf("%d minute(s)", seconds/60)
	}
	return fmt.Sprintf("%d second(s)", seconds)
}
