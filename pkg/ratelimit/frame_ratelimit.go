// FrameLimiter — bağlantı bazlı frame limiti.
//
// ConnLimiter'dan farkı: limit aşıldığında pencere bitene kadar değil,
// ayrı bir cooldown süresi boyunca tüm frame'ler reddedilir. Relay bu
// sürede gelen frame'leri düşürür ve dropped metriğini artırır.
//
//	limiter := NewFrameLimiter(200, time.Second, 5*time.Second)
//	if !limiter.Allow(peerID) { drop }
package ratelimit

import (
	"sync"
	"time"
)

// frameBucket, bir bağlantı için frame sayacı ve cooldown bilgisi.
type frameBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero value = cooldown yok
}

// FrameLimiter, bağlantı bazlı frame flood koruması.
type FrameLimiter struct {
	mu        sync.RWMutex
	buckets   map[string]*frameBucket
	maxFrames int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewFrameLimiter, limiter oluşturur ve cleanup goroutine'ini başlatır.
// maxFrames <= 0 ise limiter her frame'e izin verir.
func NewFrameLimiter(maxFrames int, window, cooldown time.Duration) *FrameLimiter {
	rl := &FrameLimiter{
		buckets:     make(map[string]*frameBucket),
		maxFrames:   maxFrames,
		window:      window,
		cooldown:    cooldown,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow, key için bir frame daha kabul edilip edilmeyeceğini döner.
//
// Akış:
//  1. Cooldown'daysa → reject.
//  2. Cooldown yeni bittiyse veya pencere dolmuşsa → yeni pencere.
//  3. Pencere içindeyse → count artır, max aşıldıysa cooldown başlat.
func (rl *FrameLimiter) Allow(key string) bool {
	if rl.maxFrames <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		rl.buckets[key] = &frameBucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() && now.Before(b.cooldownUntil) {
		return false
	}

	if !b.cooldownUntil.IsZero() || now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	b.count++
	if b.count > rl.maxFrames {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}

	return true
}

// Forget, kapanan bağlantının bucket'ını siler.
func (rl *FrameLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// Stop, cleanup goroutine'ini durdurur.
func (rl *FrameLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *FrameLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
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

// cleanup, hem penceresi hem cooldown'ı bitmiş bucket'ları siler.
func (rl *FrameLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)

		if windowExpired && cooldownExpired {
			delete(rl.buckets, key)
		}
	}
}
