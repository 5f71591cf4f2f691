// Package cache — Generic in-memory TTL cache.
//
// TTLCache, belirli bir süre yenilenmeyen kayıtları otomatik olarak düşüren
// thread-safe, generic bir cache yapısıdır.
//
// Kullanım alanı: awareness state'leri. Her peer'ın state'i Set ile her
// güncellemede yenilenir; ttl boyunca sesi çıkmayan peer'ın state'i okunamaz
// hale gelir ve periyodik temizlikte OnEvict callback'i ile bildirilir.
//
// Thread safety:
// sync.RWMutex ile korunur. OnEvict callback'i lock dışında çağrılır;
// callback içinden cache'e tekrar erişmek güvenlidir.
package cache

import (
	"sync"
	"time"
)

// entry, cache'teki tek bir kayıttır.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache, generic in-memory TTL cache.
//
//	c := cache.New[string, State](30*time.Second, 5*time.Second)
//	c.OnEvict(func(key string, v State) { ... })
//	c.Set("peer-1", st)
//	st, ok := c.Get("peer-1")
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration
	now     func() time.Time
	onEvict func(key K, value V)

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New, yeni bir TTLCache oluşturur ve periyodik temizleme goroutine'ini başlatır.
//
// ttl: her entry'nin yaşam süresi.
// cleanupInterval: süresi dolan entry'lerin ne sıklıkla temizlenip OnEvict
// ile bildirileceği. Get süresi dolmuş entry'yi zaten döndürmez.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries:     make(map[K]entry[V]),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()

	return c
}

// OnEvict, süresi dolduğu için temizlenen her entry için çağrılacak
// callback'i ayarlar. Delete/Clear ile silinenler bildirilmez.
func (c *TTLCache[K, V]) OnEvict(fn func(key K, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// SetClock, zaman kaynağını değiştirir. Testlerde sahte saat için kullanılır.
func (c *TTLCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get, cache'ten bir değer okur.
// Key yoksa veya süresi dolmuşsa (zero value, false) döner.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set, cache'e bir değer yazar. Mevcut entry'nin süresi yenilenir.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete, belirli bir key'i cache'ten siler.
// Key mevcut (ve süresi dolmamış) idiyse true döner.
func (c *TTLCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	delete(c.entries, key)
	return ok && !c.now().After(e.expiresAt)
}

// Range, süresi dolmamış her entry için fn'i çağırır. fn false dönerse durur.
// fn bir snapshot üzerinde, lock dışında çağrılır.
func (c *TTLCache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.RLock()
	now := c.now()
	keys := make([]K, 0, len(c.entries))
	values := make([]V, 0, len(c.entries))
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
		values = append(values, e.value)
	}
	c.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], values[i]) {
			return
		}
	}
}

// Len, cache'teki toplam entry sayısını döner (süresi dolmuşlar dahil).
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Close, periyodik temizleme goroutine'ini durdurur. Tekrar çağrılabilir.
func (c *TTLCache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

// EvictExpired, süresi dolan entry'leri map'ten siler ve OnEvict'i çağırır.
// Periyodik cleanup goroutine'i tarafından çağrılır; testler doğrudan çağırabilir.
func (c *TTLCache[K, V]) EvictExpired() {
	type evicted struct {
		key   K
		value V
	}

	c.mu.Lock()
	now := c.now()
	var out []evicted
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			out = append(out, evicted{key: key, value: e.value})
		}
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict == nil {
		return
	}
	for _, ev := range out {
		onEvict(ev.key, ev.value)
	}
}
