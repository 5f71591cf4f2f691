// Package emitter — reentrancy-safe, sıralı event dağıtımı.
//
// Emitter, yayınlanan değerleri bir kuyruğa alır ve listener'ları hiçbir
// lock tutmadan, yayın sırasıyla çağırır. Bir listener çalışırken yeni bir
// değer yayınlanırsa (aynı goroutine'den veya başka bir goroutine'den),
// değer sadece kuyruğa eklenir; o an kuyruğu boşaltan goroutine onu da
// teslim eder. Böylece:
//   - Listener'lar içinden tekrar yayın yapmak deadlock üretmez.
//   - Her listener değerleri yayın sırasıyla görür.
//   - Aynı anda en fazla bir goroutine listener çağırır.
//
// Kullanım:
//
//	var e emitter.Emitter[Change]
//	unsubscribe := e.Subscribe(func(c Change) { ... })
//	e.Emit(change)
//	unsubscribe()
package emitter

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Emitter, generic event kuyruğu. Zero value kullanıma hazırdır.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []listener[T]
	nextID    uint64

	queue    []T
	draining bool
}

// Subscribe, listener ekler. Dönen fonksiyon listener'ı kaldırır;
// birden fazla çağrılması güvenlidir.
func (e *Emitter[T]) Subscribe(fn func(T)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, l := range e.listeners {
				if l.id == id {
					e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Enqueue, değeri kuyruğa ekler. true dönerse kuyruğu boşaltma sorumluluğu
// çağırana geçmiştir ve Drain çağrılmalıdır.
//
// Enqueue + Drain ayrımı, yayın sırasını başka bir lock altında sabitlemek
// isteyen caller'lar içindir (örn. crdt.Doc commit sırasını doc lock'u
// bırakılmadan kuyruğa yazar).
func (e *Emitter[T]) Enqueue(v T) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue = append(e.queue, v)
	if e.draining {
		return false
	}
	e.draining = true
	return true
}

// Drain, kuyruk boşalana kadar listener'ları çağırır.
func (e *Emitter[T]) Drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		v := e.queue[0]
		e.queue = e.queue[1:]
		snapshot := make([]listener[T], len(e.listeners))
		copy(snapshot, e.listeners)
		e.mu.Unlock()

		for _, l := range snapshot {
			if e.active(l.id) {
				l.fn(v)
			}
		}
	}
}

// Emit, Enqueue + Drain kısayolu.
func (e *Emitter[T]) Emit(v T) {
	if e.Enqueue(v) {
		e.Drain()
	}
}

// Len, kayıtlı listener sayısı.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// active, teslimat sırasında kaldırılmış listener'ların çağrılmasını engeller.
func (e *Emitter[T]) active(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.listeners {
		if l.id == id {
			return true
		}
	}
	return false
}
