package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg/emitter"
)

// Toast süreleri.
const (
	DefaultToastTimeout = 5 * time.Second
	MessageToastTimeout = 8 * time.Second
)

// NotificationSink, reconciler'ın bildirimleri teslim ettiği yer.
// ToastFeed bunu implement eder.
type NotificationSink interface {
	Add(message string, severity models.ToastSeverity, timeout time.Duration) string
}

// ToastFeed, ekranda gösterilen geçici bildirimler. Timeout'u olan toast'lar
// süre dolunca kendiliğinden kalkar.
type ToastFeed struct {
	mu     sync.Mutex
	toasts []models.Toast
	timers map[string]*time.Timer
	now    func() time.Time

	changes emitter.Emitter[[]models.Toast]
}

// NewToastFeed, boş feed oluşturur.
func NewToastFeed() *ToastFeed {
	return &ToastFeed{
		timers: make(map[string]*time.Timer),
		now:    time.Now,
	}
}

// Add, toast ekler ve id'sini döner. timeout <= 0 ise toast Dismiss
// edilene kadar kalır.
func (f *ToastFeed) Add(message string, severity models.ToastSeverity, timeout time.Duration) string {
	if severity == "" {
		severity = models.ToastInfo
	}
	if timeout < 0 {
		timeout = 0
	}

	t := models.Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Timeout:   timeout,
		CreatedAt: f.now(),
	}

	f.mu.Lock()
	f.toasts = append([]models.Toast{t}, f.toasts...)
	if timeout > 0 {
		id := t.ID
		f.timers[id] = time.AfterFunc(timeout, func() { f.Dismiss(id) })
	}
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	f.changes.Emit(snapshot)
	return t.ID
}

// Dismiss, toast'u kaldırır. Bulunamazsa false.
func (f *ToastFeed) Dismiss(id string) bool {
	f.mu.Lock()
	idx := -1
	for i, t := range f.toasts {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	f.toasts = append(f.toasts[:idx:idx], f.toasts[idx+1:]...)
	if timer, ok := f.timers[id]; ok {
		timer.Stop()
		delete(f.timers, id)
	}
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	f.changes.Emit(snapshot)
	return true
}

// Clear, tüm toast'ları ve bekleyen timer'ları kaldırır.
func (f *ToastFeed) Clear() {
	f.mu.Lock()
	for id, timer := range f.timers {
		timer.Stop()
		delete(f.timers, id)
	}
	hadToasts := len(f.toasts) > 0
	f.toasts = nil
	f.mu.Unlock()

	if hadToasts {
		f.changes.Emit(nil)
	}
}

// List, toast'lar en yeniden eskiye.
func (f *ToastFeed) List() []models.Toast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Subscribe, liste her değiştiğinde güncel snapshot ile çağrılır.
func (f *ToastFeed) Subscribe(fn func([]models.Toast)) func() {
	return f.changes.Subscribe(fn)
}

func (f *ToastFeed) snapshotLocked() []models.Toast {
	out := make([]models.Toast, len(f.toasts))
	copy(out, f.toasts)
	return out
}
