package models

import "time"

// ToastSeverity, toast'un görsel önemi.
type ToastSeverity string

const (
	ToastInfo    ToastSeverity = "info"
	ToastSuccess ToastSeverity = "success"
	ToastWarning ToastSeverity = "warning"
	ToastError   ToastSeverity = "error"
)

// Toast, kullanıcıya gösterilen geçici bildirim.
// Timeout 0 ise toast otomatik kapanmaz.
type Toast struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Severity  ToastSeverity `json:"severity"`
	Timeout   time.Duration `json:"timeout"`
	CreatedAt time.Time     `json:"created_at"`
}
