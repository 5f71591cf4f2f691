package pkg

import (
	"encoding/json"
	"errors"
	"net/http"
)

// APIResponse, relay HTTP endpoint'lerinin standart yanıt zarfı.
//
//	{"success":true,"data":{...}}
//	{"success":false,"error":"room \"x\" has no peers: not found"}
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON, data'yı başarılı yanıt olarak yazar.
func JSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, APIResponse{Success: true, Data: data})
}

// Error, err'i status'e çevirip hata yanıtı yazar (bkz. StatusFor).
func Error(w http.ResponseWriter, err error) {
	writeEnvelope(w, StatusFor(err), APIResponse{Error: err.Error()})
}

// ErrorWithMessage, domain error'ı olmayan durumlar için (ör. eksik query
// parametresi, rate limit) doğrudan status ve mesaj yazar.
func ErrorWithMessage(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, APIResponse{Error: message})
}

// StatusFor, domain error'ı HTTP status code'una eşler. Tanınmayan
// error'lar 500 olur.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrTransport), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, resp APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
