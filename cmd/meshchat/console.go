package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/services"
)

// console, REPL çıktısı ile bildirimlerin aynı anda yazılmasını sıralar.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// watchFeed, feed'e yeni eklenen toast'ları bir kez yazar.
// Dönen fonksiyon aboneliği bırakır.
func (c *console) watchFeed(feed *services.ToastFeed) func() {
	var mu sync.Mutex
	printed := make(map[string]struct{})

	return feed.Subscribe(func(list []models.Toast) {
		mu.Lock()
		defer mu.Unlock()

		visible := make(map[string]struct{}, len(list))
		// list en yeni önce; eskiden yeniye yaz
		for i := len(list) - 1; i >= 0; i-- {
			t := list[i]
			visible[t.ID] = struct{}{}
			if _, ok := printed[t.ID]; ok {
				continue
			}
			printed[t.ID] = struct{}{}
			c.Printf("%s %s\n", severityMark(t.Severity), t.Message)
		}
		for id := range printed {
			if _, ok := visible[id]; !ok {
				delete(printed, id)
			}
		}
	})
}

func severityMark(s models.ToastSeverity) string {
	switch s {
	case models.ToastWarning:
		return "!"
	case models.ToastError:
		return "✗"
	default:
		return "*"
	}
}
