package transport

import (
	"context"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
)

// Status, provider bağlantı durumu.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Provider, bir workspace'in document + awareness'ını peer'lara bağlar.
//
// Connect bağlantı kurulamazsa pkg.ErrTransport wrap eden bir error döner.
// Close birden fazla çağrılabilir.
type Provider interface {
	Connect(ctx context.Context) error
	Close() error
	Status() Status
	OnStatus(fn func(Status)) func()
}

// Factory, workspace session'ı kurulurken provider üretir.
// WorkspaceManager'a dışarıdan verilir; testler MemoryNetwork kullanır.
type Factory func(workspaceID string, doc *crdt.Doc, aw *awareness.Awareness) (Provider, error)
