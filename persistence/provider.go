// Package persistence, bir workspace document'ini peer'ın yerel sqlite
// veritabanında saklar.
//
// Model: append-only update log. Start, workspace'in kayıtlı op'larını
// OriginPersistence ile document'e uygular; sonrasında document'e giren
// her yeni op (yerel veya remote) tek satır olarak eklenir. Satır sayısı
// CompactThreshold'u aşarsa açılışta tüm log tek satıra sıkıştırılır.
//
// Persistence correctness için gerekli değildir: hızlı warm start sağlar.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/crypto"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
)

// DefaultCompactThreshold, açılışta sıkıştırma yapılacak satır sayısı.
const DefaultCompactThreshold = 500

// writeQueueSize, yazıcı goroutine'in kuyruk kapasitesi. Dolarsa
// OnUpdate handler'ı yer açılana kadar bekler.
const writeQueueSize = 256

// Options, Provider ayarları.
type Options struct {
	// Cipher verilirse payload'lar AES-GCM ile şifrelenir.
	Cipher           *crypto.Cipher
	CompactThreshold int
	Logger           *zap.Logger
}

// Provider, tek bir workspace'in persistence binding'i.
type Provider struct {
	workspaceID string
	doc         *crdt.Doc
	repo        repository.UpdateRepository
	cipher      *crypto.Cipher
	threshold   int
	log         *zap.Logger

	synced chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	unsub   func()
	queue   chan []crdt.Op
	done    chan struct{}
}

// New, provider oluşturur. Start çağrılana kadar hiçbir şey okunmaz/yazılmaz.
func New(workspaceID string, doc *crdt.Doc, repo repository.UpdateRepository, opts Options) *Provider {
	if opts.CompactThreshold <= 0 {
		opts.CompactThreshold = DefaultCompactThreshold
	}
	return &Provider{
		workspaceID: workspaceID,
		doc:         doc,
		repo:        repo,
		cipher:      opts.Cipher,
		threshold:   opts.CompactThreshold,
		log:         logger.OrNop(opts.Logger).Named("persistence").With(zap.String("workspace", workspaceID)),
		synced:      make(chan struct{}),
	}
}

// Start, kayıtlı op'ları yükler ve yeni op'ları yazmaya başlar.
// Yükleme bittiğinde Synced kapanır. İkinci çağrı no-op'tur.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return pkg.ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.queue = make(chan []crdt.Op, writeQueueSize)
	p.done = make(chan struct{})
	p.mu.Unlock()

	// Yüklemeden önce abone ol: yükleme sırasında yapılan yerel yazmalar
	// kaçmaz. Persistence origin'li op'lar zaten diskte. Yazıcı ise
	// sıkıştırmadan sonra başlar; sıkıştırma yeni satırları silmez.
	unsub := p.doc.OnUpdate(func(ops []crdt.Op, origin crdt.Origin) {
		if origin == crdt.OriginPersistence {
			return
		}
		p.enqueue(ops)
	})
	p.mu.Lock()
	p.unsub = unsub
	p.mu.Unlock()
	defer func() { go p.writeLoop() }()

	rows, err := p.load(ctx)
	if err != nil {
		return err
	}

	if rows > p.threshold {
		if err := p.compact(ctx); err != nil {
			// Sıkıştırma başarısız olursa eski satırlar yerinde kalır.
			p.log.Warn("compaction failed", zap.Error(err))
		}
	}

	close(p.synced)
	return nil
}

// Synced, ilk yükleme tamamlandığında kapanan channel.
func (p *Provider) Synced() <-chan struct{} {
	return p.synced
}

// Close, aboneliği bırakır ve kuyruktaki yazmaların bitmesini bekler.
// Birden fazla çağrılabilir.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	unsub, queue, done := p.unsub, p.queue, p.done
	p.unsub = nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if queue != nil {
		close(queue)
		<-done
	}
	return nil
}

// ─── Internals ───

func (p *Provider) enqueue(ops []crdt.Op) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue <- ops
}

func (p *Provider) writeLoop() {
	defer close(p.done)

	for ops := range p.queue {
		payload, encrypted, err := p.encode(ops)
		if err != nil {
			p.log.Error("failed to encode update", zap.Error(err))
			continue
		}
		if err := p.repo.Append(context.Background(), p.workspaceID, payload, encrypted); err != nil {
			p.log.Error("failed to store update", zap.Int("ops", len(ops)), zap.Error(err))
		}
	}
}

// load, tüm satırları okuyup tek Apply ile uygular. Çözülemeyen satırlar
// atlanır (örn. anahtar değişmiş). Okunan satır sayısını döner.
func (p *Provider) load(ctx context.Context) (int, error) {
	rows, err := p.repo.ListByWorkspace(ctx, p.workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load workspace %s: %w", p.workspaceID, err)
	}

	var all []crdt.Op
	for _, row := range rows {
		ops, err := p.decode(row.Payload, row.Encrypted)
		if err != nil {
			p.log.Warn("skipping unreadable update", zap.Int64("id", row.ID), zap.Error(err))
			continue
		}
		all = append(all, ops...)
	}

	applied := p.doc.Apply(all, crdt.OriginPersistence)
	p.log.Debug("workspace loaded",
		zap.Int("rows", len(rows)),
		zap.Int("ops", len(all)),
		zap.Int("applied", applied),
	)
	return len(rows), nil
}

func (p *Provider) compact(ctx context.Context) error {
	payload, encrypted, err := p.encode(p.doc.Diff(nil))
	if err != nil {
		return err
	}
	if err := p.repo.Compact(ctx, p.workspaceID, payload, encrypted); err != nil {
		return err
	}
	p.log.Info("update log compacted")
	return nil
}

func (p *Provider) encode(ops []crdt.Op) (string, bool, error) {
	b, err := json.Marshal(ops)
	if err != nil {
		return "", false, err
	}
	if p.cipher == nil {
		return string(b), false, nil
	}
	sealed, err := p.cipher.Seal(b, p.workspaceID)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}

// errNoKey, şifreli bir satır anahtar verilmeden okunduğunda döner.
var errNoKey = errors.New("encrypted update but no encryption key configured")

func (p *Provider) decode(payload string, encrypted bool) ([]crdt.Op, error) {
	raw := []byte(payload)
	if encrypted {
		if p.cipher == nil {
			return nil, errNoKey
		}
		plain, err := p.cipher.Open(payload, p.workspaceID)
		if err != nil {
			return nil, err
		}
		raw = plain
	}

	var ops []crdt.Op
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("malformed update: %w", err)
	}
	return ops, nil
}
