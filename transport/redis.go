package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/logger"
)

// OriginRedis, RedisProvider'ın document/awareness origin'i.
const OriginRedis = "redis"

// DefaultRedisPrefix, workspace pub/sub channel'larının öneki.
const DefaultRedisPrefix = "meshchat:"

// publishTimeout, tek bir PUBLISH için üst sınır.
const publishTimeout = 5 * time.Second

// NewRedisClient, URL'den client oluşturur ve bağlantıyı test eder.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", pkg.ErrBadRequest, err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %v", pkg.ErrTransport, err)
	}
	return client, nil
}

// RedisOptions, RedisProvider ayarları.
type RedisOptions struct {
	Client *redis.Client
	// Prefix, channel adı öneki; boşsa DefaultRedisPrefix.
	Prefix string
	Logger *zap.Logger
}

// RedisFactory, aynı redis client'ını paylaşan provider'lar üretir.
func RedisFactory(opts RedisOptions) Factory {
	return func(workspaceID string, doc *crdt.Doc, aw *awareness.Awareness) (Provider, error) {
		return NewRedisProvider(workspaceID, doc, aw, opts), nil
	}
}

// RedisProvider, peer'ları redis pub/sub üzerinden bağlar: her workspace
// bir channel'dır (meshchat:<workspace>). Relay olmadığı için kapanışta
// leave frame'ini provider kendisi yayınlar.
//
// Pub/sub teslimatı garanti etmez. Kaybolan frame'ler iki yolla telafi
// edilir: go-redis aboneliği yeniden kurduğunda ve başarısız/düşen bir
// PUBLISH'ten sonraki ilk başarılı PUBLISH'te provider sync1 yayınlar.
type RedisProvider struct {
	statusHolder

	client  *redis.Client
	channel string
	log     *zap.Logger
	peer    *peer

	mu     sync.Mutex
	pubsub *redis.PubSub
	out    chan []byte
	closed bool
	wg     sync.WaitGroup

	// resync: en az bir frame gönderilemedi; redis tekrar yazılabilir
	// olunca announce edilecek.
	resync atomic.Bool
}

// NewRedisProvider, room için provider oluşturur.
func NewRedisProvider(room string, doc *crdt.Doc, aw *awareness.Awareness, opts RedisOptions) *RedisProvider {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	p := &RedisProvider{
		client:  opts.Client,
		channel: prefix + room,
		log:     logger.OrNop(opts.Logger).Named("transport").With(zap.String("room", room)),
	}
	p.peer = newPeer(doc, aw, OriginRedis, p.publish, p.log)
	return p
}

// Connect, channel'a abone olur ve senkronizasyonu başlatır.
func (p *RedisProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return pkg.ErrClosed
	}
	if p.pubsub != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.client == nil {
		return fmt.Errorf("%w: redis client not configured", pkg.ErrTransport)
	}

	p.setStatus(StatusConnecting)
	pubsub := p.client.Subscribe(ctx, p.channel)
	// Receive, abonelik onayını bekler; redis'e ulaşılamıyorsa burada hata döner.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		p.setStatus(StatusDisconnected)
		return fmt.Errorf("%w: subscribe %s: %v", pkg.ErrTransport, p.channel, err)
	}

	p.mu.Lock()
	p.pubsub = pubsub
	p.out = make(chan []byte, sendBufferSize)
	p.wg.Add(2)
	p.mu.Unlock()

	go p.receiveLoop(pubsub.ChannelWithSubscriptions())
	go p.publishLoop(p.out)

	p.setStatus(StatusConnected)
	p.log.Info("subscribed", zap.String("channel", p.channel))
	p.peer.start()
	return nil
}

// Close, leave frame'ini yayınlar, kuyruğu boşaltır ve aboneliği kapatır.
func (p *RedisProvider) Close() error {
	p.peer.stop()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pubsub, out := p.pubsub, p.out
	p.mu.Unlock()

	if pubsub == nil {
		p.setStatus(StatusDisconnected)
		return nil
	}

	if data, err := json.Marshal(Envelope{Type: FrameLeave, From: p.peer.id}); err == nil {
		out <- data
	}
	close(out)

	err := pubsub.Close()
	p.wg.Wait()
	p.setStatus(StatusDisconnected)
	if err != nil {
		return fmt.Errorf("%w: close subscription: %v", pkg.ErrTransport, err)
	}
	return nil
}

func (p *RedisProvider) publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.log.Error("failed to marshal frame", zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.out == nil {
		return
	}
	select {
	case p.out <- data:
	default:
		// Kuyruk dolu: frame düşer; kuyruk boşalınca publishLoop announce eder.
		p.resync.Store(true)
		p.log.Warn("publish queue full, dropping frame", zap.String("type", string(env.Type)))
	}
}

// publishLoop, PUBLISH çağrılarını mutation'lardan ayrı goroutine'de yapar.
func (p *RedisProvider) publishLoop(out <-chan []byte) {
	defer p.wg.Done()

	for data := range out {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.client.Publish(ctx, p.channel, data).Err()
		cancel()
		if err != nil {
			p.resync.Store(true)
			p.log.Warn("publish failed", zap.Error(err))
			continue
		}
		if p.resync.CompareAndSwap(true, false) {
			p.log.Info("publish recovered, re-announcing")
			p.peer.announce()
		}
	}
}

// receiveLoop, gelen frame'leri işler. İlk abonelik onayı Connect'te
// okunduğu için buraya gelen her *redis.Subscription bir yeniden bağlanmadır:
// kopukken kaçırılan frame'ler için tekrar announce edilir.
func (p *RedisProvider) receiveLoop(ch <-chan any) {
	defer p.wg.Done()

	for msg := range ch {
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "subscribe" {
				continue
			}
			p.log.Info("resubscribed, re-announcing", zap.String("channel", m.Channel))
			p.peer.announce()

		case *redis.Message:
			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				p.log.Warn("invalid frame", zap.Error(err))
				continue
			}
			p.peer.handle(env)
		}
	}
}
