package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg"
)

type replica struct {
	doc *crdt.Doc
	aw  *awareness.Awareness
}

func newReplica(t *testing.T, id string) replica {
	t.Helper()
	aw := awareness.New(id, awareness.Options{RenewInterval: time.Hour})
	t.Cleanup(aw.Close)
	return replica{doc: crdt.NewDoc(id), aw: aw}
}

func setName(doc *crdt.Doc, key, v string) {
	doc.Transact(func(tx *crdt.Tx) {
		tx.EnsureMap("users")
		tx.Set([]string{"users", key}, v)
	})
}

func lookup(doc *crdt.Doc, key string) string {
	var v string
	doc.Lookup(&v, "users", key)
	return v
}

func TestEnvelope_Valid(t *testing.T) {
	assert.True(t, Envelope{Type: FrameSync1, From: "a"}.Valid())
	assert.False(t, Envelope{Type: FrameSync1}.Valid())
	assert.False(t, Envelope{Type: FrameAwareness, From: "a"}.Valid())
	assert.True(t, Envelope{Type: FrameHeartbeat}.Valid())
	assert.True(t, Envelope{Type: FrameResync}.Valid())
	assert.False(t, Envelope{Type: "bogus", From: "a"}.Valid())
}

func TestMemory_SyncOnJoinAndLiveUpdates(t *testing.T) {
	net := NewMemoryNetwork(nil)
	a := newReplica(t, "a")
	b := newReplica(t, "b")

	// a bağlanmadan önce yazılmış backlog
	setName(a.doc, "u1", "alice")

	pa := net.Provider("ws1", a.doc, a.aw)
	pb := net.Provider("ws1", b.doc, b.aw)
	require.NoError(t, pa.Connect(context.Background()))
	require.NoError(t, pb.Connect(context.Background()))
	defer pa.Close()
	defer pb.Close()

	// a'nın bağlanmadan önceki yazmaları b'ye sync ile ulaşır
	assert.Equal(t, "alice", lookup(b.doc, "u1"))

	setName(b.doc, "u2", "bob")
	assert.Equal(t, "bob", lookup(a.doc, "u2"))
	assert.Equal(t, StatusConnected, pa.Status())
	assert.Equal(t, 2, net.Peers("ws1"))
}

func TestMemory_RoomsAreIsolated(t *testing.T) {
	net := NewMemoryNetwork(nil)
	a := newReplica(t, "a")
	b := newReplica(t, "b")

	pa := net.Provider("ws1", a.doc, a.aw)
	pb := net.Provider("ws2", b.doc, b.aw)
	require.NoError(t, pa.Connect(context.Background()))
	require.NoError(t, pb.Connect(context.Background()))
	defer pa.Close()
	defer pb.Close()

	setName(a.doc, "u1", "alice")
	assert.False(t, b.doc.Has("users"))
}

func TestMemory_AwarenessAndLeave(t *testing.T) {
	net := NewMemoryNetwork(nil)
	a := newReplica(t, "a")
	b := newReplica(t, "b")

	require.NoError(t, a.aw.SetLocalState(map[string]string{"name": "alice"}))

	pa := net.Provider("ws1", a.doc, a.aw)
	pb := net.Provider("ws1", b.doc, b.aw)
	require.NoError(t, pa.Connect(context.Background()))
	require.NoError(t, pb.Connect(context.Background()))
	defer pb.Close()

	require.NoError(t, b.aw.SetLocalState(map[string]string{"name": "bob"}))
	assert.Contains(t, b.aw.GetStates(), "a")
	assert.Contains(t, a.aw.GetStates(), "b")

	var removed []string
	b.aw.OnChange(func(c awareness.Change) { removed = append(removed, c.Removed...) })

	require.NoError(t, pa.Close())
	assert.NotContains(t, b.aw.GetStates(), "a")
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, StatusDisconnected, pa.Status())
}

func TestMemory_Unreachable(t *testing.T) {
	net := NewMemoryNetwork(nil)
	net.SetReachable(false)
	a := newReplica(t, "a")

	p := net.Provider("ws1", a.doc, a.aw)
	var statuses []Status
	p.OnStatus(func(s Status) { statuses = append(statuses, s) })

	err := p.Connect(context.Background())
	assert.ErrorIs(t, err, pkg.ErrTransport)
	assert.Equal(t, []Status{StatusConnecting, StatusDisconnected}, statuses)
}

func TestPeer_IgnoresOwnAndMisaddressedFrames(t *testing.T) {
	a := newReplica(t, "a")
	var sent []Envelope
	p := newPeer(a.doc, a.aw, "test", func(e Envelope) { sent = append(sent, e) }, nil)

	other := crdt.NewDoc("x")
	setName(other, "u1", "x")
	ops := other.Diff(nil)

	p.handle(Envelope{Type: FrameUpdate, From: "a", Ops: ops})
	p.handle(Envelope{Type: FrameUpdate, From: "x", To: "someone-else", Ops: ops})
	assert.False(t, a.doc.Has("users"))

	p.handle(Envelope{Type: FrameUpdate, From: "x", To: "a", Ops: ops})
	assert.True(t, a.doc.Has("users"))

	// directed sync1 yalnızca sync2 ile cevaplanır
	p.handle(Envelope{Type: FrameSync1, From: "x", To: "a", SV: crdt.StateVector{}})
	require.Len(t, sent, 1)
	assert.Equal(t, FrameSync2, sent[0].Type)
	assert.Equal(t, "x", sent[0].To)
}

func TestPeer_RequestsMissingOpsAfterGap(t *testing.T) {
	a := newReplica(t, "a")
	b := newReplica(t, "b")
	var fromA, fromB []Envelope
	pa := newPeer(a.doc, a.aw, "test", func(e Envelope) { fromA = append(fromA, e) }, nil)
	pb := newPeer(b.doc, b.aw, "test", func(e Envelope) { fromB = append(fromB, e) }, nil)

	setName(a.doc, "u1", "alice")
	sv := a.doc.StateVector()
	setName(a.doc, "u2", "bob")

	// u1'i taşıyan update kayboldu; yalnızca ikincisi ulaşır.
	pb.handle(Envelope{Type: FrameUpdate, From: "a", Ops: a.doc.Diff(sv)})
	assert.Positive(t, b.doc.PendingLen())
	require.Len(t, fromB, 1)
	assert.Equal(t, FrameSync1, fromB[0].Type)
	assert.Equal(t, "a", fromB[0].To)

	pa.handle(fromB[0])
	require.Len(t, fromA, 1)
	assert.Equal(t, FrameSync2, fromA[0].Type)
	assert.Equal(t, "b", fromA[0].To)

	pb.handle(fromA[0])
	assert.Equal(t, "alice", lookup(b.doc, "u1"))
	assert.Equal(t, "bob", lookup(b.doc, "u2"))
	assert.Zero(t, b.doc.PendingLen())
	assert.Len(t, fromB, 1, "a complete sync2 needs no further request")
}

func TestPeer_Sync2WithGapDoesNotRequestAgain(t *testing.T) {
	a := newReplica(t, "a")
	c := newReplica(t, "c")
	var sent []Envelope
	pc := newPeer(c.doc, c.aw, "test", func(e Envelope) { sent = append(sent, e) }, nil)

	setName(a.doc, "u1", "alice")
	sv := a.doc.StateVector()
	setName(a.doc, "u2", "bob")

	pc.handle(Envelope{Type: FrameSync2, From: "a", To: "c", Ops: a.doc.Diff(sv)})
	assert.Positive(t, c.doc.PendingLen())
	assert.Empty(t, sent)
}

func TestPeer_ResyncAnnounces(t *testing.T) {
	a := newReplica(t, "a")
	var sent []Envelope
	p := newPeer(a.doc, a.aw, "test", func(e Envelope) { sent = append(sent, e) }, nil)

	p.handle(Envelope{Type: FrameResync})
	require.Len(t, sent, 2)
	assert.Equal(t, FrameSync1, sent[0].Type)
	assert.Empty(t, sent[0].To)
	assert.Equal(t, FrameAwareness, sent[1].Type)
}

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_Converges(t *testing.T) {
	client := newMiniredisClient(t)
	a := newReplica(t, "a")
	b := newReplica(t, "b")
	setName(a.doc, "u1", "alice")

	pa := NewRedisProvider("ws1", a.doc, a.aw, RedisOptions{Client: client})
	pb := NewRedisProvider("ws1", b.doc, b.aw, RedisOptions{Client: client})
	require.NoError(t, pa.Connect(context.Background()))
	require.NoError(t, pb.Connect(context.Background()))
	defer pa.Close()
	defer pb.Close()

	require.Eventually(t, func() bool { return lookup(b.doc, "u1") == "alice" },
		2*time.Second, 10*time.Millisecond)

	setName(b.doc, "u2", "bob")
	require.Eventually(t, func() bool { return lookup(a.doc, "u2") == "bob" },
		2*time.Second, 10*time.Millisecond)
}

func TestRedis_LeaveRemovesAwareness(t *testing.T) {
	client := newMiniredisClient(t)
	a := newReplica(t, "a")
	b := newReplica(t, "b")
	require.NoError(t, a.aw.SetLocalState(map[string]string{"name": "alice"}))

	pa := NewRedisProvider("ws1", a.doc, a.aw, RedisOptions{Client: client})
	pb := NewRedisProvider("ws1", b.doc, b.aw, RedisOptions{Client: client})
	require.NoError(t, pb.Connect(context.Background()))
	defer pb.Close()
	require.NoError(t, pa.Connect(context.Background()))

	require.Eventually(t, func() bool { _, ok := b.aw.GetStates()["a"]; return ok },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, pa.Close())
	require.Eventually(t, func() bool { _, ok := b.aw.GetStates()["a"]; return !ok },
		2*time.Second, 10*time.Millisecond)
}

func TestRedis_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	a := newReplica(t, "a")
	p := NewRedisProvider("ws1", a.doc, a.aw, RedisOptions{Client: client})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, p.Connect(ctx), pkg.ErrTransport)
}

func TestRedis_RecoversUpdatesLostDuringOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := newReplica(t, "a")
	b := newReplica(t, "b")
	pa := NewRedisProvider("ws1", a.doc, a.aw, RedisOptions{Client: client})
	pb := NewRedisProvider("ws1", b.doc, b.aw, RedisOptions{Client: client})
	require.NoError(t, pa.Connect(context.Background()))
	require.NoError(t, pb.Connect(context.Background()))
	defer pa.Close()
	defer pb.Close()

	setName(a.doc, "u0", "before")
	require.Eventually(t, func() bool { return lookup(b.doc, "u0") == "before" },
		2*time.Second, 10*time.Millisecond)

	mr.Close()
	setName(a.doc, "u1", "during")
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, mr.Restart())
	setName(a.doc, "u2", "after")

	require.Eventually(t, func() bool {
		return lookup(b.doc, "u1") == "during" && lookup(b.doc, "u2") == "after" &&
			b.doc.PendingLen() == 0
	}, 15*time.Second, 50*time.Millisecond)
}
