package awareness

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presence struct {
	Name string `json:"name"`
}

func newTestAwareness(t *testing.T, id string) *Awareness {
	t.Helper()
	a := New(id, Options{RenewInterval: time.Hour})
	t.Cleanup(a.Close)
	return a
}

// relay, a'nın local güncellemelerini b'ye iletir.
func relay(a, b *Awareness) func() {
	return a.OnUpdate(func(clients []string, origin string) {
		if origin == OriginLocal {
			b.ApplyUpdate(a.Encode(clients), "peer")
		}
	})
}

func TestAwareness_LocalState(t *testing.T) {
	a := newTestAwareness(t, "a")

	var changes []Change
	a.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, a.SetLocalState(presence{Name: "alice"}))
	require.NoError(t, a.SetLocalState(presence{Name: "alicia"}))
	require.NoError(t, a.SetLocalState(nil))

	require.Len(t, changes, 3)
	assert.Equal(t, []string{"a"}, changes[0].Added)
	assert.Equal(t, []string{"a"}, changes[1].Updated)
	assert.Equal(t, []string{"a"}, changes[2].Removed)

	var p presence
	assert.False(t, a.LocalState(&p))
	assert.Empty(t, a.GetStates())
}

func TestAwareness_PropagatesBetweenPeers(t *testing.T) {
	a := newTestAwareness(t, "a")
	b := newTestAwareness(t, "b")
	relay(a, b)

	var changes []Change
	b.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, a.SetLocalState(presence{Name: "alice"}))

	states := b.GetStates()
	require.Contains(t, states, "a")
	var p presence
	require.NoError(t, json.Unmarshal(states["a"], &p))
	assert.Equal(t, "alice", p.Name)
	require.Len(t, changes, 1)
	assert.Equal(t, []string{"a"}, changes[0].Added)
	assert.Equal(t, "peer", changes[0].Origin)

	require.NoError(t, a.SetLocalState(nil))
	assert.NotContains(t, b.GetStates(), "a")
	assert.Equal(t, []string{"a"}, changes[1].Removed)
}

func TestAwareness_StaleClockIsIgnored(t *testing.T) {
	b := newTestAwareness(t, "b")

	fresh := Update{Clients: map[string]ClientState{"a": {Clock: 3, State: json.RawMessage(`{"name":"new"}`)}}}
	stale := Update{Clients: map[string]ClientState{"a": {Clock: 2, State: json.RawMessage(`{"name":"old"}`)}}}

	b.ApplyUpdate(fresh, "peer")
	b.ApplyUpdate(stale, "peer")

	assert.JSONEq(t, `{"name":"new"}`, string(b.GetStates()["a"]))

	// eşit clock'lu null → kaldırma
	b.ApplyUpdate(Update{Clients: map[string]ClientState{"a": {Clock: 3}}}, "peer")
	assert.NotContains(t, b.GetStates(), "a")

	// kaldırıldıktan sonra eski clock geri getiremez
	b.ApplyUpdate(stale, "peer")
	assert.NotContains(t, b.GetStates(), "a")
}

func TestAwareness_IgnoresOwnClientID(t *testing.T) {
	a := newTestAwareness(t, "a")
	a.ApplyUpdate(Update{Clients: map[string]ClientState{"a": {Clock: 99, State: json.RawMessage(`{}`)}}}, "peer")
	assert.Empty(t, a.GetStates())
}

func TestAwareness_RemoveStates(t *testing.T) {
	b := newTestAwareness(t, "b")
	b.ApplyUpdate(Update{Clients: map[string]ClientState{"a": {Clock: 1, State: json.RawMessage(`{}`)}}}, "peer")

	var removed []string
	b.OnChange(func(c Change) { removed = append(removed, c.Removed...) })

	b.RemoveStates([]string{"a", "b", "ghost"}, "leave")
	assert.Equal(t, []string{"a"}, removed)
}

func TestAwareness_OutdatedStatesExpire(t *testing.T) {
	b := New("b", Options{OutdatedTimeout: 30 * time.Second, RenewInterval: time.Hour})
	t.Cleanup(b.Close)

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	b.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	var changes []Change
	b.OnChange(func(c Change) { changes = append(changes, c) })

	b.ApplyUpdate(Update{Clients: map[string]ClientState{"a": {Clock: 1, State: json.RawMessage(`{}`)}}}, "peer")
	require.Contains(t, b.GetStates(), "a")

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()

	assert.NotContains(t, b.GetStates(), "a")
	b.ExpireNow()

	require.Len(t, changes, 2)
	assert.Equal(t, []string{"a"}, changes[1].Removed)
	assert.Equal(t, OriginTimeout, changes[1].Origin)
}

func TestAwareness_RenewRebroadcastsLocalState(t *testing.T) {
	a := New("a", Options{RenewInterval: 10 * time.Millisecond})
	t.Cleanup(a.Close)

	renewed := make(chan struct{}, 8)
	a.OnUpdate(func(clients []string, origin string) {
		if origin == OriginLocal {
			select {
			case renewed <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, a.SetLocalState(presence{Name: "alice"}))
	<-renewed

	select {
	case <-renewed:
	case <-time.After(time.Second):
		t.Fatal("local state renew yayınlanmadı")
	}
}

func TestAwareness_CloseBroadcastsRemoval(t *testing.T) {
	a := New("a", Options{RenewInterval: time.Hour})
	b := newTestAwareness(t, "b")
	relay(a, b)

	require.NoError(t, a.SetLocalState(presence{Name: "alice"}))
	require.Contains(t, b.GetStates(), "a")

	a.Close()
	a.Close()
	assert.NotContains(t, b.GetStates(), "a")
}
