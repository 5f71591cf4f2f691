package services

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/repository"
)

func awarenessState(t *testing.T, id, username string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(models.AwarenessState{User: &models.PresenceUser{ID: id, Username: username}})
	require.NoError(t, err)
	return b
}

// remoteUpdate, tek bir remote client'ın awareness mesajı. state nil ise
// client kaldırılmıştır.
func remoteUpdate(client string, clock uint64, state json.RawMessage) awareness.Update {
	return awareness.Update{Clients: map[string]awareness.ClientState{
		client: {Clock: clock, State: state},
	}}
}

func TestComputeOnline(t *testing.T) {
	states := map[string]json.RawMessage{
		"c1": json.RawMessage(`{"user":{"id":"u1","username":"alice"}}`),
		"c2": json.RawMessage(`{"user":{"id":"u1","username":"alice-phone"}}`),
		"c3": json.RawMessage(`{"user":{"id":"u2","username":"bob"}}`),
		"c4": json.RawMessage(`{}`),
		"c5": json.RawMessage(`not json`),
		"c6": json.RawMessage(`{"user":{"id":""}}`),
	}

	online := ComputeOnline(states)
	assert.Len(t, online, 2)
	assert.Equal(t, "alice", online["u1"].Username)
	assert.Equal(t, "bob", online["u2"].Username)
}

func TestDiffSets(t *testing.T) {
	prev := map[string]bool{"A": true, "B": true}
	next := map[string]bool{"B": true, "C": true}

	entered, exited := DiffSets(prev, next)
	assert.Equal(t, []string{"C"}, entered)
	assert.Equal(t, []string{"A"}, exited)

	entered, exited = DiffSets(next, next)
	assert.Empty(t, entered)
	assert.Empty(t, exited)
}

func TestConnectionStatusFor(t *testing.T) {
	online := map[string]struct{}{"me": {}}
	assert.Equal(t, models.StatusDisconnected, ConnectionStatusFor(online, "me"))
	assert.Equal(t, models.StatusDisconnected, ConnectionStatusFor(online, ""))

	online["other"] = struct{}{}
	assert.Equal(t, models.StatusConnected, ConnectionStatusFor(online, "me"))
}

type trackerFixture struct {
	doc     *crdt.Doc
	aw      *awareness.Awareness
	users   repository.UserRepository
	tracker *PresenceTracker
}

func newTrackerFixture(t *testing.T) trackerFixture {
	t.Helper()
	doc := crdt.NewDoc("local")
	aw := awareness.New("local", awareness.Options{})
	t.Cleanup(aw.Close)

	users := repository.NewDocUserRepo(doc)
	tracker := NewPresenceTracker(aw, doc, users, nil)
	t.Cleanup(tracker.Start())

	return trackerFixture{doc: doc, aw: aw, users: users, tracker: tracker}
}

func (f trackerFixture) createUser(t *testing.T, id, username string) {
	t.Helper()
	require.NoError(t, f.users.Create(&models.User{Meta: models.UserMeta{ID: id, CreatedAt: 1}, Username: username}))
}

func TestPresenceTracker_EnteredAndExited(t *testing.T) {
	f := newTrackerFixture(t)
	f.createUser(t, "ua", "alice")
	require.True(t, f.tracker.SetLocalUser("ua"))

	var deltas []models.PresenceDelta
	f.tracker.OnDelta(func(d models.PresenceDelta) { deltas = append(deltas, d) })
	var statuses []models.ConnectionStatus
	f.tracker.OnStatus(func(s models.ConnectionStatus) { statuses = append(statuses, s) })

	// {A} → {A, B}
	f.aw.ApplyUpdate(remoteUpdate("cb", 1, awarenessState(t, "ub", "bob")), "test")
	// {A, B} → {A, B, C}
	f.aw.ApplyUpdate(remoteUpdate("cc", 1, awarenessState(t, "uc", "carol")), "test")
	// {A, B, C} → {A, C}
	f.aw.ApplyUpdate(remoteUpdate("cb", 2, nil), "test")

	require.Len(t, deltas, 3)
	assert.Equal(t, []string{"ub"}, deltas[0].Entered)
	assert.Equal(t, []string{"uc"}, deltas[1].Entered)
	assert.Equal(t, []string{"ub"}, deltas[2].Exited)
	assert.Equal(t, "bob", deltas[2].Users["ub"].Username)
	assert.Equal(t, []string{"ua", "uc"}, deltas[2].Online)

	assert.Equal(t, []models.ConnectionStatus{models.StatusConnected}, statuses)
	assert.Equal(t, []string{"ua", "uc"}, f.tracker.Online())
	assert.True(t, f.tracker.IsOnline("uc"))
	assert.False(t, f.tracker.IsOnline("ub"))
}

func TestPresenceTracker_BaselineIsSilent(t *testing.T) {
	doc := crdt.NewDoc("local")
	aw := awareness.New("local", awareness.Options{})
	t.Cleanup(aw.Close)
	aw.ApplyUpdate(remoteUpdate("cb", 1, awarenessState(t, "ub", "bob")), "test")

	tracker := NewPresenceTracker(aw, doc, repository.NewDocUserRepo(doc), nil)
	var deltas int
	tracker.OnDelta(func(models.PresenceDelta) { deltas++ })
	stop := tracker.Start()
	defer stop()

	assert.Equal(t, []string{"ub"}, tracker.Online())
	assert.Zero(t, deltas)
}

func TestPresenceTracker_SetLocalUserPublishesWhenProfileArrives(t *testing.T) {
	f := newTrackerFixture(t)

	assert.False(t, f.tracker.SetLocalUser("ua"))
	var st models.AwarenessState
	assert.False(t, f.aw.LocalState(&st))

	f.createUser(t, "ua", "alice")
	require.True(t, f.aw.LocalState(&st))
	require.NotNil(t, st.User)
	assert.Equal(t, "alice", st.User.Username)

	name := "Alice A."
	require.NoError(t, f.users.UpdateProfile("ua", models.UserProfile{FullName: &name}))
	require.True(t, f.aw.LocalState(&st))
	assert.Equal(t, "Alice A.", st.User.FullName)

	f.tracker.ClearLocalUser()
	assert.False(t, f.aw.LocalState(&st))
	assert.Empty(t, f.tracker.LocalUserID())
}

func TestPresenceTracker_ConcurrentRecomputeKeepsLatestSnapshot(t *testing.T) {
	f := newTrackerFixture(t)
	f.createUser(t, "ua", "alice")

	var (
		mu     sync.Mutex
		online = map[string]bool{}
	)
	f.tracker.OnDelta(func(d models.PresenceDelta) {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range d.Entered {
			online[id] = true
		}
		for _, id := range d.Exited {
			delete(online, id)
		}
	})

	bob := awarenessState(t, "ub", "bob")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				f.tracker.SetLocalUser("ua")
			} else {
				f.tracker.ClearLocalUser()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 200; i++ {
			var state json.RawMessage
			if i%3 != 0 {
				state = bob
			}
			f.aw.ApplyUpdate(remoteUpdate("cb", i, state), "test")
		}
	}()
	wg.Wait()

	want := slices.Sorted(maps.Keys(ComputeOnline(f.aw.GetStates())))
	assert.Equal(t, want, f.tracker.Online())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, slices.Sorted(maps.Keys(online)), "deltas replay to the final online set")
}
