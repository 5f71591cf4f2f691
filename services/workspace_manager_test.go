package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/meshchat/database"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/i18n"
	"github.com/akinalp/meshchat/repository"
	"github.com/akinalp/meshchat/transport"
)

func newManager(t *testing.T, network *transport.MemoryNetwork, deps ManagerDeps) *WorkspaceManager {
	t.Helper()
	i18n.MustLoadEmbedded()
	if network != nil {
		deps.Transport = network.Factory()
	}
	m := NewWorkspaceManager(deps, ManagerOptions{})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func feedMessages(feed *ToastFeed) []string {
	var out []string
	for _, t := range feed.List() {
		out = append(out, t.Message)
	}
	return out
}

func channelByName(t *testing.T, s *Session, name string) string {
	t.Helper()
	for _, ch := range s.Chat.Channels() {
		if ch.Name == name {
			return ch.ID()
		}
	}
	t.Fatalf("channel %s not found", name)
	return ""
}

func TestWorkspaceManager_PeersSyncAndNotify(t *testing.T) {
	ctx := context.Background()
	network := transport.NewMemoryNetwork(nil)
	mA := newManager(t, network, ManagerDeps{})
	mB := newManager(t, network, ManagerDeps{})

	a, err := mA.BindWorkspace(ctx, "team")
	require.NoError(t, err)
	require.True(t, a.Chat.InitializeDefaults())
	alice := a.Chat.CreateUser("alice", "", "")
	require.True(t, a.SetLocalUser(alice))

	b, err := mB.BindWorkspace(ctx, "team")
	require.NoError(t, err)
	assert.Len(t, b.Chat.Channels(), 3)
	assert.Equal(t, transport.StatusConnected, b.Transport.Status())

	bob := b.Chat.CreateUser("bob", "", "")
	require.True(t, b.SetLocalUser(bob))
	assert.Equal(t, models.StatusConnected, a.Tracker.Status())
	assert.ElementsMatch(t, []string{alice, bob}, a.Tracker.Online())

	b.Chat.AddMessage(channelByName(t, b, "general"), bob, "seen in place", "")
	b.Chat.AddMessage(channelByName(t, b, "random"), bob, "hi", "")

	msgs := feedMessages(mA.Feed())
	assert.Contains(t, msgs, "bob joined the chat")
	assert.Contains(t, msgs, "bob entered the chat")
	assert.Contains(t, msgs, "bob in #random: hi…")
	assert.NotContains(t, msgs, "bob in #general: seen in place…")

	require.NoError(t, b.Close())
	assert.Contains(t, feedMessages(mA.Feed()), "bob exited the chat")
	assert.Equal(t, models.StatusDisconnected, a.Tracker.Status())
}

func TestWorkspaceManager_SwitchTearsDownPreviousSession(t *testing.T) {
	ctx := context.Background()
	network := transport.NewMemoryNetwork(nil)
	mA := newManager(t, network, ManagerDeps{})
	mB := newManager(t, network, ManagerDeps{})

	first, err := mA.BindWorkspace(ctx, "ws1")
	require.NoError(t, err)
	same, err := mA.BindWorkspace(ctx, "ws1")
	require.NoError(t, err)
	assert.Same(t, first, same)

	b, err := mB.BindWorkspace(ctx, "ws1")
	require.NoError(t, err)
	ch := b.Chat.CreateChannel("dev", "")
	assert.Equal(t, 2, network.Peers("ws1"))

	second, err := mA.BindWorkspace(ctx, "ws2")
	require.NoError(t, err)
	assert.Equal(t, "ws2", mA.Session().WorkspaceID)
	assert.Equal(t, 1, network.Peers("ws1"))
	assert.Empty(t, second.Chat.Channels())

	before := len(mA.Feed().List())
	b.Chat.AddMessage(ch, "someone", "nobody is listening", "")
	assert.Len(t, mA.Feed().List(), before)
	assert.Equal(t, transport.StatusDisconnected, first.Transport.Status())
}

func TestWorkspaceManager_TransportFailure(t *testing.T) {
	network := transport.NewMemoryNetwork(nil)
	network.SetReachable(false)
	m := newManager(t, network, ManagerDeps{})

	s, err := m.BindWorkspace(context.Background(), "ws")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, pkg.ErrTransport)
	assert.Nil(t, m.Session())
}

func TestWorkspaceManager_OfflineSessionRestoresFromDisk(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(filepath.Join(t.TempDir(), "peer.db"), database.Migrations(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	deps := ManagerDeps{
		Updates:  repository.NewSQLiteUpdateRepo(db.Conn),
		Settings: repository.NewSQLiteSettingsRepo(db.Conn),
	}

	m1 := newManager(t, nil, deps)
	s1, err := m1.BindWorkspace(ctx, "ws")
	require.NoError(t, err)
	require.NotNil(t, s1.Persistence)
	require.True(t, s1.Chat.InitializeDefaults())
	user := s1.Chat.CreateUser("alice", "Alice", "")
	require.True(t, s1.SetLocalUser(user))
	require.True(t, s1.Chat.SelectChannel(channelByName(t, s1, "random")))
	require.NoError(t, m1.Close())

	_, err = m1.BindWorkspace(ctx, "ws")
	assert.ErrorIs(t, err, pkg.ErrClosed)

	m2 := newManager(t, nil, deps)
	s2, err := m2.BindWorkspace(ctx, "ws")
	require.NoError(t, err)
	assert.Len(t, s2.Chat.Channels(), 3)
	assert.NotEqual(t, s1.Doc.Replica(), s2.Doc.Replica())

	current, ok := s2.Chat.CurrentChannel()
	require.True(t, ok)
	assert.Equal(t, "random", current.Name)
	assert.Equal(t, user, s2.Tracker.LocalUserID())

	var st models.AwarenessState
	require.True(t, s2.Awareness.LocalState(&st))
	assert.Equal(t, "Alice", st.User.FullName)
	assert.Empty(t, feedMessages(m2.Feed()))

	// Kanal seçimi workspace'e özeldir.
	other, err := m2.BindWorkspace(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other.Selection.ChannelID())
	assert.Equal(t, user, other.Selection.UserID())
}
