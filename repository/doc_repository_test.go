package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg"
)

func newChannel(t *testing.T, doc *crdt.Doc, id string, createdAt int64) {
	t.Helper()
	require.NoError(t, NewDocChannelRepo(doc).Create(&models.Channel{
		Meta: models.ChannelMeta{ID: id, CreatedAt: createdAt},
		Name: id,
	}))
}

func TestDocUserRepo(t *testing.T) {
	doc := crdt.NewDoc("a")
	repo := NewDocUserRepo(doc)

	u := &models.User{Meta: models.UserMeta{ID: "u1", CreatedAt: 10}, Username: "alice"}
	require.NoError(t, repo.Create(u))
	assert.ErrorIs(t, repo.Create(u), pkg.ErrAlreadyExists)

	name := "Alice A."
	require.NoError(t, repo.UpdateProfile("u1", models.UserProfile{FullName: &name}))
	got, err := repo.GetByID("u1")
	require.NoError(t, err)
	assert.Equal(t, models.UserMeta{ID: "u1", CreatedAt: 10}, got.Meta)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "Alice A.", got.FullName)

	found, err := repo.FindByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.ID())

	_, err = repo.GetByID("nope")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateProfile("nope", models.UserProfile{FullName: &name}), pkg.ErrNotFound)
}

func TestDocUserRepo_ListSortedByCreatedAt(t *testing.T) {
	doc := crdt.NewDoc("a")
	repo := NewDocUserRepo(doc)
	for _, u := range []models.User{
		{Meta: models.UserMeta{ID: "z", CreatedAt: 1}, Username: "zed"},
		{Meta: models.UserMeta{ID: "a", CreatedAt: 3}, Username: "amy"},
		{Meta: models.UserMeta{ID: "m", CreatedAt: 2}, Username: "max"},
	} {
		require.NoError(t, repo.Create(&u))
	}

	var ids []string
	for _, u := range repo.List() {
		ids = append(ids, u.ID())
	}
	assert.Equal(t, []string{"z", "m", "a"}, ids)
}

func TestDocChannelRepo(t *testing.T) {
	doc := crdt.NewDoc("a")
	repo := NewDocChannelRepo(doc)
	newChannel(t, doc, "c1", 1)

	require.NoError(t, repo.Update("c1", "renamed", "desc"))
	ch, err := repo.GetByID("c1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", ch.Name)
	assert.Equal(t, "desc", ch.Description)
	assert.Equal(t, int64(1), ch.Meta.CreatedAt)

	locked, err := repo.ToggleLock("c1")
	require.NoError(t, err)
	assert.True(t, locked)
	locked, err = repo.ToggleLock("c1")
	require.NoError(t, err)
	assert.False(t, locked)

	assert.Equal(t, 1, repo.Count())
	require.NoError(t, repo.Delete("c1"))
	assert.False(t, repo.Exists("c1"))
	assert.ErrorIs(t, repo.Delete("c1"), pkg.ErrNotFound)
	_, err = repo.ToggleLock("c1")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestDocMessageRepo_SoftDeleteKeepsMessage(t *testing.T) {
	doc := crdt.NewDoc("a")
	newChannel(t, doc, "c1", 1)
	repo := NewDocMessageRepo(doc)

	msg := &models.Message{Meta: models.MessageMeta{ID: "m1", UserID: "u1", CreatedAt: 5}, Text: "hello"}
	require.NoError(t, repo.Create("c1", msg))
	require.NoError(t, repo.SoftDelete("c1", "m1", 9))

	got, err := repo.GetByID("c1", "m1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, int64(9), got.UpdatedAt)
	assert.Equal(t, msg.Meta, got.Meta)
	assert.Equal(t, []string{"m1"}, repo.IDs("c1"))
}

func TestDocMessageRepo_CreateRequiresChannel(t *testing.T) {
	repo := NewDocMessageRepo(crdt.NewDoc("a"))
	err := repo.Create("missing", &models.Message{Meta: models.MessageMeta{ID: "m1"}})
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	_, err = repo.ListByChannel("missing")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestDocMessageRepo_Reactions(t *testing.T) {
	doc := crdt.NewDoc("a")
	newChannel(t, doc, "c1", 1)
	repo := NewDocMessageRepo(doc)
	require.NoError(t, repo.Create("c1", &models.Message{Meta: models.MessageMeta{ID: "m1", CreatedAt: 1}, Text: "x"}))

	require.NoError(t, repo.AddReaction("c1", "m1", "👍", "u1"))
	require.NoError(t, repo.AddReaction("c1", "m1", "👍", "u1"))
	require.NoError(t, repo.AddReaction("c1", "m1", "🎉", "u2"))

	got, err := repo.GetByID("c1", "m1")
	require.NoError(t, err)
	require.Len(t, got.Reactions, 2)
	assert.Equal(t, models.ReactionGroup{Emoji: "🎉", Count: 1, Users: []string{"u2"}}, got.Reactions[0])
	assert.Equal(t, models.ReactionGroup{Emoji: "👍", Count: 1, Users: []string{"u1"}}, got.Reactions[1])

	// üye olmayanı çıkarmak no-op
	require.NoError(t, repo.RemoveReaction("c1", "m1", "👍", "u9"))
	// son kullanıcı çıkınca emoji silinir
	require.NoError(t, repo.RemoveReaction("c1", "m1", "🎉", "u2"))
	assert.False(t, doc.Has(MessagePath("c1", "m1", KeyReactions, "🎉")...))

	got, _ = repo.GetByID("c1", "m1")
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "👍", got.Reactions[0].Emoji)
}

func TestDocMessageRepo_ClearChannel(t *testing.T) {
	doc := crdt.NewDoc("a")
	newChannel(t, doc, "c1", 1)
	repo := NewDocMessageRepo(doc)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repo.Create("c1", &models.Message{Meta: models.MessageMeta{ID: id}}))
	}

	n, err := repo.ClearChannel("c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, repo.IDs("c1"))

	// kanal boşaldıktan sonra yeni mesaj eklenebilir
	require.NoError(t, repo.Create("c1", &models.Message{Meta: models.MessageMeta{ID: "m4"}}))
	assert.Equal(t, []string{"m4"}, repo.IDs("c1"))
}

func TestDocMemberRepo(t *testing.T) {
	doc := crdt.NewDoc("a")
	newChannel(t, doc, "c1", 1)
	repo := NewDocMemberRepo(doc)

	require.NoError(t, repo.Join("c1", "u2", 5))
	require.NoError(t, repo.Join("c1", "u1", 7))
	require.NoError(t, repo.Join("c1", "u1", 9))
	assert.True(t, repo.IsMember("c1", "u1"))
	at, ok := repo.JoinedAt("c1", "u1")
	assert.True(t, ok)
	assert.Equal(t, int64(7), at)

	members, err := repo.List("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, members)

	require.NoError(t, repo.Leave("c1", "u1"))
	require.NoError(t, repo.Leave("c1", "u1"))
	assert.False(t, repo.IsMember("c1", "u1"))

	assert.ErrorIs(t, repo.Join("missing", "u1", 1), pkg.ErrNotFound)
}

func TestDocRepos_ConcurrentMessagesMerge(t *testing.T) {
	a := crdt.NewDoc("a")
	newChannel(t, a, "c1", 1)
	b := crdt.NewDoc("b")
	b.Apply(a.Diff(nil), "sync")

	require.NoError(t, NewDocMessageRepo(a).Create("c1", &models.Message{Meta: models.MessageMeta{ID: "ma", CreatedAt: 2}}))
	require.NoError(t, NewDocMessageRepo(b).Create("c1", &models.Message{Meta: models.MessageMeta{ID: "mb", CreatedAt: 3}}))

	a.Apply(b.Diff(a.StateVector()), "sync")
	b.Apply(a.Diff(b.StateVector()), "sync")

	assert.Equal(t, []string{"ma", "mb"}, NewDocMessageRepo(a).IDs("c1"))
	assert.Equal(t, []string{"ma", "mb"}, NewDocMessageRepo(b).IDs("c1"))
}
