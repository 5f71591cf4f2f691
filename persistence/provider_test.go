package persistence

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/database"
	"github.com/akinalp/meshchat/pkg/crypto"
	"github.com/akinalp/meshchat/repository"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newRepo(t *testing.T) repository.UpdateRepository {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "p.db"), database.Migrations(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewSQLiteUpdateRepo(db.Conn)
}

func writeSample(doc *crdt.Doc) {
	doc.Transact(func(tx *crdt.Tx) {
		tx.SetMap("users")
		tx.SetMap("users", "u1")
		tx.Set([]string{"users", "u1", "username"}, "alice")
	})
	doc.Transact(func(tx *crdt.Tx) {
		tx.Set([]string{"users", "u1", "username"}, "alice2")
	})
}

func TestProvider_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	doc := crdt.NewDoc("a")
	p := New("ws1", doc, repo, Options{})
	require.NoError(t, p.Start(ctx))
	<-p.Synced()
	writeSample(doc)
	require.NoError(t, p.Close())

	n, err := repo.Count(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// yeni replica aynı workspace'i diskten yükler
	fresh := crdt.NewDoc("b")
	var origins []crdt.Origin
	fresh.OnUpdate(func(_ []crdt.Op, origin crdt.Origin) { origins = append(origins, origin) })

	p2 := New("ws1", fresh, repo, Options{})
	require.NoError(t, p2.Start(ctx))
	defer p2.Close()

	var name string
	require.True(t, fresh.Lookup(&name, "users", "u1", "username"))
	assert.Equal(t, "alice2", name)
	assert.Equal(t, []crdt.Origin{crdt.OriginPersistence}, origins)

	// yüklenen op'lar tekrar yazılmaz
	n, _ = repo.Count(ctx, "ws1")
	assert.Equal(t, 2, n)
}

func TestProvider_RemoteUpdatesAreStored(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	remote := crdt.NewDoc("r")
	writeSample(remote)

	doc := crdt.NewDoc("a")
	p := New("ws1", doc, repo, Options{})
	require.NoError(t, p.Start(ctx))
	doc.Apply(remote.Diff(nil), "transport")
	require.NoError(t, p.Close())

	n, err := repo.Count(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProvider_Encrypted(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	cipher, err := crypto.NewCipher(testKey)
	require.NoError(t, err)

	doc := crdt.NewDoc("a")
	p := New("ws1", doc, repo, Options{Cipher: cipher})
	require.NoError(t, p.Start(ctx))
	writeSample(doc)
	require.NoError(t, p.Close())

	rows, err := repo.ListByWorkspace(ctx, "ws1")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.True(t, r.Encrypted)
		assert.False(t, strings.Contains(r.Payload, "alice"))
	}

	// anahtarsız açılış şifreli satırları atlar, hata vermez
	plain := crdt.NewDoc("b")
	p2 := New("ws1", plain, repo, Options{})
	require.NoError(t, p2.Start(ctx))
	require.NoError(t, p2.Close())
	assert.False(t, plain.Has("users"))

	withKey := crdt.NewDoc("c")
	p3 := New("ws1", withKey, repo, Options{Cipher: cipher})
	require.NoError(t, p3.Start(ctx))
	require.NoError(t, p3.Close())
	assert.True(t, withKey.Has("users", "u1"))
}

func TestProvider_CompactsLargeLog(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	doc := crdt.NewDoc("a")
	p := New("ws1", doc, repo, Options{CompactThreshold: 3})
	require.NoError(t, p.Start(ctx))
	doc.Transact(func(tx *crdt.Tx) { tx.SetMap("channels") })
	for i := 0; i < 5; i++ {
		doc.Transact(func(tx *crdt.Tx) { tx.Set([]string{"channels", "counter"}, i) })
	}
	require.NoError(t, p.Close())

	n, _ := repo.Count(ctx, "ws1")
	require.Equal(t, 6, n)

	fresh := crdt.NewDoc("b")
	p2 := New("ws1", fresh, repo, Options{CompactThreshold: 3})
	require.NoError(t, p2.Start(ctx))
	require.NoError(t, p2.Close())

	n, _ = repo.Count(ctx, "ws1")
	assert.Equal(t, 1, n)

	var counter int
	require.True(t, fresh.Lookup(&counter, "channels", "counter"))
	assert.Equal(t, 4, counter)
}

func TestProvider_CloseIsIdempotent(t *testing.T) {
	p := New("ws1", crdt.NewDoc("a"), newRepo(t), Options{})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Error(t, p.Start(context.Background()))
}
