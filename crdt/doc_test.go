package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remote Origin = "remote"

// dump, document'in görünür durumunu karşılaştırılabilir bir ağaca çevirir.
func dump(d *Doc) map[string]any {
	var out map[string]any
	d.Read(func(r Reader) {
		out = dumpNode(r, nil)
	})
	return out
}

func dumpNode(r Reader, path []string) map[string]any {
	out := map[string]any{}
	for _, k := range r.Keys(path...) {
		p := append(append([]string{}, path...), k)
		if r.IsMap(p...) {
			out[k] = dumpNode(r, p)
			continue
		}
		var v any
		r.Lookup(&v, p...)
		out[k] = v
	}
	return out
}

// syncDocs, iki document'i karşılıklı diff ile eşitler.
func syncDocs(a, b *Doc) {
	b.Apply(a.Diff(b.StateVector()), remote)
	a.Apply(b.Diff(a.StateVector()), remote)
}

func TestDoc_TransactAndRead(t *testing.T) {
	d := NewDoc("a")

	d.Transact(func(tx *Tx) {
		require.True(t, tx.SetMap("users"))
		require.True(t, tx.SetMap("users", "u1"))
		require.True(t, tx.Set([]string{"users", "u1", "username"}, "alice"))
		// aynı transaction içinde okunabilir
		assert.True(t, tx.Has("users", "u1", "username"))
	})

	var name string
	require.True(t, d.Lookup(&name, "users", "u1", "username"))
	assert.Equal(t, "alice", name)
	assert.Equal(t, []string{"u1"}, d.Keys("users"))
	assert.True(t, d.IsMap("users", "u1"))
	assert.False(t, d.IsMap("users", "u1", "username"))
	assert.Equal(t, StateVector{"a": 3}, d.StateVector())
}

func TestDoc_WriteUnderMissingParentIsRejected(t *testing.T) {
	d := NewDoc("a")

	d.Transact(func(tx *Tx) {
		assert.False(t, tx.Set([]string{"users", "u1", "username"}, "x"))
		assert.False(t, tx.Delete("users"))
		assert.Equal(t, 0, tx.Len())
	})
	assert.Empty(t, d.StateVector())
}

func TestDoc_ObserveFiltersByPrefix(t *testing.T) {
	d := NewDoc("a")
	d.Transact(func(tx *Tx) {
		tx.SetMap("users")
		tx.SetMap("channels")
	})

	var userChanges [][]Change
	unsubscribe := d.Observe([]string{"users"}, func(cs []Change) {
		userChanges = append(userChanges, cs)
	})

	d.Transact(func(tx *Tx) {
		tx.SetMap("users", "u1")
		tx.Set([]string{"users", "u1", "username"}, "alice")
		tx.SetMap("channels", "c1")
	})

	require.Len(t, userChanges, 1, "bir commit tek batch")
	require.Len(t, userChanges[0], 2)
	assert.Equal(t, Change{Path: []string{"users"}, Key: "u1", Action: ActionAdd, Origin: OriginLocal}, userChanges[0][0])
	assert.Equal(t, "users/u1/username (add)", userChanges[0][1].String())
	assert.True(t, userChanges[0][1].Local())

	d.Transact(func(tx *Tx) {
		tx.Set([]string{"users", "u1", "username"}, "alicia")
		tx.Delete("users", "u1")
	})
	require.Len(t, userChanges, 2)
	assert.Equal(t, ActionUpdate, userChanges[1][0].Action)
	assert.Equal(t, ActionDelete, userChanges[1][1].Action)

	unsubscribe()
	unsubscribe()
	d.Transact(func(tx *Tx) { tx.SetMap("users", "u2") })
	assert.Len(t, userChanges, 2)
}

func TestDoc_HandlersMayMutate(t *testing.T) {
	d := NewDoc("a")
	d.Transact(func(tx *Tx) { tx.SetMap("log") })

	var seen []string
	d.Observe([]string{"log"}, func(cs []Change) {
		for _, c := range cs {
			seen = append(seen, c.Key)
			if c.Key == "first" {
				d.Transact(func(tx *Tx) { tx.Set([]string{"log", "second"}, true) })
				// iç içe commit'in event'i bu handler bitince teslim edilir
				assert.Equal(t, []string{"first"}, seen)
			}
		}
	})

	d.Transact(func(tx *Tx) { tx.Set([]string{"log", "first"}, true) })
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestDoc_OnUpdateCarriesOrigin(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")

	var origins []Origin
	b.OnUpdate(func(ops []Op, origin Origin) { origins = append(origins, origin) })

	a.Transact(func(tx *Tx) { tx.Set([]string{"k"}, 1) })
	b.Apply(a.Diff(nil), remote)
	b.Transact(func(tx *Tx) { tx.Set([]string{"k"}, 2) })

	assert.Equal(t, []Origin{remote, OriginLocal}, origins)
}

func TestDoc_DuplicateDeliveryIsNoop(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	a.Transact(func(tx *Tx) { tx.Set([]string{"k"}, "v") })

	ops := a.Diff(nil)
	assert.Equal(t, 1, b.Apply(ops, remote))

	calls := 0
	b.Observe(nil, func([]Change) { calls++ })
	assert.Equal(t, 0, b.Apply(ops, remote))
	assert.Equal(t, 0, calls)
}

func TestDoc_OutOfOrderOpsWaitForGap(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	a.Transact(func(tx *Tx) { tx.Set([]string{"x"}, 1) })
	a.Transact(func(tx *Tx) { tx.Set([]string{"y"}, 2) })

	ops := a.Diff(nil)
	require.Len(t, ops, 2)

	assert.Equal(t, 0, b.Apply(ops[1:], remote))
	assert.Equal(t, 1, b.PendingLen())
	assert.False(t, b.Has("y"))

	assert.Equal(t, 2, b.Apply(ops[:1], remote))
	assert.Equal(t, 0, b.PendingLen())
	assert.Equal(t, dump(a), dump(b))
}

func TestDoc_ChildBeforeParentIsBuffered(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	c := NewDoc("c")

	a.Transact(func(tx *Tx) { tx.SetMap("channels") })
	b.Apply(a.Diff(nil), remote)
	b.Transact(func(tx *Tx) { tx.Set([]string{"channels", "general"}, "hi") })

	// c, b'nin Op'unu a'nınkinden önce alır
	c.Apply(b.Diff(StateVector{"a": 1}), remote)
	assert.Equal(t, 1, c.PendingLen())

	c.Apply(a.Diff(nil), remote)
	assert.Equal(t, 0, c.PendingLen())
	assert.Equal(t, dump(b), dump(c))
}

func TestDoc_ConcurrentScalarWritesConverge(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")

	a.Transact(func(tx *Tx) { tx.Set([]string{"title"}, "from-a") })
	b.Transact(func(tx *Tx) { tx.Set([]string{"title"}, "from-b") })
	syncDocs(a, b)

	assert.Equal(t, dump(a), dump(b))
	var title string
	require.True(t, a.Lookup(&title, "title"))
	// eşit clock → büyük replica id kazanır
	assert.Equal(t, "from-b", title)
}

func TestDoc_ConcurrentMapCreationMerges(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	a.Transact(func(tx *Tx) { tx.SetMap("reactions") })
	syncDocs(a, b)

	a.Transact(func(tx *Tx) {
		tx.SetMap("reactions", "👍")
		tx.Set([]string{"reactions", "👍", "u1"}, true)
	})
	b.Transact(func(tx *Tx) {
		tx.SetMap("reactions", "👍")
		tx.Set([]string{"reactions", "👍", "u2"}, true)
	})
	syncDocs(a, b)

	assert.Equal(t, dump(a), dump(b))
	assert.Equal(t, []string{"u1", "u2"}, a.Keys("reactions", "👍"))
}

func TestDoc_DeleteWinsOverConcurrentChild(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	a.Transact(func(tx *Tx) {
		tx.SetMap("channels")
		tx.SetMap("channels", "c1")
		tx.SetMap("channels", "c1", "messages")
	})
	syncDocs(a, b)

	a.Transact(func(tx *Tx) { tx.Delete("channels", "c1") })
	b.Transact(func(tx *Tx) {
		tx.SetMap("channels", "c1", "messages", "m1")
		tx.Set([]string{"channels", "c1", "messages", "m1", "text"}, "late")
	})
	syncDocs(a, b)

	assert.Equal(t, dump(a), dump(b))
	assert.False(t, a.Has("channels", "c1"))
	assert.Empty(t, b.Keys("channels"))
}

func TestDoc_ConvergesUnderAllDeliveryOrders(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	ops := []Op{
		{ID: ID{"a", 1}, Clock: 3, Key: "x", Kind: OpMap},
		{ID: ID{"a", 2}, Clock: 4, Path: []string{"x"}, Key: "k", Kind: OpSet, Value: raw("1")},
		{ID: ID{"b", 1}, Clock: 5, Key: "x", Kind: OpDelete},
		{ID: ID{"c", 1}, Clock: 7, Key: "x", Kind: OpMap},
		{ID: ID{"d", 1}, Clock: 6, Key: "y", Kind: OpSet, Value: raw(1)},
		{ID: ID{"e", 1}, Clock: 6, Key: "y", Kind: OpSet, Value: raw(2)},
	}

	var want map[string]any
	permute(ops, func(order []Op) {
		d := NewDoc("z")
		for _, op := range order {
			d.Apply([]Op{op}, remote)
		}
		got := dump(d)
		if want == nil {
			want = got
			return
		}
		require.Equal(t, want, got)
	})

	assert.Equal(t, map[string]any{
		"x": map[string]any{"k": "1"},
		"y": float64(2),
	}, want)
}

func TestDoc_DiffReturnsOnlyMissingOps(t *testing.T) {
	a := NewDoc("a")
	a.Transact(func(tx *Tx) { tx.Set([]string{"one"}, 1) })
	sv := a.StateVector()
	a.Transact(func(tx *Tx) { tx.Set([]string{"two"}, 2) })

	diff := a.Diff(sv)
	require.Len(t, diff, 1)
	assert.Equal(t, "two", diff[0].Key)
	assert.Empty(t, a.Diff(a.StateVector()))
}

func TestDoc_InvalidOpsAreSkipped(t *testing.T) {
	d := NewDoc("a")
	n := d.Apply([]Op{
		{ID: ID{"", 1}, Key: "k", Kind: OpMap},
		{ID: ID{"b", 0}, Key: "k", Kind: OpMap},
		{ID: ID{"b", 1}, Key: "k", Kind: "weird"},
		{ID: ID{"b", 1}, Key: "k", Kind: OpSet, Value: json.RawMessage("{")},
	}, remote)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, d.PendingLen())
}

func TestOp_JSONWireForm(t *testing.T) {
	op := Op{ID: ID{"a", 1}, Clock: 2, Path: []string{"users"}, Key: "u1", Kind: OpMap}
	b, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":{"r":"a","s":1},"c":2,"p":["users"],"k":"u1","t":"map"}`, string(b))
}

func permute(ops []Op, fn func([]Op)) {
	var rec func(int)
	rec = func(i int) {
		if i == len(ops) {
			fn(ops)
			return
		}
		for j := i; j < len(ops); j++ {
			ops[i], ops[j] = ops[j], ops[i]
			rec(i + 1)
			ops[i], ops[j] = ops[j], ops[i]
		}
	}
	rec(0)
}
