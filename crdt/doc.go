package crdt

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"

	"github.com/akinalp/meshchat/pkg/emitter"
)

// ─── Internal tree ───

type entryKind uint8

const (
	kindDeleted entryKind = iota
	kindScalar
	kindMap
)

// entry, bir key'in LWW register'ı. Kazanan yazma (stamp) kind'ı belirler.
//
// child, key'de bir kez map oluşturulduktan sonra hep korunur: key silinse
// veya scalar'a dönse bile alt Op'lar bu node'a uygulanmaya devam eder ama
// görünmez. Böylece sonuç Op'ların geliş sırasından bağımsızdır.
type entry struct {
	stamp Stamp
	kind  entryKind
	value json.RawMessage
	child *node
}

type node struct {
	entries map[string]*entry
}

func newNode() *node {
	return &node{entries: make(map[string]*entry)}
}

type batch struct {
	ops     []Op
	changes []Change
	origin  Origin
}

// ─── Doc ───

// Doc, bir replica'nın document kopyası. Tüm metodlar eşzamanlı kullanım
// için güvenlidir.
//
// Event'ler (Observe, OnUpdate) commit sırasıyla ve hiçbir lock tutulmadan
// çağrılır; handler içinden Transact/Apply yapılabilir, iç içe oluşan
// event'ler sıraya girer.
type Doc struct {
	replica string

	mu      sync.RWMutex
	root    *node
	clock   uint64
	seq     uint64
	vector  StateVector
	log     []Op
	pending map[ID]Op

	events emitter.Emitter[batch]
}

// NewDoc, boş bir document oluşturur. replica, bu kopyanın tekil id'sidir
// (transport'ta peer id olarak da kullanılır).
func NewDoc(replica string) *Doc {
	return &Doc{
		replica: replica,
		root:    newNode(),
		vector:  make(StateVector),
		pending: make(map[ID]Op),
	}
}

// Replica, bu kopyanın id'si.
func (d *Doc) Replica() string {
	return d.replica
}

// Transact, fn içindeki tüm yazmaları tek bir commit olarak uygular.
// Event'ler fn döndükten sonra, tek batch halinde yayınlanır.
//
// fn içinde Doc metodları çağrılmamalıdır (deadlock); okumalar Tx üzerinden
// yapılır.
func (d *Doc) Transact(fn func(tx *Tx)) {
	d.mu.Lock()
	tx := &Tx{d: d}
	fn(tx)
	tx.d = nil

	if len(tx.ops) == 0 {
		d.mu.Unlock()
		return
	}

	d.log = append(d.log, tx.ops...)
	drain := d.events.Enqueue(batch{ops: tx.ops, changes: tx.changes, origin: OriginLocal})
	d.mu.Unlock()

	if drain {
		d.events.Drain()
	}
}

// Apply, başka bir replica'dan (veya diskten) gelen Op'ları uygular.
// Tekrar gelen Op'lar yok sayılır; erken gelenler pending'e alınır.
// Uygulanan Op sayısını döner.
func (d *Doc) Apply(ops []Op, origin Origin) int {
	d.mu.Lock()

	var applied []Op
	var changes []Change

	for _, op := range ops {
		if !op.valid() {
			continue
		}
		switch d.tryIntegrate(op, origin, &changes) {
		case statusApplied:
			applied = append(applied, op)
		case statusWait:
			d.pending[op.ID] = op
		}
	}

	if len(applied) > 0 && len(d.pending) > 0 {
		applied = append(applied, d.retryPending(origin, &changes)...)
	}

	if len(applied) == 0 {
		d.mu.Unlock()
		return 0
	}

	drain := d.events.Enqueue(batch{ops: applied, changes: changes, origin: origin})
	d.mu.Unlock()

	if drain {
		d.events.Drain()
	}
	return len(applied)
}

// Observe, path'i prefix ile başlayan değişiklikleri dinler. Her commit için
// en fazla bir çağrı yapılır. Dönen fonksiyon aboneliği iptal eder.
func (d *Doc) Observe(prefix []string, fn func([]Change)) func() {
	prefix = clonePath(prefix)
	return d.events.Subscribe(func(b batch) {
		var matched []Change
		for _, c := range b.changes {
			if hasPrefix(c.FullPath(), prefix) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			fn(matched)
		}
	})
}

// OnUpdate, her commit'te uygulanan Op'ları origin ile birlikte bildirir.
// Transport ve persistence provider'ları bunu kullanır.
func (d *Doc) OnUpdate(fn func(ops []Op, origin Origin)) func() {
	return d.events.Subscribe(func(b batch) {
		if len(b.ops) > 0 {
			fn(b.ops, b.origin)
		}
	})
}

// StateVector, uygulanmış Op'ların özeti.
func (d *Doc) StateVector() StateVector {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vector.Clone()
}

// Diff, sv'de olmayan tüm Op'ları uygulanma sırasıyla döner.
func (d *Doc) Diff(sv StateVector) []Op {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Op
	for _, op := range d.log {
		if op.ID.Seq > sv[op.ID.Replica] {
			out = append(out, op)
		}
	}
	return out
}

// PendingLen, bağımlılığı henüz gelmemiş Op sayısı.
func (d *Doc) PendingLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

// ─── Reads ───

// Keys, path'teki map'in canlı key'lerini sıralı döner.
func (d *Doc) Keys(path ...string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.keys(path)
}

// Lookup, path'teki scalar değeri out'a decode eder.
func (d *Doc) Lookup(out any, path ...string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(out, path)
}

// Has, path'te canlı bir değer (scalar veya map) olup olmadığı.
func (d *Doc) Has(path ...string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.visibleEntry(path) != nil
}

// IsMap, path'te canlı bir map olup olmadığı.
func (d *Doc) IsMap(path ...string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e := d.visibleEntry(path)
	return e != nil && e.kind == kindMap
}

// Read, fn'i tutarlı bir snapshot üzerinde çalıştırır. fn içinde yazma yapılamaz.
func (d *Doc) Read(fn func(r Reader)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(reader{d: d})
}

// Reader, Doc.Read ve Tx'in ortak okuma yüzeyi.
type Reader interface {
	Keys(path ...string) []string
	Lookup(out any, path ...string) bool
	Has(path ...string) bool
	IsMap(path ...string) bool
}

type reader struct{ d *Doc }

func (r reader) Keys(path ...string) []string        { return r.d.keys(path) }
func (r reader) Lookup(out any, path ...string) bool { return r.d.lookup(out, path) }
func (r reader) Has(path ...string) bool             { return r.d.visibleEntry(path) != nil }
func (r reader) IsMap(path ...string) bool {
	e := r.d.visibleEntry(path)
	return e != nil && e.kind == kindMap
}

// ─── Internals (d.mu tutulurken çağrılır) ───

type integrateStatus uint8

const (
	statusDuplicate integrateStatus = iota
	statusApplied
	statusWait
)

func (o Op) valid() bool {
	if o.ID.Replica == "" || o.ID.Seq == 0 || o.Key == "" {
		return false
	}
	switch o.Kind {
	case OpSet:
		return len(o.Value) > 0 && json.Valid(o.Value)
	case OpMap, OpDelete:
		return true
	}
	return false
}

func (d *Doc) tryIntegrate(op Op, origin Origin, changes *[]Change) integrateStatus {
	have := d.vector[op.ID.Replica]
	if op.ID.Seq <= have {
		return statusDuplicate
	}
	if op.ID.Seq != have+1 {
		return statusWait
	}

	parent, visible := d.resolve(op.Path)
	if parent == nil {
		return statusWait
	}

	if c, ok := d.integrate(parent, op); ok && visible {
		c.Origin = origin
		*changes = append(*changes, c)
	}

	d.vector[op.ID.Replica] = op.ID.Seq
	if op.Clock > d.clock {
		d.clock = op.Clock
	}
	d.log = append(d.log, op)
	return statusApplied
}

// retryPending, ilerleme kalmayana kadar pending Op'ları yeniden dener.
func (d *Doc) retryPending(origin Origin, changes *[]Change) []Op {
	var applied []Op
	for progress := true; progress; {
		progress = false

		ids := make([]ID, 0, len(d.pending))
		for id := range d.pending {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if ids[i].Replica != ids[j].Replica {
				return ids[i].Replica < ids[j].Replica
			}
			return ids[i].Seq < ids[j].Seq
		})

		for _, id := range ids {
			op := d.pending[id]
			switch d.tryIntegrate(op, origin, changes) {
			case statusApplied:
				delete(d.pending, id)
				applied = append(applied, op)
				progress = true
			case statusDuplicate:
				delete(d.pending, id)
			}
		}
	}
	return applied
}

// resolve, path'teki map node'unu döner. Path üzerindeki bir entry hiç
// oluşmamışsa nil döner (Op beklemeli). visible, path'in tamamının canlı
// map'lerden oluşup oluşmadığıdır.
func (d *Doc) resolve(path []string) (*node, bool) {
	cur := d.root
	visible := true
	for _, seg := range path {
		e := cur.entries[seg]
		if e == nil {
			return nil, false
		}
		if e.kind != kindMap {
			visible = false
		}
		if e.child == nil {
			e.child = newNode()
		}
		cur = e.child
	}
	return cur, visible
}

// integrate, Op'u parent node'a uygular. Görünür bir değişiklik olduysa
// (Change, true) döner.
func (d *Doc) integrate(parent *node, op Op) (Change, bool) {
	st := op.stamp()
	existing := parent.entries[op.Key]

	before := kindDeleted
	if existing != nil {
		before = existing.kind
	}

	switch op.Kind {
	case OpSet:
		if existing != nil && !existing.stamp.Less(st) {
			return Change{}, false
		}
		if existing == nil {
			existing = &entry{}
			parent.entries[op.Key] = existing
		}
		existing.stamp = st
		existing.kind = kindScalar
		existing.value = op.Value

	case OpMap:
		if existing != nil && existing.kind == kindMap {
			if existing.stamp.Less(st) {
				existing.stamp = st
			}
			return Change{}, false
		}
		if existing != nil && !existing.stamp.Less(st) {
			return Change{}, false
		}
		if existing == nil {
			existing = &entry{}
			parent.entries[op.Key] = existing
		}
		existing.stamp = st
		existing.kind = kindMap
		existing.value = nil
		if existing.child == nil {
			existing.child = newNode()
		}

	case OpDelete:
		if existing == nil {
			parent.entries[op.Key] = &entry{stamp: st, kind: kindDeleted}
			return Change{}, false
		}
		if !existing.stamp.Less(st) {
			return Change{}, false
		}
		existing.stamp = st
		existing.kind = kindDeleted
		existing.value = nil
	}

	after := existing.kind
	c := Change{Path: clonePath(op.Path), Key: op.Key}
	switch {
	case before == kindDeleted && after == kindDeleted:
		return Change{}, false
	case before == kindDeleted:
		c.Action = ActionAdd
	case after == kindDeleted:
		c.Action = ActionDelete
	default:
		c.Action = ActionUpdate
	}
	return c, true
}

// visibleEntry, path'in tamamı canlıysa son entry'yi döner.
func (d *Doc) visibleEntry(path []string) *entry {
	if len(path) == 0 {
		return nil
	}
	cur := d.root
	for i, seg := range path {
		e := cur.entries[seg]
		if e == nil || e.kind == kindDeleted {
			return nil
		}
		if i == len(path)-1 {
			return e
		}
		if e.kind != kindMap {
			return nil
		}
		cur = e.child
	}
	return nil
}

func (d *Doc) visibleNode(path []string) *node {
	if len(path) == 0 {
		return d.root
	}
	e := d.visibleEntry(path)
	if e == nil || e.kind != kindMap {
		return nil
	}
	return e.child
}

func (d *Doc) keys(path []string) []string {
	n := d.visibleNode(path)
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.entries))
	for k, e := range n.entries {
		if e.kind != kindDeleted {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func (d *Doc) lookup(out any, path []string) bool {
	e := d.visibleEntry(path)
	if e == nil || e.kind != kindScalar {
		return false
	}
	return json.Unmarshal(e.value, out) == nil
}

// nextOp, yerel bir Op için id ve clock üretir.
func (d *Doc) nextOp(kind OpKind, path []string, key string, value json.RawMessage) Op {
	d.seq++
	d.clock++
	d.vector[d.replica] = d.seq
	return Op{
		ID:    ID{Replica: d.replica, Seq: d.seq},
		Clock: d.clock,
		Path:  clonePath(path),
		Key:   key,
		Kind:  kind,
		Value: value,
	}
}
