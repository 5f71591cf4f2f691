// Package crdt, replike document substrate'idir.
//
// Document, iç içe geçmiş LWW (last-writer-wins) map'lerden oluşan bir
// ağaçtır. Her yazma bir Op üretir; Op'lar replica'lar arasında herhangi bir
// sırayla, tekrar tekrar iletilebilir ve tüm replica'lar aynı duruma yakınsar.
//
// Sıralama: her Op bir Lamport clock taşır. Aynı key'e yapılan eşzamanlı
// yazmalarda büyük clock kazanır, eşitlikte replica id'si büyük olan.
//
// Nedensellik: her replica'nın Op'ları 1'den başlayan ardışık Seq taşır.
// Doc her replica için uyguladığı son ardışık Seq'i state vector'de tutar;
// sıra dışı gelen veya parent map'i henüz oluşmamış Op'lar pending kuyruğunda
// bekler ve her başarılı uygulamadan sonra tekrar denenir.
package crdt

import (
	"encoding/json"
	"strings"
)

// OpKind, bir Op'un yaptığı değişiklik türü.
type OpKind string

const (
	// OpSet, key'e JSON scalar/struct değer yazar.
	OpSet OpKind = "set"
	// OpMap, key'de boş bir nested map oluşturur. Aynı key'de canlı bir map
	// varsa ikisi birleşir (eşzamanlı oluşturma içerik kaybettirmez).
	OpMap OpKind = "map"
	// OpDelete, key'i siler. Silinen map'in altına sonradan gelen Op'lar düşer.
	OpDelete OpKind = "delete"
)

// ID, bir Op'un global kimliği: üreten replica + o replica'daki sıra no.
type ID struct {
	Replica string `json:"r"`
	Seq     uint64 `json:"s"`
}

// Op, document üzerinde tek bir atomik değişiklik. Wire formatı JSON'dur.
type Op struct {
	ID    ID              `json:"id"`
	Clock uint64          `json:"c"`
	Path  []string        `json:"p,omitempty"`
	Key   string          `json:"k"`
	Kind  OpKind          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

// stamp, Op'un LWW sıralama anahtarı.
func (o Op) stamp() Stamp {
	return Stamp{Counter: o.Clock, Replica: o.ID.Replica}
}

// Stamp, Lamport clock + replica tie-break.
type Stamp struct {
	Counter uint64
	Replica string
}

// Less, s'nin o'dan önce olup olmadığını döner.
func (s Stamp) Less(o Stamp) bool {
	if s.Counter != o.Counter {
		return s.Counter < o.Counter
	}
	return s.Replica < o.Replica
}

// StateVector, replica → uygulanmış son ardışık Seq.
type StateVector map[string]uint64

// Clone, vector'ün kopyası.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Origin, bir değişikliğin kaynağı. Provider'lar kendi origin'leriyle
// uyguladıkları Op'ları tekrar yayınlamaz.
type Origin string

const (
	// OriginLocal, bu replica'daki Transact çağrıları.
	OriginLocal Origin = "local"
	// OriginPersistence, diskten yüklenen Op'lar.
	OriginPersistence Origin = "persistence"
)

// Action, Change türü.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change, görünür durumdaki tek bir key değişikliği.
// Path, key'i içeren map'in yolu; tam yol Path + Key.
type Change struct {
	Path   []string
	Key    string
	Action Action
	Origin Origin
}

// Local, değişikliğin bu replica'daki bir Transact'ten gelip gelmediği.
func (c Change) Local() bool {
	return c.Origin == OriginLocal
}

// FullPath, Path + Key.
func (c Change) FullPath() []string {
	out := make([]string, 0, len(c.Path)+1)
	out = append(out, c.Path...)
	return append(out, c.Key)
}

// String, log'lar için "users/u1/name (update)" formatı.
func (c Change) String() string {
	return strings.Join(c.FullPath(), "/") + " (" + string(c.Action) + ")"
}

// hasPrefix, path'in prefix ile başlayıp başlamadığı.
func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func clonePath(p []string) []string {
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}
