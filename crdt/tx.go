package crdt

import "encoding/json"

// Tx, Doc.Transact içindeki yazma/okuma yüzeyi. Yazmalar anında uygulanır;
// aynı transaction içindeki sonraki okumalar onları görür.
//
// Tüm path'ler tam yoldur (key dahil): tx.Set([]string{"users", id, "name"}, v).
// Yazma metodları, parent map görünür değilse hiçbir şey yapmadan false döner.
type Tx struct {
	d       *Doc
	ops     []Op
	changes []Change
}

// Set, path'e v'nin JSON karşılığını yazar.
func (tx *Tx) Set(path []string, v any) bool {
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return false
		}
		raw = b
	}
	return tx.write(OpSet, path, raw)
}

// SetMap, path'te boş bir map oluşturur. Canlı bir map varsa birleşir.
func (tx *Tx) SetMap(path ...string) bool {
	return tx.write(OpMap, path, nil)
}

// EnsureMap, path'te canlı bir map yoksa oluşturur.
func (tx *Tx) EnsureMap(path ...string) bool {
	if tx.IsMap(path...) {
		return true
	}
	return tx.SetMap(path...)
}

// Delete, path'teki değeri siler. Silinecek canlı değer yoksa false.
func (tx *Tx) Delete(path ...string) bool {
	if tx.d.visibleEntry(path) == nil {
		return false
	}
	return tx.write(OpDelete, path, nil)
}

// Keys, Doc.Keys'in transaction içi karşılığı.
func (tx *Tx) Keys(path ...string) []string {
	return tx.d.keys(path)
}

// Lookup, Doc.Lookup'ın transaction içi karşılığı.
func (tx *Tx) Lookup(out any, path ...string) bool {
	return tx.d.lookup(out, path)
}

// Has, Doc.Has'in transaction içi karşılığı.
func (tx *Tx) Has(path ...string) bool {
	return tx.d.visibleEntry(path) != nil
}

// IsMap, Doc.IsMap'in transaction içi karşılığı.
func (tx *Tx) IsMap(path ...string) bool {
	e := tx.d.visibleEntry(path)
	return e != nil && e.kind == kindMap
}

// Len, bu transaction'da üretilen Op sayısı.
func (tx *Tx) Len() int {
	return len(tx.ops)
}

func (tx *Tx) write(kind OpKind, path []string, value json.RawMessage) bool {
	if len(path) == 0 {
		return false
	}
	parentPath, key := path[:len(path)-1], path[len(path)-1]

	parent := tx.d.visibleNode(parentPath)
	if parent == nil {
		return false
	}

	op := tx.d.nextOp(kind, parentPath, key, value)
	if c, ok := tx.d.integrate(parent, op); ok {
		c.Origin = OriginLocal
		tx.changes = append(tx.changes, c)
	}
	tx.ops = append(tx.ops, op)
	return true
}

var _ Reader = (*Tx)(nil)
