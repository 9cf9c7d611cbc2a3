package tpickle

import (
	"encoding/binary"
	"hash/maphash"
	"math"
	"reflect"

	"github.com/aristanetworks/gomap"
)

// Dict is an ordered, Python-equality-respecting mapping from Value to
// Value (spec §3, §4.1). Insertion order is preserved and is what the
// Encoder treats as "the declared iteration order... taken as
// authoritative" — Dict never sorts its keys.
//
// Equality across keys follows Python's dict semantics: Int(1), Double(1.0)
// and Bool(true) all collide as the same key, and two Tuples/Strings with
// equal contents are the same key even if they are different Go objects.
// Plain Go maps cannot express this (not every Value variant is
// comparable, and Go's == would not unify int64(1) with float64(1.0)), so
// Dict is backed by gomap.Map keyed with a custom equal/hash pair — the
// same reason og-rek's own Dict needed gomap. gomap's own iteration order
// is arbitrary (by design, per its doc comment), so Dict layers an
// explicit insertion-order key slice on top to satisfy spec §3/§9's
// "defined iteration order" invariant, which gomap alone cannot.
//
// Dict is a pointer-like type: its zero value is an unusable nil Dict, just
// like a nil Go map. Use NewDict.
type Dict struct {
	container
	m     *gomap.Map[Value, Value]
	order []Value // insertion order of keys currently present
}

// NewDict returns a new, empty Dict.
func NewDict() *Dict {
	return NewDictWithSizeHint(0)
}

// NewDictWithSizeHint returns a new, empty Dict with preallocated space
// for size items.
func NewDictWithSizeHint(size int) *Dict {
	return &Dict{
		container: newContainer(),
		m:         gomap.NewHint[Value, Value](size, dictEqual, dictHash),
	}
}

// NewDictWithData returns a new Dict populated from kv, which must be
// key₁, value₁, key₂, value₂, ... Later keys overwrite earlier equal keys
// without changing their position, matching Python's dict semantics.
func NewDictWithData(kv ...Value) *Dict {
	if len(kv)%2 != 0 {
		panic("tpickle: NewDictWithData: odd number of arguments")
	}
	d := NewDictWithSizeHint(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		d.Set(kv[i], kv[i+1])
	}
	return d
}

// Get returns the value associated with a key equal to query, and whether
// one was found.
func (d *Dict) Get(key Value) (Value, bool) {
	return d.m.Get(key)
}

// Set binds key to value. If an equal key is already present, its value is
// replaced in place without moving it; otherwise the pair is appended,
// extending the iteration order.
func (d *Dict) Set(key, value Value) {
	if _, have := d.m.Get(key); !have {
		d.order = append(d.order, key)
	}
	d.m.Set(key, value)
}

// Len returns the number of entries in the dictionary.
func (d *Dict) Len() int { return d.m.Len() }

// Iter calls yield once per entry, in insertion order, stopping early if
// yield returns false.
func (d *Dict) Iter(yield func(key, value Value) bool) {
	for _, k := range d.order {
		v, ok := d.m.Get(k)
		if !ok {
			continue // deleted after insertion; not currently exposed by Dict's API but kept defensive
		}
		if !yield(k, v) {
			return
		}
	}
}

// dictEqual implements equality matching what Python would return for
// a == b, restricted to this dialect's Value variants. It is gomap's
// equal function for Dict's backing map.
func dictEqual(xa, xb Value) bool {
	switch a := xa.(type) {
	case None:
		_, ok := xb.(None)
		return ok

	case bool:
		return numEqual(boolToFloat(a), xb)
	case int64:
		return numEqual(float64(a), xb)
	case float64:
		return numEqual(a, xb)

	case *String:
		b, ok := xb.(*String)
		return ok && a.Value == b.Value

	case *Tuple:
		b, ok := xb.(*Tuple)
		if !ok || len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !dictEqual(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true

	case *List:
		b, ok := xb.(*List)
		if !ok || len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !dictEqual(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true

	case *IntList:
		b, ok := xb.(*IntList)
		if !ok || len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if a.Items[i] != b.Items[i] {
				return false
			}
		}
		return true

	case *Dict:
		b, ok := xb.(*Dict)
		if !ok || a.Len() != b.Len() {
			return false
		}
		eq := true
		a.Iter(func(k, v Value) bool {
			bv, found := b.Get(k)
			if !found || !dictEqual(v, bv) {
				eq = false
				return false
			}
			return true
		})
		return eq

	case Tensor:
		b, ok := xb.(Tensor)
		return ok && a == b
	}

	return false
}

// numEqual compares a (already widened to float64) against xb, unifying
// Bool/Int/Double the way Python's dict keys do (1 == 1.0 == True).
func numEqual(a float64, xb Value) bool {
	switch b := xb.(type) {
	case bool:
		return a == boolToFloat(b)
	case int64:
		return a == float64(b)
	case float64:
		return a == b
	}
	return false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// dictHash returns a hash of x consistent with dictEqual: dictEqual(a,b)
// implies dictHash(seed,a) == dictHash(seed,b). It is gomap's hash
// function for Dict's backing map.
func dictHash(seed maphash.Seed, x Value) uint64 {
	switch v := x.(type) {
	case None:
		return 0x9e3779b97f4a7c15

	case bool:
		return hashFloat(seed, boolToFloat(v))
	case int64:
		return hashFloat(seed, float64(v))
	case float64:
		return hashFloat(seed, v)

	case *String:
		return maphash_String(seed, v.Value)

	case *Tuple:
		h := uint64(0xcbf29ce484222325)
		for _, item := range v.Items {
			h = (h ^ dictHash(seed, item)) * 0x100000001b3
		}
		return h

	case *List:
		h := uint64(0x811c9dc5)
		for _, item := range v.Items {
			h = (h ^ dictHash(seed, item)) * 0x01000193
		}
		return h

	case *IntList:
		h := uint64(0x345678)
		for _, item := range v.Items {
			h = (h ^ hashFloat(seed, float64(item))) * 0x100000001b3
		}
		return h

	case *Dict:
		// order-independent: a Dict's hash must not depend on iteration
		// order, only on its content, since dictEqual(Dict,Dict) is not
		// order-sensitive.
		var acc uint64
		v.Iter(func(k, val Value) bool {
			acc += dictHash(seed, k)*31 + dictHash(seed, val)
			return true
		})
		return acc

	case Tensor:
		// Tensor handles are compared (and hashed) by identity.
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], tensorIdentity(v))
		return maphash_String(seed, string(b[:]))
	}
	return 0
}

// tensorIdentity returns a best-effort identity for a Tensor handle: the
// underlying pointer address when the concrete type carries one, else a
// hash of its value representation.
func tensorIdentity(t Tensor) uint64 {
	rv := reflect.ValueOf(t)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		return uint64(rv.Pointer())
	default:
		var h maphash.Hash
		h.WriteString(fmtTensor(t))
		return h.Sum64()
	}
}

func fmtTensor(t Tensor) string {
	return reflect.ValueOf(t).Type().String()
}

// hashFloat hashes a float64 so that integral values hash the same
// regardless of whether they arrived as bool, int64 or float64.
func hashFloat(seed maphash.Seed, f float64) uint64 {
	i := int64(f)
	if float64(i) == f {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(i))
		return maphash_String(seed, string(b[:]))
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	return maphash_String(seed, string(b[:]))
}
