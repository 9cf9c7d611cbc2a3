package tpickle
// Utilities that complement std reflect package.

import (
	"reflect"
)


// deepEqual is like reflect.DeepEqual but also supports Dict.
//
// It is needed because reflect.DeepEqual considers two Dicts not-equal
// because each Dict is backed by its own gomap instance with its own seed,
// even when the two hold the same key/value pairs in the same order.
//
// XXX only top-level Dict is supported currently.
//     For example comparing Dict inside a List with the same won't work.
func deepEqual(a, b Value) bool {
	da, ok := a.(*Dict)
	if !ok {
		return reflect.DeepEqual(a, b)
	}
	db, ok := b.(*Dict)
	if !ok {
		return false // Dict != non-dict
	}

	if da.Len() != db.Len() {
		return false
	}

	// XXX O(n^2) because we want to compare keys exactly (not via Dict's
	//     cross-type equality, which would match e.g. int64(1) == float64(1.0))
	eq := true
	da.Iter(func(ka, va Value) bool {
		keq := false
		db.Iter(func(kb, vb Value) bool {
			if reflect.TypeOf(ka) == reflect.TypeOf(kb) && reflect.DeepEqual(ka, kb) {
				keq = reflect.DeepEqual(va, vb)
				return false
			}
			return true
		})
		if !keq {
			eq = false
			return false
		}
		return true
	})

	return eq
}
