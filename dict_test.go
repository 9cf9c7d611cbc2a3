package tpickle

import "testing"

func TestDictSetGet(t *testing.T) {
	d := NewDict()
	d.Set(int64(1), NewString("one"))
	d.Set(int64(2), NewString("two"))

	v, ok := d.Get(int64(1))
	if !ok {
		t.Fatalf("Get(1) ok = false")
	}
	if s, err := AsString(v); err != nil || s != "one" {
		t.Fatalf("Get(1) = %v, want String(one)", v)
	}
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
}

func TestDictSetOverwritesInPlace(t *testing.T) {
	d := NewDictWithData(int64(1), NewString("a"), int64(2), NewString("b"))
	d.Set(int64(1), NewString("z"))

	var keys []int64
	d.Iter(func(k, v Value) bool {
		keys = append(keys, k.(int64))
		return true
	})
	if len(keys) != 2 || keys[0] != 1 || keys[1] != 2 {
		t.Fatalf("overwrite moved key position: %v", keys)
	}
	v, _ := d.Get(int64(1))
	if s, _ := AsString(v); s != "z" {
		t.Fatalf("Get(1) after overwrite = %v, want String(z)", v)
	}
}

func TestDictIterInsertionOrder(t *testing.T) {
	d := NewDict()
	order := []int64{5, 1, 9, 3}
	for _, k := range order {
		d.Set(k, k)
	}
	var got []int64
	d.Iter(func(k, v Value) bool {
		got = append(got, k.(int64))
		return true
	})
	for i, k := range order {
		if got[i] != k {
			t.Fatalf("iteration order = %v, want %v", got, order)
		}
	}
}

func TestDictIterStopsEarly(t *testing.T) {
	d := NewDictWithData(int64(1), int64(1), int64(2), int64(2), int64(3), int64(3))
	n := 0
	d.Iter(func(k, v Value) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Fatalf("Iter visited %d entries, want 2 (stopped early)", n)
	}
}

// Python's dict treats 1, 1.0 and True as the same key.
func TestDictCrossTypeNumericKeyEquality(t *testing.T) {
	d := NewDict()
	d.Set(int64(1), NewString("int"))
	d.Set(float64(1.0), NewString("float"))
	d.Set(true, NewString("bool"))

	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (int64(1), float64(1.0), true should collide)", d.Len())
	}
	v, ok := d.Get(int64(1))
	if !ok {
		t.Fatalf("Get(1) ok = false")
	}
	if s, _ := AsString(v); s != "bool" {
		t.Fatalf("Get(1) = %v, want last-written String(bool)", v)
	}
}

func TestDictStringKeysCompareByValue(t *testing.T) {
	d := NewDict()
	d.Set(NewString("a"), int64(1))
	v, ok := d.Get(NewString("a"))
	if !ok {
		t.Fatalf("Get with a distinct *String of equal value should hit")
	}
	if v != int64(1) {
		t.Fatalf("Get = %v, want 1", v)
	}
}

func TestDictTupleKeysCompareByContent(t *testing.T) {
	d := NewDict()
	d.Set(NewTuple(int64(1), int64(2)), NewString("pair"))
	v, ok := d.Get(NewTuple(int64(1), int64(2)))
	if !ok {
		t.Fatalf("Get with a distinct but equal Tuple key should hit")
	}
	if s, _ := AsString(v); s != "pair" {
		t.Fatalf("Get = %v, want String(pair)", v)
	}
}

func TestDeepEqualDict(t *testing.T) {
	a := NewDictWithData(int64(1), NewString("x"), int64(2), NewString("y"))
	b := NewDictWithData(int64(1), NewString("x"), int64(2), NewString("y"))
	if !deepEqual(a, b) {
		t.Fatalf("deepEqual(a, b) = false for two Dicts with equal content")
	}

	c := NewDictWithData(int64(1), NewString("x"), int64(2), NewString("different"))
	if deepEqual(a, c) {
		t.Fatalf("deepEqual(a, c) = true for Dicts with different content")
	}
}

func TestDeepEqualNonDict(t *testing.T) {
	if !deepEqual(int64(1), int64(1)) {
		t.Fatalf("deepEqual(1, 1) = false")
	}
	if deepEqual(int64(1), NewDict()) {
		t.Fatalf("deepEqual(1, Dict{}) = true")
	}
}
