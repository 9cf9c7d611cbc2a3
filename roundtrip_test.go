package tpickle

import (
	"bytes"
	"testing"
)

// encodeOne encodes a single top-level tuple containing v and returns the
// bytes.
func encodeOne(t *testing.T, v Value) []byte {
	t.Helper()
	e := NewEncoder()
	e.Begin()
	e.BeginTuple()
	if err := e.Write(v); err != nil {
		t.Fatalf("Write(%v) failed: %v", v, err)
	}
	e.EndTuple()
	if err := e.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return e.Bytes()
}

func decodeOne(t *testing.T, data []byte) Value {
	t.Helper()
	values, err := NewDecoder(data).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("Parse() = %v, want exactly 1 element", values)
	}
	return values[0]
}

// spec.md §8 "Round-trip": decode(encode(v)) == v for every Value variant.
func TestRoundTripScalars(t *testing.T) {
	cases := []Value{
		theNone,
		true,
		false,
		int64(0),
		int64(-128),
		int64(127),
		int64(1 << 40),
		float64(3.5),
		float64(-2.25),
	}
	for _, v := range cases {
		got := decodeOne(t, encodeOne(t, v))
		if !deepEqual(got, v) {
			t.Errorf("round trip of %#v produced %#v", v, got)
		}
	}
}

func TestRoundTripString(t *testing.T) {
	s := NewString("hello, world")
	got := decodeOne(t, encodeOne(t, s))
	gs, err := AsString(got)
	if err != nil || gs != s.Value {
		t.Fatalf("round trip of String(%q) produced %#v", s.Value, got)
	}
}

func TestRoundTripList(t *testing.T) {
	l := NewList(int64(1), NewString("x"), true, theNone)
	got := decodeOne(t, encodeOne(t, l))
	gl, err := AsList(got)
	if err != nil {
		t.Fatalf("expected *List, got %#v: %v", got, err)
	}
	if len(gl.Items) != len(l.Items) {
		t.Fatalf("round trip List length = %d, want %d", len(gl.Items), len(l.Items))
	}
}

func TestRoundTripTuple(t *testing.T) {
	tp := NewTuple(int64(1), int64(2), int64(3))
	got := decodeOne(t, encodeOne(t, tp))
	gt, err := AsTuple(got)
	if err != nil {
		t.Fatalf("expected *Tuple, got %#v: %v", got, err)
	}
	if !deepEqual(NewTuple(gt.Items...), tp) {
		t.Fatalf("round trip Tuple = %v, want %v", gt.Items, tp.Items)
	}
}

func TestRoundTripIntList(t *testing.T) {
	il := NewIntList(1, 2, 3, -4)
	got := decodeOne(t, encodeOne(t, il))
	gil, err := AsIntList(got)
	if err != nil {
		t.Fatalf("expected *IntList, got %#v: %v", got, err)
	}
	if len(gil.Items) != len(il.Items) {
		t.Fatalf("round trip IntList = %v, want %v", gil.Items, il.Items)
	}
	for i := range il.Items {
		if gil.Items[i] != il.Items[i] {
			t.Fatalf("round trip IntList[%d] = %d, want %d", i, gil.Items[i], il.Items[i])
		}
	}
}

func TestRoundTripEmptyIntList(t *testing.T) {
	got := decodeOne(t, encodeOne(t, NewIntList()))
	gil, err := AsIntList(got)
	if err != nil || len(gil.Items) != 0 {
		t.Fatalf("round trip of empty IntList produced %#v", got)
	}
}

func TestRoundTripDict(t *testing.T) {
	d := NewDictWithData(int64(1), NewString("one"), NewString("two"), int64(2))
	got := decodeOne(t, encodeOne(t, d))
	gd, err := AsDict(got)
	if err != nil {
		t.Fatalf("expected *Dict, got %#v: %v", got, err)
	}
	if !deepEqual(gd, d) {
		t.Fatalf("round trip Dict does not match original")
	}
}

func TestRoundTripTensorReferenceMode(t *testing.T) {
	encTable := NewTensorTable()
	storage := NewBasicStorage([]byte{1, 2, 3, 4}, 1)
	tn := NewBasicTensor(Float, []int64{1}, []int64{1}, 0, storage, 4, false)

	e := NewEncoderWithConfig(EncoderConfig{TensorTable: encTable})
	e.Begin()
	e.BeginTuple()
	if err := e.Write(tn); err != nil {
		t.Fatalf("Write(tensor) failed: %v", err)
	}
	e.EndTuple()
	if err := e.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	decTable := NewTensorTable()
	decTable.Append(tn) // caller populates the decode-side table identically, per spec.md §5

	values, err := NewDecoderWithConfig(e.Bytes(), DecoderConfig{TensorTable: decTable}).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err := AsTensor(values[0])
	if err != nil || got != Tensor(tn) {
		t.Fatalf("round trip tensor reference = %#v, want %#v", got, tn)
	}
}

// spec.md §8 "Byte determinism": encoding the same Values from a fresh
// Encoder twice produces identical bytes.
func TestByteDeterminism(t *testing.T) {
	build := func() []byte {
		e := NewEncoder()
		e.Begin()
		e.BeginTuple()
		s := NewString("shared")
		vals := []Value{
			int64(42),
			float64(1.5),
			s,
			s,
			NewList(int64(1), int64(2)),
			NewIntList(5, 6, 7),
			NewDictWithData(int64(1), int64(2)),
		}
		for _, v := range vals {
			if err := e.Write(v); err != nil {
				t.Fatalf("Write(%v) failed: %v", v, err)
			}
		}
		e.EndTuple()
		if err := e.Finish(); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		return e.Bytes()
	}

	a := build()
	b := build()
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding the same Values twice produced different bytes:\n% x\n% x", a, b)
	}
}
