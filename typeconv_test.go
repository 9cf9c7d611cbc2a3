package tpickle

import "testing"

func TestAsInt64(t *testing.T) {
	if v, err := AsInt64(int64(42)); err != nil || v != 42 {
		t.Fatalf("AsInt64(42) = %v, %v", v, err)
	}
	if _, err := AsInt64(float64(1)); err == nil {
		t.Fatalf("AsInt64(1.0) should fail")
	}
}

func TestAsFloat64(t *testing.T) {
	if v, err := AsFloat64(float64(1.5)); err != nil || v != 1.5 {
		t.Fatalf("AsFloat64(1.5) = %v, %v", v, err)
	}
	if _, err := AsFloat64(int64(1)); err == nil {
		t.Fatalf("AsFloat64(int64(1)) should fail")
	}
}

func TestAsBool(t *testing.T) {
	if v, err := AsBool(true); err != nil || !v {
		t.Fatalf("AsBool(true) = %v, %v", v, err)
	}
	if _, err := AsBool(int64(1)); err == nil {
		t.Fatalf("AsBool(int64(1)) should fail")
	}
}

func TestAsString(t *testing.T) {
	if v, err := AsString(NewString("hi")); err != nil || v != "hi" {
		t.Fatalf("AsString(String(hi)) = %v, %v", v, err)
	}
	if _, err := AsString("hi"); err == nil {
		t.Fatalf("AsString(raw Go string) should fail; only *String is a Value")
	}
}

func TestAsListTupleDictIntList(t *testing.T) {
	if _, err := AsList(NewList()); err != nil {
		t.Fatalf("AsList(*List) failed: %v", err)
	}
	if _, err := AsTuple(NewTuple()); err != nil {
		t.Fatalf("AsTuple(*Tuple) failed: %v", err)
	}
	if _, err := AsDict(NewDict()); err != nil {
		t.Fatalf("AsDict(*Dict) failed: %v", err)
	}
	if _, err := AsIntList(NewIntList(1, 2)); err != nil {
		t.Fatalf("AsIntList(*IntList) failed: %v", err)
	}
	if _, err := AsList(NewTuple()); err == nil {
		t.Fatalf("AsList(*Tuple) should fail")
	}
}

func TestAsTensor(t *testing.T) {
	tn := NewBasicTensor(Float, nil, nil, 0, NewBasicStorage(nil, 0), 4, false)
	if _, err := AsTensor(tn); err != nil {
		t.Fatalf("AsTensor(Tensor) failed: %v", err)
	}
	if _, err := AsTensor(int64(1)); err == nil {
		t.Fatalf("AsTensor(int64) should fail")
	}
}

func TestIsNone(t *testing.T) {
	if !IsNone(theNone) {
		t.Fatalf("IsNone(None{}) = false")
	}
	if IsNone(int64(0)) {
		t.Fatalf("IsNone(0) = true")
	}
}

func TestStringEQ(t *testing.T) {
	if !stringEQ(NewString("abc"), "abc") {
		t.Fatalf("stringEQ(String(abc), abc) = false")
	}
	if stringEQ(NewString("abc"), "xyz") {
		t.Fatalf("stringEQ(String(abc), xyz) = true")
	}
	if stringEQ(int64(1), "1") {
		t.Fatalf("stringEQ(Int(1), \"1\") = true, want false")
	}
}
