package tpickle

import "testing"

func TestScalarTypeString(t *testing.T) {
	cases := map[ScalarType]string{
		Float:      "Float",
		Double:     "Double",
		Long:       "Long",
		ScalarBool: "Bool",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", st, got, want)
		}
	}
}

func TestBasicTensorNumElement(t *testing.T) {
	storage := NewBasicStorage(make([]byte, 4*2*3), 6)
	tn := NewBasicTensor(Float, []int64{2, 3}, []int64{3, 1}, 0, storage, 4, false)
	if n := tn.NumElement(); n != 6 {
		t.Fatalf("NumElement() = %d, want 6", n)
	}
}

func TestTensorTableAppendAndGet(t *testing.T) {
	tt := NewTensorTable()
	storage := NewBasicStorage(nil, 0)
	a := NewBasicTensor(Int, nil, nil, 0, storage, 4, false)
	b := NewBasicTensor(Int, nil, nil, 0, storage, 4, false)

	idxA := tt.Append(a)
	idxB := tt.Append(b)
	if idxA != 0 || idxB != 1 {
		t.Fatalf("Append positions = %d, %d, want 0, 1", idxA, idxB)
	}
	if got, ok := tt.Get(idxA); !ok || got != Tensor(a) {
		t.Fatalf("Get(0) = %v, %v, want %v, true", got, ok, a)
	}
	if _, ok := tt.Get(99); ok {
		t.Fatalf("Get(99) ok = true, want false")
	}
	if tt.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tt.Len())
	}
}

func TestDefaultTensorIOStorageKeyStable(t *testing.T) {
	io := NewDefaultTensorIO()
	storage := NewBasicStorage(make([]byte, 4), 1)
	tn := NewBasicTensor(Int, []int64{1}, []int64{1}, 0, storage, 4, false)

	k1 := io.GetStorageKey(tn)
	k2 := io.GetStorageKey(tn)
	if k1 != k2 {
		t.Fatalf("GetStorageKey not stable across calls: %d != %d", k1, k2)
	}

	other := NewBasicTensor(Int, []int64{1}, []int64{1}, 0, NewBasicStorage(make([]byte, 4), 1), 4, false)
	if io.GetStorageKey(other) == k1 {
		t.Fatalf("distinct storages got the same key")
	}
}

func TestDefaultTensorIOMaterializesCUDA(t *testing.T) {
	io := NewDefaultTensorIO()
	data := []byte{1, 2, 3, 4}
	storage := NewBasicStorageOnDevice(CUDA, data, 1)
	tn := NewBasicTensor(Int, []int64{1}, []int64{1}, 0, storage, 4, false)

	cpu, recordBytes := io.GetWriteableTensor(tn)
	if cpu.Storage().Device() != CPU {
		t.Fatalf("GetWriteableTensor did not materialize a CPU tensor, device = %v", cpu.Storage().Device())
	}
	if recordBytes != 4 {
		t.Fatalf("recordBytes = %d, want 4", recordBytes)
	}
	if string(cpu.Storage().Bytes()) != string(data) {
		t.Fatalf("materialized bytes = %v, want %v", cpu.Storage().Bytes(), data)
	}
}

func TestDefaultTensorIOPassesThroughCPU(t *testing.T) {
	io := NewDefaultTensorIO()
	storage := NewBasicStorage([]byte{9, 9}, 1)
	tn := NewBasicTensor(Byte, []int64{1}, []int64{1}, 0, storage, 2, false)

	cpu, _ := io.GetWriteableTensor(tn)
	if cpu != Tensor(tn) {
		t.Fatalf("GetWriteableTensor should return the same Tensor for CPU storage")
	}
}
