package tpickle

import "fmt"

// ScalarType names a tensor's element type (spec §3). Names match the
// torch*Storage global names this dialect writes (spec §4.1): the literal
// encoding of a tensor spells the storage class as
// "torch\n<ScalarTypeName>Storage\n".
type ScalarType int

const (
	Float ScalarType = iota
	Double
	Half
	Long
	Int
	Short
	Char
	Byte
	ScalarBool
)

// storageTypeNames gives each ScalarType the exact identifier this dialect
// uses when writing a GLOBAL for its storage class, e.g. "Float" yields
// the global "torch\nFloatStorage\n".
var storageTypeNames = map[ScalarType]string{
	Float:      "Float",
	Double:     "Double",
	Half:       "Half",
	Long:       "Long",
	Int:        "Int",
	Short:      "Short",
	Char:       "Char",
	Byte:       "Byte",
	ScalarBool: "Bool",
}

func (s ScalarType) String() string {
	if name, ok := storageTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ScalarType(%d)", int(s))
}

// Device names where a Storage's bytes live.
type Device int

const (
	CPU Device = iota
	CUDA
)

func (d Device) String() string {
	if d == CUDA {
		return "cuda"
	}
	return "cpu"
}

// Storage is the contiguous byte buffer underlying a Tensor, shared by
// views with different offsets/strides (spec §3, GLOSSARY "Storage").
type Storage interface {
	// Device reports where the storage's bytes currently live.
	Device() Device
	// Len returns the number of elements the storage holds (not bytes).
	Len() int
	// Bytes returns the storage's raw contiguous bytes. For a CUDA
	// storage this may be nil; callers must go through
	// TensorIO.GetWriteableTensor first.
	Bytes() []byte
}

// Tensor is the opaque N-dimensional tensor handle spec §3 describes.
// This codec never interprets tensor contents; it only needs enough of the
// handle to pick an encoding and, in literal mode, to serialize the
// underlying storage.
type Tensor interface {
	DType() ScalarType
	Sizes() []int64
	Strides() []int64
	StorageOffset() int64
	Storage() Storage
	ElementSize() int
	NumElement() int64
	RequiresGrad() bool
}

// BasicStorage is a reference, in-memory Storage implementation, useful for
// tests and for callers with no real tensor runtime to plug in. It is tagged
// CPU unless built with NewBasicStorageOnDevice.
type BasicStorage struct {
	dev  Device
	data []byte
	n    int
}

// NewBasicStorage returns a CPU Storage over data, holding n elements.
func NewBasicStorage(data []byte, n int) *BasicStorage {
	return &BasicStorage{dev: CPU, data: data, n: n}
}

// NewBasicStorageOnDevice returns a Storage tagged as residing on dev. A
// non-CPU BasicStorage still carries data (unlike a real GPU storage) so
// that tests can exercise DefaultTensorIO.GetWriteableTensor's
// materialization path without a real device.
func NewBasicStorageOnDevice(dev Device, data []byte, n int) *BasicStorage {
	return &BasicStorage{dev: dev, data: data, n: n}
}

func (s *BasicStorage) Device() Device { return s.dev }
func (s *BasicStorage) Len() int       { return s.n }
func (s *BasicStorage) Bytes() []byte  { return s.data }

// BasicTensor is a reference Tensor implementation over a BasicStorage.
type BasicTensor struct {
	dtype        ScalarType
	sizes        []int64
	strides      []int64
	offset       int64
	storage      Storage
	elementSize  int
	requiresGrad bool
}

// NewBasicTensor returns a Tensor over storage with the given shape.
// strides must have the same length as sizes.
func NewBasicTensor(dtype ScalarType, sizes, strides []int64, offset int64, storage Storage, elementSize int, requiresGrad bool) *BasicTensor {
	return &BasicTensor{
		dtype:        dtype,
		sizes:        sizes,
		strides:      strides,
		offset:       offset,
		storage:      storage,
		elementSize:  elementSize,
		requiresGrad: requiresGrad,
	}
}

func (t *BasicTensor) DType() ScalarType     { return t.dtype }
func (t *BasicTensor) Sizes() []int64        { return t.sizes }
func (t *BasicTensor) Strides() []int64      { return t.strides }
func (t *BasicTensor) StorageOffset() int64  { return t.offset }
func (t *BasicTensor) Storage() Storage      { return t.storage }
func (t *BasicTensor) ElementSize() int      { return t.elementSize }
func (t *BasicTensor) NumElement() int64 {
	n := int64(1)
	for _, s := range t.sizes {
		n *= s
	}
	return n
}
func (t *BasicTensor) RequiresGrad() bool { return t.requiresGrad }

// TensorTable is the caller-owned, append-only side table shared between
// Encoder and Decoder for reference-mode tensors (spec §4.1, §4.3 #3). The
// Encoder appends to it while writing; the Decoder only reads from it, and
// the two phases must not overlap (spec §5).
type TensorTable struct {
	items []Tensor
}

// NewTensorTable returns a new, empty TensorTable.
func NewTensorTable() *TensorTable {
	return &TensorTable{}
}

// Append adds t to the table and returns its zero-based position.
func (tt *TensorTable) Append(t Tensor) int64 {
	tt.items = append(tt.items, t)
	return int64(len(tt.items) - 1)
}

// Get returns the tensor at position id, and whether id was in range.
func (tt *TensorTable) Get(id int64) (Tensor, bool) {
	if id < 0 || id >= int64(len(tt.items)) {
		return nil, false
	}
	return tt.items[id], true
}

// Len returns the number of tensors currently in the table.
func (tt *TensorTable) Len() int { return len(tt.items) }

// TensorIO is the external collaborator contract spec §4.3 describes: the
// Encoder does not itself know how to name a storage or materialize a
// device-resident tensor on the host, so it asks TensorIO.
type TensorIO interface {
	// GetStorageKey returns a stable identifier, unique per distinct
	// underlying storage within one encode session.
	GetStorageKey(t Tensor) uint64
	// GetWriteableTensor returns a CPU-resident view of t's storage
	// (materializing one if t is device-resident) and the number of
	// bytes that view's record occupies (element_size * storage size).
	GetWriteableTensor(t Tensor) (cpu Tensor, recordBytes uint64)
}

// DefaultTensorIO is a reference TensorIO: storage keys are assigned
// densely per distinct Storage identity the first time each is seen in an
// encode session (mirroring the original implementation's use of the
// storage's address as its key — see original_source's getStorageKey —
// but without relying on pointer arithmetic), and device-resident storages
// are materialized into a dense in-memory CPU copy.
type DefaultTensorIO struct {
	keys   map[Storage]uint64
	nextID uint64
}

// NewDefaultTensorIO returns a DefaultTensorIO with no storages seen yet.
func NewDefaultTensorIO() *DefaultTensorIO {
	return &DefaultTensorIO{keys: make(map[Storage]uint64)}
}

func (io *DefaultTensorIO) GetStorageKey(t Tensor) uint64 {
	s := t.Storage()
	if key, ok := io.keys[s]; ok {
		return key
	}
	key := io.nextID
	io.nextID++
	io.keys[s] = key
	return key
}

func (io *DefaultTensorIO) GetWriteableTensor(t Tensor) (Tensor, uint64) {
	recordBytes := uint64(t.ElementSize()) * uint64(t.Storage().Len())
	if t.Storage().Device() == CPU {
		return t, recordBytes
	}

	// Device-resident: materialize a zero-offset, unit-stride host copy
	// of the whole storage, same as the original implementation's CUDA
	// path in getWriteableTensor.
	src := t.Storage().Bytes()
	cpuData := make([]byte, len(src))
	copy(cpuData, src)
	cpuStorage := NewBasicStorage(cpuData, t.Storage().Len())
	cpu := NewBasicTensor(t.DType(), []int64{int64(t.Storage().Len())}, []int64{1}, 0, cpuStorage, t.ElementSize(), false)
	return cpu, recordBytes
}
