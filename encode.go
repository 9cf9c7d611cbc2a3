package tpickle

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EncoderConfig tunes an Encoder, mirroring the Decoder/DecoderConfig
// injection pattern: collaborators the codec itself does not implement are
// supplied by the caller at construction time.
type EncoderConfig struct {
	// TensorTable, if non-nil, selects reference mode for tensor
	// encoding: tensors are appended to the table and written as a
	// lookup by position instead of inline storage bytes.
	TensorTable *TensorTable

	// TensorIO supplies storage keys and writeable (host-resident)
	// tensors for literal mode. Required whenever TensorTable is nil
	// and a Tensor is written.
	TensorIO TensorIO
}

// literalTensor is one entry of the Encoder's trailing tensor-record list:
// a tensor written in literal mode, together with the storage key Finish
// already committed to in the key-program. numEl is the original tensor's
// element count, not the (possibly reshaped) writeable copy's — the
// original implementation's pushTensorData takes numel from the tensor
// handle itself and only calls getWriteableTensor for raw storage bytes
// (original_source/torch/csrc/jit/pickler.cpp:95-99).
type literalTensor struct {
	key     uint64
	numEl   int64
	storage Storage
}

// Encoder walks a Value and produces the tensor-pickle dialect's byte
// encoding (spec.md §4.1). Unlike og-rek's reflect-based Encoder, which
// walks arbitrary Go values, this Encoder walks the closed Value variant
// set directly: the dialect has no notion of encoding an arbitrary Go
// struct.
//
// An Encoder owns its buffer, memo map and literal-tensor list for the
// duration of one session; none of it is safe for concurrent use.
type Encoder struct {
	config EncoderConfig

	buf bytes.Buffer

	// memo maps a memoizable Value's identity (container.identity(), or
	// for globals the module+name string) to its assigned memo id.
	identMemo  map[uint64]uint32
	globalMemo map[string]uint32
	nextMemoID uint32

	literals []literalTensor
}

// NewEncoder returns a new Encoder with default configuration (literal
// tensor mode, no TensorIO — Write returns an error if a Tensor is
// encountered without one).
func NewEncoder() *Encoder {
	return NewEncoderWithConfig(EncoderConfig{})
}

// NewEncoderWithConfig returns a new Encoder configured per config.
func NewEncoderWithConfig(config EncoderConfig) *Encoder {
	return &Encoder{
		config:     config,
		identMemo:  make(map[uint64]uint32),
		globalMemo: make(map[string]uint32),
	}
}

// Begin emits PROTO(2). Must be called exactly once, before any Write.
func (e *Encoder) Begin() {
	e.buf.WriteByte(opProto)
	e.buf.WriteByte(protocolVersion)
}

// BeginTuple emits MARK, opening a tuple whose elements are whatever
// Values are written before the matching EndTuple.
func (e *Encoder) BeginTuple() {
	e.buf.WriteByte(opMark)
}

// EndTuple closes a tuple opened by BeginTuple. Unlike a nested Tuple
// Value written via Write, the top-level tuple session framing opens
// (spec.md §4.1: "begin_tuple() / end_tuple(): emit MARK and TUPLE
// respectively") is not itself memoized — there is no PUT here, matching
// the concrete scenario in spec.md §8 (`encode([Int(0)])` ends in TUPLE,
// STOP with no trailing PUT).
func (e *Encoder) EndTuple() {
	e.buf.WriteByte(opTuple)
}

// Write appends one Value's encoding to the buffer.
func (e *Encoder) Write(v Value) error {
	switch x := v.(type) {
	case None:
		e.buf.WriteByte(opNone)
	case bool:
		if x {
			e.buf.WriteByte(opNewtrue)
		} else {
			e.buf.WriteByte(opNewfalse)
		}
	case int64:
		e.writeInt(x)
	case float64:
		e.writeFloat(x)
	case *String:
		return e.writeMemoized(x, func() error { e.writeStringInline(x.Value); return nil })
	case *Tuple:
		return e.writeMemoized(x, func() error { return e.writeTupleInline(x) })
	case *List:
		return e.writeSelfMemoizing(x, func() error { return e.writeListInline(x) })
	case *Dict:
		return e.writeSelfMemoizing(x, func() error { return e.writeDictInline(x) })
	case *IntList:
		return e.writeMemoized(x, func() error { return e.writeIntListInline(x) })
	case Tensor:
		return e.writeTensor(x)
	default:
		return newErr(UnsupportedType, -1, "cannot encode value of type %T", v)
	}
	return nil
}

// Finish emits STOP, and then — if any literal tensors were collected —
// a second pickle program naming their storage keys, followed by the raw
// tensor records themselves (spec.md §4.1 Finish, §6 byte format).
func (e *Encoder) Finish() error {
	e.buf.WriteByte(opStop)
	if len(e.literals) == 0 {
		return nil
	}

	e.buf.WriteByte(opProto)
	e.buf.WriteByte(protocolVersion)
	e.buf.WriteByte(opMark)
	for _, lit := range e.literals {
		e.writeStringInline(formatUint(lit.key))
	}
	e.buf.WriteByte(opTuple)
	e.buf.WriteByte(opStop)

	for _, lit := range e.literals {
		var countBuf [8]byte
		binary.LittleEndian.PutUint64(countBuf[:], uint64(lit.numEl))
		e.buf.Write(countBuf[:])
		e.buf.Write(lit.storage.Bytes())
	}
	return nil
}

// Bytes returns the accumulated buffer. The Encoder retains ownership; the
// caller must copy the slice before reusing the Encoder, if ever.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) allocMemoID() uint32 {
	id := e.nextMemoID
	e.nextMemoID++
	return id
}

// put emits BINPUT or LONG_BINPUT for id, binding it to the current top of
// stack (spec.md §4.1 memoization protocol width rule).
func (e *Encoder) put(id uint32) {
	if id <= 0xff {
		e.buf.WriteByte(opBinput)
		e.buf.WriteByte(byte(id))
		return
	}
	e.buf.WriteByte(opLongBinput)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], id)
	e.buf.Write(b[:])
}

// get emits BINGET or LONG_BINGET for id (spec.md §4.1).
func (e *Encoder) get(id uint32) {
	if id <= 0xff {
		e.buf.WriteByte(opBinget)
		e.buf.WriteByte(byte(id))
		return
	}
	e.buf.WriteByte(opLongBinget)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], id)
	e.buf.Write(b[:])
}

// writeMemoized implements the memoization protocol (spec.md §4.1): look
// up v's identity; on hit emit a GET, on miss run inline to encode v then
// PUT, binding the next memo id to v's identity.
func (e *Encoder) writeMemoized(v Value, inline func() error) error {
	id, ok := identityOf(v)
	if !ok {
		return newErr(UnsupportedType, -1, "value of type %T has no identity", v)
	}
	if memoID, seen := e.identMemo[id]; seen {
		e.get(memoID)
		return nil
	}
	if err := inline(); err != nil {
		return err
	}
	memoID, err := e.nextMemoIDChecked()
	if err != nil {
		return err
	}
	e.identMemo[id] = memoID
	e.put(memoID)
	return nil
}

// writeSelfMemoizing handles the List/Dict shape, where spec.md's
// literal encoding puts PUT right after the EMPTY_* opcode rather than
// after the container's contents ("EMPTY_LIST, PUT, MARK, ..."). inline
// itself allocates the memo id and emits PUT (via bindAndPutInline), so
// this wrapper only needs to handle the GET-on-hit half of the protocol.
func (e *Encoder) writeSelfMemoizing(v Value, inline func() error) error {
	id, ok := identityOf(v)
	if !ok {
		return newErr(UnsupportedType, -1, "value of type %T has no identity", v)
	}
	if memoID, seen := e.identMemo[id]; seen {
		e.get(memoID)
		return nil
	}
	return inline()
}

// writeGlobal implements the global-reference protocol (spec.md §4.1):
// globals are memoized by their textual module+name key, not by identity,
// since the same logical global is a fresh string each time it's named.
func (e *Encoder) writeGlobal(module, name string) error {
	key := module + "\x00" + name
	if memoID, seen := e.globalMemo[key]; seen {
		e.get(memoID)
		return nil
	}
	e.buf.WriteByte(opGlobal)
	e.buf.WriteString(module)
	e.buf.WriteByte('\n')
	e.buf.WriteString(name)
	e.buf.WriteByte('\n')
	memoID, err := e.nextMemoIDChecked()
	if err != nil {
		return err
	}
	e.globalMemo[key] = memoID
	e.put(memoID)
	return nil
}

func (e *Encoder) nextMemoIDChecked() (uint32, error) {
	if e.nextMemoID == math.MaxUint32 {
		return 0, newErr(TooManyMemoIds, -1, "memo id counter reached 2^32-1")
	}
	return e.allocMemoID(), nil
}

// writeInt applies the range-based opcode selection rule (spec.md §4.1).
func (e *Encoder) writeInt(i int64) {
	switch {
	case i >= -128 && i <= 127:
		e.buf.WriteByte(opBinint1)
		e.buf.WriteByte(byte(i))
	case i >= math.MinInt32 && i <= math.MaxInt32:
		e.buf.WriteByte(opBinint)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(i)))
		e.buf.Write(b[:])
	default:
		e.buf.WriteByte(opLong1)
		e.buf.WriteByte(8)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(i))
		e.buf.Write(b[:])
	}
}

func (e *Encoder) writeFloat(f float64) {
	e.buf.WriteByte(opBinfloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	e.buf.Write(b[:])
}

func (e *Encoder) writeStringInline(s string) {
	e.buf.WriteByte(opBinunicode)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	e.buf.Write(b[:])
	e.buf.WriteString(s)
}

func (e *Encoder) writeListInline(l *List) error {
	e.buf.WriteByte(opEmptyList)
	// EMPTY_LIST's PUT comes immediately after it (spec.md: "EMPTY_LIST,
	// PUT, MARK, ..."), before any element is written — unlike
	// String/Tuple, whose PUT trails their contents — so List/Dict bind
	// and PUT themselves rather than going through writeMemoized.
	if err := e.bindAndPutInline(l); err != nil {
		return err
	}
	if len(l.Items) == 0 {
		return nil
	}
	e.buf.WriteByte(opMark)
	for _, item := range l.Items {
		if err := e.Write(item); err != nil {
			return err
		}
	}
	e.buf.WriteByte(opAppends)
	return nil
}

func (e *Encoder) writeDictInline(d *Dict) error {
	e.buf.WriteByte(opEmptyDict)
	if err := e.bindAndPutInline(d); err != nil {
		return err
	}
	if d.Len() == 0 {
		return nil
	}
	e.buf.WriteByte(opMark)
	var iterErr error
	d.Iter(func(k, v Value) bool {
		if err := e.Write(k); err != nil {
			iterErr = err
			return false
		}
		if err := e.Write(v); err != nil {
			iterErr = err
			return false
		}
		return true
	})
	if iterErr != nil {
		return iterErr
	}
	e.buf.WriteByte(opSetitems)
	return nil
}

// writeIntListInline implements IntList's custom-reconstructor encoding
// (spec.md §8 concrete scenario 3): unlike List/Dict, which map directly
// onto native Python containers, IntList has no native pickle
// representation and is reconstructed by calling build_intlist on a
// literal Python list. The literal list (EMPTY_LIST, PUT, MARK, elements,
// APPENDS) is itself memoized with a throwaway memo id — nothing ever
// references it by that id again, but spec.md's scenario shows it gets one
// — while the IntList value REDUCE produces is memoized by the caller's
// writeMemoized wrapper, via the trailing PUT after REDUCE.
func (e *Encoder) writeIntListInline(il *IntList) error {
	if err := e.writeGlobal("torch.jit._pickle", "build_intlist"); err != nil {
		return err
	}

	e.buf.WriteByte(opMark) // opens build_intlist's single-element argument tuple
	e.buf.WriteByte(opEmptyList)
	rawListID, err := e.nextMemoIDChecked()
	if err != nil {
		return err
	}
	e.put(rawListID)
	if len(il.Items) > 0 {
		e.buf.WriteByte(opMark)
		for _, item := range il.Items {
			e.writeInt(item)
		}
		e.buf.WriteByte(opAppends)
	}
	e.buf.WriteByte(opTuple)
	e.buf.WriteByte(opReduce)
	return nil
}

// bindAndPutInline binds v's identity to a fresh memo id and emits PUT
// immediately, before any nested writes — the List/Dict analogue of what
// writeMemoized does for String/Tuple (whose PUT comes after their
// contents, per spec.md).
func (e *Encoder) bindAndPutInline(v Value) error {
	id, _ := identityOf(v)
	memoID, err := e.nextMemoIDChecked()
	if err != nil {
		return err
	}
	e.identMemo[id] = memoID
	e.put(memoID)
	return nil
}

// writeTupleInline writes a Tuple's elements between MARK and TUPLE; the
// caller's writeMemoized wrapper handles the trailing PUT, matching
// spec.md's literal order ("MARK, write each element, TUPLE, PUT").
func (e *Encoder) writeTupleInline(t *Tuple) error {
	e.buf.WriteByte(opMark)
	for _, item := range t.Items {
		if err := e.Write(item); err != nil {
			return err
		}
	}
	e.buf.WriteByte(opTuple)
	return nil
}

// writeTensor implements the two tensor encoding modes (spec.md §4.1).
func (e *Encoder) writeTensor(t Tensor) error {
	if e.config.TensorTable != nil {
		return e.writeTensorReference(t)
	}
	return e.writeTensorLiteral(t)
}

func (e *Encoder) writeTensorReference(t Tensor) error {
	if err := e.writeGlobal("torch.jit._pickle", "build_tensor_from_id"); err != nil {
		return err
	}
	pos := e.config.TensorTable.Append(t)
	e.buf.WriteByte(opMark)
	e.writeInt(pos)
	e.buf.WriteByte(opTuple)
	e.buf.WriteByte(opReduce)
	return nil
}

func (e *Encoder) writeTensorLiteral(t Tensor) error {
	if e.config.TensorIO == nil {
		return newErr(UnsupportedType, -1, "literal tensor encoding requires a TensorIO")
	}

	if err := e.writeGlobal("torch._utils", "_rebuild_tensor_v2"); err != nil {
		return err
	}

	cpuTensor, _ := e.config.TensorIO.GetWriteableTensor(t)
	key := e.config.TensorIO.GetStorageKey(t)

	e.buf.WriteByte(opMark) // opens _rebuild_tensor_v2's own argument tuple

	e.buf.WriteByte(opMark) // opens the persistent-id tuple
	e.writeStringInline("storage")
	if err := e.writeGlobal("torch", t.DType().String()+"Storage"); err != nil {
		return err
	}
	e.writeStringInline(formatUint(key))
	e.writeStringInline("cpu")
	e.writeInt(t.NumElement())
	e.buf.WriteByte(opNone)
	e.buf.WriteByte(opTuple)
	e.buf.WriteByte(opBinpersid)

	// Storage offset is always written as 0 (spec.md: "Int storage offset
	// (always 0)."), independent of t's real offset.
	e.writeInt(0)

	e.buf.WriteByte(opMark)
	for _, sz := range t.Sizes() {
		e.writeInt(sz)
	}
	e.buf.WriteByte(opTuple)

	e.buf.WriteByte(opMark)
	for _, st := range t.Strides() {
		e.writeInt(st)
	}
	e.buf.WriteByte(opTuple)

	if t.RequiresGrad() {
		e.buf.WriteByte(opNewtrue)
	} else {
		e.buf.WriteByte(opNewfalse)
	}

	if err := e.writeGlobal("collections", "OrderedDict"); err != nil {
		return err
	}
	e.buf.WriteByte(opEmptyTuple)
	e.buf.WriteByte(opReduce)

	e.buf.WriteByte(opTuple)
	e.buf.WriteByte(opReduce)

	e.literals = append(e.literals, literalTensor{key: key, numEl: t.NumElement(), storage: cpuTensor.Storage()})
	return nil
}

// formatUint renders n as a decimal string without pulling in strconv's
// full surface, matching the decimal-only need spec.md's storage-key and
// key-program strings have.
func formatUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
