package tpickle

import (
	"math"
)

// PicklerClass tags the reconstructors this dialect's decoder recognizes
// (spec.md §4.2, §6).
type PicklerClass int

const (
	pcTensor PicklerClass = iota
	pcIntList

	// pcOpaque tags a global spec.md §6 requires the decoder to *accept*
	// without raising UnknownGlobal but does not ask it to interpret:
	// torch._utils/_rebuild_tensor_v2, collections/OrderedDict, and the
	// torch/<ScalarType>Storage globals a literal-mode tensor's
	// persistent-id tuple names. REDUCE against a pcOpaque marker produces
	// an OpaqueObject rather than a reconstructed Value (BUILD accepts only
	// the legacy integer class tags), since
	// "literal tensors are not decoded by this core" (spec.md §6).
	pcOpaque
)

// classMarker is the decoder's stack-entry variant for a PicklerClass tag
// awaiting its arguments (spec.md §9 Design Notes, "Stack entry
// polymorphism"): the stack holds either a Value or a classMarker, never
// both meanings conflated in the same Go type, mirroring the teacher's own
// separation of mark{} from Value-bearing stack entries.
type classMarker struct {
	class PicklerClass
	name  string // module.name, set for pcOpaque; unused otherwise
}

// OpaqueObject is the Decoder's result for a reconstructor or persistent
// reference spec.md §6 requires it to recognize but not interpret —
// currently only literal-mode tensor machinery (_rebuild_tensor_v2,
// OrderedDict, the storage-type globals and the BINPERSID that names a
// storage). It carries no usable payload; callers that need literal
// tensors decoded should look them up out-of-band by storage key instead.
type OpaqueObject struct {
	Class string
}

// DecoderConfig tunes a Decoder, mirroring the Encoder/EncoderConfig
// injection pattern.
type DecoderConfig struct {
	// TensorTable is the side table reference-mode tensors are looked up
	// in. Required whenever the decoded stream references a tensor by
	// id; a decode without one fails with UnsupportedType on first use.
	TensorTable *TensorTable
}

// Decoder is the stack machine spec.md §4.2 describes: a value stack
// (holding Values or classMarkers), a mark stack of stack indices, and a
// memo table indexed by memo id. It reads its input from an in-memory
// byte slice rather than an io.Reader, since the dialect is not streamed
// and the decoder must never read past its supplied end pointer (spec.md
// §7) — a slice with bounds checking enforces that directly.
type Decoder struct {
	config DecoderConfig

	data []byte
	pos  int

	stack []interface{} // Value or classMarker
	marks []int
	memo  []Value

	lastOpcode byte
	protocolSeen bool
}

// NewDecoder returns a new Decoder over data with default configuration.
func NewDecoder(data []byte) *Decoder {
	return NewDecoderWithConfig(data, DecoderConfig{})
}

// NewDecoderWithConfig returns a new Decoder over data, configured per
// config.
func NewDecoderWithConfig(data []byte, config DecoderConfig) *Decoder {
	return &Decoder{config: config, data: data}
}

// Parse runs the decoder to STOP and returns the elements of the single
// top-level container left on the stack (spec.md §4.2 "Decoder output").
func (d *Decoder) Parse() ([]Value, error) {
	if err := d.expectProto(); err != nil {
		return nil, err
	}

	for {
		op, err := d.readByte()
		if err != nil {
			return nil, newErr(MalformedStream, d.pos, "input exhausted before STOP")
		}

		if op == opStop {
			break
		}

		if err := d.dispatch(op); err != nil {
			return nil, err
		}
		if err := d.checkMarksWithinStack(); err != nil {
			return nil, err
		}
		d.lastOpcode = op
	}

	if len(d.marks) != 0 {
		return nil, newErr(UnbalancedContainer, d.pos, "%d MARK(s) never closed before STOP", len(d.marks))
	}

	top, err := d.xpop()
	if err != nil {
		return nil, err
	}
	switch v := top.(type) {
	case *Tuple:
		return v.Items, nil
	case *List:
		return v.Items, nil
	default:
		return nil, newErr(MalformedStream, d.pos, "top-level value is not a Tuple or List: %T", top)
	}
}

func (d *Decoder) expectProto() error {
	op, err := d.readByte()
	if err != nil || op != opProto {
		return errBadProtocol
	}
	v, err := d.readByte()
	if err != nil {
		return errBadProtocol
	}
	if v != protocolVersion {
		return errBadProtocol
	}
	d.protocolSeen = true
	d.lastOpcode = opProto
	return nil
}

func (d *Decoder) dispatch(op byte) error {
	switch op {
	case opMark:
		d.mark()
		return nil
	case opNewtrue:
		d.push(true)
		return nil
	case opNewfalse:
		d.push(false)
		return nil
	case opNone:
		d.push(theNone)
		return nil
	case opBinint1:
		return d.loadBinInt1()
	case opBinint:
		return d.loadBinInt()
	case opLong1:
		return d.loadLong1()
	case opBinfloat:
		return d.loadBinFloat()
	case opBinunicode:
		return d.loadBinUnicode()
	case opEmptyList:
		return d.loadEmptyList()
	case opEmptyTuple:
		d.push(NewTuple())
		return nil
	case opEmptyDict:
		d.push(NewDict())
		return nil
	case opTuple:
		return d.loadTuple()
	case opAppends:
		return d.loadAppends()
	case opSetitems:
		return d.loadSetItems()
	case opBinput:
		return d.loadBinPut()
	case opLongBinput:
		return d.loadLongBinPut()
	case opBinget:
		return d.loadBinGet()
	case opLongBinget:
		return d.loadLongBinGet()
	case opGlobal:
		return d.loadGlobal()
	case opNewobj:
		return d.loadNewobj()
	case opBuild:
		return d.loadBuild()
	case opReduce:
		return d.loadReduce()
	case opBinpersid:
		return d.loadBinPersid()
	default:
		return newErr(MalformedStream, d.pos-1, "unknown opcode %#x", op)
	}
}

// --- low-level cursor helpers ---

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, errMissingStop
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if d.pos+n > len(d.data) {
		return nil, newErr(MalformedStream, d.pos, "truncated operand: need %d bytes, have %d", n, len(d.data)-d.pos)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readLine() ([]byte, error) {
	start := d.pos
	for d.pos < len(d.data) {
		if d.data[d.pos] == '\n' {
			line := d.data[start:d.pos]
			d.pos++
			return line, nil
		}
		c := d.data[d.pos]
		if !isIdentChar(c) {
			return nil, newErr(MalformedStream, d.pos, "illegal character %q in identifier", c)
		}
		d.pos++
	}
	return nil, newErr(MalformedStream, d.pos, "unterminated identifier")
}

func isIdentChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_':
		return true
	}
	return false
}

// --- stack helpers, named after the teacher's mark()/marker()/push()/pop()/xpop() ---

func (d *Decoder) mark() {
	d.marks = append(d.marks, len(d.stack))
}

// checkMarksWithinStack reports a malformed stream if the most recently
// opened MARK now points past the end of the value stack. An opcode like
// REDUCE can pop more stack entries than it pushes; if that net shrinkage
// reaches below an open MARK, the MARK's recorded position is left
// dangling, and the opcode that eventually tries to close it (TUPLE,
// APPENDS, SETITEMS) would slice the stack out of range. Checking after
// every opcode catches this the moment it happens instead of letting it
// surface as a panic later.
func (d *Decoder) checkMarksWithinStack() error {
	if len(d.marks) == 0 {
		return nil
	}
	if d.marks[len(d.marks)-1] > len(d.stack) {
		return newErr(UnbalancedContainer, d.pos, "opcode left the stack shorter than an open MARK")
	}
	return nil
}

// marker pops and returns the position of the topmost mark.
func (d *Decoder) marker() (int, error) {
	if len(d.marks) == 0 {
		return 0, errNoMarker
	}
	m := d.marks[len(d.marks)-1]
	d.marks = d.marks[:len(d.marks)-1]
	return m, nil
}

func (d *Decoder) push(v interface{}) {
	d.stack = append(d.stack, v)
}

func (d *Decoder) pop() (interface{}, error) {
	n := len(d.stack) - 1
	if n < 0 {
		return nil, errStackUnderflow
	}
	v := d.stack[n]
	d.stack = d.stack[:n]
	return v, nil
}

func (d *Decoder) xpop() (interface{}, error) {
	return d.pop()
}

func (d *Decoder) top() (interface{}, error) {
	if len(d.stack) == 0 {
		return nil, errStackUnderflow
	}
	return d.stack[len(d.stack)-1], nil
}

// --- opcode handlers ---

func (d *Decoder) loadBinInt1() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	d.push(int64(int8(b)))
	return nil
}

func (d *Decoder) loadBinInt() error {
	b, err := d.readN(4)
	if err != nil {
		return err
	}
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	d.push(int64(int32(v)))
	return nil
}

func (d *Decoder) loadLong1() error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	if n != 8 {
		return newErr(MalformedStream, d.pos, "LONG1 length %d unsupported, only 8 is", n)
	}
	b, err := d.readN(8)
	if err != nil {
		return err
	}
	v := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	d.push(int64(v))
	return nil
}

func (d *Decoder) loadBinFloat() error {
	b, err := d.readN(8)
	if err != nil {
		return err
	}
	u := uint64(b[7]) | uint64(b[6])<<8 | uint64(b[5])<<16 | uint64(b[4])<<24 |
		uint64(b[3])<<32 | uint64(b[2])<<40 | uint64(b[1])<<48 | uint64(b[0])<<56
	d.push(math.Float64frombits(u))
	return nil
}

func (d *Decoder) loadBinUnicode() error {
	lb, err := d.readN(4)
	if err != nil {
		return err
	}
	length := uint32(lb[0]) | uint32(lb[1])<<8 | uint32(lb[2])<<16 | uint32(lb[3])<<24
	data, err := d.readN(int(length))
	if err != nil {
		return err
	}
	d.push(NewString(string(data)))
	return nil
}

// loadEmptyList implements the three-way EMPTY_LIST disambiguation
// (spec.md §4.2, §9 Open Question: "legacy EMPTY_LIST disambiguation").
// All three behaviors are preserved exactly as named rather than
// collapsed, per that Design Note's instruction. Because marks live on
// their own stack here (d.marks) rather than as sentinels mixed into
// d.stack, "top of stack" below is always the nearest actual value or
// class marker — no skipping is needed the way it would be if MARK
// occupied a value-stack slot.
func (d *Decoder) loadEmptyList() error {
	if d.lastOpcode == opNewobj {
		if v, err := d.top(); err == nil {
			if tag, ok := v.(int64); ok {
				if PicklerClass(tag) == pcIntList {
					d.push(NewIntList())
					return nil
				}
				d.push(NewList())
				return nil
			}
		}
	}

	if v, err := d.top(); err == nil {
		if cm, ok := v.(classMarker); ok && cm.class == pcIntList {
			d.push(NewIntList())
			return nil
		}
	}

	d.push(NewList())
	return nil
}

func (d *Decoder) loadTuple() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	items, err := d.valuesFrom(m)
	if err != nil {
		return err
	}
	d.stack = d.stack[:m]
	d.push(NewTuple(items...))
	return nil
}

// valuesFrom converts stack[m:] into a []Value. A pcTensor/pcIntList
// classMarker found here means a reconstructor was pushed but never
// REDUCE/BUILD-consumed before being asked to act as a plain value, which
// is malformed (spec.md §9: those class markers are never exposed as
// ordinary Values). A pcOpaque classMarker is different: this dialect
// never interprets what it names, so it is allowed to sit directly inside
// a container (as a literal-mode tensor's persistent-id tuple embeds the
// torch/<X>Storage global) and is surfaced as an OpaqueObject.
func (d *Decoder) valuesFrom(m int) ([]Value, error) {
	if m < 0 || m > len(d.stack) {
		return nil, newErr(UnbalancedContainer, d.pos, "MARK position %d is past the end of a %d-entry stack", m, len(d.stack))
	}
	raw := d.stack[m:]
	items := make([]Value, len(raw))
	for i, r := range raw {
		if cm, ok := r.(classMarker); ok {
			if cm.class != pcOpaque {
				return nil, newErr(MalformedStream, d.pos, "unexpected class marker in container")
			}
			items[i] = OpaqueObject{Class: cm.name}
			continue
		}
		items[i] = r
	}
	return items, nil
}

func (d *Decoder) loadAppends() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	if m < 1 || m-1 >= len(d.stack) {
		return errStackUnderflow
	}
	target := d.stack[m-1]
	items, err := d.valuesFrom(m)
	if err != nil {
		return err
	}

	switch t := target.(type) {
	case *List:
		t.Items = append(t.Items, items...)
	case *IntList:
		for _, v := range items {
			n, ok := v.(int64)
			if !ok {
				return newErr(MalformedStream, d.pos, "APPENDS: IntList element is not an Int: %T", v)
			}
			t.Items = append(t.Items, n)
		}
	default:
		return newErr(MalformedStream, d.pos, "APPENDS: target is not a List or IntList: %T", target)
	}
	d.stack = d.stack[:m]
	return nil
}

func (d *Decoder) loadSetItems() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	if m < 1 || m-1 >= len(d.stack) {
		return errStackUnderflow
	}
	target, ok := d.stack[m-1].(*Dict)
	if !ok {
		return newErr(MalformedStream, d.pos, "SETITEMS: target is not a Dict: %T", d.stack[m-1])
	}
	pairs, err := d.valuesFrom(m)
	if err != nil {
		return err
	}
	if len(pairs)%2 != 0 {
		return newErr(MalformedStream, d.pos, "SETITEMS: odd number of stack entries")
	}
	for i := 0; i < len(pairs); i += 2 {
		target.Set(pairs[i], pairs[i+1])
	}
	d.stack = d.stack[:m]
	return nil
}

func (d *Decoder) memoID(n int) (int, error) {
	if n < 0 {
		return 0, newErr(MalformedStream, d.pos, "negative memo id")
	}
	return n, nil
}

// bindMemo binds the current top of stack to id, growing the memo table
// as needed. The top may be a classMarker: GLOBAL shares memo id
// allocation with ordinary Values (spec.md §4.1 "Global reference
// protocol"), so a repeated global name round-trips through PUT/GET the
// same way a repeated container does.
func (d *Decoder) bindMemo(id int) error {
	v, err := d.top()
	if err != nil {
		return err
	}
	for len(d.memo) <= id {
		d.memo = append(d.memo, nil)
	}
	d.memo[id] = v
	return nil
}

func (d *Decoder) loadBinPut() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	id, err := d.memoID(int(b))
	if err != nil {
		return err
	}
	return d.bindMemo(id)
}

func (d *Decoder) loadLongBinPut() error {
	b, err := d.readN(4)
	if err != nil {
		return err
	}
	id := int(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	return d.bindMemo(id)
}

func (d *Decoder) fetchMemo(id int) error {
	if id < 0 || id >= len(d.memo) || d.memo[id] == nil {
		return newErr(MemoMiss, d.pos, "memo id %d is unbound", id)
	}
	d.push(d.memo[id])
	return nil
}

func (d *Decoder) loadBinGet() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	return d.fetchMemo(int(b))
}

func (d *Decoder) loadLongBinGet() error {
	b, err := d.readN(4)
	if err != nil {
		return err
	}
	id := int(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	return d.fetchMemo(id)
}

// loadGlobal resolves a GLOBAL opcode's module/name pair into either a
// legacy integer class tag (module __main__) or a classMarker (spec.md
// §4.2, §6 "Global names recognized").
func (d *Decoder) loadGlobal() error {
	moduleB, err := d.readLine()
	if err != nil {
		return err
	}
	nameB, err := d.readLine()
	if err != nil {
		return err
	}
	module := string(moduleB)
	name := string(nameB)

	if module == "__main__" {
		tag, err := legacyClassTag(name)
		if err != nil {
			return err
		}
		d.push(int64(tag))
		return nil
	}

	tag, err := resolveGlobalClass(module, name)
	if err != nil {
		return err
	}
	d.push(classMarker{class: tag, name: module + "." + name})
	return nil
}

func legacyClassTag(name string) (PicklerClass, error) {
	switch name {
	case "TensorID":
		return pcTensor, nil
	case "IntList":
		return pcIntList, nil
	default:
		return 0, newErr(UnknownGlobal, -1, "unknown legacy __main__ global %q", name)
	}
}

func resolveGlobalClass(module, name string) (PicklerClass, error) {
	if module == "torch.jit._pickle" {
		switch name {
		case "build_tensor_from_id", "TensorID":
			return pcTensor, nil
		case "build_intlist", "IntList":
			return pcIntList, nil
		}
	}
	if module == "torch._utils" && name == "_rebuild_tensor_v2" {
		return pcOpaque, nil
	}
	if module == "collections" && name == "OrderedDict" {
		return pcOpaque, nil
	}
	if module == "torch" && isStorageGlobalName(name) {
		return pcOpaque, nil
	}
	return 0, newErr(UnknownGlobal, -1, "unknown global %s.%s", module, name)
}

// isStorageGlobalName reports whether name is one of the torch/<X>Storage
// globals a literal-mode tensor's persistent-id tuple names (spec.md
// §4.1): "Float", "Double", "Half", "Long", "Int", "Short", "Char",
// "Byte" or "Bool" followed by "Storage".
func isStorageGlobalName(name string) bool {
	const suffix = "Storage"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return false
	}
	for _, n := range storageTypeNames {
		if name == n+suffix {
			return true
		}
	}
	return false
}

// loadNewobj implements the legacy NEWOBJ step: pop and discard the empty
// argument tuple, leaving the preceding class tag on the stack for a
// following BUILD (spec.md §4.2, §9 "The BUILD + NEWOBJ legacy path").
func (d *Decoder) loadNewobj() error {
	v, err := d.pop()
	if err != nil {
		return err
	}
	tup, ok := v.(*Tuple)
	if !ok {
		return newErr(MalformedStream, d.pos, "NEWOBJ: expected an empty tuple, got %T", v)
	}
	if len(tup.Items) != 0 {
		return newErr(MalformedStream, d.pos, "NEWOBJ: expected an empty tuple, got %d items", len(tup.Items))
	}
	return nil
}

// loadBuild implements the legacy reconstruction path (spec.md §4.2).
func (d *Decoder) loadBuild() error {
	state, err := d.pop()
	if err != nil {
		return err
	}
	rawTag, err := d.pop()
	if err != nil {
		return err
	}
	tagInt, ok := rawTag.(int64)
	if !ok {
		return newErr(MalformedStream, d.pos, "BUILD: expected class-tag integer, got %T", rawTag)
	}

	switch PicklerClass(tagInt) {
	case pcTensor:
		idx, ok := state.(int64)
		if !ok {
			return newErr(MalformedStream, d.pos, "BUILD: tensor state is not an Int: %T", state)
		}
		t, err := d.lookupTensor(idx)
		if err != nil {
			return err
		}
		d.push(t)
	case pcIntList:
		il, ok := state.(*IntList)
		if !ok {
			return newErr(MalformedStream, d.pos, "BUILD: IntList state is not an IntList: %T", state)
		}
		d.push(il)
	default:
		return newErr(MalformedStream, d.pos, "BUILD: unknown class tag %d", tagInt)
	}
	return nil
}

// loadReduce implements the modern reconstruction path (spec.md §4.2).
func (d *Decoder) loadReduce() error {
	rawArgs, err := d.pop()
	if err != nil {
		return err
	}
	rawClass, err := d.pop()
	if err != nil {
		return err
	}

	args, ok := rawArgs.(*Tuple)
	if !ok {
		return newErr(MalformedStream, d.pos, "REDUCE: expected an argument Tuple, got %T", rawArgs)
	}
	cm, ok := rawClass.(classMarker)
	if !ok {
		return newErr(MalformedStream, d.pos, "REDUCE: expected a class marker, got %T", rawClass)
	}
	if cm.class == pcOpaque {
		d.push(OpaqueObject{Class: cm.name})
		return nil
	}
	if len(args.Items) == 0 {
		return newErr(MalformedStream, d.pos, "REDUCE: empty argument tuple")
	}

	switch cm.class {
	case pcTensor:
		idx, ok := args.Items[0].(int64)
		if !ok {
			return newErr(MalformedStream, d.pos, "REDUCE: tensor argument is not an Int: %T", args.Items[0])
		}
		t, err := d.lookupTensor(idx)
		if err != nil {
			return err
		}
		d.push(t)
	case pcIntList:
		il, ok := args.Items[0].(*IntList)
		if !ok {
			return newErr(MalformedStream, d.pos, "REDUCE: IntList argument is not an IntList: %T", args.Items[0])
		}
		d.push(il)
	default:
		return newErr(MalformedStream, d.pos, "REDUCE: unknown class marker %d", cm.class)
	}
	return nil
}

// loadBinPersid resolves a persistent id (spec.md §6 GLOSSARY "Persistent
// id"). This dialect only ever writes one as the storage half of a
// literal-mode tensor, which "is not decoded by this core" (spec.md §6);
// it pops the id tuple and pushes an OpaqueObject placeholder so the
// surrounding REDUCE machinery still balances.
func (d *Decoder) loadBinPersid() error {
	v, err := d.pop()
	if err != nil {
		return err
	}
	if _, ok := v.(*Tuple); !ok {
		return newErr(MalformedStream, d.pos, "BINPERSID: expected a persistent-id Tuple, got %T", v)
	}
	d.push(OpaqueObject{Class: "persistent-id"})
	return nil
}

func (d *Decoder) lookupTensor(idx int64) (Tensor, error) {
	if d.config.TensorTable == nil {
		return nil, newErr(UnsupportedType, d.pos, "tensor reference decoded without a TensorTable")
	}
	t, ok := d.config.TensorTable.Get(idx)
	if !ok {
		return nil, newErr(MalformedStream, d.pos, "tensor table has no entry at index %d", idx)
	}
	return t, nil
}
