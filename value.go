package tpickle

import "sync/atomic"

// Value is a tagged dynamic value this codec knows how to encode and
// decode (spec §3). Go has no sum types, so — as og-rek does for Python
// values — Value is simply interface{}, type-switched into one of a closed
// set of concrete variants:
//
//	None       None
//	Bool       bool
//	Int        int64
//	Double     float64
//	String     *String
//	List       *List
//	Tuple      *Tuple
//	Dict       *Dict
//	IntList    *IntList
//	Tensor     Tensor
//
// String is a pointer type, not a raw Go string, because spec §3 groups
// String with the memoized container variants ("Strings, Lists, Tuples,
// Dicts, IntLists are memoized on their first emission"): memoization
// keys on object identity, and a raw Go string value has none. Wrapping it
// the same way as List/Tuple/Dict/IntList gives it one.
type Value interface{}

// None is the Value variant with no payload. It is never memoized (spec
// §3 invariant 2).
type None struct{}

var theNone = None{}

// container carries the densely-allocated object identity spec §9's
// Design Notes call for: "a stable numeric id assigned on construction of
// the container, exposed by the Value type as a capability" rather than
// leaning on pointer comparison directly.
type container struct {
	id uint64
}

var nextContainerID uint64

func newContainer() container {
	return container{id: atomic.AddUint64(&nextContainerID, 1)}
}

// identity returns the stable id assigned to this container at
// construction, used as the Encoder's memo key.
func (c container) identity() uint64 { return c.id }

// String is the Value variant for Python's str: a memoized, immutable
// UTF-8 byte sequence.
type String struct {
	container
	Value string
}

// NewString returns a new String wrapping s.
func NewString(s string) *String {
	return &String{container: newContainer(), Value: s}
}

// List is the Value variant for Python's list: an ordered, memoized,
// mutable sequence.
type List struct {
	container
	Items []Value
}

// NewList returns a new List containing items, in order.
func NewList(items ...Value) *List {
	return &List{container: newContainer(), Items: items}
}

// Append adds v to the end of the list.
func (l *List) Append(v Value) { l.Items = append(l.Items, v) }

// Tuple is the Value variant for Python's tuple: an ordered, memoized,
// immutable-by-convention sequence.
type Tuple struct {
	container
	Items []Value
}

// NewTuple returns a new Tuple containing items, in order.
func NewTuple(items ...Value) *Tuple {
	return &Tuple{container: newContainer(), Items: items}
}

// IntList is the Value variant for a homogeneous list of signed 64-bit
// integers, reconstructed on decode via the build_intlist/IntList custom
// class (spec §4.1, §6).
type IntList struct {
	container
	Items []int64
}

// NewIntList returns a new IntList containing items, in order.
func NewIntList(items ...int64) *IntList {
	return &IntList{container: newContainer(), Items: items}
}

// identityOf returns the memoization identity of v and whether v is a
// memoizable container at all (spec §3 invariant 3: strings, lists,
// tuples, dicts and int-lists are memoized on identity; everything else is
// not memoizable this way).
func identityOf(v Value) (uint64, bool) {
	switch x := v.(type) {
	case *String:
		return x.identity(), true
	case *List:
		return x.identity(), true
	case *Tuple:
		return x.identity(), true
	case *Dict:
		return x.identity(), true
	case *IntList:
		return x.identity(), true
	}
	return 0, false
}
