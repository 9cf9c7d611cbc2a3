// Package tpickle implements a tensor-aware dialect of Python's pickle
// protocol 2 wire format, as used to serialize ML model state that mixes
// ordinary Python values with large tensor payloads.
//
// Use Decoder to parse a pickle byte stream:
//
//	d := tpickle.NewDecoder(data)
//	values, err := d.Parse() // values holds the elements of the top-level Tuple or List
//
// Use Encoder to produce one:
//
//	e := tpickle.NewEncoder()
//	e.Begin()
//	e.BeginTuple()
//	if err := e.Write(tpickle.NewString("hello")); err != nil {
//		// ...
//	}
//	e.EndTuple()
//	if err := e.Finish(); err != nil {
//		// ...
//	}
//	data := e.Bytes()
//
// The following table summarizes the Value variants this dialect knows
// how to encode and decode:
//
//	Python            Go
//	------            --
//
//	None          ↔   tpickle.None
//	bool          ↔   bool
//	int           ↔   int64
//	float         ↔   float64
//	str           ↔   *tpickle.String
//	list          ↔   *tpickle.List
//	tuple         ↔   *tpickle.Tuple
//	dict          ↔   *tpickle.Dict
//	IntList       ↔   *tpickle.IntList
//	torch.Tensor  ↔   tpickle.Tensor
//
// Unlike a general-purpose pickle decoder, this dialect recognizes exactly
// two custom classes on the wire — the ones the torch.jit._pickle module
// defines for tensors and integer lists — and rejects anything else it does
// not otherwise understand as UnsupportedType/UnknownGlobal. It is not meant
// to round-trip arbitrary Python objects.
//
// # Tensors
//
// A Tensor can be written two ways. In reference mode the Encoder appends
// the tensor to an EncoderConfig.TensorTable and writes only its index; the
// matching DecoderConfig.TensorTable must be populated in the same order
// before Parse is called, since decoding never reconstructs tensor storage
// bytes out of thin air. In literal mode the Encoder instead embeds the
// tensor's storage bytes directly in the stream via a persistent-id tuple
// and a trailing binary record, appended after STOP by Finish — see
// EncoderConfig.TensorIO and the Encoder/Decoder Tensor encoding notes for
// the exact layout. Decoding a literal-mode tensor does not reconstruct a
// Tensor: the reducer and persistent-id machinery it uses are recognized
// (so decoding does not fail) but not interpreted, and surface as
// OpaqueObject placeholders instead.
//
// # Memoization
//
// Strings, Lists, Tuples, Dicts and IntLists are memoized on first
// emission: a repeated occurrence of the same Go object (by identity, not
// by value) is written as a back-reference (BINGET/LONG_BINGET) instead of
// being re-serialized. Two distinct but equal Strings are not unified; only
// writing the same *String pointer twice produces a back-reference.
package tpickle
