package tpickle

import "testing"

// FuzzDecode feeds arbitrary byte slices to the Decoder, checking only that
// it never panics — malformed input must always surface as an error
// (spec.md §7), never a crash. Replaces the teacher's obsolete
// "// +build gofuzz" harness with native go test fuzzing.
func FuzzDecode(f *testing.F) {
	f.Add([]byte{opProto, protocolVersion, opMark, opBinint1, 0x00, opTuple, opStop})
	f.Add([]byte{opProto, protocolVersion, opMark, opEmptyList, opTuple, opStop})
	f.Add([]byte{opProto, protocolVersion, opMark, opEmptyDict, opTuple, opStop})
	f.Add([]byte{})
	f.Add([]byte{opProto})
	f.Add([]byte{opProto, protocolVersion, opStop})

	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Parse panicked on input % x: %v", data, r)
			}
		}()
		_, _ = NewDecoder(data).Parse()
	})
}
