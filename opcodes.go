package tpickle

import "fmt"

// Opcodes understood by this dialect's Decoder.
//
// This is a subset of pickle protocol 2: only the opcodes this codec
// actually emits or needs to recognize on the legacy BUILD/NEWOBJ path are
// listed. Any other byte is rejected as MalformedStream.
const (
	opMark        byte = 0x28 // '(' push mark object on stack
	opStop        byte = 0x2e // '.' every program ends with STOP
	opNone        byte = 0x4e // 'N' push None
	opReduce      byte = 0x52 // 'R' pop (class, argtuple), push class(*argtuple)
	opBinpersid   byte = 0x51 // 'Q' push persistent object; id taken from stack
	opGlobal      byte = 0x63 // 'c' push find_class(module, name); 2 newline-terminated args
	opBuild       byte = 0x62 // 'b' legacy __setstate__ reconstruction
	opAppends     byte = 0x65 // 'e' extend list on stack by topmost stack slice
	opBinget      byte = 0x68 // 'h' push memo[1-byte id]
	opLongBinget  byte = 0x6a // 'j' push memo[4-byte id]
	opEmptyList   byte = 0x5d // ']' push empty list
	opEmptyTuple  byte = 0x29 // ')' push empty tuple
	opEmptyDict   byte = 0x7d // '}' push empty dict
	opBinput      byte = 0x71 // 'q' memo[1-byte id] = top of stack
	opLongBinput  byte = 0x72 // 'r' memo[4-byte id] = top of stack
	opSetitems    byte = 0x75 // 'u' add topmost key/value pairs to dict
	opTuple       byte = 0x74 // 't' build tuple from mark..top
	opBinfloat    byte = 0x47 // 'G' push float; 8-byte big-endian IEEE-754
	opBinint      byte = 0x4a // 'J' push four-byte signed int
	opBinint1     byte = 0x4b // 'K' push one-byte signed int
	opBinunicode  byte = 0x58 // 'X' push string; counted UTF-8 argument
	opProto       byte = 0x80 // identify pickle protocol
	opNewobj      byte = 0x81 // legacy: build object by cls.__new__(*argtuple)
	opNewtrue     byte = 0x88 // push True
	opNewfalse    byte = 0x89 // push False
	opLong1       byte = 0x8a // push long from < 256 bytes
)

// protocolVersion is the only pickle protocol this codec speaks.
const protocolVersion = 2

// OpcodeError describes a byte outside the opcode set this dialect
// recognizes. Decoder.Parse reports such a byte as a MalformedStream
// *Error, not as an OpcodeError.
type OpcodeError struct {
	Key byte
	Pos int
}

func (e OpcodeError) Error() string {
	return fmt.Sprintf("tpickle: unknown opcode %#x at position %d", e.Key, e.Pos)
}
