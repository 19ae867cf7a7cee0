// Package od holds the driver's static Object Dictionary: an immutable,
// process-wide table of entry metadata describing the device's objects
// (index, sub-index, access, PDO mappability, default value). The driver
// targets one fixed device profile, so the table is compiled in rather than
// parsed from an EDS file.
package od

import "fmt"

// Access is an entry's access type.
type Access uint8

const (
	ReadOnly Access = iota
	WriteOnly
	ReadWrite
	Const
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "ro"
	case WriteOnly:
		return "wo"
	case ReadWrite:
		return "rw"
	case Const:
		return "const"
	default:
		return "unknown"
	}
}

// Mappability records whether an entry may appear in a PDO mapping, and if
// so which kind(s).
type Mappability uint8

const (
	NotMappable Mappability = iota
	MappableRPDO
	MappableTPDO
	MappableEither
)

// Kind tags the type of an entry's default Value.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindF32
	KindF64
	KindBytes
	KindArray // struct-with-N-subs placeholder entry, e.g. 0x607D:0x00
)

// Value is a small tagged union for an entry's default. Only one field is
// meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Bool  bool
	I8    int8
	U8    uint8
	I16   int16
	U16   uint16
	I32   int32
	U32   uint32
	I64   int64
	U64   uint64
	F32   float32
	F64   float64
	Bytes []byte
	// ArrayLen is the sub-entry count for a KindArray placeholder (e.g. the
	// sub-index-0 "number of entries" record of 0x607B/0x607D).
	ArrayLen uint8
}

func U8Value(v uint8) Value { return Value{Kind: KindU8, U8: v} }
func I8Value(v int8) Value { return Value{Kind: KindI8, I8: v} }
func U16Value(v uint16) Value { return Value{Kind: KindU16, U16: v} }
func I16Value(v int16) Value { return Value{Kind: KindI16, I16: v} }
func U32Value(v uint32) Value { return Value{Kind: KindU32, U32: v} }
func I32Value(v int32) Value { return Value{Kind: KindI32, I32: v} }
func ArrayValue(n uint8) Value { return Value{Kind: KindArray, ArrayLen: n} }

// Entry is a static OD record. The OD table is immutable; callers consume
// entries by value or by pointer into the package-level table, never copy
// them into per-connection mutable state.
type Entry struct {
	Index       uint16
	SubIndex    uint8
	Name        string
	Access      Access
	Mappability Mappability
	Default     Value
}

// Key identifies an entry by (index, sub-index), the OD table's lookup key.
type Key struct {
	Index    uint16
	SubIndex uint8
}

func (k Key) String() string { return fmt.Sprintf("x%04X:%02X", k.Index, k.SubIndex) }

func (e Entry) Key() Key { return Key{e.Index, e.SubIndex} }
