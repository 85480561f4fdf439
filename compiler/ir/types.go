package ir

import (
	"fmt"
	"strings"
)

type (
	// DataType is one of Scalar, Pointer, Array or Struct.
	DataType interface {
		fmt.Stringer

		Size() int

		dataType()
	}

	Scalar struct {
		Bytes  int16
		Signed bool
	}

	Pointer struct {
		Target DataType
	}

	Array struct {
		Target   DataType
		Capacity int16
	}

	Struct struct {
		Path   string
		Fields []Field
	}

	Field struct {
		Name string
		Type DataType
	}
)

var (
	Void = Scalar{}

	I8  = Scalar{Bytes: 1, Signed: true}
	U8  = Scalar{Bytes: 1}
	I16 = Scalar{Bytes: 2, Signed: true}
	U16 = Scalar{Bytes: 2}
	I32 = Scalar{Bytes: 4, Signed: true}
	U32 = Scalar{Bytes: 4}
	I64 = Scalar{Bytes: 8, Signed: true}
	U64 = Scalar{Bytes: 8}

	F64 = Scalar{Bytes: 8, Signed: true}
)

func (Scalar) dataType()  {}
func (Pointer) dataType() {}
func (Array) dataType()   {}
func (Struct) dataType()  {}

func (x Scalar) Size() int  { return int(x.Bytes) }
func (x Pointer) Size() int { return 8 }

func (x Array) Size() int {
	return x.Target.Size() * int(x.Capacity)
}

func (x Struct) Size() (s int) {
	for _, f := range x.Fields {
		s += f.Type.Size()
	}

	return s
}

func (x Scalar) String() string {
	if x.Bytes == 0 {
		return "void"
	}

	if x.Signed {
		return fmt.Sprintf("i%d", int(x.Bytes)*8)
	}

	return fmt.Sprintf("u%d", int(x.Bytes)*8)
}

func (x Pointer) String() string {
	return "*" + x.Target.String()
}

func (x Array) String() string {
	return fmt.Sprintf("[%v; %d]", x.Target, x.Capacity)
}

func (x Struct) String() string {
	var b strings.Builder

	b.WriteString("struct ")
	b.WriteString(x.Path)
	b.WriteString(" {")

	for i, f := range x.Fields {
		if i != 0 {
			b.WriteByte(',')
		}

		fmt.Fprintf(&b, " %s: %v", f.Name, f.Type)
	}

	b.WriteString(" }")

	return b.String()
}

// TypeEqual reports whether a and b are structurally equal.
func TypeEqual(a, b DataType) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case Scalar:
		b, ok := b.(Scalar)
		return ok && a == b
	case Pointer:
		b, ok := b.(Pointer)
		return ok && TypeEqual(a.Target, b.Target)
	case Array:
		b, ok := b.(Array)
		return ok && a.Capacity == b.Capacity && TypeEqual(a.Target, b.Target)
	case Struct:
		b, ok := b.(Struct)
		if !ok || a.Path != b.Path || len(a.Fields) != len(b.Fields) {
			return false
		}

		for i, f := range a.Fields {
			if f.Name != b.Fields[i].Name || !TypeEqual(f.Type, b.Fields[i].Type) {
				return false
			}
		}

		return true
	default:
		panic(a)
	}
}

// IsUnsigned reports whether t is an unsigned scalar.
// Pointers, arrays, structs and void are not.
func IsUnsigned(t DataType) bool {
	s, ok := t.(Scalar)

	return ok && s.Bytes != 0 && !s.Signed
}
