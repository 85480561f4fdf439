package ir

import (
	"io"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
	"tlog.app/go/errors"
)

type (
	fileModule struct {
		Types []fileNamedType `msgpack:"types,omitempty"`
		Funcs []fileFunc      `msgpack:"funcs"`
	}

	fileNamedType struct {
		Name string   `msgpack:"name"`
		Type fileType `msgpack:"type"`
	}

	fileType struct {
		Kind   string      `msgpack:"k"`
		Bytes  int16       `msgpack:"b,omitempty"`
		Signed bool        `msgpack:"s,omitempty"`
		Target *fileType   `msgpack:"t,omitempty"`
		Cap    int16       `msgpack:"c,omitempty"`
		Path   string      `msgpack:"p,omitempty"`
		Fields []fileField `msgpack:"f,omitempty"`
	}

	fileField struct {
		Name string   `msgpack:"n"`
		Type fileType `msgpack:"t"`
	}

	fileFunc struct {
		Name   string      `msgpack:"name"`
		Flags  []string    `msgpack:"flags,omitempty"`
		Args   []fileParam `msgpack:"args,omitempty"`
		Return fileType    `msgpack:"ret"`
		Body   []fileStmt  `msgpack:"body,omitempty"`
	}

	fileParam struct {
		Name string   `msgpack:"n"`
		Type fileType `msgpack:"t"`
	}

	fileStmt struct {
		Return bool     `msgpack:"r,omitempty"`
		X      fileExpr `msgpack:"x"`
	}

	fileExpr struct {
		Kind string `msgpack:"k"`

		Int   uint64  `msgpack:"i,omitempty"`
		Float float64 `msgpack:"fl,omitempty"`
		Bool  bool    `msgpack:"bo,omitempty"`
		Str   string  `msgpack:"s,omitempty"`

		Offset int16     `msgpack:"o,omitempty"`
		Type   *fileType `msgpack:"t,omitempty"`

		Callee string     `msgpack:"callee,omitempty"` // name
		Meta   string     `msgpack:"meta,omitempty"`   // exact overload, optional
		Args   []fileExpr `msgpack:"args,omitempty"`

		Op   BinaryOp  `msgpack:"op,omitempty"`
		L    *fileExpr `msgpack:"l,omitempty"`
		R    *fileExpr `msgpack:"r,omitempty"`
		Wide bool      `msgpack:"w,omitempty"`
	}
)

var builtinTypes = []string{"void", "i8", "u8", "i16", "u16", "i32", "u32", "i64", "u64"}

// EncodeModule writes m in the msgpack IR file format.
func EncodeModule(w io.Writer, m *Module) error {
	var fm fileModule

	names := make([]string, 0, len(m.Types))

	for name := range m.Types {
		if slices.Contains(builtinTypes, name) {
			continue
		}

		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		fm.Types = append(fm.Types, fileNamedType{Name: name, Type: encodeType(m.Types[name])})
	}

	for _, f := range m.Funcs() {
		ff := fileFunc{
			Name:   f.Name,
			Flags:  f.Flags.Names(),
			Return: encodeType(f.Return),
		}

		for _, a := range f.Args {
			ff.Args = append(ff.Args, fileParam{Name: a.Name, Type: encodeType(a.Type)})
		}

		for _, s := range f.Body {
			switch s := s.(type) {
			case ExprStmt:
				ff.Body = append(ff.Body, fileStmt{X: encodeExpr(s.X)})
			case Return:
				ff.Body = append(ff.Body, fileStmt{Return: true, X: encodeExpr(s.X)})
			default:
				panic(s)
			}
		}

		fm.Funcs = append(fm.Funcs, ff)
	}

	err := msgpack.NewEncoder(w).Encode(&fm)
	if err != nil {
		return errors.Wrap(err, "encode module")
	}

	return nil
}

// DecodeModule reads a module written by EncodeModule or by a front-end.
// All signatures are pushed before any body is decoded,
// so calls may refer to functions declared later in the file.
func DecodeModule(r io.Reader) (*Module, error) {
	var fm fileModule

	err := msgpack.NewDecoder(r).Decode(&fm)
	if err != nil {
		return nil, errors.Wrap(err, "decode module")
	}

	m := NewModule()

	for _, nt := range fm.Types {
		t, err := decodeType(m, &nt.Type)
		if err != nil {
			return nil, errors.Wrap(err, "type %v", nt.Name)
		}

		err = m.DefineType(nt.Name, t)
		if err != nil {
			return nil, err
		}
	}

	funcs := make([]*Function, len(fm.Funcs))

	for i, ff := range fm.Funcs {
		var args []Param

		for _, a := range ff.Args {
			t, err := decodeType(m, &a.Type)
			if err != nil {
				return nil, errors.Wrap(err, "func %v: arg %v", ff.Name, a.Name)
			}

			args = append(args, Param{Name: a.Name, Type: t})
		}

		ret, err := decodeType(m, &ff.Return)
		if err != nil {
			return nil, errors.Wrap(err, "func %v: return", ff.Name)
		}

		var flags Flags

		for _, name := range ff.Flags {
			fl, ok := ParseFlag(name)
			if !ok {
				return nil, errors.New("func %v: unknown flag %q", ff.Name, name)
			}

			flags |= fl
		}

		f := NewFunction(ff.Name, args, ret, flags, nil)

		err = m.Push(f)
		if err != nil {
			return nil, err
		}

		funcs[i] = f
	}

	for i, ff := range fm.Funcs {
		f := funcs[i]

		for _, fs := range ff.Body {
			x, err := decodeExpr(m, &fs.X)
			if err != nil {
				return nil, errors.Wrap(err, "func %v", f.Metadata)
			}

			if fs.Return {
				f.Body = append(f.Body, Return{X: x})
			} else {
				f.Body = append(f.Body, ExprStmt{X: x})
			}
		}
	}

	return m, nil
}

func encodeType(t DataType) fileType {
	switch t := t.(type) {
	case Scalar:
		return fileType{Kind: "scalar", Bytes: t.Bytes, Signed: t.Signed}
	case Pointer:
		x := encodeType(t.Target)
		return fileType{Kind: "ptr", Target: &x}
	case Array:
		x := encodeType(t.Target)
		return fileType{Kind: "array", Target: &x, Cap: t.Capacity}
	case Struct:
		r := fileType{Kind: "struct", Path: t.Path}

		for _, f := range t.Fields {
			r.Fields = append(r.Fields, fileField{Name: f.Name, Type: encodeType(f.Type)})
		}

		return r
	default:
		panic(t)
	}
}

func decodeType(m *Module, t *fileType) (DataType, error) {
	switch t.Kind {
	case "scalar":
		return Scalar{Bytes: t.Bytes, Signed: t.Signed}, nil
	case "ptr", "array":
		if t.Target == nil {
			return nil, errors.New("%v without target", t.Kind)
		}

		x, err := decodeType(m, t.Target)
		if err != nil {
			return nil, err
		}

		if t.Kind == "ptr" {
			return Pointer{Target: x}, nil
		}

		return Array{Target: x, Capacity: t.Cap}, nil
	case "struct":
		r := Struct{Path: t.Path}

		for _, f := range t.Fields {
			x, err := decodeType(m, &f.Type)
			if err != nil {
				return nil, errors.Wrap(err, "field %v", f.Name)
			}

			r.Fields = append(r.Fields, Field{Name: f.Name, Type: x})
		}

		return r, nil
	case "named":
		return m.ResolveType(t.Path)
	default:
		return nil, errors.New("unsupported type kind: %q", t.Kind)
	}
}

func encodeExpr(x Expr) fileExpr {
	switch x := x.(type) {
	case Int:
		return fileExpr{Kind: "int", Int: uint64(x)}
	case Float:
		return fileExpr{Kind: "float", Float: float64(x)}
	case Bool:
		return fileExpr{Kind: "bool", Bool: bool(x)}
	case Str:
		return fileExpr{Kind: "str", Str: string(x)}
	case Local:
		t := encodeType(x.Type)
		return fileExpr{Kind: "local", Offset: x.Offset, Type: &t}
	case *Call:
		r := fileExpr{Kind: "call", Callee: x.Callee.Name, Meta: x.Callee.Metadata}

		for _, a := range x.Args {
			r.Args = append(r.Args, encodeExpr(a))
		}

		return r
	case *Binary:
		l := encodeExpr(x.L)
		r := encodeExpr(x.R)

		return fileExpr{Kind: "binary", Op: x.Op, L: &l, R: &r, Wide: x.Wide}
	default:
		panic(x)
	}
}

func decodeExpr(m *Module, x *fileExpr) (Expr, error) {
	switch x.Kind {
	case "int":
		return Int(x.Int), nil
	case "float":
		return Float(x.Float), nil
	case "bool":
		return Bool(x.Bool), nil
	case "str":
		return Str(x.Str), nil
	case "local":
		if x.Type == nil {
			return nil, errors.New("local %d without type", x.Offset)
		}

		t, err := decodeType(m, x.Type)
		if err != nil {
			return nil, err
		}

		return Local{Offset: x.Offset, Type: t}, nil
	case "call":
		args := make([]Expr, len(x.Args))

		for i := range x.Args {
			a, err := decodeExpr(m, &x.Args[i])
			if err != nil {
				return nil, errors.Wrap(err, "call %v: arg %d", x.Callee, i)
			}

			args[i] = a
		}

		if x.Meta != "" {
			f, ok := m.LookupMetadata(x.Meta)
			if !ok {
				return nil, FunctionNotFoundError{Name: x.Meta, Args: len(args)}
			}

			return &Call{Callee: f.Signature.Clone(), Args: args}, nil
		}

		return m.ResolveCall(x.Callee, args)
	case "binary":
		if x.L == nil || x.R == nil {
			return nil, errors.New("binary %v: missing operand", x.Op)
		}

		l, err := decodeExpr(m, x.L)
		if err != nil {
			return nil, err
		}

		r, err := decodeExpr(m, x.R)
		if err != nil {
			return nil, err
		}

		b := NewBinary(x.Op, l, r)
		b.Wide = x.Wide

		_, err = InferType(b, nil)
		if err != nil {
			return nil, err
		}

		return b, nil
	default:
		return nil, errors.New("unsupported expr kind: %q", x.Kind)
	}
}
