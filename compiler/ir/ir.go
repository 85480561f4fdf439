package ir

type (
	// Expr is one of Int, Float, Bool, Str, Local, *Call or *Binary.
	// Each child is exclusively owned by its parent.
	Expr interface {
		expr()
	}

	Literal interface {
		Expr

		literal()
	}

	Reference interface {
		Expr

		reference()
	}

	Int   uint64
	Float float64
	Bool  bool
	Str   string

	// Local is a stack slot relative to the frame pointer.
	Local struct {
		Offset int16
		Type   DataType
	}

	Call struct {
		Callee Signature
		Args   []Expr
	}

	Binary struct {
		Op BinaryOp
		L  Expr
		R  Expr

		// Wide keeps the full 64-bit result.
		// The value is not truncated to the operand type.
		Wide bool
	}

	BinaryOp int

	Statement interface {
		stmt()
	}

	ExprStmt struct {
		X Expr
	}

	Return struct {
		X Expr
	}

	Param struct {
		Name string
		Type DataType
	}

	Flags uint16

	Signature struct {
		Name     string
		Mangled  string
		Metadata string

		Args   []Param
		Return DataType

		Flags Flags
	}

	Function struct {
		Signature

		Body []Statement
	}
)

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Shl
	Shr
	And
)

const (
	NoMangle Flags = 1 << iota
)

var opNames = [...]string{
	Add: "add",
	Sub: "sub",
	Mul: "mul",
	Div: "div",
	Shl: "shl",
	Shr: "shr",
	And: "and",
}

func (Int) expr()     {}
func (Float) expr()   {}
func (Bool) expr()    {}
func (Str) expr()     {}
func (Local) expr()   {}
func (*Call) expr()   {}
func (*Binary) expr() {}

func (Int) literal()   {}
func (Float) literal() {}
func (Bool) literal()  {}
func (Str) literal()   {}

func (Local) reference() {}

func (ExprStmt) stmt() {}
func (Return) stmt()   {}

func (op BinaryOp) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "op?"
	}

	return opNames[op]
}

// Commutative reports whether operands of op may be swapped.
func (op BinaryOp) Commutative() bool {
	return op == Add || op == Mul || op == And
}

func ParseFlag(s string) (Flags, bool) {
	switch s {
	case "no_mangle":
		return NoMangle, true
	default:
		return 0, false
	}
}

func (f Flags) Has(x Flags) bool { return f&x == x }

// Names lists the known flags set in f. Unknown bits are skipped.
func (f Flags) Names() (r []string) {
	if f.Has(NoMangle) {
		r = append(r, "no_mangle")
	}

	return r
}

// NewFunction computes the canonical signature and the link-time symbol name.
func NewFunction(name string, args []Param, ret DataType, flags Flags, body []Statement) *Function {
	meta := Metadata(name, args, ret)

	mangled := name
	if !flags.Has(NoMangle) {
		mangled = Mangle(meta)
	}

	return &Function{
		Signature: Signature{
			Name:     name,
			Mangled:  mangled,
			Metadata: meta,
			Args:     args,
			Return:   ret,
			Flags:    flags,
		},
		Body: body,
	}
}

// Clone returns a copy that shares nothing mutable with s.
func (s Signature) Clone() Signature {
	c := s
	c.Args = append([]Param(nil), s.Args...)

	return c
}

func NewBinary(op BinaryOp, l, r Expr) *Binary {
	return &Binary{Op: op, L: l, R: r}
}

// With returns a copy of x with new operands.
func (x *Binary) With(l, r Expr) *Binary {
	return &Binary{Op: x.Op, L: l, R: r, Wide: x.Wide}
}
