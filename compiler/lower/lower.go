package lower

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/asm"
	"github.com/wind-language/wind-rewrite/compiler/asm/amd64"
	"github.com/wind-language/wind-rewrite/compiler/ir"
)

type (
	Config struct {
		TextSection   string `toml:"text_section"`
		RodataSection string `toml:"rodata_section"`

		// ExportAll makes every function a global symbol,
		// not only no_mangle ones.
		ExportAll bool `toml:"export_all"`
	}

	// Compiler lowers straight-line functions to x86-64.
	// Expressions are evaluated into rax, rcx is the scratch register
	// and the machine stack keeps temporaries.
	Compiler struct {
		Config

		strs int
	}

	modContext struct {
		*ir.Module

		b *asm.Builder
	}

	funContext struct {
		*ir.Function

		depth int // qwords pushed above the frame
	}

	UnsupportedExprError struct {
		Expr ir.Expr
	}

	UnsupportedTypeError struct {
		Type ir.DataType
	}

	TooManyArgsError struct {
		Name string
		Args int
	}
)

func DefaultConfig() Config {
	return Config{
		TextSection:   ".text",
		RodataSection: ".rodata",
	}
}

func New(cfg Config) *Compiler {
	def := DefaultConfig()

	if cfg.TextSection == "" {
		cfg.TextSection = def.TextSection
	}

	if cfg.RodataSection == "" {
		cfg.RodataSection = def.RodataSection
	}

	return &Compiler{Config: cfg}
}

// CompileModule emits every function of m into b.
// References are left pending until b.Finalize.
func (c *Compiler) CompileModule(ctx context.Context, b *asm.Builder, m *ir.Module) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower: compile module", "funcs", len(m.Functions))
	defer tr.Finish("err", &err)

	p := &modContext{Module: m, b: b}

	b.AddSection(c.RodataSection, asm.KindReadOnly)
	b.AddSection(c.TextSection, asm.KindText)

	for _, f := range m.Funcs() {
		err = c.compileFunc(ctx, p, f)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	return nil
}

func (c *Compiler) compileFunc(ctx context.Context, p *modContext, fn *ir.Function) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower: compile func", "name", fn.Name, "mangled", fn.Mangled)
	defer tr.Finish("err", &err)

	if len(fn.Args) > len(amd64.ArgRegs) {
		return TooManyArgsError{Name: fn.Name, Args: len(fn.Args)}
	}

	b := p.b

	err = b.BindSection(c.TextSection)
	if err != nil {
		return err
	}

	err = b.AddLabel(fn.Mangled)
	if err != nil {
		return err
	}

	if fn.Flags.Has(ir.NoMangle) || c.ExportAll {
		err = b.SetGlobal(fn.Mangled)
		if err != nil {
			return err
		}
	}

	f := &funContext{Function: fn}

	frame := frameSize(fn)

	if tr.If("lower_frame") {
		tr.Printw("frame", "size", frame, "args", len(fn.Args))
	}

	b.Emit(must(amd64.Push(amd64.RBP)))
	b.Emit(must(amd64.Mov(amd64.RBP, amd64.RSP)))

	if frame != 0 {
		err = b.Encode(amd64.Sub(amd64.RSP, amd64.Imm(frame)))
		if err != nil {
			return errors.Wrap(err, "frame")
		}
	}

	for i := range fn.Args {
		err = b.Encode(amd64.Mov(amd64.Ptr(amd64.RBP, int32(-8*(i+1)), 8), amd64.ArgRegs[i]))
		if err != nil {
			return errors.Wrap(err, "spill arg %d", i)
		}
	}

	returned := false

	for i, s := range fn.Body {
		switch s := s.(type) {
		case ir.ExprStmt:
			err = c.expr(ctx, p, f, s.X)
		case ir.Return:
			if s.X != nil {
				err = c.expr(ctx, p, f, s.X)
			}

			if err == nil {
				c.epilogue(b)
			}

			returned = true
		default:
			panic(s)
		}

		if err != nil {
			return errors.Wrap(err, "statement %d", i)
		}

		if returned {
			break
		}
	}

	if !returned {
		c.epilogue(b)
	}

	return nil
}

func (c *Compiler) expr(ctx context.Context, p *modContext, f *funContext, x ir.Expr) (err error) {
	b := p.b

	switch x := x.(type) {
	case ir.Int:
		if x <= 0xffffffff {
			return b.Encode(amd64.Mov(amd64.EAX, amd64.Imm(x)))
		}

		return b.Encode(amd64.Mov(amd64.RAX, amd64.Imm(int64(x))))
	case ir.Bool:
		v := amd64.Imm(0)
		if x {
			v = 1
		}

		return b.Encode(amd64.Mov(amd64.EAX, v))
	case ir.Str:
		return c.str(p, f, string(x))
	case ir.Local:
		return load(b, x)
	case *ir.Binary:
		return c.binary(ctx, p, f, x)
	case *ir.Call:
		return c.call(ctx, p, f, x)
	default:
		return UnsupportedExprError{Expr: x}
	}
}

func (c *Compiler) str(p *modContext, f *funContext, s string) (err error) {
	b := p.b

	name := fmt.Sprintf(".str.%d", c.strs)
	c.strs++

	err = b.BindSection(c.RodataSection)
	if err != nil {
		return err
	}

	err = b.AddLabel(name)
	if err != nil {
		return err
	}

	b.Emit(append([]byte(s), 0))

	err = b.BindLabel(f.Mangled)
	if err != nil {
		return err
	}

	return b.SymbolLea(amd64.RAX, name)
}

func load(b *asm.Builder, x ir.Local) error {
	off := int32(x.Offset)

	switch t := x.Type.(type) {
	case ir.Pointer:
		return b.Encode(amd64.Mov(amd64.RAX, amd64.Ptr(amd64.RBP, off, 8)))
	case ir.Array, ir.Struct:
		return b.Encode(amd64.Lea(amd64.RAX, amd64.Ptr(amd64.RBP, off, 8)))
	case ir.Scalar:
		size := uint8(t.Bytes)

		switch {
		case size == 8:
			return b.Encode(amd64.Mov(amd64.RAX, amd64.Ptr(amd64.RBP, off, 8)))
		case size == 4 && !t.Signed:
			return b.Encode(amd64.Mov(amd64.EAX, amd64.Ptr(amd64.RBP, off, 4)))
		case size == 1 || size == 2 || size == 4:
			if t.Signed {
				return b.Encode(amd64.Movsx(amd64.RAX, amd64.Ptr(amd64.RBP, off, size)))
			}

			return b.Encode(amd64.Movzx(amd64.EAX, amd64.Ptr(amd64.RBP, off, size)))
		}
	}

	return UnsupportedTypeError{Type: x.Type}
}

func (c *Compiler) binary(ctx context.Context, p *modContext, f *funContext, x *ir.Binary) (err error) {
	b := p.b

	t, err := ir.InferType(x, nil)
	if err != nil {
		return err
	}

	err = c.expr(ctx, p, f, x.L)
	if err != nil {
		return err
	}

	f.push(b, amd64.RAX)

	err = c.expr(ctx, p, f, x.R)
	if err != nil {
		return err
	}

	b.Emit(must(amd64.Mov(amd64.RCX, amd64.RAX)))
	f.pop(b, amd64.RAX)

	var code []byte

	switch x.Op {
	case ir.Add:
		code, err = amd64.Add(amd64.RAX, amd64.RCX)
	case ir.Sub:
		code, err = amd64.Sub(amd64.RAX, amd64.RCX)
	case ir.Mul:
		code, err = amd64.Imul(amd64.RAX, amd64.RCX)
	case ir.And:
		code, err = amd64.And(amd64.RAX, amd64.RCX)
	case ir.Shl:
		code, err = amd64.Shl(amd64.RAX, amd64.CL)
	case ir.Shr:
		if ir.IsUnsigned(t) {
			code, err = amd64.Shr(amd64.RAX, amd64.CL)
		} else {
			code, err = amd64.Sar(amd64.RAX, amd64.CL)
		}
	case ir.Div:
		if ir.IsUnsigned(t) {
			b.Emit(must(amd64.Xor(amd64.EDX, amd64.EDX)))
			code, err = amd64.Div(amd64.RCX)
		} else {
			b.Emit(amd64.Cqo())
			code, err = amd64.Idiv(amd64.RCX)
		}
	default:
		return UnsupportedExprError{Expr: x}
	}

	err = b.Encode(code, err)
	if err != nil {
		return errors.Wrap(err, "%v", x.Op)
	}

	if x.Wide {
		return nil
	}

	return normalize(b, t)
}

// normalize truncates rax to the width of t and extends it back to 64 bits.
func normalize(b *asm.Builder, t ir.DataType) error {
	s, ok := t.(ir.Scalar)
	if !ok || s.Bytes == 8 {
		return nil
	}

	size := uint8(s.Bytes)

	switch {
	case size == 4 && !s.Signed:
		return b.Encode(amd64.Mov(amd64.EAX, amd64.EAX))
	case size == 4:
		return b.Encode(amd64.Movsx(amd64.RAX, amd64.EAX))
	case size == 1 || size == 2:
		if s.Signed {
			return b.Encode(amd64.Movsx(amd64.RAX, amd64.RAX.As(size)))
		}

		return b.Encode(amd64.Movzx(amd64.EAX, amd64.RAX.As(size)))
	default:
		return UnsupportedTypeError{Type: t}
	}
}

func (c *Compiler) call(ctx context.Context, p *modContext, f *funContext, x *ir.Call) (err error) {
	b := p.b

	if len(x.Args) > len(amd64.ArgRegs) {
		return TooManyArgsError{Name: x.Callee.Name, Args: len(x.Args)}
	}

	for i, a := range x.Args {
		err = c.expr(ctx, p, f, a)
		if err != nil {
			return errors.Wrap(err, "arg %d", i)
		}

		f.push(b, amd64.RAX)
	}

	for i := len(x.Args) - 1; i >= 0; i-- {
		f.pop(b, amd64.ArgRegs[i])
	}

	pad := f.depth%2 == 1

	if pad {
		b.Emit(must(amd64.Sub(amd64.RSP, amd64.Imm(8))))
	}

	if _, ok := p.Lookup(x.Callee.Mangled); !ok {
		b.AddExtern(x.Callee.Mangled)
	}

	err = b.SymbolCall(x.Callee.Mangled)
	if err != nil {
		return err
	}

	if pad {
		b.Emit(must(amd64.Add(amd64.RSP, amd64.Imm(8))))
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("lower_call") {
		tr.Printw("call", "callee", x.Callee.Name, "mangled", x.Callee.Mangled, "args", len(x.Args), "pad", pad)
	}

	return nil
}

func (c *Compiler) epilogue(b *asm.Builder) {
	b.Emit(must(amd64.Mov(amd64.RSP, amd64.RBP)))
	b.Emit(must(amd64.Pop(amd64.RBP)))
	b.Emit(amd64.Ret())
}

func (f *funContext) push(b *asm.Builder, r amd64.Reg) {
	b.Emit(must(amd64.Push(r)))
	f.depth++
}

func (f *funContext) pop(b *asm.Builder, r amd64.Reg) {
	b.Emit(must(amd64.Pop(r)))
	f.depth--
}

// frameSize covers spilled arguments and the lowest local, rounded to 16.
func frameSize(fn *ir.Function) int64 {
	low := int64(8 * len(fn.Args))

	var walk func(x ir.Expr)
	walk = func(x ir.Expr) {
		switch x := x.(type) {
		case ir.Local:
			low = max(low, -int64(x.Offset))
		case *ir.Binary:
			walk(x.L)
			walk(x.R)
		case *ir.Call:
			for _, a := range x.Args {
				walk(a)
			}
		}
	}

	for _, s := range fn.Body {
		switch s := s.(type) {
		case ir.ExprStmt:
			walk(s.X)
		case ir.Return:
			if s.X != nil {
				walk(s.X)
			}
		}
	}

	return (low + 15) &^ 15
}

// must is for encodings with fixed valid operands.
func must(code []byte, err error) []byte {
	if err != nil {
		panic(err)
	}

	return code
}

func (e UnsupportedExprError) Error() string {
	return fmt.Sprintf("unsupported expression: %T", e.Expr)
}

func (e UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type: %v", e.Type)
}

func (e TooManyArgsError) Error() string {
	return fmt.Sprintf("%v: too many arguments: %d", e.Name, e.Args)
}
