package opt

import (
	"context"
	"math/bits"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/ir"
)

type (
	// StrengthReduction replaces multiplications and unsigned divisions
	// by constants with shifts, additions and magic multiplications.
	//
	// Results of magic division are remembered across runs
	// so their multiply is never rewritten again.
	StrengthReduction struct {
		keep []ir.Expr
	}
)

func NewStrengthReduction() *StrengthReduction {
	return &StrengthReduction{}
}

func (*StrengthReduction) Name() string { return "strength" }

func (p *StrengthReduction) Run(ctx context.Context, m *ir.Module) (changed bool, err error) {
	tr := tlog.SpanFromContext(ctx)

	for _, f := range m.Funcs() {
		c, err := rewriteBody(f, p.reduce)
		if err != nil {
			return changed, errors.Wrap(err, "func %v", f.Metadata)
		}

		if c && tr.If("opt_strength") {
			tr.Printw("reduced", "func", f.Metadata)
		}

		changed = changed || c
	}

	return changed, nil
}

func (p *StrengthReduction) reduce(x ir.Expr) (ir.Expr, bool, error) {
	switch x := x.(type) {
	case *ir.Binary:
		if p.kept(x) {
			return x, false, nil
		}

		l, lc, err := p.reduce(x.L)
		if err != nil {
			return nil, false, err
		}

		r, rc, err := p.reduce(x.R)
		if err != nil {
			return nil, false, err
		}

		b := x
		if lc || rc {
			b = x.With(l, r)
		}

		if y, ok := p.rewrite(b); ok {
			return y, true, nil
		}

		return b, lc || rc, nil
	case *ir.Call:
		var args []ir.Expr

		for i, a := range x.Args {
			a, c, err := p.reduce(a)
			if err != nil {
				return nil, false, errors.Wrap(err, "arg %d", i)
			}

			if c && args == nil {
				args = append([]ir.Expr(nil), x.Args...)
			}

			if args != nil {
				args[i] = a
			}
		}

		if args == nil {
			return x, false, nil
		}

		return &ir.Call{Callee: x.Callee, Args: args}, true, nil
	default:
		return x, false, nil
	}
}

func (p *StrengthReduction) rewrite(b *ir.Binary) (ir.Expr, bool) {
	_, llit := b.L.(ir.Literal)
	_, rlit := b.R.(ir.Literal)

	if b.Op.Commutative() && llit && !rlit {
		if _, ok := b.L.(ir.Int); ok {
			return ir.NewBinary(b.Op, b.R, b.L), true
		}
	}

	c, ok := b.R.(ir.Int)
	if !ok || llit {
		return nil, false
	}

	x := b.L
	pure := !ir.HasSideEffects(x)

	switch b.Op {
	case ir.Add:
		if c == 0 {
			return x, true
		}
	case ir.Mul:
		switch {
		case c == 0 && pure:
			return ir.Int(0), true
		case c == 1:
			return x, true
		case isPow2(uint64(c)):
			return ir.NewBinary(ir.Shl, x, ir.Int(log2(uint64(c)))), true
		case pure:
			k := log2(uint64(c))

			return ir.NewBinary(ir.Add,
				ir.NewBinary(ir.Shl, x, ir.Int(k)),
				ir.NewBinary(ir.Mul, ir.Clone(x), ir.Int(uint64(c)-1<<k)),
			), true
		}
	case ir.Div:
		return p.div(x, uint64(c))
	}

	return nil, false
}

func (p *StrengthReduction) div(x ir.Expr, c uint64) (ir.Expr, bool) {
	if c == 0 {
		return x, true
	}

	t, err := ir.InferType(x, nil)
	if err != nil || !ir.IsUnsigned(t) {
		return nil, false
	}

	if c == 1 {
		return x, true
	}

	if isPow2(c) {
		return ir.NewBinary(ir.Shr, x, ir.Int(log2(c))), true
	}

	w := uint(t.Size()) * 8

	if !fitsWidth(x, w) || w < 64 && c >= 1<<w {
		return nil, false
	}

	mg, err := ComputeMagic(c, w)
	if err != nil || mg.Mul.Hi != 0 {
		return nil, false
	}

	mul := mg.Mul.Lo

	// x * mul must not overflow 64 bits for any x < 2^w
	if bits.Len64(mul)+int(w) > 64 || mg.Shift >= 64 {
		return nil, false
	}

	// the product needs w+bits(mul) bits, keep all 64
	m := ir.NewBinary(ir.Mul, x, ir.Int(mul))
	m.Wide = true

	r := ir.NewBinary(ir.Shr, m, ir.Int(mg.Shift))

	p.keep = append(p.keep, m, r)

	return r, true
}

func (p *StrengthReduction) kept(x ir.Expr) bool {
	for _, k := range p.keep {
		if ir.ExprEqual(k, x) {
			return true
		}
	}

	return false
}

// fitsWidth reports whether x is known to hold a value below 2^w
// when evaluated in 64-bit arithmetic.
func fitsWidth(x ir.Expr, w uint) bool {
	if w >= 64 {
		return true
	}

	switch x := x.(type) {
	case ir.Local:
		return x.Type.Size()*8 <= int(w)
	case *ir.Binary:
		switch x.Op {
		case ir.Shr:
			return fitsWidth(x.L, w)
		case ir.And:
			if c, ok := x.R.(ir.Int); ok && uint64(c) < 1<<w {
				return true
			}

			return fitsWidth(x.L, w) || fitsWidth(x.R, w)
		}
	}

	return false
}

func isPow2(x uint64) bool { return x != 0 && x&(x-1) == 0 }

func log2(x uint64) uint64 { return uint64(bits.Len64(x) - 1) }
