package opt

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/ir"
)

type (
	// ConstantFolding replaces binaries of two integer literals with their value.
	ConstantFolding struct{}
)

func (ConstantFolding) Name() string { return "fold" }

func (p ConstantFolding) Run(ctx context.Context, m *ir.Module) (changed bool, err error) {
	tr := tlog.SpanFromContext(ctx)

	for _, f := range m.Funcs() {
		c, err := rewriteBody(f, fold)
		if err != nil {
			return changed, errors.Wrap(err, "func %v", f.Metadata)
		}

		if c && tr.If("opt_fold") {
			tr.Printw("folded", "func", f.Metadata)
		}

		changed = changed || c
	}

	return changed, nil
}

func fold(x ir.Expr) (ir.Expr, bool, error) {
	switch x := x.(type) {
	case *ir.Binary:
		l, lc, err := fold(x.L)
		if err != nil {
			return nil, false, err
		}

		r, rc, err := fold(x.R)
		if err != nil {
			return nil, false, err
		}

		li, lok := l.(ir.Int)
		ri, rok := r.(ir.Int)

		if lok && rok {
			v, err := ir.EvalBinary(x.Op, uint64(li), uint64(ri))
			if err != nil {
				return nil, false, errors.Wrap(err, "fold %d %v %d", uint64(li), x.Op, uint64(ri))
			}

			return ir.Int(v), true, nil
		}

		if !lc && !rc {
			return x, false, nil
		}

		return x.With(l, r), true, nil
	case *ir.Call:
		var args []ir.Expr

		for i, a := range x.Args {
			a, c, err := fold(a)
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
