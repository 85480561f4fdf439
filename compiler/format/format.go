package format

import (
	"context"
	"slices"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/wind-language/wind-rewrite/compiler/ir"
)

// Format appends a textual form of x to b.
// x is *ir.Module, *ir.Function, ir.Statement or ir.Expr.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) ([]byte, error) {
	switch x := x.(type) {
	case *ir.Module:
		return formatModule(ctx, b, x, d)
	case *ir.Function:
		return formatFunc(ctx, b, x, d)
	case ir.Statement:
		return formatBlock(ctx, b, []ir.Statement{x}, d)
	case ir.Expr:
		return formatExpr(ctx, b, x, d)
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatModule(ctx context.Context, b []byte, x *ir.Module, d int) (_ []byte, err error) {
	var names []string

	for name, t := range x.Types {
		if _, ok := t.(ir.Struct); ok {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	for _, name := range names {
		b = app(b, d, "type %v = %v\n", name, x.Types[name])
	}

	if len(names) != 0 {
		b = append(b, '\n')
	}

	for i, f := range x.Funcs() {
		if i != 0 {
			b = append(b, '\n')
		}

		b, err = formatFunc(ctx, b, f, d)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	return b, nil
}

func formatFunc(ctx context.Context, b []byte, x *ir.Function, d int) ([]byte, error) {
	b = app(b, d, "func %v(", x.Name)

	for i, a := range x.Args {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v %v", a.Name, a.Type)
	}

	b = append(b, ")"...)

	if !ir.TypeEqual(x.Return, ir.Void) {
		b = app(b, 0, " %v", x.Return)
	}

	for _, fl := range x.Flags.Names() {
		b = app(b, 0, " %v", fl)
	}

	b = app(b, 0, " { // %v\n", x.Mangled)

	b, err := formatBlock(ctx, b, x.Body, d+1)
	if err != nil {
		return nil, errors.Wrap(err, "body")
	}

	b = app(b, d, "}\n")

	return b, nil
}

func formatBlock(ctx context.Context, b []byte, x []ir.Statement, d int) (_ []byte, err error) {
	for _, s := range x {
		switch s := s.(type) {
		case ir.Return:
			b = app(b, d, "return ")

			b, err = formatExpr(ctx, b, s.X, d)
			if err != nil {
				return nil, errors.Wrap(err, "return")
			}
		case ir.ExprStmt:
			b = app(b, d, "")

			b, err = formatExpr(ctx, b, s.X, d)
			if err != nil {
				return nil, errors.Wrap(err, "expr")
			}
		default:
			return nil, errors.New("unsupported stmt: %T", s)
		}

		b = append(b, "\n"...)
	}

	return b, nil
}

func formatExpr(ctx context.Context, b []byte, x ir.Expr, d int) (_ []byte, err error) {
	switch x := x.(type) {
	case ir.Int:
		b = hfmt.Appendf(b, "%d", uint64(x))
	case ir.Float:
		b = hfmt.Appendf(b, "%v", float64(x))
	case ir.Bool:
		b = hfmt.Appendf(b, "%v", bool(x))
	case ir.Str:
		b = hfmt.Appendf(b, "%q", string(x))
	case ir.Local:
		b = hfmt.Appendf(b, "[rbp%+d]:%v", x.Offset, x.Type)
	case *ir.Call:
		b = append(b, x.Callee.Name...)
		b = append(b, '(')

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b, err = formatExpr(ctx, b, a, d)
			if err != nil {
				return nil, errors.Wrap(err, "arg %d", i)
			}
		}

		b = append(b, ')')
	case *ir.Binary:
		b = append(b, '(')

		b, err = formatExpr(ctx, b, x.L, d)
		if err != nil {
			return nil, errors.Wrap(err, "left")
		}

		b = hfmt.Appendf(b, " %v", x.Op)

		if x.Wide {
			b = append(b, ".wide"...)
		}

		b = append(b, ' ')

		b, err = formatExpr(ctx, b, x.R, d)
		if err != nil {
			return nil, errors.Wrap(err, "right")
		}

		b = append(b, ')')
	default:
		return nil, errors.New("unsupported expr: %T", x)
	}

	return b, nil
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
