package ir

import "tlog.app/go/errors"

// EvalBinary computes op over 64-bit wrapping integers.
func EvalBinary(op BinaryOp, l, r uint64) (uint64, error) {
	switch op {
	case Add:
		return l + r, nil
	case Sub:
		return l - r, nil
	case Mul:
		return l * r, nil
	case Div:
		if r == 0 {
			return 0, ErrDivisionByZero
		}

		return l / r, nil
	case Shl:
		return l << r, nil
	case Shr:
		return l >> r, nil
	case And:
		return l & r, nil
	default:
		return 0, errors.New("unsupported op: %v", op)
	}
}

// Eval interprets a pure integer expression the way generated code does.
// Locals and binary results are truncated to their type
// and extended back to 64 bits. Wide results are kept whole.
// env supplies values for locals by stack offset.
func Eval(x Expr, env map[int16]uint64) (uint64, error) {
	switch x := x.(type) {
	case Int:
		return uint64(x), nil
	case Bool:
		if x {
			return 1, nil
		}

		return 0, nil
	case Local:
		v, ok := env[x.Offset]
		if !ok {
			return 0, errors.New("no value for local %d", x.Offset)
		}

		return truncate(v, x.Type), nil
	case *Binary:
		t, err := InferType(x, nil)
		if err != nil {
			return 0, err
		}

		l, err := Eval(x.L, env)
		if err != nil {
			return 0, err
		}

		r, err := Eval(x.R, env)
		if err != nil {
			return 0, err
		}

		v, err := evalTyped(x.Op, t, l, r)
		if err != nil || x.Wide {
			return v, err
		}

		return truncate(v, t), nil
	default:
		return 0, errors.New("can't evaluate %T", x)
	}
}

// evalTyped is EvalBinary with arithmetic shift and division for signed types.
func evalTyped(op BinaryOp, t DataType, l, r uint64) (uint64, error) {
	if IsUnsigned(t) {
		return EvalBinary(op, l, r)
	}

	switch op {
	case Shr:
		return uint64(int64(l) >> r), nil
	case Div:
		if r == 0 {
			return 0, ErrDivisionByZero
		}

		return uint64(int64(l) / int64(r)), nil
	default:
		return EvalBinary(op, l, r)
	}
}

// truncate keeps the low bytes of v for scalars narrower than 64 bits
// and extends them by the type sign.
func truncate(v uint64, t DataType) uint64 {
	s, ok := t.(Scalar)
	if !ok || s.Bytes == 0 || s.Bytes >= 8 {
		return v
	}

	sh := 64 - 8*uint(s.Bytes)

	if s.Signed {
		return uint64(int64(v<<sh) >> sh)
	}

	return v << sh >> sh
}

// ExprEqual reports structural equality.
func ExprEqual(a, b Expr) bool {
	switch a := a.(type) {
	case Int, Float, Bool, Str:
		return a == b
	case Local:
		b, ok := b.(Local)
		return ok && a.Offset == b.Offset && TypeEqual(a.Type, b.Type)
	case *Binary:
		b, ok := b.(*Binary)
		return ok && a.Op == b.Op && a.Wide == b.Wide && ExprEqual(a.L, b.L) && ExprEqual(a.R, b.R)
	case *Call:
		b, ok := b.(*Call)
		if !ok || a.Callee.Mangled != b.Callee.Mangled || len(a.Args) != len(b.Args) {
			return false
		}

		for i := range a.Args {
			if !ExprEqual(a.Args[i], b.Args[i]) {
				return false
			}
		}

		return true
	case nil:
		return b == nil
	default:
		panic(a)
	}
}

// HasSideEffects reports whether evaluating x may have observable effects.
func HasSideEffects(x Expr) bool {
	switch x := x.(type) {
	case *Call:
		return true
	case *Binary:
		return HasSideEffects(x.L) || HasSideEffects(x.R)
	default:
		return false
	}
}

// Clone returns a deep copy of x.
func Clone(x Expr) Expr {
	switch x := x.(type) {
	case *Binary:
		return x.With(Clone(x.L), Clone(x.R))
	case *Call:
		args := make([]Expr, len(x.Args))

		for i, a := range x.Args {
			args[i] = Clone(a)
		}

		return &Call{Callee: x.Callee.Clone(), Args: args}
	default:
		return x
	}
}
