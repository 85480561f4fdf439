package ir

// InferType reports the type of x.
// A non-nil cast is adopted by untyped literals instead of their default type.
func InferType(x Expr, cast DataType) (DataType, error) {
	switch x := x.(type) {
	case Int, Float, Bool, Str:
		if cast != nil {
			return cast, nil
		}

		return literalType(x.(Literal)), nil
	case Local:
		return x.Type, nil
	case *Call:
		return x.Callee.Return, nil
	case *Binary:
		return inferBinary(x)
	default:
		panic(x)
	}
}

func literalType(x Literal) DataType {
	switch x.(type) {
	case Int:
		return I32
	case Float:
		return F64
	case Bool:
		return U8
	case Str:
		return Pointer{Target: U8}
	default:
		panic(x)
	}
}

func inferBinary(x *Binary) (DataType, error) {
	_, llit := x.L.(Literal)
	_, rlit := x.R.(Literal)

	switch {
	case llit && !rlit:
		r, err := InferType(x.R, nil)
		if err != nil {
			return nil, err
		}

		return InferType(x.L, r)
	case rlit && !llit:
		l, err := InferType(x.L, nil)
		if err != nil {
			return nil, err
		}

		return InferType(x.R, l)
	}

	l, err := InferType(x.L, nil)
	if err != nil {
		return nil, err
	}

	r, err := InferType(x.R, nil)
	if err != nil {
		return nil, err
	}

	if !TypeEqual(l, r) {
		return nil, TypeMismatchError{Op: x.Op, Left: l, Right: r}
	}

	return l, nil
}
