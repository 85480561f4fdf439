package ir

import (
	"fmt"

	"tlog.app/go/errors"
)

type (
	AlreadyDefinedFunctionError struct {
		Name string
	}

	AlreadyDefinedTypeError struct {
		Name string
	}

	TypeNotFoundError struct {
		Name string
	}

	FunctionNotFoundError struct {
		Name string
		Args int
	}

	TypeMismatchError struct {
		Op          BinaryOp
		Left, Right DataType
	}
)

var ErrDivisionByZero = errors.New("division by zero")

func (e AlreadyDefinedFunctionError) Error() string {
	return fmt.Sprintf("already defined function: %v", e.Name)
}

func (e AlreadyDefinedTypeError) Error() string {
	return fmt.Sprintf("already defined type: %v", e.Name)
}

func (e TypeNotFoundError) Error() string {
	return fmt.Sprintf("type not found: %v", e.Name)
}

func (e FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function not found: %v with %d args", e.Name, e.Args)
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: %v %v %v", e.Left, e.Op, e.Right)
}
