package amd64

import "fmt"

type (
	SizeMismatchError struct {
		Op       string
		Dst, Src Operand
	}

	ImmediateRangeError struct {
		Op   string
		Imm  int64
		Size uint8
	}

	InvalidOperandError struct {
		Op       string
		Dst, Src Operand
	}

	RelativeRangeError struct {
		Op     string
		Target int64
	}
)

func (e SizeMismatchError) Error() string {
	return fmt.Sprintf("%v: operand size mismatch: %v, %v", e.Op, e.Dst, e.Src)
}

func (e ImmediateRangeError) Error() string {
	return fmt.Sprintf("%v: immediate %#x does not fit %d bytes", e.Op, e.Imm, e.Size)
}

func (e InvalidOperandError) Error() string {
	if e.Src == nil {
		return fmt.Sprintf("%v: invalid operand: %v", e.Op, e.Dst)
	}

	return fmt.Sprintf("%v: invalid operands: %v, %v", e.Op, e.Dst, e.Src)
}

func (e RelativeRangeError) Error() string {
	return fmt.Sprintf("%v: target %#x out of rel32 range", e.Op, e.Target)
}
