package amd64

import "encoding/binary"

type (
	// alu describes a two operand instruction.
	// Tables are indexed by trailing_zeros(size).
	alu struct {
		name string

		mr  [4]byte // r/m <- reg
		rm  [4]byte // reg <- r/m
		mi  [4]byte // r/m <- imm
		ext uint8   // ModRM.reg for the imm form

		rrUseRM bool // encode reg, reg with the rm table
	}
)

var (
	aluMov = alu{
		name: "mov",
		mr:   [4]byte{0x88, 0x89, 0x89, 0x89},
		rm:   [4]byte{0x8a, 0x8b, 0x8b, 0x8b},
		mi:   [4]byte{0xc6, 0xc7, 0xc7, 0xc7},
	}

	aluAdd = alu{
		name: "add",
		mr:   [4]byte{0x00, 0x01, 0x01, 0x01},
		rm:   [4]byte{0x02, 0x03, 0x03, 0x03},
		mi:   [4]byte{0x80, 0x81, 0x81, 0x81},
	}

	aluSub = alu{
		name:    "sub",
		mr:      [4]byte{0x28, 0x29, 0x29, 0x29},
		rm:      [4]byte{0x2a, 0x2b, 0x2b, 0x2b},
		mi:      [4]byte{0x80, 0x81, 0x81, 0x81},
		ext:     5,
		rrUseRM: true,
	}

	aluAnd = alu{
		name: "and",
		mr:   [4]byte{0x20, 0x21, 0x21, 0x21},
		rm:   [4]byte{0x22, 0x23, 0x23, 0x23},
		mi:   [4]byte{0x80, 0x81, 0x81, 0x81},
		ext:  4,
	}

	aluXor = alu{
		name: "xor",
		mr:   [4]byte{0x30, 0x31, 0x31, 0x31},
		rm:   [4]byte{0x32, 0x33, 0x33, 0x33},
		mi:   [4]byte{0x80, 0x81, 0x81, 0x81},
		ext:  6,
	}
)

func Mov(dst, src Operand) ([]byte, error) { return aluMov.encode(dst, src) }
func Add(dst, src Operand) ([]byte, error) { return aluAdd.encode(dst, src) }
func Sub(dst, src Operand) ([]byte, error) { return aluSub.encode(dst, src) }
func And(dst, src Operand) ([]byte, error) { return aluAnd.encode(dst, src) }
func Xor(dst, src Operand) ([]byte, error) { return aluXor.encode(dst, src) }

func (op alu) encode(dst, src Operand) ([]byte, error) {
	if !validRM(dst) {
		return nil, InvalidOperandError{Op: op.name, Dst: dst, Src: src}
	}

	size := sizeOf(dst)
	i := sizeIndex(size)

	switch s := src.(type) {
	case Reg:
		if !validReg(s) {
			return nil, InvalidOperandError{Op: op.name, Dst: dst, Src: src}
		}

		if s.Size != size {
			return nil, SizeMismatchError{Op: op.name, Dst: dst, Src: src}
		}

		if d, ok := dst.(Reg); ok && op.rrUseRM {
			return inst{size: size, opcode: []byte{op.rm[i]}, reg: d.ID, rm: s, rex8: needRex8(d, s)}.encode(), nil
		}

		return inst{size: size, opcode: []byte{op.mr[i]}, reg: s.ID, rm: dst, rex8: needRex8(dst, s)}.encode(), nil
	case Mem:
		d, ok := dst.(Reg)
		if !ok || !validMem(s) {
			return nil, InvalidOperandError{Op: op.name, Dst: dst, Src: src}
		}

		if s.Size != size {
			return nil, SizeMismatchError{Op: op.name, Dst: dst, Src: src}
		}

		return inst{size: size, opcode: []byte{op.rm[i]}, reg: d.ID, rm: s, rex8: needRex8(d)}.encode(), nil
	case Imm:
		if d, ok := dst.(Reg); ok && op.name == "mov" {
			return movRegImm(d, int64(s))
		}

		n := min(size, 4)

		imm, err := immediate(op.name, int64(s), n, size == 8)
		if err != nil {
			return nil, err
		}

		return inst{size: size, opcode: []byte{op.mi[i]}, reg: op.ext, rm: dst, imm: imm, rex8: needRex8(dst)}.encode(), nil
	default:
		return nil, InvalidOperandError{Op: op.name, Dst: dst, Src: src}
	}
}

// movRegImm uses the short B0+r / B8+r form.
// 64-bit registers take a full imm64.
func movRegImm(d Reg, v int64) ([]byte, error) {
	imm, err := immediate("mov", v, d.Size, false)
	if err != nil {
		return nil, err
	}

	var b []byte

	if d.Size == 2 {
		b = append(b, 0x66)
	}

	var rex byte

	if d.Size == 8 {
		rex |= rexW
	}

	if d.ID > 7 {
		rex |= rexB
	}

	if rex != 0 || needRex8(d) {
		b = append(b, 0x40|rex)
	}

	op := byte(0xb8)
	if d.Size == 1 {
		op = 0xb0
	}

	b = append(b, op+d.ID&7)
	b = append(b, imm...)

	return b, nil
}

// Lea loads the address of src into dst.
func Lea(dst Reg, src Mem) ([]byte, error) {
	if !validReg(dst) || dst.Size == 1 || !validMem(src) {
		return nil, InvalidOperandError{Op: "lea", Dst: dst, Src: src}
	}

	return inst{size: dst.Size, opcode: []byte{0x8d}, reg: dst.ID, rm: src}.encode(), nil
}

// Jmp encodes jmp rel32 to target, relative to the start of the instruction.
func Jmp(target int64) ([]byte, error) { return rel32("jmp", 0xe9, target) }

// Call encodes call rel32 to target, relative to the start of the instruction.
func Call(target int64) ([]byte, error) { return rel32("call", 0xe8, target) }

func Push(r Reg) ([]byte, error) { return pushPop("push", 0x50, r) }
func Pop(r Reg) ([]byte, error)  { return pushPop("pop", 0x58, r) }

func pushPop(name string, op byte, r Reg) ([]byte, error) {
	if !validReg(r) || r.Size != 8 {
		return nil, InvalidOperandError{Op: name, Dst: r}
	}

	if r.ID > 7 {
		return []byte{0x40 | rexB, op + r.ID&7}, nil
	}

	return []byte{op + r.ID}, nil
}

func Ret() []byte { return []byte{0xc3} }

// Cqo sign-extends rax into rdx:rax.
func Cqo() []byte { return []byte{0x48, 0x99} }

// Imul is the two operand signed multiply dst *= src.
func Imul(dst Reg, src Operand) ([]byte, error) {
	if !validReg(dst) || dst.Size == 1 || !validRM(src) {
		return nil, InvalidOperandError{Op: "imul", Dst: dst, Src: src}
	}

	if sizeOf(src) != dst.Size {
		return nil, SizeMismatchError{Op: "imul", Dst: dst, Src: src}
	}

	return inst{size: dst.Size, opcode: []byte{0x0f, 0xaf}, reg: dst.ID, rm: src}.encode(), nil
}

func Shl(dst, src Operand) ([]byte, error) { return shift("shl", 4, dst, src) }
func Shr(dst, src Operand) ([]byte, error) { return shift("shr", 5, dst, src) }
func Sar(dst, src Operand) ([]byte, error) { return shift("sar", 7, dst, src) }

// shift by cl or by an imm8.
func shift(name string, ext uint8, dst, src Operand) ([]byte, error) {
	if !validRM(dst) {
		return nil, InvalidOperandError{Op: name, Dst: dst, Src: src}
	}

	size := sizeOf(dst)

	var op byte

	switch s := src.(type) {
	case Reg:
		if s != CL {
			return nil, InvalidOperandError{Op: name, Dst: dst, Src: src}
		}

		op = 0xd3
		if size == 1 {
			op = 0xd2
		}

		return inst{size: size, opcode: []byte{op}, reg: ext, rm: dst, rex8: needRex8(dst)}.encode(), nil
	case Imm:
		if s < 0 || s >= Imm(size)*8 {
			return nil, ImmediateRangeError{Op: name, Imm: int64(s), Size: 1}
		}

		op = 0xc1
		if size == 1 {
			op = 0xc0
		}

		return inst{size: size, opcode: []byte{op}, reg: ext, rm: dst, imm: []byte{byte(s)}, rex8: needRex8(dst)}.encode(), nil
	default:
		return nil, InvalidOperandError{Op: name, Dst: dst, Src: src}
	}
}

// Div is unsigned rdx:rax / src.
func Div(src Operand) ([]byte, error) { return unary("div", 6, src) }

// Idiv is signed rdx:rax / src.
func Idiv(src Operand) ([]byte, error) { return unary("idiv", 7, src) }

// Neg is two's complement negation.
func Neg(dst Operand) ([]byte, error) { return unary("neg", 3, dst) }

func unary(name string, ext uint8, x Operand) ([]byte, error) {
	if !validRM(x) {
		return nil, InvalidOperandError{Op: name, Dst: x}
	}

	size := sizeOf(x)

	op := byte(0xf7)
	if size == 1 {
		op = 0xf6
	}

	return inst{size: size, opcode: []byte{op}, reg: ext, rm: x, rex8: needRex8(x)}.encode(), nil
}

// Movzx zero-extends src into dst.
// A 4 byte source is a plain 32-bit mov, which clears the upper half.
func Movzx(dst Reg, src Operand) ([]byte, error) {
	if !validReg(dst) || !validRM(src) || sizeOf(src) >= dst.Size {
		return nil, InvalidOperandError{Op: "movzx", Dst: dst, Src: src}
	}

	switch sizeOf(src) {
	case 1:
		return inst{size: dst.Size, opcode: []byte{0x0f, 0xb6}, reg: dst.ID, rm: src, rex8: needRex8(src)}.encode(), nil
	case 2:
		return inst{size: dst.Size, opcode: []byte{0x0f, 0xb7}, reg: dst.ID, rm: src}.encode(), nil
	default:
		return Mov(dst.As(4), src)
	}
}

// Movsx sign-extends src into dst.
func Movsx(dst Reg, src Operand) ([]byte, error) {
	if !validReg(dst) || !validRM(src) || sizeOf(src) >= dst.Size {
		return nil, InvalidOperandError{Op: "movsx", Dst: dst, Src: src}
	}

	switch sizeOf(src) {
	case 1:
		return inst{size: dst.Size, opcode: []byte{0x0f, 0xbe}, reg: dst.ID, rm: src, rex8: needRex8(src)}.encode(), nil
	case 2:
		return inst{size: dst.Size, opcode: []byte{0x0f, 0xbf}, reg: dst.ID, rm: src}.encode(), nil
	default:
		return inst{size: dst.Size, opcode: []byte{0x63}, reg: dst.ID, rm: src}.encode(), nil
	}
}

// Disp32At returns the rel32 field of a jmp or call.
func Disp32At(code []byte, at int) int32 {
	return int32(binary.LittleEndian.Uint32(code[at:]))
}
