package amd64

import "fmt"

type (
	// Operand is one of Reg, Mem or Imm.
	Operand interface {
		operand()
	}

	// Reg is a general purpose register of the given size in bytes.
	// ID 16 is RIP and is only legal as a memory base.
	Reg struct {
		ID   uint8
		Size uint8
	}

	// Mem is [Base + Offset] accessed with Size bytes.
	Mem struct {
		Base   Reg
		Offset int32
		Size   uint8
	}

	Imm int64
)

const ripID = 16

var (
	RAX = Reg{0, 8}
	RCX = Reg{1, 8}
	RDX = Reg{2, 8}
	RBX = Reg{3, 8}
	RSP = Reg{4, 8}
	RBP = Reg{5, 8}
	RSI = Reg{6, 8}
	RDI = Reg{7, 8}
	R8  = Reg{8, 8}
	R9  = Reg{9, 8}
	R10 = Reg{10, 8}
	R11 = Reg{11, 8}
	R12 = Reg{12, 8}
	R13 = Reg{13, 8}
	R14 = Reg{14, 8}
	R15 = Reg{15, 8}

	EAX  = RAX.As(4)
	ECX  = RCX.As(4)
	EDX  = RDX.As(4)
	EBX  = RBX.As(4)
	ESP  = RSP.As(4)
	EBP  = RBP.As(4)
	ESI  = RSI.As(4)
	EDI  = RDI.As(4)
	R8D  = R8.As(4)
	R9D  = R9.As(4)
	R10D = R10.As(4)
	R11D = R11.As(4)
	R12D = R12.As(4)
	R13D = R13.As(4)
	R14D = R14.As(4)
	R15D = R15.As(4)

	AX   = RAX.As(2)
	CX   = RCX.As(2)
	DX   = RDX.As(2)
	BX   = RBX.As(2)
	R8W  = R8.As(2)
	R15W = R15.As(2)

	AL   = RAX.As(1)
	CL   = RCX.As(1)
	DL   = RDX.As(1)
	BL   = RBX.As(1)
	R8B  = R8.As(1)
	R15B = R15.As(1)

	RIP = Reg{ripID, 8}
)

// SysV integer argument registers.
var ArgRegs = []Reg{RDI, RSI, RDX, RCX, R8, R9}

var regNames = [...][4]string{
	{"al", "ax", "eax", "rax"},
	{"cl", "cx", "ecx", "rcx"},
	{"dl", "dx", "edx", "rdx"},
	{"bl", "bx", "ebx", "rbx"},
	{"spl", "sp", "esp", "rsp"},
	{"bpl", "bp", "ebp", "rbp"},
	{"sil", "si", "esi", "rsi"},
	{"dil", "di", "edi", "rdi"},
}

func (Reg) operand() {}
func (Mem) operand() {}
func (Imm) operand() {}

// As returns the same register accessed with another size.
func (r Reg) As(size uint8) Reg {
	return Reg{ID: r.ID, Size: size}
}

func (r Reg) IsRIP() bool { return r.ID == ripID }

func (r Reg) String() string {
	if r.ID == ripID {
		return "rip"
	}

	i := sizeIndex(r.Size)
	if i < 0 || r.ID > 15 {
		return fmt.Sprintf("reg(%d,%d)", r.ID, r.Size)
	}

	if r.ID < 8 {
		return regNames[r.ID][i]
	}

	return fmt.Sprintf("r%d%s", r.ID, [...]string{"b", "w", "d", ""}[i])
}

// Ptr is a memory operand at base+off.
func Ptr(base Reg, off int32, size uint8) Mem {
	return Mem{Base: base, Offset: off, Size: size}
}

func (m Mem) String() string {
	var p string

	switch m.Size {
	case 1:
		p = "byte"
	case 2:
		p = "word"
	case 4:
		p = "dword"
	case 8:
		p = "qword"
	default:
		p = fmt.Sprintf("size(%d)", m.Size)
	}

	return fmt.Sprintf("%s [%v%+d]", p, m.Base, m.Offset)
}

func sizeOf(x Operand) uint8 {
	switch x := x.(type) {
	case Reg:
		return x.Size
	case Mem:
		return x.Size
	default:
		return 0
	}
}

// sizeIndex is trailing_zeros(size) for valid operand sizes.
func sizeIndex(size uint8) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return -1
	}
}
