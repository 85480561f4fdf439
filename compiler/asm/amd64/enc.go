package amd64

import (
	"encoding/binary"

	"fortio.org/safecast"
)

type (
	// inst is one ModRM-form instruction:
	// [66] [REX] opcode ModRM [SIB] [disp] [imm].
	inst struct {
		size   uint8
		opcode []byte
		reg    uint8 // register id or opcode extension
		rm     Operand
		imm    []byte
		rex8   bool // spl, bpl, sil or dil is used
	}
)

const (
	rexW = 1 << 3
	rexR = 1 << 2
	rexB = 1 << 0
)

func (x inst) encode() []byte {
	b := make([]byte, 0, 16)

	if x.size == 2 {
		b = append(b, 0x66)
	}

	var rex byte

	if x.size == 8 {
		rex |= rexW
	}

	if x.reg > 7 {
		rex |= rexR
	}

	switch rm := x.rm.(type) {
	case Reg:
		if rm.ID > 7 {
			rex |= rexB
		}
	case Mem:
		if rm.Base.ID > 7 && !rm.Base.IsRIP() {
			rex |= rexB
		}
	}

	if rex != 0 || x.rex8 {
		b = append(b, 0x40|rex)
	}

	b = append(b, x.opcode...)
	b = appendModRM(b, x.reg, x.rm)
	b = append(b, x.imm...)

	return b
}

func appendModRM(b []byte, reg uint8, rm Operand) []byte {
	switch rm := rm.(type) {
	case Reg:
		return append(b, 0b11<<6|(reg&7)<<3|rm.ID&7)
	case Mem:
		if rm.Base.IsRIP() {
			b = append(b, (reg&7)<<3|0b101)
			return binary.LittleEndian.AppendUint32(b, uint32(rm.Offset))
		}

		base := rm.Base.ID & 7

		var mod byte

		switch {
		case rm.Offset == 0 && base != 0b101:
			mod = 0b00
		case rm.Offset >= -128 && rm.Offset <= 127:
			mod = 0b01
		default:
			mod = 0b10
		}

		b = append(b, mod<<6|(reg&7)<<3|base)

		if base == 0b100 {
			b = append(b, 0x24)
		}

		switch mod {
		case 0b01:
			b = append(b, byte(int8(rm.Offset)))
		case 0b10:
			b = binary.LittleEndian.AppendUint32(b, uint32(rm.Offset))
		}

		return b
	default:
		panic(rm)
	}
}

// immediate encodes v in n bytes.
// If signed is set only values that sign-extend back to v are accepted.
func immediate(op string, v int64, n uint8, signed bool) ([]byte, error) {
	var serr, uerr error

	switch n {
	case 1:
		_, serr = safecast.Conv[int8](v)
		_, uerr = safecast.Conv[uint8](v)
	case 2:
		_, serr = safecast.Conv[int16](v)
		_, uerr = safecast.Conv[uint16](v)
	case 4:
		_, serr = safecast.Conv[int32](v)
		_, uerr = safecast.Conv[uint32](v)
	case 8:
	default:
		panic(n)
	}

	if signed {
		uerr = serr
	}

	if serr != nil && uerr != nil {
		return nil, ImmediateRangeError{Op: op, Imm: v, Size: n}
	}

	return binary.LittleEndian.AppendUint64(nil, uint64(v))[:n], nil
}

func rel32(op string, opcode byte, target int64) ([]byte, error) {
	rel, err := safecast.Conv[int32](target - 5)
	if err != nil {
		return nil, RelativeRangeError{Op: op, Target: target}
	}

	return binary.LittleEndian.AppendUint32([]byte{opcode}, uint32(rel)), nil
}

func needRex8(regs ...Operand) bool {
	for _, r := range regs {
		if r, ok := r.(Reg); ok && r.Size == 1 && r.ID >= 4 && r.ID <= 7 {
			return true
		}
	}

	return false
}

func validReg(r Reg) bool {
	return r.ID < ripID && sizeIndex(r.Size) >= 0
}

func validMem(m Mem) bool {
	return m.Base.ID <= ripID && m.Base.Size == 8 && sizeIndex(m.Size) >= 0
}

func validRM(x Operand) bool {
	switch x := x.(type) {
	case Reg:
		return validReg(x)
	case Mem:
		return validMem(x)
	default:
		return false
	}
}
