package opt

import (
	"math/bits"

	"lukechampine.com/uint128"
	"tlog.app/go/errors"
)

type (
	// Magic replaces an unsigned division by d with a multiply and a shift:
	// x / d == (x * Mul) >> Shift for every x in [0, 2^w).
	// Mul may need w+1 bits.
	Magic struct {
		Mul   uint128.Uint128
		Shift uint
	}
)

// ComputeMagic finds the multiplier and shift for unsigned division by d at width w.
func ComputeMagic(d uint64, w uint) (Magic, error) {
	switch w {
	case 8, 16, 32, 64:
	default:
		return Magic{}, errors.New("unsupported width: %d", w)
	}

	if d == 0 {
		return Magic{}, errors.New("magic for zero divisor")
	}

	if w < 64 && d >= 1<<w {
		return Magic{}, errors.New("divisor %d does not fit %d bits", d, w)
	}

	dd := uint128.From64(d)
	two := uint128.From64(1).Lsh(w)

	// nc = 2^w - (2^w - d) % d
	nc := two.Sub(two.Sub(dd).Mod(dd))

	half := uint128.From64(1).Lsh(w - 1)

	q1, r1 := half.QuoRem(nc)
	q2, r2 := half.Sub64(1).QuoRem(dd)

	p := w - 1

	for {
		p++

		if r1.Cmp(nc.Sub(r1)) >= 0 {
			q1 = q1.Lsh(1).Add64(1)
			r1 = r1.Lsh(1).Sub(nc)
		} else {
			q1 = q1.Lsh(1)
			r1 = r1.Lsh(1)
		}

		if r2.Add64(1).Cmp(dd.Sub(r2)) >= 0 {
			q2 = q2.Lsh(1).Add64(1)
			r2 = r2.Lsh(1).Add64(1).Sub(dd)
		} else {
			q2 = q2.Lsh(1)
			r2 = r2.Lsh(1).Add64(1)
		}

		if p >= 2*w {
			break
		}

		delta := dd.Sub64(1).Sub(r2)

		c := q1.Cmp(delta)
		if !(c < 0 || c == 0 && r1.IsZero()) {
			break
		}
	}

	return Magic{
		Mul:   q2.Add64(1),
		Shift: p,
	}, nil
}

// Divide evaluates (x * Mul) >> Shift without losing product bits.
func (m Magic) Divide(x uint64) uint64 {
	// 192-bit product top:hi:lo
	hi, lo := bits.Mul64(x, m.Mul.Lo)
	top, mid := bits.Mul64(x, m.Mul.Hi)

	hi, carry := bits.Add64(hi, mid, 0)
	top += carry

	if m.Shift >= 128 {
		return top >> (m.Shift - 128)
	}

	return uint128.New(lo, hi).Rsh(m.Shift).Lo | top<<(128-m.Shift)
}
