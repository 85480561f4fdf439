package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a growable set of small non-negative ints.
	// The zero value is an empty set.
	Bitmap struct {
		w []uint64
	}
)

func MakeBitmap(n int) Bitmap {
	return Bitmap{w: make([]uint64, (n+63)/64)}
}

func (s *Bitmap) Set(i int) {
	w, bit := i/64, uint(i%64)

	for w >= len(s.w) {
		s.w = append(s.w, 0)
	}

	s.w[w] |= 1 << bit
}

func (s *Bitmap) Clear(i int) {
	w, bit := i/64, uint(i%64)

	if w < len(s.w) {
		s.w[w] &^= 1 << bit
	}
}

func (s *Bitmap) IsSet(i int) bool {
	w, bit := i/64, uint(i%64)

	return w < len(s.w) && s.w[w]&(1<<bit) != 0
}

// Size is the number of set elements.
func (s *Bitmap) Size() (n int) {
	for _, w := range s.w {
		n += bits.OnesCount64(w)
	}

	return n
}

// Range calls f for set elements in increasing order until it returns false.
func (s *Bitmap) Range(f func(i int) bool) {
	for wi, w := range s.w {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			w &^= 1 << bit

			if !f(wi*64 + bit) {
				return
			}
		}
	}
}

// Last is the greatest set element or -1.
func (s *Bitmap) Last() int {
	for wi := len(s.w) - 1; wi >= 0; wi-- {
		if s.w[wi] != 0 {
			return wi*64 + 63 - bits.LeadingZeros64(s.w[wi])
		}
	}

	return -1
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)

		return true
	})

	return e.AppendBreak(b)
}
