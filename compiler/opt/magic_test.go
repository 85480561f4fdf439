package opt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMagicKnown(t *testing.T) {
	for _, tc := range []struct {
		d      uint64
		w      uint
		hi, lo uint64
		shift  uint
	}{
		{3, 32, 0, 0xaaaaaaab, 33},
		{7, 32, 0, 0x124924925, 35},
		{10, 32, 0, 0xcccccccd, 35},
		{3, 8, 0, 0xab, 9},
		{7, 8, 0, 0x125, 11},
		{5, 16, 0, 0xcccd, 18},
		{3, 64, 0, 0xaaaaaaaaaaaaaaab, 65},
		{7, 64, 1, 0x2492492492492493, 67},
	} {
		m, err := ComputeMagic(tc.d, tc.w)
		require.NoError(t, err)

		assert.Equal(t, tc.hi, m.Mul.Hi, "d=%d w=%d mul=%v", tc.d, tc.w, m.Mul)
		assert.Equal(t, tc.lo, m.Mul.Lo, "d=%d w=%d mul=%v", tc.d, tc.w, m.Mul)
		assert.Equal(t, tc.shift, m.Shift, "d=%d w=%d", tc.d, tc.w)
	}
}

func TestComputeMagicErrors(t *testing.T) {
	_, err := ComputeMagic(0, 32)
	assert.Error(t, err)

	_, err = ComputeMagic(3, 12)
	assert.Error(t, err)

	_, err = ComputeMagic(256, 8)
	assert.Error(t, err)
}

func TestComputeMagicProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for _, w := range []uint{8, 16, 32, 64} {
		max := uint64(math.MaxUint64)
		if w < 64 {
			max = 1<<w - 1
		}

		divs := []uint64{3, 5, 6, 7, 9, 10, 11, 12, 13, 25, 100, 127}

		for i := 0; i < 40; i++ {
			d := 2 + uint64(rnd.Intn(1<<16-2))
			if d > max {
				continue
			}

			divs = append(divs, d)
		}

		for _, d := range divs {
			if d > max || isPow2(d) {
				continue
			}

			m, err := ComputeMagic(d, w)
			require.NoError(t, err)

			xs := []uint64{0, 1, d - 1, d, d + 1, max, max - 1, max / d * d, max/d*d - 1}

			for i := 0; i < 300; i++ {
				xs = append(xs, rnd.Uint64()&max)
			}

			for _, x := range xs {
				x &= max

				if !assert.Equal(t, x/d, m.Divide(x), "w=%d d=%d x=%d mul=%v shift=%d", w, d, x, m.Mul, m.Shift) {
					return
				}
			}
		}
	}
}
