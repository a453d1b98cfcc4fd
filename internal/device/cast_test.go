package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestF16RoundTrip(t *testing.T) {
	// Values exactly representable in binary16 survive unchanged.
	for _, v := range []float32{0, 1, -1, 0.5, -2, 0.25, 1024} {
		assert.Equal(t, v, F16ToF32(F32ToF16(v)), "value %v", v)
	}

	// Known bit patterns.
	assert.Equal(t, uint16(0x3c00), F32ToF16(1.0))
	assert.Equal(t, uint16(0xc000), F32ToF16(-2.0))
	assert.Equal(t, float32(1.0), F16ToF32(0x3c00))
}

func TestRoundF16(t *testing.T) {
	// Rounding is idempotent.
	v := RoundF16(0.1)
	assert.Equal(t, v, RoundF16(v))

	// 0.1 is not exactly representable; the rounded value is close but
	// not equal.
	assert.NotEqual(t, float32(0.1), v)
	assert.InDelta(t, 0.1, v, 1e-4)
}
