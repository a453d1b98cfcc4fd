package device

import "github.com/x448/float16"

// F32ToF16 encodes a float32 as IEEE 754 binary16 bits, with
// round-to-nearest-even and overflow to infinity.
func F32ToF16(v float32) uint16 {
	return float16.Fromfloat32(v).Bits()
}

// F16ToF32 decodes IEEE 754 binary16 bits to a float32.
func F16ToF32(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// RoundF16 rounds a float32 through binary16 precision. The CPU backend
// uses it to emulate half arithmetic in FP16-compute mode.
func RoundF16(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}
