package utils

import "math"

// Epsilon is the float32 machine epsilon.
const Epsilon = 1.1920929e-07

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// Slices whose norm is below Epsilon (or not a number) are left unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if !(norm > Epsilon) {
		return
	}
	inv := 1 / norm
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
}
