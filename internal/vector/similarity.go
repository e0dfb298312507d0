package vector

import "math"

// Dot returns the dot product of a and b. For unit vectors this equals
// cosine similarity. b must be at least as long as a.
func Dot(a, b []float32) float32 {
	b = b[:len(a)]
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// L2Norm returns the L2 norm of x.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
