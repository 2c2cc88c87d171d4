package facematch

import "math"

// EuclideanDistance returns the L2 distance between two descriptors.
// Descriptors of different length are not comparable and yield +Inf.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ConfidenceFromDistance maps a descriptor distance to a [0,1] confidence.
func ConfidenceFromDistance(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return max(0, 1-d)
}

// Confidence is the distance-derived similarity of two descriptors.
func Confidence(a, b Descriptor) float64 {
	return ConfidenceFromDistance(EuclideanDistance(a, b))
}
