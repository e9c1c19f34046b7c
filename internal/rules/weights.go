package rules

import "preflight/internal/domain"

// DefaultWeights is the fallback mapping used when a weight set sums to
// zero and cannot be rescaled.
func DefaultWeights() domain.Weights {
	return domain.Weights{
		"priorityLevel":   0.4,
		"taskFulfillment": 0.3,
		"fairness":        0.2,
		"efficiency":      0.1,
	}
}

// Normalize rescales the weights so they sum to 1, preserving keys. A
// zero-sum input returns the fixed default mapping instead of dividing
// by zero. The input is never mutated.
func Normalize(w domain.Weights) domain.Weights {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return DefaultWeights()
	}
	out := make(domain.Weights, len(w))
	for k, v := range w {
		out[k] = v / sum
	}
	return out
}
