// Package mathx carries the small numeric helpers the services share.
package mathx

import "golang.org/x/exp/constraints"

// Clamp pins v into [lo, hi]. The sampling-period bounds are the main
// caller; reversed bounds are treated as the same interval.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	return min(max(v, lo), hi)
}
