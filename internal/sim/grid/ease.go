package grid

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Smoothstep maps x in [edge0, edge1] to [0, 1] along the cubic 3t^2 - 2t^3.
// It is 0 at edge0, 1 at edge1, 0.5 at the midpoint, monotonic between, and
// symmetric about the midpoint. Adapted from https://en.wikipedia.org/wiki/Smoothstep
func Smoothstep(edge0, edge1, x float64) float64 {
	t := Clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}
