package grid

// Vec3i is an integer 3-vector used for both positions and sizes.
type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

// Vec3f is the floating-point counterpart used for interpolated display
// positions. Never used for warehouse bookkeeping.
type Vec3f struct {
	X float64
	Y float64
	Z float64
}

func (v Vec3f) ToArray() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func (v Vec3i) ToFloat() Vec3f {
	return Vec3f{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// Lerp returns a + (b-a)*t componentwise.
func Lerp(a, b Vec3i, t float64) Vec3f {
	return Vec3f{
		X: float64(a.X) + float64(b.X-a.X)*t,
		Y: float64(a.Y) + float64(b.Y-a.Y)*t,
		Z: float64(a.Z) + float64(b.Z-a.Z)*t,
	}
}
