package grid

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds reports coordinates or stack layouts that do not fit inside
// the configured warehouse dimensions.
var ErrOutOfBounds = errors.New("out of bounds")

// Warehouse tracks how many containers are stacked in each (x, z) column.
// heights[x][z] is the number of containers resting in that column; a stack
// may reach size.Y, leaving one spare y row above the tallest stack for the
// hook. The zero column height is valid and means "empty floor".
//
// Warehouse does no locking of its own; the engine owns it and serializes
// access (see internal/sim/engine).
type Warehouse struct {
	size    Vec3i
	heights [][]int
}

// NewWarehouse creates an empty warehouse of the given size. All dimensions
// must be at least 1.
func NewWarehouse(size Vec3i) (*Warehouse, error) {
	if size.X < 1 || size.Y < 1 || size.Z < 1 {
		return nil, fmt.Errorf("%w: warehouse size must be at least 1x1x1, got %v", ErrOutOfBounds, size.ToArray())
	}
	w := &Warehouse{size: size}
	w.heights = make([][]int, size.X)
	for x := range w.heights {
		w.heights[x] = make([]int, size.Z)
	}
	return w, nil
}

func (w *Warehouse) Size() Vec3i { return w.size }

// Fill replaces all stack heights. columns[x][z] is the height of the stack
// at that column; missing columns and cells stay empty. A height above
// size.Y does not fit and is rejected.
func (w *Warehouse) Fill(columns [][]int) error {
	if len(columns) > w.size.X {
		return fmt.Errorf("%w: %d columns in x, max %d", ErrOutOfBounds, len(columns), w.size.X)
	}
	for x, col := range columns {
		if len(col) > w.size.Z {
			return fmt.Errorf("%w: column x=%d has %d cells in z, max %d", ErrOutOfBounds, x, len(col), w.size.Z)
		}
		for z, h := range col {
			if h < 0 || h > w.size.Y {
				return fmt.Errorf("%w: stack height %d at (%d, %d), max %d", ErrOutOfBounds, h, x, z, w.size.Y)
			}
		}
	}

	for x := range w.heights {
		for z := range w.heights[x] {
			w.heights[x][z] = 0
		}
	}
	for x, col := range columns {
		copy(w.heights[x], col)
	}
	return nil
}

// HeightAt returns the stack height at (x, z), or 0 outside the grid.
func (w *Warehouse) HeightAt(x, z int) int {
	if x < 0 || x >= w.size.X || z < 0 || z >= w.size.Z {
		return 0
	}
	return w.heights[x][z]
}

// Heights returns a deep copy of the stack heights for read-only consumers.
func (w *Warehouse) Heights() [][]int {
	out := make([][]int, len(w.heights))
	for x := range w.heights {
		out[x] = append([]int(nil), w.heights[x]...)
	}
	return out
}

// TryAttach picks up the top container of the column under pos. It succeeds
// only when the hook sits exactly one cell above the stack top, i.e.
// heights[x][z]-1 == pos.Y. Failure is an expected runtime outcome (the
// timeline disagreed with the grid), so it is a bool, not an error.
func (w *Warehouse) TryAttach(pos Vec3i) bool {
	if pos.X < 0 || pos.X >= w.size.X || pos.Z < 0 || pos.Z >= w.size.Z {
		return false
	}
	if w.heights[pos.X][pos.Z]-1 != pos.Y {
		return false
	}
	w.heights[pos.X][pos.Z]--
	return true
}

// TryDetach sets the carried container down on top of the column under pos.
// It succeeds only when the hook sits exactly one cell above the eventual
// resting slot, i.e. heights[x][z] == pos.Y.
func (w *Warehouse) TryDetach(pos Vec3i) bool {
	if pos.X < 0 || pos.X >= w.size.X || pos.Z < 0 || pos.Z >= w.size.Z {
		return false
	}
	if w.heights[pos.X][pos.Z] != pos.Y {
		return false
	}
	if w.heights[pos.X][pos.Z]+1 > w.size.Y {
		return false
	}
	w.heights[pos.X][pos.Z]++
	return true
}
