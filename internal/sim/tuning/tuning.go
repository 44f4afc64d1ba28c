package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cranesim.dev/internal/sim/grid"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Warehouse Warehouse `yaml:"warehouse"`
	Speeds    Speeds    `yaml:"speeds"`
}

type Warehouse struct {
	// Size is [x, y, z]: columns, max stack height, depth.
	Size []int `yaml:"size"`

	// Layout[x][z] is the initial stack height for that column. Optional;
	// missing columns start empty.
	Layout [][]int `yaml:"layout"`
}

type Speeds struct {
	Move         int `yaml:"move"`
	AttachDetach int `yaml:"attach_detach"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 60,
		Warehouse:  Warehouse{Size: []int{4, 3, 4}},
		Speeds:     Speeds{Move: 1, AttachDetach: 1},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz < 1 {
		return fmt.Errorf("tick_rate_hz must be at least 1, got %d", t.TickRateHz)
	}
	if len(t.Warehouse.Size) != 3 {
		return fmt.Errorf("warehouse.size must have 3 elements, got %d", len(t.Warehouse.Size))
	}
	for _, d := range t.Warehouse.Size {
		if d < 1 {
			return fmt.Errorf("warehouse.size dimensions must be at least 1, got %v", t.Warehouse.Size)
		}
	}
	return nil
}

func (t Tuning) Size() grid.Vec3i {
	return grid.Vec3i{X: t.Warehouse.Size[0], Y: t.Warehouse.Size[1], Z: t.Warehouse.Size[2]}
}
