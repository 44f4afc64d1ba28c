// Package plan turns high-level action lists (from the HTTP control surface
// or a yaml plan file) into scheduled timelines.
package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/timeline"
)

// File is the yaml plan format executed by craned -plan.
type File struct {
	Actions []protocol.ActionReq `yaml:"actions"`
}

func Load(path string) (File, error) {
	var f File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("plan: %w", err)
	}
	return f, nil
}

// Build schedules the actions against the given warehouse size and speeds.
// Validation is the builder's: bounds for moves, duration for idles. Grid
// validity (is there actually a container to pick up) stays an execution
// time concern.
func Build(size grid.Vec3i, moveSpeed, attachDetachSpeed int, actions []protocol.ActionReq) (*timeline.Timeline, error) {
	b, err := timeline.NewBuilder(size, moveSpeed, attachDetachSpeed)
	if err != nil {
		return nil, err
	}
	for i, a := range actions {
		switch strings.ToUpper(a.Op) {
		case protocol.OpMove:
			if a.Pos == nil {
				return nil, fmt.Errorf("%w: action %d: MOVE requires pos", timeline.ErrInvalidArgument, i)
			}
			b.MoveTo(grid.Vec3i{X: a.Pos[0], Y: a.Pos[1], Z: a.Pos[2]})
		case protocol.OpAttach:
			b.Attach()
		case protocol.OpDetach:
			b.Detach()
		case protocol.OpIdle:
			b.Idle(a.DurationMs)
		default:
			return nil, fmt.Errorf("%w: action %d: unknown op %q", timeline.ErrInvalidArgument, i, a.Op)
		}
	}
	return b.Build()
}
