package timeline

import (
	"fmt"
	"strings"

	"cranesim.dev/internal/sim/grid"
)

// Kind discriminates the closed set of crane commands.
type Kind uint8

const (
	KindMove Kind = iota + 1
	KindAttach
	KindDetach
	KindIdle
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "MOVE"
	case KindAttach:
		return "ATTACH"
	case KindDetach:
		return "DETACH"
	case KindIdle:
		return "IDLE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Command is one scheduled crane action with an absolute [StartMs, EndMs)
// wall-clock interval relative to timeline start. Commands are immutable
// once built. Dest is meaningful only for KindMove.
type Command struct {
	Kind    Kind
	StartMs uint64
	EndMs   uint64
	Dest    grid.Vec3i
}

func (c Command) DurationMs() uint64 { return c.EndMs - c.StartMs }

// Timeline is an ordered, contiguous sequence of commands: the first starts
// at 0 and every subsequent command starts at the previous command's end.
// StartMs is therefore non-decreasing across the slice, which the engine's
// catch-up binary search depends on.
type Timeline struct {
	cmds []Command
	size grid.Vec3i
}

// Commands returns the scheduled commands. Callers must not mutate the
// returned slice.
func (t *Timeline) Commands() []Command { return t.cmds }

func (t *Timeline) Len() int { return len(t.cmds) }

// TotalMs is the end time of the last command, 0 for an empty timeline.
func (t *Timeline) TotalMs() uint64 {
	if len(t.cmds) == 0 {
		return 0
	}
	return t.cmds[len(t.cmds)-1].EndMs
}

// Size is the padded bounding size the timeline was validated against
// (one unit taller in y than the physical warehouse).
func (t *Timeline) Size() grid.Vec3i { return t.size }

func (t *Timeline) String() string {
	var b strings.Builder
	for _, c := range t.cmds {
		b.WriteString(c.Kind.String())
		switch c.Kind {
		case KindMove:
			fmt.Fprintf(&b, " [%d %d %d]", c.Dest.X, c.Dest.Y, c.Dest.Z)
		case KindIdle:
			fmt.Fprintf(&b, " %d", c.DurationMs())
		}
		fmt.Fprintf(&b, " @ %d\n", c.StartMs)
	}
	return b.String()
}
