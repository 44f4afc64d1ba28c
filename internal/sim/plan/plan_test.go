package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/timeline"
)

var size = grid.Vec3i{X: 4, Y: 3, Z: 4}

func pos(x, y, z int) *[3]int { p := [3]int{x, y, z}; return &p }

func TestBuild(t *testing.T) {
	tl, err := Build(size, 1, 1, []protocol.ActionReq{
		{Op: "MOVE", Pos: pos(0, 0, 0)},
		{Op: "ATTACH"},
		{Op: "move", Pos: pos(3, 3, 3)}, // op is case-insensitive
		{Op: "DETACH"},
		{Op: "IDLE", DurationMs: 2000},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tl.Len() != 5 {
		t.Fatalf("len = %d, want 5", tl.Len())
	}
	cmds := tl.Commands()
	if cmds[2].Kind != timeline.KindMove || cmds[2].Dest != (grid.Vec3i{X: 3, Y: 3, Z: 3}) {
		t.Fatalf("command 2 = %+v", cmds[2])
	}
	if cmds[4].DurationMs() != 2000 {
		t.Fatalf("idle duration = %d", cmds[4].DurationMs())
	}
}

func TestBuild_Rejects(t *testing.T) {
	if _, err := Build(size, 1, 1, []protocol.ActionReq{{Op: "MOVE"}}); !errors.Is(err, timeline.ErrInvalidArgument) {
		t.Fatalf("move without pos: %v", err)
	}
	if _, err := Build(size, 1, 1, []protocol.ActionReq{{Op: "TELEPORT"}}); !errors.Is(err, timeline.ErrInvalidArgument) {
		t.Fatalf("unknown op: %v", err)
	}
	if _, err := Build(size, 1, 1, []protocol.ActionReq{{Op: "MOVE", Pos: pos(9, 0, 0)}}); !errors.Is(err, grid.ErrOutOfBounds) {
		t.Fatalf("out of bounds move: %v", err)
	}
	if _, err := Build(size, 0, 1, nil); !errors.Is(err, timeline.ErrInvalidArgument) {
		t.Fatalf("bad speed: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	err := os.WriteFile(path, []byte(`
actions:
  - op: MOVE
    pos: [0, 0, 0]
  - op: ATTACH
  - op: IDLE
    duration_ms: 500
`), 0o644)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Actions) != 3 {
		t.Fatalf("actions = %d, want 3", len(f.Actions))
	}
	if f.Actions[0].Pos == nil || *f.Actions[0].Pos != [3]int{0, 0, 0} {
		t.Fatalf("first action pos = %v", f.Actions[0].Pos)
	}
	if f.Actions[2].DurationMs != 500 {
		t.Fatalf("idle duration = %d", f.Actions[2].DurationMs)
	}

	if _, err := Build(size, 1, 1, f.Actions); err != nil {
		t.Fatalf("build loaded plan: %v", err)
	}
}
