package timeline

import (
	"errors"
	"fmt"

	"cranesim.dev/internal/sim/grid"
)

// ErrInvalidArgument reports malformed builder input: a speed outside
// [1, 1000] or an idle duration below 1 ms.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	// SpeedMin and SpeedMax bound both configurable speeds. Durations are
	// inverted speeds: a command at speed s lasts 1001-s milliseconds, so
	// speed 1000 is the fastest (1 ms) and 1 the slowest (1000 ms).
	SpeedMin = 1
	SpeedMax = 1000
)

// Builder accumulates crane actions into a contiguous command schedule.
// It is pure bookkeeping: grid state (is there actually a container to pick
// up) is checked only at execution time, so a timeline may be built against
// a future grid state.
//
// The builder is fluent and sticky on error: after the first failed append
// every later call is a no-op and Build returns that first error.
type Builder struct {
	padded      grid.Vec3i
	moveDurMs   uint64
	attachDurMs uint64
	cmds        []Command
	err         error
}

// NewBuilder validates both speeds and captures the bounding size used for
// move validation. The bound is one unit taller in y than the physical
// warehouse so the hook can rise above the top container.
func NewBuilder(warehouseSize grid.Vec3i, moveSpeed, attachDetachSpeed int) (*Builder, error) {
	if moveSpeed < SpeedMin || moveSpeed > SpeedMax {
		return nil, fmt.Errorf("%w: move speed %d outside [%d, %d]", ErrInvalidArgument, moveSpeed, SpeedMin, SpeedMax)
	}
	if attachDetachSpeed < SpeedMin || attachDetachSpeed > SpeedMax {
		return nil, fmt.Errorf("%w: attach/detach speed %d outside [%d, %d]", ErrInvalidArgument, attachDetachSpeed, SpeedMin, SpeedMax)
	}
	padded := warehouseSize
	padded.Y++
	return &Builder{
		padded:      padded,
		moveDurMs:   uint64(1001 - moveSpeed),
		attachDurMs: uint64(1001 - attachDetachSpeed),
	}, nil
}

func (b *Builder) checkPosition(pos grid.Vec3i) error {
	if pos.X < 0 || pos.Y < 0 || pos.Z < 0 {
		return fmt.Errorf("%w: negative coordinate %v", grid.ErrOutOfBounds, pos.ToArray())
	}
	if pos.X >= b.padded.X {
		return fmt.Errorf("%w: x=%d, max %d", grid.ErrOutOfBounds, pos.X, b.padded.X-1)
	}
	if pos.Y >= b.padded.Y {
		return fmt.Errorf("%w: y=%d, max %d", grid.ErrOutOfBounds, pos.Y, b.padded.Y-1)
	}
	if pos.Z >= b.padded.Z {
		return fmt.Errorf("%w: z=%d, max %d", grid.ErrOutOfBounds, pos.Z, b.padded.Z-1)
	}
	return nil
}

// append keeps the contiguity invariant: each command starts where the
// previous one ended.
func (b *Builder) append(kind Kind, durationMs uint64, dest grid.Vec3i) {
	var start uint64
	if n := len(b.cmds); n > 0 {
		start = b.cmds[n-1].EndMs
	}
	b.cmds = append(b.cmds, Command{Kind: kind, StartMs: start, EndMs: start + durationMs, Dest: dest})
}

// MoveTo schedules a move of the crane hook to pos.
func (b *Builder) MoveTo(pos grid.Vec3i) *Builder {
	if b.err != nil {
		return b
	}
	if err := b.checkPosition(pos); err != nil {
		b.err = err
		return b
	}
	b.append(KindMove, b.moveDurMs, pos)
	return b
}

// Attach schedules picking up the container under the hook.
func (b *Builder) Attach() *Builder {
	if b.err != nil {
		return b
	}
	b.append(KindAttach, b.attachDurMs, grid.Vec3i{})
	return b
}

// Detach schedules setting the carried container down.
func (b *Builder) Detach() *Builder {
	if b.err != nil {
		return b
	}
	b.append(KindDetach, b.attachDurMs, grid.Vec3i{})
	return b
}

// Idle schedules doing nothing for exactly durationMs milliseconds.
func (b *Builder) Idle(durationMs uint64) *Builder {
	if b.err != nil {
		return b
	}
	if durationMs < 1 {
		b.err = fmt.Errorf("%w: idle duration must be at least 1 ms", ErrInvalidArgument)
		return b
	}
	b.append(KindIdle, durationMs, grid.Vec3i{})
	return b
}

func (b *Builder) Len() int { return len(b.cmds) }

// Build returns the immutable timeline, or the first error any append hit.
// The builder stays usable for further appends after a successful Build,
// but the returned timeline owns its own command slice.
func (b *Builder) Build() (*Timeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Timeline{
		cmds: append([]Command(nil), b.cmds...),
		size: b.padded,
	}, nil
}
