package engine

import (
	"sort"
	"time"

	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/timeline"
)

// step advances the run against elapsed wall-clock time. One call per tick.
func (e *Engine) step(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		e.publishLocked(0)
		return
	}

	var elapsed uint64
	if d := now.Sub(e.startWall); d > 0 {
		elapsed = uint64(d.Milliseconds())
	}

	if elapsed >= e.tl.Commands()[e.cursor].EndMs {
		e.retireDueLocked(elapsed, now)
	}
	e.publishLocked(elapsed)
}

// retireDueLocked is the catch-up procedure: when the tick rate is slower
// than command granularity, several commands may have fully elapsed since
// the last tick. Commands are appended in non-decreasing StartMs order, so
// a binary search finds how many are fully behind the elapsed time; the cut
// is clamped to at least the one command known to be expired. Side effects
// apply strictly in submission order, so N tiny ticks and one giant tick
// end in the same grid state.
func (e *Engine) retireDueLocked(elapsed uint64, now time.Time) {
	rem := e.tl.Commands()[e.cursor:]
	cut := sort.Search(len(rem), func(i int) bool { return rem[i].StartMs > elapsed }) - 1
	if cut < 1 {
		cut = 1
	}

	for i := 0; i < cut; i++ {
		cmd := rem[i]
		switch cmd.Kind {
		case timeline.KindMove:
			// The anchor moves to the destination only when the command is
			// fully consumed, never mid-interpolation.
			e.anchor = cmd.Dest
		case timeline.KindAttach:
			if !e.warehouse.TryAttach(e.anchor) {
				e.log.Printf("failed to attach container at %v", e.anchor.ToArray())
				e.finishLocked(protocol.ReasonAttachFailed, elapsed, now)
				return
			}
			e.attached = true
		case timeline.KindDetach:
			if !e.warehouse.TryDetach(e.anchor) {
				e.log.Printf("failed to detach container at %v", e.anchor.ToArray())
				e.finishLocked(protocol.ReasonDetachFailed, elapsed, now)
				return
			}
			e.attached = false
		case timeline.KindIdle:
			// No side effect.
		}

		e.cursor++
		for _, s := range e.sinks {
			s.CommandRetired(CommandRecord{
				RunID:     e.runID,
				Seq:       e.cursor - 1,
				Kind:      cmd.Kind.String(),
				StartMs:   cmd.StartMs,
				EndMs:     cmd.EndMs,
				Dest:      cmd.Dest.ToArray(),
				ElapsedMs: elapsed,
			})
		}
	}

	if e.cursor == e.tl.Len() {
		e.finishLocked(protocol.ReasonCompleted, elapsed, now)
	}
}

// finishLocked returns the engine to idle, reports the outcome to sinks, and
// unblocks the submitter. The remainder of an aborted timeline is discarded.
func (e *Engine) finishLocked(reason string, elapsed uint64, now time.Time) {
	out := Outcome{
		RunID:     e.runID,
		Reason:    reason,
		Commands:  e.tl.Len(),
		Executed:  e.cursor,
		ElapsedMs: elapsed,
	}
	if reason != protocol.ReasonCompleted {
		out.Failed = true
		out.FailedAt = e.anchor
	}

	for _, s := range e.sinks {
		s.RunFinished(RunRecord{
			RunID:      out.RunID,
			StartedAt:  e.startWall,
			FinishedAt: now,
			Commands:   out.Commands,
			Executed:   out.Executed,
			Reason:     reason,
			ElapsedMs:  elapsed,
		})
	}

	done := e.done
	e.running = false
	e.tl = nil
	e.cursor = 0
	e.runID = ""
	e.done = nil

	// Buffered; the tick never blocks on a slow submitter.
	done <- out
}

// publishLocked refreshes the lock-free display state. While a move is in
// flight the position eases from the anchor toward the destination; for any
// other command (and while idle) it holds at the anchor.
func (e *Engine) publishLocked(elapsed uint64) {
	pos := e.anchor.ToFloat()
	if e.running {
		if cur := e.tl.Commands()[e.cursor]; cur.Kind == timeline.KindMove {
			t := grid.Smoothstep(float64(cur.StartMs), float64(cur.EndMs), float64(elapsed))
			pos = grid.Lerp(e.anchor, cur.Dest, t)
		}
	}
	e.display.Store(&Display{
		Tick:     e.tickNum.Load(),
		Running:  e.running,
		Pos:      pos,
		Attached: e.attached,
	})
}
