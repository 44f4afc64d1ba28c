package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/timeline"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestEngine(t *testing.T, layout [][]int) *Engine {
	t.Helper()
	w, err := grid.NewWarehouse(grid.Vec3i{X: 4, Y: 3, Z: 4})
	if err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if layout != nil {
		if err := w.Fill(layout); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	return New(Config{TickRateHz: 60}, w, quietLogger())
}

func buildTimeline(t *testing.T, fn func(b *timeline.Builder)) *timeline.Timeline {
	t.Helper()
	b, err := timeline.NewBuilder(grid.Vec3i{X: 4, Y: 3, Z: 4}, 1, 1)
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	fn(b)
	tl, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return tl
}

// drain steps the engine with the given synthetic time until the run
// finishes, guarding against livelock with a step budget.
func drain(t *testing.T, e *Engine, done chan Outcome, now time.Time) Outcome {
	t.Helper()
	for i := 0; i < 10000; i++ {
		select {
		case out := <-done:
			return out
		default:
		}
		e.step(now)
		now = now.Add(time.Millisecond)
	}
	t.Fatalf("run did not finish")
	return Outcome{}
}

func TestSubmit_EmptyTimeline(t *testing.T) {
	e := newTestEngine(t, nil)
	out, err := e.Submit(nil)
	if err != nil {
		t.Fatalf("submit nil: %v", err)
	}
	if out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason = %q, want COMPLETED", out.Reason)
	}
}

func TestStep_InterpolatesMove(t *testing.T) {
	e := newTestEngine(t, nil)
	tl := buildTimeline(t, func(b *timeline.Builder) {
		b.MoveTo(grid.Vec3i{X: 2, Y: 0, Z: 0}) // 1000 ms at speed 1
	})
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	e.step(t0.Add(500 * time.Millisecond))
	d := e.Display()
	if !d.Running {
		t.Fatalf("expected running display")
	}
	// Halfway through the move: smoothstep(0.5) = 0.5, so x = 1.0.
	if d.Pos.X != 1.0 || d.Pos.Y != 0 || d.Pos.Z != 0 {
		t.Fatalf("pos = %+v, want x=1.0", d.Pos)
	}

	// Before the midpoint the eased position lags the linear one.
	e2 := newTestEngine(t, nil)
	done2, err := e2.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	e2.step(t0.Add(250 * time.Millisecond))
	if got := e2.Display().Pos.X; got >= 0.5 {
		t.Fatalf("eased x = %v at t=0.25, want < 0.5 (linear)", got)
	}

	out := drain(t, e, done, t0.Add(1001*time.Millisecond))
	if out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason = %q", out.Reason)
	}
	if got := e.Display().Pos; got != (grid.Vec3f{X: 2, Y: 0, Z: 0}) {
		t.Fatalf("final pos = %+v, want destination", got)
	}
	_ = drain(t, e2, done2, t0.Add(1001*time.Millisecond))
}

func TestStep_HoldsPositionDuringNonMove(t *testing.T) {
	e := newTestEngine(t, [][]int{{1}})
	tl := buildTimeline(t, func(b *timeline.Builder) {
		b.MoveTo(grid.Vec3i{X: 0, Y: 0, Z: 0}).Attach()
	})
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Into the attach window: the move has been retired, position holds at
	// the anchor while the attach runs.
	e.step(t0.Add(1500 * time.Millisecond))
	d := e.Display()
	if d.Pos != (grid.Vec3f{}) {
		t.Fatalf("pos = %+v, want anchor (0,0,0)", d.Pos)
	}
	if d.Attached {
		t.Fatalf("attach should not land before its end time")
	}

	out := drain(t, e, done, t0.Add(2001*time.Millisecond))
	if out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason = %q", out.Reason)
	}
	if !e.Display().Attached {
		t.Fatalf("attached flag not set after attach")
	}
}

func TestStep_ScenarioAttachCarryDetach(t *testing.T) {
	e := newTestEngine(t, [][]int{{1}})
	tl := buildTimeline(t, func(b *timeline.Builder) {
		b.MoveTo(grid.Vec3i{X: 0, Y: 0, Z: 0}).
			Attach().
			MoveTo(grid.Vec3i{X: 2, Y: 0, Z: 2}).
			Detach()
	})
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	out := drain(t, e, done, t0)
	if out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason = %q, executed %d/%d", out.Reason, out.Executed, out.Commands)
	}

	snap := e.Snapshot(true)
	if snap.Attached {
		t.Fatalf("still attached after detach")
	}
	if h := snap.Heights[0][0]; h != 0 {
		t.Fatalf("source column height = %d, want 0", h)
	}
	if h := snap.Heights[2][2]; h != 1 {
		t.Fatalf("target column height = %d, want 1", h)
	}
}

func TestCatchUp_GiantTickMatchesFineTicks(t *testing.T) {
	layout := [][]int{{2, 1}, {0, 2}}
	build := func() *timeline.Timeline {
		return buildTimeline(t, func(b *timeline.Builder) {
			b.MoveTo(grid.Vec3i{X: 0, Y: 1, Z: 0}).
				Attach().
				MoveTo(grid.Vec3i{X: 1, Y: 0, Z: 0}).
				Detach().
				Idle(40).
				MoveTo(grid.Vec3i{X: 1, Y: 1, Z: 1}).
				Attach().
				MoveTo(grid.Vec3i{X: 3, Y: 0, Z: 3}).
				Detach().
				MoveTo(grid.Vec3i{X: 0, Y: 3, Z: 0})
		})
	}

	t0 := time.Now()

	fine := newTestEngine(t, layout)
	doneFine, err := fine.begin(build(), t0)
	if err != nil {
		t.Fatalf("begin fine: %v", err)
	}
	outFine := drain(t, fine, doneFine, t0)

	giant := newTestEngine(t, layout)
	doneGiant, err := giant.begin(build(), t0)
	if err != nil {
		t.Fatalf("begin giant: %v", err)
	}
	// Jump straight past the end of the whole schedule.
	outGiant := drain(t, giant, doneGiant, t0.Add(time.Hour))

	if outFine.Reason != protocol.ReasonCompleted || outGiant.Reason != protocol.ReasonCompleted {
		t.Fatalf("reasons = %q / %q", outFine.Reason, outGiant.Reason)
	}
	if outFine.Executed != outGiant.Executed {
		t.Fatalf("executed %d vs %d", outFine.Executed, outGiant.Executed)
	}

	hf, hg := fine.Snapshot(true).Heights, giant.Snapshot(true).Heights
	for x := range hf {
		for z := range hf[x] {
			if hf[x][z] != hg[x][z] {
				t.Fatalf("heights diverge at (%d,%d): %d vs %d", x, z, hf[x][z], hg[x][z])
			}
		}
	}
	if fine.Display().Attached != giant.Display().Attached {
		t.Fatalf("attached flags diverge")
	}
}

func TestAttachFailure_AbortsRun(t *testing.T) {
	e := newTestEngine(t, nil) // empty warehouse: nothing to attach
	tl := buildTimeline(t, func(b *timeline.Builder) {
		b.MoveTo(grid.Vec3i{X: 1, Y: 0, Z: 1}).
			Attach().
			MoveTo(grid.Vec3i{X: 3, Y: 0, Z: 3}). // must never run
			Detach()
	})
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	out := drain(t, e, done, t0.Add(time.Hour))

	if out.Reason != protocol.ReasonAttachFailed {
		t.Fatalf("reason = %q, want E_ATTACH_FAILED", out.Reason)
	}
	if !out.Failed {
		t.Fatalf("outcome not marked failed")
	}
	if out.FailedAt != (grid.Vec3i{X: 1, Y: 0, Z: 1}) {
		t.Fatalf("failed at %v", out.FailedAt.ToArray())
	}
	// Only the move before the failing attach was executed; the remainder
	// was discarded, so the anchor never reached (3,0,3).
	if out.Executed != 1 {
		t.Fatalf("executed = %d, want 1", out.Executed)
	}
	snap := e.Snapshot(true)
	if snap.Running {
		t.Fatalf("engine still running after abort")
	}
	if snap.Crane != (grid.Vec3f{X: 1, Y: 0, Z: 1}) {
		t.Fatalf("crane = %+v, want the failure position", snap.Crane)
	}

	// The engine is reusable after an aborted run.
	tl2 := buildTimeline(t, func(b *timeline.Builder) { b.Idle(10) })
	done2, err := e.begin(tl2, t0)
	if err != nil {
		t.Fatalf("begin after abort: %v", err)
	}
	if out := drain(t, e, done2, t0.Add(time.Minute)); out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason after abort = %q", out.Reason)
	}
}

func TestDetachFailure_AbortsRun(t *testing.T) {
	e := newTestEngine(t, [][]int{{1}})
	tl := buildTimeline(t, func(b *timeline.Builder) {
		// Hook at y=1 over a column of height 1: the resting slot check
		// (height == y) holds, so drop there first, then fail on a repeat.
		b.MoveTo(grid.Vec3i{X: 0, Y: 1, Z: 0}).Detach().Detach()
	})
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	out := drain(t, e, done, t0.Add(time.Hour))
	if out.Reason != protocol.ReasonDetachFailed {
		t.Fatalf("reason = %q, want E_DETACH_FAILED", out.Reason)
	}
	if out.Executed != 2 {
		t.Fatalf("executed = %d, want 2", out.Executed)
	}
	if h := e.Snapshot(true).Heights[0][0]; h != 2 {
		t.Fatalf("height = %d, want 2", h)
	}
}

func TestSubmit_BusyWhileRunning(t *testing.T) {
	e := newTestEngine(t, nil)
	tl := buildTimeline(t, func(b *timeline.Builder) { b.Idle(10000) })
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	tl2 := buildTimeline(t, func(b *timeline.Builder) { b.Idle(1) })
	if _, err := e.Submit(tl2); !errors.Is(err, ErrBusy) {
		t.Fatalf("second submit: err = %v, want ErrBusy", err)
	}

	// The in-flight timeline is untouched by the rejected submit.
	out := drain(t, e, done, t0.Add(time.Hour))
	if out.Reason != protocol.ReasonCompleted || out.Commands != 1 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSubmit_AfterTermination(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()
	cancel()
	if err := <-runDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}

	tl := buildTimeline(t, func(b *timeline.Builder) { b.Idle(1) })
	// Reported on every attempt, not just the first.
	for i := 0; i < 2; i++ {
		if _, err := e.Submit(tl); !errors.Is(err, ErrTerminated) {
			t.Fatalf("submit %d: err = %v, want ErrTerminated", i, err)
		}
	}

	// An empty timeline must not slip past the terminated report as a
	// trivial completion.
	if out, err := e.Submit(nil); !errors.Is(err, ErrTerminated) {
		t.Fatalf("empty submit: out = %+v, err = %v, want ErrTerminated", out, err)
	}
}

func TestSubmit_UnblockedByStop(t *testing.T) {
	e := newTestEngine(t, nil)
	go func() { _ = e.Run(context.Background()) }()

	tl := buildTimeline(t, func(b *timeline.Builder) { b.Idle(60000) })
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Submit(tl)
		errCh <- err
	}()

	// Give the submit a moment to install the timeline, then tear down.
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("submit: err = %v, want ErrTerminated", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("submit still blocked after engine stop")
	}
}

func TestRun_ExecutesAgainstWallClock(t *testing.T) {
	w, err := grid.NewWarehouse(grid.Vec3i{X: 4, Y: 3, Z: 4})
	if err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if err := w.Fill([][]int{{1}}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	e := New(Config{TickRateHz: 200}, w, quietLogger())
	go func() { _ = e.Run(context.Background()) }()
	defer e.Stop()

	// Fastest speeds: each command lasts 1 ms, so the run finishes in a
	// few ticks of real time.
	b, err := timeline.NewBuilder(grid.Vec3i{X: 4, Y: 3, Z: 4}, 1000, 1000)
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	tl, err := b.
		MoveTo(grid.Vec3i{X: 0, Y: 0, Z: 0}).
		Attach().
		MoveTo(grid.Vec3i{X: 3, Y: 0, Z: 3}).
		Detach().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	out, err := e.Submit(tl)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason = %q", out.Reason)
	}
	if out.Executed != 4 {
		t.Fatalf("executed = %d, want 4", out.Executed)
	}
	snap := e.Snapshot(true)
	if snap.Heights[0][0] != 0 || snap.Heights[3][3] != 1 {
		t.Fatalf("heights = %v", snap.Heights)
	}
}

type recordingSink struct {
	started  []RunRecord
	commands []CommandRecord
	finished []RunRecord
}

func (r *recordingSink) RunStarted(rec RunRecord)         { r.started = append(r.started, rec) }
func (r *recordingSink) CommandRetired(rec CommandRecord) { r.commands = append(r.commands, rec) }
func (r *recordingSink) RunFinished(rec RunRecord)        { r.finished = append(r.finished, rec) }

func TestSinks_ObserveRunLifecycle(t *testing.T) {
	e := newTestEngine(t, [][]int{{1}})
	sink := &recordingSink{}
	e.AddSink(sink)

	tl := buildTimeline(t, func(b *timeline.Builder) {
		b.MoveTo(grid.Vec3i{X: 0, Y: 0, Z: 0}).Attach()
	})
	t0 := time.Now()
	done, err := e.begin(tl, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	out := drain(t, e, done, t0.Add(time.Hour))
	if out.Reason != protocol.ReasonCompleted {
		t.Fatalf("reason = %q", out.Reason)
	}

	if len(sink.started) != 1 || len(sink.finished) != 1 {
		t.Fatalf("lifecycle events: %d started, %d finished", len(sink.started), len(sink.finished))
	}
	if len(sink.commands) != 2 {
		t.Fatalf("command events = %d, want 2", len(sink.commands))
	}
	for i, c := range sink.commands {
		if c.Seq != i {
			t.Fatalf("command %d has seq %d", i, c.Seq)
		}
		if c.RunID != out.RunID {
			t.Fatalf("command run id %q, want %q", c.RunID, out.RunID)
		}
	}
	if sink.commands[0].Kind != "MOVE" || sink.commands[1].Kind != "ATTACH" {
		t.Fatalf("command kinds: %s, %s", sink.commands[0].Kind, sink.commands[1].Kind)
	}
	if sink.finished[0].Reason != protocol.ReasonCompleted {
		t.Fatalf("finish reason = %q", sink.finished[0].Reason)
	}
}
