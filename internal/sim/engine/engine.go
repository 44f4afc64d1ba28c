package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/timeline"
)

var (
	// ErrBusy rejects a Submit while a previous timeline is still running.
	// The engine never queues or preempts; overwriting the in-flight
	// timeline would lose commands.
	ErrBusy = errors.New("engine busy")

	// ErrTerminated reports that the engine loop is no longer running. It is
	// returned on every Submit after termination, not just the first.
	ErrTerminated = errors.New("engine terminated")
)

type Config struct {
	TickRateHz int
}

// Display is the renderer-facing state, published through an atomic pointer
// so a reader never observes a torn coordinate and needs no lock.
type Display struct {
	Tick     uint64
	Running  bool
	Pos      grid.Vec3f
	Attached bool
}

// Outcome reports how a run ended. A container failure is a normal
// completion with a non-COMPLETED reason, not an error.
type Outcome struct {
	RunID     string
	Reason    string
	Commands  int
	Executed  int
	ElapsedMs uint64
	Failed    bool
	FailedAt  grid.Vec3i
}

// Engine advances one timeline at a time against the wall clock. All
// mutable run state (timeline, cursor, anchor, warehouse, attached flag) is
// guarded by mu and touched only inside Submit and the tick.
type Engine struct {
	cfg Config
	log *log.Logger

	mu        sync.Mutex
	warehouse *grid.Warehouse
	tl        *timeline.Timeline
	cursor    int
	startWall time.Time
	anchor    grid.Vec3i
	attached  bool
	running   bool
	runID     string
	done      chan Outcome
	sinks     []RunSink

	display atomic.Pointer[Display]
	tickNum atomic.Uint64

	stop       chan struct{}
	stopOnce   sync.Once
	terminated chan struct{}
	termOnce   sync.Once
}

func New(cfg Config, w *grid.Warehouse, logger *log.Logger) *Engine {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 60
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		cfg:        cfg,
		log:        logger,
		warehouse:  w,
		stop:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
	e.display.Store(&Display{})
	return e
}

func (e *Engine) TickRateHz() int     { return e.cfg.TickRateHz }
func (e *Engine) CurrentTick() uint64 { return e.tickNum.Load() }
func (e *Engine) WarehouseSize() grid.Vec3i {
	return e.warehouse.Size()
}

// AddSink registers a run observer. Sinks are invoked inside the tick and
// must not block; register before Run.
func (e *Engine) AddSink(s RunSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Run drives the engine at the configured cadence until ctx is canceled or
// Stop is called. On return the engine is terminated: any blocked submitter
// is released with ErrTerminated and later submits fail the same way.
func (e *Engine) Run(ctx context.Context) error {
	defer e.terminate()

	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case now := <-ticker.C:
			e.tickNum.Add(1)
			e.step(now)
		}
	}
}

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

func (e *Engine) terminate() { e.termOnce.Do(func() { close(e.terminated) }) }

// Terminated is closed once the engine loop has exited.
func (e *Engine) Terminated() <-chan struct{} { return e.terminated }

// Submit installs the timeline and blocks until the engine has consumed it
// (or aborted it on a container failure), returning the run outcome. It is
// the only operation that crosses into engine state from the control
// thread. A second submit while a run is in flight gets ErrBusy.
func (e *Engine) Submit(tl *timeline.Timeline) (Outcome, error) {
	// Termination is reported on every attempt, even for an empty
	// timeline that would otherwise complete trivially.
	select {
	case <-e.terminated:
		return Outcome{}, ErrTerminated
	default:
	}
	if tl == nil || tl.Len() == 0 {
		return Outcome{Reason: protocol.ReasonCompleted}, nil
	}
	done, err := e.begin(tl, time.Now())
	if err != nil {
		return Outcome{}, err
	}
	select {
	case out := <-done:
		return out, nil
	case <-e.terminated:
		// The loop shut down mid-run; an outcome may have raced in.
		select {
		case out := <-done:
			return out, nil
		default:
		}
		return Outcome{}, ErrTerminated
	}
}

func (e *Engine) begin(tl *timeline.Timeline, now time.Time) (chan Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.terminated:
		return nil, ErrTerminated
	default:
	}
	if e.running {
		return nil, ErrBusy
	}

	e.tl = tl
	e.cursor = 0
	e.startWall = now
	e.running = true
	e.runID = uuid.NewString()
	done := make(chan Outcome, 1)
	e.done = done

	for _, s := range e.sinks {
		s.RunStarted(RunRecord{
			RunID:     e.runID,
			StartedAt: now,
			Commands:  tl.Len(),
			TotalMs:   tl.TotalMs(),
		})
	}
	e.publishLocked(0)
	return done, nil
}

// Fill replaces the warehouse stack heights. It shares the engine mutex so
// a fill never tears a snapshot mid-tick; callers are expected to fill
// before submitting a timeline that references the new layout.
func (e *Engine) Fill(columns [][]int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warehouse.Fill(columns)
}

// Display returns the current renderer-facing state without the lock.
func (e *Engine) Display() Display { return *e.display.Load() }

// Snapshot captures display state plus a deep copy of the stack heights.
type Snapshot struct {
	Tick      uint64
	Running   bool
	Crane     grid.Vec3f
	Attached  bool
	Cursor    int
	Commands  int
	ElapsedMs uint64
	Heights   [][]int
}

func (e *Engine) Snapshot(includeHeights bool) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.display.Load()
	s := Snapshot{
		Tick:     d.Tick,
		Running:  e.running,
		Crane:    d.Pos,
		Attached: e.attached,
		Cursor:   e.cursor,
	}
	if e.running {
		s.Commands = e.tl.Len()
		if el := time.Since(e.startWall); el > 0 {
			s.ElapsedMs = uint64(el.Milliseconds())
		}
	}
	if includeHeights {
		s.Heights = e.warehouse.Heights()
	}
	return s
}
