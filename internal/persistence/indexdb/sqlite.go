package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cranesim.dev/internal/sim/engine"
)

// SQLiteIndex is a read-model index of finished runs and their retired
// commands. It implements engine.RunSink: sink calls enqueue rows and a
// single writer goroutine applies them, so the engine tick never waits on
// the database. It never feeds state back into execution; timelines are not
// resumable from it.
type SQLiteIndex struct {
	db *sql.DB

	ch chan req
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool

	dropped atomic.Uint64
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqCommand
	reqRunEnd
)

type req struct {
	kind reqKind

	run engine.RunRecord
	cmd engine.CommandRecord
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL is a decent
	// durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			commands INTEGER NOT NULL,
			executed INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			total_ms INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS run_commands (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqRunStart:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO runs (run_id, started_at, commands, total_ms) VALUES (?, ?, ?, ?)`,
				r.run.RunID, r.run.StartedAt.UTC().Format(time.RFC3339Nano), r.run.Commands, r.run.TotalMs,
			)
		case reqCommand:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO run_commands (run_id, seq, kind, start_ms, end_ms, x, y, z, elapsed_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.cmd.RunID, r.cmd.Seq, r.cmd.Kind, r.cmd.StartMs, r.cmd.EndMs,
				r.cmd.Dest[0], r.cmd.Dest[1], r.cmd.Dest[2], r.cmd.ElapsedMs,
			)
		case reqRunEnd:
			_, _ = s.db.Exec(
				`UPDATE runs SET finished_at = ?, executed = ?, reason = ?, elapsed_ms = ? WHERE run_id = ?`,
				r.run.FinishedAt.UTC().Format(time.RFC3339Nano), r.run.Executed, r.run.Reason, r.run.ElapsedMs, r.run.RunID,
			)
		}
	}
}

// enqueue drops rows rather than stall the tick when the buffer is full.
// The mutex pairs with Close so a send can never hit a closed channel.
func (s *SQLiteIndex) enqueue(r req) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) RunStarted(rec engine.RunRecord) {
	s.enqueue(req{kind: reqRunStart, run: rec})
}

func (s *SQLiteIndex) CommandRetired(rec engine.CommandRecord) {
	s.enqueue(req{kind: reqCommand, cmd: rec})
}

func (s *SQLiteIndex) RunFinished(rec engine.RunRecord) {
	s.enqueue(req{kind: reqRunEnd, run: rec})
}

// Dropped reports rows discarded because the write buffer was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}
