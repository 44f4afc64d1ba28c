package engine

import "time"

// RunSink observes run lifecycle and retired commands. Implementations are
// invoked inside the engine tick and must not block; hand off to a writer
// goroutine instead (see internal/persistence).
type RunSink interface {
	RunStarted(rec RunRecord)
	CommandRetired(rec CommandRecord)
	RunFinished(rec RunRecord)
}

type RunRecord struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Commands   int       `json:"commands"`
	Executed   int       `json:"executed,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	TotalMs    uint64    `json:"total_ms,omitempty"`
	ElapsedMs  uint64    `json:"elapsed_ms,omitempty"`
}

type CommandRecord struct {
	RunID     string `json:"run_id"`
	Seq       int    `json:"seq"`
	Kind      string `json:"kind"`
	StartMs   uint64 `json:"start_ms"`
	EndMs     uint64 `json:"end_ms"`
	Dest      [3]int `json:"dest"`
	ElapsedMs uint64 `json:"elapsed_ms"`
}
