package indexdb

type RunRow struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Commands   int    `json:"commands"`
	Executed   int    `json:"executed"`
	Reason     string `json:"reason,omitempty"`
	TotalMs    uint64 `json:"total_ms"`
	ElapsedMs  uint64 `json:"elapsed_ms"`
}

// RecentRuns lists the most recently started runs, newest first. Rows for
// in-flight runs have an empty finished_at and reason.
func (s *SQLiteIndex) RecentRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT run_id, started_at, COALESCE(finished_at, ''), commands, executed, reason, total_ms, elapsed_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Commands, &r.Executed, &r.Reason, &r.TotalMs, &r.ElapsedMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
