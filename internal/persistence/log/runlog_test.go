package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"cranesim.dev/internal/sim/engine"
)

func TestRunLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewRunLogger(dir)

	started := time.Now()
	l.RunStarted(engine.RunRecord{RunID: "r1", StartedAt: started, Commands: 2, TotalMs: 2000})
	l.CommandRetired(engine.CommandRecord{RunID: "r1", Seq: 0, Kind: "MOVE", StartMs: 0, EndMs: 1000, Dest: [3]int{1, 0, 1}, ElapsedMs: 1000})
	l.CommandRetired(engine.CommandRecord{RunID: "r1", Seq: 1, Kind: "ATTACH", StartMs: 1000, EndMs: 2000, ElapsedMs: 2000})
	l.RunFinished(engine.RunRecord{RunID: "r1", StartedAt: started, FinishedAt: started.Add(2 * time.Second), Commands: 2, Executed: 2, Reason: "COMPLETED", ElapsedMs: 2000})

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close twice is fine.
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "runs"))
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Type != "run_start" || entries[0].Run == nil || entries[0].Run.RunID != "r1" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].Command == nil || entries[1].Command.Kind != "MOVE" || entries[1].Command.Dest != [3]int{1, 0, 1} {
		t.Fatalf("second entry = %+v", entries[1])
	}
	if entries[3].Type != "run_end" || entries[3].Run.Reason != "COMPLETED" {
		t.Fatalf("last entry = %+v", entries[3])
	}
}

func readEntries(t *testing.T, dir string) []Entry {
	t.Helper()
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}

	var out []Entry
	for _, fe := range files {
		if !strings.HasSuffix(fe.Name(), ".jsonl.zst") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, fe.Name()))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("zstd: %v", err)
		}
		sc := bufio.NewScanner(dec)
		for sc.Scan() {
			var e Entry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				t.Fatalf("unmarshal %q: %v", sc.Text(), err)
			}
			out = append(out, e)
		}
		if err := sc.Err(); err != nil {
			t.Fatalf("scan: %v", err)
		}
		dec.Close()
		_ = f.Close()
	}
	return out
}
