package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"cranesim.dev/internal/sim/engine"
)

// JSONLZstdWriter appends JSON lines to hour-rotated zstd files
// (<prefix>-YYYY-MM-DD-HH.jsonl.zst).
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry is one run-log line. Type is "run_start", "command", or "run_end".
type Entry struct {
	Type    string                `json:"type"`
	Run     *engine.RunRecord     `json:"run,omitempty"`
	Command *engine.CommandRecord `json:"command,omitempty"`
}

// RunLogger records run lifecycle and every retired command as compressed
// JSONL. It implements engine.RunSink; writes happen on a dedicated
// goroutine so the engine tick never blocks on disk.
type RunLogger struct {
	w  *JSONLZstdWriter
	ch chan Entry
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRunLogger(dataDir string) *RunLogger {
	l := &RunLogger{
		w:  NewJSONLZstdWriter(filepath.Join(dataDir, "runs"), "runs"),
		ch: make(chan Entry, 4096),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for e := range l.ch {
			_ = l.w.Write(e)
		}
	}()
	return l
}

func (l *RunLogger) RunStarted(rec engine.RunRecord) {
	l.enqueue(Entry{Type: "run_start", Run: &rec})
}

func (l *RunLogger) CommandRetired(rec engine.CommandRecord) {
	l.enqueue(Entry{Type: "command", Command: &rec})
}

func (l *RunLogger) RunFinished(rec engine.RunRecord) {
	l.enqueue(Entry{Type: "run_end", Run: &rec})
}

// enqueue drops entries rather than stall the tick when the buffer is full.
func (l *RunLogger) enqueue(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- e:
	default:
	}
}

func (l *RunLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	l.wg.Wait()
	return l.w.Close()
}
