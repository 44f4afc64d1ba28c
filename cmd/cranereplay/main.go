package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "cranesim.dev/internal/persistence/log"
)

func main() {
	var (
		runsDir = flag.String("runs", "./data/runs", "directory containing runs-*.jsonl.zst")
		runID   = flag.String("run", "", "only print entries for this run id (optional)")
	)
	flag.Parse()

	files, err := listRunFiles(*runsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list run logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no run logs found in", *runsDir)
		os.Exit(1)
	}

	var runs, commands int
	for _, path := range files {
		if err := replayFile(path, *runID, &runs, &commands); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(1)
		}
	}
	fmt.Printf("%d runs, %d commands\n", runs, commands)
}

func listRunFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "runs-") && strings.HasSuffix(name, ".jsonl.zst") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func replayFile(path, runID string, runs, commands *int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		var entry persistlog.Entry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return err
		}
		switch entry.Type {
		case "run_start":
			if entry.Run == nil {
				continue
			}
			if runID != "" && entry.Run.RunID != runID {
				continue
			}
			fmt.Printf("run %s started %s: %d commands, %d ms scheduled\n",
				entry.Run.RunID, entry.Run.StartedAt.Format("15:04:05.000"), entry.Run.Commands, entry.Run.TotalMs)
		case "command":
			if entry.Command == nil {
				continue
			}
			if runID != "" && entry.Command.RunID != runID {
				continue
			}
			*commands++
			c := entry.Command
			line := fmt.Sprintf("  #%d %s", c.Seq, c.Kind)
			if c.Kind == "MOVE" {
				line += fmt.Sprintf(" %v", c.Dest)
			}
			fmt.Printf("%s @ %d..%d (retired at %d ms)\n", line, c.StartMs, c.EndMs, c.ElapsedMs)
		case "run_end":
			if entry.Run == nil {
				continue
			}
			if runID != "" && entry.Run.RunID != runID {
				continue
			}
			*runs++
			fmt.Printf("run %s finished: %s, %d/%d commands, %d ms\n",
				entry.Run.RunID, entry.Run.Reason, entry.Run.Executed, entry.Run.Commands, entry.Run.ElapsedMs)
		}
	}
	return sc.Err()
}
