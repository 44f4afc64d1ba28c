package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cranesim.dev/internal/persistence/indexdb"
	persistlog "cranesim.dev/internal/persistence/log"
	"cranesim.dev/internal/sim/engine"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/plan"
	"cranesim.dev/internal/sim/tuning"
	"cranesim.dev/internal/transport/httpapi"
	"cranesim.dev/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		planPath   = flag.String("plan", "", "yaml plan to execute at startup (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite run index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[craned] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	warehouse, err := grid.NewWarehouse(tune.Size())
	if err != nil {
		logger.Fatalf("warehouse: %v", err)
	}

	engineLogger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds)
	eng := engine.New(engine.Config{TickRateHz: tune.TickRateHz}, warehouse, engineLogger)

	if len(tune.Warehouse.Layout) > 0 {
		if err := eng.Fill(tune.Warehouse.Layout); err != nil {
			logger.Fatalf("fill warehouse: %v", err)
		}
	}

	runLog := persistlog.NewRunLogger(*dataDir)
	defer func() {
		if err := runLog.Close(); err != nil {
			logger.Printf("close run log: %v", err)
		}
	}()
	eng.AddSink(runLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open run index: %v", err)
		}
		defer idx.Close()
		eng.AddSink(idx)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	mux := http.NewServeMux()
	httpapi.NewServer(eng, tune, idx, logger).Register(mux)
	obs := observer.NewServer(eng, observer.Params{
		MoveSpeed:         tune.Speeds.Move,
		AttachDetachSpeed: tune.Speeds.AttachDetach,
	}, logger)
	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())

	srv := &http.Server{Addr: *addr, Handler: mux}
	httpDone := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s (tick rate %d Hz, warehouse %v)", *addr, tune.TickRateHz, tune.Size().ToArray())
		httpDone <- srv.ListenAndServe()
	}()

	if p := strings.TrimSpace(*planPath); p != "" {
		go runPlan(eng, tune, p, logger)
	}

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case err := <-httpDone:
		logger.Printf("http server stopped: %v", err)
		cancel()
	case err := <-engineDone:
		logger.Printf("engine loop stopped: %v", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)

	eng.Stop()
	<-eng.Terminated()
}

// runPlan executes a yaml plan file once, the way example choreographies
// drive the crane. The daemon keeps serving afterwards.
func runPlan(eng *engine.Engine, tune tuning.Tuning, path string, logger *log.Logger) {
	f, err := plan.Load(path)
	if err != nil {
		logger.Printf("plan: %v", err)
		return
	}
	tl, err := plan.Build(tune.Size(), tune.Speeds.Move, tune.Speeds.AttachDetach, f.Actions)
	if err != nil {
		logger.Printf("plan: %v", err)
		return
	}
	logger.Printf("executing plan %s (%d commands, %d ms):\n%s", path, tl.Len(), tl.TotalMs(), tl)

	out, err := eng.Submit(tl)
	if err != nil {
		if errors.Is(err, engine.ErrTerminated) {
			return
		}
		logger.Printf("plan: submit: %v", err)
		return
	}
	if out.Failed {
		logger.Printf("plan aborted: %s after %d/%d commands at %v", out.Reason, out.Executed, out.Commands, out.FailedAt.ToArray())
		return
	}
	logger.Printf("plan complete: %d commands in %d ms", out.Executed, out.ElapsedMs)
}
