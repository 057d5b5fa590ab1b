// Command forgepilotd runs the orchestrator: it admits sessions into their
// per-project queues, drives each active session through the stage
// pipeline, and exposes the HTTP/websocket gateway the UI talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/forgepilot/forgepilot/internal/agentrunner"
	"github.com/forgepilot/forgepilot/internal/config"
	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/gateway"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/queue"
	"github.com/forgepilot/forgepilot/internal/sessionengine"
	"github.com/forgepilot/forgepilot/internal/store"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		envPath     = flag.String("env", ".env", "Path to a .env file (optional; missing file is not an error)")
		verbose     = flag.Bool("verbose", false, "Enable debug-level logging")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("forgepilotd %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	fmt.Print(banner())

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgepilotd: loading config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(*verbose)

	st := store.New(cfg.SessionsRoot, store.RotationConfig{
		MaxSizeBytes:  int64(cfg.LogMaxSizeMB) * 1024 * 1024,
		MaxFiles:      cfg.LogMaxFiles,
		RetentionDays: cfg.LogRetentionDays,
	})
	bus := eventbus.New(logger)
	registry := sessionengine.NewRegistry()
	processor := postprocess.NewProcessor()
	runner := agentrunner.New(agentrunner.Config{
		Command: cfg.AgentCmd,
		Args:    cfg.AgentArgs,
		Verbose: *verbose,
		Logger:  logger,
	})

	// queueMgr is captured by the RunnerFactory closure below, so every
	// Engine it creates can call back into the same Manager to release its
	// project's active slot when the run ends.
	var queueMgr *queue.Manager
	newRunner := func() queue.Runner {
		return sessionengine.New(sessionengine.Deps{
			Store:     st,
			Bus:       bus,
			Runner:    runner,
			Processor: processor,
			Advancer:  queueMgr,
			Registry:  registry,
			Config:    cfg,
			Logger:    logger,
		})
	}
	queueMgr = queue.New(st, bus, logger, newRunner)

	if err := rehydrate(context.Background(), st, queueMgr, logger); err != nil {
		logger.Error("failed to rehydrate queues from disk", "error", err)
		os.Exit(1)
	}

	gw := gateway.New(gateway.Deps{
		Store:    st,
		Bus:      bus,
		Queue:    queueMgr,
		Registry: registry,
		Config:   cfg,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("forgepilotd starting", "port", cfg.Port, "sessionsRoot", cfg.SessionsRoot, "agentCmd", cfg.AgentCmd)
	if err := gw.Start(ctx); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("forgepilotd stopped")
}

// rehydrate rebuilds, from the sessions the Store already knows about, the
// in-memory queues a fresh process starts with none of (a process restart
// mid-run must not orphan queued sessions). Paused sessions are left alone;
// a human has to Resume those explicitly. A session found in a running
// state (discovery/planning/implementing/...) has no live Engine behind it
// any more — the process that was driving it is gone — so it is an orphan,
// not a queue entry: it is transitioned to paused and persisted rather than
// re-enqueued, and a human must explicitly resume it. Only genuinely queued
// sessions (StatusQueued) are re-enqueued, in their stored queue-position
// order so FIFO ordering survives the restart.
func rehydrate(ctx context.Context, st *store.Store, queueMgr *queue.Manager, logger *slog.Logger) error {
	sessions, err := st.ListSessions()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		pi, pj := queuePosition(sessions[i]), queuePosition(sessions[j])
		return pi < pj
	})

	for _, session := range sessions {
		switch session.Status {
		case model.StatusCompleted, model.StatusFailed, model.StatusPaused:
			continue

		case model.StatusQueued:
			if err := queueMgr.Enqueue(ctx, session, queue.InsertPosition{End: true}); err != nil {
				return fmt.Errorf("re-enqueueing %s/%s: %w", session.ProjectID, session.FeatureID, err)
			}
			logger.Debug("rehydrated queued session", "project", session.ProjectID, "feature", session.FeatureID, "status", session.Status)

		default:
			orphaned := session.Status
			session.Status = model.StatusPaused
			if err := st.PutSession(session); err != nil {
				return fmt.Errorf("pausing orphaned session %s/%s: %w", session.ProjectID, session.FeatureID, err)
			}
			logger.Warn("paused orphaned session found running with no live engine",
				"project", session.ProjectID, "feature", session.FeatureID, "previousStatus", orphaned)
		}
	}
	return nil
}

func queuePosition(s *model.Session) int {
	if s.QueuePosition == nil {
		return 0
	}
	return *s.QueuePosition
}

func banner() string {
	return `
  _____                     ____  _ _       _
 |  ___|__  _ __ __ _  ___ |  _ \(_) | ___ | |_
 | |_ / _ \| '__/ _` + "`" + ` |/ _ \| |_) | | |/ _ \| __|
 |  _| (_) | | | (_| |  __/|  __/| | | (_) | |_
 |_|  \___/|_|  \__, |\___||_|   |_|_|\___/ \__|
                |___/
`
}
