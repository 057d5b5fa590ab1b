// Package queue implements the per-project FIFO admission queue (spec.md
// S4.7): at most one active session per project, strict FIFO ordering among
// the rest, no cross-project scheduling. Grounded on the teacher's
// BackgroundAgentManager, which runs one independent goroutine per
// registered concern; here it is one goroutine per project, each draining
// its own serialized command channel so every queue mutation for a project
// is linearized without a global lock.
package queue

import (
	"context"

	"github.com/forgepilot/forgepilot/internal/model"
)

// InsertPosition selects where enqueue places a new session.
type InsertPosition struct {
	Front bool
	End   bool
	N     int // 1-based; used when neither Front nor End is set
}

// Runner is whatever drives one active session to completion. SessionEngine
// implements this; QueueManager only depends on the interface so the two
// packages don't need to know about each other's internals.
type Runner interface {
	// Start begins running session in the background and returns
	// immediately; it must eventually call the queue's advance callback
	// exactly once, whether the session completes, pauses, or fails.
	Start(ctx context.Context, session *model.Session)
	// Cancel signals the currently running session to stop at its next
	// safe checkpoint (used by backout).
	Cancel()
}

// RunnerFactory constructs a fresh Runner for one session run.
type RunnerFactory func() Runner

// BackoutAction is the action named in a backout command.
type BackoutAction string

const (
	BackoutPause   BackoutAction = "pause"
	BackoutAbandon BackoutAction = "abandon"
)
