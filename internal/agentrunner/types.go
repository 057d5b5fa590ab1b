// Package agentrunner spawns the external coding agent as a child process
// and captures its output. The agent is treated as a black-box binary: it
// receives a prompt and emits structured JSON on stdout, the same contract
// regardless of which underlying coding assistant AGENT_CMD points at.
package agentrunner

import (
	"encoding/json"
	"time"

	"github.com/forgepilot/forgepilot/internal/model"
)

// Request describes one agent invocation.
type Request struct {
	Stage       model.Stage
	Prompt      string
	WorkDir     string
	ExtraArgs   []string
	ExtraEnv    map[string]string
	AgentSessionID string // resumes a prior agent conversation when the underlying CLI supports it
}

// Outcome classifies how a Run attempt ended, matching the AgentError kinds
// of spec.md S7.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeSpawnFailed Outcome = "spawn_failed"
	OutcomeCrashed     Outcome = "crashed"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeUnparseable Outcome = "unparseable"
	OutcomeNonZeroExit Outcome = "non_zero_exit"
)

// Result is the outcome of one Run.
type Result struct {
	Outcome    Outcome
	Output     string          // raw combined stdout the agent produced
	Structured json.RawMessage // trailing JSON object extracted from Output, if any
	ExitCode   int
	Duration   time.Duration
	CostUsd    float64
	Err        error
}

// Success reports whether the agent ran to completion and produced a
// parseable structured result.
func (r *Result) Success() bool {
	return r.Outcome == OutcomeCompleted
}
