// Package sessionengine drives one session through the stage pipeline: it
// is the component that actually consults StageMachine, invokes
// AgentRunner, runs PostProcessor passes, and persists the results via
// Store, end to end for one (projectId, featureId) at a time (spec.md
// S4.6).
package sessionengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgepilot/forgepilot/internal/agentrunner"
	"github.com/forgepilot/forgepilot/internal/config"
	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/stagemachine"
	"github.com/forgepilot/forgepilot/internal/store"
)

// Advancer is the subset of queue.Manager's API an Engine needs: a hook to
// release the project's active slot once the session stops running.
// Declared locally (rather than importing the queue package) so
// sessionengine and queue never need to know about each other's types.
type Advancer interface {
	MarkFinished(ctx context.Context, projectID, featureID string)
}

// AgentRunner is the subset of agentrunner.Runner's API Engine depends on.
// *agentrunner.Runner satisfies it; tests supply a fake instead of
// shelling out to a real coding-agent binary.
type AgentRunner interface {
	Run(ctx context.Context, req agentrunner.Request, onChunk func(line string)) (*agentrunner.Result, error)
}

// Deps bundles an Engine's collaborators.
type Deps struct {
	Store     *store.Store
	Bus       *eventbus.Bus
	Runner    AgentRunner
	Processor *postprocess.Processor
	Advancer  Advancer
	Registry  *Registry
	Config    config.Config
	Logger    *slog.Logger
}

// Engine drives exactly one session run at a time; a fresh Engine is
// created per run by the RunnerFactory the QueueManager holds, and it
// registers itself with Deps.Registry for the duration of the run so the
// Gateway can find it.
type Engine struct {
	deps Deps

	session *model.Session
	plan    *model.Plan

	cancel context.CancelFunc
	inbox  chan stagemachine.Event

	stateMu  sync.Mutex
	awaiting bool

	lastConversationAt time.Time
	lastRetryAt        time.Time
	lastFeedback       string
	prAttempts         int
}

// New constructs an Engine ready to Start one session.
func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		deps:  deps,
		inbox: make(chan stagemachine.Event, 1),
	}
}
