package sessionengine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgepilot/forgepilot/internal/agentrunner"
	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/stagemachine"
)

// Start implements queue.Runner: it begins driving session in a background
// goroutine and returns immediately. The goroutine calls
// Deps.Advancer.MarkFinished exactly once, whatever the outcome.
func (e *Engine) Start(ctx context.Context, session *model.Session) {
	runCtx, cancel := context.WithCancel(ctx)
	e.session = session
	e.cancel = cancel
	go e.run(runCtx)
}

// Cancel implements queue.Runner: it asks the run loop to stop at its next
// safe checkpoint. The caller (QueueManager's backout path) is responsible
// for persisting the session's paused/failed status; Cancel only stops the
// loop from doing further work.
func (e *Engine) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.deps.Advancer.MarkFinished(context.Background(), e.session.ProjectID, e.session.FeatureID)

	if e.deps.Registry != nil {
		e.deps.Registry.register(e.session.ProjectID, e.session.FeatureID, e)
		defer e.deps.Registry.unregister(e.session.ProjectID, e.session.FeatureID)
	}

	if plan, err := e.deps.Store.GetPlan(e.session.ProjectID, e.session.FeatureID); err == nil {
		e.plan = plan
	} else {
		e.plan = &model.Plan{ProjectID: e.session.ProjectID, FeatureID: e.session.FeatureID, PlanVersion: 1}
	}

	event := stagemachine.Event{}
	for {
		if ctx.Err() != nil {
			e.deps.Logger.Info("session run stopped", "project", e.session.ProjectID, "feature", e.session.FeatureID, "reason", ctx.Err())
			return
		}

		decision := e.applyDecision(event)

		switch decision.Action {
		case stagemachine.ActionTerminal, stagemachine.ActionFail:
			e.publishTerminal(decision)
			return

		case stagemachine.ActionAwaitHumanInput:
			next, ok := e.waitForCommand(ctx)
			if !ok {
				return
			}
			event = next

		case stagemachine.ActionInvokeAgent:
			e.lastFeedback = event.Feedback
			next, err := e.runStage(ctx)
			if err != nil {
				var limitErr *LimitError
				if errors.As(err, &limitErr) {
					// derivePRCreationEvent already persisted the failed status
					// and reason; nothing left to do but stop the loop.
					e.deps.Logger.Error("session failed: limit exceeded",
						"project", e.session.ProjectID, "feature", e.session.FeatureID, "limit", limitErr.Limit)
					return
				}

				e.session.Status = model.StatusIdle
				e.persistSession()
				e.deps.Logger.Warn("agent invocation failed, awaiting retry or backout",
					"project", e.session.ProjectID, "feature", e.session.FeatureID, "stage", e.session.Stage, "error", err)
				next, ok := e.waitForCommand(ctx)
				if !ok {
					return
				}
				event = next
				continue
			}
			event = next

		default:
			event = stagemachine.Event{}
		}
	}
}

// applyDecision consults StageMachine, persists the resulting stage and
// status, and publishes the matching eventbus events.
func (e *Engine) applyDecision(event stagemachine.Event) stagemachine.Decision {
	decision := stagemachine.Transition(e.session, event)

	e.session.ReplanningCount = stagemachine.NextReplanningCount(e.session, event)
	stageChanged := e.session.Stage != decision.NextStage
	e.session.Stage = decision.NextStage
	e.session.Status = decision.NextStatus
	e.session.UpdatedAt = time.Now()
	if decision.Action == stagemachine.ActionFail {
		e.session.FailureReason = decision.Reason
	}

	e.persistSession()

	if stageChanged {
		e.publish(eventbus.KindStageChanged, decision)
	}
	e.publish(eventbus.KindExecutionStatus, decision)

	return decision
}

func (e *Engine) publish(kind eventbus.Kind, decision stagemachine.Decision) {
	if e.deps.Bus == nil {
		return
	}
	_ = e.deps.Bus.Publish(eventbus.SessionTopic(e.session.ProjectID, e.session.FeatureID), eventbus.Event{
		Kind:      kind,
		ProjectID: e.session.ProjectID,
		FeatureID: e.session.FeatureID,
		Payload: map[string]any{
			"stage":  e.session.Stage.String(),
			"status": e.session.Status,
			"reason": decision.Reason,
		},
		At: time.Now(),
	})
}

func (e *Engine) publishTerminal(decision stagemachine.Decision) {
	if e.deps.Bus == nil {
		return
	}
	_ = e.deps.Bus.Publish(eventbus.SessionTopic(e.session.ProjectID, e.session.FeatureID), eventbus.Event{
		Kind:      eventbus.KindExecutionStatus,
		ProjectID: e.session.ProjectID,
		FeatureID: e.session.FeatureID,
		Payload:   e.session,
		At:        time.Now(),
	})
}

func (e *Engine) publishPlanUpdated() {
	if e.deps.Bus == nil {
		return
	}
	_ = e.deps.Bus.Publish(eventbus.SessionTopic(e.session.ProjectID, e.session.FeatureID), eventbus.Event{
		Kind:      eventbus.KindPlanUpdated,
		ProjectID: e.session.ProjectID,
		FeatureID: e.session.FeatureID,
		Payload:   e.plan,
		At:        time.Now(),
	})
}

func (e *Engine) publishQuestionsBatch(questions []model.Question) {
	if e.deps.Bus == nil || len(questions) == 0 {
		return
	}
	_ = e.deps.Bus.Publish(eventbus.SessionTopic(e.session.ProjectID, e.session.FeatureID), eventbus.Event{
		Kind:      eventbus.KindQuestionsBatch,
		ProjectID: e.session.ProjectID,
		FeatureID: e.session.FeatureID,
		Payload:   questions,
		At:        time.Now(),
	})
}

// publishStepEvent fires step.started or step.completed for stepID, paired
// with an implementation.progress snapshot of the whole plan so a
// subscriber can render overall completion without a separate fetch.
func (e *Engine) publishStepEvent(kind eventbus.Kind, stepID string) {
	if e.deps.Bus == nil {
		return
	}
	topic := eventbus.SessionTopic(e.session.ProjectID, e.session.FeatureID)
	_ = e.deps.Bus.Publish(topic, eventbus.Event{
		Kind:      kind,
		ProjectID: e.session.ProjectID,
		FeatureID: e.session.FeatureID,
		Payload:   map[string]any{"stepId": stepID},
		At:        time.Now(),
	})
	_ = e.deps.Bus.Publish(topic, eventbus.Event{
		Kind:      eventbus.KindImplementationProgress,
		ProjectID: e.session.ProjectID,
		FeatureID: e.session.FeatureID,
		Payload:   e.plan,
		At:        time.Now(),
	})
}

func (e *Engine) persistSession() {
	if err := e.deps.Store.PutSession(e.session); err != nil {
		e.deps.Logger.Error("failed to persist session", "project", e.session.ProjectID, "feature", e.session.FeatureID, "error", err)
	}
}

// waitForCommand blocks until either an externally-submitted Event arrives
// on the inbox or ctx is cancelled. Engine's awaiting flag is what the
// public command methods (AnswerQuestions, ApprovePlan, ...) check before
// accepting input, so a stray command doesn't get silently dropped.
func (e *Engine) waitForCommand(ctx context.Context) (stagemachine.Event, bool) {
	e.setAwaiting(true)
	defer e.setAwaiting(false)

	select {
	case ev := <-e.inbox:
		return ev, true
	case <-ctx.Done():
		return stagemachine.Event{}, false
	}
}

func (e *Engine) setAwaiting(v bool) {
	e.stateMu.Lock()
	e.awaiting = v
	e.stateMu.Unlock()
}

func (e *Engine) isAwaiting() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.awaiting
}

// submit delivers ev to the run loop's inbox, failing with
// ErrNotAwaitingInput if the loop is not currently blocked for input --
// this is what lets the Gateway return 409 instead of silently queuing a
// command the session wasn't ready for.
func (e *Engine) submit(ev stagemachine.Event) error {
	if !e.isAwaiting() {
		return ErrNotAwaitingInput
	}
	select {
	case e.inbox <- ev:
		return nil
	default:
		return ErrNotAwaitingInput
	}
}

// runStage invokes the agent for the session's current stage, runs the
// stage's postprocessing passes, and derives the Event that should drive
// the next StageMachine consultation.
func (e *Engine) runStage(ctx context.Context) (stagemachine.Event, error) {
	questions, err := e.deps.Store.ListQuestions(e.session.ProjectID, e.session.FeatureID)
	if err != nil {
		questions = nil
	}
	prompt, err := buildPrompt(e.session, e.plan, questions, e.lastFeedback)
	if err != nil {
		return stagemachine.Event{}, err
	}

	entryID := ulid.Make().String()
	started := model.ConversationEntry{
		ID:        entryID,
		Stage:     e.session.Stage,
		Timestamp: time.Now(),
		Prompt:    prompt,
		Status:    model.ConversationStarted,
	}
	_ = e.deps.Store.AppendConversation(e.session.ProjectID, e.session.FeatureID, started)

	req := agentrunner.Request{
		Stage:          e.session.Stage,
		Prompt:         prompt,
		WorkDir:        e.session.ProjectPath,
		AgentSessionID: e.session.AgentSessionID,
	}

	onChunk := func(line string) {
		if e.deps.Bus == nil {
			return
		}
		_ = e.deps.Bus.Publish(eventbus.SessionTopic(e.session.ProjectID, e.session.FeatureID), eventbus.Event{
			Kind:      eventbus.KindClaudeOutput,
			ProjectID: e.session.ProjectID,
			FeatureID: e.session.FeatureID,
			Payload:   line,
			At:        time.Now(),
		})
	}

	stageCtx := ctx
	if d, ok := e.deps.Config.StageTimeouts[e.session.Stage]; ok && d > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, runErr := e.deps.Runner.Run(stageCtx, req, onChunk)
	e.lastConversationAt = time.Now()

	completed := model.ConversationEntry{
		ID:        ulid.Make().String(),
		Stage:     e.session.Stage,
		Timestamp: time.Now(),
		Output:    result.Output,
		CostUsd:   result.CostUsd,
		Status:    model.ConversationCompleted,
	}
	if runErr != nil || !result.Success() {
		completed.Status = model.ConversationInterrupted
		completed.IsError = true
		if runErr != nil {
			completed.Error = runErr.Error()
		} else {
			completed.Error = string(result.Outcome)
		}
		_ = e.deps.Store.AppendConversation(e.session.ProjectID, e.session.FeatureID, completed)
		if runErr != nil {
			return stagemachine.Event{}, runErr
		}
		return stagemachine.Event{}, errors.New("agentrunner: " + string(result.Outcome))
	}
	_ = e.deps.Store.AppendConversation(e.session.ProjectID, e.session.FeatureID, completed)

	if token, ok := extractAgentSessionID(result.Structured); ok {
		e.session.AgentSessionID = token
	}

	results, err := e.deps.Processor.RunAll(ctx, tagsForStage(e.session.Stage), postprocess.Input{
		Session:    e.session,
		Plan:       e.plan,
		Output:     result.Output,
		Structured: result.Structured,
	})
	if err != nil {
		return stagemachine.Event{}, err
	}

	return e.deriveNextEvent(results)
}

// tagsForStage names which postprocessing passes run after a given stage's
// agent invocation (spec.md S4.4); stage 6 (final approval) is human-only
// and never invokes an agent, so it has no entry.
func tagsForStage(stage model.Stage) []model.PostProcessingTag {
	switch stage {
	case model.StageDiscovery:
		return []model.PostProcessingTag{model.TagQuestionExtraction, model.TagPlanStepExtraction}
	case model.StagePlanReview:
		return []model.PostProcessingTag{model.TagPlanStepExtraction}
	case model.StageImplementation:
		return []model.PostProcessingTag{model.TagTestAssessment, model.TagImplementationStatusExtract, model.TagCommitMessageGeneration}
	case model.StagePRCreation:
		return []model.PostProcessingTag{model.TagPRInfoExtraction}
	case model.StagePRReview:
		return []model.PostProcessingTag{model.TagReviewFindingsExtraction, model.TagIncompleteSteps}
	default:
		return nil
	}
}

// extractAgentSessionID reads an opaque resume token the underlying coding
// agent reported in its structured envelope, so a later retry can resume
// the same conversation rather than starting cold (spec.md S4.6).
func extractAgentSessionID(structured json.RawMessage) (string, bool) {
	if len(structured) == 0 {
		return "", false
	}
	var envelope struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(structured, &envelope); err != nil || envelope.SessionID == "" {
		return "", false
	}
	return envelope.SessionID, true
}

func resultFor(results []postprocess.Result, tag model.PostProcessingTag) (postprocess.Result, bool) {
	for _, r := range results {
		if r.Tag == tag {
			return r, true
		}
	}
	return postprocess.Result{}, false
}

func unansweredQuestions(questions []model.Question) []model.Question {
	var out []model.Question
	for _, q := range questions {
		if !q.IsAnswered() {
			out = append(out, q)
		}
	}
	return out
}
