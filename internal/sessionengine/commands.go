package sessionengine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/stagemachine"
)

// AnswerQuestions records answers for the named questions, validates each
// newly-answered one through decision_validation, and, if every outstanding
// question for the session is now answered, wakes the run loop. Matches
// `POST .../questions/answers` (spec.md S6).
func (e *Engine) AnswerQuestions(ctx context.Context, answers map[string]string, remarks string) error {
	questions, err := e.deps.Store.ListQuestions(e.session.ProjectID, e.session.FeatureID)
	if err != nil {
		return err
	}

	now := time.Now()
	var newlyAnswered []model.Question
	for i := range questions {
		q := &questions[i]
		answer, ok := answers[q.ID]
		if !ok || q.IsAnswered() {
			continue
		}
		q.Answer = &answer
		q.AnsweredAt = &now
		if err := e.deps.Store.UpsertQuestion(e.session.ProjectID, e.session.FeatureID, *q); err != nil {
			return err
		}
		newlyAnswered = append(newlyAnswered, *q)
	}

	if err := e.validateAnswers(ctx, newlyAnswered); err != nil {
		return err
	}

	questions, err = e.deps.Store.ListQuestions(e.session.ProjectID, e.session.FeatureID)
	if err != nil {
		return err
	}
	if len(unansweredQuestions(questions)) > 0 {
		// Still missing answers (either never submitted, or just filtered
		// back open by validation): leave the session awaiting input, but
		// the caller gets a clean success since partial answers are allowed.
		return nil
	}

	event := stagemachine.Event{Feedback: remarks}
	switch e.session.Stage {
	case model.StageDiscovery:
		// Discovery is ready only once a plan has been extracted as well;
		// without one the discovery agent runs again with the answers.
		if len(e.plan.Steps) > 0 {
			event.Kind = stagemachine.EventDiscoveryReady
		} else {
			event.Kind = stagemachine.EventResume
		}
	default:
		event.Kind = stagemachine.EventResume
	}
	return e.submit(event)
}

// validateAnswers runs decision_validation over a just-answered batch,
// recording one ConversationEntry per question tagged with its
// questionIndex, and sends any `filter`-ed question back to unanswered so
// it gets re-asked instead of silently trusted (spec.md S4.4).
func (e *Engine) validateAnswers(ctx context.Context, answered []model.Question) error {
	if len(answered) == 0 || e.deps.Processor == nil {
		return nil
	}

	result, err := e.deps.Processor.Run(ctx, model.TagDecisionValidation, postprocess.Input{
		Session:   e.session,
		Questions: answered,
	})
	if err != nil {
		return err
	}
	dv, ok := result.Data.(postprocess.DecisionValidationResult)
	if !ok {
		return nil
	}

	for _, v := range dv.Validations {
		if v.QuestionIndex < 0 || v.QuestionIndex >= len(answered) {
			continue
		}
		idx := v.QuestionIndex
		entry := model.ConversationEntry{
			ID:                 ulid.Make().String(),
			Stage:              e.session.Stage,
			Timestamp:          time.Now(),
			Status:             model.ConversationCompleted,
			PostProcessingType: model.TagDecisionValidation,
			ValidationAction:   v.Action,
			QuestionIndex:      &idx,
		}
		if err := e.deps.Store.AppendConversation(e.session.ProjectID, e.session.FeatureID, entry); err != nil {
			return err
		}

		if v.Action == "filter" {
			q := answered[idx]
			q.Answer = nil
			q.AnsweredAt = nil
			if err := e.deps.Store.UpsertQuestion(e.session.ProjectID, e.session.FeatureID, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApprovePlan accepts the current plan and advances to implementation.
// Matches `POST .../plan/approve`.
func (e *Engine) ApprovePlan(ctx context.Context) error {
	return e.submit(stagemachine.Event{Kind: stagemachine.EventPlanApproved})
}

// RequestPlanChanges sends the session back through plan review with
// feedback. Matches `POST .../plan/request-changes`.
func (e *Engine) RequestPlanChanges(ctx context.Context, feedback string) error {
	return e.submit(stagemachine.Event{Kind: stagemachine.EventPlanChangesRequested, Feedback: feedback})
}

// Retry re-issues the current stage's agent call, subject to the idle and
// cooldown gates. Matches `POST .../retry`.
func (e *Engine) Retry(ctx context.Context, now time.Time) error {
	if err := e.canRetry(now); err != nil {
		return err
	}
	e.lastRetryAt = now
	return e.submit(stagemachine.Event{Kind: stagemachine.EventResume})
}

// ReReview keeps the session at PR review and re-runs the review pass.
// Matches `POST .../re-review`.
func (e *Engine) ReReview(ctx context.Context, remarks string) error {
	return e.submit(stagemachine.Event{Kind: stagemachine.EventReviewRerequested, Feedback: remarks})
}

// FinalApprovalAction is the body of `POST .../final-approval`.
type FinalApprovalAction string

const (
	FinalApprovalMerge       FinalApprovalAction = "merge"
	FinalApprovalPlanChanges FinalApprovalAction = "plan_changes"
	FinalApprovalReReview    FinalApprovalAction = "re_review"
)

// FinalApproval records the human's final-approval decision.
func (e *Engine) FinalApproval(ctx context.Context, action FinalApprovalAction, feedback string) error {
	var kind stagemachine.EventKind
	switch action {
	case FinalApprovalMerge:
		kind = stagemachine.EventFinalApprovalMerge
	case FinalApprovalPlanChanges:
		kind = stagemachine.EventFinalApprovalChanges
	case FinalApprovalReReview:
		kind = stagemachine.EventFinalApprovalReview
	default:
		return &StateError{Op: "final-approval", Message: "unknown action " + string(action)}
	}
	return e.submit(stagemachine.Event{Kind: kind, Feedback: feedback})
}

// ForceTransition is the debug-only escape hatch of `POST .../transition`:
// it jumps the session directly to targetStage, bypassing StageMachine's
// normal successor rules. Only usable while the session is idle awaiting
// input, never while an agent call is in flight.
func (e *Engine) ForceTransition(ctx context.Context, targetStage model.Stage) error {
	if !e.isAwaiting() {
		return ErrNotAwaitingInput
	}
	e.session.Stage = targetStage
	e.session.Status = stagemachine.Transition(e.session, stagemachine.Event{}).NextStatus
	e.persistSession()
	return e.submit(stagemachine.Event{})
}
