package sessionengine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/stagemachine"
)

// deriveNextEvent turns one stage's postprocessing results into the Event
// that drives the following StageMachine consultation, persisting whatever
// artifacts (plan, questions, PR info) the passes extracted along the way.
func (e *Engine) deriveNextEvent(results []postprocess.Result) (stagemachine.Event, error) {
	switch e.session.Stage {
	case model.StageDiscovery:
		return e.deriveDiscoveryEvent(results)
	case model.StagePlanReview:
		return e.derivePlanReviewEvent(results)
	case model.StageImplementation:
		return e.deriveImplementationEvent(results)
	case model.StagePRCreation:
		return e.derivePRCreationEvent(results)
	case model.StagePRReview:
		return e.derivePRReviewEvent(results)
	default:
		return stagemachine.Event{}, nil
	}
}

func (e *Engine) deriveDiscoveryEvent(results []postprocess.Result) (stagemachine.Event, error) {
	if r, ok := resultFor(results, model.TagQuestionExtraction); ok {
		if qr, ok := r.Data.(postprocess.QuestionExtractionResult); ok {
			for i := range qr.Questions {
				if qr.Questions[i].ID == "" {
					qr.Questions[i].ID = uuid.New().String()
				}
				qr.Questions[i].AskedAt = time.Now()
				if err := e.deps.Store.UpsertQuestion(e.session.ProjectID, e.session.FeatureID, qr.Questions[i]); err != nil {
					return stagemachine.Event{}, err
				}
			}
			if len(qr.Questions) > 0 {
				e.publishQuestionsBatch(qr.Questions)
				return stagemachine.Event{Kind: stagemachine.EventQuestionsPending}, nil
			}
		}
	}

	existing, err := e.deps.Store.ListQuestions(e.session.ProjectID, e.session.FeatureID)
	if err == nil && len(unansweredQuestions(existing)) > 0 {
		return stagemachine.Event{Kind: stagemachine.EventQuestionsPending}, nil
	}

	if r, ok := resultFor(results, model.TagPlanStepExtraction); ok && r.Ok {
		if pr, ok := r.Data.(postprocess.PlanStepExtractionResult); ok && len(pr.Steps) > 0 {
			e.plan.Steps = pr.Steps
			e.plan.UpdatedAt = time.Now()
			if err := e.deps.Store.PutPlan(e.plan); err != nil {
				return stagemachine.Event{}, err
			}
			e.publishPlanUpdated()
			return stagemachine.Event{Kind: stagemachine.EventDiscoveryReady}, nil
		}
	}

	// Neither a plan nor new questions came out of this pass: discovery is
	// still gathering context, so loop the agent again.
	return stagemachine.Event{}, nil
}

func (e *Engine) derivePlanReviewEvent(results []postprocess.Result) (stagemachine.Event, error) {
	if r, ok := resultFor(results, model.TagPlanStepExtraction); ok && r.Ok {
		if pr, ok := r.Data.(postprocess.PlanStepExtractionResult); ok && len(pr.Steps) > 0 {
			e.plan.Steps = pr.Steps
			e.plan.PlanVersion++
			e.plan.UpdatedAt = time.Now()
			if err := e.deps.Store.PutPlan(e.plan); err != nil {
				return stagemachine.Event{}, err
			}
			e.publishPlanUpdated()
		}
	}
	// A zero-value Event leaves the session in plan_review awaiting the
	// human's approve/request-changes decision, per StageMachine's default.
	return stagemachine.Event{}, nil
}

func (e *Engine) deriveImplementationEvent(results []postprocess.Result) (stagemachine.Event, error) {
	step := nextRunnableStep(e.plan)
	if step == nil {
		return stagemachine.Event{Kind: stagemachine.EventAllStepsDone}, nil
	}

	testsOk := true
	if r, ok := resultFor(results, model.TagTestAssessment); ok {
		if tr, ok := r.Data.(postprocess.TestAssessmentResult); ok {
			testsOk = tr.AllPassed
		}
	}

	complete := false
	if r, ok := resultFor(results, model.TagImplementationStatusExtract); ok {
		if ir, ok := r.Data.(postprocess.ImplementationStatusResult); ok {
			complete = ir.Complete
		}
	}

	switch {
	case complete && testsOk:
		step.Status = model.StepCompleted
	case complete && !testsOk:
		step.Status = model.StepNeedsReview
	default:
		step.Status = model.StepInProgress
	}

	e.plan.UpdatedAt = time.Now()
	if err := e.deps.Store.PutPlan(e.plan); err != nil {
		return stagemachine.Event{}, err
	}

	if step.Status == model.StepCompleted {
		e.publishStepEvent(eventbus.KindStepCompleted, step.ID)
	} else {
		e.publishStepEvent(eventbus.KindStepStarted, step.ID)
	}

	if nextRunnableStep(e.plan) == nil {
		return stagemachine.Event{Kind: stagemachine.EventAllStepsDone}, nil
	}
	return stagemachine.Event{Kind: stagemachine.EventStepAdvanced, StepID: step.ID}, nil
}

func (e *Engine) derivePRCreationEvent(results []postprocess.Result) (stagemachine.Event, error) {
	if r, ok := resultFor(results, model.TagPRInfoExtraction); ok && r.Ok {
		if pi, ok := r.Data.(postprocess.PRInfoResult); ok && pi.URL != "" {
			e.session.PRUrl = pi.URL
			e.prAttempts = 0
			return stagemachine.Event{Kind: stagemachine.EventPRCreated, PRUrl: pi.URL}, nil
		}
	}

	e.prAttempts++
	if e.prAttempts >= stagemachine.MaxPRCreationAttempts {
		e.session.Status = model.StatusFailed
		e.session.FailureReason = "pull request creation failed after the maximum number of attempts"
		e.persistSession()
		return stagemachine.Event{}, &LimitError{Limit: "pr_creation_attempts", Max: stagemachine.MaxPRCreationAttempts}
	}
	return stagemachine.Event{Kind: stagemachine.EventPRCreationFailed}, nil
}

// derivePRReviewEvent decides clean-vs-plan-changes from the review's own
// extracted findings: no findings means nothing blocks approval, any
// finding means the plan needs another round. When it demands plan
// changes, the incomplete_steps pass that ran alongside the review is
// applied to the plan so steps the review calls into question go back to
// needs_review rather than staying marked completed (spec.md S4.5, S8's S7).
func (e *Engine) derivePRReviewEvent(results []postprocess.Result) (stagemachine.Event, error) {
	var findings []string
	if r, ok := resultFor(results, model.TagReviewFindingsExtraction); ok && r.Ok {
		if fr, ok := r.Data.(postprocess.ReviewFindingsResult); ok {
			findings = fr.Findings
		}
	}

	if len(findings) == 0 {
		return stagemachine.Event{Kind: stagemachine.EventReviewClean}, nil
	}

	affected, err := e.applyIncompleteSteps(results)
	if err != nil {
		return stagemachine.Event{}, err
	}

	return stagemachine.Event{
		Kind:          stagemachine.EventReviewPlanChanges,
		Feedback:      "PR review found issues: " + strings.Join(findings, "; "),
		AffectedSteps: affected,
	}, nil
}

// applyIncompleteSteps reads the plan_changes path's incomplete_steps
// result and pushes every named step to the status the pass assigned it,
// returning the same invalidations on the Event for the record.
func (e *Engine) applyIncompleteSteps(results []postprocess.Result) ([]stagemachine.StepInvalidation, error) {
	r, ok := resultFor(results, model.TagIncompleteSteps)
	if !ok || !r.Ok {
		return nil, nil
	}
	ir, ok := r.Data.(postprocess.IncompleteStepsResult)
	if !ok {
		return nil, nil
	}

	byID := make(map[string]*model.PlanStep, len(e.plan.Steps))
	for i := range e.plan.Steps {
		byID[e.plan.Steps[i].ID] = &e.plan.Steps[i]
	}

	var affected []stagemachine.StepInvalidation
	for _, a := range ir.Assessments {
		step, ok := byID[a.StepID]
		if !ok {
			continue
		}
		step.Status = a.Status
		affected = append(affected, stagemachine.StepInvalidation{StepID: a.StepID, Status: a.Status})
	}

	if len(affected) == 0 {
		return nil, nil
	}
	e.plan.UpdatedAt = time.Now()
	if err := e.deps.Store.PutPlan(e.plan); err != nil {
		return nil, err
	}
	e.publishPlanUpdated()
	return affected, nil
}

// nextRunnableStep returns the first step, in orderIndex order, whose
// status is pending or in_progress; nil means every step has reached a
// terminal status (completed or skipped) or is stuck needing review.
func nextRunnableStep(plan *model.Plan) *model.PlanStep {
	if plan == nil {
		return nil
	}
	var best *model.PlanStep
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Status != model.StepPending && s.Status != model.StepInProgress {
			continue
		}
		if best == nil || s.OrderIndex < best.OrderIndex {
			best = s
		}
	}
	return best
}
