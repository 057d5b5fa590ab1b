package postprocess

import (
	"context"

	"github.com/forgepilot/forgepilot/internal/model"
)

// StepAssessment is the per-step verdict incomplete_steps produces.
type StepAssessment struct {
	StepID string          `json:"stepId"`
	Status model.StepStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// IncompleteStepsResult is the Data payload of a TagIncompleteSteps Result.
type IncompleteStepsResult struct {
	Assessments []StepAssessment `json:"assessments"`
}

type incompleteStepsOutput struct {
	Steps []struct {
		StepID    string `json:"stepId"`
		Completed bool   `json:"completed"`
		Reason    string `json:"reason"`
	} `json:"steps"`
}

// IncompleteStepsAssessor reconciles the plan's step list against what the
// implementation agent claims it finished. A report that parses is used as
// given, with no further consistency check. If the agent's self-report
// can't be parsed, every step already marked
// completed is pushed back to needs_review rather than trusted: a false
// "done" is far more expensive to discover later than an extra human
// glance at a step that was actually fine.
type IncompleteStepsAssessor struct{}

func (IncompleteStepsAssessor) Tag() model.PostProcessingTag { return model.TagIncompleteSteps }

func (a IncompleteStepsAssessor) Run(ctx context.Context, in Input) (Result, error) {
	if in.Plan == nil {
		return Result{Tag: a.Tag(), Ok: false, Note: "no plan to reconcile against"}, nil
	}

	parsed, ok := FirstMatching(in.Output, func(v *incompleteStepsOutput) bool {
		return len(v.Steps) > 0
	})
	if !ok {
		return a.conservativeFallback(in.Plan, "could not parse a steps report from agent output"), nil
	}

	reported := make(map[string]struct {
		completed bool
		reason    string
	}, len(parsed.Steps))
	for _, s := range parsed.Steps {
		reported[s.StepID] = struct {
			completed bool
			reason    string
		}{s.Completed, s.Reason}
	}

	var assessments []StepAssessment
	for _, step := range in.Plan.Steps {
		if step.Status != model.StepCompleted && step.Status != model.StepInProgress {
			continue
		}

		r, found := reported[step.ID]
		switch {
		case !found:
			assessments = append(assessments, StepAssessment{
				StepID: step.ID,
				Status: model.StepNeedsReview,
				Reason: "step not mentioned in agent's completion report",
			})
		case r.completed:
			assessments = append(assessments, StepAssessment{StepID: step.ID, Status: model.StepCompleted})
		default:
			assessments = append(assessments, StepAssessment{
				StepID: step.ID,
				Status: model.StepNeedsReview,
				Reason: r.reason,
			})
		}
	}

	return Result{Tag: a.Tag(), Ok: true, Data: IncompleteStepsResult{Assessments: assessments}}, nil
}

// conservativeFallback marks every step the plan currently believes is
// completed as needs_review, per spec.md S4.4's fallback rule for this pass.
func (a IncompleteStepsAssessor) conservativeFallback(plan *model.Plan, note string) Result {
	var assessments []StepAssessment
	for _, step := range plan.Steps {
		if step.Status != model.StepCompleted {
			continue
		}
		assessments = append(assessments, StepAssessment{
			StepID: step.ID,
			Status: model.StepNeedsReview,
			Reason: note,
		})
	}
	return Result{
		Tag:      a.Tag(),
		Ok:       true,
		Fallback: true,
		Note:     note,
		Data:     IncompleteStepsResult{Assessments: assessments},
	}
}
