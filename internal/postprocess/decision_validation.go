package postprocess

import (
	"context"
	"strings"

	"github.com/forgepilot/forgepilot/internal/model"
)

// QuestionValidation is one entry of a DecisionValidationResult: the verdict
// decision_validation reached for the question at QuestionIndex.
type QuestionValidation struct {
	QuestionIndex int    `json:"questionIndex"`
	Action        string `json:"action"` // "pass", "filter", or "repurpose"
	Reason        string `json:"reason,omitempty"`
}

// DecisionValidationResult is the Data payload of a TagDecisionValidation
// Result: one QuestionValidation per entry of Input.Questions, in order.
type DecisionValidationResult struct {
	Validations []QuestionValidation `json:"validations"`
}

// DecisionValidationAssessor validates each just-answered question before
// its answer is trusted as context for the next agent invocation: `pass`
// accepts the answer as given, `filter` drops it and sends the question
// back to unanswered for a re-ask, `repurpose` accepts it but flags it for
// reframing at the next stage. Unlike the other passes this one has no
// agent output to parse — the thing being validated is the human's own
// answer — so it reasons directly over the Question rather than scanning
// for a fenced JSON block.
type DecisionValidationAssessor struct{}

func (DecisionValidationAssessor) Tag() model.PostProcessingTag { return model.TagDecisionValidation }

func (a DecisionValidationAssessor) Run(ctx context.Context, in Input) (Result, error) {
	validations := make([]QuestionValidation, len(in.Questions))
	for i, q := range in.Questions {
		action, reason := validateAnswer(q)
		validations[i] = QuestionValidation{QuestionIndex: i, Action: action, Reason: reason}
	}
	return Result{Tag: a.Tag(), Ok: true, Data: DecisionValidationResult{Validations: validations}}, nil
}

// validateAnswer is conservative: a blank or hedging answer is filtered
// back to unanswered rather than trusted, since a false "settled" costs the
// agent a wrong assumption for the rest of the session.
func validateAnswer(q model.Question) (action, reason string) {
	if q.Answer == nil {
		return "filter", "question has no answer to validate"
	}

	answer := strings.TrimSpace(*q.Answer)
	if answer == "" {
		return "filter", "answer was empty"
	}

	lower := strings.ToLower(answer)
	for _, hedge := range []string{"idk", "i don't know", "not sure", "unsure", "n/a", "no idea", "skip this"} {
		if strings.Contains(lower, hedge) {
			return "filter", "answer hedges rather than commits to a decision"
		}
	}

	for _, reframe := range []string{"instead", "but use", "rather than that", "reframe"} {
		if strings.Contains(lower, reframe) {
			return "repurpose", "answer redirects the question rather than answering it directly"
		}
	}

	return "pass", ""
}
