// Package postprocess runs the fixed secondary passes that turn a primary
// agent's free-form output into the structured data the StageMachine and
// Store need: validated decisions, extracted questions, plan steps, PR
// metadata, and so on (spec.md S4.4). Each pass parses the output it is
// given in process; none of them invokes an agent or a model.
package postprocess

import (
	"context"
	"encoding/json"

	"github.com/forgepilot/forgepilot/internal/model"
)

// Input bundles what an Assessor needs to examine one primary agent run.
type Input struct {
	Session    *model.Session
	Plan       *model.Plan
	Output     string          // the primary agent's raw stdout
	Structured json.RawMessage // the trailing structured object, if the primary agent produced one

	// Questions carries the batch of just-answered questions decision_validation
	// validates; unused by every other Assessor.
	Questions []model.Question
}

// Result is what an Assessor pass hands back to the SessionEngine.
type Result struct {
	Tag     model.PostProcessingTag
	Data    any
	Ok      bool   // false if the pass could not reach a confident conclusion
	Fallback bool  // true if Ok was reached via a conservative fallback, not a genuine read
	Note    string
}

// Assessor implements one fixed postprocessing pass. Every Assessor must
// degrade conservatively: when its input is ambiguous or missing, it must
// favor the interpretation that routes work back to a human rather than one
// that silently marks things done (spec.md S4.4).
type Assessor interface {
	Tag() model.PostProcessingTag
	Run(ctx context.Context, in Input) (Result, error)
}
