package postprocess

import (
	"context"
	"fmt"

	"github.com/forgepilot/forgepilot/internal/model"
)

// Processor dispatches a postprocessing pass by tag. It is built once with
// the full fixed set of Assessors and is safe for concurrent use, since
// every Assessor is itself stateless.
type Processor struct {
	assessors map[model.PostProcessingTag]Assessor
}

// NewProcessor wires up every postprocessing tag named in spec.md S4.4.
func NewProcessor() *Processor {
	all := []Assessor{
		DecisionValidationAssessor{},
		IncompleteStepsAssessor{},
		TestAssessmentAssessor{},
		QuestionExtractionAssessor{},
		PlanStepExtractionAssessor{},
		PRInfoExtractionAssessor{},
		ImplementationStatusExtractionAssessor{},
		TestResultsExtractionAssessor{},
		ReviewFindingsExtractionAssessor{},
		CommitMessageGenerationAssessor{},
		SummaryGenerationAssessor{},
	}

	p := &Processor{assessors: make(map[model.PostProcessingTag]Assessor, len(all))}
	for _, a := range all {
		p.assessors[a.Tag()] = a
	}
	return p
}

// Run dispatches in to the Assessor registered for tag.
func (p *Processor) Run(ctx context.Context, tag model.PostProcessingTag, in Input) (Result, error) {
	assessor, ok := p.assessors[tag]
	if !ok {
		return Result{}, fmt.Errorf("postprocess: no assessor registered for tag %q", tag)
	}
	return assessor.Run(ctx, in)
}

// RunAll runs every tag in tags in order and returns their results,
// stopping and returning the error from the first Assessor that fails
// outright (as opposed to merely reaching a conservative fallback, which is
// never an error).
func (p *Processor) RunAll(ctx context.Context, tags []model.PostProcessingTag, in Input) ([]Result, error) {
	results := make([]Result, 0, len(tags))
	for _, tag := range tags {
		r, err := p.Run(ctx, tag, in)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}
