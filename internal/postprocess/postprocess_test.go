package postprocess_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
)

func TestIncompleteStepsConservativeFallbackOnUnparseableOutput(t *testing.T) {
	a := postprocess.IncompleteStepsAssessor{}

	plan := &model.Plan{
		Steps: []model.PlanStep{
			{ID: "s1", Status: model.StepCompleted},
			{ID: "s2", Status: model.StepPending},
		},
	}

	result, err := a.Run(context.Background(), postprocess.Input{Plan: plan, Output: "no json here at all"})
	require.NoError(t, err)
	assert.True(t, result.Fallback)

	data := result.Data.(postprocess.IncompleteStepsResult)
	require.Len(t, data.Assessments, 1)
	assert.Equal(t, "s1", data.Assessments[0].StepID)
	assert.Equal(t, model.StepNeedsReview, data.Assessments[0].Status)
}

func TestIncompleteStepsHonorsAgentReport(t *testing.T) {
	a := postprocess.IncompleteStepsAssessor{}
	plan := &model.Plan{
		Steps: []model.PlanStep{
			{ID: "s1", Status: model.StepCompleted},
		},
	}

	output := "done.\n```json\n{\"steps\":[{\"stepId\":\"s1\",\"completed\":true}]}\n```\n"
	result, err := a.Run(context.Background(), postprocess.Input{Plan: plan, Output: output})
	require.NoError(t, err)
	assert.False(t, result.Fallback)

	data := result.Data.(postprocess.IncompleteStepsResult)
	require.Len(t, data.Assessments, 1)
	assert.Equal(t, model.StepCompleted, data.Assessments[0].Status)
}

func TestDecisionValidationFiltersBlankAndHedgingAnswers(t *testing.T) {
	a := postprocess.DecisionValidationAssessor{}
	blank := ""
	hedge := "not sure, up to you"
	questions := []model.Question{
		{ID: "q1", Answer: &blank},
		{ID: "q2", Answer: &hedge},
	}

	result, err := a.Run(context.Background(), postprocess.Input{Questions: questions})
	require.NoError(t, err)

	data := result.Data.(postprocess.DecisionValidationResult)
	require.Len(t, data.Validations, 2)
	assert.Equal(t, "filter", data.Validations[0].Action)
	assert.Equal(t, "filter", data.Validations[1].Action)
	assert.Equal(t, 0, data.Validations[0].QuestionIndex)
	assert.Equal(t, 1, data.Validations[1].QuestionIndex)
}

func TestDecisionValidationPassesCommittedAnswer(t *testing.T) {
	a := postprocess.DecisionValidationAssessor{}
	answer := "Use PostgreSQL for the primary store."
	questions := []model.Question{{ID: "q1", Answer: &answer}}

	result, err := a.Run(context.Background(), postprocess.Input{Questions: questions})
	require.NoError(t, err)

	data := result.Data.(postprocess.DecisionValidationResult)
	require.Len(t, data.Validations, 1)
	assert.Equal(t, "pass", data.Validations[0].Action)
}

func TestDecisionValidationRepurposesRedirectingAnswer(t *testing.T) {
	a := postprocess.DecisionValidationAssessor{}
	answer := "Don't add caching; instead just keep the query simple."
	questions := []model.Question{{ID: "q1", Answer: &answer}}

	result, err := a.Run(context.Background(), postprocess.Input{Questions: questions})
	require.NoError(t, err)

	data := result.Data.(postprocess.DecisionValidationResult)
	require.Len(t, data.Validations, 1)
	assert.Equal(t, "repurpose", data.Validations[0].Action)
}

func TestProcessorDispatchesByTag(t *testing.T) {
	p := postprocess.NewProcessor()

	result, err := p.Run(context.Background(), model.TagPRInfoExtraction, postprocess.Input{
		Output: "```json\n{\"prUrl\":\"https://example.com/pr/1\"}\n```",
	})
	require.NoError(t, err)
	assert.True(t, result.Ok)
}

func TestProcessorRejectsUnknownTag(t *testing.T) {
	p := postprocess.NewProcessor()
	_, err := p.Run(context.Background(), model.PostProcessingTag("not_a_real_tag"), postprocess.Input{})
	assert.Error(t, err)
}

func TestSummaryGenerationFallsBackToTruncatedOutput(t *testing.T) {
	a := postprocess.SummaryGenerationAssessor{}
	result, err := a.Run(context.Background(), postprocess.Input{Output: "plain narrative with no summary block"})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
}
