package postprocess

import (
	"context"
	"time"

	"github.com/forgepilot/forgepilot/internal/model"
)

// TestAssessmentResult is the Data payload of a TagTestAssessment Result.
type TestAssessmentResult struct {
	AllPassed  bool     `json:"allPassed"`
	Failures   []string `json:"failures,omitempty"`
	Suite      string   `json:"suite,omitempty"`
}

type testAssessmentOutput struct {
	AllPassed bool     `json:"allPassed"`
	Failures  []string `json:"failures"`
	Suite     string   `json:"suite"`
}

// TestAssessmentAssessor reads a test-run summary out of a QA-stage agent's
// output. Absent or unparseable input is treated as a failing run: an
// unreported test suite is never treated as a passing one.
type TestAssessmentAssessor struct{}

func (TestAssessmentAssessor) Tag() model.PostProcessingTag { return model.TagTestAssessment }

func (a TestAssessmentAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *testAssessmentOutput) bool { return true })
	if !ok {
		return Result{
			Tag: a.Tag(), Ok: true, Fallback: true,
			Note: "no test summary found in agent output",
			Data: TestAssessmentResult{AllPassed: false, Failures: []string{"no test results reported"}},
		}, nil
	}
	return Result{Tag: a.Tag(), Ok: true, Data: TestAssessmentResult{
		AllPassed: parsed.AllPassed, Failures: parsed.Failures, Suite: parsed.Suite,
	}}, nil
}

// QuestionExtractionResult is the Data payload of a TagQuestionExtraction Result.
type QuestionExtractionResult struct {
	Questions []model.Question `json:"questions"`
}

type questionExtractionOutput struct {
	Questions []struct {
		Text    string                 `json:"text"`
		Options []model.QuestionOption `json:"options"`
	} `json:"questions"`
}

// QuestionExtractionAssessor pulls clarifying questions the primary agent
// raised mid-stage out of its free-form output.
type QuestionExtractionAssessor struct{}

func (QuestionExtractionAssessor) Tag() model.PostProcessingTag { return model.TagQuestionExtraction }

func (a QuestionExtractionAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *questionExtractionOutput) bool { return len(v.Questions) > 0 })
	if !ok {
		return Result{Tag: a.Tag(), Ok: true, Data: QuestionExtractionResult{}}, nil
	}

	now := time.Now()
	stage := model.StageDiscovery
	if in.Session != nil {
		stage = in.Session.Stage
	}

	questions := make([]model.Question, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		questions = append(questions, model.Question{
			Stage:        stage,
			QuestionText: q.Text,
			Options:      q.Options,
			AskedAt:      now,
		})
	}
	return Result{Tag: a.Tag(), Ok: true, Data: QuestionExtractionResult{Questions: questions}}, nil
}

// PlanStepExtractionResult is the Data payload of a TagPlanStepExtraction Result.
type PlanStepExtractionResult struct {
	Steps []model.PlanStep `json:"steps"`
}

type planStepExtractionOutput struct {
	Steps []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Complexity  string `json:"complexity"`
	} `json:"steps"`
}

// PlanStepExtractionAssessor turns Stage 2's narrative plan into the
// ordered PlanStep list the rest of the pipeline tracks progress against.
type PlanStepExtractionAssessor struct{}

func (PlanStepExtractionAssessor) Tag() model.PostProcessingTag { return model.TagPlanStepExtraction }

func (a PlanStepExtractionAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *planStepExtractionOutput) bool { return len(v.Steps) > 0 })
	if !ok {
		return Result{Tag: a.Tag(), Ok: false, Note: "no plan steps found in agent output"}, nil
	}

	steps := make([]model.PlanStep, 0, len(parsed.Steps))
	for i, s := range parsed.Steps {
		complexity := model.Complexity(s.Complexity)
		if complexity == "" {
			complexity = model.ComplexityMedium
		}
		steps = append(steps, model.PlanStep{
			OrderIndex:  i,
			Title:       s.Title,
			Description: s.Description,
			Complexity:  complexity,
			Status:      model.StepPending,
		})
	}
	return Result{Tag: a.Tag(), Ok: true, Data: PlanStepExtractionResult{Steps: steps}}, nil
}

// PRInfoResult is the Data payload of a TagPRInfoExtraction Result.
type PRInfoResult struct {
	URL    string `json:"url"`
	Number int    `json:"number,omitempty"`
}

type prInfoOutput struct {
	URL    string `json:"prUrl"`
	Number int    `json:"prNumber"`
}

// PRInfoExtractionAssessor pulls the pull request URL a Stage 4 agent
// reports creating.
type PRInfoExtractionAssessor struct{}

func (PRInfoExtractionAssessor) Tag() model.PostProcessingTag { return model.TagPRInfoExtraction }

func (a PRInfoExtractionAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *prInfoOutput) bool { return v.URL != "" })
	if !ok {
		return Result{Tag: a.Tag(), Ok: false, Note: "no PR URL found in agent output"}, nil
	}
	return Result{Tag: a.Tag(), Ok: true, Data: PRInfoResult{URL: parsed.URL, Number: parsed.Number}}, nil
}

// ImplementationStatusResult is the Data payload of a
// TagImplementationStatusExtraction Result.
type ImplementationStatusResult struct {
	Complete bool   `json:"complete"`
	Summary  string `json:"summary,omitempty"`
}

type implementationStatusOutput struct {
	Complete bool   `json:"complete"`
	Summary  string `json:"summary"`
}

// ImplementationStatusExtractionAssessor reads whether the implementation
// agent believes it finished the current step. Unparseable output is
// treated as incomplete.
type ImplementationStatusExtractionAssessor struct{}

func (ImplementationStatusExtractionAssessor) Tag() model.PostProcessingTag {
	return model.TagImplementationStatusExtract
}

func (a ImplementationStatusExtractionAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *implementationStatusOutput) bool { return true })
	if !ok {
		return Result{
			Tag: a.Tag(), Ok: true, Fallback: true,
			Note: "no status object found, treating as incomplete",
			Data: ImplementationStatusResult{Complete: false},
		}, nil
	}
	return Result{Tag: a.Tag(), Ok: true, Data: ImplementationStatusResult{
		Complete: parsed.Complete, Summary: parsed.Summary,
	}}, nil
}

// TestResultsResult is the Data payload of a TagTestResultsExtraction Result.
type TestResultsResult struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

type testResultsOutput struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// TestResultsExtractionAssessor pulls pass/fail counts separately from
// TestAssessment's pass/fail verdict, for reporting in the Gateway.
type TestResultsExtractionAssessor struct{}

func (TestResultsExtractionAssessor) Tag() model.PostProcessingTag { return model.TagTestResultsExtraction }

func (a TestResultsExtractionAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *testResultsOutput) bool { return v.Passed+v.Failed > 0 })
	if !ok {
		return Result{Tag: a.Tag(), Ok: false, Note: "no test counts found in agent output"}, nil
	}
	return Result{Tag: a.Tag(), Ok: true, Data: TestResultsResult{
		Passed: parsed.Passed, Failed: parsed.Failed, Total: parsed.Passed + parsed.Failed,
	}}, nil
}

// ReviewFindingsResult is the Data payload of a TagReviewFindingsExtraction Result.
type ReviewFindingsResult struct {
	Findings []string `json:"findings"`
}

type reviewFindingsOutput struct {
	Findings []string `json:"findings"`
}

// ReviewFindingsExtractionAssessor pulls a PR-review agent's list of
// concrete findings for presentation alongside its approve/reject decision.
type ReviewFindingsExtractionAssessor struct{}

func (ReviewFindingsExtractionAssessor) Tag() model.PostProcessingTag {
	return model.TagReviewFindingsExtraction
}

func (a ReviewFindingsExtractionAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *reviewFindingsOutput) bool { return len(v.Findings) > 0 })
	if !ok {
		return Result{Tag: a.Tag(), Ok: true, Data: ReviewFindingsResult{}}, nil
	}
	return Result{Tag: a.Tag(), Ok: true, Data: ReviewFindingsResult{Findings: parsed.Findings}}, nil
}

// CommitMessageResult is the Data payload of a TagCommitMessageGeneration Result.
type CommitMessageResult struct {
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

type commitMessageOutput struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CommitMessageGenerationAssessor reads the commit message an implementation
// agent proposed for its change set. A missing subject falls back to the
// session title so a commit is never left without a message.
type CommitMessageGenerationAssessor struct{}

func (CommitMessageGenerationAssessor) Tag() model.PostProcessingTag {
	return model.TagCommitMessageGeneration
}

func (a CommitMessageGenerationAssessor) Run(ctx context.Context, in Input) (Result, error) {
	parsed, ok := FirstMatching(in.Output, func(v *commitMessageOutput) bool { return v.Subject != "" })
	if !ok {
		subject := "Implement changes"
		if in.Session != nil && in.Session.Title != "" {
			subject = in.Session.Title
		}
		return Result{
			Tag: a.Tag(), Ok: true, Fallback: true,
			Note: "no commit message found, falling back to session title",
			Data: CommitMessageResult{Subject: subject},
		}, nil
	}
	return Result{Tag: a.Tag(), Ok: true, Data: CommitMessageResult{Subject: parsed.Subject, Body: parsed.Body}}, nil
}

// SummaryResult is the Data payload of a TagSummaryGeneration Result.
type SummaryResult struct {
	Summary string `json:"summary"`
}

// SummaryGenerationAssessor extracts a human-readable summary of the stage's
// outcome, falling back to a truncated copy of the raw output when no
// structured summary block is present.
type SummaryGenerationAssessor struct{}

func (SummaryGenerationAssessor) Tag() model.PostProcessingTag { return model.TagSummaryGeneration }

func (a SummaryGenerationAssessor) Run(ctx context.Context, in Input) (Result, error) {
	type summaryOutput struct {
		Summary string `json:"summary"`
	}
	parsed, ok := FirstMatching(in.Output, func(v *summaryOutput) bool { return v.Summary != "" })
	if ok {
		return Result{Tag: a.Tag(), Ok: true, Data: SummaryResult{Summary: parsed.Summary}}, nil
	}

	fallback := in.Output
	const maxLen = 500
	if len(fallback) > maxLen {
		fallback = fallback[:maxLen] + "..."
	}
	return Result{
		Tag: a.Tag(), Ok: true, Fallback: true,
		Note: "no structured summary found, truncating raw output",
		Data: SummaryResult{Summary: fallback},
	}, nil
}
