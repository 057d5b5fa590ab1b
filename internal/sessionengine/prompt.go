package sessionengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/forgepilot/forgepilot/internal/model"
)

// templateFuncs mirrors the teacher's agents/spawner.go helper set, kept
// the same shape so a reader moving between the two codebases recognizes
// the idiom immediately.
var templateFuncs = template.FuncMap{
	"title": cases.Title(language.English).String,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
}

// promptData is what gets rendered into a stage's agent prompt.
type promptData struct {
	Stage              string
	Title              string
	Description        string
	AcceptanceCriteria []string
	BaseBranch         string
	FeatureBranch      string
	PlanJSON           string
	OpenQuestions      []model.Question
	Feedback           string
	Preferences        model.Preferences
}

// stageTemplates holds one text/template body per stage, grounded on the
// teacher's per-agent-type `<agentType>.md` files but inlined here since
// this service has no prompts directory of its own to read from disk.
var stageTemplates = map[model.Stage]string{
	model.StageDiscovery: `You are running the discovery stage for "{{.Title}}".

Description:
{{.Description}}

Acceptance criteria:
{{range .AcceptanceCriteria}}- {{.}}
{{end}}
Preferences: risk={{.Preferences.RiskComfort}}, speed/quality={{.Preferences.SpeedVsQuality}}, scope={{.Preferences.ScopeFlexibility}}, detail={{.Preferences.DetailLevel}}, autonomy={{.Preferences.AutonomyLevel}}.

{{if .OpenQuestions}}Previously raised questions and their answers:
{{range .OpenQuestions}}- {{.QuestionText}}{{if .Answer}} -> {{.Answer}}{{end}}
{{end}}{{end}}
Explore the codebase, ask any clarifying questions you still need, and
propose an ordered implementation plan as a fenced {{"```"}}json block with a
"steps" array (title, description, complexity). If you have unanswered
questions, emit them as a fenced {{"```"}}json block with a "questions" array
instead of a plan.`,

	model.StagePlanReview: `You are revising the implementation plan for "{{.Title}}" on
branch {{.FeatureBranch}} (base {{.BaseBranch}}).

{{if .Feedback}}The reviewer requested changes: {{.Feedback}}{{end}}

Current plan:
{{.PlanJSON}}

Produce a revised ordered plan as a fenced {{"```"}}json block with a "steps"
array (title, description, complexity).`,

	model.StageImplementation: `You are implementing the next step of "{{.Title}}" on branch
{{.FeatureBranch}}.

Plan:
{{.PlanJSON}}

Implement the next pending step only. When finished, report whether the
step's own tests pass as a fenced {{"```"}}json block {"allPassed": bool,
"failures": [...], "suite": "..."}, whether the step is complete as
{"complete": bool, "summary": "..."}, and propose a commit message as
{"subject": "...", "body": "..."}.`,

	model.StagePRCreation: `All implementation steps for "{{.Title}}" are done. Open a pull
request from {{.FeatureBranch}} into {{.BaseBranch}} and report the result as
a fenced {{"```"}}json block {"prUrl": "...", "prNumber": N}.`,

	model.StagePRReview: `Review the pull request for "{{.Title}}" against its acceptance
criteria:
{{range .AcceptanceCriteria}}- {{.}}
{{end}}
{{if .Feedback}}Focus on: {{.Feedback}}{{end}}

Report your findings as a fenced {{"```"}}json block {"findings": [...]} and
your decision as {"decision": "approve"|"reject", "reason": "..."}.`,
}

// buildPrompt renders the prompt for the session's current stage.
func buildPrompt(session *model.Session, plan *model.Plan, questions []model.Question, feedback string) (string, error) {
	body, ok := stageTemplates[session.Stage]
	if !ok {
		return "", fmt.Errorf("sessionengine: no prompt template for stage %s", session.Stage)
	}

	data := promptData{
		Stage:              session.Stage.String(),
		Title:              session.Title,
		Description:        session.Description,
		AcceptanceCriteria: session.AcceptanceCriteria,
		BaseBranch:         session.BaseBranch,
		FeatureBranch:      session.FeatureBranch,
		OpenQuestions:      questions,
		Feedback:           feedback,
		Preferences:        session.Preferences,
	}
	if plan != nil {
		planJSON, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return "", fmt.Errorf("sessionengine: marshal plan for prompt: %w", err)
		}
		data.PlanJSON = string(planJSON)
	}

	tmpl, err := template.New("prompt").Funcs(templateFuncs).Parse(body)
	if err != nil {
		return "", fmt.Errorf("sessionengine: parse prompt template for stage %s: %w", session.Stage, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("sessionengine: render prompt for stage %s: %w", session.Stage, err)
	}
	return buf.String(), nil
}
