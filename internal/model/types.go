// Package model defines the data entities shared by every component of the
// session pipeline: Session, Plan, Question, ConversationEntry and the
// derived QueueEntry view.
package model

import "time"

// Stage identifies one of the seven fixed pipeline phases.
type Stage int

const (
	StageDiscovery Stage = iota + 1
	StagePlanReview
	StageImplementation
	StagePRCreation
	StagePRReview
	StageFinalApproval
	StageCompleted
)

func (s Stage) String() string {
	switch s {
	case StageDiscovery:
		return "discovery"
	case StagePlanReview:
		return "plan_review"
	case StageImplementation:
		return "implementation"
	case StagePRCreation:
		return "pr_creation"
	case StagePRReview:
		return "pr_review"
	case StageFinalApproval:
		return "final_approval"
	case StageCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Status is the session's place relative to the queue and the pipeline.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusDiscovery      Status = "discovery"
	StatusPlanning       Status = "planning"
	StatusImplementing   Status = "implementing"
	StatusPRCreation     Status = "pr_creation"
	StatusPRReview       Status = "pr_review"
	StatusFinalApproval  Status = "final_approval"
	StatusCompleted      Status = "completed"
	StatusPaused         Status = "paused"
	StatusFailed         Status = "failed"
	StatusIdle           Status = "idle" // current stage, awaiting retry/backout after an AgentError
)

// ActiveStatuses are the statuses that count toward the "at most one active
// session per project" invariant (spec.md S8.1).
var ActiveStatuses = map[Status]bool{
	StatusDiscovery:     true,
	StatusPlanning:      true,
	StatusImplementing:  true,
	StatusPRCreation:    true,
	StatusPRReview:      true,
	StatusFinalApproval: true,
	StatusIdle:          true,
}

// Preferences holds the five enumerated project preference axes (spec.md S6).
type Preferences struct {
	RiskComfort      string `json:"riskComfort"`
	SpeedVsQuality   string `json:"speedVsQuality"`
	ScopeFlexibility string `json:"scopeFlexibility"`
	DetailLevel      string `json:"detailLevel"`
	AutonomyLevel    string `json:"autonomyLevel"`
}

// DefaultPreferences returns the all-middle-value default (spec.md S6).
func DefaultPreferences() Preferences {
	return Preferences{
		RiskComfort:      "medium",
		SpeedVsQuality:   "balanced",
		ScopeFlexibility: "flexible",
		DetailLevel:      "standard",
		AutonomyLevel:    "collaborative",
	}
}

// Session is the central entity: one feature proceeding through the pipeline,
// identified by (ProjectID, FeatureID).
type Session struct {
	ProjectID     string `json:"projectId"`
	FeatureID     string `json:"featureId"`
	ProjectPath   string `json:"projectPath"`
	Title         string `json:"title"`
	Description   string `json:"description"`

	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	BaseBranch         string   `json:"baseBranch"`
	FeatureBranch      string   `json:"featureBranch"`
	BaseCommitSha      string   `json:"baseCommitSha"`

	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`

	QueuePosition *int       `json:"queuePosition"` // nil iff not queued
	QueuedAt      *time.Time `json:"queuedAt,omitempty"`

	ReplanningCount int `json:"replanningCount"`

	AgentSessionID       string `json:"agentSessionId,omitempty"`
	AgentStage3SessionID string `json:"agentStage3SessionId,omitempty"`

	PlanPath string `json:"planPath,omitempty"`
	PRUrl    string `json:"prUrl,omitempty"`

	Preferences Preferences `json:"preferences"`

	// FileScope declares the paths this feature is expected to touch; used
	// only for the advisory file-conflict check in QueueManager, never for
	// admission decisions (spec.md's one-active-session-per-project
	// invariant is never relaxed by it).
	FileScope []string `json:"fileScope,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// FailureReason records why a session moved to failed/paused, e.g.
	// "replan cap exceeded", "timeout", "abandoned by user".
	FailureReason string `json:"failureReason,omitempty"`
}

// IsActive reports whether the session currently occupies a project's single
// active slot.
func (s *Session) IsActive() bool {
	return ActiveStatuses[s.Status]
}

// StepStatus is the lifecycle of one PlanStep.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepInProgress  StepStatus = "in_progress"
	StepCompleted   StepStatus = "completed"
	StepBlocked     StepStatus = "blocked"
	StepNeedsReview StepStatus = "needs_review"
	StepSkipped     StepStatus = "skipped"
)

// Complexity is a coarse size estimate for a PlanStep.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// PlanStep is one unit of work within the Stage 3 implementation plan.
type PlanStep struct {
	ID          string     `json:"id"`
	ParentID    *string    `json:"parentId,omitempty"`
	OrderIndex  int        `json:"orderIndex"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Complexity  Complexity `json:"complexity"`
	Status      StepStatus `json:"status"`
}

// SectionValidation records validation results for a single plan section.
type SectionValidation struct {
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

// ValidationStatus is the per-section validation outcome of a plan pass.
type ValidationStatus map[string]SectionValidation

// Plan is the ordered list of PlanSteps produced during Stage 2.
type Plan struct {
	ProjectID        string           `json:"projectId"`
	FeatureID        string           `json:"featureId"`
	PlanVersion      int              `json:"planVersion"`
	IsApproved       bool             `json:"isApproved"`
	Steps            []PlanStep       `json:"steps"`
	ValidationStatus ValidationStatus `json:"validationStatus,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// QuestionOption is one selectable answer to a Question.
type QuestionOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Question is raised by PostProcessor's question_extraction pass and
// answered by the human operator before the stage can advance.
type Question struct {
	ID           string           `json:"id"`
	Stage        Stage            `json:"stage"`
	QuestionText string           `json:"questionText"`
	Options      []QuestionOption `json:"options,omitempty"`
	Answer       *string          `json:"answer,omitempty"`
	AskedAt      time.Time        `json:"askedAt"`
	AnsweredAt   *time.Time       `json:"answeredAt,omitempty"`
}

// IsAnswered reports whether the question has received an answer.
func (q *Question) IsAnswered() bool {
	return q.Answer != nil
}

// ConversationStatus is the lifecycle of one agent invocation.
type ConversationStatus string

const (
	ConversationStarted     ConversationStatus = "started"
	ConversationCompleted   ConversationStatus = "completed"
	ConversationInterrupted ConversationStatus = "interrupted"
)

// PostProcessingTag is the fixed set of PostProcessor pass identifiers
// (spec.md S4.4).
type PostProcessingTag string

const (
	TagDecisionValidation           PostProcessingTag = "decision_validation"
	TagTestAssessment               PostProcessingTag = "test_assessment"
	TagIncompleteSteps              PostProcessingTag = "incomplete_steps"
	TagQuestionExtraction           PostProcessingTag = "question_extraction"
	TagPlanStepExtraction           PostProcessingTag = "plan_step_extraction"
	TagPRInfoExtraction             PostProcessingTag = "pr_info_extraction"
	TagImplementationStatusExtract  PostProcessingTag = "implementation_status_extraction"
	TagTestResultsExtraction        PostProcessingTag = "test_results_extraction"
	TagReviewFindingsExtraction     PostProcessingTag = "review_findings_extraction"
	TagCommitMessageGeneration      PostProcessingTag = "commit_message_generation"
	TagSummaryGeneration            PostProcessingTag = "summary_generation"
)

// ConversationEntry is one append-only audit record of an agent invocation.
type ConversationEntry struct {
	ID                string             `json:"id"` // ULID: sortable, totally orders the append sequence
	Stage             Stage              `json:"stage"`
	StepID            *string            `json:"stepId,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
	Prompt            string             `json:"prompt"`
	Output            string             `json:"output"`
	CostUsd           float64            `json:"costUsd"`
	Status            ConversationStatus `json:"status"`
	IsError           bool               `json:"isError"`
	Error             string             `json:"error,omitempty"`
	PostProcessingType PostProcessingTag `json:"postProcessingType,omitempty"`
	ValidationAction  string             `json:"validationAction,omitempty"`
	QuestionIndex     *int               `json:"questionIndex,omitempty"`
}

// QueueEntry is a lightweight, derived view of a waiting Session. It is never
// stored separately; QueueManager computes it from Session records.
type QueueEntry struct {
	FeatureID     string    `json:"featureId"`
	Title         string    `json:"title"`
	QueuePosition int       `json:"queuePosition"`
	QueuedAt      time.Time `json:"queuedAt"`
}
