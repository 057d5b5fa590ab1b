// Package stagemachine implements the pure stage-transition function that
// decides, given a session and an incoming event, what the SessionEngine
// should do next. It performs no I/O and holds no state of its own.
package stagemachine

import "github.com/forgepilot/forgepilot/internal/model"

// MaxReplans is the cap on consecutive plan-change rounds before a session
// fails outright (spec.md S4.5, S6).
const MaxReplans = 5

// MaxPRCreationAttempts bounds how many Stage 4 attempts in a row may fail
// to produce a pull request URL; SessionEngine moves the session to failed
// when the count is reached.
const MaxPRCreationAttempts = 3

// EventKind enumerates every signal the StageMachine reacts to.
type EventKind string

const (
	EventDiscoveryReady       EventKind = "discovery_ready"       // plan extracted, all discovery questions answered
	EventPlanApproved         EventKind = "plan_approved"
	EventPlanChangesRequested EventKind = "plan_changes_requested"
	EventStepAdvanced         EventKind = "step_advanced"         // one implementation pass over a plan step ended and runnable steps remain
	EventAllStepsDone         EventKind = "all_steps_done"
	EventPRCreated            EventKind = "pr_created"
	EventPRCreationFailed     EventKind = "pr_creation_failed"
	EventReviewClean          EventKind = "review_clean"
	EventReviewPlanChanges    EventKind = "review_plan_changes"
	EventReviewRerequested    EventKind = "review_rerequested"     // "re-review" in place, no stage change
	EventFinalApprovalMerge   EventKind = "final_approval_merge"
	EventFinalApprovalChanges EventKind = "final_approval_changes"
	EventFinalApprovalReview  EventKind = "final_approval_review"  // send back to Stage 5 for another look
	EventPause                EventKind = "pause"
	EventAbandon              EventKind = "abandon"
	EventResume               EventKind = "resume"

	// EventQuestionsPending is orthogonal to stage, like pause/abandon: it
	// fires whenever a postprocessing pass raised a question that hasn't
	// been answered yet, and holds the session at its current stage until
	// an answer arrives regardless of what stage-specific default behavior
	// would otherwise do.
	EventQuestionsPending EventKind = "questions_pending"
)

// Event is the single input, alongside the Session, to Transition.
type Event struct {
	Kind         EventKind
	Feedback     string // operator feedback accompanying a plan-changes request
	StepID       string
	PRUrl        string
	AffectedSteps []StepInvalidation // from an incomplete_steps pass triggered by a plan_changes review
}

// StepInvalidation names one step and the status an incomplete_steps pass
// assigned it as a side effect of a replanning round: needs_review for a
// step it reopens, completed for one it confirms (spec.md S8's S7).
type StepInvalidation struct {
	StepID string
	Status model.StepStatus
}

// Action is what the SessionEngine must do to carry out a Decision.
type Action string

const (
	ActionInvokeAgent     Action = "invoke_agent"      // call AgentRunner for the (possibly new) current stage
	ActionAwaitHumanInput Action = "await_human_input" // block until the matching command arrives
	ActionAdvance         Action = "advance"           // pure bookkeeping move, no agent call needed this tick
	ActionTerminal        Action = "terminal"          // session reached stage 7, nothing more to do
	ActionFail            Action = "fail"              // a limit was exceeded; session moves to failed
)

// Decision is the StageMachine's verdict.
type Decision struct {
	NextStage  model.Stage
	NextStatus model.Status
	Action     Action
	Reason     string
}
