// Package eventbus implements the topic-based publish/subscribe layer
// (spec.md S4.2) that the Gateway's websocket rooms and the SessionEngine
// both read from: `project/<id>` carries queue and session-list changes,
// `session/<projectId>/<featureId>` carries the stage/status/progress
// updates for one session.
package eventbus

import "time"

// Kind enumerates the event payload shapes a subscriber may receive. The
// string values are spec.md S4.2's published-kind vocabulary verbatim, so a
// client written against the spec matches wire events without a lookup
// table of its own.
type Kind string

const (
	// KindExecutionStatus fires whenever a session's stage-machine decision
	// changes its stage or status, including the terminal completed/failed
	// outcomes (the session payload's own Status field distinguishes those).
	KindExecutionStatus Kind = "execution.status"

	// KindClaudeOutput carries one streamed stdout chunk from an in-flight
	// AgentRunner invocation.
	KindClaudeOutput Kind = "claude.output"

	// KindQuestionsBatch fires when a postprocessing pass raises a new batch
	// of questions the human must answer before the session can proceed.
	KindQuestionsBatch Kind = "questions.batch"

	// KindPlanUpdated fires whenever the session's Plan is rewritten: new
	// steps extracted, a replanning round, or steps reopened by a PR review.
	// Step status changes during implementation are published as
	// step.started/step.completed plus implementation.progress instead.
	KindPlanUpdated Kind = "plan.updated"

	// KindStageChanged fires only when a decision actually moves the
	// session to a different stage.
	KindStageChanged Kind = "stage.changed"

	KindStepStarted   Kind = "step.started"
	KindStepCompleted Kind = "step.completed"

	// KindImplementationProgress accompanies a step.started/step.completed
	// event with the full plan, so a subscriber can render overall progress
	// without re-fetching from the Store on every step.
	KindImplementationProgress Kind = "implementation.progress"

	KindQueueReordered Kind = "queue.reordered"

	// KindSessionBackedOut fires when the queue manager backs a session out,
	// whether it was waiting in the queue or running in its project's active
	// slot (abandon or pause-on-backout).
	KindSessionBackedOut Kind = "session.backedout"

	// KindResyncRequired is synthesized by the bus itself, never published by
	// a caller, whenever a subscriber's buffer overflows: it tells that
	// subscriber its view may have skipped events and it must re-fetch state
	// from the Store rather than trust the stream (spec.md S4.2).
	KindResyncRequired Kind = "resync_required"
)

// ProjectTopic names the room carrying project-wide changes (queue order,
// which feature is active).
func ProjectTopic(projectID string) string {
	return "project/" + projectID
}

// SessionTopic names the room carrying one session's own lifecycle events.
func SessionTopic(projectID, featureID string) string {
	return "session/" + projectID + "/" + featureID
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic     string    `json:"topic"`
	Kind      Kind      `json:"kind"`
	ProjectID string    `json:"projectId"`
	FeatureID string    `json:"featureId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}
