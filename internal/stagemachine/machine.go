package stagemachine

import (
	"github.com/forgepilot/forgepilot/internal/model"
)

// Transition computes the next (stage, status, action) for session given
// event. It is a pure function: no Store access, no agent invocation, no
// clock reads beyond what the caller supplies in Event. The SessionEngine
// is responsible for actually applying the Decision (persisting the new
// stage/status, invoking the agent, blocking for input).
func Transition(session *model.Session, event Event) Decision {
	// pause/abandon/resume apply regardless of which stage the session is in.
	switch event.Kind {
	case EventPause:
		return Decision{
			NextStage:  session.Stage,
			NextStatus: model.StatusPaused,
			Action:     ActionAwaitHumanInput,
			Reason:     "paused by operator",
		}
	case EventAbandon:
		return Decision{
			NextStage:  session.Stage,
			NextStatus: model.StatusFailed,
			Action:     ActionFail,
			Reason:     "abandoned by operator",
		}
	case EventResume:
		return Decision{
			NextStage:  session.Stage,
			NextStatus: statusForStage(session.Stage),
			Action:     ActionInvokeAgent,
			Reason:     "resumed from pause",
		}
	case EventQuestionsPending:
		return Decision{
			NextStage:  session.Stage,
			NextStatus: statusForStage(session.Stage),
			Action:     ActionAwaitHumanInput,
			Reason:     "unanswered questions block further progress",
		}
	}

	switch session.Stage {
	case model.StageDiscovery:
		return transitionDiscovery(session, event)
	case model.StagePlanReview:
		return transitionPlanReview(session, event)
	case model.StageImplementation:
		return transitionImplementation(session, event)
	case model.StagePRCreation:
		return transitionPRCreation(session, event)
	case model.StagePRReview:
		return transitionPRReview(session, event)
	case model.StageFinalApproval:
		return transitionFinalApproval(session, event)
	case model.StageCompleted:
		return Decision{NextStage: model.StageCompleted, NextStatus: model.StatusCompleted, Action: ActionTerminal}
	default:
		return Decision{NextStage: session.Stage, NextStatus: session.Status, Action: ActionAwaitHumanInput, Reason: "unrecognized stage"}
	}
}

func statusForStage(stage model.Stage) model.Status {
	switch stage {
	case model.StageDiscovery:
		return model.StatusDiscovery
	case model.StagePlanReview:
		return model.StatusPlanning
	case model.StageImplementation:
		return model.StatusImplementing
	case model.StagePRCreation:
		return model.StatusPRCreation
	case model.StagePRReview:
		return model.StatusPRReview
	case model.StageFinalApproval:
		return model.StatusFinalApproval
	case model.StageCompleted:
		return model.StatusCompleted
	default:
		return model.StatusIdle
	}
}

func transitionDiscovery(session *model.Session, event Event) Decision {
	switch event.Kind {
	case EventDiscoveryReady:
		return Decision{NextStage: model.StagePlanReview, NextStatus: model.StatusPlanning, Action: ActionInvokeAgent,
			Reason: "discovery plan extracted and all questions answered"}
	default:
		return Decision{NextStage: model.StageDiscovery, NextStatus: model.StatusDiscovery, Action: ActionInvokeAgent}
	}
}

func transitionPlanReview(session *model.Session, event Event) Decision {
	switch event.Kind {
	case EventPlanApproved:
		return Decision{NextStage: model.StageImplementation, NextStatus: model.StatusImplementing, Action: ActionInvokeAgent,
			Reason: "plan approved"}

	case EventPlanChangesRequested:
		if session.ReplanningCount >= MaxReplans {
			return Decision{
				NextStage:  model.StagePlanReview,
				NextStatus: model.StatusFailed,
				Action:     ActionFail,
				Reason:     "replan cap exceeded",
			}
		}
		return Decision{
			NextStage:  model.StagePlanReview,
			NextStatus: model.StatusPlanning,
			Action:     ActionInvokeAgent,
			Reason:     "plan changes requested: " + event.Feedback,
		}

	default:
		return Decision{NextStage: model.StagePlanReview, NextStatus: model.StatusPlanning, Action: ActionAwaitHumanInput,
			Reason: "awaiting plan approval or change request"}
	}
}

func transitionImplementation(session *model.Session, event Event) Decision {
	switch event.Kind {
	case EventAllStepsDone:
		return Decision{NextStage: model.StagePRCreation, NextStatus: model.StatusPRCreation, Action: ActionInvokeAgent,
			Reason: "all plan steps completed or skipped"}

	case EventStepAdvanced:
		return Decision{NextStage: model.StageImplementation, NextStatus: model.StatusImplementing, Action: ActionInvokeAgent,
			Reason: "advancing to next plan step"}

	default:
		return Decision{NextStage: model.StageImplementation, NextStatus: model.StatusImplementing, Action: ActionInvokeAgent}
	}
}

func transitionPRCreation(session *model.Session, event Event) Decision {
	switch event.Kind {
	case EventPRCreated:
		return Decision{NextStage: model.StagePRReview, NextStatus: model.StatusPRReview, Action: ActionInvokeAgent,
			Reason: "pull request created"}

	case EventPRCreationFailed:
		// The caller is expected to have already incremented an attempt
		// counter elsewhere; ReplanningCount is not the right counter here,
		// so the cap check lives in SessionEngine, which tracks PR attempts
		// separately. StageMachine only ever retries in place.
		return Decision{NextStage: model.StagePRCreation, NextStatus: model.StatusPRCreation, Action: ActionInvokeAgent,
			Reason: "retrying PR creation"}

	default:
		return Decision{NextStage: model.StagePRCreation, NextStatus: model.StatusPRCreation, Action: ActionInvokeAgent}
	}
}

func transitionPRReview(session *model.Session, event Event) Decision {
	switch event.Kind {
	case EventReviewClean:
		return Decision{NextStage: model.StageFinalApproval, NextStatus: model.StatusFinalApproval, Action: ActionAwaitHumanInput,
			Reason: "PR review clean"}

	case EventReviewPlanChanges:
		if session.ReplanningCount >= MaxReplans {
			return Decision{NextStage: model.StagePRReview, NextStatus: model.StatusFailed, Action: ActionFail,
				Reason: "replan cap exceeded"}
		}
		return Decision{NextStage: model.StagePlanReview, NextStatus: model.StatusPlanning, Action: ActionInvokeAgent,
			Reason: "PR review demands plan changes"}

	case EventReviewRerequested:
		return Decision{NextStage: model.StagePRReview, NextStatus: model.StatusPRReview, Action: ActionInvokeAgent,
			Reason: "re-review requested"}

	default:
		return Decision{NextStage: model.StagePRReview, NextStatus: model.StatusPRReview, Action: ActionInvokeAgent}
	}
}

func transitionFinalApproval(session *model.Session, event Event) Decision {
	switch event.Kind {
	case EventFinalApprovalMerge:
		return Decision{NextStage: model.StageCompleted, NextStatus: model.StatusCompleted, Action: ActionTerminal,
			Reason: "merged"}

	case EventFinalApprovalChanges:
		if session.ReplanningCount >= MaxReplans {
			return Decision{NextStage: model.StageFinalApproval, NextStatus: model.StatusFailed, Action: ActionFail,
				Reason: "replan cap exceeded"}
		}
		return Decision{NextStage: model.StagePlanReview, NextStatus: model.StatusPlanning, Action: ActionInvokeAgent,
			Reason: "final approval demands plan changes"}

	case EventFinalApprovalReview:
		return Decision{NextStage: model.StagePRReview, NextStatus: model.StatusPRReview, Action: ActionInvokeAgent,
			Reason: "final approval sent back for another review pass"}

	default:
		return Decision{NextStage: model.StageFinalApproval, NextStatus: model.StatusFinalApproval, Action: ActionAwaitHumanInput,
			Reason: "awaiting merge, plan changes, or re-review decision"}
	}
}

// NextReplanningCount returns the ReplanningCount the SessionEngine should
// persist on session after applying decision, given the event that produced
// it. StageMachine itself stays pure by not mutating session; this helper
// just centralizes the one counter-increment rule so callers don't
// reimplement it differently in three places.
func NextReplanningCount(session *model.Session, event Event) int {
	switch event.Kind {
	case EventPlanChangesRequested, EventReviewPlanChanges, EventFinalApprovalChanges:
		return session.ReplanningCount + 1
	default:
		return session.ReplanningCount
	}
}
