package stagemachine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/stagemachine"
)

func TestDiscoveryAdvancesToPlanReviewWhenReady(t *testing.T) {
	session := &model.Session{Stage: model.StageDiscovery, Status: model.StatusDiscovery}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventDiscoveryReady})

	assert.Equal(t, model.StagePlanReview, decision.NextStage)
	assert.Equal(t, stagemachine.ActionInvokeAgent, decision.Action)
}

func TestPlanReviewApprovalAdvancesToImplementation(t *testing.T) {
	session := &model.Session{Stage: model.StagePlanReview, Status: model.StatusPlanning}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventPlanApproved})

	assert.Equal(t, model.StageImplementation, decision.NextStage)
}

func TestPlanReviewChangesLoopsInPlaceAndIncrementsReplanCount(t *testing.T) {
	session := &model.Session{Stage: model.StagePlanReview, Status: model.StatusPlanning, ReplanningCount: 2}
	event := stagemachine.Event{Kind: stagemachine.EventPlanChangesRequested, Feedback: "add auth"}

	decision := stagemachine.Transition(session, event)
	assert.Equal(t, model.StagePlanReview, decision.NextStage)
	assert.Equal(t, stagemachine.ActionInvokeAgent, decision.Action)
	assert.Equal(t, 3, stagemachine.NextReplanningCount(session, event))
}

func TestReplanCapExceededFailsTheSession(t *testing.T) {
	session := &model.Session{Stage: model.StagePlanReview, Status: model.StatusPlanning, ReplanningCount: stagemachine.MaxReplans}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventPlanChangesRequested})

	assert.Equal(t, stagemachine.ActionFail, decision.Action)
	assert.Equal(t, model.StatusFailed, decision.NextStatus)
}

func TestImplementationAdvancesToPRCreationWhenAllStepsDone(t *testing.T) {
	session := &model.Session{Stage: model.StageImplementation, Status: model.StatusImplementing}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventAllStepsDone})

	assert.Equal(t, model.StagePRCreation, decision.NextStage)
}

func TestPRReviewCleanGoesToFinalApprovalAndAwaitsHuman(t *testing.T) {
	session := &model.Session{Stage: model.StagePRReview, Status: model.StatusPRReview}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventReviewClean})

	assert.Equal(t, model.StageFinalApproval, decision.NextStage)
	assert.Equal(t, stagemachine.ActionAwaitHumanInput, decision.Action)
}

func TestPRReviewPlanChangesReturnsToPlanReview(t *testing.T) {
	session := &model.Session{Stage: model.StagePRReview, Status: model.StatusPRReview}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventReviewPlanChanges})

	assert.Equal(t, model.StagePlanReview, decision.NextStage)
}

func TestFinalApprovalMergeCompletesTheSession(t *testing.T) {
	session := &model.Session{Stage: model.StageFinalApproval, Status: model.StatusFinalApproval}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventFinalApprovalMerge})

	assert.Equal(t, model.StageCompleted, decision.NextStage)
	assert.Equal(t, stagemachine.ActionTerminal, decision.Action)
}

func TestFinalApprovalReReviewGoesBackToStageFive(t *testing.T) {
	session := &model.Session{Stage: model.StageFinalApproval, Status: model.StatusFinalApproval}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventFinalApprovalReview})

	assert.Equal(t, model.StagePRReview, decision.NextStage)
}

func TestPauseIsOrthogonalToCurrentStage(t *testing.T) {
	session := &model.Session{Stage: model.StageImplementation, Status: model.StatusImplementing}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventPause})

	assert.Equal(t, model.StageImplementation, decision.NextStage)
	assert.Equal(t, model.StatusPaused, decision.NextStatus)
}

func TestAbandonFailsRegardlessOfStage(t *testing.T) {
	session := &model.Session{Stage: model.StagePRReview, Status: model.StatusPRReview}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventAbandon})

	assert.Equal(t, model.StatusFailed, decision.NextStatus)
	assert.Equal(t, stagemachine.ActionFail, decision.Action)
}

func TestCompletedIsTerminal(t *testing.T) {
	session := &model.Session{Stage: model.StageCompleted, Status: model.StatusCompleted}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventStepAdvanced})

	assert.Equal(t, stagemachine.ActionTerminal, decision.Action)
}

func TestQuestionsPendingBlocksRegardlessOfStage(t *testing.T) {
	session := &model.Session{Stage: model.StageDiscovery, Status: model.StatusDiscovery}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventQuestionsPending})

	assert.Equal(t, model.StageDiscovery, decision.NextStage)
	assert.Equal(t, stagemachine.ActionAwaitHumanInput, decision.Action)
}

func TestResumeReEntersTheCurrentStageAgent(t *testing.T) {
	session := &model.Session{Stage: model.StageImplementation, Status: model.StatusPaused}

	decision := stagemachine.Transition(session, stagemachine.Event{Kind: stagemachine.EventResume})

	assert.Equal(t, model.StageImplementation, decision.NextStage)
	assert.Equal(t, stagemachine.ActionInvokeAgent, decision.Action)
}
