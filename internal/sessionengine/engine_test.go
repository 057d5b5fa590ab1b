package sessionengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/agentrunner"
	"github.com/forgepilot/forgepilot/internal/config"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/sessionengine"
	"github.com/forgepilot/forgepilot/internal/store"
)

// scriptedRunner returns one canned *agentrunner.Result per call to Run, in
// order, so a test can script a full multi-stage conversation without
// spawning a real subprocess.
type scriptedRunner struct {
	mu      sync.Mutex
	results []*agentrunner.Result
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, req agentrunner.Request, onChunk func(string)) (*agentrunner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls >= len(r.results) {
		return &agentrunner.Result{Outcome: agentrunner.OutcomeCompleted, Output: "{}"}, nil
	}
	res := r.results[r.calls]
	r.calls++
	return res, nil
}

type fakeAdvancer struct {
	mu       sync.Mutex
	finished chan struct{}
}

func (a *fakeAdvancer) MarkFinished(ctx context.Context, projectID, featureID string) {
	close(a.finished)
}

func newTestDeps(t *testing.T, runner *scriptedRunner) (sessionengine.Deps, *fakeAdvancer) {
	t.Helper()
	st := store.New(t.TempDir(), store.DefaultRotationConfig())
	adv := &fakeAdvancer{finished: make(chan struct{})}
	return sessionengine.Deps{
		Store:     st,
		Bus:       nil,
		Runner:    runner,
		Processor: postprocess.NewProcessor(),
		Advancer:  adv,
		Registry:  sessionengine.NewRegistry(),
		Config:    config.Default(),
	}, adv
}

func completedResult(output string) *agentrunner.Result {
	return &agentrunner.Result{Outcome: agentrunner.OutcomeCompleted, Output: output}
}

func TestDiscoveryToPlanReviewAdvancesWhenPlanExtracted(t *testing.T) {
	runner := &scriptedRunner{results: []*agentrunner.Result{
		completedResult("Here is the plan.\n```json\n{\"steps\":[{\"title\":\"step one\",\"description\":\"do it\",\"complexity\":\"low\"}]}\n```\n{}"),
	}}
	deps, adv := newTestDeps(t, runner)
	engine := sessionengine.New(deps)

	session := &model.Session{
		ProjectID: "p1", FeatureID: "f1", Title: "demo", Stage: model.StageDiscovery, Status: model.StatusDiscovery,
		Preferences: model.DefaultPreferences(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine.Start(ctx, session)

	waitFinished(t, adv.finished)

	got, err := deps.Store.GetSession("p1", "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePlanReview, got.Stage)
	assert.Equal(t, model.StatusPlanning, got.Status)

	plan, err := deps.Store.GetPlan("p1", "f1")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "step one", plan.Steps[0].Title)
}

func TestDiscoveryAsksQuestionsAndBlocksUntilAnswered(t *testing.T) {
	runner := &scriptedRunner{results: []*agentrunner.Result{
		completedResult("I need clarification.\n```json\n{\"questions\":[{\"text\":\"which database?\"}]}\n```\n{}"),
		completedResult("```json\n{\"steps\":[{\"title\":\"step one\",\"description\":\"do it\",\"complexity\":\"low\"}]}\n```\n{}"),
	}}
	deps, adv := newTestDeps(t, runner)
	engine := sessionengine.New(deps)

	session := &model.Session{
		ProjectID: "p2", FeatureID: "f1", Title: "demo", Stage: model.StageDiscovery, Status: model.StatusDiscovery,
		Preferences: model.DefaultPreferences(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine.Start(ctx, session)

	require.Eventually(t, func() bool {
		qs, err := deps.Store.ListQuestions("p2", "f1")
		return err == nil && len(qs) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := deps.Registry.Get("p2", "f1")
		return ok
	}, time.Second, 10*time.Millisecond)

	eng, ok := deps.Registry.Get("p2", "f1")
	require.True(t, ok)

	qs, err := deps.Store.ListQuestions("p2", "f1")
	require.NoError(t, err)
	require.Len(t, qs, 1)

	err = eng.AnswerQuestions(context.Background(), map[string]string{qs[0].ID: "postgres"}, "")
	require.NoError(t, err)

	waitFinished(t, adv.finished)

	got, err := deps.Store.GetSession("p2", "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePlanReview, got.Stage)
}

func TestApprovePlanAdvancesToImplementation(t *testing.T) {
	deps, adv := newTestDeps(t, &scriptedRunner{})
	engine := sessionengine.New(deps)

	session := &model.Session{
		ProjectID: "p3", FeatureID: "f1", Title: "demo", Stage: model.StagePlanReview, Status: model.StatusPlanning,
		Preferences: model.DefaultPreferences(),
	}
	require.NoError(t, deps.Store.PutPlan(&model.Plan{ProjectID: "p3", FeatureID: "f1", PlanVersion: 1,
		Steps: []model.PlanStep{{ID: "s1", Title: "step one", Status: model.StepPending}}}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine.Start(ctx, session)

	require.Eventually(t, func() bool {
		_, ok := deps.Registry.Get("p3", "f1")
		return ok
	}, time.Second, 10*time.Millisecond)

	eng, _ := deps.Registry.Get("p3", "f1")
	require.NoError(t, eng.ApprovePlan(context.Background()))

	waitFinished(t, adv.finished)

	got, err := deps.Store.GetSession("p3", "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StageImplementation, got.Stage)
}

func TestRetryRejectedBeforeCooldownElapses(t *testing.T) {
	deps, adv := newTestDeps(t, &scriptedRunner{})
	_ = adv
	deps.Config.RetryMinIdle = 0
	deps.Config.RetryCooldown = time.Hour
	engine := sessionengine.New(deps)

	session := &model.Session{
		ProjectID: "p4", FeatureID: "f1", Title: "demo", Stage: model.StagePlanReview, Status: model.StatusPlanning,
		Preferences: model.DefaultPreferences(),
	}
	require.NoError(t, deps.Store.PutPlan(&model.Plan{ProjectID: "p4", FeatureID: "f1", PlanVersion: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine.Start(ctx, session)

	require.Eventually(t, func() bool {
		_, ok := deps.Registry.Get("p4", "f1")
		return ok
	}, time.Second, 10*time.Millisecond)

	eng, _ := deps.Registry.Get("p4", "f1")
	require.NoError(t, eng.Retry(context.Background(), time.Now()))
	err := eng.Retry(context.Background(), time.Now())
	assert.ErrorIs(t, err, sessionengine.ErrRetryTooSoon)

	engine.Cancel()
}

func waitFinished(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("engine run never finished")
	}
}
