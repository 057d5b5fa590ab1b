package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/agentrunner"
	"github.com/forgepilot/forgepilot/internal/config"
	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/gateway"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/postprocess"
	"github.com/forgepilot/forgepilot/internal/queue"
	"github.com/forgepilot/forgepilot/internal/sessionengine"
	"github.com/forgepilot/forgepilot/internal/store"
)

type blockingRunner struct{}

func (blockingRunner) Start(ctx context.Context, session *model.Session) {}
func (blockingRunner) Cancel()                                          {}

type noopAdvancer struct{}

func (noopAdvancer) MarkFinished(ctx context.Context, projectID, featureID string) {}

// idleRunner answers every invocation with an empty completed result, just
// enough to keep the run loop from blocking forever on a nil AgentRunner
// once a retry hands control back to it.
type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, req agentrunner.Request, onChunk func(string)) (*agentrunner.Result, error) {
	return &agentrunner.Result{Outcome: agentrunner.OutcomeCompleted, Output: "{}"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *sessionengine.Registry) {
	t.Helper()
	st := store.New(t.TempDir(), store.DefaultRotationConfig())
	bus := eventbus.New(nil)
	registry := sessionengine.NewRegistry()
	qmgr := queue.New(st, bus, nil, func() queue.Runner { return blockingRunner{} })

	srv := gateway.New(gateway.Deps{
		Store:    st,
		Bus:      bus,
		Queue:    qmgr,
		Registry: registry,
		Config:   config.Default(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st, registry
}

func postJSON(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateAndListSessions(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts, http.MethodPost, "/api/sessions", map[string]any{
		"projectPath": "/tmp/proj-a",
		"title":       "add widgets",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created model.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.FeatureID)
	assert.Equal(t, model.StageDiscovery, created.Stage)

	listResp := postJSON(t, ts, http.MethodGet, "/api/sessions", nil)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var sessions []*model.Session
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, created.FeatureID, sessions[0].FeatureID)
}

func TestCreateSessionRequiresTitleAndPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts, http.MethodPost, "/api/sessions", map[string]any{"title": "no path"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownSessionReturns404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts, http.MethodGet, "/api/sessions/nope/nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommandOnNonRunningSessionReturns404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts, http.MethodPost, "/api/sessions/p1/f1/plan/approve", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRetryTooSoonReturns409(t *testing.T) {
	ts, st, registry := newTestServer(t)

	cfg := config.Default()
	cfg.RetryMinIdle = 0
	cfg.RetryCooldown = time.Hour
	eng := sessionengine.New(sessionengine.Deps{
		Store:    st,
		Registry: registry,
		Config:   cfg,
		Advancer:  noopAdvancer{},
		Runner:    idleRunner{},
		Processor: postprocess.NewProcessor(),
	})
	session := &model.Session{
		ProjectID: "p2", FeatureID: "f2", Title: "demo",
		Stage: model.StagePlanReview, Status: model.StatusPlanning,
		Preferences: model.DefaultPreferences(),
	}
	require.NoError(t, st.PutPlan(&model.Plan{ProjectID: "p2", FeatureID: "f2", PlanVersion: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	eng.Start(ctx, session)
	defer eng.Cancel()

	require.Eventually(t, func() bool {
		_, ok := registry.Get("p2", "f2")
		return ok
	}, time.Second, 10*time.Millisecond)

	first := postJSON(t, ts, http.MethodPost, "/api/sessions/p2/f2/retry", nil)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, ts, http.MethodPost, "/api/sessions/p2/f2/retry", nil)
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestPreferencesRoundTrip(t *testing.T) {
	ts, _, _ := newTestServer(t)

	prefs := model.DefaultPreferences()
	prefs.AutonomyLevel = "autonomous"

	putResp := postJSON(t, ts, http.MethodPut, "/api/projects/proj-x/preferences", prefs)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	getResp := postJSON(t, ts, http.MethodGet, "/api/projects/proj-x/preferences", nil)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var got model.Preferences
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, "autonomous", got.AutonomyLevel)
}
