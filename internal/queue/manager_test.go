package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/queue"
	"github.com/forgepilot/forgepilot/internal/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []*model.Session
	onStart func(*model.Session)
}

func (r *fakeRunner) Start(ctx context.Context, session *model.Session) {
	r.mu.Lock()
	r.started = append(r.started, session)
	r.mu.Unlock()
	if r.onStart != nil {
		r.onStart(session)
	}
}

func (r *fakeRunner) Cancel() {}

func newTestManager(t *testing.T, onStart func(*model.Session)) (*queue.Manager, *fakeRunner) {
	t.Helper()
	st := store.New(t.TempDir(), store.DefaultRotationConfig())
	runner := &fakeRunner{onStart: onStart}
	mgr := queue.New(st, nil, nil, func() queue.Runner { return runner })
	return mgr, runner
}

func TestEnqueueStartsFirstSessionImmediately(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	mgr, runner := newTestManager(t, func(*model.Session) { wg.Done() })

	session := &model.Session{ProjectID: "p1", FeatureID: "f1", Title: "first"}
	require.NoError(t, mgr.Enqueue(context.Background(), session, queue.InsertPosition{End: true}))

	waitOrFail(t, &wg)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.started, 1)
	assert.Equal(t, "f1", runner.started[0].FeatureID)
}

func TestSecondSessionWaitsBehindActive(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	mgr, runner := newTestManager(t, func(*model.Session) { wg.Done() })

	first := &model.Session{ProjectID: "p1", FeatureID: "f1", Title: "first"}
	second := &model.Session{ProjectID: "p1", FeatureID: "f2", Title: "second"}

	require.NoError(t, mgr.Enqueue(context.Background(), first, queue.InsertPosition{End: true}))
	waitOrFail(t, &wg)
	require.NoError(t, mgr.Enqueue(context.Background(), second, queue.InsertPosition{End: true}))

	snapshot := mgr.Snapshot("p1")
	require.Len(t, snapshot, 1)
	assert.Equal(t, "f2", snapshot[0].FeatureID)
	assert.Equal(t, 1, snapshot[0].QueuePosition)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.started, 1) // second session must not start while first is active
}

func TestMarkFinishedAdvancesQueue(t *testing.T) {
	started := make(chan *model.Session, 2)
	mgr, _ := newTestManager(t, func(s *model.Session) { started <- s })

	first := &model.Session{ProjectID: "p1", FeatureID: "f1", Title: "first"}
	second := &model.Session{ProjectID: "p1", FeatureID: "f2", Title: "second"}

	require.NoError(t, mgr.Enqueue(context.Background(), first, queue.InsertPosition{End: true}))
	<-started

	require.NoError(t, mgr.Enqueue(context.Background(), second, queue.InsertPosition{End: true}))

	mgr.MarkFinished(context.Background(), "p1", "f1")

	select {
	case s := <-started:
		assert.Equal(t, "f2", s.FeatureID)
	case <-time.After(2 * time.Second):
		t.Fatal("second session never started after first finished")
	}
}

func TestReorderDropsFeaturesNotNamed(t *testing.T) {
	mgr, _ := newTestManager(t, func(*model.Session) {})

	first := &model.Session{ProjectID: "p2", FeatureID: "f1", Title: "first"}
	require.NoError(t, mgr.Enqueue(context.Background(), first, queue.InsertPosition{End: true}))
	second := &model.Session{ProjectID: "p2", FeatureID: "f2", Title: "second"}
	require.NoError(t, mgr.Enqueue(context.Background(), second, queue.InsertPosition{End: true}))
	third := &model.Session{ProjectID: "p2", FeatureID: "f3", Title: "third"}
	require.NoError(t, mgr.Enqueue(context.Background(), third, queue.InsertPosition{End: true}))

	require.NoError(t, mgr.Reorder("p2", []string{"f3"}))

	snapshot := mgr.Snapshot("p2")
	require.Len(t, snapshot, 1)
	assert.Equal(t, "f3", snapshot[0].FeatureID)
}

func TestBackoutPauseRemovesFromWaiting(t *testing.T) {
	mgr, _ := newTestManager(t, func(*model.Session) {})

	first := &model.Session{ProjectID: "p3", FeatureID: "f1", Title: "first"}
	require.NoError(t, mgr.Enqueue(context.Background(), first, queue.InsertPosition{End: true}))
	second := &model.Session{ProjectID: "p3", FeatureID: "f2", Title: "second"}
	require.NoError(t, mgr.Enqueue(context.Background(), second, queue.InsertPosition{End: true}))

	require.NoError(t, mgr.Backout(context.Background(), "p3", "f2", queue.BackoutPause, "taking a break"))

	snapshot := mgr.Snapshot("p3")
	assert.Len(t, snapshot, 0)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runner to start")
	}
}
