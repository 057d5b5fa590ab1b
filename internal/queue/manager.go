package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/store"
)

// Manager owns every project's queue. One instance process-wide, per
// spec.md S4.7.
type Manager struct {
	store  *store.Store
	bus    *eventbus.Bus
	logger *slog.Logger

	newRunner RunnerFactory

	mu       sync.Mutex
	projects map[string]*projectQueue
}

// New constructs a Manager. newRunner is invoked once per admitted session
// to obtain the Runner that will drive it.
func New(st *store.Store, bus *eventbus.Bus, logger *slog.Logger, newRunner RunnerFactory) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		bus:       bus,
		logger:    logger,
		newRunner: newRunner,
		projects:  make(map[string]*projectQueue),
	}
}

// projectQueue serializes every mutation for one project through a single
// command channel drained by one goroutine, the same one-goroutine-per-
// concern shape the teacher uses for its background agents.
type projectQueue struct {
	projectID string
	manager   *Manager

	cmds chan func()
	done chan struct{}

	mu      sync.Mutex
	waiting []*model.Session
	active  *activeRun
}

type activeRun struct {
	session *model.Session
	runner  Runner
	cancel  context.CancelFunc
}

func (m *Manager) queueFor(projectID string) *projectQueue {
	m.mu.Lock()
	defer m.mu.Unlock()

	pq, ok := m.projects[projectID]
	if !ok {
		pq = &projectQueue{
			projectID: projectID,
			manager:   m,
			cmds:      make(chan func(), 32),
			done:      make(chan struct{}),
		}
		m.projects[projectID] = pq
		go pq.loop()
	}
	return pq
}

func (pq *projectQueue) loop() {
	for {
		select {
		case fn := <-pq.cmds:
			fn()
		case <-pq.done:
			return
		}
	}
}

// submit runs fn on the project's serial goroutine and blocks until it has
// completed, giving callers a synchronous-looking API over an internally
// serialized queue.
func (pq *projectQueue) submit(fn func()) {
	reply := make(chan struct{})
	pq.cmds <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// Enqueue admits session into projectID's queue, at the position pos
// requests. If the project has no active session, the new session (or
// whichever now sits at the front) is started immediately.
func (m *Manager) Enqueue(ctx context.Context, session *model.Session, pos InsertPosition) error {
	pq := m.queueFor(session.ProjectID)

	var resultErr error
	pq.submit(func() {
		resultErr = pq.enqueueLocked(ctx, session, pos)
	})
	return resultErr
}

func (pq *projectQueue) enqueueLocked(ctx context.Context, session *model.Session, pos InsertPosition) error {
	pq.mu.Lock()

	switch {
	case pos.Front:
		pq.waiting = append([]*model.Session{session}, pq.waiting...)
	case pos.End, pos.N <= 0:
		pq.waiting = append(pq.waiting, session)
	default:
		idx := pos.N - 1
		if idx > len(pq.waiting) {
			idx = len(pq.waiting)
		}
		pq.waiting = append(pq.waiting[:idx], append([]*model.Session{session}, pq.waiting[idx:]...)...)
	}

	pq.renumberLocked()
	hasActive := pq.active != nil
	pq.mu.Unlock()

	if err := pq.manager.persistQueuePositions(pq.waiting); err != nil {
		return err
	}
	pq.manager.publishQueueReordered(pq.projectID, pq.waiting)

	if !hasActive {
		pq.advanceLocked(ctx)
	}
	return nil
}

// renumberLocked reassigns the dense 1..N queuePosition values. Caller must
// hold pq.mu.
func (pq *projectQueue) renumberLocked() {
	for i, s := range pq.waiting {
		pos := i + 1
		s.QueuePosition = &pos
	}
}

// Reorder atomically reassigns queue positions to match orderedFeatureIDs.
// Any currently-waiting feature not named in the list is dropped as
// abandoned.
func (m *Manager) Reorder(projectID string, orderedFeatureIDs []string) error {
	pq := m.queueFor(projectID)

	var resultErr error
	pq.submit(func() {
		resultErr = pq.reorderLocked(orderedFeatureIDs)
	})
	return resultErr
}

func (pq *projectQueue) reorderLocked(orderedFeatureIDs []string) error {
	pq.mu.Lock()

	byFeature := make(map[string]*model.Session, len(pq.waiting))
	for _, s := range pq.waiting {
		byFeature[s.FeatureID] = s
	}

	reordered := make([]*model.Session, 0, len(orderedFeatureIDs))
	for _, fid := range orderedFeatureIDs {
		if s, ok := byFeature[fid]; ok {
			reordered = append(reordered, s)
		}
	}
	pq.waiting = reordered
	pq.renumberLocked()
	pq.mu.Unlock()

	if err := pq.manager.persistQueuePositions(pq.waiting); err != nil {
		return err
	}
	pq.manager.publishQueueReordered(pq.projectID, pq.waiting)
	return nil
}

// Backout pauses or abandons a session, whether it is waiting or active.
func (m *Manager) Backout(ctx context.Context, projectID, featureID string, action BackoutAction, reason string) error {
	pq := m.queueFor(projectID)

	var resultErr error
	pq.submit(func() {
		resultErr = pq.backoutLocked(ctx, featureID, action, reason)
	})
	return resultErr
}

func (pq *projectQueue) backoutLocked(ctx context.Context, featureID string, action BackoutAction, reason string) error {
	pq.mu.Lock()

	for i, s := range pq.waiting {
		if s.FeatureID != featureID {
			continue
		}
		pq.waiting = append(pq.waiting[:i], pq.waiting[i+1:]...)
		pq.renumberLocked()
		pq.mu.Unlock()

		s.Status = backoutStatus(action)
		s.FailureReason = reason
		s.QueuePosition = nil
		if err := pq.manager.store.PutSession(s); err != nil {
			return err
		}
		pq.manager.publishBackedOut(s)
		return pq.manager.persistQueuePositions(pq.waitingSnapshot())
	}

	if pq.active != nil && pq.active.session.FeatureID == featureID {
		run := pq.active
		pq.mu.Unlock()

		run.cancel()
		run.runner.Cancel()

		run.session.Status = backoutStatus(action)
		run.session.FailureReason = reason
		if err := pq.manager.store.PutSession(run.session); err != nil {
			return err
		}
		pq.manager.publishBackedOut(run.session)

		pq.mu.Lock()
		pq.active = nil
		pq.mu.Unlock()

		pq.advanceLocked(ctx)
		return nil
	}

	pq.mu.Unlock()
	return fmt.Errorf("queue: no session %s found waiting or active in project %s", featureID, pq.projectID)
}

func backoutStatus(action BackoutAction) model.Status {
	if action == BackoutAbandon {
		return model.StatusFailed
	}
	return model.StatusPaused
}

func (pq *projectQueue) waitingSnapshot() []*model.Session {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	out := make([]*model.Session, len(pq.waiting))
	copy(out, pq.waiting)
	return out
}

// Resume places a paused session back at the front of its project's queue.
func (m *Manager) Resume(ctx context.Context, session *model.Session) error {
	if session.Status != model.StatusPaused {
		return fmt.Errorf("queue: session %s/%s is %s; only paused sessions can be resumed", session.ProjectID, session.FeatureID, session.Status)
	}
	pq := m.queueFor(session.ProjectID)

	var resultErr error
	pq.submit(func() {
		session.Status = model.StatusQueued
		now := time.Now()
		session.QueuedAt = &now
		resultErr = pq.enqueueLocked(ctx, session, InsertPosition{Front: true})
	})
	return resultErr
}

// Advance pops the head of waiting and starts it. Called once the active
// session completes, pauses, or fails.
func (m *Manager) Advance(ctx context.Context, projectID string) {
	pq := m.queueFor(projectID)
	pq.submit(func() {
		pq.advanceLocked(ctx)
	})
}

func (pq *projectQueue) advanceLocked(ctx context.Context) {
	pq.mu.Lock()
	if pq.active != nil || len(pq.waiting) == 0 {
		pq.mu.Unlock()
		return
	}

	next := pq.waiting[0]
	pq.waiting = pq.waiting[1:]
	pq.renumberLocked()
	pq.mu.Unlock()

	if err := pq.manager.persistQueuePositions(pq.waitingSnapshot()); err != nil {
		pq.manager.logger.Error("failed to persist queue positions on advance", "project", pq.projectID, "error", err)
	}

	next.QueuePosition = nil
	next.Status = model.StatusDiscovery
	if err := pq.manager.store.PutSession(next); err != nil {
		pq.manager.logger.Error("failed to persist session on advance", "feature", next.FeatureID, "error", err)
		return
	}

	runCtx, cancel := cancelableContext(ctx)
	runner := pq.manager.newRunner()

	pq.mu.Lock()
	pq.active = &activeRun{session: next, runner: runner, cancel: cancel}
	pq.mu.Unlock()

	runner.Start(runCtx, next)
}

// MarkFinished is called by the runner once a session reaches completed,
// paused, or failed, so the queue can release its active slot and advance.
func (m *Manager) MarkFinished(ctx context.Context, projectID, featureID string) {
	pq := m.queueFor(projectID)
	pq.submit(func() {
		pq.mu.Lock()
		if pq.active != nil && pq.active.session.FeatureID == featureID {
			pq.active = nil
		}
		pq.mu.Unlock()
	})
	pq.submit(func() {
		pq.advanceLocked(ctx)
	})
}

// Snapshot returns the current waiting list as the derived QueueEntry view.
func (m *Manager) Snapshot(projectID string) []model.QueueEntry {
	pq := m.queueFor(projectID)
	pq.mu.Lock()
	defer pq.mu.Unlock()

	entries := make([]model.QueueEntry, 0, len(pq.waiting))
	for _, s := range pq.waiting {
		pos := 0
		if s.QueuePosition != nil {
			pos = *s.QueuePosition
		}
		queuedAt := s.CreatedAt
		if s.QueuedAt != nil {
			queuedAt = *s.QueuedAt
		}
		entries = append(entries, model.QueueEntry{
			FeatureID:     s.FeatureID,
			Title:         s.Title,
			QueuePosition: pos,
			QueuedAt:      queuedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].QueuePosition < entries[j].QueuePosition })
	return entries
}

func (m *Manager) persistQueuePositions(sessions []*model.Session) error {
	for _, s := range sessions {
		if err := m.store.PutSession(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) publishQueueReordered(projectID string, waiting []*model.Session) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(eventbus.ProjectTopic(projectID), eventbus.Event{
		Kind:      eventbus.KindQueueReordered,
		ProjectID: projectID,
		Payload:   waiting,
		At:        time.Now(),
	})
}

func (m *Manager) publishBackedOut(session *model.Session) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(eventbus.SessionTopic(session.ProjectID, session.FeatureID), eventbus.Event{
		Kind:      eventbus.KindSessionBackedOut,
		ProjectID: session.ProjectID,
		FeatureID: session.FeatureID,
		Payload:   session,
		At:        time.Now(),
	})
}

func cancelableContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}
