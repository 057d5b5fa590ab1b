package sessionengine

import "sync"

// Registry tracks the Engine currently driving each (projectId, featureId)
// so the Gateway can route a human command (answer questions, approve a
// plan, retry) to the right in-memory run. A fresh Engine is created per
// queue.Runner.Start call, so the registry -- not the Engine itself -- is
// the long-lived object the Gateway holds a reference to.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

func key(projectID, featureID string) string {
	return projectID + "/" + featureID
}

func (r *Registry) register(projectID, featureID string, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[key(projectID, featureID)] = e
}

func (r *Registry) unregister(projectID, featureID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, key(projectID, featureID))
}

// Get returns the Engine currently running (projectId, featureId), if any.
func (r *Registry) Get(projectID, featureID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[key(projectID, featureID)]
	return e, ok
}
