package engine

import (
	"sync"

	"github.com/orbitfaas/orbit/pkg/types"
)

// Router maps function IDs to their active version so callers can invoke a
// function without naming a version. It is fed exclusively by the change
// feed; a function absent from the table has no active deployment on this
// node.
type Router struct {
	mu     sync.RWMutex
	active map[string]string
}

func NewRouter() *Router {
	return &Router{active: make(map[string]string)}
}

// SetActive points a function at a version, replacing any previous mapping.
func (r *Router) SetActive(functionID, versionID string) {
	r.mu.Lock()
	r.active[functionID] = versionID
	r.mu.Unlock()
}

// Remove drops a function's mapping. Removing an unknown function is a no-op.
func (r *Router) Remove(functionID string) {
	r.mu.Lock()
	delete(r.active, functionID)
	r.mu.Unlock()
}

// Lookup returns the deployment identity for a function's active version.
func (r *Router) Lookup(functionID string) (types.DeploymentID, bool) {
	r.mu.RLock()
	versionID, ok := r.active[functionID]
	r.mu.RUnlock()
	if !ok {
		return types.DeploymentID{}, false
	}
	return types.NewDeploymentID(functionID, versionID), true
}

// Snapshot returns a copy of the routing table.
func (r *Router) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.active))
	for fn, ver := range r.active {
		out[fn] = ver
	}
	return out
}
