package resolver

import (
	"context"
	"sync"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/types"
)

// StaticResolver serves deployments from an in-memory table. Used by tests
// and by single-node setups where deployments are registered directly.
type StaticResolver struct {
	mu          sync.RWMutex
	deployments map[types.DeploymentID]*Deployment
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{deployments: make(map[types.DeploymentID]*Deployment)}
}

// Register adds or replaces a deployment.
func (r *StaticResolver) Register(dep *Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[dep.ID] = dep
}

// Remove deletes a deployment. Unknown identities are ignored.
func (r *StaticResolver) Remove(id types.DeploymentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deployments, id)
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, id types.DeploymentID) (*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dep, ok := r.deployments[id]
	if !ok {
		return nil, errors.ErrDeploymentNotFound.WithDeployment(id.FunctionID, id.VersionID)
	}
	return dep, nil
}
