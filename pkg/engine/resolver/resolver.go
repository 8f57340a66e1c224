package resolver

import (
	"context"

	"github.com/orbitfaas/orbit/pkg/types"
)

// Deployment is a resolved artifact: the bundled source plus its declared
// limits. Both are immutable for the lifetime of the identity.
type Deployment struct {
	ID         types.DeploymentID
	Bundle     []byte
	Descriptor types.Descriptor
}

// Resolver supplies deployment bundles and descriptors to the engine. The
// engine never fetches remote bundles itself; implementations front a
// downloader, a local directory, or an in-memory table.
//
// Resolve returns errors.ErrDeploymentNotFound when the identity is unknown.
type Resolver interface {
	Resolve(ctx context.Context, id types.DeploymentID) (*Deployment, error)
}

// Downloader fetches a deployment from remote storage. It is the external
// collaborator behind the caching resolver.
type Downloader interface {
	Download(ctx context.Context, id types.DeploymentID) (*Deployment, error)
}
