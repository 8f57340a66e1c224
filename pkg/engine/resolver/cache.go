package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orbitfaas/orbit/internal/repository"
	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/types"
)

// CachedResolver fronts a Downloader with a badger cache keyed by
// deployment identity. Because a DeploymentID is immutable, cached entries
// never go stale; Evict exists for reclaiming space when a version is
// removed, not for correctness.
type CachedResolver struct {
	dbRepo   repository.DBRepository
	download Downloader
}

func NewCachedResolver(dbRepo repository.DBRepository, download Downloader) *CachedResolver {
	return &CachedResolver{dbRepo: dbRepo, download: download}
}

// Resolve implements Resolver. A cache hit never touches the downloader; a
// miss downloads, stores, and returns. NotFound from the downloader is
// propagated without being cached so a later publish can succeed.
func (r *CachedResolver) Resolve(ctx context.Context, id types.DeploymentID) (*Deployment, error) {
	if dep, ok, err := r.lookup(id); err != nil {
		return nil, err
	} else if ok {
		return dep, nil
	}

	dep, err := r.download.Download(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.store(dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// Evict removes the cached bundle and descriptor for one identity. Missing
// entries are not an error.
func (r *CachedResolver) Evict(id types.DeploymentID) error {
	err := r.dbRepo.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(buildBundleKey(id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(buildDescriptorKey(id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to evict cached deployment %s: %w", id, err)
	}
	return nil
}

func (r *CachedResolver) lookup(id types.DeploymentID) (*Deployment, bool, error) {
	var bundle []byte
	var descriptor types.Descriptor

	err := r.dbRepo.View(func(txn *badger.Txn) error {
		item, err := txn.Get(buildBundleKey(id))
		if err != nil {
			return err
		}
		bundle, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(buildDescriptorKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &descriptor); err != nil {
				return fmt.Errorf("failed to unmarshal descriptor: %w", err)
			}
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed for %s: %w", id, err)
	}

	return &Deployment{ID: id, Bundle: bundle, Descriptor: descriptor}, true, nil
}

func (r *CachedResolver) store(dep *Deployment) error {
	val, err := json.Marshal(dep.Descriptor)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	err = r.dbRepo.Update(func(txn *badger.Txn) error {
		if err := txn.Set(buildBundleKey(dep.ID), dep.Bundle); err != nil {
			return err
		}
		return txn.Set(buildDescriptorKey(dep.ID), val)
	})
	if err != nil {
		return errors.Wrap(errors.DomainResolver, errors.CodeResolverError,
			"failed to cache deployment", err).WithDeployment(dep.ID.FunctionID, dep.ID.VersionID)
	}
	return nil
}

func buildBundleKey(id types.DeploymentID) []byte {
	return []byte(fmt.Sprintf("bundle:%s", id))
}

func buildDescriptorKey(id types.DeploymentID) []byte {
	return []byte(fmt.Sprintf("desc:%s", id))
}
