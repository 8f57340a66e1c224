package repository

import (
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DBRepository abstracts transactional access to the node's badger store so
// callers never hold the *badger.DB directly.
type DBRepository interface {
	View(fn func(txn *badger.Txn) error) error
	Update(fn func(txn *badger.Txn) error) error
	Close() error
}

type BadgerDBRepository struct {
	db *badger.DB
}

func NewBadgerDBRepository(db *badger.DB) *BadgerDBRepository {
	return &BadgerDBRepository{db: db}
}

func (r *BadgerDBRepository) View(fn func(txn *badger.Txn) error) error {
	return r.db.View(fn)
}

func (r *BadgerDBRepository) Update(fn func(txn *badger.Txn) error) error {
	return r.db.Update(fn)
}

func (r *BadgerDBRepository) Close() error {
	return r.db.Close()
}

// RunGC triggers value log garbage collection. Bundle churn from deploy and
// evict cycles leaves dead versions behind; a periodic GC keeps the cache
// directory from growing without bound.
func (r *BadgerDBRepository) RunGC(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				if err := r.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-stop:
			return
		}
	}
}
