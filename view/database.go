package view

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Database is the top-level handle a caller opens once per index storage
// location. It owns the IndexStore, a DocumentStore collaborator and a
// ViewRegistry, and is safe for concurrent use by many goroutines: writes
// (UpdateIndex) serialize per view, reads (Query) run concurrently against
// whatever the underlying IndexStore's MVCC view supports (spec.md §5,
// "Concurrency Model").
type Database struct {
	store    IndexStore
	docs     DocumentStore
	registry *ViewRegistry
	log      *logrus.Entry

	indexer  *engineIndexer
	executor *engineExecutor

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// Open constructs a Database over the given IndexStore and DocumentStore.
// The caller retains ownership of docs; Close only closes store.
func Open(store IndexStore, docs DocumentStore, log *logrus.Entry) *Database {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Database{
		store:    store,
		docs:     docs,
		registry: NewViewRegistry(),
		log:      log,
		indexer:  newIndexer(store, docs, log),
		executor: newExecutor(store, docs, log),
	}
}

// RegisterView adds v to the database's registry. It does not touch
// storage; call UpdateIndex to materialize or refresh the index
// (spec.md §4.9, "design document registration" builds on this).
func (d *Database) RegisterView(v *View) error {
	if err := d.guardOpen("RegisterView"); err != nil {
		return err
	}
	if v.Name == "" {
		return newError(KindBadRequest, "RegisterView", "view name must not be empty", nil)
	}
	if v.Map == nil {
		return newError(KindBadRequest, "RegisterView", "view must define a map function", nil)
	}
	d.registry.Register(v)
	v.db = d
	return nil
}

// Stats returns the persisted bookkeeping row for the named view, or nil
// if it has never been built (spec.md §6, backing View.TotalRows,
// View.LastSequenceIndexed and View.IsStale).
func (d *Database) Stats(ctx context.Context, name string) (*StoredView, error) {
	if err := d.guardOpen("Stats"); err != nil {
		return nil, err
	}
	stored, err := d.store.GetView(ctx, name)
	if err != nil {
		return nil, newError(KindDbError, "Stats", "loading view state", err)
	}
	return stored, nil
}

// DeleteIndex clears the named view's persisted rows and resets its
// LastSequence to 0 without removing it from the registry, so the next
// UpdateIndex rebuilds it from scratch. This is distinct from DropView,
// which also forgets the view's registration (spec.md §6,
// "view.deleteIndex() / view.delete()").
func (d *Database) DeleteIndex(ctx context.Context, name string) error {
	if err := d.guardOpen("DeleteIndex"); err != nil {
		return err
	}
	v := d.registry.Lookup(name)
	if v == nil {
		return newError(KindNotFound, "DeleteIndex", "no such view: "+name, nil)
	}
	err := d.store.WithWriteTxn(ctx, func(txn IndexWriteTxn) error {
		viewID, _, err := txn.UpsertView(name, v.Version, v.Collation)
		if err != nil {
			return err
		}
		if err := txn.DeleteMapsForView(viewID); err != nil {
			return err
		}
		return txn.SetViewState(viewID, 0, 0)
	})
	if err != nil {
		return newError(KindDbError, "DeleteIndex", "clearing view storage", err)
	}
	return nil
}

// View returns the registered view definition for name, or nil.
func (d *Database) View(name string) *View {
	return d.registry.Lookup(name)
}

// ViewNames lists every registered view name.
func (d *Database) ViewNames() []string {
	return d.registry.Names()
}

// UpdateIndex brings the named view's persisted index forward to the
// document store's current sequence. Concurrent UpdateIndex calls for the
// same view serialize; calls for different views proceed independently
// (spec.md §5).
func (d *Database) UpdateIndex(ctx context.Context, name string) (UpdateReport, error) {
	if err := d.guardOpen("UpdateIndex"); err != nil {
		return UpdateReport{}, err
	}
	var report UpdateReport
	err := d.registry.withLock(name, func(v *View) error {
		r, err := d.indexer.UpdateIndex(ctx, v)
		report = r
		return err
	})
	if err != nil {
		return UpdateReport{}, err
	}
	return report, nil
}

// Query executes opts against the named view, refreshing the index first
// unless opts.Stale is set (spec.md §4.6).
func (d *Database) Query(ctx context.Context, name string, opts QueryOptions) (QueryResult, error) {
	if err := d.guardOpen("Query"); err != nil {
		return QueryResult{}, err
	}
	v := d.registry.Lookup(name)
	if v == nil {
		return QueryResult{}, newError(KindNotFound, "Query", "no such view: "+name, nil)
	}
	if !opts.Stale {
		if _, err := d.UpdateIndex(ctx, name); err != nil {
			return QueryResult{}, err
		}
	}
	return d.executor.ExecuteQuery(ctx, v, opts)
}

// DropView deletes the named view's persisted index rows and removes it
// from the registry.
func (d *Database) DropView(ctx context.Context, name string) error {
	if err := d.guardOpen("DropView"); err != nil {
		return err
	}
	if err := d.store.DeleteView(ctx, name); err != nil {
		return newError(KindDbError, "DropView", "deleting view storage", err)
	}
	d.registry.Unregister(name)
	return nil
}

// Close releases the underlying IndexStore. Calls made after Close return
// KindNotOpen errors (spec.md §7, "closed database").
func (d *Database) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		err = d.store.Close()
	})
	return err
}

func (d *Database) guardOpen(op string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return newError(KindNotOpen, op, "database is closed", nil)
	}
	return nil
}
