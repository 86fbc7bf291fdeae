package view

import "context"

// StoredView is the persisted bookkeeping row for a view: its storage
// identity, the version it was last built against, and how far the index
// has been brought forward (spec.md §4.2, schema table "views").
type StoredView struct {
	ViewID       int64
	Name         string
	Version      string
	Collation    CollationMode
	LastSequence int64
	TotalRows    int
}

// Bound is one endpoint of a range scan: a collation key plus, for ties on
// that key, a document ID tie-breaker (spec.md §4.5, startKeyDocId /
// endKeyDocId).
type Bound struct {
	Key       JSONValue
	Inclusive bool
	DocID     string
}

// ScanPlan is the IndexStore-level description of a single view scan, as
// produced by the QueryPlanner (spec.md §4.5) from QueryOptions. Exactly
// one of Points or the Lower/Upper bounds is meaningful: a non-nil Points
// slice selects exact-match fetches (the "keys" query form) and bounds are
// ignored.
type ScanPlan struct {
	Points     []JSONValue
	Lower      *Bound
	Upper      *Bound
	Ascending  bool
}

// IndexEntry is one persisted map-phase row (spec.md §3, "IndexEntry").
type IndexEntry struct {
	Sequence int64
	DocID    string
	Key      JSONValue
	Value    JSONValue
}

// IndexCursor streams IndexEntry rows in the order fixed by the ScanPlan
// that produced it.
type IndexCursor interface {
	Next() (IndexEntry, bool, error)
	Close() error
}

// IndexWriteTxn groups every mutation UpdateIndex needs to make into one
// atomic unit of work: the invalidation sweep, the new emissions and the
// final bookkeeping update all land in a single underlying transaction, so
// a failure partway through leaves LastSequence unmoved and every emission
// rolled back (spec.md §4.4, invariant "all-or-nothing update").
type IndexWriteTxn interface {
	// UpsertView ensures a views row exists for name, creating it with
	// LastSequence 0 if absent. versionChanged is true when a row already
	// existed under a different Version; the caller must then purge the
	// view's existing maps before writing new ones.
	UpsertView(name, version string, collation CollationMode) (viewID int64, versionChanged bool, err error)
	DeleteMapsForView(viewID int64) error
	DeleteMapsBySequence(viewID int64, sequence int64) error
	InsertMap(viewID int64, entry IndexEntry) error
	SetViewState(viewID int64, lastSequence int64, totalRows int) error

	// GetLiveSequence and its setters maintain a docID -> sequence index
	// mirroring CouchDB's id-btree: the sequence a document's emissions
	// are currently filed under, so the indexer can find and purge a
	// document's stale emissions in O(its own row count) instead of
	// scanning the whole view when its winning revision changes
	// (spec.md §4.4, "superseded revision cleanup").
	GetLiveSequence(viewID int64, docID string) (sequence int64, ok bool, err error)
	SetLiveSequence(viewID int64, docID string, sequence int64) error
	ClearLiveSequence(viewID int64, docID string) error
}

// IndexStore is the persistence boundary for view bookkeeping and map-phase
// rows (spec.md §4.2). It never touches document bodies or revision
// history — that is DocumentStore's job — which keeps the index
// substrate swappable independently of the document store backing it.
type IndexStore interface {
	GetView(ctx context.Context, name string) (*StoredView, error)
	DeleteView(ctx context.Context, name string) error
	CountRows(ctx context.Context, viewID int64) (int, error)
	ScanIndex(ctx context.Context, viewID int64, collation CollationMode, plan ScanPlan) (IndexCursor, error)

	// WithWriteTxn runs fn inside a single write transaction; an error
	// returned by fn rolls the whole transaction back.
	WithWriteTxn(ctx context.Context, fn func(IndexWriteTxn) error) error

	Close() error
}
