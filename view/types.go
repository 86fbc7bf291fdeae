package view

import "context"

// EmitFunc is the callback a MapFunc calls once per index entry it wants to
// contribute for a document. key and value are native Go values, converted
// with ToJSONValue; value may be nil.
type EmitFunc func(key, value interface{})

// MapFunc computes zero or more (key, value) emissions for one document
// body. It must be a pure function of doc: given the same body it must
// always emit the same sequence of pairs (spec.md §4.1, "Map function").
type MapFunc func(doc JSONValue, emit EmitFunc)

// ReduceFunc combines the values emitted under a run of equal keys (or the
// partial reduction results of prior ReduceFunc calls, when rereduce is
// true) into a single JSONValue (spec.md §4.7, "Reducer").
type ReduceFunc func(keys []JSONValue, values []JSONValue, rereduce bool) (JSONValue, error)

// View is a named, versioned index definition: a map function, an optional
// reduce function and the collation mode its keys are ordered under.
// Changing Map or Reduce means constructing a new View with a new Version
// (spec.md §3, "View"); SetCollation changes Collation in place.
type View struct {
	Name      string
	Version   string
	Collation CollationMode
	Map       MapFunc
	Reduce    ReduceFunc

	// db is the owning Database, set once by Database.RegisterView. It is
	// the "lookup handle" spec.md §9's cyclic-graph design note calls for:
	// the View points back at its Database rather than the other way
	// around chasing back-pointers across lifetimes.
	db *Database
}

// SetCollation changes the collation mode future UpdateIndex/Query calls
// against v use (spec.md §6, "view.setCollation"). Because every
// persisted key is physically ordered under the collation active when it
// was written, changing it without also bumping Version leaves existing
// rows sorted under the old collation until the next full rebuild.
func (v *View) SetCollation(mode CollationMode) {
	v.Collation = mode
}

// UpdateIndex brings v's persisted index forward, equivalent to
// Database.UpdateIndex(ctx, v.Name) (spec.md §6, "view.updateIndex").
func (v *View) UpdateIndex(ctx context.Context) (UpdateReport, error) {
	if v.db == nil {
		return UpdateReport{}, newError(KindNotOpen, "View.UpdateIndex", "view is not registered with a database", nil)
	}
	return v.db.UpdateIndex(ctx, v.Name)
}

// Query runs opts against v, equivalent to Database.Query(ctx, v.Name,
// opts) (spec.md §6, "view.query").
func (v *View) Query(ctx context.Context, opts QueryOptions) (QueryResult, error) {
	if v.db == nil {
		return QueryResult{}, newError(KindNotOpen, "View.Query", "view is not registered with a database", nil)
	}
	return v.db.Query(ctx, v.Name, opts)
}

// DeleteIndex clears v's persisted rows without unregistering it (spec.md
// §6, "view.deleteIndex").
func (v *View) DeleteIndex(ctx context.Context) error {
	if v.db == nil {
		return newError(KindNotOpen, "View.DeleteIndex", "view is not registered with a database", nil)
	}
	return v.db.DeleteIndex(ctx, v.Name)
}

// Delete removes v's persisted rows and its registration (spec.md §6,
// "view.delete"), distinct from DeleteIndex.
func (v *View) Delete(ctx context.Context) error {
	if v.db == nil {
		return newError(KindNotOpen, "View.Delete", "view is not registered with a database", nil)
	}
	db := v.db
	v.db = nil
	return db.DropView(ctx, v.Name)
}

// TotalRows returns the number of persisted rows for v as of its last
// UpdateIndex (spec.md §6, "view.totalRows").
func (v *View) TotalRows(ctx context.Context) (int, error) {
	stored, err := v.stats(ctx, "View.TotalRows")
	if err != nil || stored == nil {
		return 0, err
	}
	return stored.TotalRows, nil
}

// LastSequenceIndexed returns the document store sequence v's index was
// last brought current to (spec.md §6, "view.lastSequenceIndexed").
func (v *View) LastSequenceIndexed(ctx context.Context) (int64, error) {
	stored, err := v.stats(ctx, "View.LastSequenceIndexed")
	if err != nil || stored == nil {
		return 0, err
	}
	return stored.LastSequence, nil
}

// IsStale reports whether v's index lags the document store's current max
// sequence (spec.md §6, "view.isStale() = lastSequenceIndexed <
// db.maxSequence").
func (v *View) IsStale(ctx context.Context) (bool, error) {
	if v.db == nil {
		return false, newError(KindNotOpen, "View.IsStale", "view is not registered with a database", nil)
	}
	last, err := v.LastSequenceIndexed(ctx)
	if err != nil {
		return false, err
	}
	dbMax, err := v.db.docs.MaxSequence(ctx)
	if err != nil {
		return false, newError(KindDbError, "View.IsStale", "reading document store sequence", err)
	}
	return last < dbMax, nil
}

func (v *View) stats(ctx context.Context, op string) (*StoredView, error) {
	if v.db == nil {
		return nil, newError(KindNotOpen, op, "view is not registered with a database", nil)
	}
	return v.db.Stats(ctx, v.Name)
}

// UpdateOutcome reports what UpdateIndex did.
type UpdateOutcome int

const (
	// Updated means the index was brought current with the document
	// store (possibly a no-op if it already was).
	Updated UpdateOutcome = iota
	// NotModified means the index was already current as of the
	// requested staleness bound and no work was done.
	NotModified
)

// UpdateReport summarizes one UpdateIndex call.
type UpdateReport struct {
	Outcome        UpdateOutcome
	FromSequence   int64
	ToSequence     int64
	DocsMapped     int
	EntriesWritten int
	EntriesPurged  int
}

// QueryOptions configures a range/point query against a view
// (spec.md §4.5, "QueryPlanner").
type QueryOptions struct {
	Key          *JSONValue
	Keys         []JSONValue
	StartKey     *JSONValue
	EndKey       *JSONValue
	InclusiveEnd bool
	StartKeyDocID string
	EndKeyDocID   string
	Descending   bool
	Limit        int // 0 means unbounded
	Skip         int
	PrefixDepth  int // >0 selects PrefixMatchKey semantics on EndKey
	IncludeDocs  bool
	Group        bool
	GroupLevel   int // 0 with Group=true means group by the full key
	Reduce       *bool // nil defers to View.Reduce != nil
	Stale        bool  // true allows serving from the index without updating first

	// PostFilter, if set, is applied to each constructed QueryRow; rows for
	// which it returns false are discarded (spec.md §4.5/§4.6,
	// "postFilter"). It is only consulted for non-reduced queries, since a
	// reduced/grouped query defers row construction to the Reducer
	// entirely. A panicking PostFilter drops that one row and is logged,
	// rather than failing the query (spec.md §7).
	PostFilter func(QueryRow) bool
}

// QueryRow is one row of a query result: either a map-phase row (DocID set,
// Value is the emitted value) or a reduced row (DocID empty, Value is the
// reduction result for Key's group).
type QueryRow struct {
	Key   JSONValue
	Value JSONValue
	DocID string
	Doc   *JSONValue // populated only when IncludeDocs is set
}

// QueryResult is the outcome of ExecuteQuery.
type QueryResult struct {
	Rows      []QueryRow
	TotalRows int // count of rows available before Limit/Skip, -1 if reduced
}

// Indexer is implemented by the engine's incremental index maintainer
// (spec.md §4.4).
type Indexer interface {
	UpdateIndex(ctx context.Context, v *View) (UpdateReport, error)
}

// QueryExecutor is implemented by the engine's query path (spec.md §4.6).
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, v *View, opts QueryOptions) (QueryResult, error)
}
