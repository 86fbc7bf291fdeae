package view

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// engineExecutor is the concrete QueryExecutor: it turns a ScanPlan into
// an ordered row stream, then applies reduce/group or skip/limit/include-docs
// post-processing (spec.md §4.6, "QueryExecutor").
type engineExecutor struct {
	store IndexStore
	docs  DocumentStore
	log   *logrus.Entry
}

func newExecutor(store IndexStore, docs DocumentStore, log *logrus.Entry) *engineExecutor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &engineExecutor{store: store, docs: docs, log: log}
}

func (ex *engineExecutor) ExecuteQuery(ctx context.Context, v *View, opts QueryOptions) (QueryResult, error) {
	const op = "ExecuteQuery"

	if opts.Reduce != nil && *opts.Reduce && v.Reduce == nil {
		return QueryResult{}, newError(KindBadRequest, op, "reduce=true requested but view has no reduce function", nil)
	}
	if opts.IncludeDocs && opts.Reduce != nil && *opts.Reduce {
		return QueryResult{}, newError(KindBadRequest, op, "include_docs is incompatible with reduce", nil)
	}

	stored, err := ex.store.GetView(ctx, v.Name)
	if err != nil {
		return QueryResult{}, newError(KindDbError, op, "loading view state", err)
	}
	if stored == nil {
		return QueryResult{}, newError(KindNotFound, op, "view has never been built", nil)
	}
	if stored.Version != v.Version && !opts.Stale {
		return QueryResult{}, newError(KindConflict, op, "view definition changed; call UpdateIndex before querying", nil)
	}

	plan, err := buildScanPlan(opts)
	if err != nil {
		return QueryResult{}, err
	}

	cursor, err := ex.store.ScanIndex(ctx, stored.ViewID, v.Collation, plan)
	if err != nil {
		return QueryResult{}, newError(KindDbError, op, "scanning index", err)
	}
	defer cursor.Close()

	var entries []IndexEntry
	for {
		if err := ctx.Err(); err != nil {
			return QueryResult{}, newError(KindCancelled, op, "context cancelled during scan", err)
		}
		e, ok, err := cursor.Next()
		if err != nil {
			return QueryResult{}, newError(KindDbError, op, "reading index row", err)
		}
		if !ok {
			break
		}
		entries = append(entries, e)
	}

	rows := make([]QueryRow, len(entries))
	for i, e := range entries {
		rows[i] = QueryRow{Key: e.Key, Value: e.Value, DocID: e.DocID}
	}

	doReduce := v.Reduce != nil && (opts.Reduce == nil || *opts.Reduce)
	if doReduce {
		reduced, err := applyReduce(v.Reduce, rows, opts, v.Collation)
		if err != nil {
			return QueryResult{}, newError(KindDbError, op, "reducing rows", err)
		}
		return QueryResult{Rows: reduced, TotalRows: -1}, nil
	}

	total := len(rows)
	start := opts.Skip
	if start > len(rows) {
		start = len(rows)
	}
	rows = rows[start:]
	entries = entries[start:]
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
		entries = entries[:opts.Limit]
	}

	if opts.IncludeDocs {
		maxSeq := int64(-1) // lazily resolved on the first linked-document row
		for i := range rows {
			targetID, asOf := entries[i].DocID, entries[i].Sequence
			if linkedID, ok := linkedDocID(rows[i].Value); ok {
				if maxSeq < 0 {
					maxSeq, err = ex.docs.MaxSequence(ctx)
					if err != nil {
						return QueryResult{}, newError(KindDbError, op, "reading document store sequence for include_docs", err)
					}
				}
				targetID, asOf = linkedID, maxSeq
			}
			doc, err := ex.loadIncludedDoc(ctx, targetID, asOf)
			if err != nil {
				return QueryResult{}, newError(KindDbError, op, "loading document body for include_docs", err)
			}
			rows[i].Doc = doc
		}
	}

	if opts.PostFilter != nil {
		filtered := rows[:0]
		for i := range rows {
			if ex.safePostFilter(v, opts.PostFilter, rows[i]) {
				filtered = append(filtered, rows[i])
			}
		}
		rows = filtered
	}

	return QueryResult{Rows: rows, TotalRows: total}, nil
}

// loadIncludedDoc resolves the current (as of asOf) non-deleted revision of
// docID and returns its body, or nil if the document doesn't exist, is
// deleted, or has since been compacted away.
func (ex *engineExecutor) loadIncludedDoc(ctx context.Context, docID string, asOf int64) (*JSONValue, error) {
	winner, ok, err := ex.docs.WinningRevisionAtOrBefore(ctx, docID, asOf)
	if err != nil {
		return nil, err
	}
	if !ok || winner.Deleted {
		return nil, nil
	}
	body, err := ex.docs.LoadBody(ctx, docID, winner.RevID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &body, nil
}

// linkedDocID reports whether value is a CouchDB "linked document" marker
// — an object carrying an "_id" string member — and returns that id
// (spec.md §4.6, "supports CouchDB linked documents").
func linkedDocID(value JSONValue) (string, bool) {
	if value.Type() != JSONObject {
		return "", false
	}
	for _, kv := range value.Members() {
		if kv.Key == "_id" && kv.Value.Type() == JSONString {
			return kv.Value.StringValue(), true
		}
	}
	return "", false
}

// safePostFilter applies opts.PostFilter to row, dropping the row and
// logging instead of failing the whole query if the filter panics
// (spec.md §7, "Query errors surface to the caller unless postFilter
// itself throws, in which case that row is dropped with a log entry").
func (ex *engineExecutor) safePostFilter(v *View, filter func(QueryRow) bool, row QueryRow) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			ex.log.WithField("view", v.Name).WithField("doc_id", row.DocID).
				WithError(fmt.Errorf("%v", r)).Warn("postFilter panicked, dropping row")
			keep = false
		}
	}()
	return filter(row)
}
