package view

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// engineIndexer is the concrete Indexer, grounded on
// andrewwebber-walrus/views.go's updateView (the parallel map-and-merge
// loop over a lolrusView) but rebuilt around a durable IndexStore and an
// abstract DocumentStore instead of an in-process slice index.
type engineIndexer struct {
	store IndexStore
	docs  DocumentStore
	log   *logrus.Entry
}

// newIndexer constructs an Indexer over the given stores.
func newIndexer(store IndexStore, docs DocumentStore, log *logrus.Entry) *engineIndexer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &engineIndexer{store: store, docs: docs, log: log}
}

// UpdateIndex brings v's persisted index forward to the document store's
// current MaxSequence (spec.md §4.4).
func (ix *engineIndexer) UpdateIndex(ctx context.Context, v *View) (UpdateReport, error) {
	const op = "UpdateIndex"

	dbMax, err := ix.docs.MaxSequence(ctx)
	if err != nil {
		return UpdateReport{}, newError(KindDbError, op, "reading document store sequence", err)
	}

	stored, err := ix.store.GetView(ctx, v.Name)
	if err != nil {
		return UpdateReport{}, newError(KindDbError, op, "loading view state", err)
	}

	from := int64(0)
	if stored != nil && stored.Version == v.Version {
		from = stored.LastSequence
	}
	if stored != nil && stored.Version == v.Version && from >= dbMax {
		return UpdateReport{Outcome: NotModified, FromSequence: from, ToSequence: dbMax}, nil
	}

	iter, err := ix.docs.ScanRevisionsSince(ctx, from)
	if err != nil {
		return UpdateReport{}, newError(KindDbError, op, "scanning revisions", err)
	}
	defer iter.Close()

	touched := make(map[string]int64) // docID -> highest sequence seen this pass
	for {
		if err := ctx.Err(); err != nil {
			return UpdateReport{}, newError(KindCancelled, op, "context cancelled during scan", err)
		}
		rev, ok, err := iter.Next(ctx)
		if err != nil {
			return UpdateReport{}, newError(KindDbError, op, "reading next revision", err)
		}
		if !ok {
			break
		}
		if rev.Sequence > touched[rev.DocID] {
			touched[rev.DocID] = rev.Sequence
		}
	}

	docIDs := make([]string, 0, len(touched))
	for id := range touched {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	report := UpdateReport{Outcome: Updated, FromSequence: from, ToSequence: dbMax}

	err = ix.store.WithWriteTxn(ctx, func(txn IndexWriteTxn) error {
		viewID, versionChanged, err := txn.UpsertView(v.Name, v.Version, v.Collation)
		if err != nil {
			return fmt.Errorf("upserting view row: %w", err)
		}
		if versionChanged {
			ix.log.WithField("view", v.Name).Info("view definition changed, rebuilding index from scratch")
			if err := txn.DeleteMapsForView(viewID); err != nil {
				return fmt.Errorf("purging superseded view rows: %w", err)
			}
		}

		for _, docID := range docIDs {
			if err := ix.reindexDocument(ctx, txn, viewID, v, docID, dbMax, &report); err != nil {
				return fmt.Errorf("reindexing document %q: %w", docID, err)
			}
		}

		total, err := ix.store.CountRows(ctx, viewID)
		if err != nil {
			return fmt.Errorf("counting rows: %w", err)
		}
		if err := txn.SetViewState(viewID, dbMax, total); err != nil {
			return fmt.Errorf("updating view state: %w", err)
		}
		return nil
	})
	if err != nil {
		return UpdateReport{}, newError(KindDbError, op, "applying index update", err)
	}

	return report, nil
}

func (ix *engineIndexer) reindexDocument(ctx context.Context, txn IndexWriteTxn, viewID int64, v *View, docID string, asOf int64, report *UpdateReport) error {
	if strings.HasPrefix(docID, "_design/") {
		return nil
	}

	liveSeq, hadLive, err := txn.GetLiveSequence(viewID, docID)
	if err != nil {
		return fmt.Errorf("reading live sequence: %w", err)
	}

	winner, ok, err := ix.docs.WinningRevisionAtOrBefore(ctx, docID, asOf)
	if err != nil {
		return fmt.Errorf("resolving winning revision: %w", err)
	}

	if !ok || winner.Deleted {
		if hadLive {
			if err := txn.DeleteMapsBySequence(viewID, liveSeq); err != nil {
				return fmt.Errorf("purging maps for deleted document: %w", err)
			}
			if err := txn.ClearLiveSequence(viewID, docID); err != nil {
				return fmt.Errorf("clearing live sequence: %w", err)
			}
			report.EntriesPurged++
		}
		return nil
	}

	if hadLive && liveSeq == winner.Sequence {
		// Winning revision unchanged since the last update; nothing to do.
		return nil
	}

	if hadLive {
		if err := txn.DeleteMapsBySequence(viewID, liveSeq); err != nil {
			return fmt.Errorf("purging stale maps: %w", err)
		}
		report.EntriesPurged++
	}

	body, err := ix.docs.LoadBody(ctx, docID, winner.RevID)
	if err != nil {
		return fmt.Errorf("loading document body: %w", err)
	}

	var mapErr error
	var emitted int
	emit := func(key, value interface{}) {
		if mapErr != nil {
			return
		}
		k, err := ToJSONValue(key)
		if err != nil {
			mapErr = newError(KindMapFnFailure, "MapFunc", "emitted key is not representable as JSON", err)
			return
		}
		val := Null()
		if value != nil {
			val, err = ToJSONValue(value)
			if err != nil {
				mapErr = newError(KindMapFnFailure, "MapFunc", "emitted value is not representable as JSON", err)
				return
			}
		}
		if err := txn.InsertMap(viewID, IndexEntry{Sequence: winner.Sequence, DocID: docID, Key: k, Value: val}); err != nil {
			mapErr = fmt.Errorf("inserting map row: %w", err)
			return
		}
		emitted++
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				mapErr = newError(KindMapFnFailure, "MapFunc", fmt.Sprintf("map function panicked: %v", r), nil)
			}
		}()
		v.Map(body, emit)
	}()
	if mapErr != nil {
		if !hasKind(mapErr, KindMapFnFailure) {
			// A storage failure inside emit (e.g. InsertMap) is not user
			// code misbehaving; it must abort the whole transaction like
			// any other storage error (spec.md §7, "Storage errors always
			// surface").
			return mapErr
		}
		// Map functions are user code and are declared pure but allowed to
		// misbehave (spec.md §4.4/§7): a failure on one document is logged
		// and swallowed here rather than aborting the whole update, so the
		// indexer continues on to the rest of docIDs with whatever
		// emissions this document produced before failing left in place.
		ix.log.WithField("view", v.Name).WithField("doc_id", docID).WithError(mapErr).Warn("map function failed for document, skipping")
		return nil
	}

	if emitted > 0 {
		if err := txn.SetLiveSequence(viewID, docID, winner.Sequence); err != nil {
			return fmt.Errorf("recording live sequence: %w", err)
		}
	}
	report.DocsMapped++
	report.EntriesWritten += emitted
	return nil
}

// compareRevIDs orders two CouchDB-style revision IDs ("<generation>-<hash>")
// the way CouchDB resolves conflicts: higher generation wins; ties are
// broken by comparing the hash suffix lexicographically (spec.md §4.4,
// "winning revision"). Malformed IDs (missing the "-" separator) fall back
// to a pure lexicographic comparison of the whole string.
func compareRevIDs(a, b string) int {
	genA, hashA, okA := splitRevID(a)
	genB, hashB, okB := splitRevID(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	if genA != genB {
		if genA < genB {
			return -1
		}
		return 1
	}
	return strings.Compare(hashA, hashB)
}

func splitRevID(rev string) (generation int, hash string, ok bool) {
	idx := strings.IndexByte(rev, '-')
	if idx < 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(rev[:idx])
	if err != nil {
		return 0, "", false
	}
	return n, rev[idx+1:], true
}
