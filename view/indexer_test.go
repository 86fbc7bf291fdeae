package view

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byStatusMap(doc JSONValue, emit EmitFunc) {
	var status, id JSONValue
	for _, kv := range doc.Members() {
		switch kv.Key {
		case "status":
			status = kv.Value
		case "_id":
			id = kv.Value
		}
	}
	if status.Type() == JSONString {
		emit(status.StringValue(), id.ToGo())
	}
}

func newTestDoc(id, status string) JSONValue {
	return Obj(KV{Key: "_id", Value: Str(id)}, KV{Key: "status", Value: Str(status)})
}

func TestIndexerBuildsFromScratch(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))
	docs.put("doc2", "1-bbb", "", false, newTestDoc("doc2", "closed"))

	ix := newIndexer(store, docs, nil)
	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}

	report, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, Updated, report.Outcome)
	assert.Equal(t, 2, report.DocsMapped)
	assert.Equal(t, 2, report.EntriesWritten)

	sv, err := store.GetView(context.Background(), "by_status")
	require.NoError(t, err)
	require.NotNil(t, sv)
	assert.Equal(t, int64(2), sv.LastSequence)
	assert.Equal(t, 2, sv.TotalRows)
}

func TestIndexerNotModifiedWhenAlreadyCurrent(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	ix := newIndexer(store, docs, nil)
	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}

	_, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)

	report, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, NotModified, report.Outcome)
}

func TestIndexerHandlesNewRevisionSupersedingOld(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	ix := newIndexer(store, docs, nil)
	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	_, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)

	docs.put("doc1", "2-bbb", "1-aaa", false, newTestDoc("doc1", "closed"))
	report, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocsMapped)
	assert.Equal(t, 1, report.EntriesPurged)

	rows := store.rows[1]
	require.Len(t, rows, 1)
	assert.Equal(t, "closed", rows[0].Key.StringValue())
}

func TestIndexerPurgesOnDeletion(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	ix := newIndexer(store, docs, nil)
	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	_, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)

	docs.put("doc1", "2-bbb", "1-aaa", true, Null())
	report, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EntriesPurged)
	assert.Empty(t, store.rows[1])
}

func TestIndexerRebuildsOnVersionChange(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	ix := newIndexer(store, docs, nil)
	v1 := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	_, err := ix.UpdateIndex(context.Background(), v1)
	require.NoError(t, err)

	v2 := &View{Name: "by_status", Version: "v2", Collation: CollationUnicode, Map: func(doc JSONValue, emit EmitFunc) {
		emit("constant", nil)
	}}
	report, err := ix.UpdateIndex(context.Background(), v2)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocsMapped)
	require.Len(t, store.rows[1], 1)
	assert.Equal(t, "constant", store.rows[1][0].Key.StringValue())
}

func TestIndexerSkipsDesignDocuments(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))
	docs.put("_design/builtin", "1-aaa", "", false, newTestDoc("_design/builtin", "open"))

	ix := newIndexer(store, docs, nil)
	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}

	report, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocsMapped)
	assert.Equal(t, 1, report.EntriesWritten)

	rows := store.rows[1]
	require.Len(t, rows, 1)
	assert.Equal(t, "doc1", rows[0].DocID)
}

func TestIndexerSwallowsMapFunctionFailureForOneDocument(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("bad", "1-aaa", "", false, newTestDoc("bad", "open"))
	docs.put("good", "1-aaa", "", false, newTestDoc("good", "open"))

	ix := newIndexer(store, docs, nil)
	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: func(doc JSONValue, emit EmitFunc) {
		for _, kv := range doc.Members() {
			if kv.Key == "_id" && kv.Value.StringValue() == "bad" {
				panic("map function exploded")
			}
		}
		byStatusMap(doc, emit)
	}}

	report, err := ix.UpdateIndex(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocsMapped)
	assert.Equal(t, 1, report.EntriesWritten)

	rows := store.rows[1]
	require.Len(t, rows, 1)
	assert.Equal(t, "good", rows[0].DocID)
}

func TestCompareRevIDs(t *testing.T) {
	assert.True(t, compareRevIDs("1-aaa", "2-aaa") < 0)
	assert.True(t, compareRevIDs("2-aaa", "1-zzz") > 0)
	assert.True(t, compareRevIDs("2-aaa", "2-bbb") < 0)
	assert.Equal(t, 0, compareRevIDs("3-xyz", "3-xyz"))
}
