package view

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewHandleMethodsDelegateToDatabase(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	db := Open(store, docs, nil)
	defer db.Close()

	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	require.NoError(t, db.RegisterView(v))

	report, err := v.UpdateIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Updated, report.Outcome)

	total, err := v.TotalRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	last, err := v.LastSequenceIndexed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)

	stale, err := v.IsStale(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)

	docs.put("doc2", "1-bbb", "", false, newTestDoc("doc2", "open"))
	stale, err = v.IsStale(context.Background())
	require.NoError(t, err)
	assert.True(t, stale)

	result, err := v.Query(context.Background(), QueryOptions{Stale: true})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
}

func TestViewSetCollationMutatesRegisteredHandle(t *testing.T) {
	db := Open(newFakeIndexStore(), newFakeDocStore(), nil)
	defer db.Close()

	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	require.NoError(t, db.RegisterView(v))

	v.SetCollation(CollationRaw)
	assert.Equal(t, CollationRaw, db.View("by_status").Collation)
}

func TestViewDeleteIndexKeepsRegistrationButResetsStorage(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	db := Open(store, docs, nil)
	defer db.Close()

	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	require.NoError(t, db.RegisterView(v))
	_, err := v.UpdateIndex(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.DeleteIndex(context.Background()))

	total, err := v.TotalRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, db.View("by_status"), "DeleteIndex must not unregister the view")

	last, err := v.LastSequenceIndexed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestViewDeleteUnregistersAndPurgesStorage(t *testing.T) {
	store := newFakeIndexStore()
	docs := newFakeDocStore()
	docs.put("doc1", "1-aaa", "", false, newTestDoc("doc1", "open"))

	db := Open(store, docs, nil)
	defer db.Close()

	v := &View{Name: "by_status", Version: "v1", Collation: CollationUnicode, Map: byStatusMap}
	require.NoError(t, db.RegisterView(v))
	_, err := v.UpdateIndex(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Delete(context.Background()))
	assert.Nil(t, db.View("by_status"))

	_, err = v.UpdateIndex(context.Background())
	assert.Error(t, err, "a deleted view's handle must refuse further operations")
}

func TestViewMethodsFailBeforeRegistration(t *testing.T) {
	v := &View{Name: "unregistered", Map: byStatusMap}
	_, err := v.UpdateIndex(context.Background())
	require.Error(t, err)
	ve, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindNotOpen, ve.Kind)
}
