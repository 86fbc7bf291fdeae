package designdoc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/couchview/view"
	"github.com/evalgo-org/couchview/view/boltstore"
	"github.com/evalgo-org/couchview/view/memdocstore"
)

func newTestDB(t *testing.T) *view.Database {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return view.Open(store, memdocstore.New(), nil)
}

func byStatus(doc view.JSONValue, emit view.EmitFunc) {
	if doc.Type() != view.JSONObject {
		return
	}
	for _, m := range doc.Members() {
		if m.Key == "status" {
			emit(m.Value.StringValue(), nil)
		}
	}
}

func byType(doc view.JSONValue, emit view.EmitFunc) {
	if doc.Type() != view.JSONObject {
		return
	}
	for _, m := range doc.Members() {
		if m.Key == "type" {
			emit(m.Value.StringValue(), nil)
		}
	}
}

func countReduce(keys, values []view.JSONValue, rereduce bool) (view.JSONValue, error) {
	if rereduce {
		var total float64
		for _, v := range values {
			total += v.NumberValue()
		}
		return view.Num(total), nil
	}
	return view.Num(float64(len(values))), nil
}

func TestRegisterAddsEveryViewUnderSharedVersion(t *testing.T) {
	db := newTestDB(t)

	views, err := Register(db, "reports", "v1", map[string]ViewDefinition{
		"by_status": {Map: byStatus},
		"by_type":   {Map: byType, Reduce: countReduce},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.NotNil(t, db.View("reports.by_status"))
	assert.NotNil(t, db.View("reports.by_type"))
	assert.Equal(t, "v1", db.View("reports.by_status").Version)
	assert.Equal(t, "v1", db.View("reports.by_type").Version)
}

func TestRegisterRollsBackOnPartialFailure(t *testing.T) {
	db := newTestDB(t)

	// RegisterView rejects a view with an empty Map function (view.Database,
	// "RegisterView"); put such an entry under "by_type", which sorts after
	// "by_status", so "by_status" registers successfully before the failure
	// and Register must undo it.
	_, err := Register(db, "reports", "v1", map[string]ViewDefinition{
		"by_status": {Map: byStatus},
		"by_type":   {Map: nil},
	})
	require.Error(t, err)

	assert.Nil(t, db.View("reports.by_status"))
	assert.Nil(t, db.View("reports.by_type"))
}

func TestDeleteRemovesAllViewsForID(t *testing.T) {
	db := newTestDB(t)
	_, err := Register(db, "reports", "v1", map[string]ViewDefinition{
		"by_status": {Map: byStatus},
		"by_type":   {Map: byType},
	})
	require.NoError(t, err)

	require.NoError(t, Delete(db, "reports"))
	assert.Nil(t, db.View("reports.by_status"))
	assert.Nil(t, db.View("reports.by_type"))
}

func TestListAndGetReflectRegisteredDesignDocs(t *testing.T) {
	db := newTestDB(t)
	_, err := Register(db, "reports", "v1", map[string]ViewDefinition{
		"by_status": {Map: byStatus},
	})
	require.NoError(t, err)
	_, err = Register(db, "audit", "v2", map[string]ViewDefinition{
		"by_type": {Map: byType},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"audit", "reports"}, List(db))

	doc, ok := Get(db, "reports")
	require.True(t, ok)
	assert.Equal(t, "v1", doc.Version)
	assert.Contains(t, doc.Views, "by_status")

	_, ok = Get(db, "missing")
	assert.False(t, ok)
}
