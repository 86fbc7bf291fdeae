package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/couchview/view"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreUpsertAndGetView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var viewID int64
	err := s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		id, changed, err := txn.UpsertView("by_status", "v1", view.CollationUnicode)
		require.NoError(t, err)
		assert.False(t, changed)
		viewID = id
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), viewID)

	sv, err := s.GetView(ctx, "by_status")
	require.NoError(t, err)
	require.NotNil(t, sv)
	assert.Equal(t, "v1", sv.Version)
}

func TestStoreInsertMapAndScan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var viewID int64
	err := s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		id, _, err := txn.UpsertView("by_status", "v1", view.CollationUnicode)
		require.NoError(t, err)
		viewID = id
		rows := []view.IndexEntry{
			{Sequence: 1, DocID: "doc1", Key: view.Str("open"), Value: view.Null()},
			{Sequence: 2, DocID: "doc2", Key: view.Str("closed"), Value: view.Null()},
			{Sequence: 3, DocID: "doc3", Key: view.Str("open"), Value: view.Null()},
		}
		for _, r := range rows {
			if err := txn.InsertMap(viewID, r); err != nil {
				return err
			}
		}
		return txn.SetViewState(viewID, 3, 3)
	})
	require.NoError(t, err)

	count, err := s.CountRows(ctx, viewID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	cursor, err := s.ScanIndex(ctx, viewID, view.CollationUnicode, view.ScanPlan{
		Points:    []view.JSONValue{view.Str("open")},
		Ascending: true,
	})
	require.NoError(t, err)
	defer cursor.Close()

	var got []string
	for {
		e, ok, err := cursor.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e.DocID)
	}
	assert.ElementsMatch(t, []string{"doc1", "doc3"}, got)
}

func TestStoreDeleteMapsBySequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var viewID int64
	err := s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		id, _, err := txn.UpsertView("by_status", "v1", view.CollationUnicode)
		require.NoError(t, err)
		viewID = id
		return txn.InsertMap(viewID, view.IndexEntry{Sequence: 5, DocID: "doc1", Key: view.Str("open")})
	})
	require.NoError(t, err)

	err = s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		return txn.DeleteMapsBySequence(viewID, 5)
	})
	require.NoError(t, err)

	count, err := s.CountRows(ctx, viewID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStoreLiveSequenceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		_, _, err := txn.UpsertView("by_status", "v1", view.CollationUnicode)
		require.NoError(t, err)
		if err := txn.SetLiveSequence(1, "doc1", 7); err != nil {
			return err
		}
		seq, ok, err := txn.GetLiveSequence(1, "doc1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(7), seq)
		return txn.ClearLiveSequence(1, "doc1")
	})
	require.NoError(t, err)

	err = s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		_, ok, err := txn.GetLiveSequence(1, "doc1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreScanIndexHonorsLowerBoundExclusivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var viewID int64
	err := s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		id, _, err := txn.UpsertView("by_key", "v1", view.CollationUnicode)
		require.NoError(t, err)
		viewID = id
		rows := []view.IndexEntry{
			{Sequence: 1, DocID: "docA", Key: view.Str("k")},
			{Sequence: 2, DocID: "docB", Key: view.Str("k")},
		}
		for _, r := range rows {
			if err := txn.InsertMap(viewID, r); err != nil {
				return err
			}
		}
		return txn.SetViewState(viewID, 2, 2)
	})
	require.NoError(t, err)

	// Descending scan with an exclusive lower bound at "k": both rows share
	// that key, so the whole equal-key group must be dropped because the
	// bound itself is exclusive; a scan that ignored Inclusive would return
	// both rows.
	cursor, err := s.ScanIndex(ctx, viewID, view.CollationUnicode, view.ScanPlan{
		Lower:     &view.Bound{Key: view.Str("k"), Inclusive: false},
		Upper:     &view.Bound{Key: view.Str("k"), Inclusive: true},
		Ascending: false,
	})
	require.NoError(t, err)
	defer cursor.Close()

	var got []string
	for {
		e, ok, err := cursor.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e.DocID)
	}
	assert.Empty(t, got)
}

func TestStoreDeleteViewPurgesRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var viewID int64
	err := s.WithWriteTxn(ctx, func(txn view.IndexWriteTxn) error {
		id, _, err := txn.UpsertView("by_status", "v1", view.CollationUnicode)
		require.NoError(t, err)
		viewID = id
		return txn.InsertMap(viewID, view.IndexEntry{Sequence: 1, DocID: "doc1", Key: view.Str("open")})
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteView(ctx, "by_status"))
	sv, err := s.GetView(ctx, "by_status")
	require.NoError(t, err)
	assert.Nil(t, sv)
}
