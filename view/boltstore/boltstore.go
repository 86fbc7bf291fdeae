// Package boltstore is the durable IndexStore implementation backing the
// view engine, grounded on db/bolt/bolt.go's *bolt.DB wrapper pattern from
// the evalgo-org/eve tree: open one file, hand out bucket-scoped
// Put/Get/Delete helpers, and lean on bbolt's own Update/View transactions
// for the single-writer/MVCC-reader semantics the engine's concurrency
// model requires (spec.md §5).
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/evalgo-org/couchview/view"
)

var (
	bucketViews     = []byte("views")
	bucketViewSeq   = []byte("view_seq")
	bucketMaps      = []byte("maps")
	bucketMapsBySeq = []byte("maps_by_seq")
	bucketLive      = []byte("live")
)

// Store is a view.IndexStore backed by a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the bbolt file at path and ensures every bucket
// the store needs exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketViews, bucketViewSeq, bucketMaps, bucketMapsBySeq, bucketLive} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type storedViewRow struct {
	ViewID       int64  `json:"view_id"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Collation    int    `json:"collation"`
	LastSequence int64  `json:"last_sequence"`
	TotalRows    int    `json:"total_rows"`
}

func (s *Store) GetView(ctx context.Context, name string) (*view.StoredView, error) {
	var out *view.StoredView
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketViews).Get([]byte(name))
		if raw == nil {
			return nil
		}
		var row storedViewRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		out = &view.StoredView{
			ViewID:       row.ViewID,
			Name:         row.Name,
			Version:      row.Version,
			Collation:    view.CollationMode(row.Collation),
			LastSequence: row.LastSequence,
			TotalRows:    row.TotalRows,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: GetView: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteView(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		views := tx.Bucket(bucketViews)
		raw := views.Get([]byte(name))
		if raw == nil {
			return nil
		}
		var row storedViewRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		if err := deleteMapsForView(tx, row.ViewID); err != nil {
			return err
		}
		return views.Delete([]byte(name))
	})
}

func (s *Store) CountRows(ctx context.Context, viewID int64) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMaps).Cursor()
		prefix := be64(viewID)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

type mapRowValue struct {
	Sequence  int64           `json:"sequence"`
	DocID     string          `json:"doc_id"`
	KeyJSON   json.RawMessage `json:"key"`
	ValueJSON json.RawMessage `json:"value"`
}

// mapPhysicalKey builds the bbolt key for one map-phase row: viewID, then
// the order-preserving encoding of the emitted key (so a plain byte-range
// scan of this bucket visits rows in collation order), then the doc ID and
// sequence as tie-breakers for rows sharing an equal key.
func mapPhysicalKey(viewID int64, collation view.CollationMode, key view.JSONValue, docID string, sequence int64) []byte {
	var buf bytes.Buffer
	buf.Write(be64(viewID))
	buf.Write(view.EncodeOrderPreserving(key, collation))
	buf.WriteByte(0x00)
	buf.WriteString(docID)
	buf.WriteByte(0x00)
	buf.Write(be64(sequence))
	return buf.Bytes()
}

func (s *Store) ScanIndex(ctx context.Context, viewID int64, collation view.CollationMode, plan view.ScanPlan) (view.IndexCursor, error) {
	var rows []view.IndexEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		maps := tx.Bucket(bucketMaps)
		if len(plan.Points) > 0 {
			for _, pt := range plan.Points {
				lower := append(be64(viewID), view.EncodeOrderPreserving(pt, collation)...)
				c := maps.Cursor()
				for k, v := c.Seek(lower); k != nil && bytes.HasPrefix(k, lower); k, v = c.Next() {
					e, err := decodeMapRow(v)
					if err != nil {
						return err
					}
					rows = append(rows, e)
				}
			}
			return nil
		}

		prefix := be64(viewID)
		lowerKey := prefix
		if plan.Lower != nil {
			lowerKey = append(append([]byte{}, prefix...), view.EncodeOrderPreserving(plan.Lower.Key, collation)...)
		}
		c := maps.Cursor()
		for k, v := c.Seek(lowerKey); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			e, err := decodeMapRow(v)
			if err != nil {
				return err
			}
			if plan.Lower != nil {
				cmp := view.Compare(e.Key, plan.Lower.Key, collation)
				if cmp < 0 {
					continue
				}
				if cmp == 0 {
					if !plan.Lower.Inclusive {
						continue
					}
					if plan.Lower.DocID != "" && e.DocID < plan.Lower.DocID {
						continue
					}
				}
			}
			if plan.Upper != nil {
				cmp := view.Compare(e.Key, plan.Upper.Key, collation)
				if cmp > 0 || (cmp == 0 && !plan.Upper.Inclusive) {
					continue
				}
			}
			rows = append(rows, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: ScanIndex: %w", err)
	}
	if !plan.Ascending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return &cursor{rows: rows}, nil
}

func decodeMapRow(raw []byte) (view.IndexEntry, error) {
	var row mapRowValue
	if err := json.Unmarshal(raw, &row); err != nil {
		return view.IndexEntry{}, err
	}
	key, err := view.ParseJSON(row.KeyJSON)
	if err != nil {
		return view.IndexEntry{}, err
	}
	val, err := view.ParseJSON(row.ValueJSON)
	if err != nil {
		return view.IndexEntry{}, err
	}
	return view.IndexEntry{Sequence: row.Sequence, DocID: row.DocID, Key: key, Value: val}, nil
}

type cursor struct {
	rows []view.IndexEntry
	pos  int
}

func (c *cursor) Next() (view.IndexEntry, bool, error) {
	if c.pos >= len(c.rows) {
		return view.IndexEntry{}, false, nil
	}
	e := c.rows[c.pos]
	c.pos++
	return e, true, nil
}

func (c *cursor) Close() error { return nil }

func (s *Store) WithWriteTxn(ctx context.Context, fn func(view.IndexWriteTxn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&writeTxn{tx: tx, collation: make(map[int64]view.CollationMode)})
	})
}

type writeTxn struct {
	tx        *bbolt.Tx
	collation map[int64]view.CollationMode
}

func be64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func (t *writeTxn) UpsertView(name, version string, collation view.CollationMode) (int64, bool, error) {
	views := t.tx.Bucket(bucketViews)
	raw := views.Get([]byte(name))
	if raw == nil {
		seqBucket := t.tx.Bucket(bucketViewSeq)
		next := int64(1)
		if v := seqBucket.Get([]byte("next")); v != nil {
			next = int64(binary.BigEndian.Uint64(v)) + 1
		}
		if err := seqBucket.Put([]byte("next"), be64(next)); err != nil {
			return 0, false, err
		}
		row := storedViewRow{ViewID: next, Name: name, Version: version, Collation: int(collation)}
		buf, err := json.Marshal(row)
		if err != nil {
			return 0, false, err
		}
		if err := views.Put([]byte(name), buf); err != nil {
			return 0, false, err
		}
		t.collation[next] = collation
		return next, false, nil
	}

	var row storedViewRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return 0, false, err
	}
	changed := row.Version != version
	row.Version = version
	row.Collation = int(collation)
	buf, err := json.Marshal(row)
	if err != nil {
		return 0, false, err
	}
	if err := views.Put([]byte(name), buf); err != nil {
		return 0, false, err
	}
	t.collation[row.ViewID] = collation
	return row.ViewID, changed, nil
}

func deleteMapsForView(tx *bbolt.Tx, viewID int64) error {
	prefix := be64(viewID)
	if err := deleteByPrefix(tx.Bucket(bucketMaps), prefix); err != nil {
		return err
	}
	if err := deleteByPrefix(tx.Bucket(bucketMapsBySeq), prefix); err != nil {
		return err
	}
	return deleteByPrefix(tx.Bucket(bucketLive), prefix)
}

func deleteByPrefix(b *bbolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte{}, k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTxn) DeleteMapsForView(viewID int64) error {
	return deleteMapsForView(t.tx, viewID)
}

func (t *writeTxn) DeleteMapsBySequence(viewID int64, sequence int64) error {
	bySeq := t.tx.Bucket(bucketMapsBySeq)
	maps := t.tx.Bucket(bucketMaps)
	prefix := append(be64(viewID), be64(sequence)...)
	c := bySeq.Cursor()
	var bySeqKeys [][]byte
	var primaryKeys [][]byte
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		bySeqKeys = append(bySeqKeys, append([]byte{}, k...))
		primaryKeys = append(primaryKeys, append([]byte{}, v...))
	}
	for _, k := range primaryKeys {
		if err := maps.Delete(k); err != nil {
			return err
		}
	}
	for _, k := range bySeqKeys {
		if err := bySeq.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTxn) InsertMap(viewID int64, entry view.IndexEntry) error {
	collation, ok := t.collation[viewID]
	if !ok {
		// UpsertView always runs first in the same transaction in normal
		// use; fall back to a lookup so InsertMap stays correct even if
		// called on its own (e.g. from a future caller or a test).
		c := t.tx.Bucket(bucketViews).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row storedViewRow
			if err := json.Unmarshal(v, &row); err == nil && row.ViewID == viewID {
				collation = view.CollationMode(row.Collation)
				break
			}
		}
		t.collation[viewID] = collation
	}

	primaryKey := mapPhysicalKey(viewID, collation, entry.Key, entry.DocID, entry.Sequence)
	value := mapRowValue{
		Sequence:  entry.Sequence,
		DocID:     entry.DocID,
		KeyJSON:   view.MarshalCanonical(entry.Key),
		ValueJSON: view.MarshalCanonical(entry.Value),
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketMaps).Put(primaryKey, buf); err != nil {
		return err
	}

	bySeq := t.tx.Bucket(bucketMapsBySeq)
	uniq, err := bySeq.NextSequence()
	if err != nil {
		return err
	}
	seqKey := append(be64(viewID), be64(entry.Sequence)...)
	seqKey = append(seqKey, []byte(entry.DocID)...)
	seqKey = append(seqKey, be64(int64(uniq))...)
	return bySeq.Put(seqKey, primaryKey)
}

func (t *writeTxn) SetViewState(viewID int64, lastSequence int64, totalRows int) error {
	views := t.tx.Bucket(bucketViews)
	c := views.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var row storedViewRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if row.ViewID != viewID {
			continue
		}
		row.LastSequence = lastSequence
		row.TotalRows = totalRows
		buf, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return views.Put(k, buf)
	}
	return fmt.Errorf("boltstore: SetViewState: no view with id %d", viewID)
}

func liveKey(viewID int64, docID string) []byte {
	return append(be64(viewID), []byte(docID)...)
}

func (t *writeTxn) GetLiveSequence(viewID int64, docID string) (int64, bool, error) {
	raw := t.tx.Bucket(bucketLive).Get(liveKey(viewID, docID))
	if raw == nil {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

func (t *writeTxn) SetLiveSequence(viewID int64, docID string, sequence int64) error {
	return t.tx.Bucket(bucketLive).Put(liveKey(viewID, docID), be64(sequence))
}

func (t *writeTxn) ClearLiveSequence(viewID int64, docID string) error {
	return t.tx.Bucket(bucketLive).Delete(liveKey(viewID, docID))
}
