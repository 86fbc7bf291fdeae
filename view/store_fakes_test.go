package view

import (
	"context"
	"sort"
	"sync"
)

// fakeIndexStore is an in-memory IndexStore used only by this package's own
// tests, so the indexer/planner/executor/reducer logic can be exercised
// without pulling in boltstore. boltstore has its own tests against a real
// bbolt file.
type fakeIndexStore struct {
	mu     sync.Mutex
	nextID int64
	views  map[string]*StoredView
	rows   map[int64][]IndexEntry
	live   map[int64]map[string]int64
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{
		views: make(map[string]*StoredView),
		rows:  make(map[int64][]IndexEntry),
		live:  make(map[int64]map[string]int64),
	}
}

func (s *fakeIndexStore) GetView(ctx context.Context, name string) (*StoredView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[name]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (s *fakeIndexStore) DeleteView(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[name]
	if !ok {
		return nil
	}
	delete(s.rows, v.ViewID)
	delete(s.live, v.ViewID)
	delete(s.views, name)
	return nil
}

func (s *fakeIndexStore) CountRows(ctx context.Context, viewID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[viewID]), nil
}

func (s *fakeIndexStore) ScanIndex(ctx context.Context, viewID int64, collation CollationMode, plan ScanPlan) (IndexCursor, error) {
	s.mu.Lock()
	rows := append([]IndexEntry(nil), s.rows[viewID]...)
	s.mu.Unlock()

	var filtered []IndexEntry
	if len(plan.Points) > 0 {
		for _, pt := range plan.Points {
			for _, r := range rows {
				if Compare(r.Key, pt, collation) == 0 {
					filtered = append(filtered, r)
				}
			}
		}
	} else {
		for _, r := range rows {
			if plan.Lower != nil {
				c := Compare(r.Key, plan.Lower.Key, collation)
				if c < 0 || (c == 0 && plan.Lower.DocID != "" && r.DocID < plan.Lower.DocID) {
					continue
				}
			}
			if plan.Upper != nil {
				c := Compare(r.Key, plan.Upper.Key, collation)
				if c > 0 {
					continue
				}
				if c == 0 && !plan.Upper.Inclusive {
					continue
				}
			}
			filtered = append(filtered, r)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		c := Compare(filtered[i].Key, filtered[j].Key, collation)
		if c != 0 {
			if plan.Ascending {
				return c < 0
			}
			return c > 0
		}
		if plan.Ascending {
			return filtered[i].DocID < filtered[j].DocID
		}
		return filtered[i].DocID > filtered[j].DocID
	})

	return &fakeCursor{rows: filtered}, nil
}

type fakeCursor struct {
	rows []IndexEntry
	pos  int
}

func (c *fakeCursor) Next() (IndexEntry, bool, error) {
	if c.pos >= len(c.rows) {
		return IndexEntry{}, false, nil
	}
	e := c.rows[c.pos]
	c.pos++
	return e, true, nil
}

func (c *fakeCursor) Close() error { return nil }

func (s *fakeIndexStore) WithWriteTxn(ctx context.Context, fn func(IndexWriteTxn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeWriteTxn{s: s})
}

func (s *fakeIndexStore) Close() error { return nil }

type fakeWriteTxn struct {
	s *fakeIndexStore
}

func (t *fakeWriteTxn) UpsertView(name, version string, collation CollationMode) (int64, bool, error) {
	v, ok := t.s.views[name]
	if !ok {
		t.s.nextID++
		v = &StoredView{ViewID: t.s.nextID, Name: name, Version: version, Collation: collation}
		t.s.views[name] = v
		return v.ViewID, false, nil
	}
	changed := v.Version != version
	v.Version = version
	v.Collation = collation
	return v.ViewID, changed, nil
}

func (t *fakeWriteTxn) DeleteMapsForView(viewID int64) error {
	delete(t.s.rows, viewID)
	delete(t.s.live, viewID)
	return nil
}

func (t *fakeWriteTxn) DeleteMapsBySequence(viewID int64, sequence int64) error {
	rows := t.s.rows[viewID]
	out := rows[:0]
	for _, r := range rows {
		if r.Sequence != sequence {
			out = append(out, r)
		}
	}
	t.s.rows[viewID] = out
	return nil
}

func (t *fakeWriteTxn) InsertMap(viewID int64, entry IndexEntry) error {
	t.s.rows[viewID] = append(t.s.rows[viewID], entry)
	return nil
}

func (t *fakeWriteTxn) SetViewState(viewID int64, lastSequence int64, totalRows int) error {
	for _, v := range t.s.views {
		if v.ViewID == viewID {
			v.LastSequence = lastSequence
			v.TotalRows = totalRows
		}
	}
	return nil
}

func (t *fakeWriteTxn) GetLiveSequence(viewID int64, docID string) (int64, bool, error) {
	m := t.s.live[viewID]
	if m == nil {
		return 0, false, nil
	}
	seq, ok := m[docID]
	return seq, ok, nil
}

func (t *fakeWriteTxn) SetLiveSequence(viewID int64, docID string, sequence int64) error {
	m := t.s.live[viewID]
	if m == nil {
		m = make(map[string]int64)
		t.s.live[viewID] = m
	}
	m[docID] = sequence
	return nil
}

func (t *fakeWriteTxn) ClearLiveSequence(viewID int64, docID string) error {
	if m := t.s.live[viewID]; m != nil {
		delete(m, docID)
	}
	return nil
}

// fakeDocStore is a minimal in-memory DocumentStore used by this package's
// own tests. memdocstore is the fuller reference implementation exported
// for real callers.
type fakeDocStore struct {
	mu   sync.Mutex
	revs []Revision
	body map[string]JSONValue // docID+"\x00"+revID -> body
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{body: make(map[string]JSONValue)}
}

func (d *fakeDocStore) put(docID, revID, parent string, deleted bool, body JSONValue) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq := int64(len(d.revs) + 1)
	d.revs = append(d.revs, Revision{DocID: docID, RevID: revID, ParentRevID: parent, Sequence: seq, Deleted: deleted, Current: true})
	for i := range d.revs[:len(d.revs)-1] {
		if d.revs[i].DocID == docID && d.revs[i].RevID == parent {
			d.revs[i].Current = false
		}
	}
	d.body[docID+"\x00"+revID] = body
	return seq
}

func (d *fakeDocStore) MaxSequence(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.revs)), nil
}

func (d *fakeDocStore) ScanRevisionsSince(ctx context.Context, since int64) (RevisionIterator, error) {
	d.mu.Lock()
	var out []Revision
	for _, r := range d.revs {
		if r.Sequence > since {
			out = append(out, r)
		}
	}
	d.mu.Unlock()
	return &fakeRevIterator{revs: out}, nil
}

func (d *fakeDocStore) WinningRevisionAtOrBefore(ctx context.Context, docID string, asOf int64) (Revision, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var best *Revision
	for i := range d.revs {
		r := d.revs[i]
		if r.DocID != docID || r.Sequence > asOf {
			continue
		}
		// A revision is only a candidate winner if nothing at or before
		// asOf recorded it as superseded; approximate with "is it the
		// latest sequence on its branch at or before asOf" by tracking
		// the most recent revision whose RevID is not a parent of a
		// later one within range.
		superseded := false
		for _, other := range d.revs {
			if other.DocID == docID && other.ParentRevID == r.RevID && other.Sequence <= asOf {
				superseded = true
				break
			}
		}
		if superseded {
			continue
		}
		if best == nil || compareRevIDs(r.RevID, best.RevID) > 0 {
			cp := r
			best = &cp
		}
	}
	if best == nil {
		return Revision{}, false, nil
	}
	return *best, true, nil
}

func (d *fakeDocStore) LoadBody(ctx context.Context, docID, revID string) (JSONValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body, ok := d.body[docID+"\x00"+revID]
	if !ok {
		return JSONValue{}, newError(KindNotFound, "LoadBody", "revision body not found", nil)
	}
	return body, nil
}

type fakeRevIterator struct {
	revs []Revision
	pos  int
}

func (it *fakeRevIterator) Next(ctx context.Context) (Revision, bool, error) {
	if it.pos >= len(it.revs) {
		return Revision{}, false, nil
	}
	r := it.revs[it.pos]
	it.pos++
	return r, true, nil
}

func (it *fakeRevIterator) Close() error { return nil }
