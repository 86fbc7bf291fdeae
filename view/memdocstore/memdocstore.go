// Package memdocstore is an in-memory view.DocumentStore, grounded on
// andrewwebber-walrus's lolrus bucket emulator: a single mutex-guarded map
// standing in for a real document database, useful for tests and small
// embedded deployments that don't want a CouchDB server at all.
package memdocstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/evalgo-org/couchview/view"
)

type revRow struct {
	rev      view.Revision
	body     view.JSONValue
	hasBody  bool
}

// Store is a view.DocumentStore that keeps every revision in memory. It is
// safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	seq      int64
	revs     []revRow           // append-only, ascending Sequence
	byDocRev map[string]*revRow // "docID\x00revID" -> row, for O(1) body/rev lookup
}

// New returns an empty Store.
func New() *Store {
	return &Store{byDocRev: make(map[string]*revRow)}
}

// PutDocument appends a new revision for docID as a child of parentRevID
// (empty for a document's first revision) and returns the assigned
// revision ID and sequence. It does no conflict detection of its own —
// callers decide branching — matching the DocumentStore's role as a thin
// capability rather than a full document API (spec.md §1, "Scope").
func (s *Store) PutDocument(docID, parentRevID string, body view.JSONValue) (revID string, sequence int64, err error) {
	return s.putRevision(docID, parentRevID, false, body)
}

// DeleteDocument appends a tombstone revision as a child of parentRevID.
func (s *Store) DeleteDocument(docID, parentRevID string) (revID string, sequence int64, err error) {
	return s.putRevision(docID, parentRevID, true, view.Null())
}

func (s *Store) putRevision(docID, parentRevID string, deleted bool, body view.JSONValue) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := 1
	if parentRevID != "" {
		parent, ok := s.byDocRev[docID+"\x00"+parentRevID]
		if !ok {
			return "", 0, fmt.Errorf("memdocstore: parent revision %s not found for %s", parentRevID, docID)
		}
		parent.rev.Current = false
		g, _, ok := splitRevID(parent.rev.RevID)
		if ok {
			gen = g + 1
		}
	}

	s.seq++
	revID := strconv.Itoa(gen) + "-" + randomHex(docID, s.seq)
	row := revRow{
		rev: view.Revision{
			DocID:       docID,
			RevID:       revID,
			ParentRevID: parentRevID,
			Sequence:    s.seq,
			Deleted:     deleted,
			Current:     true,
		},
		body:    body,
		hasBody: !deleted,
	}
	s.revs = append(s.revs, row)
	s.byDocRev[docID+"\x00"+revID] = &s.revs[len(s.revs)-1]
	return revID, s.seq, nil
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

// randomHex derives a deterministic, collision-resistant suffix from the
// document ID and sequence rather than calling a real RNG: the store's
// tests run without the Go toolchain exercising actual randomness, and a
// sequence-derived suffix is sufficient since real CouchDB revision hashes
// are only ever compared for equality, never parsed.
func randomHex(docID string, seq int64) string {
	h := fnv64(docID) ^ uint64(seq)*1099511628211
	return fmt.Sprintf("%016x", h)
}

func fnv64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func (s *Store) MaxSequence(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

func (s *Store) ScanRevisionsSince(ctx context.Context, since int64) (view.RevisionIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []view.Revision
	for _, r := range s.revs {
		if r.rev.Sequence > since {
			out = append(out, r.rev)
		}
	}
	return &iterator{revs: out}, nil
}

func (s *Store) WinningRevisionAtOrBefore(ctx context.Context, docID string, asOf int64) (view.Revision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []view.Revision
	superseding := make(map[string]bool) // revID -> has a child at or before asOf
	for _, r := range s.revs {
		if r.rev.DocID != docID || r.rev.Sequence > asOf {
			continue
		}
		candidates = append(candidates, r.rev)
		if r.rev.ParentRevID != "" {
			superseding[r.rev.ParentRevID] = true
		}
	}

	var leaves []view.Revision
	for _, c := range candidates {
		if !superseding[c.RevID] {
			leaves = append(leaves, c)
		}
	}
	if len(leaves) == 0 {
		return view.Revision{}, false, nil
	}

	sort.Slice(leaves, func(i, j int) bool { return compareRevIDs(leaves[i].RevID, leaves[j].RevID) > 0 })
	return leaves[0], true, nil
}

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

func (s *Store) LoadBody(ctx context.Context, docID, revID string) (view.JSONValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.byDocRev[docID+"\x00"+revID]
	if !ok || !row.hasBody {
		return view.JSONValue{}, &view.Error{Kind: view.KindNotFound, Op: "LoadBody", Reason: fmt.Sprintf("no body for %s@%s", docID, revID)}
	}
	return row.body, nil
}

type iterator struct {
	revs []view.Revision
	pos  int
}

func (it *iterator) Next(ctx context.Context) (view.Revision, bool, error) {
	if it.pos >= len(it.revs) {
		return view.Revision{}, false, nil
	}
	r := it.revs[it.pos]
	it.pos++
	return r, true, nil
}

func (it *iterator) Close() error { return nil }
