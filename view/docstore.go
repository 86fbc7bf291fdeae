package view

import "context"

// Revision describes one node of a document's revision tree as the indexer
// needs to see it: enough to decide whether it is the winning revision at a
// given point and, if not deleted, to retrieve its body for mapping
// (spec.md §3, "Document / Revision").
type Revision struct {
	DocID        string
	RevID        string
	ParentRevID  string // empty for the root revision
	Sequence     int64
	Deleted      bool
	Current      bool // leaf of its branch
	NoAttachments bool
}

// RevisionIterator streams Revision rows in ascending sequence order. It is
// the DocumentStore-side half of the indexer's incremental scan
// (spec.md §4.4, step 1): the indexer pulls from it until it is exhausted
// or the scan is cancelled, and must always call Close.
type RevisionIterator interface {
	// Next advances the iterator and reports whether a revision is
	// available. It returns false, nil at normal exhaustion.
	Next(ctx context.Context) (Revision, bool, error)
	Close() error
}

// DocumentStore is the abstract capability the view engine consumes for
// everything it needs to know about documents and their revision history;
// it deliberately says nothing about how documents are stored (spec.md §1,
// "Scope"). memdocstore and kivikstore are the two reference
// implementations shipped alongside the engine.
type DocumentStore interface {
	// MaxSequence returns the highest sequence number assigned by the
	// store so far, or 0 if the store is empty.
	MaxSequence(ctx context.Context) (int64, error)

	// ScanRevisionsSince streams every revision with sequence > since, in
	// ascending sequence order, including every branch (not just winners)
	// so the indexer can detect revisions superseded by a new winner.
	ScanRevisionsSince(ctx context.Context, since int64) (RevisionIterator, error)

	// WinningRevisionAtOrBefore returns the revision that was winning for
	// docID as of sequence asOf (i.e. ignoring any revision recorded after
	// it), or ok=false if the document did not exist at that point.
	WinningRevisionAtOrBefore(ctx context.Context, docID string, asOf int64) (rev Revision, ok bool, err error)

	// LoadBody returns the JSON body of the given revision. It returns
	// KindNotFound if the revision has since been compacted away.
	LoadBody(ctx context.Context, docID, revID string) (JSONValue, error)
}
