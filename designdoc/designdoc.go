// Package designdoc groups related views under a single named id the way a
// document store that speaks CouchDB's wire protocol groups them under
// "_design/foo": one version string shared by every view in the group,
// registered and torn down together, grounded on the teacher's
// CreateDesignDoc/GetDesignDoc/DeleteDesignDoc/ListDesignDocs (db/couchdb_views.go).
//
// A design document is not a storage concept of its own — view.Database has
// no notion of it. It is a client-side convenience on top of
// view.Database.RegisterView: calling Register is exactly equivalent to
// calling RegisterView once per entry with the shared version, except that a
// failure partway through rolls back (drops) every view this call already
// registered, so registration is all-or-nothing from the caller's
// perspective.
package designdoc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/evalgo-org/couchview/view"
)

// ViewDefinition is one named view within a design document: its map/reduce
// pair and collation. The version and name live outside this struct because
// they are assigned by Register (version) and by the map key (name).
type ViewDefinition struct {
	Map       view.MapFunc
	Reduce    view.ReduceFunc
	Collation view.CollationMode
}

// Doc is a resolved design document: the views it currently contains, keyed
// by name, and the version they share.
type Doc struct {
	ID      string
	Version string
	Views   map[string]ViewDefinition
}

// Register registers every view in defs against db, giving each the name
// id+"."+viewName and the shared version. If any entry fails to register,
// every view this call already registered is unregistered before returning
// the error, so a caller never observes a partially-registered design
// document (grounded on CreateDesignDoc's single-document atomicity, lifted
// to the per-view granularity view.Database actually offers).
//
// The returned views are ordered as they appear when the design document's
// names are sorted, not map iteration order, so repeated calls with the same
// defs produce repeatable output.
func Register(db *view.Database, id, version string, defs map[string]ViewDefinition) ([]*view.View, error) {
	if id == "" {
		return nil, fmt.Errorf("designdoc: id must not be empty")
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("designdoc: %s: no views given", id)
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	var registered []*view.View
	for _, name := range names {
		def := defs[name]
		v := &view.View{
			Name:      qualifiedName(id, name),
			Version:   version,
			Collation: def.Collation,
			Map:       def.Map,
			Reduce:    def.Reduce,
		}
		if err := db.RegisterView(v); err != nil {
			for _, done := range registered {
				_ = db.DropView(context.Background(), done.Name)
			}
			return nil, fmt.Errorf("designdoc: %s: registering view %q: %w", id, name, err)
		}
		registered = append(registered, v)
	}
	return registered, nil
}

// Delete drops every view belonging to design document id. It is not
// atomic across views (each DropView is its own IndexStore operation, per
// spec.md §4.2), but it is best-effort complete: it keeps going after a
// failure and returns the first error encountered, so a caller can retry
// Delete to clean up whatever remains.
func Delete(db *view.Database, id string) error {
	var firstErr error
	prefix := id + "."
	for _, name := range db.ViewNames() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := db.DropView(context.Background(), name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("designdoc: %s: dropping view %q: %w", id, name, err)
		}
	}
	return firstErr
}

// List returns every design document id currently represented in db's
// registry, derived from the "id.viewName" naming convention Register uses
// (grounded on ListDesignDocs' _design/-prefix scan, adapted since
// view.Database has no document namespace of its own to scan).
func List(db *view.Database) []string {
	seen := make(map[string]bool)
	for _, name := range db.ViewNames() {
		idx := strings.IndexByte(name, '.')
		if idx < 0 {
			continue
		}
		seen[name[:idx]] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Get resolves the views currently registered under id. It returns
// (nil, false) if no view is registered with that prefix.
func Get(db *view.Database, id string) (*Doc, bool) {
	prefix := id + "."
	doc := &Doc{ID: id, Views: make(map[string]ViewDefinition)}
	found := false
	for _, name := range db.ViewNames() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		v := db.View(name)
		if v == nil {
			continue
		}
		found = true
		doc.Version = v.Version
		doc.Views[strings.TrimPrefix(name, prefix)] = ViewDefinition{
			Map:       v.Map,
			Reduce:    v.Reduce,
			Collation: v.Collation,
		}
	}
	if !found {
		return nil, false
	}
	return doc, true
}

func qualifiedName(id, viewName string) string {
	return id + "." + viewName
}
