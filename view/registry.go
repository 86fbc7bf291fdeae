package view

import (
	"fmt"
	"sync"
)

// ViewRegistry holds the set of views a Database knows about and hands out
// the single shared handle for each one, so that two callers asking for
// "by_status" concurrently serialize on the same mutex instead of racing
// two independent indexers over the same storage rows (spec.md §4.3,
// "ViewRegistry").
type ViewRegistry struct {
	mu    sync.RWMutex
	views map[string]*registeredView
}

type registeredView struct {
	view *View
	mu   sync.Mutex // serializes UpdateIndex calls for this view
}

// NewViewRegistry returns an empty registry.
func NewViewRegistry() *ViewRegistry {
	return &ViewRegistry{views: make(map[string]*registeredView)}
}

// Register adds or replaces the definition for v.Name. Replacing a view
// with a different Version is how a caller rolls out a changed map/reduce
// function; the next UpdateIndex call detects the version change and
// rebuilds from scratch (spec.md §4.4, "Version change").
func (r *ViewRegistry) Register(v *View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[v.Name] = &registeredView{view: v}
}

// Lookup returns the registered View for name, or nil if none is
// registered.
func (r *ViewRegistry) Lookup(name string) *View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rv := r.views[name]
	if rv == nil {
		return nil
	}
	return rv.view
}

// Names returns every registered view name.
func (r *ViewRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.views))
	for name := range r.views {
		out = append(out, name)
	}
	return out
}

// Unregister removes name from the registry. It does not delete the
// underlying stored index rows; callers that want that should use
// Database.DropView.
func (r *ViewRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, name)
}

// withLock runs fn while holding the per-view update lock for name,
// returning an error if the view is not registered.
func (r *ViewRegistry) withLock(name string, fn func(*View) error) error {
	r.mu.RLock()
	rv := r.views[name]
	r.mu.RUnlock()
	if rv == nil {
		return fmt.Errorf("view: no view registered as %q", name)
	}
	rv.mu.Lock()
	defer rv.mu.Unlock()
	return fn(rv.view)
}
