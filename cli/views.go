package cli

import (
	"strings"

	"github.com/evalgo-org/couchview/designdoc"
	"github.com/evalgo-org/couchview/view"
)

// builtinDesignDocs registers the demonstration views couchview ships with
// the CLI. A real embedder registers its own map/reduce closures at startup
// (spec.md's scope note: "the map/reduce function compiler and language
// bindings" are out of scope, so the CLI cannot accept map functions as
// flags); these two views exist so update-index/query/views are runnable
// end to end against a bare checkout, grounded on the teacher's
// containers_by_host/container_count_by_host CreateDesignDoc example
// (db/couchdb_views.go).
func registerBuiltinDesignDocs(db *view.Database) error {
	_, err := designdoc.Register(db, "builtin", "v1", map[string]designdoc.ViewDefinition{
		"by_type": {
			Map:       mapByField("type"),
			Collation: view.CollationUnicode,
		},
		"count_by_type": {
			Map:       mapByField("type"),
			Reduce:    reduceCount,
			Collation: view.CollationUnicode,
		},
	})
	return err
}

// mapByField returns a MapFunc that emits (value, nil) for every document
// with a top-level string field whose name equals key, compared without
// regard to case.
func mapByField(key string) view.MapFunc {
	return func(doc view.JSONValue, emit view.EmitFunc) {
		if doc.Type() != view.JSONObject {
			return
		}
		for _, m := range doc.Members() {
			if strings.EqualFold(m.Key, key) && m.Value.Type() == view.JSONString {
				emit(m.Value.StringValue(), nil)
				return
			}
		}
	}
}

func reduceCount(keys, values []view.JSONValue, rereduce bool) (view.JSONValue, error) {
	if rereduce {
		var total float64
		for _, v := range values {
			total += v.NumberValue()
		}
		return view.Num(total), nil
	}
	return view.Num(float64(len(values))), nil
}
