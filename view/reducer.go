package view

import "fmt"

// reduceBatchSize caps how many (key, value) pairs are handed to a single
// ReduceFunc call before rereduce is used to combine partial results. This
// bounds a pathological view (millions of rows under one key) to bounded
// per-call memory, mirroring CouchDB's own incremental B-tree reduce
// (spec.md §4.7, "Reducer").
const reduceBatchSize = 100

// reduceGroup reduces the values of a single group (rows sharing an
// equal — or group-level-truncated — key) to one JSONValue, batching the
// underlying ReduceFunc calls and rereducing the partials together.
func reduceGroup(fn ReduceFunc, rows []QueryRow) (JSONValue, error) {
	if len(rows) == 0 {
		return Null(), nil
	}
	partials := make([]JSONValue, 0, (len(rows)+reduceBatchSize-1)/reduceBatchSize)
	for start := 0; start < len(rows); start += reduceBatchSize {
		end := start + reduceBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		keys := make([]JSONValue, len(batch))
		vals := make([]JSONValue, len(batch))
		for i, r := range batch {
			keys[i] = r.Key
			vals[i] = r.Value
		}
		partial, err := fn(keys, vals, false)
		if err != nil {
			return JSONValue{}, fmt.Errorf("reduce: %w", err)
		}
		partials = append(partials, partial)
	}
	for len(partials) > 1 {
		next := make([]JSONValue, 0, (len(partials)+reduceBatchSize-1)/reduceBatchSize)
		for start := 0; start < len(partials); start += reduceBatchSize {
			end := start + reduceBatchSize
			if end > len(partials) {
				end = len(partials)
			}
			combined, err := fn(nil, partials[start:end], true)
			if err != nil {
				return JSONValue{}, fmt.Errorf("rereduce: %w", err)
			}
			next = append(next, combined)
		}
		partials = next
	}
	return partials[0], nil
}

// groupKey truncates k to level leading array elements for group_level
// semantics; non-array keys and level <= 0 (group by full key) return k
// unchanged.
func groupKey(k JSONValue, level int) JSONValue {
	if level <= 0 || k.typ != JSONArray {
		return k
	}
	if level >= len(k.arr) {
		return k
	}
	out := make([]JSONValue, level)
	copy(out, k.arr[:level])
	return Arr(out...)
}

// applyReduce groups rows (already delivered in key order by the
// executor) per opts and reduces each group, or reduces the whole result
// set to a single row when grouping is off.
func applyReduce(fn ReduceFunc, rows []QueryRow, opts QueryOptions, collation CollationMode) ([]QueryRow, error) {
	level, fullKey := effectiveGroupLevel(opts)
	if !opts.Group {
		val, err := reduceGroup(fn, rows)
		if err != nil {
			return nil, err
		}
		return []QueryRow{{Key: Null(), Value: val}}, nil
	}

	var out []QueryRow
	i := 0
	for i < len(rows) {
		var key JSONValue
		if fullKey {
			key = rows[i].Key
		} else {
			key = groupKey(rows[i].Key, level)
		}
		j := i + 1
		for j < len(rows) {
			var candidate JSONValue
			if fullKey {
				candidate = rows[j].Key
			} else {
				candidate = groupKey(rows[j].Key, level)
			}
			if Compare(candidate, key, collation) != 0 {
				break
			}
			j++
		}
		val, err := reduceGroup(fn, rows[i:j])
		if err != nil {
			return nil, err
		}
		out = append(out, QueryRow{Key: key, Value: val})
		i = j
	}
	return out, nil
}
