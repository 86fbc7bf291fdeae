package view

import "fmt"

// buildScanPlan translates QueryOptions into a ScanPlan the IndexStore can
// execute as a single ordered scan (spec.md §4.5, "QueryPlanner"). It owns
// every request-shape decision: key vs keys vs range, ascending vs
// descending, and prefix-match end-key extension.
func buildScanPlan(opts QueryOptions) (ScanPlan, error) {
	if opts.Key != nil && (opts.StartKey != nil || opts.EndKey != nil) {
		return ScanPlan{}, newError(KindBadRequest, "QueryPlanner", "key is mutually exclusive with startKey/endKey", nil)
	}
	if len(opts.Keys) > 0 && (opts.Key != nil || opts.StartKey != nil || opts.EndKey != nil) {
		return ScanPlan{}, newError(KindBadRequest, "QueryPlanner", "keys is mutually exclusive with key/startKey/endKey", nil)
	}

	plan := ScanPlan{Ascending: !opts.Descending}

	if len(opts.Keys) > 0 {
		plan.Points = opts.Keys
		return plan, nil
	}
	if opts.Key != nil {
		plan.Points = []JSONValue{*opts.Key}
		return plan, nil
	}

	start, end := opts.StartKey, opts.EndKey
	if opts.Descending {
		// Descending queries without explicit bounds scan the whole view
		// back to front; with bounds, CouchDB's own convention is that
		// startKey/endKey still name the scan's natural start and end in
		// descending order, i.e. startKey is the higher bound.
		start, end = end, start
	}

	if end != nil {
		endKey := *end
		if opts.PrefixDepth > 0 {
			endKey = PrefixMatchKey(endKey, opts.PrefixDepth)
		}
		// Under Descending the post-swap upper bound is the caller's
		// startKey, which is always inclusive.
		upperInclusive := opts.InclusiveEnd
		if opts.PrefixDepth > 0 || opts.Descending {
			upperInclusive = true
		}
		docID := opts.EndKeyDocID
		if opts.Descending {
			docID = opts.StartKeyDocID
		}
		plan.Upper = &Bound{Key: endKey, Inclusive: upperInclusive, DocID: docID}
	}
	if start != nil {
		docID := opts.StartKeyDocID
		if opts.Descending {
			docID = opts.EndKeyDocID
		}
		// Lower bound is always inclusive in ascending mode; under
		// Descending, the post-swap lower bound is the pre-swap upper
		// bound and so inherits its inclusivity (spec.md §4.5, "Range
		// construction rules").
		lowerInclusive := true
		if opts.Descending {
			lowerInclusive = opts.InclusiveEnd
		}
		plan.Lower = &Bound{Key: *start, Inclusive: lowerInclusive, DocID: docID}
	}

	if opts.Limit < 0 {
		return ScanPlan{}, newError(KindBadRequest, "QueryPlanner", fmt.Sprintf("negative limit %d", opts.Limit), nil)
	}
	if opts.Skip < 0 {
		return ScanPlan{}, newError(KindBadRequest, "QueryPlanner", fmt.Sprintf("negative skip %d", opts.Skip), nil)
	}

	return plan, nil
}

// effectiveGroupLevel resolves how QueryOptions.Group/GroupLevel should
// truncate emitted keys before grouping for reduce (spec.md §4.7): Group
// with GroupLevel 0 groups by the full key, a positive GroupLevel groups
// by that many leading array elements, and no grouping at all collapses
// every row into a single total.
func effectiveGroupLevel(opts QueryOptions) (level int, groupByFullKey bool) {
	if !opts.Group {
		return 0, false
	}
	if opts.GroupLevel <= 0 {
		return 0, true
	}
	return opts.GroupLevel, false
}
