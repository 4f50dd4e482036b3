package proximity

import "github.com/sells-group/proximity-cli/internal/filter"

// MergeFilters combines an existing query restriction with the proximity
// predicate via conjunction. A nil or universal-true restriction collapses
// to the proximity predicate alone, which is semantically equivalent.
func MergeFilters(existing, proximity filter.Filter) filter.Filter {
	if existing == nil {
		return proximity
	}
	if _, ok := existing.(filter.All); ok {
		return proximity
	}
	return filter.And{Left: existing, Right: proximity}
}
