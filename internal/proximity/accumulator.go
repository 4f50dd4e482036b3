package proximity

import "github.com/sells-group/proximity-cli/internal/feature"

// Path identifies which execution strategy produced a result.
type Path int

const (
	// PathPushdown means the data source evaluated the merged predicate
	// natively.
	PathPushdown Path = iota + 1
	// PathManual means the predicate was evaluated here, feature by feature.
	PathManual
)

// String implements fmt.Stringer.
func (p Path) String() string {
	switch p {
	case PathPushdown:
		return "pushdown"
	case PathManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Accumulator exposes the result of a proximity join uniformly, whether it
// came back wholesale from a native query or was built up incrementally
// during manual evaluation.
type Accumulator struct {
	via     Path
	native  feature.Collection
	manual  *feature.Memory
	seen    map[string]bool
	skipped int
}

func newPushdownAccumulator(result feature.Collection) *Accumulator {
	return &Accumulator{via: PathPushdown, native: result}
}

func newManualAccumulator(schema feature.Schema) *Accumulator {
	return &Accumulator{
		via:    PathManual,
		manual: feature.NewMemory(schema),
		seen:   make(map[string]bool),
	}
}

// append adds a matching feature to a manual result. Streams are assumed
// already deduplicated by the source; the seen set guards against a feature
// appearing twice within this single run anyway.
func (a *Accumulator) append(f *feature.Feature) {
	if a.seen[f.ID] {
		return
	}
	a.seen[f.ID] = true
	a.manual.Append(f)
}

// Results returns the final feature collection.
func (a *Accumulator) Results() feature.Collection {
	if a.via == PathPushdown {
		return a.native
	}
	return a.manual
}

// Via reports which execution path produced the result.
func (a *Accumulator) Via() Path {
	return a.via
}

// Skipped returns how many streamed features were skipped for lacking the
// geometry attribute. Always zero on the pushdown path.
func (a *Accumulator) Skipped() int {
	return a.skipped
}
