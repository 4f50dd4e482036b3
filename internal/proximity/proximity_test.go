package proximity

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
)

func point(x, y float64) geom.T {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func memCollection(name string, features ...*feature.Feature) *feature.Memory {
	m := feature.NewMemory(feature.Schema{Name: name, GeometryProperty: "geom"})
	for _, f := range features {
		m.Append(f)
	}
	return m
}

func refsAt(coords ...float64) *feature.Memory {
	m := feature.NewMemory(feature.Schema{Name: "references", GeometryProperty: "geom"})
	for i := 0; i+1 < len(coords); i += 2 {
		m.Append(&feature.Feature{
			ID:       string(rune('a' + i/2)),
			Geometry: point(coords[i], coords[i+1]),
		})
	}
	return m
}

// fakePushdown records the predicate it was handed and returns a canned
// result, standing in for a PostGIS-backed collection.
type fakePushdown struct {
	*feature.Memory
	got    filter.Filter
	result *feature.Memory
	err    error
}

func (f *fakePushdown) ExecuteFiltered(ctx context.Context, flt filter.Filter) (feature.Collection, error) {
	f.got = flt
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// ---------------------------------------------------------------------------
// Predicate construction
// ---------------------------------------------------------------------------

func TestBuildProximityFilterOneTermPerReference(t *testing.T) {
	refs := refsAt(0, 0, 1, 1, 2, 2)

	f, err := BuildProximityFilter(context.Background(), refs, "geom", 500, filter.UnitMeters)
	require.NoError(t, err)

	or, ok := f.(filter.Or)
	require.True(t, ok)
	require.Len(t, or.Children, 3)
	for _, c := range or.Children {
		d, ok := c.(filter.DWithin)
		require.True(t, ok)
		assert.Equal(t, "geom", d.Property)
		assert.Equal(t, filter.UnitMeters, d.Unit)
		assert.Equal(t, 500.0, d.Distance)
	}
}

func TestBuildProximityFilterEmptyReferences(t *testing.T) {
	refs := memCollection("references")

	f, err := BuildProximityFilter(context.Background(), refs, "geom", 500, filter.UnitMeters)
	require.NoError(t, err)

	or, ok := f.(filter.Or)
	require.True(t, ok)
	assert.Empty(t, or.Children)

	// The empty disjunction matches nothing.
	ok, err = f.Evaluate(&feature.Feature{ID: "x", Geometry: point(0, 0)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildProximityFilterDegreesConvertsPerReference(t *testing.T) {
	// Same meter buffer, references at different latitudes: the degree
	// thresholds must differ.
	refs := refsAt(0, 0, 0, 60)

	f, err := BuildProximityFilter(context.Background(), refs, "geom", 1000, filter.UnitDegrees)
	require.NoError(t, err)

	or := f.(filter.Or)
	require.Len(t, or.Children, 2)
	atEquator := or.Children[0].(filter.DWithin)
	at60 := or.Children[1].(filter.DWithin)

	assert.Equal(t, filter.UnitDegrees, atEquator.Unit)
	assert.InDelta(t, 2*atEquator.Distance, at60.Distance, 1e-9)
}

func TestBuildProximityFilterRejectsGeometrylessReference(t *testing.T) {
	refs := memCollection("references", &feature.Feature{ID: "bad"})

	_, err := BuildProximityFilter(context.Background(), refs, "geom", 500, filter.UnitMeters)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

// ---------------------------------------------------------------------------
// Filter merging
// ---------------------------------------------------------------------------

func TestMergeFilters(t *testing.T) {
	prox := filter.Or{Children: []filter.Filter{
		filter.DWithin{Property: "geom", Geometry: point(0, 0), Distance: 1, Unit: filter.UnitMeters},
	}}

	assert.Equal(t, filter.Filter(prox), MergeFilters(nil, prox))
	assert.Equal(t, filter.Filter(prox), MergeFilters(filter.All{}, prox))

	existing := filter.Equals{Property: "state", Value: "CA"}
	merged := MergeFilters(existing, prox)
	and, ok := merged.(filter.And)
	require.True(t, ok)
	assert.Equal(t, filter.Filter(existing), and.Left)
	assert.Equal(t, filter.Filter(prox), and.Right)
}

// ---------------------------------------------------------------------------
// Path selection
// ---------------------------------------------------------------------------

func TestExecuteChoosesPushdownWhenSupported(t *testing.T) {
	data := &fakePushdown{
		Memory: memCollection("parcels"),
		result: memCollection("parcels", &feature.Feature{ID: "p1", Geometry: point(0, 0)}),
	}

	acc, err := Execute(context.Background(), refsAt(0, 0), data, 500, Options{})
	require.NoError(t, err)

	assert.Equal(t, PathPushdown, acc.Via())
	assert.Zero(t, acc.Skipped())

	// The predicate handed down carries meter distances, unconverted.
	or := data.got.(filter.Or)
	require.Len(t, or.Children, 1)
	d := or.Children[0].(filter.DWithin)
	assert.Equal(t, filter.UnitMeters, d.Unit)
	assert.Equal(t, 500.0, d.Distance)

	results := acc.Results().(*feature.Memory)
	require.Equal(t, 1, results.Len())
	assert.Equal(t, "p1", results.Features()[0].ID)
}

func TestExecuteChoosesManualForPlainCollection(t *testing.T) {
	data := memCollection("parcels",
		&feature.Feature{ID: "near", Geometry: point(0, 0.001)},
		&feature.Feature{ID: "far", Geometry: point(0, 5)},
	)

	acc, err := Execute(context.Background(), refsAt(0, 0), data, 500, Options{})
	require.NoError(t, err)

	assert.Equal(t, PathManual, acc.Via())
	results := acc.Results().(*feature.Memory)
	require.Equal(t, 1, results.Len())
	assert.Equal(t, "near", results.Features()[0].ID)
}

func TestExecuteMergesExistingRestrictionOnPushdown(t *testing.T) {
	data := &fakePushdown{
		Memory: memCollection("parcels"),
		result: memCollection("parcels"),
	}
	existing := filter.Equals{Property: "state", Value: "CA"}

	_, err := Execute(context.Background(), refsAt(0, 0), data, 500, Options{Existing: existing})
	require.NoError(t, err)

	and, ok := data.got.(filter.And)
	require.True(t, ok)
	assert.Equal(t, filter.Filter(existing), and.Left)
	_, ok = and.Right.(filter.Or)
	assert.True(t, ok)
}

func TestExecutePushdownError(t *testing.T) {
	data := &fakePushdown{
		Memory: memCollection("parcels"),
		err:    errors.New("connection refused"),
	}

	_, err := Execute(context.Background(), refsAt(0, 0), data, 500, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pushdown execution")
}

// ---------------------------------------------------------------------------
// Manual path behavior
// ---------------------------------------------------------------------------

func TestExecuteManualSkipsGeometrylessFeatures(t *testing.T) {
	data := memCollection("parcels",
		&feature.Feature{ID: "no-geom-1"},
		&feature.Feature{ID: "near", Geometry: point(0, 0.001)},
		&feature.Feature{ID: "no-geom-2"},
	)

	acc, err := Execute(context.Background(), refsAt(0, 0), data, 500, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, acc.Skipped())
	results := acc.Results().(*feature.Memory)
	require.Equal(t, 1, results.Len())
	assert.Equal(t, "near", results.Features()[0].ID)
}

func TestExecuteManualDeduplicatesByID(t *testing.T) {
	dup := &feature.Feature{ID: "near", Geometry: point(0, 0.001)}
	data := memCollection("parcels", dup, dup)

	acc, err := Execute(context.Background(), refsAt(0, 0), data, 500, Options{})
	require.NoError(t, err)

	results := acc.Results().(*feature.Memory)
	assert.Equal(t, 1, results.Len())
}

func TestExecuteManualMatchesAnyReference(t *testing.T) {
	// Near the second reference only; one OR term suffices.
	data := memCollection("parcels",
		&feature.Feature{ID: "near-b", Geometry: point(10, 10.001)},
	)

	acc, err := Execute(context.Background(), refsAt(0, 0, 10, 10), data, 500, Options{})
	require.NoError(t, err)

	results := acc.Results().(*feature.Memory)
	assert.Equal(t, 1, results.Len())
}

func TestExecuteManualCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := memCollection("parcels", &feature.Feature{ID: "a", Geometry: point(0, 0)})

	_, err := Execute(ctx, refsAt(0, 0), data, 500, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Search end to end
// ---------------------------------------------------------------------------

func TestSearchRejectsNegativeBuffer(t *testing.T) {
	refs := refsAt(0, 0)
	data := memCollection("parcels")

	_, err := Search(context.Background(), refs, data, -1, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBuffer)
}

func TestSearchZeroBuffer(t *testing.T) {
	data := memCollection("parcels",
		&feature.Feature{ID: "exact", Geometry: point(0, 0)},
		&feature.Feature{ID: "off", Geometry: point(0, 1)},
	)

	results, err := Search(context.Background(), refsAt(0, 0), data, 0, Options{})
	require.NoError(t, err)

	mem := results.(*feature.Memory)
	require.Equal(t, 1, mem.Len())
	assert.Equal(t, "exact", mem.Features()[0].ID)
}

func TestSearchBufferScenario(t *testing.T) {
	// A point 0.005 degrees north of the reference sits about 555 m away:
	// inside a 1000 m buffer, outside a 100 m one.
	data := memCollection("parcels",
		&feature.Feature{ID: "nearby", Geometry: point(0, 0.005)},
	)

	results, err := Search(context.Background(), refsAt(0, 0), data, 1000, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.(*feature.Memory).Len())

	results, err = Search(context.Background(), refsAt(0, 0), data, 100, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, results.(*feature.Memory).Len())
}

func TestSearchEmptyReferencesYieldsEmptyResult(t *testing.T) {
	refs := memCollection("references")
	data := memCollection("parcels",
		&feature.Feature{ID: "a", Geometry: point(0, 0)},
	)

	results, err := Search(context.Background(), refs, data, 1000, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, results.(*feature.Memory).Len())
}

func TestSearchEmptyReferencesPushdownGetsFalse(t *testing.T) {
	data := &fakePushdown{
		Memory: memCollection("parcels"),
		result: memCollection("parcels"),
	}

	_, err := Search(context.Background(), memCollection("references"), data, 1000, Options{})
	require.NoError(t, err)

	or, ok := data.got.(filter.Or)
	require.True(t, ok)
	assert.Empty(t, or.Children)
}

func TestSearchIsIdempotent(t *testing.T) {
	data := memCollection("parcels",
		&feature.Feature{ID: "near", Geometry: point(0, 0.001)},
		&feature.Feature{ID: "far", Geometry: point(0, 5)},
	)
	refs := refsAt(0, 0)

	first, err := Search(context.Background(), refs, data, 500, Options{})
	require.NoError(t, err)
	second, err := Search(context.Background(), refs, data, 500, Options{})
	require.NoError(t, err)

	firstIDs := collectIDs(t, first)
	secondIDs := collectIDs(t, second)
	assert.Equal(t, firstIDs, secondIDs)
}

func collectIDs(t *testing.T, c feature.Collection) []string {
	t.Helper()
	r, err := c.Reader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	var ids []string
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}
	return ids
}

func TestPathString(t *testing.T) {
	assert.Equal(t, "pushdown", PathPushdown.String())
	assert.Equal(t, "manual", PathManual.String())
	assert.Equal(t, "unknown", Path(0).String())
}
