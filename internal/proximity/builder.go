// Package proximity implements buffer-distance spatial joins: it finds every
// data feature within a given distance of at least one reference geometry,
// pushing the predicate down into the data source when the source supports
// it and falling back to per-feature evaluation when it does not.
package proximity

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
	"github.com/sells-group/proximity-cli/internal/geodesy"
)

// BuildProximityFilter constructs the disjunction of one distance-within
// term per reference geometry, each referencing the data collection's
// geometry property. With filter.UnitMeters the buffer distance is carried
// unconverted for unit-aware native evaluation; with filter.UnitDegrees it
// is converted to the degree equivalent at each geometry's own location,
// since degree-per-meter varies with latitude. An empty reference set yields
// an empty disjunction, which matches nothing. The reference reader is fully
// consumed and closed on every exit path.
func BuildProximityFilter(ctx context.Context, refs feature.Collection, geometryProperty string, bufferMeters float64, unit filter.Unit) (filter.Filter, error) {
	r, err := refs.Reader(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "proximity: open reference reader")
	}
	defer func() { _ = r.Close() }()

	or := filter.Or{}
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "proximity: read reference feature")
		}
		if f.Geometry == nil {
			return nil, eris.Errorf("proximity: reference feature %q has no geometry", f.ID)
		}

		distance := bufferMeters
		if unit == filter.UnitDegrees {
			distance = geodesy.DegreesForMeters(f.Geometry, bufferMeters)
		}
		or.Children = append(or.Children, filter.DWithin{
			Property: geometryProperty,
			Geometry: f.Geometry,
			Distance: distance,
			Unit:     unit,
		})
	}
	return or, nil
}
