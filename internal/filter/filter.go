// Package filter provides the composable predicate language shared by the
// pushdown and manual execution paths of a proximity search. A filter can be
// evaluated in-process against a single feature, or encoded to a PostGIS
// WHERE clause for native evaluation inside the data source.
package filter

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/geodesy"
)

// ErrMissingAttribute signals that a feature lacks the geometry attribute a
// spatial predicate needs. It is local to the feature being evaluated.
var ErrMissingAttribute = eris.New("filter: feature has no geometry attribute")

// Unit is the unit of a distance literal.
type Unit int

const (
	// UnitMeters marks a linear distance; used on the pushdown path, where
	// the data source evaluates distances unit-aware.
	UnitMeters Unit = iota
	// UnitDegrees marks an angular distance in coordinate-space degrees;
	// used on the manual path, where evaluation is planar.
	UnitDegrees
)

// String implements fmt.Stringer.
func (u Unit) String() string {
	if u == UnitDegrees {
		return "degrees"
	}
	return "meters"
}

// Filter is a composable boolean predicate over features.
type Filter interface {
	// Evaluate tests the filter against a single feature.
	Evaluate(f *feature.Feature) (bool, error)
	fmt.Stringer
}

// All is the universal-true predicate.
type All struct{}

// Evaluate implements Filter.
func (All) Evaluate(*feature.Feature) (bool, error) { return true, nil }

func (All) String() string { return "TRUE" }

// DWithin tests whether a feature's geometry lies within Distance of the
// reference Geometry. Property names the data collection's geometry
// attribute; it is consulted by the SQL encoder, while in-process evaluation
// uses the feature's geometry directly.
type DWithin struct {
	Property string
	Geometry geom.T
	Distance float64
	Unit     Unit
}

// Evaluate implements Filter. A meter distance is converted to the degree
// equivalent at the reference geometry's location before the planar
// comparison.
func (d DWithin) Evaluate(f *feature.Feature) (bool, error) {
	if f.Geometry == nil {
		return false, eris.Wrapf(ErrMissingAttribute, "feature %s", f.ID)
	}
	threshold := d.Distance
	if d.Unit == UnitMeters {
		threshold = geodesy.DegreesForMeters(d.Geometry, d.Distance)
	}
	return geodesy.Distance(f.Geometry, d.Geometry) <= threshold, nil
}

func (d DWithin) String() string {
	return fmt.Sprintf("DWITHIN(%s, %g %s)", d.Property, d.Distance, d.Unit)
}

// And is the conjunction of two filters.
type And struct {
	Left, Right Filter
}

// Evaluate implements Filter with short-circuiting.
func (a And) Evaluate(f *feature.Feature) (bool, error) {
	ok, err := a.Left.Evaluate(f)
	if err != nil || !ok {
		return false, err
	}
	return a.Right.Evaluate(f)
}

func (a And) String() string {
	return fmt.Sprintf("(%s AND %s)", a.Left, a.Right)
}

// Or is the disjunction of zero or more filters. The empty disjunction
// matches nothing: the identity of OR is false, not an error.
type Or struct {
	Children []Filter
}

// Evaluate implements Filter with short-circuiting.
func (o Or) Evaluate(f *feature.Feature) (bool, error) {
	for _, c := range o.Children {
		ok, err := c.Evaluate(f)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (o Or) String() string {
	if len(o.Children) == 0 {
		return "FALSE"
	}
	terms := make([]string, len(o.Children))
	for i, c := range o.Children {
		terms[i] = c.String()
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// Equals tests a non-spatial property for equality. Numeric values compare
// numerically regardless of concrete type so that JSON-decoded float64
// properties match integer literals.
type Equals struct {
	Property string
	Value    any
}

// Evaluate implements Filter. An absent property is simply a non-match.
func (e Equals) Evaluate(f *feature.Feature) (bool, error) {
	v, ok := f.Property(e.Property)
	if !ok {
		return false, nil
	}
	return equalValues(v, e.Value), nil
}

func (e Equals) String() string {
	return fmt.Sprintf("%s = %v", e.Property, e.Value)
}

// equalValues compares two property values, treating all numeric types as
// float64.
func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
