// Package feature defines the feature and collection model shared by every
// proximity search data source.
package feature

import (
	"context"

	"github.com/twpayne/go-geom"
)

// Feature is an identifiable record with a geometry attribute and arbitrary
// additional properties. Features are never mutated by the search core.
type Feature struct {
	ID         string
	Geometry   geom.T
	Properties map[string]any
}

// Property returns the named property value and whether it is present.
func (f *Feature) Property(name string) (any, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[name]
	return v, ok
}

// Schema describes a collection: its name and the name of the geometry
// attribute that spatial predicates reference.
type Schema struct {
	Name             string
	GeometryProperty string
}

// Reader is a single-pass, closeable feature stream. Next returns io.EOF
// after the final feature. Close must be called regardless of how iteration
// ends, including error exits.
type Reader interface {
	Next() (*Feature, error)
	Close() error
}

// Collection is a set of features exposing streaming iteration. Sources that
// can evaluate predicates natively additionally implement
// proximity.PushdownCollection; plain collections are always evaluated
// feature by feature.
type Collection interface {
	Schema() Schema
	Reader(ctx context.Context) (Reader, error)
}
