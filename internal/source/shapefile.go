package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/proximity-cli/internal/feature"
)

// ShapefileCollection streams features straight off a .shp/.dbf pair. It is
// iterate-only: shapefiles cannot evaluate predicates, so searches against
// them always take the manual path. DBF attribute values are decoded from
// Latin-1, the common encoding for legacy shapefiles.
type ShapefileCollection struct {
	path string
	name string
	// IDField names the DBF attribute used as the feature ID. When empty,
	// features get positional IDs.
	IDField string
}

// NewShapefileCollection wraps the shapefile at path as a named collection.
func NewShapefileCollection(path, name string) *ShapefileCollection {
	return &ShapefileCollection{path: path, name: name}
}

// Schema implements feature.Collection.
func (c *ShapefileCollection) Schema() feature.Schema {
	return feature.Schema{Name: c.name, GeometryProperty: "geom"}
}

// Reader implements feature.Collection. Each call opens the file anew, so a
// collection can be read more than once even though a single reader is
// single-pass.
func (c *ShapefileCollection) Reader(ctx context.Context) (feature.Reader, error) {
	r, err := shp.Open(c.path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open shapefile %s", c.path)
	}

	fields := r.Fields()
	names := make([]string, len(fields))
	idField := -1
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		names[i] = name
		if c.IDField != "" && name == strings.ToLower(c.IDField) {
			idField = i
		}
	}

	return &shapefileReader{
		collection: c.name,
		shp:        r,
		fields:     names,
		idField:    idField,
		decoder:    charmap.ISO8859_1.NewDecoder(),
	}, nil
}

type shapefileReader struct {
	collection string
	shp        *shp.Reader
	fields     []string
	idField    int
	decoder    *encoding.Decoder
	row        int
	skipped    int
}

func (r *shapefileReader) Next() (*feature.Feature, error) {
	for r.shp.Next() {
		_, shape := r.shp.Shape()
		row := r.row
		r.row++

		g := shapeToGeom(shape)
		if g == nil {
			r.skipped++
			continue
		}

		props := make(map[string]any, len(r.fields))
		for i, name := range r.fields {
			val := strings.TrimSpace(strings.TrimRight(r.shp.Attribute(i), "\x00"))
			if val == "" {
				continue
			}
			if decoded, err := r.decoder.String(val); err == nil {
				val = decoded
			}
			props[name] = val
		}

		id := fmt.Sprintf("%s-%d", r.collection, row)
		if r.idField >= 0 {
			if v, ok := props[r.fields[r.idField]]; ok {
				id = fmt.Sprint(v)
			}
		}

		return &feature.Feature{ID: id, Geometry: g, Properties: props}, nil
	}

	if r.skipped > 0 {
		zap.L().Debug("source: skipped shapefile records without usable geometry",
			zap.String("collection", r.collection),
			zap.Int("skipped", r.skipped),
		)
		r.skipped = 0
	}
	return nil, io.EOF
}

func (r *shapefileReader) Close() error {
	return r.shp.Close()
}

// shapeToGeom converts a go-shp shape to a go-geom geometry with SRID 4326.
// Returns nil for unsupported or empty shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(4326)
	case *shp.PolyLine:
		return polyLineToMultiLineString(s)
	case *shp.Polygon:
		return polygonToMultiPolygon(s)
	default:
		return nil
	}
}

// polyLineToMultiLineString converts a shapefile PolyLine to a MultiLineString.
func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY).SetSRID(4326)
	for i := int32(0); i < pl.NumParts; i++ {
		flat := partCoords(pl.Points, pl.Parts, i, pl.NumParts)
		ls := geom.NewLineStringFlat(geom.XY, flat)
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("source: skipping malformed linestring part", zap.Int32("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon converts a shapefile Polygon to a MultiPolygon.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		flat := partCoords(p.Points, p.Parts, i, p.NumParts)
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("source: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("source: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// partCoords extracts the flat XY coordinates of one part of a multi-part shape.
func partCoords(points []shp.Point, parts []int32, i, numParts int32) []float64 {
	start := parts[i]
	end := int32(len(points))
	if i+1 < numParts {
		end = parts[i+1]
	}
	flat := make([]float64, 0, (end-start)*2)
	for j := start; j < end; j++ {
		flat = append(flat, points[j].X, points[j].Y)
	}
	return flat
}
