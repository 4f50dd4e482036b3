package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/proximity-cli/internal/feature"
)

func TestEncodeAll(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}
	clause, args, err := enc.Encode(All{})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", clause)
	assert.Empty(t, args)
}

func TestEncodeEmptyOr(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}
	clause, args, err := enc.Encode(Or{})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", clause)
	assert.Empty(t, args)
}

func TestEncodeDWithinMeters(t *testing.T) {
	g := point(-122.4, 37.8)
	enc := &SQLEncoder{GeometryColumn: "geom"}

	clause, args, err := enc.Encode(DWithin{Property: "geom", Geometry: g, Distance: 500, Unit: UnitMeters})
	require.NoError(t, err)

	assert.Equal(t, "ST_DWithin(geom::geography, ST_GeomFromEWKB($1)::geography, $2)", clause)
	require.Len(t, args, 2)

	wantEWKB, err := ewkb.Marshal(g, ewkb.NDR)
	require.NoError(t, err)
	assert.Equal(t, wantEWKB, args[0])
	assert.Equal(t, 500.0, args[1])
}

func TestEncodeDWithinDegrees(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}

	clause, args, err := enc.Encode(DWithin{Property: "geom", Geometry: point(0, 0), Distance: 0.01, Unit: UnitDegrees})
	require.NoError(t, err)

	assert.Equal(t, "ST_DWithin(geom, ST_GeomFromEWKB($1), $2)", clause)
	require.Len(t, args, 2)
	assert.Equal(t, 0.01, args[1])
}

func TestEncodeOrOfDWithins(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}

	f := Or{Children: []Filter{
		DWithin{Property: "geom", Geometry: point(0, 0), Distance: 100, Unit: UnitMeters},
		DWithin{Property: "geom", Geometry: point(1, 1), Distance: 100, Unit: UnitMeters},
	}}

	clause, args, err := enc.Encode(f)
	require.NoError(t, err)

	assert.Equal(t,
		"(ST_DWithin(geom::geography, ST_GeomFromEWKB($1)::geography, $2)"+
			" OR ST_DWithin(geom::geography, ST_GeomFromEWKB($3)::geography, $4))",
		clause)
	assert.Len(t, args, 4)
}

func TestEncodeAndArgNumbering(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}

	f := And{
		Left:  Equals{Property: "state", Value: "CA"},
		Right: DWithin{Property: "geom", Geometry: point(0, 0), Distance: 250, Unit: UnitMeters},
	}

	clause, args, err := enc.Encode(f)
	require.NoError(t, err)

	assert.Equal(t,
		"(properties->>$1 = $2 AND ST_DWithin(geom::geography, ST_GeomFromEWKB($3)::geography, $4))",
		clause)
	require.Len(t, args, 4)
	assert.Equal(t, "state", args[0])
	assert.Equal(t, "CA", args[1])
	assert.Equal(t, 250.0, args[3])
}

func TestEncodeEqualsMappedColumn(t *testing.T) {
	enc := &SQLEncoder{
		GeometryColumn: "geom",
		ColumnMapping:  map[string]string{"state": "state_abbr"},
	}

	clause, args, err := enc.Encode(Equals{Property: "state", Value: "CA"})
	require.NoError(t, err)
	assert.Equal(t, "state_abbr = $1", clause)
	assert.Equal(t, []any{"CA"}, args)
}

func TestEncodeEqualsJSONB(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}

	clause, args, err := enc.Encode(Equals{Property: "kind", Value: 3})
	require.NoError(t, err)
	assert.Equal(t, "properties->>$1 = $2", clause)
	// JSONB text extraction compares as text.
	assert.Equal(t, []any{"kind", "3"}, args)
}

type opaqueFilter struct{}

func (opaqueFilter) Evaluate(*feature.Feature) (bool, error) { return false, nil }
func (opaqueFilter) String() string                          { return "opaque" }

func TestEncodeUnsupportedFilter(t *testing.T) {
	enc := &SQLEncoder{GeometryColumn: "geom"}
	_, _, err := enc.Encode(opaqueFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot encode")
}
