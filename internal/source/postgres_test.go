package source

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
)

func mustEWKB(t *testing.T, g geom.T) []byte {
	t.Helper()
	data, err := ewkb.Marshal(g, ewkb.NDR)
	require.NoError(t, err)
	return data
}

func TestMigratePostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS proximity").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, MigratePostgres(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCollectionSchema(t *testing.T) {
	c := NewPostgresCollection(nil, "parcels")
	assert.Equal(t, "parcels", c.Schema().Name)
	assert.Equal(t, "geom", c.Schema().GeometryProperty)
}

func TestPostgresCollectionReader(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pt := geom.NewPointFlat(geom.XY, []float64{-122.4, 37.8}).SetSRID(4326)
	rows := pgxmock.NewRows([]string{"id", "properties", "geom"}).
		AddRow("p1", []byte(`{"name":"alpha"}`), mustEWKB(t, pt)).
		AddRow("p2", []byte(`{}`), []byte(nil))

	mock.ExpectQuery(`SELECT id, properties, ST_AsEWKB\(geom\) FROM proximity.features WHERE collection = \$1 ORDER BY id`).
		WithArgs("parcels").
		WillReturnRows(rows)

	c := NewPostgresCollection(mock, "parcels")
	r, err := c.Reader(context.Background())
	require.NoError(t, err)

	features := drainReader(t, r)
	require.Len(t, features, 2)

	assert.Equal(t, "p1", features[0].ID)
	name, ok := features[0].Property("name")
	require.True(t, ok)
	assert.Equal(t, "alpha", name)
	got, ok := features[0].Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, -122.4, got.X(), 1e-9)

	// Geometry column may be NULL.
	assert.Nil(t, features[1].Geometry)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCollectionExecuteFiltered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ref := geom.NewPointFlat(geom.XY, []float64{0, 0})
	pred := filter.Or{Children: []filter.Filter{
		filter.DWithin{Property: "geom", Geometry: ref, Distance: 500, Unit: filter.UnitMeters},
	}}

	rows := pgxmock.NewRows([]string{"id", "properties", "geom"}).
		AddRow("near", []byte(`{}`), mustEWKB(t, geom.NewPointFlat(geom.XY, []float64{0, 0.001})))

	// The collection restriction binds after the predicate's own arguments.
	mock.ExpectQuery(`SELECT id, properties, ST_AsEWKB\(geom\) FROM proximity.features WHERE \(.+ST_DWithin\(geom::geography, ST_GeomFromEWKB\(\$1\)::geography, \$2\).+\) AND collection = \$3 ORDER BY id`).
		WithArgs(mustEWKB(t, ref), 500.0, "parcels").
		WillReturnRows(rows)

	c := NewPostgresCollection(mock, "parcels")
	result, err := c.ExecuteFiltered(context.Background(), pred)
	require.NoError(t, err)

	mem, ok := result.(*feature.Memory)
	require.True(t, ok)
	require.Equal(t, 1, mem.Len())
	assert.Equal(t, "near", mem.Features()[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// opaqueFilter has no SQL rendering.
type opaqueFilter struct{}

func (opaqueFilter) Evaluate(*feature.Feature) (bool, error) { return false, nil }
func (opaqueFilter) String() string                          { return "opaque" }

func TestPostgresCollectionExecuteFilteredEncodeError(t *testing.T) {
	c := NewPostgresCollection(nil, "parcels")

	_, err := c.ExecuteFiltered(context.Background(), opaqueFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot encode")
}

func TestPostgresCollectionLoadFeatures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_proximity_features"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"_tmp_upsert_proximity_features"},
		[]string{"collection", "id", "properties", "geom"},
	).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "proximity"."features"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	c := NewPostgresCollection(mock, "parcels")
	n, err := c.LoadFeatures(context.Background(), []*feature.Feature{
		{ID: "p1", Geometry: geom.NewPointFlat(geom.XY, []float64{0, 0}).SetSRID(4326)},
		{ID: "p2", Properties: map[string]any{"name": "beta"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
