// Package source provides the concrete feature collections a proximity
// search can run against: a pushdown-capable PostGIS store and iterate-only
// SQLite and shapefile sources.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/proximity-cli/internal/db"
	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
)

// featuresTable holds every loaded collection, keyed by (collection, id).
const featuresTable = "proximity.features"

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS proximity;

CREATE TABLE IF NOT EXISTS proximity.features (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}',
	geom       geometry(Geometry, 4326),
	loaded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_features_geom ON proximity.features USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_features_collection ON proximity.features (collection);
`

// MigratePostgres creates the feature schema, table, and spatial index.
func MigratePostgres(ctx context.Context, pool db.Pool) error {
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "source: migrate postgres")
	}
	return nil
}

// PostgresCollection is a feature collection backed by PostGIS. It supports
// native predicate pushdown: ST_DWithin over geography evaluates meter
// distances unit-aware inside the database.
type PostgresCollection struct {
	pool db.Pool
	name string
}

// NewPostgresCollection returns the named collection within the feature store.
func NewPostgresCollection(pool db.Pool, name string) *PostgresCollection {
	return &PostgresCollection{pool: pool, name: name}
}

// Schema implements feature.Collection.
func (c *PostgresCollection) Schema() feature.Schema {
	return feature.Schema{Name: c.name, GeometryProperty: "geom"}
}

// Reader implements feature.Collection with a streaming row reader.
func (c *PostgresCollection) Reader(ctx context.Context) (feature.Reader, error) {
	sql := `SELECT id, properties, ST_AsEWKB(geom) FROM proximity.features WHERE collection = $1 ORDER BY id`
	rows, err := c.pool.Query(ctx, sql, c.name)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read collection %s", c.name)
	}
	return &pgxFeatureReader{rows: rows}, nil
}

// ExecuteFiltered implements proximity.PushdownCollection by rendering the
// predicate to a PostGIS WHERE clause and letting the database evaluate it.
func (c *PostgresCollection) ExecuteFiltered(ctx context.Context, f filter.Filter) (feature.Collection, error) {
	enc := filter.SQLEncoder{GeometryColumn: "geom"}
	where, args, err := enc.Encode(f)
	if err != nil {
		return nil, err
	}

	args = append(args, c.name)
	sql := fmt.Sprintf(
		`SELECT id, properties, ST_AsEWKB(geom) FROM proximity.features WHERE (%s) AND collection = $%d ORDER BY id`,
		where, len(args),
	)
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "source: filtered query on %s", c.name)
	}
	defer rows.Close()

	result := feature.NewMemory(c.Schema())
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		result.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "source: iterate filtered rows on %s", c.name)
	}
	return result, nil
}

// LoadFeatures upserts features into the store under this collection's name,
// keyed by feature ID. Returns the number of rows written.
func (c *PostgresCollection) LoadFeatures(ctx context.Context, features []*feature.Feature) (int64, error) {
	rows := make([][]any, 0, len(features))
	for _, f := range features {
		props, err := json.Marshal(normalizeProperties(f.Properties))
		if err != nil {
			return 0, eris.Wrapf(err, "source: encode properties of %s", f.ID)
		}
		var geomBytes []byte
		if f.Geometry != nil {
			geomBytes, err = ewkb.Marshal(f.Geometry, ewkb.NDR)
			if err != nil {
				return 0, eris.Wrapf(err, "source: encode geometry of %s", f.ID)
			}
		}
		rows = append(rows, []any{c.name, f.ID, props, geomBytes})
	}

	return db.BulkUpsert(ctx, c.pool, db.UpsertConfig{
		Table:        featuresTable,
		Columns:      []string{"collection", "id", "properties", "geom"},
		ConflictKeys: []string{"collection", "id"},
		UpdateExprs:  []string{"loaded_at = now()"},
	}, rows)
}

// pgxFeatureReader adapts pgx.Rows to feature.Reader.
type pgxFeatureReader struct {
	rows pgx.Rows
}

func (r *pgxFeatureReader) Next() (*feature.Feature, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, eris.Wrap(err, "source: iterate feature rows")
		}
		return nil, io.EOF
	}
	return scanFeature(r.rows)
}

func (r *pgxFeatureReader) Close() error {
	r.rows.Close()
	return nil
}

// scanFeature decodes one (id, properties, ewkb) row.
func scanFeature(rows pgx.Rows) (*feature.Feature, error) {
	var (
		id        string
		propsJSON []byte
		geomBytes []byte
	)
	if err := rows.Scan(&id, &propsJSON, &geomBytes); err != nil {
		return nil, eris.Wrap(err, "source: scan feature row")
	}

	f := &feature.Feature{ID: id}
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &f.Properties); err != nil {
			return nil, eris.Wrapf(err, "source: decode properties of %s", id)
		}
	}
	if len(geomBytes) > 0 {
		g, err := ewkb.Unmarshal(geomBytes)
		if err != nil {
			return nil, eris.Wrapf(err, "source: decode geometry of %s", id)
		}
		f.Geometry = g
	}
	return f, nil
}

// normalizeProperties returns an empty map if properties are nil.
func normalizeProperties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
