package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/proximity-cli/internal/feature"
)

// SQLiteStore is a file-backed feature store using modernc.org/sqlite.
// Plain SQLite has no spatial functions, so its collections are
// iterate-only: they never advertise pushdown and always route to manual
// per-feature evaluation.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite feature store at the given path and configures
// WAL mode.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "source: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := database.Exec(pragma); err != nil {
			_ = database.Close()
			return nil, eris.Wrapf(err, "source: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: database}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS features (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	geom       BLOB,
	loaded_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_features_collection ON features(collection);
`

// Migrate creates the feature table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "source: migrate sqlite")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Collection returns the named collection within the store.
func (s *SQLiteStore) Collection(name string) *SQLiteCollection {
	return &SQLiteCollection{db: s.db, name: name}
}

// LoadFeatures upserts features into the named collection. Returns the
// number of rows written.
func (s *SQLiteStore) LoadFeatures(ctx context.Context, collection string, features []*feature.Feature) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "source: sqlite begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO features (collection, id, properties, geom) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "source: sqlite prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	var written int64
	for _, f := range features {
		props, err := json.Marshal(normalizeProperties(f.Properties))
		if err != nil {
			return written, eris.Wrapf(err, "source: encode properties of %s", f.ID)
		}
		var geomBytes []byte
		if f.Geometry != nil {
			geomBytes, err = ewkb.Marshal(f.Geometry, ewkb.NDR)
			if err != nil {
				return written, eris.Wrapf(err, "source: encode geometry of %s", f.ID)
			}
		}
		if _, err := stmt.ExecContext(ctx, collection, f.ID, string(props), geomBytes); err != nil {
			return written, eris.Wrapf(err, "source: sqlite insert %s", f.ID)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, eris.Wrap(err, "source: sqlite commit")
	}
	return written, nil
}

// SQLiteCollection is an iterate-only collection inside a SQLiteStore.
type SQLiteCollection struct {
	db   *sql.DB
	name string
}

// Schema implements feature.Collection.
func (c *SQLiteCollection) Schema() feature.Schema {
	return feature.Schema{Name: c.name, GeometryProperty: "geom"}
}

// Reader implements feature.Collection.
func (c *SQLiteCollection) Reader(ctx context.Context) (feature.Reader, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, properties, geom FROM features WHERE collection = ? ORDER BY id`, c.name)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read sqlite collection %s", c.name)
	}
	return &sqliteFeatureReader{rows: rows}, nil
}

type sqliteFeatureReader struct {
	rows *sql.Rows
}

func (r *sqliteFeatureReader) Next() (*feature.Feature, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, eris.Wrap(err, "source: iterate sqlite rows")
		}
		return nil, io.EOF
	}

	var (
		id        string
		propsJSON string
		geomBytes []byte
	)
	if err := r.rows.Scan(&id, &propsJSON, &geomBytes); err != nil {
		return nil, eris.Wrap(err, "source: scan sqlite row")
	}

	f := &feature.Feature{ID: id}
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &f.Properties); err != nil {
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

func (r *sqliteFeatureReader) Close() error {
	return r.rows.Close()
}
