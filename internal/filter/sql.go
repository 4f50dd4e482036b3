package filter

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SQLEncoder renders a filter as a PostGIS WHERE clause with positional
// placeholders. Property names resolve through ColumnMapping when present;
// the geometry property resolves to GeometryColumn, and any other unmapped
// property is looked up in the properties JSONB column.
type SQLEncoder struct {
	// GeometryColumn is the geometry column referenced by spatial terms.
	GeometryColumn string
	// PropertiesColumn is the JSONB column holding non-spatial properties.
	// Defaults to "properties".
	PropertiesColumn string
	// ColumnMapping overrides property-to-column resolution.
	ColumnMapping map[string]string
}

// Encode renders f as a WHERE clause body (no "WHERE" keyword) plus the
// positional arguments, numbered from $1.
func (e *SQLEncoder) Encode(f Filter) (string, []any, error) {
	st := &sqlState{enc: e}
	clause, err := st.encode(f)
	if err != nil {
		return "", nil, err
	}
	return clause, st.args, nil
}

type sqlState struct {
	enc  *SQLEncoder
	args []any
}

// bind appends an argument and returns its placeholder.
func (s *sqlState) bind(v any) string {
	s.args = append(s.args, v)
	return fmt.Sprintf("$%d", len(s.args))
}

func (s *sqlState) encode(f Filter) (string, error) {
	switch t := f.(type) {
	case All:
		return "TRUE", nil

	case Or:
		if len(t.Children) == 0 {
			return "FALSE", nil
		}
		terms := make([]string, len(t.Children))
		for i, c := range t.Children {
			term, err := s.encode(c)
			if err != nil {
				return "", err
			}
			terms[i] = term
		}
		return "(" + strings.Join(terms, " OR ") + ")", nil

	case And:
		left, err := s.encode(t.Left)
		if err != nil {
			return "", err
		}
		right, err := s.encode(t.Right)
		if err != nil {
			return "", err
		}
		return "(" + left + " AND " + right + ")", nil

	case DWithin:
		data, err := ewkb.Marshal(t.Geometry, ewkb.NDR)
		if err != nil {
			return "", eris.Wrap(err, "filter: encode predicate geometry")
		}
		col := s.enc.geometryColumn(t.Property)
		geomPH := s.bind(data)
		distPH := s.bind(t.Distance)
		if t.Unit == UnitMeters {
			// Geography casts make ST_DWithin unit-aware in meters.
			return fmt.Sprintf("ST_DWithin(%s::geography, ST_GeomFromEWKB(%s)::geography, %s)", col, geomPH, distPH), nil
		}
		return fmt.Sprintf("ST_DWithin(%s, ST_GeomFromEWKB(%s), %s)", col, geomPH, distPH), nil

	case Equals:
		if col, ok := s.enc.ColumnMapping[t.Property]; ok {
			return fmt.Sprintf("%s = %s", col, s.bind(t.Value)), nil
		}
		props := s.enc.PropertiesColumn
		if props == "" {
			props = "properties"
		}
		keyPH := s.bind(t.Property)
		valPH := s.bind(fmt.Sprint(t.Value))
		return fmt.Sprintf("%s->>%s = %s", props, keyPH, valPH), nil

	default:
		return "", eris.Errorf("filter: cannot encode %T to SQL", f)
	}
}

func (e *SQLEncoder) geometryColumn(property string) string {
	if col, ok := e.ColumnMapping[property]; ok {
		return col
	}
	if e.GeometryColumn != "" {
		return e.GeometryColumn
	}
	return property
}
