package feature

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ReadGeoJSON decodes a GeoJSON FeatureCollection into a Memory collection.
// Features without an "id" member get a positional one.
func ReadGeoJSON(r io.Reader, schema Schema) (*Memory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "feature: read geojson")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "feature: decode geojson")
	}

	m := NewMemory(schema)
	for i, gf := range fc.Features {
		id := gf.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", schema.Name, i)
		}
		m.Append(&Feature{
			ID:         id,
			Geometry:   gf.Geometry,
			Properties: gf.Properties,
		})
	}
	return m, nil
}
