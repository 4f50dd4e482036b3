// Package export writes result feature collections to interchange formats.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/proximity-cli/internal/feature"
)

// WriteGeoJSON streams a collection out as a GeoJSON FeatureCollection.
func WriteGeoJSON(ctx context.Context, w io.Writer, c feature.Collection) error {
	r, err := c.Reader(ctx)
	if err != nil {
		return eris.Wrap(err, "export: open reader")
	}
	defer func() { _ = r.Close() }()

	fc := geojson.FeatureCollection{}
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return eris.Wrap(err, "export: read feature")
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(&fc); err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	return nil
}
