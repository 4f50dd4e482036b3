package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/proximity-cli/internal/feature"
)

// WriteXLSX writes a collection to a spreadsheet: one row per feature, with
// the ID, the geometry as WKT, and one column per property name seen across
// the collection (sorted for a stable layout).
func WriteXLSX(ctx context.Context, path string, c feature.Collection) error {
	r, err := c.Reader(ctx)
	if err != nil {
		return eris.Wrap(err, "export: open reader")
	}
	defer func() { _ = r.Close() }()

	var features []*feature.Feature
	keySet := map[string]bool{}
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return eris.Wrap(err, "export: read feature")
		}
		features = append(features, f)
		for k := range f.Properties {
			keySet[k] = true
		}
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("results")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString("id")
	header.AddCell().SetString("geometry")
	for _, k := range keys {
		header.AddCell().SetString(k)
	}

	for _, f := range features {
		row := sheet.AddRow()
		row.AddCell().SetString(f.ID)

		geomCell := row.AddCell()
		if f.Geometry != nil {
			s, err := wkt.Marshal(f.Geometry)
			if err != nil {
				return eris.Wrapf(err, "export: encode geometry of %s", f.ID)
			}
			geomCell.SetString(s)
		}

		for _, k := range keys {
			cell := row.AddCell()
			if v, ok := f.Property(k); ok {
				cell.SetString(fmt.Sprint(v))
			}
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
