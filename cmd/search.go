package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/export"
	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
	"github.com/sells-group/proximity-cli/internal/proximity"
	"github.com/sells-group/proximity-cli/internal/source"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find features within a buffer distance of reference geometries",
	Long: `Runs a buffer-distance spatial join: returns every feature of the data
collection that lies within --buffer meters of at least one reference
geometry. References come from --ref-wkt flags or a GeoJSON file.

Data comes from the configured store by default; --data-shapefile and
--data-geojson read a local file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		refWKTs, _ := cmd.Flags().GetStringArray("ref-wkt")
		refsPath, _ := cmd.Flags().GetString("refs-geojson")
		collection, _ := cmd.Flags().GetString("collection")
		shpPath, _ := cmd.Flags().GetString("data-shapefile")
		geojsonPath, _ := cmd.Flags().GetString("data-geojson")
		buffer, _ := cmd.Flags().GetFloat64("buffer")
		where, _ := cmd.Flags().GetStringArray("where")
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")

		if buffer < 0 {
			buffer = cfg.Search.DefaultBufferMeters
		}

		refs, err := loadReferences(refWKTs, refsPath)
		if err != nil {
			return err
		}

		restriction, err := parseWhere(where)
		if err != nil {
			return err
		}

		var data feature.Collection
		switch {
		case shpPath != "":
			idField, _ := cmd.Flags().GetString("id-field")
			shp := source.NewShapefileCollection(shpPath, collectionNameForPath(collection, shpPath))
			shp.IDField = idField
			data = shp
		case geojsonPath != "":
			f, err := os.Open(geojsonPath)
			if err != nil {
				return eris.Wrapf(err, "open %s", geojsonPath)
			}
			mem, err := feature.ReadGeoJSON(f, feature.Schema{
				Name:             collectionNameForPath(collection, geojsonPath),
				GeometryProperty: "geom",
			})
			_ = f.Close()
			if err != nil {
				return err
			}
			data = mem
		default:
			if collection == "" {
				return eris.New("either --collection or a --data-* flag is required")
			}
			// Store config only matters when the data actually comes from it.
			if err := cfg.Validate("search"); err != nil {
				return err
			}
			env, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			data = env.collection(collection)
		}

		acc, err := proximity.Execute(ctx, refs, data, buffer, proximity.Options{Existing: restriction})
		if err != nil {
			return err
		}
		results := acc.Results()

		zap.L().Info("search complete",
			zap.Float64("buffer_meters", buffer),
			zap.Int("references", refs.Len()),
			zap.String("path", acc.Via().String()),
			zap.Int("results", countFeatures(results)),
			zap.Int("skipped", acc.Skipped()),
		)

		return writeResults(ctx, results, output, format)
	},
}

func init() {
	searchCmd.Flags().StringArray("ref-wkt", nil, "reference geometry as WKT (repeatable)")
	searchCmd.Flags().String("refs-geojson", "", "GeoJSON file of reference geometries")
	searchCmd.Flags().String("collection", "", "data collection name in the feature store")
	searchCmd.Flags().String("data-shapefile", "", "read data features from a local shapefile")
	searchCmd.Flags().String("data-geojson", "", "read data features from a local GeoJSON file")
	searchCmd.Flags().String("id-field", "", "DBF attribute to use as the feature ID (shapefile data only)")
	searchCmd.Flags().Float64("buffer", -1, "buffer distance in meters (default from config)")
	searchCmd.Flags().StringArray("where", nil, "property restriction as key=value (repeatable, ANDed)")
	searchCmd.Flags().String("output", "", "output path (default stdout)")
	searchCmd.Flags().String("format", "geojson", "output format: geojson or xlsx")
	rootCmd.AddCommand(searchCmd)
}

// loadReferences builds the reference collection from WKT flags and/or a
// GeoJSON file. At least one reference source must be given; an empty
// reference set is permitted only when the file is explicitly empty.
func loadReferences(wkts []string, geojsonPath string) (*feature.Memory, error) {
	if len(wkts) == 0 && geojsonPath == "" {
		return nil, eris.New("at least one of --ref-wkt or --refs-geojson is required")
	}

	refs := feature.NewMemory(feature.Schema{Name: "references", GeometryProperty: "geom"})

	if geojsonPath != "" {
		f, err := os.Open(geojsonPath)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", geojsonPath)
		}
		mem, err := feature.ReadGeoJSON(f, refs.Schema())
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		refs = mem
	}

	for i, s := range wkts {
		g, err := wkt.Unmarshal(s)
		if err != nil {
			return nil, eris.Wrapf(err, "parse reference WKT %d", i)
		}
		refs.Append(&feature.Feature{ID: fmt.Sprintf("ref-wkt-%d", i), Geometry: g})
	}

	return refs, nil
}

// parseWhere turns key=value flags into an ANDed equality restriction.
// Numeric-looking values compare numerically.
func parseWhere(clauses []string) (filter.Filter, error) {
	var restriction filter.Filter
	for _, clause := range clauses {
		key, value, ok := strings.Cut(clause, "=")
		if !ok || key == "" {
			return nil, eris.Errorf("invalid --where clause %q, want key=value", clause)
		}

		var v any = value
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			v = n
		}

		eq := filter.Equals{Property: key, Value: v}
		if restriction == nil {
			restriction = eq
		} else {
			restriction = filter.And{Left: restriction, Right: eq}
		}
	}
	return restriction, nil
}

// writeResults renders the result collection to the requested format.
func writeResults(ctx context.Context, results feature.Collection, output, format string) error {
	switch format {
	case "geojson":
		if output == "" {
			return export.WriteGeoJSON(ctx, os.Stdout, results)
		}
		f, err := os.Create(output)
		if err != nil {
			return eris.Wrapf(err, "create %s", output)
		}
		defer func() { _ = f.Close() }()
		return export.WriteGeoJSON(ctx, f, results)

	case "xlsx":
		if output == "" {
			return eris.New("--output is required for xlsx")
		}
		return export.WriteXLSX(ctx, output, results)

	default:
		return eris.Errorf("unsupported format %q, want geojson or xlsx", format)
	}
}

func collectionNameForPath(name, path string) string {
	if name != "" {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// countFeatures reports the size of an in-memory result, or -1 when the
// collection does not expose one.
func countFeatures(c feature.Collection) int {
	if m, ok := c.(*feature.Memory); ok {
		return m.Len()
	}
	return -1
}
