package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/source"
)

var loadCmd = &cobra.Command{
	Use:   "load [shapefile...]",
	Short: "Load shapefiles into the feature store",
	Long: `Parses one or more shapefiles and upserts their features into the
configured store under --collection. Re-loading the same collection
replaces features by ID. Multiple files are parsed in parallel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("load"); err != nil {
			return err
		}

		collection, _ := cmd.Flags().GetString("collection")
		idField, _ := cmd.Flags().GetString("id-field")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if collection == "" {
			return eris.New("--collection is required")
		}

		env, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		log := zap.L().With(zap.String("command", "load"), zap.String("collection", collection))

		var total atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, path := range args {
			path := path
			g.Go(func() error {
				features, err := readShapefile(gctx, path, collection, idField)
				if err != nil {
					return err
				}

				written, err := env.load(gctx, collection, features)
				if err != nil {
					return eris.Wrapf(err, "load %s", path)
				}
				total.Add(written)

				log.Info("loaded shapefile",
					zap.String("path", path),
					zap.Int64("features", written),
				)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("Loaded %d features into %s\n", total.Load(), collection)
		return nil
	},
}

func init() {
	loadCmd.Flags().String("collection", "", "collection name to load into (required)")
	loadCmd.Flags().String("id-field", "", "DBF attribute to use as the feature ID")
	loadCmd.Flags().Int("concurrency", 3, "parallel shapefile parses")
	rootCmd.AddCommand(loadCmd)
}

// readShapefile drains a shapefile into memory for bulk loading.
func readShapefile(ctx context.Context, path, collection, idField string) ([]*feature.Feature, error) {
	shp := source.NewShapefileCollection(path, collection)
	shp.IDField = idField

	r, err := shp.Reader(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var features []*feature.Feature
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		features = append(features, f)
	}
	return features, nil
}
