package proximity

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
)

// PushdownCollection is implemented by data sources whose backing store can
// evaluate a predicate natively and return the filtered collection in one
// call. Sources exposing only feature.Collection are evaluated manually; the
// executor never assumes pushdown when only iteration is offered.
type PushdownCollection interface {
	feature.Collection

	// ExecuteFiltered runs the given predicate inside the data source and
	// returns the matching features. The predicate's distance literals are
	// in meters; the source is responsible for unit-aware evaluation.
	ExecuteFiltered(ctx context.Context, f filter.Filter) (feature.Collection, error)
}

// Options carries the optional inputs of a proximity join.
type Options struct {
	// Existing is a pre-existing query restriction, merged with the
	// proximity predicate on the pushdown path only. The manual path does
	// not re-apply it: a per-feature stream carries no merged filter
	// expression, so any restriction must already be baked into the stream
	// by whatever produced it. The asymmetry is deliberate.
	Existing filter.Filter
}

// Execute selects and runs exactly one of the two execution strategies for
// this invocation, based on the data source's capability, and returns a
// uniform result handle. The choice is made once; the two paths are never
// mixed within a call.
func Execute(ctx context.Context, refs feature.Collection, data feature.Collection, bufferMeters float64, opts Options) (*Accumulator, error) {
	if src, ok := data.(PushdownCollection); ok {
		return executePushdown(ctx, refs, src, bufferMeters, opts.Existing)
	}
	return executeManual(ctx, refs, data, bufferMeters)
}

// executePushdown builds the proximity predicate in meters, merges it with
// the existing restriction, and delegates to the source's native execution.
// The returned collection is the final result; no further filtering applies.
func executePushdown(ctx context.Context, refs feature.Collection, data PushdownCollection, bufferMeters float64, existing filter.Filter) (*Accumulator, error) {
	pred, err := BuildProximityFilter(ctx, refs, data.Schema().GeometryProperty, bufferMeters, filter.UnitMeters)
	if err != nil {
		return nil, err
	}

	merged := MergeFilters(existing, pred)
	result, err := data.ExecuteFiltered(ctx, merged)
	if err != nil {
		return nil, eris.Wrap(err, "proximity: pushdown execution")
	}
	return newPushdownAccumulator(result), nil
}

// executeManual builds the proximity predicate in degrees, converted at each
// reference geometry's location, and folds it over the feature stream.
// Features missing the geometry attribute are skipped and counted rather
// than aborting the run.
func executeManual(ctx context.Context, refs feature.Collection, data feature.Collection, bufferMeters float64) (*Accumulator, error) {
	pred, err := BuildProximityFilter(ctx, refs, data.Schema().GeometryProperty, bufferMeters, filter.UnitDegrees)
	if err != nil {
		return nil, err
	}

	r, err := data.Reader(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "proximity: open data reader")
	}
	defer func() { _ = r.Close() }()

	acc := newManualAccumulator(data.Schema())
	for {
		// Cancellation is checked between evaluations; the stream itself
		// owns any blocking I/O.
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "proximity: manual evaluation cancelled")
		}

		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "proximity: read data feature")
		}

		ok, err := pred.Evaluate(f)
		if err != nil {
			if eris.Is(err, filter.ErrMissingAttribute) {
				acc.skipped++
				continue
			}
			return nil, eris.Wrap(err, "proximity: evaluate predicate")
		}
		if ok {
			acc.append(f)
		}
	}

	if acc.skipped > 0 {
		zap.L().Warn("proximity: skipped features without geometry",
			zap.String("collection", data.Schema().Name),
			zap.Int("skipped", acc.skipped),
		)
	}
	return acc, nil
}
