package proximity

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/feature"
)

// ErrInvalidBuffer is returned for a negative buffer distance.
var ErrInvalidBuffer = eris.New("proximity: buffer distance must be non-negative")

// Search performs a buffer-distance spatial join: it returns every feature
// of data within bufferMeters of at least one reference geometry. The buffer
// is always supplied in meters; unit handling depends on the execution path
// chosen for the data source. An empty reference set yields an empty result
// on either path.
func Search(ctx context.Context, refs feature.Collection, data feature.Collection, bufferMeters float64, opts Options) (feature.Collection, error) {
	if bufferMeters < 0 {
		return nil, eris.Wrapf(ErrInvalidBuffer, "got %g", bufferMeters)
	}

	acc, err := Execute(ctx, refs, data, bufferMeters, opts)
	if err != nil {
		return nil, err
	}
	return acc.Results(), nil
}
