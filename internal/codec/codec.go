// Package codec defines the transcoder contract the worker pool calls
// and an implementation that shells out to an external HEIC encoder
// binary, optionally downscaling first.
package codec

import (
	"context"

	"github.com/ticpu/fuse-img2heic/internal/imgparams"
)

// Converter turns the raster image at hostPath into HEIC bytes under the
// given encoder parameters. Implementations must be deterministic for a
// fixed (input bytes, params) pair and safe for concurrent use by
// multiple worker goroutines.
type Converter interface {
	Convert(ctx context.Context, hostPath string, params imgparams.EncoderParams) ([]byte, error)
}
