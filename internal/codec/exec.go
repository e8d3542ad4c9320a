package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/ticpu/fuse-img2heic/internal/imgparams"
)

// ExecConverter shells out to an external HEIC encoder binary (a
// heif-enc-compatible CLI) for the actual codec work. When the request
// carries a MaxRes, the source is decoded, resized with a high-quality
// resampler, and re-encoded to a temporary PNG before being handed to the
// encoder, since most encoder CLIs resize poorly or not at all.
type ExecConverter struct {
	// BinaryPath is the encoder executable, e.g. "heif-enc".
	BinaryPath string
}

// NewExecConverter returns an ExecConverter invoking binaryPath.
func NewExecConverter(binaryPath string) *ExecConverter {
	return &ExecConverter{BinaryPath: binaryPath}
}

func (c *ExecConverter) Convert(ctx context.Context, hostPath string, params imgparams.EncoderParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	input := hostPath
	var cleanup func()
	if params.MaxRes != nil {
		resized, cleanupFn, err := resizeToTemp(hostPath, *params.MaxRes)
		if err != nil {
			return nil, fmt.Errorf("codec: resize: %w", err)
		}
		input = resized
		cleanup = cleanupFn
	}
	if cleanup != nil {
		defer cleanup()
	}

	out, err := os.CreateTemp("", "fuse-img2heic-out-*.heic")
	if err != nil {
		return nil, fmt.Errorf("codec: create output temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	args := c.buildArgs(input, outPath, params)
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("codec: %s failed: %w: %s", c.BinaryPath, err, stderr.String())
	}

	result, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("codec: read encoder output: %w", err)
	}
	return result, nil
}

// buildArgs composes the encoder command line. quality and speed map
// directly onto heif-enc's own flags; chroma is passed through as the
// chroma subsampling mode identifier.
func (c *ExecConverter) buildArgs(input, output string, params imgparams.EncoderParams) []string {
	return []string{
		"-q", strconv.Itoa(int(params.Quality)),
		"--speed", strconv.Itoa(int(params.Speed)),
		"--chroma", strconv.Itoa(int(params.Chroma)),
		"-o", output,
		input,
	}
}

// resizeToTemp decodes hostPath, scales it down to fit within max while
// preserving aspect ratio, and writes the result to a temporary PNG file
// for the encoder to pick up. The returned cleanup removes that file.
func resizeToTemp(hostPath string, max imgparams.MaxResolution) (string, func(), error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", nil, fmt.Errorf("decode: %w", err)
	}

	bounds := src.Bounds()
	w, h := scaledDimensions(bounds.Dx(), bounds.Dy(), int(max.Width), int(max.Height))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	tmp, err := os.CreateTemp("", "fuse-img2heic-resized-*.png")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if err := encodePNG(tmp, dst); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

// scaledDimensions returns the largest (w,h) that fits within (maxW,maxH)
// while preserving the source aspect ratio. A zero maxW or maxH is
// treated as unconstrained on that axis.
func scaledDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	if maxW <= 0 {
		maxW = srcW
	}
	if maxH <= 0 {
		maxH = srcH
	}
	if srcW <= maxW && srcH <= maxH {
		return srcW, srcH
	}
	wRatio := float64(maxW) / float64(srcW)
	hRatio := float64(maxH) / float64(srcH)
	ratio := wRatio
	if hRatio < ratio {
		ratio = hRatio
	}
	w := int(float64(srcW) * ratio)
	h := int(float64(srcH) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
