// Package imgparams defines the encoder parameter record shared by the
// cache, the worker pool and the codec. It has no dependencies on the rest
// of the tree so every component can import it without creating cycles.
package imgparams

import (
	"encoding/binary"
	"fmt"
)

// Chroma is the chroma subsampling format requested from the encoder.
type Chroma uint16

// Supported chroma subsampling formats.
const (
	Chroma400 Chroma = 400
	Chroma420 Chroma = 420
	Chroma422 Chroma = 422
	Chroma444 Chroma = 444
)

// Valid reports whether c is one of the supported chroma formats.
func (c Chroma) Valid() bool {
	switch c {
	case Chroma400, Chroma420, Chroma422, Chroma444:
		return true
	default:
		return false
	}
}

// MaxResolution caps the encoded image to w x h, aspect ratio preserved.
type MaxResolution struct {
	Width  uint32
	Height uint32
}

// String renders the resolution the way the config file expects it, "w,h".
func (m MaxResolution) String() string {
	return fmt.Sprintf("%d,%d", m.Width, m.Height)
}

// EncoderParams is the fixed-shape record carried by every conversion and
// every cache operation. Two artifacts with different EncoderParams are
// distinct, even for the same source file.
type EncoderParams struct {
	Quality uint8 // 0-100
	Speed   uint8 // 0-9
	Chroma  Chroma
	// MaxRes is nil when the config leaves max_resolution unset.
	MaxRes *MaxResolution
}

// Validate checks the shape invariants: quality in [0,100], speed in
// [0,9], and a supported chroma format.
func (p EncoderParams) Validate() error {
	if p.Quality > 100 {
		return fmt.Errorf("imgparams: quality %d out of range [0,100]", p.Quality)
	}
	if p.Speed > 9 {
		return fmt.Errorf("imgparams: speed %d out of range [0,9]", p.Speed)
	}
	if !p.Chroma.Valid() {
		return fmt.Errorf("imgparams: unsupported chroma %d", p.Chroma)
	}
	return nil
}

// Equal reports whether p and other describe the same encoder output.
func (p EncoderParams) Equal(other EncoderParams) bool {
	if p.Quality != other.Quality || p.Speed != other.Speed || p.Chroma != other.Chroma {
		return false
	}
	switch {
	case p.MaxRes == nil && other.MaxRes == nil:
		return true
	case p.MaxRes == nil || other.MaxRes == nil:
		return false
	default:
		return *p.MaxRes == *other.MaxRes
	}
}

// maxResString returns the "w,h" form mixed into the cache key, or "" when
// max_resolution is unset. A set value, even "0,0", is never empty, so
// DeriveCacheKey (cachekey.go) hashes something only when it is set.
func (p EncoderParams) maxResString() string {
	if p.MaxRes == nil {
		return ""
	}
	return p.MaxRes.String()
}

// chromaLE16 returns Chroma as little-endian bytes for mixing into the
// cache key derivation.
func (c Chroma) chromaLE16() [2]byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(c))
	return b
}
