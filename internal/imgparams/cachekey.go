package imgparams

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// CacheKey is the 64-hex-character SHA-256 fingerprint of a source file's
// identity and the encoder parameters that would convert it.
type CacheKey string

// Shard returns the two-character shard prefix and the remainder, matching
// the on-disk layout cache_dir/<key[0:2]>/<key[2:]>.
func (k CacheKey) Shard() (prefix, rest string) {
	s := string(k)
	if len(s) < 2 {
		return s, ""
	}
	return s[:2], s[2:]
}

// DeriveCacheKey computes the deterministic CacheKey for hostPath at
// originalSize with the given EncoderParams. Changing any input changes the
// key; the same inputs always produce the same key, on any platform.
func DeriveCacheKey(hostPath string, originalSize int64, params EncoderParams) CacheKey {
	h := sha256.New()
	h.Write([]byte(hostPath))

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(originalSize))
	h.Write(sizeBuf[:])

	h.Write([]byte{params.Quality, params.Speed})

	chromaBuf := params.Chroma.chromaLE16()
	h.Write(chromaBuf[:])

	if mr := params.maxResString(); mr != "" {
		h.Write([]byte(mr))
	}

	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}
