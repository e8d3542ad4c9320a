package cache

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"

	"github.com/ticpu/fuse-img2heic/internal/applog"
	"github.com/ticpu/fuse-img2heic/internal/imgparams"
	"github.com/ticpu/fuse-img2heic/internal/metrics"
)

// Context carries the information a Get/Put call needs beyond the key
// itself: the source file's host path (for key derivation on the
// encryption side) and the encoder settings the stored payload must
// match.
type Context struct {
	HostPath string
	Params   imgparams.EncoderParams
}

// Cache is a content-addressed store of converted image bytes, sharded
// two hex characters deep under Dir. Entries are self-describing: each
// file opens with the fixed header in header.go, so a Get can tell a
// stale or corrupt entry from a good one without consulting anything
// else on disk.
type Cache struct {
	Dir     string
	Encrypt bool

	// Metrics is optional; a nil value disables recording.
	Metrics *metrics.Registry
}

// New returns a Cache rooted at dir. dir is created lazily by Put; Get
// and the evictor tolerate it not existing yet.
func New(dir string, encrypt bool) *Cache {
	return &Cache{Dir: dir, Encrypt: encrypt}
}

func (c *Cache) pathFor(key imgparams.CacheKey) string {
	prefix, rest := key.Shard()
	return filepath.Join(c.Dir, prefix, rest)
}

// Get loads the cached conversion for key, if any. Any validation
// failure - short read, bad magic/version, param mismatch, checksum or
// decryption failure - deletes the file and is reported as a plain
// miss; the caller reconverts and Put repopulates the entry.
func (c *Cache) Get(key imgparams.CacheKey, ctx Context) ([]byte, bool) {
	path := c.pathFor(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		c.Metrics.CacheMiss()
		return nil, false
	}

	h, err := unmarshalHeader(raw)
	if err != nil {
		applog.Debugf(path, "cache: dropping invalid entry: %v", err)
		c.evictFile(path)
		c.Metrics.CacheMiss()
		return nil, false
	}
	if !h.matchesParams(ctx.Params) {
		applog.Debugf(path, "cache: dropping entry with stale encoder params")
		c.evictFile(path)
		c.Metrics.CacheMiss()
		return nil, false
	}

	payload := raw[headerSize:]
	var plaintext []byte
	if h.Encrypted {
		plaintext, err = open(ctx.HostPath, h.Nonce, payload)
		if err != nil {
			applog.Debugf(path, "cache: dropping entry: %v", err)
			c.evictFile(path)
			c.Metrics.CacheMiss()
			return nil, false
		}
	} else {
		plaintext = payload
	}

	if sha256.Sum256(plaintext) != h.Checksum {
		applog.Debugf(path, "cache: dropping entry with checksum mismatch")
		c.evictFile(path)
		c.Metrics.CacheMiss()
		return nil, false
	}

	applog.Debugf(path, "cache: hit")
	c.Metrics.CacheHit()
	return plaintext, true
}

// Put stores plaintext under key, creating the shard directory as
// needed. The write lands in a temp file in the same directory and is
// renamed into place, so a concurrent Get never observes a partial
// write.
func (c *Cache) Put(key imgparams.CacheKey, plaintext []byte, ctx Context) error {
	path := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	h := header{
		Version:  currentVersion,
		Quality:  ctx.Params.Quality,
		Speed:    ctx.Params.Speed,
		Chroma:   uint16(ctx.Params.Chroma),
		Checksum: sha256.Sum256(plaintext),
	}

	payload := plaintext
	if c.Encrypt {
		ciphertext, nonce, err := seal(ctx.HostPath, plaintext)
		if err != nil {
			return err
		}
		h.Encrypted = true
		h.Nonce = nonce
		payload = ciphertext
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(marshalHeader(h))
	if writeErr == nil {
		_, writeErr = tmp.Write(payload)
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpName)
		return writeErr
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return closeErr
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	applog.Debugf(path, "cache: stored %d bytes (encrypted=%v)", len(plaintext), c.Encrypt)
	return nil
}

func (c *Cache) evictFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		applog.Errorf(path, "cache: failed to remove invalid entry: %v", err)
	}
}
