package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticpu/fuse-img2heic/internal/imgparams"
)

func testParams() imgparams.EncoderParams {
	return imgparams.EncoderParams{Quality: 80, Speed: 4, Chroma: imgparams.Chroma420}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 12345, ctx.Params)
	want := []byte("fake heic bytes")

	require.NoError(t, c.Put(key, want, ctx))

	got, ok := c.Get(key, ctx)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestGetMissingKeyIsMiss(t *testing.T) {
	c := New(t.TempDir(), false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 1, ctx.Params)

	_, ok := c.Get(key, ctx)
	assert.False(t, ok)
}

func TestGetDetectsParamsMismatch(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 99, ctx.Params)
	require.NoError(t, c.Put(key, []byte("data"), ctx))

	staleCtx := ctx
	staleCtx.Params.Quality = 10
	_, ok := c.Get(key, staleCtx)
	assert.False(t, ok, "entry built for different quality must miss")

	path := c.pathFor(key)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "mismatched entry should be deleted")
}

func TestGetDetectsTamperedPayload(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 7, ctx.Params)
	require.NoError(t, c.Put(key, []byte("original bytes"), ctx))

	path := c.pathFor(key)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, ok := c.Get(key, ctx)
	assert.False(t, ok, "tampered payload must be rejected by checksum check")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEncryptedRoundTripAndTamperDetection(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, true)
	ctx := Context{HostPath: "/photos/secret.png", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 55, ctx.Params)
	plaintext := []byte("sensitive pixels")

	require.NoError(t, c.Put(key, plaintext, ctx))
	got, ok := c.Get(key, ctx)
	require.True(t, ok)
	assert.Equal(t, plaintext, got)

	path := c.pathFor(key)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, ok = c.Get(key, ctx)
	assert.False(t, ok, "AEAD authentication must catch tampered ciphertext")
}

func TestPutIsAtomicNoPartialFileOnRename(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 1, ctx.Params)
	require.NoError(t, c.Put(key, []byte("payload"), ctx))

	shardDir := filepath.Dir(c.pathFor(key))
	entries, err := os.ReadDir(shardDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "no leftover temp file after a successful Put")
	}
}

func TestEvictOnceRemovesOldestUntilUnderBudget(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}

	var paths []string
	for i := 0; i < 5; i++ {
		key := imgparams.DeriveCacheKey(ctx.HostPath, int64(i), ctx.Params)
		require.NoError(t, c.Put(key, []byte("0123456789"), ctx))
		paths = append(paths, c.pathFor(key))
		atime := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(paths[i], atime, atime))
	}

	_, total, err := c.walk()
	require.NoError(t, err)
	require.Greater(t, total, int64(0))

	require.NoError(t, c.evictOnce(total/2))

	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err), "oldest entry should be evicted first")
	_, err = os.Stat(paths[len(paths)-1])
	assert.NoError(t, err, "newest entry should survive")
}

func TestEvictOnceNoopUnderBudget(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	ctx := Context{HostPath: "/photos/a.jpg", Params: testParams()}
	key := imgparams.DeriveCacheKey(ctx.HostPath, 1, ctx.Params)
	require.NoError(t, c.Put(key, []byte("payload"), ctx))

	require.NoError(t, c.evictOnce(1<<30))

	_, ok := c.Get(key, ctx)
	assert.True(t, ok, "eviction under budget must not remove entries")
}
