package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticpu/fuse-img2heic/internal/cache"
	"github.com/ticpu/fuse-img2heic/internal/imgparams"
)

type countingConverter struct {
	calls int32
	delay time.Duration
}

func (c *countingConverter) Convert(ctx context.Context, hostPath string, params imgparams.EncoderParams) ([]byte, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return []byte("converted:" + hostPath), nil
}

func writeTempImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fake source bytes"), 0o644))
	return path
}

func testParams() imgparams.EncoderParams {
	return imgparams.EncoderParams{Quality: 70, Speed: 5, Chroma: imgparams.Chroma420}
}

func TestConvertBlockingPopulatesCache(t *testing.T) {
	dir := t.TempDir()
	hostPath := writeTempImage(t, dir, "a.jpg")
	c := cache.New(filepath.Join(dir, "cache"), false)
	conv := &countingConverter{}
	p := New(c, conv)
	defer p.Stop()

	out, err := p.ConvertBlocking(hostPath, testParams())
	require.NoError(t, err)
	assert.Equal(t, "converted:"+hostPath, string(out))
	assert.EqualValues(t, 1, conv.calls)

	size, statErr := statSize(hostPath)
	require.NoError(t, statErr)
	key := imgparams.DeriveCacheKey(hostPath, size, testParams())
	cached, ok := c.Get(key, cache.Context{HostPath: hostPath, Params: testParams()})
	require.True(t, ok)
	assert.Equal(t, out, cached)
}

func TestConvertBlockingSingleFlightsConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	hostPath := writeTempImage(t, dir, "a.jpg")
	c := cache.New(filepath.Join(dir, "cache"), false)
	conv := &countingConverter{delay: 50 * time.Millisecond}
	p := New(c, conv)
	defer p.Stop()

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := p.ConvertBlocking(hostPath, testParams())
			require.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "converted:"+hostPath, string(r))
	}
	assert.EqualValues(t, 1, conv.calls, "codec should run once across concurrent identical requests")
}

func TestPrefetchSkipsWhenAlreadyCached(t *testing.T) {
	dir := t.TempDir()
	hostPath := writeTempImage(t, dir, "a.jpg")
	c := cache.New(filepath.Join(dir, "cache"), false)
	conv := &countingConverter{}
	p := New(c, conv)
	defer p.Stop()

	_, err := p.ConvertBlocking(hostPath, testParams())
	require.NoError(t, err)
	assert.EqualValues(t, 1, conv.calls)

	p.Prefetch(hostPath, testParams())
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, conv.calls, "prefetch must not reconvert an already-cached artifact")
}

func TestStopRejectsFurtherBlockingCalls(t *testing.T) {
	dir := t.TempDir()
	hostPath := writeTempImage(t, dir, "a.jpg")
	c := cache.New(filepath.Join(dir, "cache"), false)
	conv := &countingConverter{}
	p := New(c, conv)
	p.Stop()

	_, err := p.ConvertBlocking(hostPath, testParams())
	assert.ErrorIs(t, err, ErrShuttingDown)
}
