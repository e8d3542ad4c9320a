package fsfrontend

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticpu/fuse-img2heic/internal/cache"
	"github.com/ticpu/fuse-img2heic/internal/imageformat"
	"github.com/ticpu/fuse-img2heic/internal/imgparams"
	"github.com/ticpu/fuse-img2heic/internal/namemap"
	"github.com/ticpu/fuse-img2heic/internal/worker"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 'J', 'F', 'I', 'F'}

type recordingConverter struct {
	mu    sync.Mutex
	paths []string
}

func (c *recordingConverter) Convert(ctx context.Context, hostPath string, params imgparams.EncoderParams) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, hostPath)
	return []byte("converted:" + hostPath), nil
}

func (c *recordingConverter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func (c *recordingConverter) converted() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.paths))
	for _, p := range c.paths {
		out[p]++
	}
	return out
}

func testParams() imgparams.EncoderParams {
	return imgparams.EncoderParams{Quality: 50, Speed: 4, Chroma: imgparams.Chroma420}
}

func newTestFS(t *testing.T, srcDir string, prefetchCount int) (*FS, *recordingConverter) {
	t.Helper()
	detector, err := imageformat.NewDetector(nil)
	require.NoError(t, err)

	mapper := namemap.New([]namemap.SourceRoot{{HostPath: srcDir, MountName: "pictures"}}, detector)
	c := cache.New(filepath.Join(t.TempDir(), "cache"), false)
	conv := &recordingConverter{}
	pool := worker.New(c, conv)
	t.Cleanup(pool.Stop)

	fsys := New(mapper, c, pool, "/nonexistent-mount", Options{
		CacheTimeout:  time.Minute,
		PrefetchCount: prefetchCount,
		Params:        testParams(),
	})
	return fsys, conv
}

// lookupChild walks one Lookup step and returns the allocated inode.
func lookupChild(t *testing.T, fsys *FS, parent uint64, name string) uint64 {
	t.Helper()
	header := &fuse.InHeader{NodeId: parent}
	var out fuse.EntryOut
	status := fsys.Lookup(nil, header, name, &out)
	require.Equal(t, fuse.OK, status, "lookup %q under inode %d", name, parent)
	return out.NodeId
}

func TestLookupAllocatesStableInodes(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "photo.jpg"), jpegMagic, 0o644))
	fsys, _ := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "photo.heic")
	assert.NotEqual(t, dirIno, fileIno)

	again := lookupChild(t, fsys, dirIno, "photo.heic")
	assert.Equal(t, fileIno, again, "repeated lookup must return the same inode")
}

func TestLookupUnknownNameReturnsENOENT(t *testing.T) {
	fsys, _ := newTestFS(t, t.TempDir(), 0)

	header := &fuse.InHeader{NodeId: 1}
	var out fuse.EntryOut
	assert.Equal(t, fuse.ENOENT, fsys.Lookup(nil, header, "nope", &out))
}

func TestGetAttrSynthesizesFileAttributes(t *testing.T) {
	srcDir := t.TempDir()
	hostPath := filepath.Join(srcDir, "photo.jpg")
	require.NoError(t, os.WriteFile(hostPath, jpegMagic, 0o644))
	fsys, _ := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "photo.heic")

	input := &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: fileIno}}
	input.Uid = 1234
	input.Gid = 99
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, fsys.GetAttr(nil, input, &out))

	assert.Equal(t, uint32(fuse.S_IFREG)|0o644, out.Attr.Mode)
	assert.EqualValues(t, 1, out.Attr.Nlink)
	assert.EqualValues(t, 1234, out.Attr.Uid)
	assert.EqualValues(t, 99, out.Attr.Gid)
	assert.EqualValues(t, defaultBlockSize, out.Attr.Blksize)
	assert.EqualValues(t, len(jpegMagic), out.Attr.Size,
		"size falls back to the host source length before the artifact is cached")
}

func TestGetAttrDirectory(t *testing.T) {
	srcDir := t.TempDir()
	fsys, _ := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	input := &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: dirIno}}
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, fsys.GetAttr(nil, input, &out))
	assert.Equal(t, uint32(fuse.S_IFDIR)|0o755, out.Attr.Mode)
}

func readAll(t *testing.T, fsys *FS, ino uint64, offset uint64, size uint32) ([]byte, fuse.Status) {
	t.Helper()
	input := &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: ino}, Offset: offset, Size: size}
	buf := make([]byte, size)
	res, status := fsys.Read(nil, input, buf)
	if status != fuse.OK {
		return nil, status
	}
	data, status := res.Bytes(buf)
	require.Equal(t, fuse.OK, status)
	return data, fuse.OK
}

func TestReadConvertsOnceAndServesFromCache(t *testing.T) {
	srcDir := t.TempDir()
	hostPath := filepath.Join(srcDir, "photo.jpg")
	require.NoError(t, os.WriteFile(hostPath, jpegMagic, 0o644))
	fsys, conv := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "photo.heic")

	want := []byte("converted:" + hostPath)

	data, status := readAll(t, fsys, fileIno, 0, 1<<20)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, want, data)
	assert.Equal(t, 1, conv.calls())

	data, status = readAll(t, fsys, fileIno, 0, 1<<20)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, want, data, "second read must be byte-identical")
	assert.Equal(t, 1, conv.calls(), "second read must be served from the cache")

	// After conversion the reported size is the cached artifact's exact
	// length, not the host source's.
	input := &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: fileIno}}
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, fsys.GetAttr(nil, input, &out))
	assert.EqualValues(t, len(want), out.Attr.Size)
}

func TestReadSlicesByOffsetAndSize(t *testing.T) {
	srcDir := t.TempDir()
	hostPath := filepath.Join(srcDir, "photo.jpg")
	require.NoError(t, os.WriteFile(hostPath, jpegMagic, 0o644))
	fsys, _ := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "photo.heic")
	want := []byte("converted:" + hostPath)

	data, status := readAll(t, fsys, fileIno, 2, 3)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, want[2:5], data)

	data, status = readAll(t, fsys, fileIno, uint64(len(want))+100, 10)
	require.Equal(t, fuse.OK, status)
	assert.Empty(t, data, "offset past end-of-file returns an empty slice, not an error")
}

func TestOpenDirOnFileReturnsENOTDIR(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "photo.jpg"), jpegMagic, 0o644))
	fsys, _ := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "photo.heic")

	input := &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fileIno}}
	var out fuse.OpenOut
	assert.Equal(t, fuse.ENOTDIR, fsys.OpenDir(nil, input, &out))
}

func TestOpenUnresolvableReturnsENOENT(t *testing.T) {
	srcDir := t.TempDir()
	hostPath := filepath.Join(srcDir, "photo.jpg")
	require.NoError(t, os.WriteFile(hostPath, jpegMagic, 0o644))
	fsys, _ := newTestFS(t, srcDir, 0)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "photo.heic")
	require.NoError(t, os.Remove(hostPath))

	input := &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fileIno}}
	var out fuse.OpenOut
	assert.Equal(t, fuse.ENOENT, fsys.Open(nil, input, &out))
}

func TestReadPrefetchesFollowingSiblings(t *testing.T) {
	srcDir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, name), jpegMagic, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.txt"), []byte("not an image"), 0o644))
	fsys, conv := newTestFS(t, srcDir, 2)

	dirIno := lookupChild(t, fsys, 1, "pictures")
	fileIno := lookupChild(t, fsys, dirIno, "a.heic")

	_, status := readAll(t, fsys, fileIno, 0, 1<<20)
	require.Equal(t, fuse.OK, status)

	require.Eventually(t, func() bool { return conv.calls() >= 3 },
		2*time.Second, 10*time.Millisecond, "expected a.jpg plus two prefetched siblings")

	time.Sleep(50 * time.Millisecond)
	got := conv.converted()
	assert.Equal(t, 1, got[filepath.Join(srcDir, "a.jpg")])
	assert.Equal(t, 1, got[filepath.Join(srcDir, "b.jpg")])
	assert.Equal(t, 1, got[filepath.Join(srcDir, "c.jpg")])
	assert.Zero(t, got[filepath.Join(srcDir, "d.jpg")],
		"prefetch depth of two must stop before the third sibling")
	assert.Equal(t, 3, conv.calls())
}
