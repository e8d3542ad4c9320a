// Package fsfrontend implements the kernel filesystem protocol by
// composing the name mapper, cache and worker pool into the handful of
// low-level FUSE operations a read-only mount needs.
package fsfrontend

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ticpu/fuse-img2heic/internal/applog"
	"github.com/ticpu/fuse-img2heic/internal/cache"
	"github.com/ticpu/fuse-img2heic/internal/imageformat"
	"github.com/ticpu/fuse-img2heic/internal/imgparams"
	"github.com/ticpu/fuse-img2heic/internal/inode"
	"github.com/ticpu/fuse-img2heic/internal/namemap"
	"github.com/ticpu/fuse-img2heic/internal/worker"
)

const defaultBlockSize = 4096

// Options configures a FS. CacheTimeout is the entry and attribute TTL
// on every response; PrefetchCount bounds how many trailing siblings are speculatively
// queued after a read.
type Options struct {
	CacheTimeout  time.Duration
	PrefetchCount int
	Params        imgparams.EncoderParams
}

// FS implements fuse.RawFileSystem over a Mapper, Cache and Pool. It
// embeds the default no-op implementation so unimplemented write/locking
// calls return ENOSYS automatically.
type FS struct {
	fuse.RawFileSystem

	mapper *namemap.Mapper
	cache  *cache.Cache
	pool   *worker.Pool
	inodes *inode.Table
	opts   Options

	mountExclusion string

	mu         sync.Mutex
	dirHandles map[uint64][]namemap.Entry
	nextDirFh  uint64
}

// New builds an FS ready to be passed to fuse.NewServer. mountPoint is
// recorded as a listing exclusion so the mount point itself never
// appears nested inside one of its own source roots.
func New(mapper *namemap.Mapper, c *cache.Cache, pool *worker.Pool, mountPoint string, opts Options) *FS {
	return &FS{
		RawFileSystem:  fuse.NewDefaultRawFileSystem(),
		mapper:         mapper,
		cache:          c,
		pool:           pool,
		inodes:         inode.New(),
		opts:           opts,
		mountExclusion: mountPoint,
		dirHandles:     make(map[uint64][]namemap.Entry),
		nextDirFh:      1,
	}
}

func (fs *FS) String() string { return "fuse-img2heic" }

func (fs *FS) Init(server *fuse.Server) {
	applog.Infof(fs.mountExclusion, "fsfrontend: mounted")
}

// virtualPathFor returns the full virtual path for a child of parent.
func (fs *FS) virtualPathFor(parent uint64, name string) (string, bool) {
	base, ok := fs.inodes.Path(parent)
	if !ok {
		return "", false
	}
	if base == "" {
		return name, true
	}
	return base + "/" + name, true
}

func (fs *FS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	virtualPath, ok := fs.virtualPathFor(header.NodeId, name)
	if !ok {
		return fuse.ENOENT
	}

	if hostPath, ok := fs.mapper.Resolve(virtualPath); ok {
		ino := fs.inodes.Allocate(virtualPath)
		fs.fillFileEntry(out, ino, hostPath, header.Owner)
		return fuse.OK
	}
	if fs.mapper.IsVirtualDirectory(virtualPath) {
		ino := fs.inodes.Allocate(virtualPath)
		fs.fillDirEntry(out, ino, header.Owner)
		return fuse.OK
	}
	return fuse.ENOENT
}

func (fs *FS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	virtualPath, ok := fs.inodes.Path(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	out.AttrValid = uint64(fs.opts.CacheTimeout.Seconds())

	if virtualPath == "" || fs.mapper.IsVirtualDirectory(virtualPath) {
		fillDirAttr(&out.Attr, input.NodeId, input.Owner)
		return fuse.OK
	}
	hostPath, ok := fs.mapper.Resolve(virtualPath)
	if !ok {
		return fuse.ENOENT
	}
	cachedSize, hasCachedSize := fs.cachedSize(hostPath)
	fillFileAttr(&out.Attr, input.NodeId, hostPath, cachedSize, hasCachedSize, input.Owner)
	return fuse.OK
}

func (fs *FS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	virtualPath, ok := fs.inodes.Path(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if virtualPath != "" && !fs.mapper.IsVirtualDirectory(virtualPath) {
		if _, isFile := fs.mapper.Resolve(virtualPath); isFile {
			return fuse.ENOTDIR
		}
		return fuse.ENOENT
	}
	entries, err := fs.mapper.List(virtualPath, map[string]struct{}{fs.mountExclusion: {}})
	if err != nil {
		applog.Errorf(virtualPath, "fsfrontend: list failed: %v", err)
		return fuse.EIO
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	fs.mu.Lock()
	fh := fs.nextDirFh
	fs.nextDirFh++
	fs.dirHandles[fh] = entries
	fs.mu.Unlock()

	out.Fh = fh
	return fuse.OK
}

func (fs *FS) ReleaseDir(input *fuse.ReleaseIn) {
	fs.mu.Lock()
	delete(fs.dirHandles, input.Fh)
	fs.mu.Unlock()
}

func (fs *FS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return fs.readDirCommon(input, out, false)
}

func (fs *FS) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return fs.readDirCommon(input, out, true)
}

func (fs *FS) readDirCommon(input *fuse.ReadIn, out *fuse.DirEntryList, plus bool) fuse.Status {
	fs.mu.Lock()
	entries, ok := fs.dirHandles[input.Fh]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	virtualPath, _ := fs.inodes.Path(input.NodeId)

	all := make([]namemap.Entry, 0, len(entries)+2)
	all = append(all, namemap.Entry{Name: ".", IsDir: true}, namemap.Entry{Name: "..", IsDir: true})
	all = append(all, entries...)

	if int(input.Offset) >= len(all) {
		return fuse.OK
	}
	for i := int(input.Offset); i < len(all); i++ {
		e := all[i]
		childPath := path.Join(virtualPath, e.Name)
		if e.Name == "." {
			childPath = virtualPath
		} else if e.Name == ".." {
			childPath = path.Dir(virtualPath)
			if childPath == "." {
				childPath = ""
			}
		}
		ino := fs.inodes.Allocate(childPath)
		mode := uint32(fuse.S_IFREG)
		if e.IsDir {
			mode = uint32(fuse.S_IFDIR)
		}
		de := fuse.DirEntry{Mode: mode, Name: e.Name, Ino: ino}
		if !plus {
			if !out.AddDirEntry(de) {
				break
			}
			continue
		}
		entryOut := out.AddDirLookupEntry(de)
		if entryOut == nil {
			break
		}
		// "." and ".." get a zeroed EntryOut per the readdirplus
		// contract; the kernel looks them up on its own.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if e.IsDir {
			fs.fillDirEntry(entryOut, ino, input.Owner)
			continue
		}
		if hostPath, ok := fs.mapper.Resolve(childPath); ok {
			fs.fillFileEntry(entryOut, ino, hostPath, input.Owner)
		}
	}
	return fuse.OK
}

func (fs *FS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	virtualPath, ok := fs.inodes.Path(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if _, ok := fs.mapper.Resolve(virtualPath); !ok {
		return fuse.ENOENT
	}
	out.Fh = input.NodeId
	return fuse.OK
}

func (fs *FS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	virtualPath, ok := fs.inodes.Path(input.NodeId)
	if !ok {
		return nil, fuse.ENOENT
	}
	hostPath, ok := fs.mapper.Resolve(virtualPath)
	if !ok {
		return nil, fuse.ENOENT
	}

	data, err := fs.readArtifact(hostPath)
	if err != nil {
		applog.Errorf(hostPath, "fsfrontend: read failed: %v", err)
		return nil, fuse.EIO
	}

	fs.maybePrefetch(hostPath)

	start := int(input.Offset)
	if start >= len(data) {
		return fuse.ReadResultData(nil), fuse.OK
	}
	end := start + int(input.Size)
	if end > len(data) {
		end = len(data)
	}
	return fuse.ReadResultData(data[start:end]), fuse.OK
}

// readArtifact returns the HEIC bytes for hostPath, consulting the cache
// first and falling back to a blocking conversion on miss. A non-image
// host file (should not occur given the name mapper) is served as-is and
// cached unmodified.
func (fs *FS) readArtifact(hostPath string) ([]byte, error) {
	size, err := statSize(hostPath)
	if err != nil {
		return nil, err
	}
	key := imgparams.DeriveCacheKey(hostPath, size, fs.opts.Params)
	ctx := cache.Context{HostPath: hostPath, Params: fs.opts.Params}

	if data, ok := fs.cache.Get(key, ctx); ok {
		return data, nil
	}

	if imageformat.FromExtension(hostPath) == imageformat.Unknown {
		raw, err := os.ReadFile(hostPath)
		if err != nil {
			return nil, err
		}
		if putErr := fs.cache.Put(key, raw, ctx); putErr != nil {
			applog.Errorf(hostPath, "fsfrontend: cache put failed: %v", putErr)
		}
		return raw, nil
	}

	return fs.pool.ConvertBlocking(hostPath, fs.opts.Params)
}

// maybePrefetch submits conversions for the configured number of
// alphabetically-following convertible siblings of hostPath.
func (fs *FS) maybePrefetch(hostPath string) {
	if fs.opts.PrefetchCount <= 0 {
		return
	}
	dir := filepath.Dir(hostPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	base := filepath.Base(hostPath)
	pos := sort.SearchStrings(names, base)
	queued := 0
	for i := pos + 1; i < len(names) && queued < fs.opts.PrefetchCount; i++ {
		sibling := filepath.Join(dir, names[i])
		if imageformat.FromExtension(sibling) == imageformat.Unknown {
			continue
		}
		fs.pool.Prefetch(sibling, fs.opts.Params)
		queued++
	}
}

func (fs *FS) cachedSize(hostPath string) (int64, bool) {
	size, err := statSize(hostPath)
	if err != nil {
		return 0, false
	}
	key := imgparams.DeriveCacheKey(hostPath, size, fs.opts.Params)
	ctx := cache.Context{HostPath: hostPath, Params: fs.opts.Params}
	if data, ok := fs.cache.Get(key, ctx); ok {
		return int64(len(data)), true
	}
	return 0, false
}

func (fs *FS) fillFileEntry(out *fuse.EntryOut, ino uint64, hostPath string, owner fuse.Owner) {
	out.NodeId = ino
	out.EntryValid = uint64(fs.opts.CacheTimeout.Seconds())
	out.AttrValid = out.EntryValid
	cachedSize, hasCachedSize := fs.cachedSize(hostPath)
	fillFileAttr(&out.Attr, ino, hostPath, cachedSize, hasCachedSize, owner)
}

func (fs *FS) fillDirEntry(out *fuse.EntryOut, ino uint64, owner fuse.Owner) {
	out.NodeId = ino
	out.EntryValid = uint64(fs.opts.CacheTimeout.Seconds())
	out.AttrValid = out.EntryValid
	fillDirAttr(&out.Attr, ino, owner)
}

// fillFileAttr synthesizes attributes for a regular file: its size is the
// cached artifact's exact length when populated, otherwise the host
// source's current length - an intentional estimate the kernel tolerates
// via short reads at EOF. mtime and atime are copied from the host
// source; uid/gid are the calling process's own.
func fillFileAttr(a *fuse.Attr, ino uint64, hostPath string, cachedSize int64, hasCachedSize bool, owner fuse.Owner) {
	fi, err := os.Stat(hostPath)
	a.Ino = ino
	a.Mode = uint32(fuse.S_IFREG) | 0o644
	a.Nlink = 1
	a.Blksize = defaultBlockSize
	a.Owner = owner
	if err == nil {
		a.Mtime = uint64(fi.ModTime().Unix())
		a.Atime = uint64(cache.FileATime(fi).Unix())
		a.Size = uint64(fi.Size())
	}
	if hasCachedSize {
		a.Size = uint64(cachedSize)
	}
}

func fillDirAttr(a *fuse.Attr, ino uint64, owner fuse.Owner) {
	a.Ino = ino
	a.Mode = uint32(fuse.S_IFDIR) | 0o755
	a.Nlink = 1
	a.Owner = owner
}

func statSize(hostPath string) (int64, error) {
	fi, err := os.Stat(hostPath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
