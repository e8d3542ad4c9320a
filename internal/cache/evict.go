package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ticpu/fuse-img2heic/internal/applog"
)

// evictionInterval is how often RunEvictor wakes to check the cache's
// total size.
const evictionInterval = 300 * time.Second

type entry struct {
	path  string
	size  int64
	atime time.Time
}

// RunEvictor blocks, periodically walking Dir and deleting the
// least-recently-accessed entries until the total is at or under
// maxSizeBytes. It returns when ctx is cancelled.
func (c *Cache) RunEvictor(ctx context.Context, maxSizeBytes int64) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.evictOnce(maxSizeBytes); err != nil {
				applog.Errorf(c.Dir, "cache: eviction sweep failed: %v", err)
			}
		}
	}
}

func (c *Cache) evictOnce(maxSizeBytes int64) error {
	entries, total, err := c.walk()
	if err != nil {
		return err
	}
	if total <= maxSizeBytes {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].atime.Before(entries[j].atime)
	})

	var freed int64
	var evicted int
	for _, e := range entries {
		if total-freed <= maxSizeBytes {
			break
		}
		if err := os.Remove(e.path); err != nil {
			applog.Errorf(e.path, "cache: evict failed: %v", err)
			continue
		}
		freed += e.size
		evicted++
	}
	applog.Infof(c.Dir, "cache: evicted %s across %d files, %s remaining",
		humanize.Bytes(uint64(freed)), evicted, humanize.Bytes(uint64(total-freed)))
	c.Metrics.CacheEvicted(evicted)
	c.Metrics.CacheBytes(total - freed)
	return nil
}

// Usage reports the number of cache files on disk and their total size,
// the same count RunEvictor works from. It is exposed for the CLI's
// cache status report.
func (c *Cache) Usage() (count int, bytes int64, err error) {
	entries, total, err := c.walk()
	if err != nil {
		return 0, 0, err
	}
	return len(entries), total, nil
}

// walk collects every cache entry under Dir along with its total size in
// bytes. It does not open or validate entries; that cost is paid by Get,
// not by the evictor.
func (c *Cache) walk() ([]entry, int64, error) {
	if _, err := os.Stat(c.Dir); os.IsNotExist(err) {
		return nil, 0, nil
	}

	var entries []entry
	var total int64

	err := filepath.WalkDir(c.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// A subtree that cannot be read is skipped, not fatal:
			// its entries simply escape this sweep.
			applog.Errorf(path, "cache: walk error, skipping: %v", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, entry{
			path:  path,
			size:  info.Size(),
			atime: FileATime(info),
		})
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, 0, err
	}
	return entries, total, nil
}
