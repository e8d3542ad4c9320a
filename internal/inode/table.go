// Package inode provides the process-local, monotonically assigned inode
// numbers the FS Frontend hands to the kernel: a concurrent bidirectional
// map plus an atomic counter, seeded at 2 because 1 is reserved for the
// mount root.
package inode

import "sync"

// RootID is the inode reserved for the mount root.
const RootID uint64 = 1

// firstAllocatable is the first inode handed out by Allocate.
const firstAllocatable uint64 = 2

// Table is a concurrent bidirectional map between virtual paths and
// inodes. Entries are never removed: inodes are stable for the lifetime of
// the mounted process.
type Table struct {
	mu      sync.RWMutex
	byPath  map[string]uint64
	byInode map[uint64]string
	next    uint64
}

// New returns an empty Table with its counter seeded at 2.
func New() *Table {
	return &Table{
		byPath:  make(map[string]uint64),
		byInode: make(map[uint64]string),
		next:    firstAllocatable,
	}
}

// Allocate returns the existing inode for virtualPath, or atomically
// assigns and returns the next one. The same virtualPath always yields the
// same inode for the table's lifetime.
func (t *Table) Allocate(virtualPath string) uint64 {
	t.mu.RLock()
	if id, ok := t.byPath[virtualPath]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check under the write lock: another writer may have allocated
	// this path while we waited.
	if id, ok := t.byPath[virtualPath]; ok {
		return id
	}
	id := t.next
	t.next++
	t.byPath[virtualPath] = id
	t.byInode[id] = virtualPath
	return id
}

// Lookup returns the inode already assigned to virtualPath, if any.
func (t *Table) Lookup(virtualPath string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byPath[virtualPath]
	return id, ok
}

// Path returns the virtual path for a previously allocated inode.
func (t *Table) Path(id uint64) (string, bool) {
	if id == RootID {
		return "", true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byInode[id]
	return p, ok
}

// Len returns the number of allocated (non-root) inodes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPath)
}
