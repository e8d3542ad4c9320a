// Package namemap implements the bijection between virtual paths under
// the mount and real host paths.
package namemap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ticpu/fuse-img2heic/internal/imageformat"
)

// SourceRoot is a directory on the host surfaced at /mount_name/... inside
// the virtual filesystem. The set of roots is fixed at mount time.
type SourceRoot struct {
	HostPath  string
	MountName string
	Recursive bool
}

// Entry is one listed child of a virtual directory.
type Entry struct {
	Name  string
	IsDir bool
}

// Mapper resolves virtual paths against a fixed set of SourceRoots.
type Mapper struct {
	roots    []SourceRoot
	detector *imageformat.Detector
}

// New returns a Mapper over roots, using detector to classify files.
func New(roots []SourceRoot, detector *imageformat.Detector) *Mapper {
	return &Mapper{roots: roots, detector: detector}
}

// Roots returns the configured source roots, in mount order.
func (m *Mapper) Roots() []SourceRoot {
	return m.roots
}

// splitVirtualPath separates a slash-joined virtual path (no leading slash,
// "" for the root) into its mount_name and the remaining subpath.
func splitVirtualPath(virtualPath string) (mountName, subpath string) {
	virtualPath = strings.Trim(virtualPath, "/")
	if virtualPath == "" {
		return "", ""
	}
	i := strings.IndexByte(virtualPath, '/')
	if i < 0 {
		return virtualPath, ""
	}
	return virtualPath[:i], virtualPath[i+1:]
}

func (m *Mapper) rootByName(mountName string) (SourceRoot, bool) {
	for _, r := range m.roots {
		if r.MountName == mountName {
			return r, true
		}
	}
	return SourceRoot{}, false
}

// Resolve returns the host path backing virtualPath, if any: a literal
// source file, or (for a ".heic" virtual name) the first existing
// candidate extension that classifies as an image.
func (m *Mapper) Resolve(virtualPath string) (string, bool) {
	mountName, subpath := splitVirtualPath(virtualPath)
	if mountName == "" {
		return "", false
	}
	root, ok := m.rootByName(mountName)
	if !ok {
		return "", false
	}

	base := filepath.Join(root.HostPath, subpath)

	if strings.HasSuffix(strings.ToLower(base), ".heic") {
		return m.resolveHeicCandidate(base)
	}

	info, err := os.Stat(base)
	if err != nil || info.IsDir() {
		return "", false
	}
	if isImg, err := m.detector.IsImage(base); err != nil || !isImg {
		return "", false
	}
	return base, true
}

// resolveHeicCandidate tries CandidateExtensions in order against base with
// its extension stripped, so an existing ".heic" source wins (and is
// re-encoded with current parameters) over a same-named sibling.
func (m *Mapper) resolveHeicCandidate(base string) (string, bool) {
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for _, ext := range imageformat.CandidateExtensions {
		candidate := stem + "." + ext
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if isImg, err := m.detector.IsImage(candidate); err == nil && isImg {
			return candidate, true
		}
	}
	return "", false
}

// IsVirtualDirectory reports whether virtualPath names a directory in the
// virtual tree: the mount root, a bare mount name whose host root exists,
// or a real host subdirectory.
func (m *Mapper) IsVirtualDirectory(virtualPath string) bool {
	mountName, subpath := splitVirtualPath(virtualPath)
	if mountName == "" {
		return true
	}
	root, ok := m.rootByName(mountName)
	if !ok {
		return false
	}
	if subpath == "" {
		info, err := os.Stat(root.HostPath)
		return err == nil && info.IsDir()
	}
	info, err := os.Stat(filepath.Join(root.HostPath, subpath))
	return err == nil && info.IsDir()
}

// List yields the children of a virtual directory. exclusions holds host
// paths to skip (the mount point itself, to prevent recursive listing).
// For convertible files, the returned Entry.Name carries the rewritten
// ".heic" extension. Duplicate visible names (two source files that both
// rewrite to the same name) are deduplicated, keeping the first occurrence.
func (m *Mapper) List(virtualPath string, exclusions map[string]struct{}) ([]Entry, error) {
	mountName, subpath := splitVirtualPath(virtualPath)

	if mountName == "" {
		entries := make([]Entry, 0, len(m.roots))
		for _, r := range m.roots {
			if _, err := os.Stat(r.HostPath); err == nil {
				entries = append(entries, Entry{Name: r.MountName, IsDir: true})
			}
		}
		return entries, nil
	}

	root, ok := m.rootByName(mountName)
	if !ok {
		return nil, os.ErrNotExist
	}
	hostDir := filepath.Join(root.HostPath, subpath)

	dirEntries, err := os.ReadDir(hostDir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(dirEntries))
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		childHost := filepath.Join(hostDir, de.Name())
		if _, excluded := exclusions[childHost]; excluded {
			continue
		}

		if de.IsDir() {
			if _, dup := seen[de.Name()]; dup {
				continue
			}
			seen[de.Name()] = struct{}{}
			out = append(out, Entry{Name: de.Name(), IsDir: true})
			continue
		}

		f := m.detector.FromExtension(de.Name())
		if !f.Convertible() {
			continue
		}
		visible := rewriteToHeic(de.Name())
		if _, dup := seen[visible]; dup {
			continue
		}
		seen[visible] = struct{}{}
		out = append(out, Entry{Name: visible, IsDir: false})
	}
	return out, nil
}

func rewriteToHeic(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".heic"
}
