// Package model holds the data shapes shared by every component that walks
// the dependency graph: File, Package, SearchPath, and the indexes keyed on
// them. It carries no behavior beyond small invariant-preserving accessors —
// the operations that build and consume these types live in
// internal/elfinspect, internal/collector, internal/pkgadapter, and
// internal/resolver, mirroring how the teacher keeps its own shared
// structs (internal/types) free of package-specific logic.
package model

import (
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/dimgel/checklink/internal/errs"
)

// SearchPath is one directory entered into a search order. Two SearchPaths
// are equal iff their Inode fields match, regardless of how the path text
// was spelled (symlinked roots, trailing slashes, "../" components): the
// original project keys on inode for exactly this reason, and distinct path
// spellings that happen to name the same resolved directory must not be
// searched twice.
type SearchPath struct {
	Path  string
	Inode uint64
}

// Equal compares two SearchPaths by inode only.
func (s SearchPath) Equal(o SearchPath) bool {
	return s.Inode == o.Inode
}

// PathAndBitnessKey keys the library and loader-cache indexes: two files at
// the same soname but different ELF class (32 vs 64-bit) are distinct
// libraries and must never collide in a lookup.
type PathAndBitnessKey struct {
	Path string
	Is32 bool
}

// File represents one filesystem object discovered during the scan, or one
// entry mined out of a package archive. Exactly one goroutine may carry a
// given File through Inspect (enforced by BeginInspect); after inspection,
// NeededLibs, RPaths, RunPaths, IsDynamicELF, IsLibrary and Is32 are
// considered immutable by every reader.
type File struct {
	Path string // canonical, pool-interned path (or archive-relative path for archive members)

	// Configured search directories that apply to this file specifically,
	// gathered from addLibPath config lines scoped to its owning package or
	// to its literal path. Extended by the collector's merge step once the
	// owning package is known, after inspection.
	ConfigPaths []SearchPath

	// Populated by inspection.
	RPaths       []SearchPath
	RunPaths     []SearchPath
	NeededLibs   []string // sonames as they appear in DT_NEEDED, in file order
	IsDynamicELF bool
	IsLibrary    bool // ET_DYN
	Is32         bool
	IsSecure     bool // set-user/group-ID or otherwise security-sensitive

	// BelongsToPackage is nil for files whose owning package is unknown
	// (not installed via the package manager, or the package manager
	// adapter is disabled).
	BelongsToPackage *Package

	inspected atomic.Bool
}

// NewFile creates a File for the given canonical path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// BeginInspect claims this File for inspection, returning true the first
// time it is called and false on every subsequent call. Callers that
// receive false have hit an invariant violation (inspection running twice
// concurrently on the same File) and should raise errs.InvariantViolation.
func (f *File) BeginInspect() bool {
	return f.inspected.CompareAndSwap(false, true)
}

// IsInspected reports whether inspection has started (and, by the time any
// reader outside the inspecting goroutine observes true via the indexes
// that publish it, completed).
func (f *File) IsInspected() bool {
	return f.inspected.Load()
}

// Key returns this File's library-index/loader-cache-index key.
func (f *File) Key() PathAndBitnessKey {
	return PathAndBitnessKey{Path: f.Path, Is32: f.Is32}
}

// Package is one installed or archived package known to the package
// adapter: its name, version, the sonames it provides beyond its own file
// list, and the optional dependencies it declares.
type Package struct {
	Name        string
	Version     string
	ArchiveName string

	Provides   map[string]struct{}
	OptDepends map[string]struct{}

	Files []*File
}

// NewPackage creates an empty Package.
func NewPackage(name, version string) *Package {
	return &Package{
		Name:       name,
		Version:    version,
		Provides:   make(map[string]struct{}),
		OptDepends: make(map[string]struct{}),
	}
}

// ProvidesName reports whether this package provides the given soname or
// package name, either as itself or via an explicit "provides" entry.
func (p *Package) ProvidesName(name string) bool {
	if name == p.Name {
		return true
	}
	_, ok := p.Provides[name]
	return ok
}

// Index aggregates every cross-referenced lookup table the Resolver and
// Report need: libraries found on disk, libraries known only via the
// loader's cache, and the reverse map from file path back to owning
// package, plus the set of still-unresolved sonames. All of them are built
// up concurrently during the collection, package-adapter and resolution
// phases, hence the embedded mutex.
type Index struct {
	mu sync.RWMutex

	libs           map[PathAndBitnessKey]*File
	loaderCache      map[PathAndBitnessKey]*File
	packageByFile    map[string]*Package
	unresolvedNeeded map[string]struct{}
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		libs:             make(map[PathAndBitnessKey]*File),
		loaderCache:      make(map[PathAndBitnessKey]*File),
		packageByFile:    make(map[string]*Package),
		unresolvedNeeded: make(map[string]struct{}),
	}
}

// AddLibrary registers f as a known library, first-wins on key collision:
// the first File discovered at a given (path, bitness) owns that slot, the
// same policy the original tool uses when an archive-mined library
// duplicates one already found on disk.
func (ix *Index) AddLibrary(f *File) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := f.Key()
	if _, exists := ix.libs[k]; !exists {
		ix.libs[k] = f
	}
}

// AddLibraryAlias registers f as reachable under key in addition to its own
// Key(), first-wins on collision. Used for symlink paths (and archive
// symlink members) that resolve to a library already registered under its
// canonical path: the index must answer lookups keyed on the alias name
// too, per spec.md §3's "keys cover both canonical paths and symlink paths
// that point to the same file".
func (ix *Index) AddLibraryAlias(key PathAndBitnessKey, f *File) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.libs[key]; !exists {
		ix.libs[key] = f
	}
}

// AddLibraryStrict registers f as a known library, the way the File
// Collector's finalize step does: a second distinct File claiming a key
// already held by another File is an invariant violation (the crawler's own
// dedup should make this unreachable), not a tolerated duplicate.
func (ix *Index) AddLibraryStrict(f *File) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := f.Key()
	if existing, exists := ix.libs[k]; exists && existing != f {
		return errs.New(errs.InvariantViolation, "model.Index.AddLibraryStrict",
			fmt.Errorf("duplicate library key %+v: %s and %s", k, existing.Path, f.Path)).WithPath(f.Path)
	}
	ix.libs[k] = f
	return nil
}

// Library looks up a known library by key.
func (ix *Index) Library(k PathAndBitnessKey) (*File, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.libs[k]
	return f, ok
}

// KnownLibraryNames returns the deduplicated basenames of every library
// known from disk plus every loader-cache-only soname, for
// internal/report's "did you mean" suggestion lookup.
func (ix *Index) KnownLibraryNames() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	seen := make(map[string]struct{}, len(ix.libs)+len(ix.loaderCache))
	for k := range ix.libs {
		seen[path.Base(k.Path)] = struct{}{}
	}
	for k := range ix.loaderCache {
		seen[path.Base(k.Path)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

// AddLoaderCacheEntry registers f under the given (soname, bitness) key, as
// read from one `ldconfig -p` line. First-wins on key collision, silently
// for an identical value and with a caller-supplied warning otherwise —
// matching observed loader behavior of preferring the first cache line for
// a duplicated key.
func (ix *Index) AddLoaderCacheEntry(key PathAndBitnessKey, f *File) (existing *File, inserted bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, exists := ix.loaderCache[key]; exists {
		return prev, false
	}
	ix.loaderCache[key] = f
	return f, true
}

// LoaderCacheEntry looks up a loader-cache-only library by key.
func (ix *Index) LoaderCacheEntry(k PathAndBitnessKey) (*File, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.loaderCache[k]
	return f, ok
}

// SetPackageOwner records that path belongs to pkg.
func (ix *Index) SetPackageOwner(path string, pkg *Package) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.packageByFile[path] = pkg
}

// PackageOwner returns the package owning path, or nil if unassigned.
func (ix *Index) PackageOwner(path string) *Package {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.packageByFile[path]
}

// AddUnresolvedNeeded records a soname that some file needed but that could
// not be resolved along its search order.
func (ix *Index) AddUnresolvedNeeded(name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.unresolvedNeeded[name] = struct{}{}
}

// UnresolvedNeeded returns an unordered snapshot of every distinct
// unresolved soname.
func (ix *Index) UnresolvedNeeded() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.unresolvedNeeded))
	for name := range ix.unresolvedNeeded {
		out = append(out, name)
	}
	return out
}

// LibraryCount returns the number of distinct (path, bitness) libraries
// known from disk, for debug-level phase statistics.
func (ix *Index) LibraryCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.libs)
}

// LoaderCacheCount returns the number of loader-cache-only entries.
func (ix *Index) LoaderCacheCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.loaderCache)
}
