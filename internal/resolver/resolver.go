// Package resolver implements the Resolver: it applies the platform's
// documented dynamic-loader search order to every collected File and
// computes which NEEDED entries remain unresolved. Grounded directly in
// original_source/src/main/Resolver.cpp for the exact per-entry search
// order and its tolerance for a library-index hit that turns out not to be
// a usable library, restructured onto internal/workerpool.Pool the way
// internal/pkgadapter and internal/collector already are — the per-object
// algorithm reads an immutable model.Index and mutates only the File it
// owns, so (per spec.md §5) resolution is trivially parallel and needs no
// serialized merge phase.
package resolver

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/pathstat"
	"github.com/dimgel/checklink/internal/workerpool"
)

// Resolver runs one resolution pass over a working set of Files.
type Resolver struct {
	index   *model.Index
	workers *workerpool.Pool
	log     *clog.Logger

	extraRoots   []string
	defaultRoots []string
}

// New creates a Resolver. extraRoots and defaultRoots are directory paths
// (from configuration/environment and from the platform defaults,
// respectively); they are canonicalized against stat so their spelling
// matches whatever canonical form the collector used when it crawled the
// same directories.
func New(index *model.Index, workers *workerpool.Pool, log *clog.Logger, stat pathstat.Stater, extraRoots, defaultRoots []string) *Resolver {
	return &Resolver{
		index:        index,
		workers:      workers,
		log:          log,
		extraRoots:   canonicalizeRoots(stat, extraRoots, log),
		defaultRoots: canonicalizeRoots(stat, defaultRoots, log),
	}
}

func canonicalizeRoots(stat pathstat.Stater, roots []string, log *clog.Logger) []string {
	var out []string
	for _, r := range roots {
		canon, _, ok, err := stat.CanonicalDir(r)
		if err != nil {
			log.Warn("cannot resolve library root %s: %v", r, err)
			continue
		}
		if !ok {
			continue
		}
		out = append(out, canon)
	}
	return out
}

// Result is the outcome of one resolution pass.
type Result struct {
	// Resolved is true iff every dynamic ELF in the working set has an
	// empty needed-set after this pass.
	Resolved bool

	// Remaining holds the Files whose needed-set is still non-empty,
	// the pruned working set spec.md §4.F hands on to a later pass.
	Remaining []*model.File
}

// Execute resolves every NEEDED entry of every dynamic-ELF File in files
// against the library and loader-cache indexes, erasing resolved entries
// and recording the union of what's left as the global unresolved-needed
// set.
func (r *Resolver) Execute(ctx context.Context, files []*model.File) (Result, error) {
	candidates := make([]*model.File, 0, len(files))
	for _, f := range files {
		if f.IsDynamicELF && len(f.NeededLibs) > 0 {
			candidates = append(candidates, f)
		}
	}

	bundle := make(workerpool.Bundle, 0, len(candidates))
	for _, f := range candidates {
		f := f
		bundle = append(bundle, workerpool.TaskFunc{
			ComputeFn: func(ctx context.Context) error {
				r.resolveFile(f)
				return nil
			},
		})
	}
	r.workers.Run(ctx, []workerpool.Bundle{bundle})
	if r.workers.Failed() {
		return Result{}, r.workers.FirstError()
	}

	result := Result{Resolved: true}
	for _, f := range files {
		if f.IsDynamicELF && len(f.NeededLibs) > 0 {
			result.Resolved = false
			result.Remaining = append(result.Remaining, f)
		}
	}
	return result, nil
}

// resolveFile applies the search order to one File's needed-set in place.
func (r *Resolver) resolveFile(f *model.File) {
	remaining := f.NeededLibs[:0:0]
	for _, n := range f.NeededLibs {
		if !r.resolveOne(f, n) {
			remaining = append(remaining, n)
		}
	}
	f.NeededLibs = remaining
	for _, n := range remaining {
		r.index.AddUnresolvedNeeded(n)
	}
}

// resolveOne resolves a single needed entry, reporting whether it is to be
// treated as resolved (either a genuine hit, or a hit whose target isn't
// usable — spec.md §4.F: "considered resolved, to avoid recomputing").
func (r *Resolver) resolveOne(f *model.File, n string) bool {
	if filepath.IsAbs(n) {
		key := model.PathAndBitnessKey{Path: n, Is32: f.Is32}
		target, ok := r.index.Library(key)
		if !ok {
			return false
		}
		return r.acceptHit(f, n, target)
	}

	dirs := r.searchDirs(f)
	defaultStart := len(dirs) - len(r.defaultRoots)
	for _, dir := range dirs[:defaultStart] {
		key := model.PathAndBitnessKey{Path: dir + "/" + n, Is32: f.Is32}
		if target, ok := r.index.Library(key); ok {
			return r.acceptHit(f, n, target)
		}
	}

	if target, ok := r.index.LoaderCacheEntry(model.PathAndBitnessKey{Path: n, Is32: f.Is32}); ok {
		return r.acceptHit(f, n, target)
	}

	for _, dir := range dirs[defaultStart:] {
		key := model.PathAndBitnessKey{Path: dir + "/" + n, Is32: f.Is32}
		if target, ok := r.index.Library(key); ok {
			return r.acceptHit(f, n, target)
		}
	}

	return false
}

// searchDirs builds the ordered, directory-based portion of the search
// order (steps 1-4 and 6 of spec.md §4.F): per-file/per-package configured
// paths, then RPATH only if there's no RUNPATH, then extra roots only if
// the file isn't security-sensitive, then RUNPATH, then the default roots.
// The caller probes the loader cache (step 5) after the RUNPATH directories
// and before the default roots, which always form the tail of this list.
func (r *Resolver) searchDirs(f *model.File) []string {
	var dirs []string

	for _, sp := range f.ConfigPaths {
		dirs = append(dirs, sp.Path)
	}

	if len(f.RunPaths) == 0 {
		for _, sp := range f.RPaths {
			dirs = append(dirs, sp.Path)
		}
	}

	if !f.IsSecure {
		dirs = append(dirs, r.extraRoots...)
	}

	for _, sp := range f.RunPaths {
		dirs = append(dirs, sp.Path)
	}

	dirs = append(dirs, r.defaultRoots...)

	return dirs
}

// acceptHit records an error for a hit whose target isn't usable (not a
// library, or the file needing itself), but in both cases reports the
// entry as resolved, matching the original resolver's "don't recompute"
// tolerance.
func (r *Resolver) acceptHit(f *model.File, name string, target *model.File) bool {
	if target == f {
		r.log.Error("%s: NEEDED %s resolves to itself", f.Path, name)
		return true
	}
	if !target.IsLibrary {
		r.log.Error("%s: NEEDED %s resolves to %s, which is not a library", f.Path, name, target.Path)
		return true
	}
	return true
}

// SortNames returns a sorted copy of names, for internal/report's
// deterministic rendering of a File's remaining needed names.
func SortNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
