// Package pkgadapter implements the Package adapter: it enumerates
// installed packages, attributes files to their owning package, computes
// which optional dependencies would complete the dependency graph, and
// mines package archives for the libraries those dependencies provide.
// The distribution-specific on-disk format is abstracted behind
// InstalledPackageSource and ArchiveTool (spec.md §1 calls the concrete
// format an external collaborator); the generic coordination logic —
// parallel parse with a serialized merge, the two-pass symlink-aware
// archive scan, first-wins duplicate handling — is grounded directly in
// original_source's PacMan.cpp, restructured onto this module's
// workerpool.Pool the way internal/indexing/pipeline_processor.go splits
// its own compute/merge phases.
package pkgadapter

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/elfinspect"
	"github.com/dimgel/checklink/internal/errs"
	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/workerpool"
)

// ParsedPackage is what an InstalledPackageSource produces for one
// installed package: its metadata plus the file paths it owns (without a
// leading separator, matching pacman's own on-disk convention).
type ParsedPackage struct {
	Name       string
	Version    string
	Provides   []string
	OptDepends []string
	FilePaths  []string
}

// InstalledPackageSource enumerates and parses a distribution's installed
// package inventory. The directory-of-per-package-metadata-files shape is
// pacman's; another distribution's adapter would implement the same
// interface against its own database format.
type InstalledPackageSource interface {
	IterateInstalled() ([]string, error)
	ParseInstalled(id string) (ParsedPackage, error)
}

// ArchiveTool resolves and fetches package archives for optional
// dependencies, and opens a resolved archive for two-pass scanning.
type ArchiveTool interface {
	// DownloadBatch fetches archives for every named dependency without
	// installing them, chunked to respect the argument-length limit.
	DownloadBatch(ctx context.Context, names []string) error

	// ResolveArchive queries the package tool for the canonical archive
	// file name backing one optional dependency.
	ResolveArchive(ctx context.Context, depName string) (archiveFileName string, err error)

	// OpenArchive opens archiveFileName for a single scanning pass, calling
	// visit once per entry. Archives that can't be rewound are simply
	// reopened by the caller for the second pass, per spec.md §4.E.
	OpenArchive(archiveFileName string, visit func(Entry) error) error
}

// EntryType classifies one archive member.
type EntryType int

const (
	EntryOther EntryType = iota
	EntryRegular
	EntrySymlink
)

// Entry is one archive member, as handed to ArchiveTool.OpenArchive's visit
// callback.
type Entry struct {
	Path          string
	Type          EntryType
	SymlinkTarget string                  // valid iff Type == EntrySymlink
	ReadContents  func() ([]byte, error)  // valid iff Type == EntryRegular
}

// Adapter runs the Package adapter's four public operations.
type Adapter struct {
	src     InstalledPackageSource
	archive ArchiveTool
	index   *model.Index
	log     *clog.Logger
	workers *workerpool.Pool
	inspect *elfinspect.Inspector

	mu             sync.Mutex
	byName         map[string]*model.Package
	byProvides     map[string]*model.Package
	pendingOptDeps []string
	archiveNames   map[string]string // optdep name -> archive file name
}

// New creates an Adapter.
func New(src InstalledPackageSource, archive ArchiveTool, index *model.Index, log *clog.Logger, workers *workerpool.Pool, inspect *elfinspect.Inspector) *Adapter {
	return &Adapter{
		src:          src,
		archive:      archive,
		index:        index,
		log:          log,
		workers:      workers,
		inspect:      inspect,
		byName:       make(map[string]*model.Package),
		byProvides:   make(map[string]*model.Package),
		archiveNames: make(map[string]string),
	}
}

// ParseInstalled enumerates the installed-package inventory in parallel and
// merges each result serially: validate name/version, insert into
// packages-by-name, packages-by-provides (first-wins with a warning), and
// the package-by-file index (duplicate file ownership is fatal).
func (a *Adapter) ParseInstalled(ctx context.Context) error {
	ids, err := a.src.IterateInstalled()
	if err != nil {
		return errs.New(errs.MissingResource, "pkgadapter.ParseInstalled", err)
	}

	var mergeErr error
	bundle := make(workerpool.Bundle, 0, len(ids))
	for _, id := range ids {
		id := id
		var parsed ParsedPackage
		bundle = append(bundle, workerpool.TaskFunc{
			ComputeFn: func(ctx context.Context) error {
				p, err := a.src.ParseInstalled(id)
				if err != nil {
					return errs.New(errs.MalformedInput, "pkgadapter.ParseInstalled", err).WithPath(id)
				}
				parsed = p
				return nil
			},
			MergeFn: func() {
				if err := a.mergeInstalled(parsed); err != nil && mergeErr == nil {
					mergeErr = err
				}
			},
		})
	}

	a.workers.Run(ctx, []workerpool.Bundle{bundle})
	if a.workers.Failed() {
		return a.workers.FirstError()
	}
	return mergeErr
}

func (a *Adapter) mergeInstalled(p ParsedPackage) error {
	if p.Name == "" || p.Version == "" {
		a.log.Warn("skipping package with empty name or version (archive %q)", p.Name)
		return nil
	}

	pkg := model.NewPackage(p.Name, p.Version)
	for _, prov := range p.Provides {
		pkg.Provides[prov] = struct{}{}
	}
	pkg.Provides[p.Name] = struct{}{}
	for _, dep := range p.OptDepends {
		pkg.OptDepends[dep] = struct{}{}
	}

	if _, exists := a.byName[p.Name]; exists {
		a.log.Warn("duplicate installed package name, keeping first: %s", p.Name)
		return nil
	}
	a.byName[p.Name] = pkg

	for name := range pkg.Provides {
		if _, exists := a.byProvides[name]; !exists {
			a.byProvides[name] = pkg
		} else {
			a.log.Warn("multiple packages provide %q, keeping first", name)
		}
	}

	for _, fp := range p.FilePaths {
		canonical := "/" + strings.TrimPrefix(fp, "/")
		if existing := a.index.PackageOwner(canonical); existing != nil {
			return errs.New(errs.InvariantViolation, "pkgadapter.mergeInstalled",
				fmt.Errorf("file %s claimed by both %s and %s", canonical, existing.Name, pkg.Name)).WithPath(canonical)
		}
		a.index.SetPackageOwner(canonical, pkg)
	}
	return nil
}

// CalculateOptionalDeps walks every installed package's optional
// dependencies, records the ones not already satisfied by some package's
// provides-set, and sorts the pending set by name for determinism.
func (a *Adapter) CalculateOptionalDeps() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := make(map[string]struct{})
	for _, pkg := range a.byName {
		for dep := range pkg.OptDepends {
			if _, satisfied := a.byProvides[dep]; satisfied {
				continue
			}
			pending[dep] = struct{}{}
		}
	}

	out := make([]string, 0, len(pending))
	for dep := range pending {
		out = append(out, dep)
	}
	sort.Strings(out)
	a.pendingOptDeps = out
	return out
}

// DownloadOptionalDeps fetches every pending dependency's archive (unless
// noNetwork suppresses the download step) and resolves each to a concrete
// archive file name, in parallel.
func (a *Adapter) DownloadOptionalDeps(ctx context.Context, noNetwork bool) error {
	if len(a.pendingOptDeps) == 0 {
		return nil
	}

	if !noNetwork {
		if err := a.archive.DownloadBatch(ctx, a.pendingOptDeps); err != nil {
			return errs.New(errs.ExternalCommandFailure, "pkgadapter.DownloadOptionalDeps", err)
		}
	}

	bundle := make(workerpool.Bundle, 0, len(a.pendingOptDeps))
	for _, dep := range a.pendingOptDeps {
		dep := dep
		var archiveName string
		bundle = append(bundle, workerpool.TaskFunc{
			ComputeFn: func(ctx context.Context) error {
				name, err := a.archive.ResolveArchive(ctx, dep)
				if err != nil {
					a.log.Error("skipping optional dependency %s: %v", dep, err)
					return nil
				}
				archiveName = name
				return nil
			},
			MergeFn: func() {
				if archiveName != "" {
					a.mu.Lock()
					a.archiveNames[dep] = archiveName
					a.mu.Unlock()
				}
			},
		})
	}
	a.workers.Run(ctx, []workerpool.Bundle{bundle})
	if a.workers.Failed() {
		return a.workers.FirstError()
	}
	return nil
}

// ProcessOptionalDeps runs an archive-mining task per resolved (dependency,
// archive) pair and folds each task-local library index into the global
// one (first-wins on duplicate keys).
func (a *Adapter) ProcessOptionalDeps(ctx context.Context) error {
	a.mu.Lock()
	pairs := make(map[string]string, len(a.archiveNames))
	for k, v := range a.archiveNames {
		pairs[k] = v
	}
	a.mu.Unlock()

	if len(pairs) == 0 {
		return nil
	}

	unresolved := make(map[string]struct{})
	for _, n := range a.index.UnresolvedNeeded() {
		unresolved[n] = struct{}{}
	}

	bundle := make(workerpool.Bundle, 0, len(pairs))
	for dep, archiveName := range pairs {
		dep, archiveName := dep, archiveName
		miner := newArchiveMiner(a.archive, a.inspect, unresolved, a.log)
		bundle = append(bundle, workerpool.TaskFunc{
			ComputeFn: func(ctx context.Context) error {
				return miner.mine(archiveName)
			},
			MergeFn: func() {
				for _, f := range miner.found {
					a.index.AddLibrary(f)
				}
				for alias, f := range miner.aliases {
					a.index.AddLibraryAlias(model.PathAndBitnessKey{Path: alias, Is32: f.Is32}, f)
				}
				if miner.pkg != nil {
					a.mu.Lock()
					if _, exists := a.byName[miner.pkg.Name]; !exists {
						a.byName[miner.pkg.Name] = miner.pkg
					}
					a.mu.Unlock()
				}
				a.log.Debug("mined archive for %s (%s): %d libraries", dep, archiveName, len(miner.found))
			},
		})
	}

	a.workers.Run(ctx, []workerpool.Bundle{bundle})
	if a.workers.Failed() {
		return a.workers.FirstError()
	}
	return nil
}

func isNeeded(p string, unresolved map[string]struct{}, aliasesByTarget map[string][]string) bool {
	if _, ok := unresolved[p]; ok {
		return true
	}
	if _, ok := unresolved["/"+p]; ok {
		return true
	}
	if _, ok := unresolved[path.Base(p)]; ok {
		return true
	}
	_, ok := aliasesByTarget[p]
	return ok
}
