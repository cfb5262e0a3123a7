// Package collector implements the File Collector: it crawls the
// configured search roots, classifies candidate ELF objects, dispatches
// them to the ELF Inspector in parallel batches, absorbs the dynamic
// loader's own cache, and finalizes the library index. Grounded in the
// teacher's internal/indexing/pipeline.go (FileScanner's symlink-aware
// filepath.Walk-style traversal with an inode-keyed visited set) for the
// crawl shape, and internal/indexing/pipeline_processor.go for the
// batch-dispatch-then-merge rhythm, generalized from a channel pipeline to
// the workerpool.Pool built for this module. The candidate-classification
// rules and the loader-cache absorption step are grounded directly in
// original_source's FilesCollector.cpp.
package collector

import (
	"context"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/dimgel/checklink/internal/arena"
	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/config"
	"github.com/dimgel/checklink/internal/elfinspect"
	"github.com/dimgel/checklink/internal/errs"
	"github.com/dimgel/checklink/internal/ldcache"
	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/pathstat"
	"github.com/dimgel/checklink/internal/platformdefaults"
	"github.com/dimgel/checklink/internal/procexec"
	"github.com/dimgel/checklink/internal/workerpool"
)

var soNameRe = regexp.MustCompile(`\.so(\.[0-9]+)*$`)

// Collector owns the crawl state: the unique-file map, the alias map, the
// search-path FIFO, and the set of visited directory inodes.
type Collector struct {
	pool      *arena.StringPool
	log       *clog.Logger
	stat      pathstat.Stater
	inspector *elfinspect.Inspector
	workers   *workerpool.Pool
	runner    *procexec.Runner
	index     *model.Index
	cfg       *config.Config
	defaults  platformdefaults.Defaults

	mu          sync.Mutex
	queue       []string // directories pending a crawl
	visitedDirs map[uint64]struct{}
	uniqueFiles map[string]*model.File // canonical path -> File
	aliases     map[string]*model.File // alias (symlink) path -> File
}

// New creates a Collector.
func New(
	pool *arena.StringPool,
	log *clog.Logger,
	stat pathstat.Stater,
	inspector *elfinspect.Inspector,
	workers *workerpool.Pool,
	runner *procexec.Runner,
	index *model.Index,
	cfg *config.Config,
	defaults platformdefaults.Defaults,
) *Collector {
	return &Collector{
		pool:        pool,
		log:         log,
		stat:        stat,
		inspector:   inspector,
		workers:     workers,
		runner:      runner,
		index:       index,
		cfg:         cfg,
		defaults:    defaults,
		visitedDirs: make(map[uint64]struct{}),
		uniqueFiles: make(map[string]*model.File),
		aliases:     make(map[string]*model.File),
	}
}

// Execute runs the full collection algorithm (spec.md §4.D): seed, drain,
// absorb the loader cache, re-drain, finalize.
func (c *Collector) Execute(ctx context.Context) error {
	c.seed()

	if err := c.drainAndInspect(ctx); err != nil {
		return err
	}

	if err := c.absorbLoaderCache(ctx); err != nil {
		return err
	}

	if err := c.drainAndInspect(ctx); err != nil {
		return err
	}

	return c.finalizeLibraries()
}

func (c *Collector) seed() {
	var roots []string
	roots = append(roots, c.cfg.ScanMoreBins...)
	roots = append(roots, c.defaults.Bins...)
	roots = append(roots, c.cfg.ScanMoreLibs...)
	roots = append(roots, c.defaults.Libs...)
	roots = append(roots, c.cfg.ExtraLibRoots...)

	for _, r := range roots {
		c.pushDir(r)
	}
}

// pushDir enqueues dir for crawling if its canonical form hasn't been
// visited yet. Safe for concurrent use: inspector callbacks invoke it from
// worker goroutines while a batch is in flight.
func (c *Collector) pushDir(dir string) {
	canon, inode, ok, err := c.stat.CanonicalDir(dir)
	if err != nil {
		c.log.Warn("cannot resolve search path %s: %v", dir, err)
		return
	}
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.visitedDirs[inode]; seen {
		return
	}
	c.visitedDirs[inode] = struct{}{}
	c.queue = append(c.queue, canon)
}

// drainAndInspect alternates crawling the queue (single-threaded, since
// File objects are created here) with parallel batch inspection, until a
// full round adds nothing new.
func (c *Collector) drainAndInspect(ctx context.Context) error {
	for {
		dirs := c.takeQueue()
		if len(dirs) == 0 {
			return nil
		}

		var batch []*model.File
		for _, d := range dirs {
			found, err := c.crawl(d)
			if err != nil {
				return err
			}
			batch = append(batch, found...)
		}
		if len(batch) == 0 {
			continue
		}

		if err := c.inspectBatch(ctx, batch); err != nil {
			return err
		}
	}
}

func (c *Collector) takeQueue() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := c.queue
	c.queue = nil
	return dirs
}

// crawl walks one directory tree recursively, registering candidate files
// and recursing into subdirectories and symlinked directories (deduped by
// inode). It returns the newly-created Files discovered in this subtree
// that still need inspection.
func (c *Collector) crawl(dir string) ([]*model.File, error) {
	var out []*model.File
	entries, err := c.stat.ReadDir(dir)
	if err != nil {
		if errs.Of(err, errs.UnsupportedEnvironment) {
			return nil, err
		}
		c.log.Warn("cannot read directory %s: %v", dir, err)
		return nil, nil
	}

	for _, e := range entries {
		full := filepath.Join(dir, e.Name)
		if c.cfg.IgnoreMatch(full) {
			continue
		}

		switch e.Kind {
		case pathstat.KindDir:
			if c.markVisited(e.Inode) {
				sub, err := c.crawl(full)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
			}

		case pathstat.KindRegular:
			if f, isNew := c.addCandidate(full, e.Executable(), ""); isNew && f != nil {
				out = append(out, f)
			}

		case pathstat.KindSymlink:
			target, kind, inode, ok, err := c.stat.ResolveSymlink(full)
			if err != nil {
				c.log.Warn("cannot resolve symlink %s: %v", full, err)
				continue
			}
			if !ok {
				c.log.Warn("orphan symlink, skipping: %s", full)
				continue
			}
			switch kind {
			case pathstat.KindDir:
				if c.markVisited(inode) {
					sub, err := c.crawl(target)
					if err != nil {
						return nil, err
					}
					out = append(out, sub...)
				}
			case pathstat.KindRegular:
				execBit, err := c.isExecutable(target)
				if err != nil {
					c.log.Warn("cannot stat symlink target %s: %v", target, err)
					continue
				}
				f, isNew := c.addCandidate(target, execBit, "")
				if f != nil {
					c.registerAlias(full, f)
				}
				if isNew && f != nil {
					out = append(out, f)
				}
			}
		}
	}
	return out, nil
}

func (c *Collector) isExecutable(path string) (bool, error) {
	entries, err := c.stat.ReadDir(filepath.Dir(path))
	if err != nil {
		return false, err
	}
	base := filepath.Base(path)
	for _, e := range entries {
		if e.Name == base {
			return e.Executable(), nil
		}
	}
	return false, nil
}

func (c *Collector) markVisited(inode uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.visitedDirs[inode]; seen {
		return false
	}
	c.visitedDirs[inode] = struct{}{}
	return true
}

// isCandidate applies the classification rule: executable bit set, or
// basename matches the shared-library name pattern, or the caller passed a
// non-empty forced reason (e.g. "found in ldconfig -p").
func isCandidate(name string, execBit bool, reason string) bool {
	if reason != "" {
		return true
	}
	if execBit {
		return true
	}
	return soNameRe.MatchString(name)
}

// addCandidate registers path as a File if it qualifies as a candidate,
// returning the File (new or pre-existing) and whether this call created
// it. Safe for concurrent use.
func (c *Collector) addCandidate(path string, execBit bool, reason string) (*model.File, bool) {
	if !isCandidate(filepath.Base(path), execBit, reason) {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	canonPath := c.pool.Intern(path)
	if f, exists := c.uniqueFiles[canonPath]; exists {
		return f, false
	}

	f := model.NewFile(canonPath)
	sensitive, err := c.stat.IsSecuritySensitive(path)
	if err != nil {
		c.log.Warn("cannot determine security sensitivity of %s: %v", path, err)
	}
	f.IsSecure = sensitive
	f.ConfigPaths = c.configuredPaths(canonPath, "")
	c.uniqueFiles[canonPath] = f
	return f, true
}

func (c *Collector) registerAlias(aliasPath string, f *model.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[c.pool.Intern(aliasPath)] = f
}

// configuredPaths gathers addLibPath directories applying to path, resolved
// to SearchPaths. pkgName may be empty if ownership isn't known yet (it's
// patched in again once the package adapter attributes the file).
func (c *Collector) configuredPaths(path, pkgName string) []model.SearchPath {
	var out []model.SearchPath
	for _, dir := range c.cfg.DirsForFile(path, pkgName) {
		canon, inode, ok, err := c.stat.CanonicalDir(dir)
		if err != nil {
			c.log.Warn("addLibPath directory %s: %v", dir, err)
			continue
		}
		if !ok {
			continue
		}
		out = append(out, model.SearchPath{Path: c.pool.Intern(canon), Inode: inode})
	}
	return out
}

// inspectBatch dispatches a round of newly-discovered Files to the worker
// pool for parallel ELF inspection. Each task's Merge step attributes the
// file to its owning package (already known, since the package adapter's
// parse-installed runs before collection per spec.md's component ordering)
// and appends per-package/per-path configured search paths gathered only
// once ownership is known.
func (c *Collector) inspectBatch(ctx context.Context, batch []*model.File) error {
	bundle := make(workerpool.Bundle, 0, len(batch))
	for _, f := range batch {
		f := f
		bundle = append(bundle, workerpool.TaskFunc{
			ComputeFn: func(ctx context.Context) error {
				err := c.inspector.InspectFile(f, f.Path, c.pushDirFromInspector)
				if errs.Of(err, errs.MalformedInput) {
					c.log.Warn("%v", err)
					return nil
				}
				return err
			},
			MergeFn: func() {
				c.attributeOwner(f)
			},
		})
	}
	c.workers.Run(ctx, []workerpool.Bundle{bundle})
	if c.workers.Failed() {
		return c.workers.FirstError()
	}
	return nil
}

func (c *Collector) pushDirFromInspector(sp model.SearchPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.visitedDirs[sp.Inode]; seen {
		return
	}
	c.visitedDirs[sp.Inode] = struct{}{}
	c.queue = append(c.queue, sp.Path)
}

func (c *Collector) attributeOwner(f *model.File) {
	pkg := c.index.PackageOwner(f.Path)
	if pkg == nil {
		return
	}
	f.BelongsToPackage = pkg
	f.ConfigPaths = append(f.ConfigPaths, c.configuredPaths(f.Path, pkg.Name)...)
}

// absorbLoaderCache runs `ldconfig -p`, parses its output, and registers
// every cache entry not already known as an alias or unique file.
func (c *Collector) absorbLoaderCache(ctx context.Context) error {
	res, err := c.runner.Run(ctx, "ldconfig", "-p")
	if err != nil {
		return err
	}

	declared, entries, err := ldcache.Parse(res.Stdout)
	if err != nil {
		return err
	}

	type pending struct {
		name string
		file *model.File
	}

	numAdded, numSkipped := 0, 0
	var toInspect []*model.File
	var toIndex []pending

	for _, e := range entries {
		_, _, ok, cerr := c.stat.CanonicalDir(filepath.Dir(e.Path))
		if cerr != nil {
			c.log.Warn("ldconfig -p entry %s: %v", e.Path, cerr)
			numSkipped++
			continue
		}
		if !ok {
			c.log.Warn("ldconfig -p entry %s: orphan symlink", e.Path)
			numSkipped++
			continue
		}

		c.mu.Lock()
		f, isNew := c.aliases[e.Path], false
		c.mu.Unlock()
		if f == nil {
			f, isNew = c.addCandidate(e.Path, true, "found in ldconfig -p")
		}
		if f == nil {
			numSkipped++
			continue
		}
		if isNew {
			toInspect = append(toInspect, f)
		}
		numAdded++
		toIndex = append(toIndex, pending{name: e.Name, file: f})
	}

	if numAdded+numSkipped != declared {
		c.log.Warn("ldconfig -p declared %d entries, but processed %d added + %d skipped", declared, numAdded, numSkipped)
	}

	if len(toInspect) > 0 {
		if err := c.inspectBatch(ctx, toInspect); err != nil {
			return err
		}
	}

	// Bitness is only authoritative once a File has been inspected (ELF
	// class, not ldconfig's sometimes-ambiguous arch string, per
	// FilesCollector.cpp's own observation that `ldconfig -p` shows "(ELF)"
	// for some 32-bit libraries).
	for _, p := range toIndex {
		key := model.PathAndBitnessKey{Path: p.name, Is32: p.file.Is32}
		if existing, inserted := c.index.AddLoaderCacheEntry(key, p.file); !inserted && existing.Path != p.file.Path {
			c.log.Warn("ldconfig -p: duplicate key {%s, 32=%v}, keeping previous value %s", p.name, key.Is32, existing.Path)
		}
	}
	return nil
}

// Files returns a snapshot of every distinct File discovered during the
// crawl (executables, libraries, and anything in between), for the
// Resolver's working set. Safe to call only after Execute has returned.
func (c *Collector) Files() []*model.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	files := make([]*model.File, 0, len(c.uniqueFiles))
	for _, f := range c.uniqueFiles {
		files = append(files, f)
	}
	return files
}

// finalizeLibraries inserts every discovered library into the global
// library index under its canonical path, plus a loose (first-wins) entry
// under every symlink alias that points at it, per spec.md §3: the index's
// keys cover both canonical paths and symlink paths that resolve to the
// same file.
func (c *Collector) finalizeLibraries() error {
	c.mu.Lock()
	files := make([]*model.File, 0, len(c.uniqueFiles))
	for _, f := range c.uniqueFiles {
		files = append(files, f)
	}
	aliases := make(map[string]*model.File, len(c.aliases))
	for alias, f := range c.aliases {
		aliases[alias] = f
	}
	c.mu.Unlock()

	for _, f := range files {
		if !f.IsLibrary {
			continue
		}
		if err := c.index.AddLibraryStrict(f); err != nil {
			return err
		}
	}

	for alias, f := range aliases {
		if !f.IsLibrary {
			continue
		}
		c.index.AddLibraryAlias(model.PathAndBitnessKey{Path: alias, Is32: f.Is32}, f)
	}
	return nil
}
