package pkgadapter

import (
	"path"
	"strings"

	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/elfinspect"
	"github.com/dimgel/checklink/internal/errs"
	"github.com/dimgel/checklink/internal/model"
)

// archiveMiner runs the two-pass archive scan described in spec.md §4.E and
// grounded in original_source's FilesCollector.cpp: pass one maps every
// symlink member to its normalized target so a chain ending on a needed
// soname can be recognized without touching the filesystem; pass two reads
// .PKGINFO for package metadata and ELF-inspects every regular file that
// pass one identified as needed (by exact path, basename, or a resolved
// symlink chain).
type archiveMiner struct {
	archive    ArchiveTool
	inspect    *elfinspect.Inspector
	unresolved map[string]struct{}
	log        *clog.Logger

	found   []*model.File
	aliases map[string]*model.File // archive-absolute symlink path -> target File
	pkg     *model.Package
}

func newArchiveMiner(archive ArchiveTool, inspect *elfinspect.Inspector, unresolved map[string]struct{}, log *clog.Logger) *archiveMiner {
	return &archiveMiner{archive: archive, inspect: inspect, unresolved: unresolved, log: log}
}

func (m *archiveMiner) mine(archiveFileName string) error {
	symlinks := make(map[string]string)
	if err := m.archive.OpenArchive(archiveFileName, func(e Entry) error {
		if e.Type == EntrySymlink {
			symlinks[normalizeArchivePath(e.Path)] = resolveSymlinkTarget(e.Path, e.SymlinkTarget)
		}
		return nil
	}); err != nil {
		return errs.New(errs.ExternalCommandFailure, "archiveMiner.mine", err).WithPath(archiveFileName)
	}

	aliasesByTarget := resolveSymlinkChains(symlinks, m.unresolved)

	return m.archive.OpenArchive(archiveFileName, func(e Entry) error {
		clean := normalizeArchivePath(e.Path)

		if e.Type == EntryRegular && path.Base(clean) == ".PKGINFO" {
			data, err := e.ReadContents()
			if err != nil {
				return errs.New(errs.ExternalCommandFailure, "archiveMiner.mine", err).WithPath(e.Path)
			}
			m.pkg = parsePkgInfo(data)
			return nil
		}

		if e.Type != EntryRegular {
			return nil
		}
		if !isNeeded(clean, m.unresolved, aliasesByTarget) {
			return nil
		}

		data, err := e.ReadContents()
		if err != nil {
			m.log.Warn("cannot read archive member %s: %v", e.Path, err)
			return nil
		}

		f := model.NewFile("/" + clean)
		objectDir := path.Dir(f.Path)
		if err := m.inspect.InspectBuffer(f, data, objectDir, nil); err != nil {
			if errs.Of(err, errs.MalformedInput) {
				m.log.Warn("%v", err)
				return nil
			}
			return err
		}
		if f.IsLibrary {
			m.found = append(m.found, f)
			for _, alias := range aliasesByTarget[clean] {
				if m.aliases == nil {
					m.aliases = make(map[string]*model.File)
				}
				m.aliases["/"+alias] = f
			}
		}
		return nil
	})
}

// normalizeArchivePath strips a leading "./" or "/" the way tar archives
// commonly prefix their entries, so membership checks against NEEDED
// sonames and absolute paths compare like with like.
func normalizeArchivePath(p string) string {
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}

// resolveSymlinkTarget folds a symlink's (possibly relative) target against
// its own directory using textual path rules only — archive members are
// not touched twice, per spec.md §4.E's two-pass constraint.
func resolveSymlinkTarget(symlinkPath, target string) string {
	if strings.HasPrefix(target, "/") {
		return normalizeArchivePath(target)
	}
	dir := path.Dir(normalizeArchivePath(symlinkPath))
	if dir == "." {
		return path.Clean(target)
	}
	return path.Clean(dir + "/" + target)
}

// resolveSymlinkChains follows every symlink whose name (or basename)
// appears in the unresolved-needed set through the symlink map until it
// reaches a non-symlink name, returning, per final regular-file target,
// every alias (symlink) name along the chains that reached it — so a
// multi-hop chain like a -> b -> c registers the eventually-mined library
// under both a and c, per spec.md §4.E Pass 2.
func resolveSymlinkChains(symlinks map[string]string, unresolved map[string]struct{}) map[string][]string {
	out := make(map[string][]string)
	for name := range symlinks {
		if !isNeededName(name, unresolved) {
			continue
		}
		target := name
		for i := 0; i < 64; i++ {
			next, ok := symlinks[target]
			if !ok {
				break
			}
			target = next
		}
		out[target] = append(out[target], name)
	}
	return out
}

func isNeededName(name string, unresolved map[string]struct{}) bool {
	if _, ok := unresolved[name]; ok {
		return true
	}
	if _, ok := unresolved["/"+name]; ok {
		return true
	}
	_, ok := unresolved[path.Base(name)]
	return ok
}

// parsePkgInfo parses a .PKGINFO archive member's "key = value" lines into a
// Package, following the subset of keys FilesCollector.cpp reads: pkgname,
// pkgver, and any number of provides lines.
func parsePkgInfo(data []byte) *model.Package {
	var name, version string
	var provides []string

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch k {
		case "pkgname":
			name = v
		case "pkgver":
			version = v
		case "provides":
			provides = append(provides, stripVersionConstraint(v))
		}
	}

	pkg := model.NewPackage(name, version)
	for _, p := range provides {
		pkg.Provides[p] = struct{}{}
	}
	return pkg
}

// stripVersionConstraint drops a trailing "=version", "<version", ">=version"
// style constraint from a provides/optdepend entry, keeping just the name.
func stripVersionConstraint(s string) string {
	for _, sep := range []string{">=", "<=", "==", "=", "<", ">"} {
		if i := strings.Index(s, sep); i >= 0 {
			return strings.TrimSpace(s[:i])
		}
	}
	return s
}
