package archdb

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/errs"
	"github.com/dimgel/checklink/internal/pkgadapter"
	"github.com/dimgel/checklink/internal/procexec"
)

// DefaultCachePath is pacman's package cache directory, where `pacman -Sw`
// leaves downloaded archives without installing them.
const DefaultCachePath = "/var/cache/pacman/pkg/"

// pacmanSWPLine matches one line of `pacman ... --print-format "%n %l"`
// output: a package name followed by a space and its resolved archive URL.
var pacmanSWPLine = regexp.MustCompile(`^(\S+) (\S+)$`)

// ArchiveTool wraps pacman's download and archive-resolution commands, and
// reads .pkg.tar.zst archives for the two-pass scan.
type ArchiveTool struct {
	runner      *procexec.Runner
	log         *clog.Logger
	cachePath   string
	archivesURL string
	colorize    bool
}

// NewArchiveTool creates an ArchiveTool rooted at cachePath
// (DefaultCachePath if empty).
func NewArchiveTool(runner *procexec.Runner, log *clog.Logger, cachePath string, colorize bool) *ArchiveTool {
	if cachePath == "" {
		cachePath = DefaultCachePath
	}
	if !strings.HasSuffix(cachePath, "/") {
		cachePath += "/"
	}
	return &ArchiveTool{
		runner:      runner,
		log:         log,
		cachePath:   cachePath,
		archivesURL: "file://" + cachePath,
		colorize:    colorize,
	}
}

func (a *ArchiveTool) colorFlag() string {
	if a.colorize {
		return "--color=always"
	}
	return "--color=never"
}

// DownloadBatch fetches every named dependency's archive without installing
// it, splitting the command line to respect the kernel's argument-length
// limit, matching downloadOptionalDependencies_impl's chunking loop.
func (a *ArchiveTool) DownloadBatch(ctx context.Context, names []string) error {
	fixed := []string{"-Sw", a.colorFlag(), "--noconfirm"}
	return a.runner.Chunked(ctx, "pacman", fixed, names, 128)
}

// ResolveArchive asks pacman for depName's package name and resolved
// archive URL via --print-format "%n %l", matching FindArchiveTask::compute.
// Multiline output (sub-dependencies are printed too) is scanned for an
// exact package-name match; if none is found, the last line is used.
func (a *ArchiveTool) ResolveArchive(ctx context.Context, depName string) (string, error) {
	res, err := a.runner.Run(ctx, "pacman", "-Sw", a.colorFlag(), "--print-format", "%n %l", depName)
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", errs.New(errs.ExternalCommandFailure, "archdb.ResolveArchive",
			fmt.Errorf("empty output for %q", depName)).WithPath(depName)
	}

	var lastURL string
	for _, line := range lines {
		m := pacmanSWPLine.FindStringSubmatch(line)
		if m == nil {
			return "", errs.New(errs.ExternalCommandFailure, "archdb.ResolveArchive",
				fmt.Errorf("couldn't parse output line %q for %q", line, depName)).WithPath(depName)
		}
		lastURL = m[2]
		if m[1] == depName {
			return a.stripArchivesURL(m[2], depName)
		}
	}
	return a.stripArchivesURL(lastURL, depName)
}

func (a *ArchiveTool) stripArchivesURL(url, depName string) (string, error) {
	if !strings.HasPrefix(url, a.archivesURL) || url == a.archivesURL {
		return "", errs.New(errs.ExternalCommandFailure, "archdb.ResolveArchive",
			fmt.Errorf("couldn't parse URL %q for %q: expected %q prefix", url, depName, a.archivesURL)).WithPath(depName)
	}
	return strings.TrimPrefix(url, a.archivesURL), nil
}

// OpenArchive decompresses archiveFileName (a .pkg.tar.zst member of the
// pacman cache) and walks its tar entries once, calling visit for each.
// zstd archives cannot be rewound cheaply, so a second OpenArchive call for
// a second pass simply reopens and redecompresses the file from disk, per
// spec.md §4.E's "archives that can't rewind get reopened" allowance.
func (a *ArchiveTool) OpenArchive(archiveFileName string, visit func(pkgadapter.Entry) error) error {
	path := filepath.Join(a.cachePath, archiveFileName)

	f, err := os.Open(path)
	if err != nil {
		return errs.New(errs.MissingResource, "archdb.OpenArchive", err).WithPath(path)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return errs.New(errs.MalformedInput, "archdb.OpenArchive", err).WithPath(path)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.New(errs.MalformedInput, "archdb.OpenArchive", err).WithPath(path)
		}

		entry := pkgadapter.Entry{Path: hdr.Name}
		switch hdr.Typeflag {
		case tar.TypeSymlink:
			entry.Type = pkgadapter.EntrySymlink
			entry.SymlinkTarget = hdr.Linkname
		case tar.TypeReg, tar.TypeRegA:
			entry.Type = pkgadapter.EntryRegular
			buf := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, buf); err != nil {
				return errs.New(errs.MalformedInput, "archdb.OpenArchive", err).WithPath(hdr.Name)
			}
			entry.ReadContents = func() ([]byte, error) { return buf, nil }
		default:
			entry.Type = pkgadapter.EntryOther
		}

		if err := visit(entry); err != nil {
			return err
		}
	}
}
