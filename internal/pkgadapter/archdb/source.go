// Package archdb implements pkgadapter.InstalledPackageSource and
// pkgadapter.ArchiveTool for Arch Linux, reading pacman's local package
// database and shelling out to pacman itself for archive resolution and
// download. Grounded directly in original_source's PacMan_Arch.hpp/.cpp:
// the two-section-file desc/files format, the %NAME%/%VERSION%/%PROVIDES%/
// %OPTDEPENDS%/%FILES% section layout, and the pacman -Sw / pacman -Swp
// --print-format "%n %l" command shapes are all carried over unchanged;
// only the parser itself is rewritten in Go, the way the teacher's
// internal/git package wraps an external tool's exact CLI surface behind a
// small Go-idiomatic interface rather than reimplementing its behavior.
package archdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dimgel/checklink/internal/errs"
	"github.com/dimgel/checklink/internal/pkgadapter"
)

// DefaultLocalDBPath is pacman's local package database directory.
const DefaultLocalDBPath = "/var/lib/pacman/local"

// Source reads pacman's local package database.
type Source struct {
	localDBPath string
}

// NewSource creates a Source rooted at localDBPath (DefaultLocalDBPath if
// empty).
func NewSource(localDBPath string) *Source {
	if localDBPath == "" {
		localDBPath = DefaultLocalDBPath
	}
	return &Source{localDBPath: localDBPath}
}

// IterateInstalled lists every installed-package directory name
// ("name-version-release") under the local database.
func (s *Source) IterateInstalled() ([]string, error) {
	entries, err := os.ReadDir(s.localDBPath)
	if err != nil {
		return nil, errs.New(errs.MissingResource, "archdb.IterateInstalled", err).WithPath(s.localDBPath)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ParseInstalled reads dirName/desc and dirName/files and merges their
// sections, matching parseInstalledPackage's "pacman reads both files in a
// single function, so do I" comment.
func (s *Source) ParseInstalled(dirName string) (pkgadapter.ParsedPackage, error) {
	dirPath := filepath.Join(s.localDBPath, dirName)

	var p pkgadapter.ParsedPackage
	if err := parseSections(filepath.Join(dirPath, "desc"), &p); err != nil {
		return p, err
	}
	if err := parseSections(filepath.Join(dirPath, "files"), &p); err != nil {
		return p, err
	}

	if want := p.Name + "-" + p.Version; want != dirName {
		return p, errs.New(errs.MalformedInput, "archdb.ParseInstalled",
			fmt.Errorf("name+version %q does not match directory name %q", want, dirName)).WithPath(dirPath)
	}
	return p, nil
}

// parseSections reads one desc/files-shaped file: a sequence of "%SECTION%"
// header lines each followed by value lines; a blank line ends the current
// section. Unknown sections are skipped. The presence of the terminating
// blank line is not validated.
func parseSections(path string, p *pkgadapter.ParsedPackage) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.New(errs.MissingResource, "archdb.parseSections", err).WithPath(path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var section string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			section = ""
			continue
		}
		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") {
			section = line
			continue
		}
		switch section {
		case "%NAME%":
			p.Name = line
		case "%VERSION%":
			p.Version = line
		case "%PROVIDES%":
			p.Provides = append(p.Provides, line)
		case "%OPTDEPENDS%":
			name, _, _ := strings.Cut(line, ":")
			p.OptDepends = append(p.OptDepends, strings.TrimSpace(name))
		case "%FILES%":
			if !strings.HasSuffix(line, "/") {
				p.FilePaths = append(p.FilePaths, line)
			}
		default:
			// Unknown or unhandled section (%DEPENDS%, %CONFLICTS%, %BACKUP%,
			// etc.): every value line is simply not interesting to this tool.
		}
	}
	if err := sc.Err(); err != nil {
		return errs.New(errs.MalformedInput, "archdb.parseSections", err).WithPath(path)
	}
	return nil
}
