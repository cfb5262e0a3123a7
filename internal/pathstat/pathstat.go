// Package pathstat wraps the POSIX filesystem calls the collector and
// inspector need beyond what io/fs exposes directly: inode numbers (for
// SearchPath and visited-directory dedup) and symlink-target resolution.
// It uses golang.org/x/sys/unix for the Stat_t.Ino field, grounded in the
// same dependency the collector-equivalent teacher code
// (internal/indexing/pipeline.go) and cypherbits-sandboxed-tor-browser's
// dynlib package both reach for when they need raw stat fields the
// standard library's os.FileInfo does not surface.
package pathstat

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/dimgel/checklink/internal/errs"
)

// EntryKind classifies a directory entry the way the crawler needs to:
// regular file, directory, symlink, or something else entirely (device,
// socket, FIFO) which this tool never treats as a candidate.
type EntryKind int

const (
	KindOther EntryKind = iota
	KindRegular
	KindDir
	KindSymlink
)

// Entry is one name read out of a directory, with its kind, inode and mode
// already resolved so the collector never needs a second syscall just to
// classify it.
type Entry struct {
	Name  string
	Kind  EntryKind
	Inode uint64
	Mode  os.FileMode
}

// Executable reports whether any execute bit is set.
func (e Entry) Executable() bool {
	return e.Mode&0111 != 0
}

// Stater is the seam between internal/collector / internal/elfinspect and
// the host filesystem, so tests can substitute an in-memory fake.
type Stater interface {
	// ReadDir lists dir's entries with kind and inode already populated.
	ReadDir(dir string) ([]Entry, error)

	// Inode returns the inode number of path (following symlinks).
	Inode(path string) (uint64, error)

	// CanonicalDir resolves path (following symlinks) and reports whether
	// the result names a directory, along with its inode. ok is false
	// (with a nil error) if the resolved target exists but isn't a
	// directory; err is non-nil only for real I/O failures, not ENOENT
	// (ENOENT yields ok=false, err=nil, per the spec's tolerance for
	// configured paths that don't exist).
	CanonicalDir(path string) (canon string, inode uint64, ok bool, err error)

	// ResolveSymlink follows the whole symlink chain at path and reports
	// the final target's kind, canonical path, and inode. ok is false, err
	// nil if the target doesn't exist.
	ResolveSymlink(path string) (target string, kind EntryKind, inode uint64, ok bool, err error)

	// IsSecuritySensitive reports whether path (following symlinks)
	// carries the setuid or setgid bit, used for the suid/sgid
	// security-sensitivity classification. A missing path yields false, nil.
	IsSecuritySensitive(path string) (bool, error)
}

// OS is the real Stater, backed by the host filesystem.
type OS struct{}

// New returns the real filesystem Stater.
func New() OS { return OS{} }

func (OS) ReadDir(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		kind := classify(de.Type())
		if kind == KindOther && de.Type()&os.ModeType != 0 && de.Type()&(os.ModeSymlink|os.ModeDir) == 0 {
			// Socket, device, pipe, etc: never a candidate, no need for an
			// inode lookup.
			out = append(out, Entry{Name: de.Name(), Kind: KindOther})
			continue
		}
		full := filepath.Join(dir, de.Name())
		ino, mode, err := lstatInoMode(full)
		if err != nil {
			return nil, errs.New(errs.UnsupportedEnvironment, "pathstat.ReadDir", err).WithPath(full)
		}
		out = append(out, Entry{Name: de.Name(), Kind: kind, Inode: ino, Mode: mode})
	}
	return out, nil
}

func classify(mode os.FileMode) EntryKind {
	switch {
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	case mode.IsRegular():
		return KindRegular
	default:
		return KindOther
	}
}

func (OS) Inode(path string) (uint64, error) {
	return statIno(path)
}

func (OS) CanonicalDir(path string) (string, uint64, bool, error) {
	canon, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	info, err := os.Stat(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	if !info.IsDir() {
		return "", 0, false, nil
	}
	ino, err := statIno(canon)
	if err != nil {
		return "", 0, false, err
	}
	return canon, ino, true, nil
}

func (OS) ResolveSymlink(path string) (string, EntryKind, uint64, bool, error) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", KindOther, 0, false, nil
		}
		return "", KindOther, 0, false, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", KindOther, 0, false, nil
		}
		return "", KindOther, 0, false, err
	}
	ino, err := statIno(target)
	if err != nil {
		return "", KindOther, 0, false, err
	}
	return target, classify(info.Mode()), ino, true, nil
}

func (OS) IsSecuritySensitive(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode()&(os.ModeSetuid|os.ModeSetgid) != 0, nil
}

func statIno(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, errs.New(errs.UnsupportedEnvironment, "pathstat.statIno", err).WithPath(path)
	}
	return st.Ino, nil
}

func lstatInoMode(path string) (uint64, os.FileMode, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, 0, errs.New(errs.UnsupportedEnvironment, "pathstat.lstatInoMode", err).WithPath(path)
	}
	return st.Ino, os.FileMode(st.Mode & 0o777), nil
}
