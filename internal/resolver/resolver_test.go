package resolver

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/pathstat"
	"github.com/dimgel/checklink/internal/workerpool"
)

// fakeStater treats every root as already canonical and already existing,
// so Resolver tests can exercise the search order without touching the
// filesystem.
type fakeStater struct{}

func (fakeStater) ReadDir(dir string) ([]pathstat.Entry, error) { return nil, nil }

func (fakeStater) Inode(path string) (uint64, error) { return 0, nil }

func (fakeStater) CanonicalDir(p string) (canon string, inode uint64, ok bool, err error) {
	return p, 0, true, nil
}

func (fakeStater) ResolveSymlink(path string) (target string, kind pathstat.EntryKind, inode uint64, ok bool, err error) {
	return "", pathstat.KindOther, 0, false, nil
}

func (fakeStater) IsSecuritySensitive(path string) (bool, error) { return false, nil }

func newTestResolver(t *testing.T, index *model.Index, extraRoots, defaultRoots []string) *Resolver {
	t.Helper()
	log := clog.New(os.Stdout, os.Stderr, clog.Debug, clog.Disabled)
	workers := workerpool.New(2, 0)
	return New(index, workers, log, fakeStater{}, extraRoots, defaultRoots)
}

func library(path string, is32 bool) *model.File {
	f := model.NewFile(path)
	f.IsLibrary = true
	f.Is32 = is32
	return f
}

func TestResolveOne_AbsoluteNeeded(t *testing.T) {
	index := model.NewIndex()
	lib := library("/opt/app/libfoo.so", false)
	index.AddLibrary(lib)

	r := newTestResolver(t, index, nil, nil)
	needer := model.NewFile("/opt/app/bin")
	ok := r.resolveOne(needer, "/opt/app/libfoo.so")
	assert.True(t, ok)
}

func TestResolveOne_Bitness(t *testing.T) {
	index := model.NewIndex()
	index.AddLibrary(library("/usr/lib/libfoo.so", false))

	r := newTestResolver(t, index, nil, nil)
	needer32 := model.NewFile("/usr/bin/app")
	needer32.Is32 = true
	needer32.ConfigPaths = []model.SearchPath{{Path: "/usr/lib"}}

	assert.False(t, r.resolveOne(needer32, "libfoo.so"), "32-bit needer must not match a 64-bit library")
}

func TestSearchDirs_RunPathSupersedesRPath(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, nil, nil)

	f := &model.File{
		Path:     "/usr/bin/app",
		RPaths:   []model.SearchPath{{Path: "/opt/rpath"}},
		RunPaths: []model.SearchPath{{Path: "/opt/runpath"}},
	}
	dirs := r.searchDirs(f)
	assert.NotContains(t, dirs, "/opt/rpath", "RPATH must be ignored when RUNPATH is present")
	assert.Contains(t, dirs, "/opt/runpath")
}

func TestSearchDirs_RPathUsedWhenNoRunPath(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, nil, nil)

	f := &model.File{
		Path:   "/usr/bin/app",
		RPaths: []model.SearchPath{{Path: "/opt/rpath"}},
	}
	dirs := r.searchDirs(f)
	assert.Contains(t, dirs, "/opt/rpath")
}

func TestSearchDirs_SecureFileSkipsExtraRoots(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, []string{"/extra"}, []string{"/default"})

	secure := &model.File{Path: "/usr/bin/suid-app", IsSecure: true}
	dirs := r.searchDirs(secure)
	assert.NotContains(t, dirs, "/extra")
	assert.Contains(t, dirs, "/default")

	insecure := &model.File{Path: "/usr/bin/app"}
	dirs = r.searchDirs(insecure)
	assert.Contains(t, dirs, "/extra")
}

func TestSearchDirs_Order(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, []string{"/extra"}, []string{"/default"})

	f := &model.File{
		Path:        "/usr/bin/app",
		ConfigPaths: []model.SearchPath{{Path: "/config"}},
		RunPaths:    []model.SearchPath{{Path: "/runpath"}},
	}
	dirs := r.searchDirs(f)
	require.Equal(t, []string{"/config", "/extra", "/runpath", "/default"}, dirs)
}

func TestResolveOne_LoaderCacheFallback(t *testing.T) {
	index := model.NewIndex()
	cached := library("/usr/lib/libbar.so.1", false)
	index.AddLoaderCacheEntry(model.PathAndBitnessKey{Path: "libbar.so.1"}, cached)

	r := newTestResolver(t, index, nil, nil)
	needer := model.NewFile("/usr/bin/app")
	assert.True(t, r.resolveOne(needer, "libbar.so.1"))
}

func TestResolveOne_BareSonameResolvesThroughSymlinkAlias(t *testing.T) {
	index := model.NewIndex()
	target := library("/usr/lib/libfoo.so.1.2.3", false)
	require.NoError(t, index.AddLibraryStrict(target))
	index.AddLibraryAlias(model.PathAndBitnessKey{Path: "/usr/lib/libfoo.so.1", Is32: false}, target)

	r := newTestResolver(t, index, nil, []string{"/usr/lib"})
	needer := model.NewFile("/usr/bin/app")
	assert.True(t, r.resolveOne(needer, "libfoo.so.1"))
}

func TestAcceptHit_SelfReferenceStillResolved(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, nil, nil)
	f := library("/usr/lib/libself.so", false)
	assert.True(t, r.acceptHit(f, "libself.so", f))
}

func TestAcceptHit_NonLibraryTargetStillResolved(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, nil, nil)
	needer := model.NewFile("/usr/bin/app")
	notALibrary := model.NewFile("/usr/bin/other")
	assert.True(t, r.acceptHit(needer, "other", notALibrary))
}

func TestExecute_ResolvesAndPrunes(t *testing.T) {
	index := model.NewIndex()
	index.AddLibrary(library("/usr/lib/libfoo.so", false))

	resolved := &model.File{
		Path:         "/usr/bin/app1",
		IsDynamicELF: true,
		NeededLibs:   []string{"libfoo.so"},
		ConfigPaths:  []model.SearchPath{{Path: "/usr/lib"}},
	}
	unresolved := &model.File{
		Path:         "/usr/bin/app2",
		IsDynamicELF: true,
		NeededLibs:   []string{"libmissing.so"},
	}

	r := newTestResolver(t, index, nil, nil)
	result, err := r.Execute(context.Background(), []*model.File{resolved, unresolved})
	require.NoError(t, err)
	assert.False(t, result.Resolved)
	require.Len(t, result.Remaining, 1)
	assert.Equal(t, "/usr/bin/app2", result.Remaining[0].Path)
	assert.Empty(t, resolved.NeededLibs)
	assert.Contains(t, index.UnresolvedNeeded(), "libmissing.so")
}

func TestExecute_AllResolvedWhenNoCandidates(t *testing.T) {
	index := model.NewIndex()
	r := newTestResolver(t, index, nil, nil)
	notELF := &model.File{Path: "/usr/bin/data.txt"}
	result, err := r.Execute(context.Background(), []*model.File{notELF})
	require.NoError(t, err)
	assert.True(t, result.Resolved)
	assert.Empty(t, result.Remaining)
}

func TestSortNames(t *testing.T) {
	in := []string{"libz.so", "liba.so", "libm.so"}
	out := SortNames(in)
	assert.Equal(t, []string{"liba.so", "libm.so", "libz.so"}, out)
	assert.Equal(t, []string{"libz.so", "liba.so", "libm.so"}, in, "SortNames must not mutate its input")
}
