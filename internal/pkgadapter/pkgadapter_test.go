package pkgadapter

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimgel/checklink/internal/arena"
	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/elfinspect"
	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/pathstat"
	"github.com/dimgel/checklink/internal/workerpool"
)

type fakeSource struct {
	ids     []string
	parsed  map[string]ParsedPackage
	failIDs map[string]bool
}

func (s *fakeSource) IterateInstalled() ([]string, error) { return s.ids, nil }

func (s *fakeSource) ParseInstalled(id string) (ParsedPackage, error) {
	if s.failIDs[id] {
		return ParsedPackage{}, os.ErrNotExist
	}
	return s.parsed[id], nil
}

type fakeArchiveTool struct {
	archiveNames map[string]string
	downloaded   []string
}

func (a *fakeArchiveTool) DownloadBatch(ctx context.Context, names []string) error {
	a.downloaded = append(a.downloaded, names...)
	return nil
}

func (a *fakeArchiveTool) ResolveArchive(ctx context.Context, depName string) (string, error) {
	return a.archiveNames[depName], nil
}

func (a *fakeArchiveTool) OpenArchive(archiveFileName string, visit func(Entry) error) error {
	return nil
}

func newTestAdapter(src InstalledPackageSource, archive ArchiveTool) *Adapter {
	log := clog.New(os.Stdout, os.Stderr, clog.Debug, clog.Disabled)
	workers := workerpool.New(2, 0)
	index := model.NewIndex()
	inspect := elfinspect.New(arena.NewStringPool(), log, pathstat.New())
	return New(src, archive, index, log, workers, inspect)
}

func TestParseInstalled_MergesPackagesAndFileOwnership(t *testing.T) {
	src := &fakeSource{
		ids: []string{"zlib-1.3-1"},
		parsed: map[string]ParsedPackage{
			"zlib-1.3-1": {Name: "zlib", Version: "1.3-1", Provides: []string{"libz.so"}, FilePaths: []string{"usr/lib/libz.so.1"}},
		},
	}
	a := newTestAdapter(src, &fakeArchiveTool{})
	require.NoError(t, a.ParseInstalled(context.Background()))

	pkg := a.index.PackageOwner("/usr/lib/libz.so.1")
	require.NotNil(t, pkg)
	assert.Equal(t, "zlib", pkg.Name)
	assert.True(t, pkg.ProvidesName("libz.so"))
}

func TestParseInstalled_SkipsEmptyNameOrVersion(t *testing.T) {
	src := &fakeSource{
		ids: []string{"bad"},
		parsed: map[string]ParsedPackage{
			"bad": {Name: "", Version: "1.0"},
		},
	}
	a := newTestAdapter(src, &fakeArchiveTool{})
	require.NoError(t, a.ParseInstalled(context.Background()))
	assert.Empty(t, a.byName)
}

func TestParseInstalled_PropagatesSourceError(t *testing.T) {
	src := &fakeSource{ids: []string{"broken"}, failIDs: map[string]bool{"broken": true}}
	a := newTestAdapter(src, &fakeArchiveTool{})
	err := a.ParseInstalled(context.Background())
	assert.Error(t, err)
}

func TestCalculateOptionalDeps_OnlyUnsatisfied(t *testing.T) {
	a := newTestAdapter(&fakeSource{}, &fakeArchiveTool{})
	foo := model.NewPackage("foo", "1.0")
	foo.OptDepends["bar"] = struct{}{}
	foo.OptDepends["baz"] = struct{}{}
	a.byName["foo"] = foo

	baz := model.NewPackage("baz", "1.0")
	baz.Provides["baz"] = struct{}{}
	a.byProvides["baz"] = baz

	pending := a.CalculateOptionalDeps()
	assert.Equal(t, []string{"bar"}, pending)
}

func TestDownloadOptionalDeps_NoNetworkSkipsDownload(t *testing.T) {
	archive := &fakeArchiveTool{archiveNames: map[string]string{"bar": "bar-1.0.pkg.tar.zst"}}
	a := newTestAdapter(&fakeSource{}, archive)
	a.pendingOptDeps = []string{"bar"}

	require.NoError(t, a.DownloadOptionalDeps(context.Background(), true))
	assert.Empty(t, archive.downloaded)
	assert.Equal(t, "bar-1.0.pkg.tar.zst", a.archiveNames["bar"])
}

func TestDownloadOptionalDeps_NetworkEnabledDownloadsBatch(t *testing.T) {
	archive := &fakeArchiveTool{archiveNames: map[string]string{"bar": "bar-1.0.pkg.tar.zst"}}
	a := newTestAdapter(&fakeSource{}, archive)
	a.pendingOptDeps = []string{"bar"}

	require.NoError(t, a.DownloadOptionalDeps(context.Background(), false))
	assert.Equal(t, []string{"bar"}, archive.downloaded)
}

func TestDownloadOptionalDeps_NothingPending(t *testing.T) {
	archive := &fakeArchiveTool{}
	a := newTestAdapter(&fakeSource{}, archive)
	require.NoError(t, a.DownloadOptionalDeps(context.Background(), false))
	assert.Empty(t, archive.downloaded)
}
