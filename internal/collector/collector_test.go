package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimgel/checklink/internal/model"
)

func TestIsCandidate_ExecutableBit(t *testing.T) {
	assert.True(t, isCandidate("myapp", true, ""))
}

func TestIsCandidate_SharedLibraryName(t *testing.T) {
	assert.True(t, isCandidate("libz.so", false, ""))
	assert.True(t, isCandidate("libz.so.1", false, ""))
	assert.True(t, isCandidate("libz.so.1.2.3", false, ""))
}

func TestIsCandidate_ForcedReason(t *testing.T) {
	assert.True(t, isCandidate("anything", false, "found in ldconfig -p"))
}

func TestIsCandidate_PlainDataFileRejected(t *testing.T) {
	assert.False(t, isCandidate("readme.txt", false, ""))
	assert.False(t, isCandidate("libnotashared", false, ""))
}

func TestFinalizeLibraries_RegistersSymlinkAliases(t *testing.T) {
	target := model.NewFile("/usr/lib/libfoo.so.1.2.3")
	target.IsLibrary = true

	c := &Collector{
		index:       model.NewIndex(),
		uniqueFiles: map[string]*model.File{target.Path: target},
		aliases:     map[string]*model.File{"/usr/lib/libfoo.so.1": target},
	}

	require.NoError(t, c.finalizeLibraries())

	canon, ok := c.index.Library(model.PathAndBitnessKey{Path: target.Path})
	require.True(t, ok)
	assert.Same(t, target, canon)

	alias, ok := c.index.Library(model.PathAndBitnessKey{Path: "/usr/lib/libfoo.so.1"})
	require.True(t, ok)
	assert.Same(t, target, alias)
}

func TestFinalizeLibraries_AliasSkippedForNonLibraryTarget(t *testing.T) {
	target := model.NewFile("/usr/bin/app")

	c := &Collector{
		index:       model.NewIndex(),
		uniqueFiles: map[string]*model.File{target.Path: target},
		aliases:     map[string]*model.File{"/usr/bin/app-link": target},
	}

	require.NoError(t, c.finalizeLibraries())

	_, ok := c.index.Library(model.PathAndBitnessKey{Path: "/usr/bin/app-link"})
	assert.False(t, ok)
}
