package pathstat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDir_ClassifiesEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "file.txt"), filepath.Join(dir, "link")))

	st := New()
	entries, err := st.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, KindRegular, byName["file.txt"].Kind)
	assert.Equal(t, KindDir, byName["subdir"].Kind)
	assert.Equal(t, KindSymlink, byName["link"].Kind)
}

func TestReadDir_NonexistentDirectory(t *testing.T) {
	st := New()
	_, err := st.ReadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestCanonicalDir_ResolvesSymlinkedDirectory(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(real, link))

	st := New()
	canon, inode, ok, err := st.CanonicalDir(link)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, real, canon)
	assert.NotZero(t, inode)
}

func TestCanonicalDir_MissingIsNotAnError(t *testing.T) {
	st := New()
	_, _, ok, err := st.CanonicalDir(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCanonicalDir_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	st := New()
	_, _, ok, err := st.CanonicalDir(file)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestIsSecuritySensitive_PlainFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	st := New()
	sensitive, err := st.IsSecuritySensitive(file)
	require.NoError(t, err)
	assert.False(t, sensitive)
}

func TestIsSecuritySensitive_SetuidBit(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "suid.bin")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.NoError(t, os.Chmod(file, 0o4755))

	st := New()
	sensitive, err := st.IsSecuritySensitive(file)
	require.NoError(t, err)
	assert.True(t, sensitive)
}

func TestIsSecuritySensitive_MissingIsNotAnError(t *testing.T) {
	st := New()
	sensitive, err := st.IsSecuritySensitive(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.False(t, sensitive)
}

func TestResolveSymlink_FollowsToTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	st := New()
	resolved, kind, inode, ok, err := st.ResolveSymlink(link)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, target, resolved)
	assert.Equal(t, KindRegular, kind)
	assert.NotZero(t, inode)
}

func TestEntry_Executable(t *testing.T) {
	assert.True(t, Entry{Mode: 0o755}.Executable())
	assert.False(t, Entry{Mode: 0o644}.Executable())
}
