package platformdefaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArch_BuiltInDefaults(t *testing.T) {
	d, err := Arch()
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin"}, d.Bins)
	assert.Equal(t, []string{"/usr/lib", "/usr/lib32"}, d.Libs)
}

func TestLoad_ExternalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`bins = ["/bin"]
libs = ["/lib", "/lib64"]
`), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin"}, d.Bins)
	assert.Equal(t, []string{"/lib", "/lib64"}, d.Libs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	assert.Error(t, err)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
