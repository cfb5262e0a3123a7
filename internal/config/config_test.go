package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".checklink.kdl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.kdl"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_ScanMoreBinsAndLibs(t *testing.T) {
	path := writeConfig(t, `
scan-more-bins "/opt/app/bin" "/opt/other/bin"
scan-more-libs "/opt/app/lib"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/app/bin", "/opt/other/bin"}, cfg.ScanMoreBins)
	assert.Equal(t, []string{"/opt/app/lib"}, cfg.ScanMoreLibs)
}

func TestLoad_BooleanFlags(t *testing.T) {
	path := writeConfig(t, `
no-network true
wide true
colorize false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.NoNetwork)
	assert.True(t, cfg.Wide)
	assert.False(t, cfg.Colorize)
}

func TestLoad_AddLibPath_PackageRule(t *testing.T) {
	path := writeConfig(t, `add-lib-path "zlib" "/opt/zlib/lib"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.LibPaths, 1)
	assert.Equal(t, WherePackage, cfg.LibPaths[0].Kind)
	assert.Equal(t, "zlib", cfg.LibPaths[0].Where)
	assert.Equal(t, "/opt/zlib/lib", cfg.LibPaths[0].Dir)
}

func TestLoad_AddLibPath_FilePathRule(t *testing.T) {
	path := writeConfig(t, `add-lib-path "/usr/bin/app" "/opt/app/lib"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.LibPaths, 1)
	assert.Equal(t, WhereFilePath, cfg.LibPaths[0].Kind)
	assert.Equal(t, "/usr/bin/app", cfg.LibPaths[0].Where)
}

func TestLoad_AddLibPath_DirGlobRule(t *testing.T) {
	path := writeConfig(t, `add-lib-path "/opt/vendor/**" "/opt/vendor/lib"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.LibPaths, 1)
	assert.Equal(t, WhereDirGlob, cfg.LibPaths[0].Kind)
	assert.Equal(t, "/opt/vendor", cfg.LibPaths[0].Where)
}

func TestLoad_AddLibPath_RelativeDirRejected(t *testing.T) {
	path := writeConfig(t, `add-lib-path "zlib" "relative/lib"`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_AddLibPath_WrongArgCount(t *testing.T) {
	path := writeConfig(t, `add-lib-path "zlib"`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_AddOptDepend(t *testing.T) {
	path := writeConfig(t, `add-opt-depend "foo" "bar"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.OptDepends, 1)
	assert.Equal(t, OptDependRule{Package: "foo", Name: "bar"}, cfg.OptDepends[0])
}

func TestLoad_IgnoreFile(t *testing.T) {
	path := writeConfig(t, `ignore-file "^/proc/"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IgnoreMatch("/proc/1/exe"))
	assert.False(t, cfg.IgnoreMatch("/usr/bin/app"))
}

func TestLoad_IgnoreFile_InvalidRegex(t *testing.T) {
	path := writeConfig(t, `ignore-file "("`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMergeEnv_SplitsColonSeparatedPaths(t *testing.T) {
	cfg := &Config{}
	cfg.MergeEnv(func(key string) string {
		if key == "CHECKLINK_LIBRARY_PATH" {
			return "/opt/a/lib:/opt/b/lib"
		}
		return ""
	})
	assert.Equal(t, []string{"/opt/a/lib", "/opt/b/lib"}, cfg.ExtraLibRoots)
}

func TestMergeEnv_EmptyIsNoOp(t *testing.T) {
	cfg := &Config{}
	cfg.MergeEnv(func(string) string { return "" })
	assert.Empty(t, cfg.ExtraLibRoots)
}

func TestDirsForFile_PackageRule(t *testing.T) {
	cfg := &Config{LibPaths: []LibPathRule{{Kind: WherePackage, Where: "zlib", Dir: "/opt/zlib/lib"}}}
	assert.Equal(t, []string{"/opt/zlib/lib"}, cfg.DirsForFile("/usr/lib/libz.so", "zlib"))
	assert.Empty(t, cfg.DirsForFile("/usr/lib/libz.so", "other"))
}

func TestDirsForFile_FilePathRule(t *testing.T) {
	cfg := &Config{LibPaths: []LibPathRule{{Kind: WhereFilePath, Where: "/usr/bin/app", Dir: "/opt/app/lib"}}}
	assert.Equal(t, []string{"/opt/app/lib"}, cfg.DirsForFile("/usr/bin/app", ""))
	assert.Empty(t, cfg.DirsForFile("/usr/bin/other", ""))
}

func TestDirsForFile_DirGlobRule(t *testing.T) {
	cfg := &Config{LibPaths: []LibPathRule{{Kind: WhereDirGlob, Where: "/opt/vendor", Dir: "/opt/vendor/lib"}}}
	assert.Equal(t, []string{"/opt/vendor/lib"}, cfg.DirsForFile("/opt/vendor/bin/tool", ""))
	assert.Empty(t, cfg.DirsForFile("/opt/other/bin/tool", ""))
}
