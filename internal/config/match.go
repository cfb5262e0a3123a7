package config

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DirsForFile returns the extra library directories an addLibPath rule
// contributes to a file owned by pkgName (may be "") at canonical path
// filePath, in configuration order.
func (c *Config) DirsForFile(filePath, pkgName string) []string {
	var out []string
	for _, r := range c.LibPaths {
		switch r.Kind {
		case WherePackage:
			if pkgName != "" && r.Where == pkgName {
				out = append(out, r.Dir)
			}
		case WhereFilePath:
			if r.Where == filePath {
				out = append(out, r.Dir)
			}
		case WhereDirGlob:
			pattern := strings.TrimPrefix(r.Where, "/") + "/**"
			rel := strings.TrimPrefix(filePath, "/")
			if ok, _ := doublestar.Match(pattern, rel); ok {
				out = append(out, r.Dir)
			}
		}
	}
	return out
}
