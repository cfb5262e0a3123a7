// Package config loads .checklink.kdl, the on-disk configuration file
// recognizing the same semantic keys the original tool's INI file did
// (scanMoreBins, scanMoreLibs, addLibPath, addOptDepend, ignoreFile) but
// spelled as KDL nodes instead of INI key=value lines. INI parsing itself
// is explicitly out of scope as an external collaborator; KDL is adopted
// in its place because it's the config grammar the teacher already depends
// on (github.com/sblinch/kdl-go, internal/config/kdl_config.go) and because
// it gives repeatable keys (addLibPath, addOptDepend, ignoreFile) a native
// multi-node representation an INI line can only approximate.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/dimgel/checklink/internal/errs"
)

// WhereKind classifies the first argument of an addLibPath rule.
type WhereKind int

const (
	WherePackage WhereKind = iota
	WhereFilePath
	WhereDirGlob // an absolute directory suffixed with "/**"
)

// LibPathRule is one addLibPath configuration line.
type LibPathRule struct {
	Kind WhereKind
	// Where is the package name, absolute file path, or absolute
	// directory (without the "/**" suffix) the rule applies to.
	Where string
	Dir   string
}

// OptDependRule is one addOptDepend configuration line.
type OptDependRule struct {
	Package string
	Name    string
}

// Config is the parsed, validated contents of .checklink.kdl plus whatever
// the environment and command line layer on top (see MergeEnv).
type Config struct {
	ScanMoreBins []string
	ScanMoreLibs []string
	LibPaths     []LibPathRule
	// OptDepends holds the parsed add-opt-depend lines. No other package
	// reads it: these lines do not change which optional dependencies the
	// package adapter considers.
	OptDepends  []OptDependRule
	IgnoreFiles []*regexp.Regexp

	// ExtraLibRoots comes from CHECKLINK_LIBRARY_PATH, not the KDL file.
	// The resolver searches it, followed by ScanMoreLibs, as its extra
	// library roots, which are skipped for security-sensitive files.
	ExtraLibRoots []string

	NoNetwork bool
	Wide      bool
	Colorize  bool
}

// Load reads and parses path. A missing file is not an error: callers get
// back a zero-value Config, matching the original tool's "config file is
// optional" behavior.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, errs.New(errs.ConfigurationError, "config.Load", err).WithPath(path)
	}

	doc, err := kdl.Parse(strings.NewReader(string(b)))
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "config.Load", err).WithPath(path)
	}

	cfg := &Config{}
	for _, n := range doc.Nodes {
		if err := cfg.applyNode(n); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyNode(n *document.Node) error {
	switch nodeName(n) {
	case "scan-more-bins":
		c.ScanMoreBins = append(c.ScanMoreBins, stringArgs(n)...)
	case "scan-more-libs":
		c.ScanMoreLibs = append(c.ScanMoreLibs, stringArgs(n)...)
	case "no-network":
		if b, ok := firstBoolArg(n); ok {
			c.NoNetwork = b
		}
	case "wide":
		if b, ok := firstBoolArg(n); ok {
			c.Wide = b
		}
	case "colorize":
		if b, ok := firstBoolArg(n); ok {
			c.Colorize = b
		}
	case "add-lib-path":
		args := stringArgs(n)
		if len(args) != 2 {
			return errs.New(errs.ConfigurationError, "config.applyNode",
				fmt.Errorf("add-lib-path requires exactly 2 arguments, got %d", len(args)))
		}
		where, dir := args[0], args[1]
		if !strings.HasPrefix(dir, "/") {
			return errs.New(errs.ConfigurationError, "config.applyNode",
				fmt.Errorf("add-lib-path: dir must be absolute: %q", dir))
		}
		rule := LibPathRule{Where: where, Dir: dir}
		switch {
		case strings.HasSuffix(where, "/**"):
			rule.Kind = WhereDirGlob
			rule.Where = strings.TrimSuffix(where, "/**")
		case strings.HasPrefix(where, "/"):
			rule.Kind = WhereFilePath
		default:
			rule.Kind = WherePackage
		}
		c.LibPaths = append(c.LibPaths, rule)
	case "add-opt-depend":
		args := stringArgs(n)
		if len(args) != 2 {
			return errs.New(errs.ConfigurationError, "config.applyNode",
				fmt.Errorf("add-opt-depend requires exactly 2 arguments, got %d", len(args)))
		}
		c.OptDepends = append(c.OptDepends, OptDependRule{Package: args[0], Name: args[1]})
	case "ignore-file":
		args := stringArgs(n)
		if len(args) != 1 {
			return errs.New(errs.ConfigurationError, "config.applyNode",
				fmt.Errorf("ignore-file requires exactly 1 argument, got %d", len(args)))
		}
		re, err := regexp.Compile(args[0])
		if err != nil {
			return errs.New(errs.ConfigurationError, "config.applyNode", err)
		}
		c.IgnoreFiles = append(c.IgnoreFiles, re)
	}
	return nil
}

// MergeEnv folds CHECKLINK_LIBRARY_PATH into ExtraLibRoots.
func (c *Config) MergeEnv(getenv func(string) string) {
	v := getenv("CHECKLINK_LIBRARY_PATH")
	if v == "" {
		return
	}
	for _, p := range strings.Split(v, ":") {
		if p != "" {
			c.ExtraLibRoots = append(c.ExtraLibRoots, p)
		}
	}
}

// IgnoreMatch reports whether path matches any configured ignore-file
// pattern.
func (c *Config) IgnoreMatch(path string) bool {
	for _, re := range c.IgnoreFiles {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func stringArgs(n *document.Node) []string {
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	b, ok := n.Arguments[0].Value.(bool)
	return b, ok
}
