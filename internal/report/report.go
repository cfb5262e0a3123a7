// Package report renders a Resolver pass's remaining unresolved Files as
// either a width-computed three-column table or a nested indented text
// block, grouped by owning package. Grounded in
// original_source/src/main/Resolver.cpp's dumpErrors() for the grouping
// rule (package, sorted; files, sorted; needed names, sorted) and in the
// teacher's internal/display/tree_formatter.go for the
// options-struct-driven format switch and strings.Builder-based rendering
// style, adapted from a function-call tree to a package/file/library
// dependency listing.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/resolver"
)

// Format selects the rendering style.
type Format int

const (
	Wide Format = iota
	Nested
)

const unassignedBucket = "(unassigned)"

// Options controls rendering.
type Options struct {
	Format   Format
	Colorize bool
	// Suggest, when true, looks up a "did you mean" suggestion for every
	// unresolved name against KnownNames using edit distance.
	Suggest    bool
	KnownNames []string
}

// packageGroup is one owning-package bucket, gathered before rendering so
// both formats can share the same grouping/sorting pass.
type packageGroup struct {
	name  string
	files []*model.File
}

// Render produces the final report text for the given Files (normally
// Resolver Result.Remaining from the last pass).
func Render(files []*model.File, opts Options) string {
	groups := groupByPackage(files)

	switch opts.Format {
	case Wide:
		return renderWide(groups, opts)
	default:
		return renderNested(groups, opts)
	}
}

func groupByPackage(files []*model.File) []packageGroup {
	byName := make(map[string][]*model.File)
	for _, f := range files {
		name := unassignedBucket
		if f.BelongsToPackage != nil {
			name = f.BelongsToPackage.Name
		}
		byName[name] = append(byName[name], f)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		// The unassigned bucket always sorts last, real package names
		// alphabetically otherwise.
		if names[i] == unassignedBucket {
			return false
		}
		if names[j] == unassignedBucket {
			return true
		}
		return names[i] < names[j]
	})

	groups := make([]packageGroup, 0, len(names))
	for _, name := range names {
		fs := byName[name]
		sort.Slice(fs, func(i, j int) bool { return fs[i].Path < fs[j].Path })
		groups = append(groups, packageGroup{name: name, files: fs})
	}
	return groups
}

// row is one (package, file, library) line, the Wide format's unit.
type row struct {
	pkg, file, lib string
}

func buildRows(groups []packageGroup, opts Options) []row {
	var rows []row
	for _, g := range groups {
		for _, f := range g.files {
			for _, n := range resolver.SortNames(f.NeededLibs) {
				lib := n
				if opts.Suggest {
					if s, ok := suggest(n, opts.KnownNames); ok {
						lib = fmt.Sprintf("%s (did you mean %s?)", n, s)
					}
				}
				rows = append(rows, row{pkg: g.name, file: f.Path, lib: lib})
			}
		}
	}
	return rows
}

func renderWide(groups []packageGroup, opts Options) string {
	rows := buildRows(groups, opts)
	if len(rows) == 0 {
		return "No unresolved dependencies.\n"
	}

	headers := [3]string{"PACKAGE", "FILE", "LIBRARY"}
	colWidths := [3]int{len(headers[0]), len(headers[1]), len(headers[2])}
	for _, r := range rows {
		colWidths = [3]int{
			maxInt(colWidths[0], len(r.pkg)),
			maxInt(colWidths[1], len(r.file)),
			maxInt(colWidths[2], len(r.lib)),
		}
	}

	var sb strings.Builder
	writeWideRow(&sb, headers[0], headers[1], headers[2], colWidths, "")
	for _, r := range rows {
		color := ""
		if opts.Colorize {
			color = colorForLib
		}
		writeWideRow(&sb, r.pkg, r.file, r.lib, colWidths, color)
	}
	return sb.String()
}

func writeWideRow(sb *strings.Builder, pkg, file, lib string, widths [3]int, color string) {
	if color != "" {
		fmt.Fprintf(sb, "%-*s  %-*s  %s%s%s\n", widths[0], pkg, widths[1], file, color, lib, colorOff)
		return
	}
	fmt.Fprintf(sb, "%-*s  %-*s  %s\n", widths[0], pkg, widths[1], file, lib)
}

func renderNested(groups []packageGroup, opts Options) string {
	var sb strings.Builder
	any := false
	for _, g := range groups {
		if len(g.files) == 0 {
			continue
		}
		any = true
		fmt.Fprintf(&sb, "%s\n", g.name)
		for _, f := range g.files {
			fmt.Fprintf(&sb, "  %s\n", f.Path)
			for _, n := range resolver.SortNames(f.NeededLibs) {
				if opts.Suggest {
					if s, ok := suggest(n, opts.KnownNames); ok {
						fmt.Fprintf(&sb, "    %s (did you mean %s?)\n", n, s)
						continue
					}
				}
				fmt.Fprintf(&sb, "    %s\n", n)
			}
		}
	}
	if !any {
		return "No unresolved dependencies.\n"
	}
	return sb.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// suggest looks up the closest known soname to an unresolved name by edit
// distance, for the "did you mean" hint. ok is false only when known is
// empty, the lookup fails, or the closest name is name itself; no distance
// threshold is applied, so otherwise the closest known name is proposed
// however far it is.
func suggest(name string, known []string) (string, bool) {
	if len(known) == 0 {
		return "", false
	}
	best, err := edlib.FuzzySearch(name, known, edlib.Levenshtein)
	if err != nil || best == "" || best == name {
		return "", false
	}
	return best, true
}
