// Package ldcache parses the text output of `ldconfig -p`, the dynamic
// loader's own cache dump tool. The header and trailer lines vary with the
// host's locale ("1234 libs found in cache `/etc/ld.so.cache'", "Cache
// generated by: ldconfig (...)" in English), so only their shape is
// checked; every entry line in between has a fixed, locale-independent
// grammar. Grounded line-for-line on FilesCollector.cpp's own cache-parsing
// step, including its header/footer tolerance and the numAdded+numSkipped
// sanity check.
package ldcache

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dimgel/checklink/internal/errs"
)

// Entry is one parsed ldconfig cache line: a soname mapped to an absolute
// path, with the declared architecture string verbatim (e.g. "libc6,x86-64"
// or just "ELF" for entries ldconfig couldn't fully classify).
type Entry struct {
	Name string
	Arch string
	Path string
}

var (
	headerRe = regexp.MustCompile(`^(\d{1,9}) .*$`)
	entryRe  = regexp.MustCompile(`^\t(\S+) \(([^)]+)\) => /(\S+)$`)
	footerRe = regexp.MustCompile(`^\S.* ldconfig .*$`)
)

// Parse splits raw `ldconfig -p` output into its declared count and its
// entries. It returns an error if the header line doesn't match, if any
// interior line matches neither the entry grammar nor is tolerated as part
// of the header/footer, or if the trailing line isn't recognizable as a
// footer.
func Parse(output string) (declaredCount int, entries []Entry, err error) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return 0, nil, errs.New(errs.ExternalCommandFailure, "ldcache.Parse", fmt.Errorf("empty output"))
	}

	m := headerRe.FindStringSubmatch(lines[0])
	if m == nil {
		return 0, nil, errs.New(errs.ExternalCommandFailure, "ldcache.Parse",
			fmt.Errorf("unrecognized header line: %q", lines[0]))
	}
	declaredCount, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, nil, errs.New(errs.ExternalCommandFailure, "ldcache.Parse", convErr)
	}

	body := lines[1:]
	if len(body) == 0 {
		return declaredCount, nil, errs.New(errs.ExternalCommandFailure, "ldcache.Parse",
			fmt.Errorf("missing footer line"))
	}
	footer := body[len(body)-1]
	if !footerRe.MatchString(footer) {
		return declaredCount, nil, errs.New(errs.ExternalCommandFailure, "ldcache.Parse",
			fmt.Errorf("unrecognized footer line: %q", footer))
	}

	for i, line := range body[:len(body)-1] {
		em := entryRe.FindStringSubmatch(line)
		if em == nil {
			return declaredCount, nil, errs.New(errs.ExternalCommandFailure, "ldcache.Parse",
				fmt.Errorf("line %d: could not parse: %q", i+2, line))
		}
		entries = append(entries, Entry{Name: em[1], Arch: em[2], Path: "/" + em[3]})
	}

	return declaredCount, entries, nil
}
