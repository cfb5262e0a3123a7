// Package platformdefaults holds the per-distribution default search roots
// the collector seeds its queue with absent any configuration: the
// executable roots the loader treats as "bin" (scanDefaultBins) and the
// library roots `man 8 ld.so` documents as defaults (scanDefaultLibs). The
// original tool hardcodes these per-distro as C++ constexpr arrays
// (defaults_Arch.hpp); this module keeps the same data but as an embedded
// TOML document parsed with go-toml, so a distribution's defaults can be
// swapped without a rebuild by passing a different file to Load (the
// --platform-defaults flag of cmd/checklink).
package platformdefaults

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

//go:embed arch.toml
var archDefaults []byte

// Defaults lists the default executable and library search roots for one
// distribution, order-significant for Libs (search priority) and
// order-insignificant for Bins (deduplicated after realpath resolution, per
// the original's own comment).
type Defaults struct {
	Bins []string `toml:"bins"`
	Libs []string `toml:"libs"`
}

// Arch returns Arch Linux's built-in defaults.
func Arch() (Defaults, error) {
	return parse(archDefaults)
}

// Load reads distribution defaults from an external TOML file, for
// platforms other than the one this binary was built with defaults for.
func Load(path string) (Defaults, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("platformdefaults.Load: %w", err)
	}
	return parse(b)
}

func parse(b []byte) (Defaults, error) {
	var d Defaults
	if err := toml.Unmarshal(b, &d); err != nil {
		return Defaults{}, fmt.Errorf("platformdefaults: %w", err)
	}
	return d, nil
}
