// Package excludes matches source paths against the repository's
// default exclude pattern list (spec.md §6's optional `excludes` file),
// one shell glob per line, consulted by the backup scan stage before a
// path reaches the chunker.
package excludes

import (
	"bufio"
	"io"
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/dswd/zvault/zerr"
)

// List is a parsed set of glob patterns.
type List struct {
	patterns []string
}

// Parse reads one pattern per line from r, skipping blank lines and
// lines starting with "#".
func Parse(r io.Reader) (*List, error) {
	var l List
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.patterns = append(l.patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "reading excludes file")
	}
	return &l, nil
}

// Match reports whether path matches any pattern in the list.
func (l *List) Match(path string) bool {
	for _, p := range l.patterns {
		if glob.Glob(p, path) {
			return true
		}
	}
	return false
}

// Len returns the number of loaded patterns.
func (l *List) Len() int {
	return len(l.patterns)
}

// Default returns the built-in exclude list applied when no excludes
// file is present: version-control metadata and common temp/swap
// files, the same baseline most backup tools ship.
func Default() *List {
	return &List{patterns: []string{
		".git/*",
		".svn/*",
		"*.tmp",
		"*.swp",
		"*~",
	}}
}
