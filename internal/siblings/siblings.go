// Package siblings implements the Sibling Selector: given a
// triggered path, compute the ordered set of sibling files to cache.
package siblings

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/agilira/go-errors"
)

const ErrCodeReaddirFailed = "CACHEFS_SIBLINGS_READDIR_FAILED"

// Selector computes sibling sets by reading the source directory directly;
// listings are always source-authoritative, never cache-backed.
type Selector struct {
	sourceRoot string
	filter     *regexp.Regexp
	count      int
}

// New constructs a Selector. filter matches a candidate basename for
// inclusion; count is preloadSiblings, the number of siblings after self to
// include.
func New(sourceRoot string, filter *regexp.Regexp, count int) *Selector {
	return &Selector{sourceRoot: sourceRoot, filter: filter, count: count}
}

// Siblings returns path plus the next s.count matching siblings in
// ascending lexical order, as virtual paths. If basename(path) is not
// present in the parent listing, it returns an empty slice.
func (s *Selector) Siblings(path string) ([]string, error) {
	dir := filepath.Dir(path)
	sourceDir := filepath.Join(s.sourceRoot, dir)

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeReaddirFailed, "read source directory failed").
			WithContext("dir", sourceDir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if s.filter.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	base := filepath.Base(path)
	idx := sort.SearchStrings(names, base)
	if idx >= len(names) || names[idx] != base {
		return nil, nil
	}

	end := idx + s.count + 1
	if end > len(names) {
		end = len(names)
	}

	out := make([]string, 0, end-idx)
	for _, n := range names[idx:end] {
		out = append(out, filepath.Join(dir, n))
	}
	return out, nil
}
