package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// IgnoreFileName is read from the root of every scanned tree.
const IgnoreFileName = ".crignore"

type ignorePattern struct {
	glob     string
	fullPath bool // contains '/': matched against the relative path
	dirOnly  bool // trailing '/': matches directories only
}

// IgnoreMatcher decides which scanned entries are left out of an import.
// Patterns without '/' match the basename at any depth, patterns with '/'
// match the whole relative path, and a trailing '/' restricts a pattern to
// directories. An ignored directory prunes everything below it.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw pattern lines; blanks and '#' comments are
// skipped, as are patterns filepath.Match would reject.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	m.add(append([]string{IgnoreFileName}, lines...))
	return m
}

func (m *IgnoreMatcher) add(lines []string) {
	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := ignorePattern{}
		if strings.HasSuffix(raw, "/") {
			p.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		raw = strings.TrimPrefix(raw, "/")
		if _, err := path.Match(raw, ""); err != nil || raw == "" {
			continue
		}
		p.glob = raw
		p.fullPath = strings.Contains(raw, "/")
		m.patterns = append(m.patterns, p)
	}
}

// Match reports whether rel (slash-separated, relative to the root) is
// ignored.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return false
	}
	base := path.Base(rel)
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		target := base
		if p.fullPath {
			target = rel
		}
		if ok, _ := path.Match(p.glob, target); ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile returns the raw lines of an ignore file, or nil when the
// file does not exist.
func ParseIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
