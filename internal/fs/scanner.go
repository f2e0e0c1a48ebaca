// Package fs walks local directory trees for bulk import.
package fs

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"

	"cr-go/internal/cr"
)

// Scanner implements cr.TreeScanner over the real filesystem. Symlinks,
// devices, pipes and sockets are skipped; entries are reported in lexical
// walk order, which puts every directory before its contents.
type Scanner struct {
	patterns []string
	logger   cr.Logger
}

var _ cr.TreeScanner = (*Scanner)(nil)

// NewScanner creates a Scanner applying patterns on top of each root's
// .crignore file.
func NewScanner(patterns []string, logger cr.Logger) *Scanner {
	if logger == nil {
		logger = cr.NewNopLogger()
	}
	return &Scanner{patterns: patterns, logger: logger}
}

// Scan lists the entries below root. root itself is not included.
func (s *Scanner) Scan(root string) ([]cr.ImportEntry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}

	local, err := ParseIgnoreFile(filepath.Join(abs, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(append([]string{}, s.patterns...), local...))

	var entries []cr.ImportEntry
	skipped := 0
	err = filepath.WalkDir(abs, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == abs {
			return nil
		}
		relOS, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)

		if matcher.Match(rel, d.IsDir()) {
			skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			entries = append(entries, cr.ImportEntry{RelPath: rel, IsDir: true})
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			entries = append(entries, cr.ImportEntry{RelPath: rel, Size: fi.Size()})
		default:
			s.logger.Debug("skipping special file", "path", rel, "mode", d.Type().String())
			skipped++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", abs, err)
	}

	s.logger.Info("scanned tree", "root", abs, "entries", len(entries), "skipped", skipped)
	return entries, nil
}
