package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Parallel()
	m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log", "build/", "[", "/docs/draft"})

	// the ignore file itself is always the first pattern
	if len(m.patterns) != 4 {
		t.Fatalf("expected 4 patterns, got %d: %+v", len(m.patterns), m.patterns)
	}
	if m.patterns[0].glob != IgnoreFileName {
		t.Errorf("patterns[0] = %q, want %q", m.patterns[0].glob, IgnoreFileName)
	}
	if p := m.patterns[2]; p.glob != "build" || !p.dirOnly || p.fullPath {
		t.Errorf("build/ parsed as %+v", p)
	}
	if p := m.patterns[3]; p.glob != "docs/draft" || !p.fullPath {
		t.Errorf("/docs/draft parsed as %+v", p)
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		rel      string
		isDir    bool
		want     bool
	}{
		{"basename glob at root", []string{"*.log"}, "app.log", false, true},
		{"basename glob in subdirectory", []string{"*.log"}, "sub/app.log", false, true},
		{"different extension", []string{"*.log"}, "app.txt", false, false},
		{"ignore file always skipped", nil, ".crignore", false, true},
		{"path pattern", []string{"build/output"}, "build/output", false, true},
		{"path pattern wrong dir", []string{"build/output"}, "src/output", false, false},
		{"path glob", []string{"build/*.o"}, "build/main.o", false, true},
		{"path glob does not cross dirs", []string{"build/*.o"}, "build/x/main.o", false, false},
		{"dir only matches dir", []string{"tmp/"}, "tmp", true, true},
		{"dir only skips file", []string{"tmp/"}, "tmp", false, false},
		{"character class", []string{"*.[oa]"}, "main.o", false, true},
		{"question mark", []string{"?.txt"}, "ab.txt", false, false},
		{"empty path", []string{"*"}, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewIgnoreMatcher(tt.patterns).Match(tt.rel, tt.isDir)
			if got != tt.want {
				t.Errorf("Match(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		name := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(name, []byte("*.log\n# comment\n\n*.tmp\nbuild/\n"), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		lines, err := ParseIgnoreFile(name)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(lines) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(lines))
		}
		if m := NewIgnoreMatcher(lines); len(m.patterns) != 4 {
			t.Errorf("expected 4 parsed patterns, got %d", len(m.patterns))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		lines, err := ParseIgnoreFile(filepath.Join(t.TempDir(), "nope"))
		if err != nil || lines != nil {
			t.Errorf("ParseIgnoreFile() = %v, %v; want nil, nil", lines, err)
		}
	})
}
