package cr

import (
	"strings"
	"unicode"
)

// SanitizeName turns a display name into the filename used for uniqueness
// checks and lock keys: whitespace becomes '_', anything outside
// [A-Za-z0-9._-] is dropped and runs of '_' collapse.
func SanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsSpace(r) || r == '_':
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-'):
			b.WriteRune(r)
		default:
			continue
		}
		lastUnderscore = false
	}
	return b.String()
}

// uniquenessKey is the form two sibling names are compared in. Folder names
// compare case-insensitively as typed unless the node publishes folders as
// path segments, in which case they follow the filename rules.
func uniquenessKey(t ObjectType, name string, pubDirSegment bool) string {
	if t == TypeFolder && !pubDirSegment {
		return strings.ToLower(strings.TrimSpace(name))
	}
	return strings.ToLower(SanitizeName(name))
}

// sameNamespace reports whether objects of types a and b compete for names.
// Folders only collide with folders; files, images and pages share one
// filename space.
func sameNamespace(a, b ObjectType) bool {
	return (a == TypeFolder) == (b == TypeFolder)
}
