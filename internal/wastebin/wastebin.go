// Package wastebin carries the visibility mode for soft-deleted objects
// through a call tree.
//
// The mode lives in a context.Context, so every request has its own stack of
// scopes and a nested scope reverts on return without any explicit pop:
//
//	err := wastebin.Run(ctx, wastebin.Only, func(ctx context.Context) error {
//		// resolution below here sees only deleted rows
//		return svc.Restore(ctx, principal, id)
//	})
//
// A context without a scope is in Exclude mode.
package wastebin

import (
	"context"
	"fmt"
	"strings"
)

// Mode selects which rows resolution considers.
type Mode int

const (
	// Exclude treats deleted rows as nonexistent.
	Exclude Mode = iota
	// Include considers deleted and live rows; deleted ones are flagged.
	Include
	// Only considers deleted rows exclusively.
	Only
)

func (m Mode) String() string {
	switch m {
	case Exclude:
		return "exclude"
	case Include:
		return "include"
	case Only:
		return "only"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names returned by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclude":
		return Exclude, nil
	case "include":
		return Include, nil
	case "only":
		return Only, nil
	}
	return Exclude, fmt.Errorf("unknown wastebin mode %q", s)
}

// Admits reports whether a row with the given deleted flag is a candidate.
func (m Mode) Admits(deleted bool) bool {
	switch m {
	case Include:
		return true
	case Only:
		return deleted
	default:
		return !deleted
	}
}

// scope is one entry of the per-request stack. Entries are immutable and
// linked to the scope they shadow.
type scope struct {
	mode   Mode
	parent *scope
}

type scopeKey struct{}

// With returns a context in which mode is active. The caller's ctx keeps its
// own mode, so leaving the scope is just going back to using ctx.
func With(ctx context.Context, mode Mode) context.Context {
	parent, _ := ctx.Value(scopeKey{}).(*scope)
	return context.WithValue(ctx, scopeKey{}, &scope{mode: mode, parent: parent})
}

// FromContext returns the innermost active mode.
func FromContext(ctx context.Context) Mode {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return s.mode
	}
	return Exclude
}

// Depth returns how many scopes are active in ctx.
func Depth(ctx context.Context) int {
	n := 0
	for s, _ := ctx.Value(scopeKey{}).(*scope); s != nil; s = s.parent {
		n++
	}
	return n
}

// Run calls fn inside a scope with mode active.
func Run(ctx context.Context, mode Mode, fn func(ctx context.Context) error) error {
	return fn(With(ctx, mode))
}

// Do is Run for functions that return a value.
func Do[T any](ctx context.Context, mode Mode, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(With(ctx, mode))
}
