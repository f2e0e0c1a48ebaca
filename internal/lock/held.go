// Package lock provides the keyed lockers CRService serializes mutations
// with: an in-process Manager and a Redis-backed locker for several
// processes sharing one repository.
//
// Both are re-entrant through the context: the ctx handed to the locked
// function remembers the key, so nested acquisitions of the same key on
// that ctx run straight through.
package lock

import (
	"context"

	"cr-go/internal/cr"
)

type heldKey struct{}

// held is an immutable list of the keys acquired along one call chain.
type held struct {
	key    cr.LockKey
	owner  any
	parent *held
}

func withHeld(ctx context.Context, owner any, key cr.LockKey) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*held)
	return context.WithValue(ctx, heldKey{}, &held{key: key, owner: owner, parent: parent})
}

// isHeld reports whether ctx already holds key on the given locker.
func isHeld(ctx context.Context, owner any, key cr.LockKey) bool {
	for h, _ := ctx.Value(heldKey{}).(*held); h != nil; h = h.parent {
		if h.key == key && h.owner == owner {
			return true
		}
	}
	return false
}

// HeldKeys lists the keys ctx holds, innermost first.
func HeldKeys(ctx context.Context) []cr.LockKey {
	var out []cr.LockKey
	for h, _ := ctx.Value(heldKey{}).(*held); h != nil; h = h.parent {
		out = append(out, h.key)
	}
	return out
}
