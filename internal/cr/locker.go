package cr

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// LockKey names a logical resource whose concurrent mutation is serialized.
type LockKey string

// NameInFolderKey guards "check name is free, then create" in one folder.
func NameInFolderKey(folderID ObjectID, sanitizedName string) LockKey {
	return LockKey(fmt.Sprintf("name:%d:%s", folderID, strings.ToLower(sanitizedName)))
}

// FolderKey guards structural changes below one folder.
func FolderKey(folderID ObjectID) LockKey {
	return LockKey(fmt.Sprintf("folder:%d", folderID))
}

// ContentSetKey guards translation of one content set.
func ContentSetKey(contentSetID int64) LockKey {
	return LockKey(fmt.Sprintf("contentset:%d", contentSetID))
}

// ChannelSetKey guards delete and disinheritance changes of one logical object.
func ChannelSetKey(channelSetID ObjectID) LockKey {
	return LockKey(fmt.Sprintf("channelset:%d", channelSetID))
}

// LocalizationKey guards creation and removal of the copy of a logical
// object in one channel.
func LocalizationKey(channelSetID ObjectID, channelID NodeID) LockKey {
	return LockKey(fmt.Sprintf("localize:%d:%d", channelSetID, channelID))
}

// NodeNameKey guards node and channel name uniqueness.
func NodeNameKey(name string) LockKey {
	return LockKey("node-name:" + strings.ToLower(strings.TrimSpace(name)))
}

// Locker serializes operations presenting the same key.
//
// ExecuteLocked blocks until key is free or timeout elapses, in which case it
// returns a *LockTimeoutError without running fn. The lock is held for the
// whole of fn and released on every exit path. A ctx handed to fn by
// ExecuteLocked already holds key, so re-acquiring the same key with it runs
// immediately instead of deadlocking. A timeout <= 0 selects the locker's
// default.
type Locker interface {
	ExecuteLocked(ctx context.Context, key LockKey, timeout time.Duration, fn func(ctx context.Context) error) error
}

// Locked runs fn under key and passes its result through.
func Locked[T any](ctx context.Context, l Locker, key LockKey, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.ExecuteLocked(ctx, key, timeout, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// keyRank orders key kinds from coarse to fine. Every multi-key
// acquisition takes kinds in this order, so two operations never wait on
// each other's keys crosswise.
var keyRank = map[string]int{
	"node-name":  0,
	"channelset": 1,
	"contentset": 2,
	"folder":     3,
	"localize":   4,
	"name":       5,
}

func (k LockKey) rank() int {
	kind, _, _ := strings.Cut(string(k), ":")
	if r, ok := keyRank[kind]; ok {
		return r
	}
	return len(keyRank)
}

// LockedAll acquires keys each nested inside the previous one and runs fn
// with all of them held. Keys are taken by kind (channelset, contentset,
// folder, localize, name); keys of the same kind keep the caller's order,
// which for folders must be parents first. Duplicates are taken once.
func LockedAll(ctx context.Context, l Locker, keys []LockKey, timeout time.Duration, fn func(ctx context.Context) error) error {
	ordered := make([]LockKey, 0, len(keys))
	seen := make(map[LockKey]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			ordered = append(ordered, k)
		}
	}
	slices.SortStableFunc(ordered, func(a, b LockKey) int { return cmp.Compare(a.rank(), b.rank()) })
	return lockNested(ctx, l, ordered, timeout, fn)
}

func lockNested(ctx context.Context, l Locker, keys []LockKey, timeout time.Duration, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return l.ExecuteLocked(ctx, keys[0], timeout, func(ctx context.Context) error {
		return lockNested(ctx, l, keys[1:], timeout, fn)
	})
}
