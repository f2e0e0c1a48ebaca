// Package snapshot stores exported copies of the repository database.
//
// Stores hold opaque blobs under flat names; sealing, naming and rotation
// are decided by the caller.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cr-go/internal/cr"
)

// ErrNotFound is returned by Get for an unknown name.
var ErrNotFound = errors.New("snapshot not found")

// NameLayout formats snapshot timestamps; names sort chronologically.
const NameLayout = "20060102T150405Z"

// Name returns the snapshot name for a database exported at t. sealed
// appends the ".age" suffix used for encrypted snapshots.
func Name(t time.Time, sealed bool) string {
	name := t.UTC().Format(NameLayout) + ".db"
	if sealed {
		name += ".age"
	}
	return name
}

// IsSealed reports whether name carries the encrypted suffix.
func IsSealed(name string) bool {
	return strings.HasSuffix(name, ".age")
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".tmp-") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}

func sortInfos(infos []cr.SnapshotInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModifiedAt.Equal(infos[j].ModifiedAt) {
			return infos[i].ModifiedAt.Before(infos[j].ModifiedAt)
		}
		return infos[i].Name < infos[j].Name
	})
}

// Latest returns the newest entry of a List result, or nil when empty.
func Latest(infos []cr.SnapshotInfo) *cr.SnapshotInfo {
	if len(infos) == 0 {
		return nil
	}
	last := infos[len(infos)-1]
	return &last
}
