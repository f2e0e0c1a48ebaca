package cr

import (
	"fmt"
	"slices"
)

// IsExcluded decides whether channel must not see the object carrying d.
// A channel is excluded if listed explicitly, or if the object is opt-in
// (Default) and the channel is not on the allow-list. Channel 0 and root
// nodes are never excluded.
func IsExcluded(d Disinheritable, channel NodeID) bool {
	if channel == 0 {
		return false
	}
	s := d.DisinheritSettings()
	if slices.Contains(s.Excluded, channel) {
		return true
	}
	return s.Default && !slices.Contains(s.Included, channel)
}

// NormalizeDisinheritance validates the channel ids of d against the tree
// and returns a sorted, de-duplicated copy. With recursive set, every
// excluded channel drags its descendants along unless they are explicitly
// included.
func NormalizeDisinheritance(t *Tree, d Disinheritance, recursive bool) (Disinheritance, error) {
	for _, ids := range [][]NodeID{d.Excluded, d.Included} {
		for _, id := range ids {
			if id == t.Root().ID || !t.Contains(id) {
				return Disinheritance{}, fmt.Errorf("%w: %d is not a channel of node %d", ErrInvalidChannel, id, t.Root().ID)
			}
		}
	}

	excluded := slices.Clone(d.Excluded)
	if recursive {
		for _, id := range d.Excluded {
			for _, sub := range t.Descendants(id) {
				if !slices.Contains(d.Included, sub) {
					excluded = append(excluded, sub)
				}
			}
		}
	}

	return Disinheritance{
		Default:  d.Default,
		Excluded: sortedUnique(excluded),
		Included: sortedUnique(d.Included),
	}, nil
}

// OrphanedOverrides returns the channels owning a localized variant that
// d now excludes. Such rows are kept; they just stop being visible.
func OrphanedOverrides[T Resolvable](variants []T, d Disinheritance) []NodeID {
	var out []NodeID
	for _, v := range variants {
		ch := v.OwnerChannel()
		if ch != 0 && IsExcluded(d, ch) {
			out = append(out, ch)
		}
	}
	return sortedUnique(out)
}

// VisibleChannels lists the channels of t that are not excluded by d.
func VisibleChannels(t *Tree, d Disinheritable) []NodeID {
	var out []NodeID
	for _, id := range t.Channels() {
		if !IsExcluded(d, id) {
			out = append(out, id)
		}
	}
	return out
}

// DisinheritSettings lets a bare Disinheritance be passed where a
// Disinheritable is expected.
func (d Disinheritance) DisinheritSettings() Disinheritance { return d }

func sortedUnique(ids []NodeID) []NodeID {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
