package cr

import (
	"fmt"

	"cr-go/internal/wastebin"
)

// Variant is a row the channel set resolver can pick.
type Variant interface {
	Resolvable
	Disinheritable
}

// Resolution is the outcome of a successful resolve.
type Resolution[T Variant] struct {
	Variant T
	// Depth is the position in the master chain where the variant was
	// found; the master sits at the last position.
	Depth int
	// InWastebin flags a deleted row returned under Include or Only.
	InWastebin bool
}

// Resolved is the resolution of a stored object.
type Resolved = Resolution[*Object]

// ResolveVariant picks the variant of one channel set visible in requested,
// given its master chain [requested, ..., root] (just [root] for channel 0).
//
// The walk goes from the requesting channel towards the root and takes the
// first row owned by the current chain element that the wastebin mode
// admits and that is not excluded at that element. The master comes last.
// Disinheritance always uses the master's settings.
func ResolveVariant[T Variant](channelSetID ObjectID, variants []T, chain []NodeID, requested NodeID, mode wastebin.Mode) (Resolution[T], error) {
	var none Resolution[T]
	if len(variants) == 0 {
		return none, fmt.Errorf("channel set %d: %w", channelSetID, ErrNotFound)
	}
	if len(chain) == 0 {
		return none, fmt.Errorf("%w: empty master chain", ErrInvalidChannel)
	}

	byChannel, err := IndexChannelSet(channelSetID, variants)
	if err != nil {
		return none, err
	}
	master := byChannel[0]

	if IsExcluded(master, requested) {
		return none, &NotVisibleError{ChannelSetID: channelSetID, ChannelID: requested, Reason: ReasonDisinherited}
	}

	last := len(chain) - 1
	for depth, k := range chain[:last] {
		v, ok := byChannel[k]
		if !ok {
			continue
		}
		if IsExcluded(master, k) || !mode.Admits(v.IsDeleted()) {
			continue
		}
		return Resolution[T]{Variant: v, Depth: depth, InWastebin: v.IsDeleted()}, nil
	}

	if !mode.Admits(master.IsDeleted()) {
		return none, &NotVisibleError{ChannelSetID: channelSetID, ChannelID: requested, Reason: ReasonWastebin}
	}
	return Resolution[T]{Variant: master, Depth: last, InWastebin: master.IsDeleted()}, nil
}

// IndexChannelSet maps each owning channel to its variant. More than one
// variant per channel, or a missing master, is a ConsistencyViolationError.
func IndexChannelSet[T Resolvable](channelSetID ObjectID, variants []T) (map[NodeID]T, error) {
	byChannel := make(map[NodeID]T, len(variants))
	for _, v := range variants {
		ch := v.OwnerChannel()
		if _, dup := byChannel[ch]; dup {
			return nil, &ConsistencyViolationError{
				ChannelSetID: channelSetID,
				ChannelID:    ch,
				Detail:       "more than one variant owned by the same channel",
			}
		}
		byChannel[ch] = v
	}
	if _, ok := byChannel[0]; !ok {
		return nil, &ConsistencyViolationError{ChannelSetID: channelSetID, Detail: "channel set has no master"}
	}
	return byChannel, nil
}

// MasterOf returns the master row among variants, or nil.
func MasterOf(variants []*Object) *Object {
	for _, v := range variants {
		if v.IsMaster() {
			return v
		}
	}
	return nil
}

// VariantIn returns the row owned by channel, or nil.
func VariantIn(variants []*Object, channel NodeID) *Object {
	for _, v := range variants {
		if v.ChannelID == channel {
			return v
		}
	}
	return nil
}
