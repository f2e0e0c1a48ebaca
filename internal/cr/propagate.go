package cr

import (
	"context"
	"fmt"
	"slices"
)

// Propagator authorizes destructive operations on a master object in every
// channel that holds a localized copy of it, not just the current one.
type Propagator struct {
	perms PermissionEvaluator
}

// NewPropagator creates a Propagator backed by perms.
func NewPropagator(perms PermissionEvaluator) *Propagator {
	return &Propagator{perms: perms}
}

// Check verifies principal may perform action on obj. For a master the
// predicate is evaluated in contextChannel first and then in every channel
// of the channel set (ascending); the first failing channel is reported.
// A localized row is only checked in its own channel.
func (p *Propagator) Check(ctx context.Context, principal Principal, obj *Object, variants []*Object, action Action, contextChannel NodeID) error {
	if !obj.IsMaster() {
		return p.checkOne(ctx, principal, obj, action, obj.ChannelID)
	}

	channels := []NodeID{contextChannel}
	for _, ch := range NewChannelSet(variants, func(v *Object) ObjectID { return v.ID }).Channels() {
		if !slices.Contains(channels, ch) {
			channels = append(channels, ch)
		}
	}

	for _, ch := range channels {
		if err := p.checkOne(ctx, principal, obj, action, ch); err != nil {
			return err
		}
	}
	return nil
}

// Allowed checks a single channel. Used by operations that only ever
// affect the channel they run in.
func (p *Propagator) Allowed(ctx context.Context, principal Principal, obj *Object, action Action, channel NodeID) error {
	return p.checkOne(ctx, principal, obj, action, channel)
}

func (p *Propagator) checkOne(ctx context.Context, principal Principal, obj *Object, action Action, channel NodeID) error {
	ok, err := p.perms.HasPermission(ctx, principal, obj, action, channel)
	if err != nil {
		return fmt.Errorf("evaluating %s permission in channel %d: %w", action, channel, err)
	}
	if !ok {
		return &InsufficientPrivilegesError{Principal: principal, Action: action, ChannelID: channel}
	}
	return nil
}
