package cr

import (
	"context"
	"fmt"
	"time"

	"cr-go/internal/wastebin"
)

// DeleteResult summarizes a move to the wastebin.
type DeleteResult struct {
	ChannelSets int // logical objects moved, including folder descendants
	Rows        int // physical rows flagged
}

// Delete moves a master object to the wastebin together with all of its
// localized copies. Deleting a folder also moves everything below it. The
// principal must hold the delete permission in channel and in every
// channel that owns a copy of any affected object.
func (s *CRService) Delete(ctx context.Context, principal Principal, channelSetID ObjectID, channel NodeID) (*DeleteResult, error) {
	variants, err := s.Variants(ctx, channelSetID)
	if err != nil {
		return nil, err
	}
	keys := []LockKey{ChannelSetKey(channelSetID)}
	if master := MasterOf(variants); master != nil && master.Type == TypeFolder {
		keys = append(keys, FolderKey(channelSetID))
	}

	var result *DeleteResult
	err = LockedAll(ctx, s.locker, keys, s.lockTimeout, func(ctx context.Context) error {
		ctx = wastebin.With(ctx, wastebin.Exclude)
		r, err := s.resolve(ctx, channelSetID, channel)
		if err != nil {
			return err
		}
		if !r.Variant.IsMaster() {
			return fmt.Errorf("object %d in channel %d: %w", r.Variant.ID, channel, ErrLocalizedDelete)
		}
		if r.Variant.FolderID == 0 && r.Variant.Type == TypeFolder {
			return fmt.Errorf("folder %d is the root folder of node %d", channelSetID, r.Variant.NodeID)
		}

		live := func(m *Object) bool { return !m.Deleted }
		held := map[LockKey]bool{FolderKey(channelSetID): true}
		return s.lockSubtree(ctx, channelSetID, r.variants, live, held, func(ctx context.Context, targets *subtree) error {
			res, err := s.deleteSubtree(ctx, principal, channelSetID, channel, targets)
			result = res
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CRService) deleteSubtree(ctx context.Context, principal Principal, channelSetID ObjectID, channel NodeID, targets *subtree) (*DeleteResult, error) {
	var ids []ObjectID
	for _, cs := range targets.order {
		vs := targets.variants[cs]
		master := MasterOf(vs)
		if err := s.propagator.Check(ctx, principal, master, vs, ActionDelete, channel); err != nil {
			return nil, fmt.Errorf("deleting %d: %w", cs, err)
		}
		for _, v := range vs {
			if !v.Deleted {
				ids = append(ids, v.ID)
			}
		}
	}

	now := s.clock.Now()
	if err := s.store.InTx(ctx, func(tx Store) error {
		return tx.SetDeleted(ctx, ids, true, now, principal)
	}); err != nil {
		return nil, fmt.Errorf("moving to wastebin: %w", err)
	}

	result := &DeleteResult{ChannelSets: len(targets.order), Rows: len(ids)}
	s.logger.Info("object deleted", "channel_set", channelSetID, "channel", channel,
		"channel_sets", result.ChannelSets, "rows", result.Rows, "principal", principal)
	return result, nil
}

// lockSubtree collects the subtree below rootCS and runs fn once the
// folder key of every collected folder is held. Folders are locked
// parents first; a folder created before its parent got locked shows up
// in the next collection and is locked in turn.
func (s *CRService) lockSubtree(ctx context.Context, rootCS ObjectID, rootVariants []*Object, keep func(master *Object) bool, held map[LockKey]bool, fn func(ctx context.Context, st *subtree) error) error {
	st, err := s.collectSubtree(ctx, rootCS, rootVariants, keep)
	if err != nil {
		return err
	}
	var missing []LockKey
	for _, cs := range st.order {
		if MasterOf(st.variants[cs]).Type != TypeFolder {
			continue
		}
		if key := FolderKey(cs); !held[key] {
			held[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return fn(ctx, st)
	}
	return LockedAll(ctx, s.locker, missing, s.lockTimeout, func(ctx context.Context) error {
		return s.lockSubtree(ctx, rootCS, rootVariants, keep, held, fn)
	})
}

// subtree is a channel set and everything below it, in discovery order.
type subtree struct {
	order    []ObjectID
	variants map[ObjectID][]*Object
}

// collectSubtree walks the descendants of a folder breadth-first. Below the
// root only channel sets whose master satisfies keep are collected, and
// the walk does not descend into the ones that are skipped.
func (s *CRService) collectSubtree(ctx context.Context, rootCS ObjectID, rootVariants []*Object, keep func(master *Object) bool) (*subtree, error) {
	st := &subtree{variants: make(map[ObjectID][]*Object)}
	seen := map[ObjectID]bool{rootCS: true}
	queue := []ObjectID{rootCS}

	for len(queue) > 0 {
		cs := queue[0]
		queue = queue[1:]

		vs := rootVariants
		if cs != rootCS {
			var err error
			if vs, err = s.store.LoadByChannelSet(ctx, cs); err != nil {
				return nil, fmt.Errorf("loading channel set %d: %w", cs, err)
			}
		}
		byChannel, err := IndexChannelSet(cs, vs)
		if err != nil {
			return nil, err
		}
		master := byChannel[0]
		if cs != rootCS && !keep(master) {
			continue
		}
		st.variants[cs] = vs
		st.order = append(st.order, cs)

		if master.Type != TypeFolder {
			continue
		}
		children, err := s.store.ListChildChannelSets(ctx, cs)
		if err != nil {
			return nil, fmt.Errorf("listing children of %d: %w", cs, err)
		}
		for _, child := range children {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return st, nil
}

// Restore brings a logical object back from the wastebin, together with the
// copies and descendants that were deleted along with it. The parent folder
// must be live and the name must still be free.
func (s *CRService) Restore(ctx context.Context, principal Principal, channelSetID ObjectID) (*Object, error) {
	variants, err := s.Variants(ctx, channelSetID)
	if err != nil {
		return nil, err
	}
	byChannel, err := IndexChannelSet(channelSetID, variants)
	if err != nil {
		return nil, err
	}
	master := byChannel[0]

	keys := []LockKey{FolderKey(master.FolderID), NameInFolderKey(master.FolderID, SanitizeName(master.Name))}
	var restored *Object
	err = LockedAll(ctx, s.locker, keys, s.lockTimeout, func(ctx context.Context) error {
		r, err := s.resolve(wastebin.With(ctx, wastebin.Only), channelSetID, 0)
		if err != nil {
			return err
		}
		master := r.Variant

		if master.FolderID != 0 {
			if _, err := s.liveParent(ctx, master.FolderID, 0); err != nil {
				return err
			}
			conflict, err := s.findNameConflict(ctx, r.tree.Root(), master.FolderID, 0, master.Type, master.Name, channelSetID)
			if err != nil {
				return err
			}
			if conflict != nil {
				return fmt.Errorf("%q in folder %d: %w", master.Name, master.FolderID, ErrNameConflict)
			}
		}

		deletedAt := master.DeletedAt
		targets, err := s.collectSubtree(ctx, channelSetID, r.variants, func(m *Object) bool {
			return m.Deleted && m.DeletedAt.Equal(deletedAt)
		})
		if err != nil {
			return err
		}
		var ids []ObjectID
		for _, cs := range targets.order {
			vs := targets.variants[cs]
			if err := s.propagator.Check(ctx, principal, MasterOf(vs), vs, ActionRestore, 0); err != nil {
				return fmt.Errorf("restoring %d: %w", cs, err)
			}
			for _, v := range vs {
				if v.Deleted && v.DeletedAt.Equal(deletedAt) {
					ids = append(ids, v.ID)
				}
			}
		}

		if err := s.store.InTx(ctx, func(tx Store) error {
			return tx.SetDeleted(ctx, ids, false, s.clock.Now(), principal)
		}); err != nil {
			return fmt.Errorf("restoring from wastebin: %w", err)
		}

		restored = master.Clone()
		restored.Deleted = false
		restored.DeletedAt = time.Time{}
		restored.DeletedBy = ""
		s.logger.Info("object restored", "channel_set", channelSetID, "rows", len(ids), "principal", principal)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// ListWastebin returns the deleted objects of a node as seen in channel.
func (s *CRService) ListWastebin(ctx context.Context, nodeID NodeID, channel NodeID) ([]*Resolved, error) {
	ids, err := s.store.ListNodeChannelSets(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing node %d: %w", nodeID, err)
	}

	ctx = wastebin.With(ctx, wastebin.Only)
	var out []*Resolved
	for _, id := range ids {
		r, err := s.resolve(ctx, id, channel)
		if err != nil {
			if isHidden(err) {
				continue
			}
			return nil, err
		}
		out = append(out, &r.Resolved)
	}
	sortResolved(out)
	return out, nil
}

// CheckDeletePermission reports whether principal could delete obj from
// channel without actually deleting it.
func (s *CRService) CheckDeletePermission(ctx context.Context, principal Principal, obj *Object, channel NodeID) error {
	variants, err := s.Variants(ctx, obj.ChannelSetID)
	if err != nil {
		return err
	}
	return s.propagator.Check(ctx, principal, obj, variants, ActionDelete, channel)
}
